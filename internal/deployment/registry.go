package deployment

import (
	"context"
	"sort"
	"strings"
	"sync"

	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/signer"
)

// RunOptions 是任务执行参数。
type RunOptions struct {
	Force bool
	From  *signer.Signer
}

// RunFunc 是一个部署脚本。
type RunFunc func(ctx context.Context, task TaskHandle, opts RunOptions) error

// Definition 描述一个可执行的部署任务。
type Definition struct {
	ID          string
	Description string
	Run         RunFunc
}

// Registry 保存所有已注册的任务定义。
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry 创建任务注册表。
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition)}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 注册任务，ID 重复时返回 CONFLICT。
func (r *Registry) Register(def Definition) error {
	id := strings.TrimSpace(def.ID)
	if id == "" || def.Run == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务定义缺少 ID 或执行函数")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[id]; exists {
		return xerrors.Newf(xerrors.CodeConflict, "任务 %s 已注册", id)
	}
	def.ID = id
	r.defs[id] = def
	return nil
}

// Lookup 按 ID 查找任务。
func (r *Registry) Lookup(id string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	if !ok {
		return Definition{}, xerrors.Newf(xerrors.CodeNotFound, "任务 %s 未注册", id)
	}
	return def, nil
}

// List 按 ID 排序返回全部任务。
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
