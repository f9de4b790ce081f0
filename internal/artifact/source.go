package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	xerrors "contract-deployer/internal/errors"
)

// Source 按合约名提供编译产物。
type Source interface {
	Artifact(name string) (*Artifact, error)
}

// Directory 从目录中读取 <name>.json 文件，并缓存解析结果。
type Directory struct {
	root string

	mu    sync.RWMutex
	cache map[string]*Artifact
}

// NewDirectory 创建目录型产物源。
func NewDirectory(root string) *Directory {
	return &Directory{root: root, cache: make(map[string]*Artifact)}
}

// Root 返回产物目录。
func (d *Directory) Root() string {
	return d.root
}

// Artifact 实现 Source。
func (d *Directory) Artifact(name string) (*Artifact, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "合约名不能为空")
	}
	if strings.ContainsAny(name, `/\`) {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "非法的合约名 %q", name)
	}

	d.mu.RLock()
	cached, ok := d.cache[name]
	d.mu.RUnlock()
	if ok {
		return cached, nil
	}

	path := filepath.Join(d.root, name+".json")
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, xerrors.New(xerrors.CodeArtifactNotFound, fmt.Sprintf("未找到合约 %s 的编译产物", name), xerrors.WithMetadata("path", path))
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取编译产物失败")
	}
	parsed, err := Parse(name, content)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cache[name] = parsed
	d.mu.Unlock()
	return parsed, nil
}

// Names 列出目录中的全部产物名。
func (d *Directory) Names() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取编译产物目录失败")
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// Static 是内存中的产物源，主要用于测试和嵌入式场景。
type Static map[string]*Artifact

// Artifact 实现 Source。
func (s Static) Artifact(name string) (*Artifact, error) {
	if a, ok := s[name]; ok && a != nil {
		return a, nil
	}
	return nil, xerrors.Newf(xerrors.CodeArtifactNotFound, "未找到合约 %s 的编译产物", name)
}

// Layered 依次查询多个产物源，前者未找到时才回退到后者。
type Layered []Source

// Artifact 实现 Source。
func (l Layered) Artifact(name string) (*Artifact, error) {
	var lastErr error
	for _, src := range l {
		if src == nil {
			continue
		}
		a, err := src.Artifact(name)
		if err == nil {
			return a, nil
		}
		if !xerrors.HasCode(err, xerrors.CodeArtifactNotFound) {
			return nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = xerrors.Newf(xerrors.CodeArtifactNotFound, "未找到合约 %s 的编译产物", name)
	}
	return nil, lastErr
}
