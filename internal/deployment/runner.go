package deployment

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"contract-deployer/internal/artifact"
	"contract-deployer/internal/contract"
	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/signer"
	"contract-deployer/internal/verify"
	"contract-deployer/internal/web3"
	"contract-deployer/pkg/logger"
)

// NetworkResolver 按网络名返回客户端，空名表示默认网络。
type NetworkResolver interface {
	Resolve(ctx context.Context, name string) (web3.Client, error)
}

// Request 描述一次任务执行请求。
type Request struct {
	TaskID  string
	Network string
	Force   bool
	// From 为发送账户地址，为空时使用默认签名账户。
	From string
}

// Result 是任务执行后的输出。
type Result struct {
	TaskID   string            `json:"task_id"`
	Network  string            `json:"network"`
	Outputs  map[string]string `json:"outputs"`
	Duration time.Duration     `json:"duration"`
}

// RunnerConfig 汇总 Runner 的依赖。
type RunnerConfig struct {
	Registry  *Registry
	Networks  NetworkResolver
	Signers   signer.Provider
	Outputs   OutputStore
	Locker    Locker
	Mode      Mode
	TasksDir  string
	Artifacts artifact.Source
	// VerifyMode 为 none 或 bytecode。
	VerifyMode string
	Logger     *slog.Logger
}

// Runner 为请求构建任务并执行对应的部署脚本。
type Runner struct {
	cfg    RunnerConfig
	logger *slog.Logger

	mu        sync.Mutex
	artifacts map[string]artifact.Source
}

// NewRunner 创建任务执行器。
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Registry == nil || cfg.Networks == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务执行器缺少注册表或网络配置")
	}
	if cfg.Outputs == nil {
		cfg.Outputs = NewMemoryOutputStore()
	}
	if cfg.Locker == nil {
		cfg.Locker = NewMemoryLocker()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeLive
	}
	if cfg.Signers == nil {
		cfg.Signers = signer.NewStaticProvider()
	}
	l := cfg.Logger
	if l == nil {
		l = logger.Named("runner")
	}
	return &Runner{cfg: cfg, logger: l, artifacts: make(map[string]artifact.Source)}, nil
}

// Registry 返回任务注册表。
func (r *Runner) Registry() *Registry { return r.cfg.Registry }

// Outputs 返回部署记录存储。
func (r *Runner) Outputs() OutputStore { return r.cfg.Outputs }

// Run 执行 req 指定的任务并返回其在该网络上的输出。
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	def, err := r.cfg.Registry.Lookup(strings.TrimSpace(req.TaskID))
	if err != nil {
		return Result{}, err
	}
	client, err := r.cfg.Networks.Resolve(ctx, req.Network)
	if err != nil {
		return Result{}, err
	}

	var from *signer.Signer
	if strings.TrimSpace(req.From) != "" {
		address, err := signer.ToAddress(req.From)
		if err != nil {
			return Result{}, err
		}
		if from, err = signer.Lookup(ctx, r.cfg.Signers, address); err != nil {
			return Result{}, err
		}
	}

	task, err := r.Task(def.ID, client)
	if err != nil {
		return Result{}, err
	}

	started := time.Now()
	task.Logger().InfoContext(ctx, "开始执行部署任务", slog.String("mode", string(task.Mode())), slog.Bool("force", req.Force))
	if err := def.Run(ctx, task, RunOptions{Force: req.Force, From: from}); err != nil {
		task.Logger().ErrorContext(ctx, "部署任务执行失败", slog.String("code", string(xerrors.CodeOf(err))), slog.Any("error", err))
		return Result{}, err
	}

	outputs, err := task.Output(ctx)
	if err != nil {
		return Result{}, err
	}
	result := Result{TaskID: def.ID, Network: client.Name(), Outputs: outputs, Duration: time.Since(started)}
	task.Logger().InfoContext(ctx, "部署任务执行完成", slog.Int("contracts", len(outputs)), slog.Duration("elapsed", result.Duration))
	return result, nil
}

// Task 构建 id 在 client 所在网络上的任务实例。
func (r *Runner) Task(id string, client web3.Client) (*Task, error) {
	artifacts := r.artifactsFor(id)
	verifier, err := verify.Mode(r.cfg.VerifyMode, client, artifacts)
	if err != nil {
		return nil, err
	}
	deployer := contract.NewDeployer(client, artifacts, r.cfg.Signers)
	return NewTask(id, deployer,
		WithMode(r.cfg.Mode),
		WithTasksDir(r.cfg.TasksDir),
		WithOutputStore(r.cfg.Outputs),
		WithVerifier(verifier),
		WithLocker(r.cfg.Locker),
		WithTaskLogger(r.logger),
	), nil
}

// artifactsFor 优先使用任务目录下的 artifact/，再回退到全局产物源。
func (r *Runner) artifactsFor(id string) artifact.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	if src, ok := r.artifacts[id]; ok {
		return src
	}
	var layers artifact.Layered
	if r.cfg.TasksDir != "" {
		layers = append(layers, artifact.NewDirectory(filepath.Join(r.cfg.TasksDir, id, "artifact")))
	}
	if r.cfg.Artifacts != nil {
		layers = append(layers, r.cfg.Artifacts)
	}
	r.artifacts[id] = layers
	return layers
}
