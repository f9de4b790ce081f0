package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"contract-deployer/internal/contract"
	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/observability/metrics"
	"contract-deployer/internal/signer"
	"contract-deployer/internal/verify"
	"contract-deployer/pkg/logger"
)

const tracerName = "contract-deployer/internal/deployment"

// TaskHandle 是部署脚本可见的任务能力。
type TaskHandle interface {
	ID() string
	Network() string
	// Input 返回任务在当前网络上的输入记录。
	Input(ctx context.Context) (Input, error)
	// DeployAndVerify 在 force 为真或尚无记录时部署 name 并记录结果，
	// 否则复用已记录的地址；随后按模式执行校验。
	DeployAndVerify(ctx context.Context, name string, args []any, from *signer.Signer, force bool) (*contract.Instance, error)
	Logger() *slog.Logger
}

// Task 是 TaskHandle 的标准实现，绑定一个任务 ID 与一个网络。
type Task struct {
	id       string
	mode     Mode
	tasksDir string
	deployer *contract.Deployer
	outputs  OutputStore
	verifier verify.Verifier
	locker   Locker
	logger   *slog.Logger
	tracer   trace.Tracer
}

// TaskOption 用于定制 Task。
type TaskOption func(*Task)

// WithMode 指定运行模式。
func WithMode(mode Mode) TaskOption {
	return func(t *Task) {
		if mode != "" {
			t.mode = mode
		}
	}
}

// WithTasksDir 指定任务目录根路径。
func WithTasksDir(dir string) TaskOption {
	return func(t *Task) { t.tasksDir = dir }
}

// WithOutputStore 指定部署记录存储。
func WithOutputStore(store OutputStore) TaskOption {
	return func(t *Task) {
		if store != nil {
			t.outputs = store
		}
	}
}

// WithVerifier 指定校验器。
func WithVerifier(v verify.Verifier) TaskOption {
	return func(t *Task) {
		if v != nil {
			t.verifier = v
		}
	}
}

// WithLocker 指定部署锁。
func WithLocker(l Locker) TaskOption {
	return func(t *Task) {
		if l != nil {
			t.locker = l
		}
	}
}

// WithTaskLogger 指定任务日志记录器。
func WithTaskLogger(l *slog.Logger) TaskOption {
	return func(t *Task) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTask 创建一个绑定到 deployer 所在网络的任务。
func NewTask(id string, deployer *contract.Deployer, opts ...TaskOption) *Task {
	t := &Task{
		id:       id,
		mode:     ModeLive,
		deployer: deployer,
		outputs:  NewMemoryOutputStore(),
		verifier: verify.Noop{},
		locker:   NewMemoryLocker(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	if t.logger == nil {
		t.logger = logger.Named("task")
	}
	t.logger = t.logger.With(slog.String("task", id), slog.String("network", t.Network()))
	return t
}

// ID 返回任务 ID。
func (t *Task) ID() string { return t.id }

// Network 返回任务所在网络。
func (t *Task) Network() string { return t.deployer.Network() }

// Mode 返回运行模式。
func (t *Task) Mode() Mode { return t.mode }

// Logger 返回任务日志记录器。
func (t *Task) Logger() *slog.Logger { return t.logger }

// Dir 返回任务目录。
func (t *Task) Dir() string { return filepath.Join(t.tasksDir, t.id) }

// Input 读取并解析 input.yaml 中当前网络的输入段。
func (t *Task) Input(ctx context.Context) (Input, error) {
	file, err := LoadInputFile(t.Dir())
	if err != nil {
		return nil, xerrors.Annotate(err, "task", t.id)
	}
	input, err := file.Resolve(ctx, t.Network(), t.outputs)
	if err != nil {
		return nil, xerrors.Annotate(err, "task", t.id)
	}
	return input, nil
}

// Output 返回当前网络上已记录的合约名到地址。
func (t *Task) Output(ctx context.Context) (map[string]string, error) {
	records, err := t.outputs.List(ctx, t.id, t.Network())
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(records))
	for _, r := range records {
		out[r.Contract] = r.Address.Hex()
	}
	return out, nil
}

// DeployAndVerify 实现 TaskHandle。
func (t *Task) DeployAndVerify(ctx context.Context, name string, args []any, from *signer.Signer, force bool) (*contract.Instance, error) {
	ctx, span := t.tracer.Start(ctx, "deployment.DeployAndVerify", trace.WithAttributes(
		attribute.String("task", t.id),
		attribute.String("network", t.Network()),
		attribute.String("contract", name),
		attribute.String("mode", string(t.mode)),
		attribute.Bool("force", force),
	))
	defer span.End()

	instance, err := t.deployAndVerify(ctx, name, args, from, force)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(xerrors.CodeOf(err)))
		return nil, err
	}
	return instance, nil
}

func (t *Task) deployAndVerify(ctx context.Context, name string, args []any, from *signer.Signer, force bool) (*contract.Instance, error) {
	unlock, err := t.locker.Lock(ctx, LockKey(t.id, t.Network(), name))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConflict, err, fmt.Sprintf("获取合约 %s 的部署锁失败", name))
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			t.logger.WarnContext(ctx, "释放部署锁失败", slog.String("contract", name), slog.Any("error", err))
		}
	}()

	record, found, err := t.outputs.Lookup(ctx, t.id, t.Network(), name)
	if err != nil {
		return nil, err
	}

	var instance *contract.Instance
	if force || !found {
		if !t.mode.CanDeploy() {
			return nil, xerrors.New(xerrors.CodeReadOnly,
				fmt.Sprintf("%s 模式下不能部署合约 %s", t.mode, name),
				xerrors.WithMetadata("contract", name),
			)
		}
		instance, err = t.deploy(ctx, name, args, from)
		if err != nil {
			metrics.ObserveDeployment(t.id, t.Network(), name, "failed", 0)
			return nil, err
		}
	} else {
		t.logger.InfoContext(ctx, fmt.Sprintf("%s already deployed at %s", name, record.Address.Hex()))
		metrics.ObserveDeployment(t.id, t.Network(), name, "skipped", 0)
		instance, err = t.deployer.At(name, record.Address)
		if err != nil {
			return nil, err
		}
	}

	if t.mode.Verifies() {
		err := t.verifier.Verify(ctx, name, instance.Address())
		metrics.ObserveVerification(t.Network(), name, err)
		if err != nil {
			return nil, err
		}
		logger.Audit().InfoContext(ctx, "合约校验通过",
			slog.String("task", t.id),
			slog.String("network", t.Network()),
			slog.String("contract", name),
			slog.String("address", instance.Address().Hex()),
		)
	}
	return instance, nil
}

func (t *Task) deploy(ctx context.Context, name string, args []any, from *signer.Signer) (*contract.Instance, error) {
	started := time.Now()
	instance, err := t.deployer.Deploy(ctx, name, contract.Options{Args: args, From: from})
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(started)

	record := Record{
		Task:        t.id,
		Network:     t.Network(),
		Contract:    name,
		Address:     instance.Address(),
		BlockNumber: instance.BlockNumber(),
		Deployer:    instance.Deployer().Address().Hex(),
		DeployedAt:  time.Now().UTC(),
	}
	if tx := instance.Transaction(); tx != nil {
		record.TxHash = tx.Hash().Hex()
	}
	if err := t.outputs.Save(ctx, record); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("合约 %s 已部署在 %s，但保存部署记录失败", name, record.Address.Hex()),
			xerrors.WithMetadata("address", record.Address.Hex()),
		)
	}

	metrics.ObserveDeployment(t.id, t.Network(), name, "deployed", elapsed)
	t.logger.InfoContext(ctx, fmt.Sprintf("%s deployed at %s", name, record.Address.Hex()))
	logger.Audit().InfoContext(ctx, "合约部署完成",
		slog.String("task", t.id),
		slog.String("network", t.Network()),
		slog.String("contract", name),
		slog.String("address", record.Address.Hex()),
		slog.String("tx", record.TxHash),
		slog.String("deployer", record.Deployer),
		slog.Duration("elapsed", elapsed),
	)
	return instance, nil
}

var _ TaskHandle = (*Task)(nil)
