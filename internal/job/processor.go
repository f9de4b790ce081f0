package job

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/observability/alerting"
	"contract-deployer/internal/observability/metrics"
	"contract-deployer/pkg/logger"
)

// Processor 负责从队列消费作业并交给 Executor 执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	backoff     Backoff
}

// Backoff 描述重试的指数退避：第 n 次重试等待 Base*2^(n-1)，不超过 Max。
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff 是未配置时使用的退避参数。
var DefaultBackoff = Backoff{Base: 2 * time.Second, Max: time.Minute}

// Delay 返回第 attempt 次重试前的等待时长，attempt 从 1 开始。
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 || attempt <= 0 {
		return 0
	}
	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithRetryBackoff 覆盖重试退避参数；base 为 0 时立即重投。
func WithRetryBackoff(base, max time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.backoff = Backoff{Base: base, Max: max}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("job"),
		backoff:     DefaultBackoff,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动作业处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置作业消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, msg Message) error {
	jobID := msg.JobID
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobCompleted) || stdErrors.Is(err, ErrJobExhausted) {
			p.logger.DebugContext(ctx, "跳过作业", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		if stdErrors.Is(err, ErrJobConflict) {
			p.logger.WarnContext(ctx, "作业正在执行，忽略重复消息", slog.String("job_id", jobID))
			return nil
		}
		p.logger.ErrorContext(ctx, "领取作业失败", slog.Any("error", err), slog.String("job_id", jobID))
		p.emitAlert(ctx, &Job{ID: jobID}, CodeJobProcessing, err, "claim")
		return err
	}
	metrics.ObserveJob(job.TaskID, string(StatusRunning))
	if !msg.EnqueuedAt.IsZero() {
		metrics.ObserveQueueWait(time.Since(msg.EnqueuedAt))
	}

	// 部署过程中的日志都带上 job_id，便于与作业记录关联。
	result, execErr := p.executor.Execute(logger.WithAttrs(ctx, slog.String("job_id", job.ID)), job)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, job, execErr)
	}
	if result == nil {
		result = &Result{}
	}

	if err := p.store.MarkSucceeded(ctx, job.ID, *result); err != nil {
		p.logger.ErrorContext(ctx, "标记作业成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID))
		if storeErr := p.store.MarkFailed(ctx, job.ID, CodeJobProcessing, err.Error(), false); storeErr != nil {
			p.logger.ErrorContext(ctx, "回写失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
			return storeErr
		}
		// 部署记录已落盘，重投后任务会复用已部署的地址。
		if pubErr := p.producer.Publish(ctx, p.retryMessage(job)); pubErr != nil {
			return xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("作业 %s 在标记成功失败后重投失败", job.ID))
		}
		return nil
	}
	metrics.ObserveJob(job.TaskID, string(StatusSucceeded))
	logger.Audit().InfoContext(ctx, "部署作业执行成功",
		slog.String("job_id", job.ID),
		slog.String("task", job.TaskID),
		slog.String("network", job.Network),
		slog.Int("contracts", len(result.Contracts)),
		slog.Int("attempts", job.Attempts),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, job *Job, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := job.Attempts >= job.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, job.ID, code, execErr.Error(), terminal); storeErr != nil {
		p.logger.ErrorContext(ctx, "标记作业失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
		return storeErr
	}
	metrics.ObserveJob(job.TaskID, string(StatusFailed))
	logger.Audit().WarnContext(ctx, "部署作业执行失败",
		slog.String("job_id", job.ID),
		slog.String("task", job.TaskID),
		slog.String("network", job.Network),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)

	stage := "retry"
	if !retryable {
		stage = "non_retryable"
	} else if terminal {
		stage = "terminal"
	}
	if xerrors.ShouldAlert(execErr) || terminal {
		p.emitAlert(ctx, job, code, execErr, stage)
	}

	if retryable && !terminal {
		retry := p.retryMessage(job)
		if pubErr := p.producer.Publish(ctx, retry); pubErr != nil {
			return xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("作业 %s 重投失败", job.ID))
		}
		p.logger.DebugContext(ctx, "作业已重新排队",
			slog.String("job_id", job.ID),
			slog.Int("attempts", job.Attempts),
			slog.Time("not_before", retry.NotBefore),
		)
	}
	return nil
}

func (p *Processor) retryMessage(job *Job) Message {
	msg := NewMessage(job.ID)
	msg.Attempt = job.Attempts
	if delay := p.backoff.Delay(job.Attempts); delay > 0 {
		msg.NotBefore = msg.EnqueuedAt.Add(delay)
	}
	return msg
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || job == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		JobID:      job.ID,
		TaskID:     job.TaskID,
		Network:    job.Network,
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}
