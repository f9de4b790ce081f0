package job

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"contract-deployer/internal/deployment"
	xerrors "contract-deployer/internal/errors"
	"contract-deployer/pkg/logger"
)

// SubmitRequest 描述一次部署作业请求。
type SubmitRequest struct {
	// ID 可选，相同 ID 的重复提交返回已有作业。
	ID      string `json:"id,omitempty"`
	TaskID  string `json:"task_id"`
	Network string `json:"network,omitempty"`
	Force   bool   `json:"force,omitempty"`
	From    string `json:"from,omitempty"`
}

// Catalog 校验任务 ID 是否已注册，*deployment.Registry 满足该接口。
type Catalog interface {
	Lookup(id string) (deployment.Definition, error)
}

// Service 负责作业的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
	catalog    Catalog
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithCatalog 在提交时校验任务是否存在。
func WithCatalog(catalog Catalog) ServiceOption {
	return func(s *Service) {
		s.catalog = catalog
	}
}

// NewService 构造作业服务。
func NewService(store Store, producer Producer, maxRetries int, opts ...ServiceOption) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	s := &Service{store: store, producer: producer, maxRetries: maxRetries}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit 创建一个新的作业并推送到队列。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "作业服务未初始化")
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}

	jobID := strings.TrimSpace(req.ID)
	if jobID != "" {
		existing, err := s.store.Get(ctx, jobID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.NewString()
	}

	job := &Job{
		ID:         jobID,
		TaskID:     strings.TrimSpace(req.TaskID),
		Network:    strings.TrimSpace(req.Network),
		Force:      req.Force,
		From:       strings.TrimSpace(req.From),
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			if existing, getErr := s.store.Get(ctx, jobID); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, NewMessage(jobID)); err != nil {
		logger.L().ErrorContext(ctx, "作业入队失败", slog.Any("error", err), slog.String("job_id", jobID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布作业到队列失败")
		_ = s.store.MarkFailed(ctx, jobID, CodeJobPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().InfoContext(ctx, "部署作业入队成功",
		slog.String("job_id", jobID),
		slog.String("task", job.TaskID),
		slog.String("network", job.Network),
		slog.Bool("force", job.Force),
		slog.Int("max_retries", job.MaxRetries),
	)
	return job, nil
}

func (s *Service) validate(req SubmitRequest) error {
	taskID := strings.TrimSpace(req.TaskID)
	if taskID == "" {
		return xerrors.New(CodeJobValidation, "task_id 不能为空")
	}
	if from := strings.TrimSpace(req.From); from != "" && !common.IsHexAddress(from) {
		return xerrors.New(CodeJobValidation, "from 不是有效的地址", xerrors.WithMetadata("from", from))
	}
	if s.catalog != nil {
		if _, err := s.catalog.Lookup(taskID); err != nil {
			return xerrors.Wrap(CodeJobValidation, err, "部署任务未注册", xerrors.WithMetadata("task", taskID))
		}
	}
	return nil
}

// Get 返回指定作业的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "作业存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的作业列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "作业存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的作业统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "作业存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// RecoverStale 处理停留在 running 超过 olderThan 的作业，通常是上一个进程在执行中退出。
// 作业记为失败；仍有重试次数的重新入队。已落盘的部署记录会在重跑时被复用。
func (s *Service) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if s.store == nil || s.producer == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "作业服务未初始化")
	}
	cutoff := time.Now().Add(-olderThan)
	recovered := 0
	for {
		// 每处理一批作业都会离开 running 状态，所以总是取第一页。
		stale, err := s.store.List(ctx, BuildListOptions(
			WithStatuses(StatusRunning),
			WithUpdatedBetween(time.Time{}, cutoff),
			WithSortOrder(OldestFirst),
			WithLimit(maxListLimit),
		))
		if err != nil {
			return recovered, err
		}
		if len(stale) == 0 {
			return recovered, nil
		}
		for _, job := range stale {
			terminal := job.Attempts >= job.MaxRetries
			if err := s.store.MarkFailed(ctx, job.ID, CodeJobAbandoned, "执行中的进程已退出", terminal); err != nil {
				return recovered, err
			}
			if !terminal {
				msg := NewMessage(job.ID)
				msg.Attempt = job.Attempts
				if err := s.producer.Publish(ctx, msg); err != nil {
					return recovered, xerrors.Wrap(CodeJobPublish, err, "重新发布中断作业失败")
				}
			}
			recovered++
			logger.Audit().WarnContext(ctx, "恢复中断的部署作业",
				slog.String("job_id", job.ID),
				slog.String("task", job.TaskID),
				slog.Int("attempts", job.Attempts),
				slog.Bool("terminal", terminal),
			)
		}
	}
}

// WaitUntilCompleted 轮询直到作业成功或不再重试。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
