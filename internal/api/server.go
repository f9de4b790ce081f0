package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"contract-deployer/internal/auth"
	"contract-deployer/internal/deployment"
	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/job"
	"contract-deployer/internal/observability/metrics"
	"contract-deployer/pkg/logger"
)

// Server 负责暴露 REST 接口，供外部提交部署作业。
type Server struct {
	addr     string
	jobs     *job.Service
	outputs  deployment.OutputStore
	registry *deployment.Registry
	auth     *auth.Service
	logger   *slog.Logger
}

// ServerOption 配置 Server。
type ServerOption func(*Server)

// WithAuth 为 /api/v1 下的接口启用 API Token 认证。
func WithAuth(svc *auth.Service) ServerOption {
	return func(s *Server) {
		s.auth = svc
	}
}

// NewServer 构造 API 服务实例。outputs 与 registry 可以为空。
func NewServer(addr string, jobs *job.Service, outputs deployment.OutputStore, registry *deployment.Registry, opts ...ServerOption) *Server {
	s := &Server{addr: addr, jobs: jobs, outputs: outputs, registry: registry, logger: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	jobs := s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodPost: {auth.PermissionJobsWrite},
			"*":             {auth.PermissionJobsRead},
		},
		AuditEvent: "jobs",
	})
	deployments := s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{"*": {auth.PermissionDeploymentsRead}},
		AuditEvent:          "deployments",
	})

	mux.Handle("POST /api/v1/jobs", jobs(instrument("jobs.create", s.handleCreateJob)))
	mux.Handle("GET /api/v1/jobs", jobs(instrument("jobs.list", s.handleListJobs)))
	mux.Handle("GET /api/v1/jobs/stats", jobs(instrument("jobs.stats", s.handleJobStats)))
	mux.Handle("GET /api/v1/jobs/{id}", jobs(instrument("jobs.detail", s.handleJobDetail)))
	mux.Handle("GET /api/v1/deployments", deployments(instrument("deployments.list", s.handleListDeployments)))
	mux.Handle("GET /api/v1/tasks", deployments(instrument("tasks.list", s.handleListTasks)))
	mux.Handle("GET /healthz", instrument("healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "作业服务未初始化"))
		return
	}
	var req job.SubmitRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	created, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.InfoContext(r.Context(), "已受理部署作业",
		slog.String("job_id", created.ID),
		slog.String("task", created.TaskID),
		slog.String("submitted_by", auth.SubjectName(r.Context())),
	)
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "作业服务未初始化"))
		return
	}
	opts, err := job.ParseListQuery(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	jobs, err := s.jobs.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "作业服务未初始化"))
		return
	}
	opts, err := job.ParseListQuery(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.jobs.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "作业服务未初始化"))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "作业 ID 不能为空"))
		return
	}
	found, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	if s.outputs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "部署记录存储未初始化"))
		return
	}
	query := r.URL.Query()
	records, err := s.outputs.List(r.Context(), strings.TrimSpace(query.Get("task")), strings.TrimSpace(query.Get("network")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type taskView struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	views := make([]taskView, 0)
	if s.registry != nil {
		for _, def := range s.registry.List() {
			views = append(views, taskView{ID: def.ID, Description: def.Description})
		}
	}
	writeJSON(w, http.StatusOK, views)
}

type errorBody struct {
	Code     xerrors.Code      `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	body := errorBody{Code: code, Message: err.Error()}
	if e, ok := xerrors.From(err); ok {
		body.Metadata = e.Metadata()
	}
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		logger.L().Error("API 请求失败", slog.String("code", string(code)), slog.Any("error", err))
	}
	writeJSON(w, status, body)
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, xerrors.CodeMissingInputField, job.CodeJobValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, xerrors.CodeArtifactNotFound, job.CodeJobNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, job.CodeJobConflict:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure, job.CodeJobPublish:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func instrument(name string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(started))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
