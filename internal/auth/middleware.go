package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	xerrors "contract-deployer/internal/errors"
	"contract-deployer/pkg/logger"
)

// 认证失败时响应体中的错误码。
const (
	CodeUnauthenticated  xerrors.Code = "UNAUTHENTICATED"
	CodePermissionDenied xerrors.Code = "PERMISSION_DENIED"
)

func init() {
	xerrors.Register(CodeUnauthenticated, xerrors.Attributes{Message: "authentication required", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodePermissionDenied, xerrors.Attributes{Message: "permission denied", Severity: xerrors.SeverityWarning})
}

// MiddlewareConfig 配置一组路由的权限要求。
type MiddlewareConfig struct {
	// RequiredPermissions 按 HTTP 方法列出所需权限，"*" 匹配其余方法。
	RequiredPermissions map[string][]string
	// AuditEvent 为审计日志中的事件名，默认取请求路径。
	AuditEvent string
}

func (c MiddlewareConfig) permissionsFor(method string) []string {
	if perms, ok := c.RequiredPermissions[method]; ok {
		return perms
	}
	return c.RequiredPermissions["*"]
}

// Middleware 认证 Bearer Token 并校验权限。通过后调用方写入请求上下文，
// 其后的日志都会带上 subject 字段。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if s == nil || s.mode == ModeDisabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				code, status := CodeUnauthenticated, http.StatusUnauthorized
				if errors.Is(err, ErrSubjectRevoked) {
					code, status = CodePermissionDenied, http.StatusForbidden
				} else {
					w.Header().Set("WWW-Authenticate", `Bearer realm="deployer"`)
				}
				s.deny(w, r, code, status, err, "")
				return
			}
			if err := subject.Authorize(cfg.permissionsFor(r.Method)...); err != nil {
				s.deny(w, r, CodePermissionDenied, http.StatusForbidden, err, subject.Name)
				return
			}

			ctx := WithSubject(r.Context(), subject)
			ctx = logger.WithAttrs(ctx, slog.String("subject", subject.Name))
			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(ctx))

			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			s.audit.InfoContext(ctx, "api_request",
				slog.String("event", event),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", aw.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func (s *Service) deny(w http.ResponseWriter, r *http.Request, code xerrors.Code, status int, cause error, subject string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    string(code),
		"message": cause.Error(),
	})
	s.audit.WarnContext(r.Context(), "access_denied",
		slog.String("code", string(code)),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("subject", subject),
		slog.String("error", cause.Error()),
	)
}

// auditWriter 记录下游写出的状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
