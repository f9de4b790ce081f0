package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"strings"

	xerrors "contract-deployer/internal/errors"
	"contract-deployer/pkg/logger"
)

type credential struct {
	hash    []byte
	subject Subject
}

// Service 负责 HTTP 端点的身份验证和授权。
type Service struct {
	mode        Mode
	credentials []credential
	audit       *slog.Logger
}

// NewService 根据配置创建认证服务。Mode 为空时视为 disabled。
func NewService(cfg Config) (*Service, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: logger.Audit()}
	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeToken:
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的认证模式", xerrors.WithMetadata("mode", string(mode)))
	}

	for _, cred := range cfg.Credentials {
		hash, err := credentialHash(cred)
		if err != nil {
			return nil, err
		}
		svc.credentials = append(svc.credentials, credential{
			hash: hash,
			subject: Subject{
				Name:        cred.Name,
				Permissions: append([]string(nil), cred.Permissions...),
				Disabled:    cred.Disabled,
			},
		})
	}
	if len(svc.credentials) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "token 模式至少需要一个 API Token")
	}
	return svc, nil
}

func credentialHash(cred Credential) ([]byte, error) {
	if token := strings.TrimSpace(cred.Token); token != "" {
		sum := sha256.Sum256([]byte(token))
		return sum[:], nil
	}
	raw := strings.TrimPrefix(strings.TrimSpace(cred.TokenHash), "0x")
	hash, err := hex.DecodeString(raw)
	if err != nil || len(hash) != sha256.Size {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "API Token 摘要无效", xerrors.WithMetadata("name", cred.Name))
	}
	return hash, nil
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 解析 Authorization 头并返回对应的调用方。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return &Subject{Name: "anonymous", Permissions: AllPermissions()}, nil
	}
	token, ok := bearerToken(authorization)
	if !ok {
		return nil, ErrMissingToken
	}
	sum := sha256.Sum256([]byte(token))

	var matched *credential
	for i := range s.credentials {
		if subtle.ConstantTimeCompare(s.credentials[i].hash, sum[:]) == 1 {
			matched = &s.credentials[i]
		}
	}
	if matched == nil {
		return nil, ErrInvalidToken
	}
	subject := matched.subject
	subject.Permissions = append([]string(nil), matched.subject.Permissions...)
	if subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	return &subject, nil
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[len("Bearer "):])
	return token, token != ""
}
