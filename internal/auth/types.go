// Package auth 为 HTTP API 提供基于静态 API Token 的认证与授权。
package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// 认证子系统返回的通用错误。
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingToken     = errors.New("missing bearer token")
	ErrPermissionDenied = errors.New("permission denied")
	ErrSubjectRevoked   = errors.New("subject is disabled")
)

// 内置权限。
const (
	PermissionJobsWrite       = "jobs:write"
	PermissionJobsRead        = "jobs:read"
	PermissionDeploymentsRead = "deployments:read"
)

// AllPermissions 返回全部内置权限，用于管理员 Token。
func AllPermissions() []string {
	return []string{PermissionJobsWrite, PermissionJobsRead, PermissionDeploymentsRead}
}

// Mode 枚举支持的认证方式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
)

// Subject 是通过认证的调用方，经由 context 传递给处理函数。
type Subject struct {
	Name        string
	Permissions []string
	Disabled    bool
}

// HasPermission 判断调用方是否拥有 permission。权限不区分大小写，
// "*" 授予全部权限，"jobs:*" 授予 jobs 下的全部操作。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	want := strings.ToLower(strings.TrimSpace(permission))
	resource, _, _ := strings.Cut(want, ":")
	return slices.ContainsFunc(s.Permissions, func(granted string) bool {
		granted = strings.ToLower(strings.TrimSpace(granted))
		return granted == want || granted == "*" || granted == resource+":*"
	})
}

// Authorize 校验调用方拥有全部 perms，空字符串被忽略。
func (s *Subject) Authorize(perms ...string) error {
	switch {
	case s == nil:
		return ErrInvalidToken
	case s.Disabled:
		return ErrSubjectRevoked
	}
	for _, perm := range perms {
		if perm != "" && !s.HasPermission(perm) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}

// Credential 描述一个 API Token。TokenHash 为 Token 的 SHA-256 十六进制摘要，
// 与 Token 二选一。
type Credential struct {
	Name        string
	Token       string
	TokenHash   string
	Permissions []string
	Disabled    bool
}

// Config 配置认证服务。
type Config struct {
	Mode        Mode
	Credentials []Credential
}
