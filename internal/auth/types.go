// Package auth 为分析 API 提供基于静态令牌的身份认证与授权。
package auth

import (
	"net/http"
	"strings"

	xerrors "text-pipeline/internal/errors"
)

// 认证相关错误码。
const (
	CodeUnauthenticated  xerrors.Code = "AUTH_UNAUTHENTICATED"
	CodePermissionDenied xerrors.Code = "AUTH_PERMISSION_DENIED"
)

func init() {
	xerrors.Register(CodeUnauthenticated, xerrors.Attributes{Message: "unauthenticated", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusUnauthorized})
	xerrors.Register(CodePermissionDenied, xerrors.Attributes{Message: "permission denied", Severity: xerrors.SeverityWarning, HTTPStatus: http.StatusForbidden})
}

var (
	ErrMissingToken     = xerrors.New(CodeUnauthenticated, "missing bearer token")
	ErrInvalidToken     = xerrors.New(CodeUnauthenticated, "invalid token")
	ErrPermissionDenied = xerrors.New(CodePermissionDenied, "permission denied")
)

// 权限名称。
const (
	PermissionRead   = "analyses:read"
	PermissionWrite  = "analyses:write"
	PermissionInvoke = "pipeline:invoke"
)

// Mode 枚举认证方式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
)

// Config 配置认证服务。
type Config struct {
	Mode   Mode          `json:"mode" yaml:"mode"`
	Tokens []TokenConfig `json:"tokens" yaml:"tokens"`
}

// TokenConfig 描述一个静态访问令牌。Token 为空时从 TokenEnv 指定的环境变量读取。
type TokenConfig struct {
	Name        string   `json:"name" yaml:"name"`
	Token       string   `json:"token" yaml:"token"`
	TokenEnv    string   `json:"token_env" yaml:"token_env"`
	Permissions []string `json:"permissions" yaml:"permissions"`
	Disabled    bool     `json:"disabled" yaml:"disabled"`
}

// Subject 是通过认证的调用方。
type Subject struct {
	Name        string
	Permissions []string
	Disabled    bool

	permissionsSet map[string]struct{}
}

func (s *Subject) normalise() {
	if s == nil || s.permissionsSet != nil {
		return
	}
	s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
	for _, perm := range s.Permissions {
		s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
	}
}

// HasPermission 判断是否拥有指定权限，"*" 表示全部权限。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	if _, ok := s.permissionsSet["*"]; ok {
		return true
	}
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize 要求拥有全部指定权限。
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	if s.Disabled {
		return xerrors.New(CodePermissionDenied, "subject is disabled")
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return xerrors.Wrap(CodePermissionDenied, ErrPermissionDenied, "missing "+perm)
		}
	}
	return nil
}
