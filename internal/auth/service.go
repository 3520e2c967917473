package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"os"
	"strings"

	xerrors "text-pipeline/internal/errors"
)

type tokenEntry struct {
	digest  [sha256.Size]byte
	subject *Subject
}

// Service 校验请求头中的 Bearer 令牌。
type Service struct {
	mode   Mode
	tokens []tokenEntry
}

// NewService 根据配置构造认证服务。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeToken:
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unsupported auth mode: "+string(cfg.Mode))
	}

	for i, tc := range cfg.Tokens {
		token := strings.TrimSpace(tc.Token)
		if token == "" && tc.TokenEnv != "" {
			token = strings.TrimSpace(os.Getenv(tc.TokenEnv))
		}
		if token == "" {
			return nil, xerrors.New(xerrors.CodeMissingCredential, "auth token is empty",
				xerrors.WithMetadata("name", tc.Name))
		}
		name := tc.Name
		if name == "" {
			name = fmt.Sprintf("token-%d", i+1)
		}
		svc.tokens = append(svc.tokens, tokenEntry{
			digest: sha256.Sum256([]byte(token)),
			subject: &Subject{
				Name:        name,
				Permissions: append([]string(nil), tc.Permissions...),
				Disabled:    tc.Disabled,
			},
		})
	}
	if len(svc.tokens) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "token mode requires at least one token")
	}
	return svc, nil
}

// Mode 返回当前认证方式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Enabled 表示是否需要校验请求。
func (s *Service) Enabled() bool {
	return s.Mode() != ModeDisabled
}

// AuthenticateRequest 解析 Authorization 头并返回对应的调用方。
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	var matched *Subject
	for i := range s.tokens {
		if subtle.ConstantTimeCompare(digest[:], s.tokens[i].digest[:]) == 1 {
			matched = s.tokens[i].subject
		}
	}
	if matched == nil {
		return nil, ErrInvalidToken
	}
	return matched, nil
}
