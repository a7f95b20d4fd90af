package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"keygate-sdk/pkg/logger"
)

const defaultAccessTTL = 3600

// Service 负责 HTTP 端点的身份验证和授权。
type Service struct {
	mode   Mode
	tokens []StaticToken
	jwt    *jwtManager
	audit  *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: logger.Audit()}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeToken:
		for _, token := range cfg.Tokens {
			if strings.TrimSpace(token.Token) == "" {
				return nil, errors.New("static token must not be empty")
			}
		}
		if len(cfg.Tokens) == 0 {
			return nil, errors.New("token mode requires at least one token")
		}
		svc.tokens = append([]StaticToken(nil), cfg.Tokens...)
	case ModeJWT:
		if strings.TrimSpace(cfg.JWT.Secret) == "" {
			return nil, errors.New("jwt secret must be configured")
		}
		ttl := cfg.JWT.AccessTTL
		if ttl <= 0 {
			ttl = defaultAccessTTL
		}
		svc.jwt = &jwtManager{
			secret:    []byte(cfg.JWT.Secret),
			issuer:    cfg.JWT.Issuer,
			audience:  append([]string(nil), cfg.JWT.Audience...),
			accessTTL: time.Duration(ttl) * time.Second,
		}
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
	return svc, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Issue 为主体签发访问令牌，仅 jwt 模式可用。
func (s *Service) Issue(subject string, permissions ...string) (string, time.Time, error) {
	if s == nil || s.jwt == nil {
		return "", time.Time{}, ErrDisabled
	}
	return s.jwt.Generate(subject, permissions)
}

// AuthenticateRequest 验证 Authorization 头并返回主体信息。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	switch s.mode {
	case ModeToken:
		return s.verifyStatic(token)
	case ModeJWT:
		return s.jwt.Verify(token)
	default:
		return nil, ErrDisabled
	}
}

func (s *Service) verifyStatic(token string) (*Subject, error) {
	var matched *StaticToken
	for i := range s.tokens {
		// 逐个比较，不提前返回。
		if subtle.ConstantTimeCompare([]byte(s.tokens[i].Token), []byte(token)) == 1 {
			matched = &s.tokens[i]
		}
	}
	if matched == nil {
		return nil, ErrInvalidToken
	}
	subject := &Subject{
		Name:        matched.Subject,
		Permissions: append([]string(nil), matched.Permissions...),
	}
	subject.normalise()
	return subject, nil
}

// jwtManager 负责 JWT 令牌的签名和验证。
type jwtManager struct {
	secret    []byte
	issuer    string
	audience  []string
	accessTTL time.Duration
}

type accessClaims struct {
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Generate 生成访问令牌。
func (m *jwtManager) Generate(subject string, permissions []string) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, errors.New("subject required")
	}
	now := time.Now()
	expires := now.Add(m.accessTTL)
	claims := accessClaims{
		Permissions: append([]string(nil), permissions...),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings(m.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expires, nil
}

// Verify 验证 JWT 令牌的有效性并返回主体。
func (m *jwtManager) Verify(token string) (*Subject, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	var claims accessClaims
	parsed, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if m.issuer != "" && !claims.VerifyIssuer(m.issuer, true) {
		return nil, ErrInvalidToken
	}
	if len(m.audience) > 0 {
		matched := false
		for _, aud := range m.audience {
			if claims.VerifyAudience(aud, true) {
				matched = true
				break
			}
		}
		if !matched {
			return nil, ErrInvalidToken
		}
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	subject := &Subject{Name: claims.Subject, Permissions: claims.Permissions}
	subject.normalise()
	return subject, nil
}
