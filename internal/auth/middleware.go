package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// MiddlewareConfig 描述一组路由的授权要求。
type MiddlewareConfig struct {
	// RequiredPermissions 按 HTTP 方法列出所需权限，"*" 作为其他方法的默认值。
	RequiredPermissions map[string][]string
	// AuditEvent 是审计日志中的事件名，为空时使用请求路径。
	AuditEvent string
}

func (c MiddlewareConfig) permissionsFor(method string) []string {
	if perms, ok := c.RequiredPermissions[method]; ok {
		return perms
	}
	return c.RequiredPermissions["*"]
}

func (c MiddlewareConfig) event(r *http.Request) string {
	if c.AuditEvent != "" {
		return c.AuditEvent
	}
	return r.URL.Path
}

// Middleware 校验 Bearer 令牌与权限。认证失败返回 401，权限不足返回 403，错误体与 API 一致。
// 认证关闭时直接放行，且不写审计日志。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if s.Mode() == ModeDisabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="keygated"`)
				s.deny(w, r, cfg, http.StatusUnauthorized, "UNAUTHENTICATED", err, "")
				return
			}
			if err := subject.Authorize(cfg.permissionsFor(r.Method)...); err != nil {
				status, code := http.StatusForbidden, "PERMISSION_DENIED"
				if !errors.Is(err, ErrPermissionDenied) {
					status, code = http.StatusUnauthorized, "UNAUTHENTICATED"
				}
				s.deny(w, r, cfg, status, code, err, subject.Name)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(NewContext(r.Context(), subject)))
			s.audit.Info("api_request",
				"event", cfg.event(r),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"subject", subject.Name,
			)
		})
	}
}

func (s *Service) deny(w http.ResponseWriter, r *http.Request, cfg MiddlewareConfig, status int, code string, cause error, subject string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": http.StatusText(status)},
	})
	s.audit.Warn("api_denied",
		"event", cfg.event(r),
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"subject", subject,
		"error", cause.Error(),
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
