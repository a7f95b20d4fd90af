package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"keygate-sdk/internal/auth"
	xerrors "keygate-sdk/internal/errors"
	"keygate-sdk/internal/observability/metrics"
	"keygate-sdk/internal/task"
	"keygate-sdk/pkg/logger"
)

const maxBodyBytes = 1 << 20

// JobService 是任务服务的能力，*task.Service 满足该接口。
type JobService interface {
	Submit(ctx context.Context, req task.Request) (*task.Job, error)
	Get(ctx context.Context, id string) (*task.Job, error)
	List(ctx context.Context, opts ...task.ListOption) ([]*task.Job, error)
	Stats(ctx context.Context, opts ...task.ListOption) (task.Stats, error)
}

// WalletLister 列出已持久化的钱包，*wallet.Service 满足该接口。
type WalletLister interface {
	Wallets(ctx context.Context) ([]string, error)
}

// Prompter 同步处理一条消息，*agent.Agent 满足该接口。
type Prompter interface {
	Name() string
	ProcessMessage(ctx context.Context, message string) string
}

// Option 调整 Server。
type Option func(*Server)

// WithAuth 为 /api/v1 下的接口启用认证。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// WithMetrics 指定请求指标使用的注册表，同时暴露 /metrics。
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Server) { s.metrics = reg }
}

// WithWallets 启用 /api/v1/wallets。
func WithWallets(w WalletLister) Option {
	return func(s *Server) { s.wallets = w }
}

// WithAgent 启用 /api/v1/agent/messages。
func WithAgent(p Prompter) Option {
	return func(s *Server) { s.agent = p }
}

// Server 负责暴露 REST 接口，供外部提交与查询钱包任务。
type Server struct {
	addr    string
	jobs    JobService
	wallets WalletLister
	agent   Prompter
	auth    *auth.Service
	metrics *metrics.Registry
	log     *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, jobs JobService, opts ...Option) *Server {
	s := &Server{addr: addr, jobs: jobs, log: logger.Named("api")}
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
	mux.Handle("/api/v1/jobs", s.protect("jobs", map[string][]string{
		http.MethodGet:  {auth.PermJobsRead},
		http.MethodPost: {auth.PermJobsWrite},
	}, s.handleJobs))
	mux.Handle("/api/v1/jobs/", s.protect("job_detail", map[string][]string{
		"*": {auth.PermJobsRead},
	}, s.handleJobDetail))
	mux.Handle("/api/v1/wallets", s.protect("wallets", map[string][]string{
		"*": {auth.PermWalletsRead},
	}, s.handleWallets))
	mux.Handle("/api/v1/agent/messages", s.protect("agent_messages", map[string][]string{
		"*": {auth.PermAgentMessage},
	}, s.handleAgentMessage))
	mux.Handle("/healthz", s.instrument("healthz", http.HandlerFunc(s.handleHealth)))
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
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
	s.log.Info("API 服务已启动", slog.String("addr", s.addr))

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

func (s *Server) protect(name string, perms map[string][]string, h http.HandlerFunc) http.Handler {
	var handler http.Handler = h
	if s.auth != nil {
		handler = s.auth.Middleware(auth.MiddlewareConfig{RequiredPermissions: perms, AuditEvent: name})(handler)
	}
	return s.instrument(name, handler)
}

func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		if s.metrics != nil {
			s.metrics.ObserveHTTPRequest(name, r.Method, sw.status, time.Since(start))
		}
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET/POST"))
	}
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req task.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	job, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	logger.Audit().Info("job_submitted",
		slog.String("job_id", job.ID),
		slog.String("type", string(job.Type)),
		slog.String("wallet_id", job.WalletID),
		slog.String("subject", subjectName(r)),
	)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	jobs, err := s.jobs.List(r.Context(), opts...)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"))
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeInvalidArgument, "缺少任务 ID"))
		return
	}
	if id == "stats" {
		s.handleStats(w, r)
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stats, err := s.jobs.Stats(r.Context(), opts...)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"))
		return
	}
	if s.wallets == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "钱包服务未启用"))
		return
	}
	ids, err := s.wallets.Wallets(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"wallet_ids": ids})
}

type messageRequest struct {
	Message string `json:"message"`
}

type messageResponse struct {
	Agent string `json:"agent"`
	Reply string `json:"reply"`
}

func (s *Server) handleAgentMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 POST"))
		return
	}
	if s.agent == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "Agent 未启用"))
		return
	}
	var req messageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeInvalidArgument, "消息不能为空"))
		return
	}
	reply := s.agent.ProcessMessage(r.Context(), req.Message)
	writeJSON(w, http.StatusOK, messageResponse{Agent: s.agent.Name(), Reply: reply})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("请求处理失败", slog.Any("error", err))
	}
	writeError(w, status, err)
}

// statusFor 把错误码映射为 HTTP 状态码。
func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, task.CodeJobValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeJobNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, task.CodeJobConflict:
		return http.StatusConflict
	case xerrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Code: string(xerrors.CodeOf(err)), Message: err.Error()}
	if e, ok := xerrors.From(err); ok {
		body.Message = e.Message()
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func parseListOptions(r *http.Request) ([]task.ListOption, error) {
	q := r.URL.Query()
	var opts []task.ListOption
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须为正整数")
		}
		opts = append(opts, task.WithLimit(limit))
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "offset 必须为非负整数")
		}
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := q.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(part))
			if !task.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态 "+string(status))
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := q.Get("type"); raw != "" {
		var types []task.Type
		for _, part := range strings.Split(raw, ",") {
			t := task.Type(strings.TrimSpace(part))
			if !task.IsValidType(t) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务类型 "+string(t))
			}
			types = append(types, t)
		}
		opts = append(opts, task.WithTypes(types...))
	}
	if walletID := strings.TrimSpace(q.Get("wallet_id")); walletID != "" {
		opts = append(opts, task.WithWalletID(walletID))
	}
	if strings.EqualFold(q.Get("order"), "asc") {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	return opts, nil
}

func subjectName(r *http.Request) string {
	if subject, ok := auth.FromContext(r.Context()); ok {
		return subject.Name
	}
	return "anonymous"
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

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
