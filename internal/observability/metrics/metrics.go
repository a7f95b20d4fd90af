package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	xerrors "keygate-sdk/internal/errors"
)

const namespace = "keygate"

// Registry 汇总 SDK 与守护进程暴露的全部指标。
type Registry struct {
	reg *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	calls       *prometheus.CounterVec
	callLatency *prometheus.HistogramVec

	jobs        *prometheus.CounterVec
	jobLatency  *prometheus.HistogramVec
	queueDepth  prometheus.Gauge
	lowBalances *prometheus.CounterVec
}

// NewRegistry 创建独立的指标注册表，测试中可以各自持有一份。
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Calls sent to the Keygate service, labelled by method and error code.",
		}, []string{"method", "code"}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Keygate call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Wallet jobs finished by the processor.",
		}, []string{"type", "status"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wallet job execution time in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_pending",
			Help:      "Jobs waiting to be processed.",
		}),
		lowBalances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "low_balance_alerts_total",
			Help:      "Balance checks that fell below the configured threshold.",
		}, []string{"wallet_id"}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.httpRequests, r.httpErrors, r.httpLatency,
		r.calls, r.callLatency,
		r.jobs, r.jobLatency, r.queueDepth, r.lowBalances,
	)
	return r
}

var defaultRegistry = NewRegistry()

// Default 返回进程级注册表。
func Default() *Registry {
	return defaultRegistry
}

// Gatherer 暴露底层注册表，供 testutil 等工具读取。
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveHTTPRequest 记录一次 HTTP 请求。
func (r *Registry) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	r.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		r.httpErrors.WithLabelValues(handler, method).Inc()
	}
	r.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveCall 实现 keygate.CallObserver。
func (r *Registry) ObserveCall(method string, duration time.Duration, err error) {
	code := "OK"
	if err != nil {
		code = string(xerrors.CodeOf(err))
	}
	r.calls.WithLabelValues(method, code).Inc()
	r.callLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveJob 记录任务的最终状态与耗时。
func (r *Registry) ObserveJob(jobType, status string, duration time.Duration) {
	r.jobs.WithLabelValues(jobType, status).Inc()
	r.jobLatency.WithLabelValues(jobType).Observe(duration.Seconds())
}

// SetPendingJobs 更新待处理任务数。
func (r *Registry) SetPendingJobs(n int) {
	r.queueDepth.Set(float64(n))
}

// ObserveLowBalance 记录一次低余额告警。
func (r *Registry) ObserveLowBalance(walletID string) {
	r.lowBalances.WithLabelValues(walletID).Inc()
}

// Handler 以 Prometheus 文本格式暴露指标。
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// StartServer 启动独立的 /metrics 服务，ctx 取消时关闭。
func StartServer(ctx context.Context, addr string, r *Registry) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	if r == nil {
		r = defaultRegistry
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
