package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "keygate-sdk/internal/errors"
	"keygate-sdk/internal/observability/alerting"
	"keygate-sdk/pkg/logger"
)

// JobObserver 记录任务结束状态，*metrics.Registry 满足该接口。
type JobObserver interface {
	ObserveJob(jobType, status string, duration time.Duration)
}

// Processor 负责从队列消费任务并交给执行器。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	observer    JobObserver
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithJobObserver 配置任务指标。
func WithJobObserver(observer JobObserver) ProcessorOption {
	return func(p *Processor) {
		p.observer = observer
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("processor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环，阻塞直到 ctx 取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handleMessage)
}

func (p *Processor) handleMessage(ctx context.Context, msg Message) error {
	p.logger.Debug("收到任务消息",
		slog.String("job_id", msg.JobID),
		slog.String("type", string(msg.Type)),
		slog.Int("attempt", msg.Attempt),
	)
	return p.Handle(ctx, msg.JobID)
}

// Handle 处理单个任务 ID。
func (p *Processor) Handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobCompleted) ||
			stdErrors.Is(err, ErrJobExhausted) || stdErrors.Is(err, ErrJobConflict) {
			p.logger.Debug("跳过任务", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("job_id", jobID))
		return err
	}

	start := time.Now()
	result, execErr := p.executor.Execute(ctx, job)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, job, execErr, time.Since(start))
	}
	if result == nil {
		result = &Result{}
	}

	if err := p.store.MarkSucceeded(ctx, job.ID, *result); err != nil {
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID))
		return err
	}
	p.observe(job, StatusSucceeded, time.Since(start))
	logger.Audit().Info("任务执行成功",
		slog.String("job_id", job.ID),
		slog.String("type", string(job.Type)),
		slog.String("wallet_id", job.WalletID),
		slog.Int("attempts", job.Attempts),
	)
	return nil
}

// retryable 判断失败的任务能否重新排队。单次执行的任务可能已经产生副作用，一律不重试。
func retryable(job *Job, err error) bool {
	if job.Type.SingleAttempt() {
		return false
	}
	return xerrors.RetryableError(err)
}

func (p *Processor) handleExecutionFailure(ctx context.Context, job *Job, execErr error, elapsed time.Duration) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	canRetry := retryable(job, execErr)
	terminal := !canRetry || job.Attempts >= job.MaxRetries

	if storeErr := p.store.MarkFailed(ctx, job.ID, code, execErr.Error(), terminal); storeErr != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("job_id", job.ID),
		slog.String("type", string(job.Type)),
		slog.String("wallet_id", job.WalletID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)

	if terminal {
		p.observe(job, StatusFailed, elapsed)
		p.emitAlert(ctx, job, code, execErr)
		return nil
	}
	if err := p.requeue(ctx, job); err != nil {
		return xerrors.Wrap(CodeJobPublish, err, fmt.Sprintf("任务 %s 重投失败", job.ID))
	}
	p.logger.Debug("任务已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	return nil
}

// tryPublisher 由有界的进程内队列实现，队列满时立即返回。
type tryPublisher interface {
	TryPublish(msg Message) (bool, error)
}

// requeue 在消费协程内重投任务。有界队列已满时改由后台协程等待空位，
// 以免占住唯一能腾出空位的消费者；ctx 结束前仍未投递的任务保持 pending，由 RequeuePending 恢复。
func (p *Processor) requeue(ctx context.Context, job *Job) error {
	msg := messageFor(job)
	tp, ok := p.producer.(tryPublisher)
	if !ok {
		return p.producer.Publish(ctx, msg)
	}
	sent, err := tp.TryPublish(msg)
	if err != nil || sent {
		return err
	}
	go func() {
		if err := p.producer.Publish(ctx, msg); err != nil {
			p.logger.Warn("任务延迟重投失败，保持 pending", slog.String("job_id", msg.JobID), slog.Any("error", err))
		}
	}()
	return nil
}

func (p *Processor) observe(job *Job, status Status, elapsed time.Duration) {
	if p.observer != nil {
		p.observer.ObserveJob(string(job.Type), string(status), elapsed)
	}
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error) {
	if p.alerter == nil {
		return
	}
	event := alerting.FromError(cause)
	event.Code = code
	event.Severity = xerrors.SeverityOf(cause)
	event.JobID = job.ID
	event.WalletID = job.WalletID
	event.Attempts = job.Attempts
	event.MaxRetries = job.MaxRetries
	if event.Metadata == nil {
		event.Metadata = map[string]string{}
	}
	event.Metadata["job_type"] = string(job.Type)
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败", slog.Any("error", err), slog.String("job_id", job.ID))
	}
}
