package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "keygate-sdk/internal/errors"
	"keygate-sdk/pkg/logger"
)

const (
	defaultMaxRetries   = 3
	defaultPollInterval = 500 * time.Millisecond
)

// Service 是任务的提交与查询入口，执行由 Processor 负责。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造任务服务，maxRetries <= 0 时使用 3。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

func (s *Service) ready(needProducer bool) error {
	if s.store == nil || (needProducer && s.producer == nil) {
		return xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	return nil
}

// Submit 校验请求、落库并入队。带 ID 的请求幂等：ID 已存在时直接返回已有任务。
// 入队失败的任务被标记为失败，不会遗留在 pending 状态。
func (s *Service) Submit(ctx context.Context, req Request) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.ready(true); err != nil {
		return nil, err
	}

	id := strings.TrimSpace(req.ID)
	if id != "" {
		if job, found, err := s.lookup(ctx, id); err != nil || found {
			return job, err
		}
	} else {
		id = uuid.NewString()
	}

	job := &Job{
		ID:         id,
		Type:       req.Type,
		WalletID:   strings.TrimSpace(req.WalletID),
		Payload:    req.Payload,
		Status:     StatusPending,
		MaxRetries: s.retriesFor(req.Type),
	}
	if err := s.store.Create(ctx, job); err != nil {
		// 并发提交同一 ID 时，以先写入的为准。
		if stdErrors.Is(err, ErrJobConflict) {
			if existing, found, _ := s.lookup(ctx, id); found {
				return existing, nil
			}
		}
		return nil, err
	}

	if err := s.producer.Publish(ctx, messageFor(job)); err != nil {
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布任务到队列失败", xerrors.WithMetadata("job_id", id))
		logger.L().Error("任务入队失败", slog.String("job_id", id), slog.Any("error", err))
		if markErr := s.store.MarkFailed(ctx, id, CodeJobPublish, wrapped.Error(), true); markErr != nil {
			logger.L().Warn("标记任务失败状态出错", slog.String("job_id", id), slog.Any("error", markErr))
		}
		return nil, wrapped
	}

	logger.Audit().Info("任务入队成功",
		slog.String("job_id", id),
		slog.String("type", string(job.Type)),
		slog.String("wallet_id", job.WalletID),
		slog.Int("max_retries", job.MaxRetries),
	)
	return job, nil
}

func (s *Service) lookup(ctx context.Context, id string) (*Job, bool, error) {
	job, err := s.store.Get(ctx, id)
	switch {
	case err == nil:
		return job, true, nil
	case stdErrors.Is(err, ErrJobNotFound):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

func (s *Service) retriesFor(t Type) int {
	if t.SingleAttempt() {
		return 1
	}
	return s.maxRetries
}

// Get 返回任务当前状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if err := s.ready(false); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// List 按过滤条件分页列出任务。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if err := s.ready(false); err != nil {
		return nil, err
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 统计符合过滤条件的任务。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if err := s.ready(false); err != nil {
		return Stats{}, err
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// WaitUntilCompleted 按 interval 轮询，直到任务结束或 ctx 取消。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 关闭存储与队列，返回合并后的错误。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}
