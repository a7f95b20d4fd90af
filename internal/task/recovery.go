package task

import (
	"context"
	"log/slog"

	"keygate-sdk/pkg/logger"
)

const interruptedMessage = "守护进程在任务执行中退出"

// RequeuePending 把仍处于 pending 状态的任务重新发布到队列，返回发布的数量。
// 内存队列在进程重启后会丢失消息，应在处理器启动前调用；重复投递由 Claim 去重。
// 上次退出时停留在 running 的任务先经 recoverInterrupted 处理。
func (s *Service) RequeuePending(ctx context.Context) (int, error) {
	if err := s.ready(true); err != nil {
		return 0, err
	}
	if _, err := s.recoverInterrupted(ctx); err != nil {
		return 0, err
	}
	published := 0
	for offset := 0; ; offset += MaxListLimit {
		jobs, err := s.store.List(ctx, buildListOptions([]ListOption{
			WithStatuses(StatusPending),
			WithSortOrder(SortByUpdatedAsc),
			WithLimit(MaxListLimit),
			WithOffset(offset),
		}))
		if err != nil {
			return published, err
		}
		for _, job := range jobs {
			if err := s.producer.Publish(ctx, messageFor(job)); err != nil {
				return published, err
			}
			published++
		}
		if len(jobs) < MaxListLimit {
			break
		}
	}
	if published > 0 {
		logger.L().Info("重新发布待处理任务", slog.Int("count", published))
	}
	return published, nil
}

// recoverInterrupted 处理停留在 running 的任务：仍有重试次数的可重试任务回到 pending，
// 单次执行的任务（转账、创建钱包）和已用尽次数的任务直接失败，结果需人工核对。
// 只应在处理器启动前调用，且同一个任务存储只对应一个守护进程。
func (s *Service) recoverInterrupted(ctx context.Context) (int, error) {
	recovered := 0
	for {
		jobs, err := s.store.List(ctx, buildListOptions([]ListOption{
			WithStatuses(StatusRunning),
			WithSortOrder(SortByUpdatedAsc),
			WithLimit(MaxListLimit),
		}))
		if err != nil {
			return recovered, err
		}
		for _, job := range jobs {
			terminal := job.Type.SingleAttempt() || job.Attempts >= job.MaxRetries
			if err := s.store.MarkFailed(ctx, job.ID, CodeJobInterrupted, interruptedMessage, terminal); err != nil {
				return recovered, err
			}
			logger.L().Warn("恢复中断的任务",
				slog.String("job_id", job.ID),
				slog.String("type", string(job.Type)),
				slog.Bool("terminal", terminal),
			)
			recovered++
		}
		if len(jobs) < MaxListLimit {
			return recovered, nil
		}
	}
}
