package task

import (
	"context"
	"log/slog"
	"time"

	"keygate-sdk/pkg/logger"
)

// Stats 是一组任务的聚合视图，按状态与类型计数，并给出更新时间范围（Unix 秒）。
type Stats struct {
	Total           int          `json:"total"`
	Pending         int          `json:"pending"`
	Running         int          `json:"running"`
	Succeeded       int          `json:"succeeded"`
	Failed          int          `json:"failed"`
	ByType          map[Type]int `json:"by_type,omitempty"`
	OldestUpdatedAt int64        `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64        `json:"newest_updated_at,omitempty"`
}

// InFlight 返回尚未结束的任务数。
func (s Stats) InFlight() int {
	return s.Pending + s.Running
}

func (s *Stats) add(job *Job) {
	s.Total++
	switch job.Status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusSucceeded:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
	}
	if s.ByType == nil {
		s.ByType = make(map[Type]int)
	}
	s.ByType[job.Type]++
	if job.UpdatedAt > s.NewestUpdatedAt {
		s.NewestUpdatedAt = job.UpdatedAt
	}
	if s.OldestUpdatedAt == 0 || (job.UpdatedAt != 0 && job.UpdatedAt < s.OldestUpdatedAt) {
		s.OldestUpdatedAt = job.UpdatedAt
	}
}

// BacklogGauge 接收未结束任务数，由指标注册表实现。
type BacklogGauge interface {
	SetPendingJobs(n int)
}

// ReportBacklog 立即并随后每隔 interval 统计一次未结束任务写入 gauge，直到 ctx 取消。
func (s *Service) ReportBacklog(ctx context.Context, interval time.Duration, gauge BacklogGauge) {
	if gauge == nil {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if stats, err := s.Stats(ctx, WithStatuses(StatusPending, StatusRunning)); err == nil {
			gauge.SetPendingJobs(stats.InFlight())
		} else if ctx.Err() == nil {
			logger.L().Warn("统计未结束任务失败", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
