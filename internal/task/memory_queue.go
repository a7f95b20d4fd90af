package task

import (
	"context"
	"sync"

	xerrors "keygate-sdk/internal/errors"
)

// MemoryQueue 是进程内的任务队列，守护进程单实例部署时使用。
type MemoryQueue struct {
	ch   chan Message
	done chan struct{}
	once sync.Once
}

// NewMemoryQueue 创建容量为 size 的队列，size 不大于 0 时使用 64。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan Message, size), done: make(chan struct{})}
}

func errQueueClosed() error {
	return xerrors.New(xerrors.CodeQueueFailure, "任务队列已关闭")
}

// Publish 投递消息，队列满时阻塞直到有空位、ctx 结束或队列关闭。
func (q *MemoryQueue) Publish(ctx context.Context, msg Message) error {
	select {
	case <-q.done:
		return errQueueClosed()
	default:
	}
	select {
	case q.ch <- msg:
		return nil
	case <-q.done:
		return errQueueClosed()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPublish 不阻塞地投递消息，队列已满时返回 false。
func (q *MemoryQueue) TryPublish(msg Message) (bool, error) {
	select {
	case <-q.done:
		return false, errQueueClosed()
	default:
	}
	select {
	case q.ch <- msg:
		return true, nil
	default:
		return false, nil
	}
}

// Len 返回等待处理的消息数。
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Consume 阻塞消费直到 ctx 结束或队列关闭。处理失败的消息不会重新入队，重试由 Processor 决定。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	runWorkers(ctx, workerCount, func(ctx context.Context) bool {
		select {
		case <-ctx.Done():
			return false
		case <-q.done:
			return false
		case msg := <-q.ch:
			_ = handler(ctx, msg)
			return true
		}
	})
	return ctx.Err()
}

// Close 关闭队列，唤醒阻塞中的 Publish，未消费的消息被丢弃。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
