package task

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "keygate-sdk/internal/errors"
	"keygate-sdk/pkg/logger"
)

// RedisQueue 基于 Redis list 的任务队列，LPUSH 入队、BRPOP 出队，多个 keygated 实例可共享。
type RedisQueue struct {
	client *redis.Client
	key    string
	wait   time.Duration
}

// NewRedisQueue 使用已连接的客户端创建队列，key 为空时使用 keygate:jobs。
func NewRedisQueue(client *redis.Client, key string, blockWait time.Duration) (*RedisQueue, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis 客户端不能为空")
	}
	if key == "" {
		key = "keygate:jobs"
	}
	if blockWait <= 0 {
		blockWait = 5 * time.Second
	}
	return &RedisQueue{client: client, key: key, wait: blockWait}, nil
}

// Publish 编码消息并 LPUSH。
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	body, err := encodeMessage(msg)
	if err != nil {
		return xerrors.Wrap(CodeJobPublish, err, "编码任务消息失败")
	}
	if err := q.client.LPush(ctx, q.key, body).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布任务失败", xerrors.WithMetadata("queue", q.key))
	}
	return nil
}

// Consume 通过 BRPOP 取消息。处理返回错误的消息会被 RPUSH 回队尾，无法解析的消息被丢弃。
// Redis 暂时不可用时等待一个 blockWait 周期后重试，客户端关闭后返回。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	runWorkers(ctx, workerCount, func(ctx context.Context) bool {
		values, err := q.client.BRPop(ctx, q.wait, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			return true
		case errors.Is(err, redis.ErrClosed):
			return false
		case err != nil:
			if ctx.Err() != nil {
				return false
			}
			logger.L().Warn("Redis 取任务失败", "queue", q.key, "error", err)
			select {
			case <-ctx.Done():
				return false
			case <-time.After(q.wait):
				return true
			}
		case len(values) != 2:
			return true
		}
		msg, err := decodeMessage([]byte(values[1]))
		if err != nil {
			logger.L().Warn("丢弃无法解析的任务消息", "queue", q.key, "error", err)
			return true
		}
		if err := handler(ctx, msg); err != nil {
			if pushErr := q.client.RPush(context.WithoutCancel(ctx), q.key, values[1]).Err(); pushErr != nil {
				logger.L().Error("任务消息回队失败", "job_id", msg.JobID, "error", pushErr)
			}
		}
		return true
	})
	return ctx.Err()
}

// Close 关闭底层连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	if err := q.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

var _ Queue = (*RedisQueue)(nil)
