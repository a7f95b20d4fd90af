package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisStore 把钱包 ID 保存在 Redis set 中，便于多个进程共享。
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore 使用已连接的客户端创建存储。
func NewRedisStore(client *redis.Client, key string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("Redis 客户端不能为空")
	}
	if key == "" {
		key = "keygate:wallets"
	}
	return &RedisStore{client: client, key: key}, nil
}

// Add 使用 SADD 记录钱包 ID。
func (s *RedisStore) Add(ctx context.Context, walletID string) error {
	if err := s.client.SAdd(ctx, s.key, walletID).Err(); err != nil {
		return fmt.Errorf("写入 Redis 钱包集合失败: %w", err)
	}
	return nil
}

// List 返回排序后的钱包 ID。
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("读取 Redis 钱包集合失败: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
