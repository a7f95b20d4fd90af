package wallet

import (
	"context"
	"sort"
	"sync"
)

// Store 持久化本地创建过的钱包 ID。Add 必须是幂等的。
type Store interface {
	Add(ctx context.Context, walletID string) error
	List(ctx context.Context) ([]string, error)
	Close() error
}

// MemoryStore 仅保存在内存中，进程退出即丢失。
type MemoryStore struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

// Add 记录钱包 ID。
func (m *MemoryStore) Add(_ context.Context, walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[walletID] = struct{}{}
	return nil
}

// List 返回排序后的钱包 ID。
func (m *MemoryStore) List(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedIDs(m.ids), nil
}

// Close 实现 Store。
func (m *MemoryStore) Close() error { return nil }

func sortedIDs(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

var _ Store = (*MemoryStore)(nil)
