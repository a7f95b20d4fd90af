package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// DefaultStateFile 是默认的钱包状态文件。
const DefaultStateFile = "config.json"

type persistedState struct {
	WalletIDs []string `json:"wallet_ids"`
}

// FileStore 把钱包 ID 集合写入 JSON 文件，格式为 {"wallet_ids": [...]}。
type FileStore struct {
	mu   sync.Mutex
	path string
	ids  map[string]struct{}
}

// NewFileStore 读取已有状态文件，文件不存在时从空集合开始。
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = DefaultStateFile
	}
	store := &FileStore{path: path, ids: make(map[string]struct{})}
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return store, nil
		}
		return nil, fmt.Errorf("读取钱包状态文件失败: %w", err)
	}
	var state persistedState
	if err := json.Unmarshal(content, &state); err != nil {
		return nil, fmt.Errorf("解析钱包状态文件 %s 失败: %w", path, err)
	}
	for _, id := range state.WalletIDs {
		store.ids[id] = struct{}{}
	}
	return store, nil
}

// Add 记录钱包 ID 并立即落盘。
func (s *FileStore) Add(_ context.Context, walletID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[walletID]; ok {
		return nil
	}
	s.ids[walletID] = struct{}{}
	if err := s.save(); err != nil {
		delete(s.ids, walletID)
		return err
	}
	return nil
}

// List 返回排序后的钱包 ID。
func (s *FileStore) List(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedIDs(s.ids), nil
}

// Close 实现 Store。
func (s *FileStore) Close() error { return nil }

func (s *FileStore) save() error {
	data, err := json.MarshalIndent(persistedState{WalletIDs: sortedIDs(s.ids)}, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化钱包状态失败: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建钱包状态目录失败: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入钱包状态文件失败: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("替换钱包状态文件失败: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
