package wallet

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultCSVFile 是默认的追加日志文件。
const DefaultCSVFile = "wallets.csv"

// CSVStore 以每行一个钱包 ID 的方式追加写入 CSV 文件。
type CSVStore struct {
	mu   sync.Mutex
	path string
	ids  map[string]struct{}
}

// NewCSVStore 读取已有的追加日志。
func NewCSVStore(path string) (*CSVStore, error) {
	if path == "" {
		path = DefaultCSVFile
	}
	store := &CSVStore{path: path, ids: make(map[string]struct{})}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return store, nil
		}
		return nil, fmt.Errorf("打开钱包日志失败: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("解析钱包日志 %s 失败: %w", path, err)
		}
		if len(record) == 0 {
			continue
		}
		if id := strings.TrimSpace(record[0]); id != "" {
			store.ids[id] = struct{}{}
		}
	}
	return store, nil
}

// Add 追加一行，已存在的 ID 不会重复写入。
func (s *CSVStore) Add(_ context.Context, walletID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[walletID]; ok {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建钱包日志目录失败: %w", err)
		}
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开钱包日志失败: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{walletID}); err != nil {
		return fmt.Errorf("写入钱包日志失败: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("写入钱包日志失败: %w", err)
	}
	s.ids[walletID] = struct{}{}
	return nil
}

// List 返回排序后的钱包 ID。
func (s *CSVStore) List(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedIDs(s.ids), nil
}

// Close 实现 Store。
func (s *CSVStore) Close() error { return nil }

var _ Store = (*CSVStore)(nil)
