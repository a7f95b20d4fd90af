package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MySQLStore 把钱包 ID 写入 wallets 表，按网络区分。
type MySQLStore struct {
	db      *sql.DB
	network string
}

// NewMySQLStore 使用已迁移的连接池创建存储。
func NewMySQLStore(db *sql.DB, network string) (*MySQLStore, error) {
	if db == nil {
		return nil, errors.New("MySQL 连接不能为空")
	}
	if network == "" {
		network = "local"
	}
	return &MySQLStore{db: db, network: network}, nil
}

// Add 使用 INSERT IGNORE 保证幂等。
func (s *MySQLStore) Add(ctx context.Context, walletID string) error {
	const query = `INSERT IGNORE INTO wallets (wallet_id, network, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, walletID, s.network, time.Now().Unix()); err != nil {
		return fmt.Errorf("写入钱包表失败: %w", err)
	}
	return nil
}

// List 按创建时间返回钱包 ID。
func (s *MySQLStore) List(ctx context.Context) ([]string, error) {
	const query = `SELECT wallet_id FROM wallets WHERE network = ? ORDER BY created_at, wallet_id`
	rows, err := s.db.QueryContext(ctx, query, s.network)
	if err != nil {
		return nil, fmt.Errorf("查询钱包表失败: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("解析钱包记录失败: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历钱包记录失败: %w", err)
	}
	return ids, nil
}

// Close 关闭连接池。
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
