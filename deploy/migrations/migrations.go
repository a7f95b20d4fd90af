package migrations

import "embed"

// Files 包含钱包登记表与任务表的 SQL 迁移，文件名前缀即版本号。
//
//go:embed *.sql
var Files embed.FS
