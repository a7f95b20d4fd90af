package task

import (
	"slices"
	"strings"
	"time"
)

// 列表分页的默认值与上限。
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// SortOrder 是列表按更新时间排序的方向。
type SortOrder int

const (
	// SortByUpdatedDesc 最近更新的在前。
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc 最早更新的在前。
	SortByUpdatedAsc
)

// ListOptions 是查询任务列表与统计的过滤条件。时间为 Unix 秒，0 表示不限。
type ListOptions struct {
	Limit      int
	Offset     int
	Statuses   []Status
	Types      []Type
	WalletID   string
	UpdatedGTE int64
	UpdatedLTE int64
	Order      SortOrder
}

func (opts *ListOptions) applyDefaults() {
	switch {
	case opts.Limit <= 0:
		opts.Limit = DefaultListLimit
	case opts.Limit > MaxListLimit:
		opts.Limit = MaxListLimit
	}
	opts.Offset = max(opts.Offset, 0)
	opts.Statuses = dedupe(opts.Statuses, IsValidStatus)
	opts.Types = dedupe(opts.Types, IsValidType)
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
	opts.WalletID = strings.TrimSpace(opts.WalletID)
}

// Match 判断任务是否满足过滤条件，分页参数不参与判断。
func (opts ListOptions) Match(job *Job) bool {
	switch {
	case len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, job.Status):
		return false
	case len(opts.Types) > 0 && !slices.Contains(opts.Types, job.Type):
		return false
	case opts.WalletID != "" && job.WalletID != opts.WalletID:
		return false
	case opts.UpdatedGTE > 0 && job.UpdatedAt < opts.UpdatedGTE:
		return false
	case opts.UpdatedLTE > 0 && job.UpdatedAt > opts.UpdatedLTE:
		return false
	}
	return true
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

// WithLimit 限制返回条数，超过 MaxListLimit 时截断。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

// WithOffset 跳过前 offset 条。
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithStatuses 只返回给定状态的任务，未知状态会被忽略。
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) { opts.Statuses = append(opts.Statuses, statuses...) }
}

// WithTypes 只返回给定类型的任务。
func WithTypes(types ...Type) ListOption {
	return func(opts *ListOptions) { opts.Types = append(opts.Types, types...) }
}

// WithWalletID 只返回针对某个钱包的任务。
func WithWalletID(walletID string) ListOption {
	return func(opts *ListOptions) { opts.WalletID = walletID }
}

// WithUpdatedSince 只返回 ts 及之后更新的任务。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedGTE = unixOrZero(ts) }
}

// WithUpdatedUntil 只返回 ts 及之前更新的任务。
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedLTE = unixOrZero(ts) }
}

// WithSortOrder 设置排序方向。
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

func buildListOptions(opts []ListOption) ListOptions {
	var options ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

// dedupe 保序去重并丢弃 valid 不认可的值，结果为空时返回 nil。
func dedupe[T comparable](in []T, valid func(T) bool) []T {
	var out []T
	for _, v := range in {
		if valid(v) && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
