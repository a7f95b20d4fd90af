package task

import (
	"strings"

	"github.com/shopspring/decimal"

	xerrors "keygate-sdk/internal/errors"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Type 是钱包任务的类型。
type Type string

const (
	TypeCreateWallet Type = "create_wallet"
	TypeGetBalance   Type = "get_balance"
	TypeGetAddress   Type = "get_address"
	TypeTransfer     Type = "transfer"
	TypePrompt       Type = "prompt"
)

// Payload 是任务参数，不同类型使用不同字段。
type Payload struct {
	To      string `json:"to,omitempty"`
	Amount  string `json:"amount,omitempty"`
	Message string `json:"message,omitempty"`
}

// Result 保存一次任务执行的结果。
type Result struct {
	WalletID   string `json:"wallet_id,omitempty"`
	Address    string `json:"address,omitempty"`
	Balance    string `json:"balance,omitempty"`
	BalanceE8s uint64 `json:"balance_e8s,omitempty"`
	Intent     string `json:"intent,omitempty"`
	Reply      string `json:"reply,omitempty"`
}

// Empty 判断结果是否没有任何内容。
func (r *Result) Empty() bool {
	return r == nil || *r == Result{}
}

// Job 描述了排队执行的钱包任务。
type Job struct {
	ID         string  `json:"id"`
	Type       Type    `json:"type"`
	WalletID   string  `json:"wallet_id,omitempty"`
	Payload    Payload `json:"payload"`
	Status     Status  `json:"status"`
	Attempts   int     `json:"attempts"`
	MaxRetries int     `json:"max_retries"`
	LastError  string  `json:"last_error,omitempty"`
	ErrorCode  string  `json:"error_code,omitempty"`
	Result     *Result `json:"result,omitempty"`
	CreatedAt  int64   `json:"created_at"`
	UpdatedAt  int64   `json:"updated_at"`
}

// Request 是提交任务的参数。ID 非空时按 ID 幂等。
type Request struct {
	ID       string  `json:"id,omitempty"`
	Type     Type    `json:"type"`
	WalletID string  `json:"wallet_id,omitempty"`
	Payload  Payload `json:"payload"`
}

var (
	// ErrJobNotFound 表示指定的任务不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrJobConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(CodeJobConflict, "job conflict")
	// ErrJobCompleted 表示任务已经结束。
	ErrJobCompleted = xerrors.New(CodeJobCompleted, "job already completed")
	// ErrJobExhausted 表示任务的重试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "job retries exhausted")
)

const (
	CodeJobNotFound    xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict    xerrors.Code = "JOB_CONFLICT"
	CodeJobCompleted   xerrors.Code = "JOB_COMPLETED"
	CodeJobExhausted   xerrors.Code = "JOB_RETRIES_EXHAUSTED"
	CodeJobValidation  xerrors.Code = "JOB_VALIDATION_FAILED"
	CodeJobPublish     xerrors.Code = "JOB_PUBLISH_FAILED"
	CodeJobProcessing  xerrors.Code = "JOB_PROCESSING_FAILED"
	CodeJobInterrupted xerrors.Code = "JOB_INTERRUPTED"
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:  "job not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:  "job conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{
		Message:  "job already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:  "job retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeJobValidation, xerrors.Attributes{
		Message:  "job validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{
		Message:   "job execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobInterrupted, xerrors.Attributes{
		Message:  "job interrupted by shutdown",
		Severity: xerrors.SeverityWarning,
	})
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// IsValidType 检查任务类型。
func IsValidType(t Type) bool {
	switch t {
	case TypeCreateWallet, TypeGetBalance, TypeGetAddress, TypeTransfer, TypePrompt:
		return true
	default:
		return false
	}
}

// Terminal 判断任务是否已经结束。
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// SingleAttempt 判断该类型的任务是否只能执行一次。
// 创建钱包和转账不是幂等操作，失败后不会重新入队。
func (t Type) SingleAttempt() bool {
	return t == TypeCreateWallet || t == TypeTransfer
}

// Validate 检查请求参数，在入队之前拒绝明显错误的任务。
func (r Request) Validate() error {
	if !IsValidType(r.Type) {
		return xerrors.New(CodeJobValidation, "未知的任务类型 "+string(r.Type))
	}
	switch r.Type {
	case TypeGetBalance, TypeGetAddress, TypeTransfer:
		if strings.TrimSpace(r.WalletID) == "" {
			return xerrors.New(CodeJobValidation, "Wallet ID cannot be empty")
		}
	}
	switch r.Type {
	case TypeTransfer:
		if strings.TrimSpace(r.Payload.To) == "" {
			return xerrors.New(CodeJobValidation, "转账任务缺少收款地址")
		}
		if _, err := decimal.NewFromString(r.Payload.Amount); err != nil {
			return xerrors.Wrap(CodeJobValidation, err, "转账金额非法")
		}
	case TypePrompt:
		if strings.TrimSpace(r.Payload.Message) == "" {
			return xerrors.New(CodeJobValidation, "消息不能为空")
		}
	}
	return nil
}

func cloneJob(job *Job) *Job {
	clone := *job
	if job.Result != nil {
		result := *job.Result
		clone.Result = &result
	}
	return &clone
}
