package task

import (
	"context"

	"github.com/shopspring/decimal"

	xerrors "keygate-sdk/internal/errors"
	"keygate-sdk/internal/icp"
	"keygate-sdk/internal/keygate"
)

// Executor 执行单个任务。
type Executor interface {
	Execute(ctx context.Context, job *Job) (*Result, error)
}

// WalletService 是执行钱包任务所需的能力，*wallet.Service 满足该接口。
type WalletService interface {
	CreateWallet(ctx context.Context) (string, error)
	GetICPAddress(ctx context.Context, walletID string) (string, error)
	GetICPBalance(ctx context.Context, walletID string) (icp.Tokens, error)
	Transfer(ctx context.Context, walletID, to string, amount decimal.Decimal) (keygate.IntentStatus, error)
}

// Prompter 处理自然语言消息，*agent.Agent 满足该接口。
type Prompter interface {
	ProcessMessage(ctx context.Context, message string) string
}

// WalletExecutor 把任务类型映射到钱包服务调用。
type WalletExecutor struct {
	wallet   WalletService
	prompter Prompter
}

// NewWalletExecutor 创建执行器，prompter 为空时 prompt 任务会失败。
func NewWalletExecutor(wallet WalletService, prompter Prompter) *WalletExecutor {
	return &WalletExecutor{wallet: wallet, prompter: prompter}
}

// Execute 实现 Executor。
func (e *WalletExecutor) Execute(ctx context.Context, job *Job) (*Result, error) {
	if e.wallet == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置钱包服务")
	}
	switch job.Type {
	case TypeCreateWallet:
		walletID, err := e.wallet.CreateWallet(ctx)
		if err != nil {
			return nil, err
		}
		return &Result{WalletID: walletID}, nil
	case TypeGetAddress:
		address, err := e.wallet.GetICPAddress(ctx, job.WalletID)
		if err != nil {
			return nil, err
		}
		return &Result{WalletID: job.WalletID, Address: address}, nil
	case TypeGetBalance:
		balance, err := e.wallet.GetICPBalance(ctx, job.WalletID)
		if err != nil {
			return nil, err
		}
		return &Result{WalletID: job.WalletID, Balance: balance.String(), BalanceE8s: balance.E8s}, nil
	case TypeTransfer:
		amount, err := decimal.NewFromString(job.Payload.Amount)
		if err != nil {
			return nil, xerrors.Wrap(CodeJobValidation, err, "转账金额非法")
		}
		status, err := e.wallet.Transfer(ctx, job.WalletID, job.Payload.To, amount)
		if err != nil {
			return nil, err
		}
		return &Result{WalletID: job.WalletID, Intent: status.String()}, nil
	case TypePrompt:
		if e.prompter == nil {
			return nil, xerrors.New(CodeJobValidation, "未配置 Agent，无法处理 prompt 任务")
		}
		return &Result{Reply: e.prompter.ProcessMessage(ctx, job.Payload.Message)}, nil
	default:
		return nil, xerrors.New(CodeJobValidation, "未知的任务类型 "+string(job.Type))
	}
}

var _ Executor = (*WalletExecutor)(nil)
