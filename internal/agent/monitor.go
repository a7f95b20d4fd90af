package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	xerrors "keygate-sdk/internal/errors"
	"keygate-sdk/internal/icp"
	"keygate-sdk/internal/observability/alerting"
	"keygate-sdk/pkg/logger"
)

// CodeLowBalance 表示钱包余额低于阈值。
const CodeLowBalance xerrors.Code = "LOW_BALANCE"

func init() {
	xerrors.Register(CodeLowBalance, xerrors.Attributes{Message: "Low balance alert", Severity: xerrors.SeverityWarning, Alert: true})
}

// DefaultMinBalance 是余额监控的默认阈值（ICP）。
var DefaultMinBalance = decimal.NewFromInt(5)

// LowBalanceObserver 记录低余额事件，*metrics.Registry 满足该接口。
type LowBalanceObserver interface {
	ObserveLowBalance(walletID string)
}

// BalanceMonitor 检查 Agent 钱包余额，低于阈值时发出告警。
type BalanceMonitor struct {
	Agent      *Agent
	MinBalance decimal.Decimal
	Dispatcher alerting.Dispatcher
	Observer   LowBalanceObserver
}

// Check 读取余额，返回余额与是否低于阈值。
func (m *BalanceMonitor) Check(ctx context.Context) (icp.Tokens, bool, error) {
	walletID, err := m.Agent.requireWallet()
	if err != nil {
		return icp.Tokens{}, false, err
	}
	balance, err := m.Agent.wallet.GetICPBalance(ctx, walletID)
	if err != nil {
		return icp.Tokens{}, false, err
	}

	min := m.MinBalance
	if min.IsZero() {
		min = DefaultMinBalance
	}
	if !balance.Decimal().LessThan(min) {
		return balance, false, nil
	}

	message := fmt.Sprintf("Low balance alert: %s ICP", balance.Decimal().String())
	m.Agent.log.Warn(message, "wallet_id", walletID, "min_balance", min.String())
	if m.Observer != nil {
		m.Observer.ObserveLowBalance(walletID)
	}
	if m.Dispatcher != nil {
		event := alerting.FromError(xerrors.New(CodeLowBalance, message,
			xerrors.WithMetadata("wallet_id", walletID),
			xerrors.WithMetadata("min_balance", min.String()),
		))
		if err := m.Dispatcher.Notify(ctx, event); err != nil {
			m.Agent.log.Error("发送低余额告警失败", "wallet_id", walletID, "error", err)
		}
	}
	return balance, true, nil
}

// RoutineMessage 是自主模式每轮发送的消息。
func RoutineMessage(now time.Time) string {
	return fmt.Sprintf("Current time: %s. Please perform your routine checks and operations.", now.Format("2006-01-02 15:04:05.000000"))
}

// RunAutonomous 按固定间隔执行例行检查，直到 ctx 取消。monitor 可以为空。
func (a *Agent) RunAutonomous(ctx context.Context, interval time.Duration, monitor *BalanceMonitor, out io.Writer) error {
	if interval <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "检查间隔必须大于 0")
	}
	if out == nil {
		out = io.Discard
	}
	log := logger.Named("autonomous")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		response := a.ProcessMessage(ctx, RoutineMessage(time.Now()))
		fmt.Fprintf(out, "\n%s: %s\n", a.name, response)

		if monitor != nil {
			if balance, low, err := monitor.Check(ctx); err != nil {
				log.Warn("余额检查失败", "error", err)
			} else if low {
				fmt.Fprintf(out, "Low balance alert: %s ICP\n", balance.Decimal().String())
			} else {
				log.Debug("余额正常", slog.String("balance", balance.String()))
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
