package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"keygate-sdk/internal/icp"
	"keygate-sdk/internal/keygate"
	"keygate-sdk/pkg/logger"
)

// Chatter 处理一条聊天消息，*agent.Agent 满足该接口。
type Chatter interface {
	Name() string
	ProcessMessage(ctx context.Context, message string) string
}

// RunChat 运行交互式对话，输入 quit、exit 或 bye 时退出。
func RunChat(ctx context.Context, in io.Reader, out io.Writer, chatter Chatter) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(input) {
		case "quit", "exit", "bye":
			return nil
		case "":
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		response := chatter.ProcessMessage(ctx, input)
		fmt.Fprintf(out, "\n%s: %s\n", chatter.Name(), response)
	}
}

// Wallet 是钱包命令行依赖的能力，*wallet.Service 满足该接口。
type Wallet interface {
	GetICPBalance(ctx context.Context, walletID string) (icp.Tokens, error)
	Transfer(ctx context.Context, walletID, to string, amount decimal.Decimal) (keygate.IntentStatus, error)
}

// Shell 是单个钱包的命令行。
type Shell struct {
	Wallet   Wallet
	WalletID string
	Address  string
}

// Run 读取命令直到 exit 或输入结束。支持 balance、address、transact <address> <amount>。
func (s *Shell) Run(ctx context.Context, in io.Reader, out, errOut io.Writer) error {
	log := logger.Named("shell")
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		switch fields[0] {
		case "balance":
			fmt.Fprint(out, "Checking balance... ")
			balance, err := s.Wallet.GetICPBalance(ctx, s.WalletID)
			if err != nil {
				fmt.Fprintf(errOut, "Failed to check balance: %v\n", err)
				log.Warn("查询余额失败", "wallet_id", s.WalletID, "error", err)
				continue
			}
			fmt.Fprintf(out, "Your balance is: %s ICP\n", balance)
		case "address":
			fmt.Fprintf(out, "Your account ID is: %s\n", s.Address)
		case "transact":
			if len(fields) < 3 {
				fmt.Fprintln(errOut, "Usage: transact <address> <amount>")
				continue
			}
			amount, err := decimal.NewFromString(fields[2])
			if err != nil {
				fmt.Fprintf(errOut, "Invalid amount: %s\n", fields[2])
				continue
			}
			fmt.Fprintln(out, "Sending transaction... ")
			status, err := s.Wallet.Transfer(ctx, s.WalletID, fields[1], amount)
			if err != nil {
				fmt.Fprintf(errOut, "Transaction failed: %v\n", err)
				log.Warn("转账失败", "wallet_id", s.WalletID, "to", fields[1], "error", err)
				continue
			}
			fmt.Fprintf(out, "Transaction sent: %s\n", status)
		case "exit":
			fmt.Fprintln(out, "Exiting...")
			return nil
		default:
			fmt.Fprintf(errOut, "Unknown wallet command: %s\n", strings.Join(fields, " "))
		}
	}
	return scanner.Err()
}
