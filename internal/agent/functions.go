package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "keygate-sdk/internal/errors"
	"keygate-sdk/internal/keygate"
)

// Function 是大模型可以调用的钱包操作。
type Function string

const (
	FuncGetBalance         Function = "get_balance"
	FuncGetWalletAddress   Function = "get_wallet_address"
	FuncCreateWallet       Function = "create_wallet"
	FuncExecuteTransaction Function = "execute_transaction"
)

type handlerFunc func(ctx context.Context, a *Agent, args json.RawMessage) (string, error)

type functionSpec struct {
	description string
	handler     handlerFunc
}

var functionOrder = []Function{FuncGetBalance, FuncGetWalletAddress, FuncCreateWallet, FuncExecuteTransaction}

var functionTable = map[Function]functionSpec{
	FuncGetBalance: {
		description: "Get the ICP balance of the agent's wallet.",
		handler: func(ctx context.Context, a *Agent, _ json.RawMessage) (string, error) {
			walletID, err := a.requireWallet()
			if err != nil {
				return "", err
			}
			balance, err := a.wallet.GetICPBalance(ctx, walletID)
			if err != nil {
				return "", err
			}
			return balance.String(), nil
		},
	},
	FuncGetWalletAddress: {
		description: "Get the ICP address for the agent's wallet.",
		handler: func(ctx context.Context, a *Agent, _ json.RawMessage) (string, error) {
			walletID, err := a.requireWallet()
			if err != nil {
				return "", err
			}
			return a.wallet.GetICPAddress(ctx, walletID)
		},
	},
	FuncCreateWallet: {
		description: "Create a new ICP wallet.",
		handler: func(ctx context.Context, a *Agent, _ json.RawMessage) (string, error) {
			return a.wallet.CreateWallet(ctx)
		},
	},
	FuncExecuteTransaction: {
		description: `Execute an ICP transaction to a recipient address. Arguments: {"recipient_address": "<account id>", "amount": <ICP>}`,
		handler: func(ctx context.Context, a *Agent, args json.RawMessage) (string, error) {
			walletID, err := a.requireWallet()
			if err != nil {
				return "", err
			}
			tx, err := parseTransactionArgs(args)
			if err != nil {
				return "", err
			}
			status, err := a.wallet.ExecuteTransaction(ctx, walletID, tx)
			if err != nil {
				return "", err
			}
			return status.String(), nil
		},
	},
}

// Functions 返回全部可调用的函数，顺序固定。
func Functions() []Function {
	return append([]Function(nil), functionOrder...)
}

// ParseFunction 把名称映射到已知函数。
func ParseFunction(name string) (Function, bool) {
	fn := Function(strings.TrimSpace(name))
	_, ok := functionTable[fn]
	return fn, ok
}

// Description 返回函数说明，未知函数返回空串。
func (f Function) Description() string {
	return functionTable[f].description
}

type transactionArguments struct {
	RecipientAddress string          `json:"recipient_address"`
	Amount           decimal.Decimal `json:"amount"`
}

func parseTransactionArgs(raw json.RawMessage) (keygate.TransactionArgs, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return keygate.TransactionArgs{}, xerrors.New(xerrors.CodeInvalidArgument, "execute_transaction requires <arguments> with recipient_address and amount")
	}
	var args transactionArguments
	if err := json.Unmarshal(raw, &args); err != nil {
		return keygate.TransactionArgs{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法解析交易参数")
	}
	if strings.TrimSpace(args.RecipientAddress) == "" {
		return keygate.TransactionArgs{}, xerrors.New(xerrors.CodeInvalidArgument, "recipient_address is required")
	}
	return keygate.TransactionArgs{To: args.RecipientAddress, Amount: args.Amount}, nil
}

// parseFunctionCall 提取第一组 <function> 标签及可选的 <arguments> 块。
func parseFunctionCall(content string) (name string, args json.RawMessage, found bool) {
	name, ok := between(content, "<function>", "</function>")
	if !ok {
		return "", nil, false
	}
	if raw, ok := between(content, "<arguments>", "</arguments>"); ok {
		args = json.RawMessage(raw)
	}
	return name, args, true
}

func between(content, open, close string) (string, bool) {
	start := strings.Index(content, open)
	if start < 0 {
		return "", false
	}
	rest := content[start+len(open):]
	end := strings.Index(rest, close)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func formatFunctions() string {
	var b strings.Builder
	b.WriteString("Available functions:\n\n")
	for _, fn := range functionOrder {
		fmt.Fprintf(&b, "%s: %s\n\n", fn, fn.Description())
	}
	return b.String()
}
