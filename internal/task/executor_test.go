package task

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	xerrors "keygate-sdk/internal/errors"
	"keygate-sdk/internal/icp"
	"keygate-sdk/internal/keygate"
)

type stubWallet struct {
	to     string
	amount decimal.Decimal
}

func (s *stubWallet) CreateWallet(context.Context) (string, error) { return "new-wallet", nil }

func (s *stubWallet) GetICPAddress(_ context.Context, walletID string) (string, error) {
	return "addr-" + walletID, nil
}

func (s *stubWallet) GetICPBalance(context.Context, string) (icp.Tokens, error) {
	return icp.FromE8s(250_000_000), nil
}

func (s *stubWallet) Transfer(_ context.Context, _ string, to string, amount decimal.Decimal) (keygate.IntentStatus, error) {
	s.to, s.amount = to, amount
	return keygate.IntentStatus{State: keygate.IntentCompleted, Detail: "ok"}, nil
}

type stubPrompter struct{}

func (stubPrompter) ProcessMessage(_ context.Context, message string) string { return "reply: " + message }

func TestWalletExecutor(t *testing.T) {
	ctx := context.Background()
	w := &stubWallet{}
	exec := NewWalletExecutor(w, stubPrompter{})

	res, err := exec.Execute(ctx, &Job{Type: TypeCreateWallet})
	if err != nil || res.WalletID != "new-wallet" {
		t.Fatalf("create: %+v %v", res, err)
	}
	res, err = exec.Execute(ctx, &Job{Type: TypeGetAddress, WalletID: "w1"})
	if err != nil || res.Address != "addr-w1" {
		t.Fatalf("address: %+v %v", res, err)
	}
	res, err = exec.Execute(ctx, &Job{Type: TypeGetBalance, WalletID: "w1"})
	if err != nil || res.Balance != "2.50000000" || res.BalanceE8s != 250_000_000 {
		t.Fatalf("balance: %+v %v", res, err)
	}
	res, err = exec.Execute(ctx, &Job{Type: TypeTransfer, WalletID: "w1", Payload: Payload{To: "acc", Amount: "0.25"}})
	if err != nil || res.Intent != "Completed(ok)" {
		t.Fatalf("transfer: %+v %v", res, err)
	}
	if w.to != "acc" || !w.amount.Equal(decimal.RequireFromString("0.25")) {
		t.Fatalf("unexpected transfer args %s %s", w.to, w.amount)
	}
	res, err = exec.Execute(ctx, &Job{Type: TypePrompt, Payload: Payload{Message: "hi"}})
	if err != nil || res.Reply != "reply: hi" {
		t.Fatalf("prompt: %+v %v", res, err)
	}

	noAgent := NewWalletExecutor(w, nil)
	if _, err := noAgent.Execute(ctx, &Job{Type: TypePrompt}); xerrors.CodeOf(err) != CodeJobValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
