package console

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	xerrors "keygate-sdk/internal/errors"
	"keygate-sdk/internal/icp"
	"keygate-sdk/internal/keygate"
)

type echoChatter struct{ seen []string }

func (e *echoChatter) Name() string { return "Echo" }

func (e *echoChatter) ProcessMessage(_ context.Context, message string) string {
	e.seen = append(e.seen, message)
	return "echo " + message
}

func TestRunChatStopsOnQuitWords(t *testing.T) {
	for _, word := range []string{"quit", "EXIT", "Bye"} {
		chatter := &echoChatter{}
		var out bytes.Buffer
		err := RunChat(context.Background(), strings.NewReader("hello\n\n"+word+"\nignored\n"), &out, chatter)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(chatter.seen) != 1 || chatter.seen[0] != "hello" {
			t.Fatalf("unexpected messages for %s: %v", word, chatter.seen)
		}
		if !strings.Contains(out.String(), "You: ") || !strings.Contains(out.String(), "Echo: echo hello") {
			t.Fatalf("unexpected output: %q", out.String())
		}
	}
}

type fakeWallet struct {
	to     string
	amount decimal.Decimal
	err    error
}

func (f *fakeWallet) GetICPBalance(context.Context, string) (icp.Tokens, error) {
	return icp.FromE8s(150_000_000), nil
}

func (f *fakeWallet) Transfer(_ context.Context, _ string, to string, amount decimal.Decimal) (keygate.IntentStatus, error) {
	if f.err != nil {
		return keygate.IntentStatus{}, f.err
	}
	f.to, f.amount = to, amount
	return keygate.IntentStatus{State: keygate.IntentCompleted}, nil
}

func TestShellCommands(t *testing.T) {
	w := &fakeWallet{}
	shell := &Shell{Wallet: w, WalletID: "w1", Address: "acc"}
	input := "balance\naddress\ntransact dest 0.5\ntransact dest\ntransact dest abc\nfly away\nexit\nbalance\n"
	var out, errOut bytes.Buffer

	if err := shell.Run(context.Background(), strings.NewReader(input), &out, &errOut); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Your balance is: 1.50000000 ICP", "Your account ID is: acc", "Transaction sent: Completed", "Exiting..."} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("stdout missing %q: %s", want, out.String())
		}
	}
	for _, want := range []string{"Usage: transact <address> <amount>", "Invalid amount: abc", "Unknown wallet command: fly away"} {
		if !strings.Contains(errOut.String(), want) {
			t.Fatalf("stderr missing %q: %s", want, errOut.String())
		}
	}
	if w.to != "dest" || !w.amount.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("unexpected transfer %s %s", w.to, w.amount)
	}
	if strings.Count(out.String(), "Checking balance") != 1 {
		t.Fatalf("commands after exit must not run")
	}
}

func TestShellReportsTransferFailure(t *testing.T) {
	shell := &Shell{Wallet: &fakeWallet{err: xerrors.New(xerrors.CodeInvalidArgument, "收款地址非法")}, WalletID: "w1"}
	var out, errOut bytes.Buffer
	if err := shell.Run(context.Background(), strings.NewReader("transact x 1\n"), &out, &errOut); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(errOut.String(), "Transaction failed") {
		t.Fatalf("expected failure report, got %q", errOut.String())
	}
}
