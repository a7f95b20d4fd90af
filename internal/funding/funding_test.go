package funding

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestDFXFunderDefaultArgs(t *testing.T) {
	var gotName string
	var gotArgs []string
	funder := NewDFXFunder(DFXConfig{}, func(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
		gotName = name
		gotArgs = args
		return []byte("Transfer sent at block height 3"), nil, nil
	})

	if err := funder.Fund(context.Background(), "abc123"); err != nil {
		t.Fatalf("fund: %v", err)
	}
	want := "ledger transfer abc123 --amount 100 --memo 1 --network local --identity minter --fee 0"
	if gotName != "dfx" || strings.Join(gotArgs, " ") != want {
		t.Fatalf("unexpected command %s %v", gotName, gotArgs)
	}
}

func TestDFXFunderReportsStderr(t *testing.T) {
	funder := NewDFXFunder(DFXConfig{Executable: "/opt/dfx", Amount: "5"}, func(context.Context, string, ...string) ([]byte, []byte, error) {
		return nil, []byte("identity minter does not exist\n"), errors.New("exit status 255")
	})
	err := funder.Fund(context.Background(), "abc123")
	if err == nil || !strings.Contains(err.Error(), "identity minter does not exist") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
	if got := funder.Args("x")[4]; got != "5" {
		t.Fatalf("amount override not applied: %s", got)
	}
}

func TestDFXFunderRejectsEmptyAccount(t *testing.T) {
	called := false
	funder := NewDFXFunder(DFXConfig{}, func(context.Context, string, ...string) ([]byte, []byte, error) {
		called = true
		return nil, nil, nil
	})
	if err := funder.Fund(context.Background(), " "); err == nil || called {
		t.Fatalf("expected rejection without running dfx")
	}
}

func TestNoop(t *testing.T) {
	if err := (Noop{}).Fund(context.Background(), "anything"); err != nil {
		t.Fatalf("noop returned %v", err)
	}
}
