package redis

import (
	"context"
	"os"
	"testing"
)

func TestNewClientRequiresAddress(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty address")
	}
}

func TestKeyPrefix(t *testing.T) {
	if got := (Config{}).Key("wallets"); got != "keygate:wallets" {
		t.Fatalf("unexpected key %s", got)
	}
	if got := (Config{KeyPrefix: "test"}).Key("jobs"); got != "test:jobs" {
		t.Fatalf("unexpected key %s", got)
	}
}

func TestNewClientPing(t *testing.T) {
	addr := os.Getenv("KEYGATE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KEYGATE_TEST_REDIS_ADDR not set")
	}
	client, err := NewClient(context.Background(), Config{Address: addr})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()
}
