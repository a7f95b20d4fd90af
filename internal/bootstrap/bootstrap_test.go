package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"keygate-sdk/internal/agent"
	"keygate-sdk/internal/config"
	"keygate-sdk/internal/funding"
	"keygate-sdk/internal/keygate"
	"keygate-sdk/internal/llm/openai"
	"keygate-sdk/internal/task"
	"keygate-sdk/internal/wallet"
)

func defaults(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default(t.TempDir())
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	return cfg
}

func TestNetworkResolution(t *testing.T) {
	cfg := defaults(t)
	n, err := Network(cfg)
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	if n.URL != keygate.LocalURL || !n.ShouldFetchRootKey() {
		t.Fatalf("unexpected local network: %+v", n)
	}

	cfg.Keygate.URL = "https://keygate.example.com"
	n, err = Network(cfg)
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	if n.URL != "https://keygate.example.com" || n.ShouldFetchRootKey() {
		t.Fatalf("unexpected url network: %+v", n)
	}

	cfg.Keygate.URL = ""
	cfg.Keygate.Network = "staging"
	if _, err := Network(cfg); err == nil {
		t.Fatalf("expected unknown network error")
	}

	path := filepath.Join(t.TempDir(), "networks.yaml")
	if err := os.WriteFile(path, []byte("default: staging\nnetworks:\n  staging:\n    url: https://staging.example.com\n"), 0o600); err != nil {
		t.Fatalf("write networks: %v", err)
	}
	cfg.Keygate.NetworksFile = path
	n, err = Network(cfg)
	if err != nil {
		t.Fatalf("network from file: %v", err)
	}
	if n.URL != "https://staging.example.com" {
		t.Fatalf("unexpected staging network: %+v", n)
	}
}

func TestWalletStoreSelection(t *testing.T) {
	ctx := context.Background()
	cfg := defaults(t)
	res := NewResources(cfg)
	defer res.Close()

	store, err := WalletStore(ctx, cfg, res)
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	if _, ok := store.(*wallet.FileStore); !ok {
		t.Fatalf("expected file store, got %T", store)
	}

	cfg.Wallet.Store = "csv"
	cfg.Wallet.Path = filepath.Join(t.TempDir(), "wallets.csv")
	store, err = WalletStore(ctx, cfg, res)
	if err != nil {
		t.Fatalf("csv store: %v", err)
	}
	if _, ok := store.(*wallet.CSVStore); !ok {
		t.Fatalf("expected csv store, got %T", store)
	}

	cfg.Wallet.Store = "memory"
	if store, _ = WalletStore(ctx, cfg, res); store == nil {
		t.Fatalf("expected memory store")
	}

	cfg.Wallet.Store = "etcd"
	if _, err := WalletStore(ctx, cfg, res); err == nil {
		t.Fatalf("expected unknown store error")
	}

	cfg.Wallet.Store = "redis"
	cfg.Storage.Redis.Address = ""
	if _, err := WalletStore(ctx, cfg, res); err == nil {
		t.Fatalf("expected missing redis address error")
	}
}

func TestFunderFollowsNetwork(t *testing.T) {
	cfg := defaults(t)
	if _, ok := Funder(cfg).(*funding.DFXFunder); !ok {
		t.Fatalf("local network should fund with dfx")
	}
	cfg.Keygate.Network = "ic"
	if _, ok := Funder(cfg).(funding.Noop); !ok {
		t.Fatalf("mainnet should not fund")
	}
}

func TestLLMClientSelection(t *testing.T) {
	cfg := defaults(t)
	cfg.LLM.APIKeyEnv = "KEYGATE_TEST_LLM_KEY"
	t.Setenv("KEYGATE_TEST_LLM_KEY", "")
	if _, err := LLMClient(cfg); err == nil {
		t.Fatalf("expected missing api key error")
	}

	t.Setenv("KEYGATE_TEST_LLM_KEY", "sk-test")
	cfg.LLM.Provider = "openai"
	client, err := LLMClient(cfg)
	if err != nil {
		t.Fatalf("openai client: %v", err)
	}
	if _, ok := client.(*openai.Client); !ok {
		t.Fatalf("unexpected client %T", client)
	}

	cfg.LLM.Provider = "llama"
	if _, err := LLMClient(cfg); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}

func TestAlertDispatcherChannels(t *testing.T) {
	cfg := defaults(t)
	if _, err := AlertDispatcher(cfg); err != nil {
		t.Fatalf("log channel: %v", err)
	}
	cfg.Alerting.Channels = []string{"log", "webhook"}
	if _, err := AlertDispatcher(cfg); err == nil {
		t.Fatalf("expected missing webhook url error")
	}
	cfg.Alerting.WebhookURL = "http://alerts.local/hook"
	cfg.Alerting.Channels = append(cfg.Alerting.Channels, "pager")
	if _, err := AlertDispatcher(cfg); err == nil {
		t.Fatalf("expected unknown channel error")
	}
}

func TestTaskBackends(t *testing.T) {
	ctx := context.Background()
	cfg := defaults(t)
	res := NewResources(cfg)
	defer res.Close()

	store, err := TaskStore(ctx, cfg, res)
	if err != nil {
		t.Fatalf("task store: %v", err)
	}
	if _, ok := store.(*task.MemoryStore); !ok {
		t.Fatalf("unexpected store %T", store)
	}
	queue, err := TaskQueue(ctx, cfg, res)
	if err != nil {
		t.Fatalf("task queue: %v", err)
	}
	if _, ok := queue.(*task.MemoryQueue); !ok {
		t.Fatalf("unexpected queue %T", queue)
	}
	cfg.Task.Queue.Driver = "kafka"
	cfg.Task.Kafka.Brokers = nil
	if _, err := TaskQueue(ctx, cfg, res); err == nil {
		t.Fatalf("expected missing brokers error")
	}
	cfg.Task.Queue.Driver = "sqs"
	if _, err := TaskQueue(ctx, cfg, res); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestAuthAndMinBalance(t *testing.T) {
	cfg := defaults(t)
	svc, err := AuthService(cfg)
	if err != nil || svc.Mode() != "disabled" {
		t.Fatalf("auth: %v", err)
	}
	cfg.Auth.Mode = "jwt"
	if _, err := AuthService(cfg); err == nil {
		t.Fatalf("expected missing secret error")
	}

	min, err := MinBalance(cfg)
	if err != nil || min.String() != "5" {
		t.Fatalf("min balance: %v %s", err, min)
	}
	cfg.Agent.MinBalance = "abc"
	if _, err := MinBalance(cfg); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestAgentSystemPromptCarriesModeInstructions(t *testing.T) {
	cfg := defaults(t)
	cfg.Agent.KnowledgePath = ""

	cases := map[string]string{
		"chat":       agent.ChatInstructions,
		"autonomous": agent.AutonomousInstructions,
	}
	for mode, want := range cases {
		ag, err := NewAgent(cfg, nil, nil, "", Instructions(mode))
		if err != nil {
			t.Fatalf("%s agent: %v", mode, err)
		}
		prompt := ag.SystemPrompt("check my balance")
		if !strings.Contains(prompt, strings.TrimSpace(want)) {
			t.Fatalf("%s prompt misses instructions:\n%s", mode, prompt)
		}
	}

	cfg.Agent.Instructions = "Only report balances."
	ag, err := NewAgent(cfg, nil, nil, "", Instructions("chat"))
	if err != nil {
		t.Fatalf("configured agent: %v", err)
	}
	prompt := ag.SystemPrompt("hello")
	if !strings.Contains(prompt, "Only report balances.") || strings.Contains(prompt, "security-conscious") {
		t.Fatalf("configured instructions not preferred:\n%s", prompt)
	}
}
