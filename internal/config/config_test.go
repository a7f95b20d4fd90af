package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadAppliesDefaultsAndResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keygate.json")
	writeFile(t, path, `{
  "keygate": {"identity_path": "identity.pem"},
  "wallet": {"store": "csv"},
  "agent": {"knowledge_path": "knowledge/notes.json"},
  "llm": {"provider": "openai"}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Keygate.Network != "local" || cfg.Keygate.TimeoutSeconds != 30 {
		t.Fatalf("unexpected keygate defaults: %+v", cfg.Keygate)
	}
	if cfg.Keygate.IdentityPath != filepath.Join(dir, "identity.pem") {
		t.Fatalf("identity path not resolved: %s", cfg.Keygate.IdentityPath)
	}
	if cfg.Wallet.Path != filepath.Join(dir, "wallets.csv") {
		t.Fatalf("unexpected wallet path: %s", cfg.Wallet.Path)
	}
	if cfg.Agent.KnowledgePath != filepath.Join(dir, "knowledge", "notes.json") {
		t.Fatalf("knowledge path not resolved: %s", cfg.Agent.KnowledgePath)
	}
	if cfg.LLM.APIKeyEnv != "OPENAI_API_KEY" {
		t.Fatalf("unexpected api key env: %s", cfg.LLM.APIKeyEnv)
	}
	if cfg.Agent.Name != "ICP Assistant" || cfg.Agent.IntervalSeconds != 60 || cfg.Agent.MinBalance != "5" {
		t.Fatalf("unexpected agent defaults: %+v", cfg.Agent)
	}
	if cfg.Task.Workers != 4 || cfg.Task.MaxRetries != 3 || cfg.Task.Queue.Driver != "memory" {
		t.Fatalf("unexpected task defaults: %+v", cfg.Task)
	}
	if cfg.Auth.Mode != "disabled" || cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server defaults: %+v %+v", cfg.Auth, cfg.Server)
	}
	if !cfg.FundingEnabled() {
		t.Fatalf("funding should default to enabled on the local network")
	}
}

func TestFundingCanBeDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keygate.json")
	writeFile(t, path, `{"funding": {"enabled": false}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.FundingEnabled() {
		t.Fatalf("expected funding disabled")
	}

	writeFile(t, path, `{"keygate": {"network": "ic"}}`)
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.FundingEnabled() {
		t.Fatalf("mainnet must not be funded by default")
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keygate.json")
	writeFile(t, path, `{"keygate": `)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestLoadOrDefaultWithoutFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Wallet.Store != "file" || cfg.Wallet.Path != "config.json" {
		t.Fatalf("unexpected wallet defaults: %+v", cfg.Wallet)
	}
}

func TestPathHonoursEnvironment(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	if Path() != DefaultPath {
		t.Fatalf("unexpected default path: %s", Path())
	}
	t.Setenv(EnvConfigPath, "/etc/keygate.json")
	if Path() != "/etc/keygate.json" {
		t.Fatalf("env path ignored: %s", Path())
	}
}

func TestLoadEnvAndRequireEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env.local")
	writeFile(t, envFile, "KEYGATE_TEST_API_KEY=from-file\n")
	t.Setenv("KEYGATE_TEST_API_KEY", "")
	os.Unsetenv("KEYGATE_TEST_API_KEY")

	if err := LoadEnv(envFile, filepath.Join(dir, "absent.env")); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("KEYGATE_TEST_API_KEY"); got != "from-file" {
		t.Fatalf("unexpected value: %q", got)
	}
	if err := RequireEnv("KEYGATE_TEST_API_KEY"); err != nil {
		t.Fatalf("require env: %v", err)
	}

	err := RequireEnv("KEYGATE_TEST_MISSING_A", "KEYGATE_TEST_MISSING_B")
	if err == nil || !strings.Contains(err.Error(), "KEYGATE_TEST_MISSING_A, KEYGATE_TEST_MISSING_B") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJWTSecretFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keygate.json")
	writeFile(t, path, `{"auth": {"mode": "jwt", "jwt": {"secret": "inline", "secret_env": "KEYGATE_TEST_JWT"}}}`)
	t.Setenv("KEYGATE_TEST_JWT", "from-env")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.JWT.Secret != "from-env" {
		t.Fatalf("unexpected secret: %s", cfg.Auth.JWT.Secret)
	}
}

func TestShippedConfigFundsWithFaucetAmount(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "keygate.json"))
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	if cfg.Funding.Amount != "100" || cfg.Funding.Memo != "1" {
		t.Fatalf("unexpected funding section: %+v", cfg.Funding)
	}
}
