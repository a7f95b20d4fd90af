package pythonbridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	xerrors "keygate-sdk/internal/errors"
	"keygate-sdk/internal/llm"
)

func TestCompleteRunsScript(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "echo.sh")
	content := "#!/bin/sh\ncat > request.json\necho '{\"text\":\"<function>get_balance</function>\"}'\n"
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	client, err := NewClient(sh, script, dir)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := client.Complete(context.Background(), llm.Request{
		System:   "system",
		Messages: []llm.Message{llm.UserMessage("balance?")},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "<function>get_balance</function>" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "request.json"))
	if err != nil {
		t.Fatalf("script did not receive request: %v", err)
	}
	if len(raw) == 0 || raw[0] != '{' {
		t.Fatalf("unexpected request payload %q", raw)
	}
}

func TestCompleteReportsStderr(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fail.sh")
	_ = os.WriteFile(script, []byte("#!/bin/sh\necho 'model offline' >&2\nexit 3\n"), 0o755)

	client, _ := NewClient(sh, script, dir)
	if _, err := client.Complete(context.Background(), llm.Request{Messages: []llm.Message{llm.UserMessage("x")}}); err == nil {
		t.Fatalf("expected error from failing script")
	}
}

func TestResolveScriptPath(t *testing.T) {
	if got := ResolveScriptPath("/srv", "agent.py"); got != "/srv/agent.py" {
		t.Fatalf("unexpected path %s", got)
	}
	if got := ResolveScriptPath("/srv", "/opt/agent.py"); got != "/opt/agent.py" {
		t.Fatalf("unexpected path %s", got)
	}
	if _, err := NewClient("", "", ""); err == nil {
		t.Fatalf("expected error for empty script")
	}
}

func TestCompleteAcceptsPlainText(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "plain.sh")
	_ = os.WriteFile(script, []byte("#!/bin/sh\ncat >/dev/null\necho 'Your balance is fine.'\n"), 0o755)

	client, _ := NewClient(sh, script, dir)
	resp, err := client.Complete(context.Background(), llm.Request{Messages: []llm.Message{llm.UserMessage("hi")}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "Your balance is fine." || resp.Model != "python_bridge" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCompleteFailureCarriesExitCode(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fail.sh")
	_ = os.WriteFile(script, []byte("#!/bin/sh\necho 'model offline' >&2\nexit 3\n"), 0o755)

	client, _ := NewClient(sh, script, dir)
	_, err = client.Complete(context.Background(), llm.Request{})
	e, ok := xerrors.From(err)
	if !ok || e.Code() != xerrors.CodeUpstreamFailure {
		t.Fatalf("unexpected error %v", err)
	}
	if md := e.Metadata(); md["exit_code"] != "3" || md["stderr"] != "model offline" {
		t.Fatalf("unexpected metadata %v", md)
	}
}
