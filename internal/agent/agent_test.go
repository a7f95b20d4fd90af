package agent

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	xerrors "keygate-sdk/internal/errors"
	"keygate-sdk/internal/icp"
	"keygate-sdk/internal/keygate"
	"keygate-sdk/internal/knowledge"
	"keygate-sdk/internal/llm"
	"keygate-sdk/internal/observability/alerting"
)

type stubLLM struct {
	mu       sync.Mutex
	replies  []string
	err      error
	wait     time.Duration
	requests []llm.Request
}

func (s *stubLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.replies) == 0 {
		return &llm.Response{Text: "done"}, nil
	}
	text := s.replies[0]
	s.replies = s.replies[1:]
	return &llm.Response{Text: text}, nil
}

type stubWallet struct {
	balance    icp.Tokens
	balanceErr error
	created    int
	lastTx     keygate.TransactionArgs
}

func (w *stubWallet) Init(context.Context) error { return nil }

func (w *stubWallet) CreateWallet(context.Context) (string, error) {
	w.created++
	return "wallet-" + string(rune('0'+w.created)), nil
}

func (w *stubWallet) GetICPAddress(_ context.Context, walletID string) (string, error) {
	return "address-of-" + walletID, nil
}

func (w *stubWallet) GetICPBalance(context.Context, string) (icp.Tokens, error) {
	return w.balance, w.balanceErr
}

func (w *stubWallet) ExecuteTransaction(_ context.Context, _ string, tx keygate.TransactionArgs) (keygate.IntentStatus, error) {
	w.lastTx = tx
	return keygate.IntentStatus{State: keygate.IntentCompleted, Detail: "block 7"}, nil
}

func newTestAgent(t *testing.T, model *stubLLM, w *stubWallet, opts ...Option) *Agent {
	t.Helper()
	ag := New("ICP Assistant", ChatInstructions, model, w, opts...)
	if err := ag.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return ag
}

func TestProcessMessagePlainReply(t *testing.T) {
	model := &stubLLM{replies: []string{"I cannot see market prices."}}
	ag := newTestAgent(t, model, &stubWallet{})

	got := ag.ProcessMessage(context.Background(), "What's the ICP price?")
	if got != "I cannot see market prices." {
		t.Fatalf("unexpected reply %q", got)
	}
	if len(model.requests) != 1 {
		t.Fatalf("expected one completion, got %d", len(model.requests))
	}
	system := model.requests[0].System
	if !strings.Contains(system, "You are ICP Assistant, an AI agent with an ICP wallet.") ||
		!strings.Contains(system, "get_balance: Get the ICP balance of the agent's wallet.") ||
		!strings.Contains(system, "<function>function_name</function>") {
		t.Fatalf("system prompt incomplete:\n%s", system)
	}
	if model.requests[0].MaxTokens != 1024 || model.requests[0].Temperature != 0 {
		t.Fatalf("unexpected sampling: %+v", model.requests[0])
	}
}

func TestProcessMessageDispatchesFunction(t *testing.T) {
	model := &stubLLM{replies: []string{"<function>get_balance</function>", "You have 100 ICP."}}
	ag := newTestAgent(t, model, &stubWallet{balance: icp.FromE8s(100 * icp.E8sPerICP)})

	got := ag.ProcessMessage(context.Background(), "What's my balance?")
	if got != "You have 100 ICP." {
		t.Fatalf("unexpected reply %q", got)
	}
	if len(model.requests) != 2 {
		t.Fatalf("expected two completions, got %d", len(model.requests))
	}
	follow := model.requests[1].Messages
	if len(follow) != 3 || follow[1].Role != llm.RoleAssistant || follow[2].Content != "Function result: 100.00000000" {
		t.Fatalf("unexpected follow-up messages: %+v", follow)
	}
}

func TestProcessMessageExecuteTransactionArguments(t *testing.T) {
	model := &stubLLM{replies: []string{
		"<function>execute_transaction</function>\n<arguments>{\"recipient_address\": \"abc\", \"amount\": 1.5}</arguments>",
		"Sent.",
	}}
	w := &stubWallet{}
	ag := newTestAgent(t, model, w)

	if got := ag.ProcessMessage(context.Background(), "send 1.5 ICP to abc"); got != "Sent." {
		t.Fatalf("unexpected reply %q", got)
	}
	if w.lastTx.To != "abc" || !w.lastTx.Amount.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("unexpected transaction args: %+v", w.lastTx)
	}
	if !strings.Contains(model.requests[1].Messages[2].Content, "Completed(block 7)") {
		t.Fatalf("status not forwarded: %+v", model.requests[1].Messages[2])
	}
}

func TestProcessMessageExecuteTransactionWithoutArguments(t *testing.T) {
	model := &stubLLM{replies: []string{"<function>execute_transaction</function>"}}
	ag := newTestAgent(t, model, &stubWallet{})

	got := ag.ProcessMessage(context.Background(), "send money")
	if !strings.HasPrefix(got, "Error processing message: execute_transaction:") {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestProcessMessageUnknownFunctionReturnsFirstReply(t *testing.T) {
	model := &stubLLM{replies: []string{"<function>buy_nft</function>"}}
	ag := newTestAgent(t, model, &stubWallet{})

	if got := ag.ProcessMessage(context.Background(), "buy an nft"); got != "<function>buy_nft</function>" {
		t.Fatalf("unexpected reply %q", got)
	}
	if len(model.requests) != 1 {
		t.Fatalf("unknown functions must not trigger a second completion")
	}
}

func TestProcessMessageErrorsBecomeText(t *testing.T) {
	model := &stubLLM{replies: []string{"<function>get_balance</function>"}}
	ag := newTestAgent(t, model, &stubWallet{balanceErr: xerrors.New(xerrors.CodeUpstreamFailure, "ledger down")})

	got := ag.ProcessMessage(context.Background(), "balance?")
	if !strings.HasPrefix(got, "Error processing message: ") || !strings.Contains(got, "ledger down") {
		t.Fatalf("unexpected reply %q", got)
	}

	failing := New("x", "", &stubLLM{err: errors.New("api key rejected")}, &stubWallet{})
	if got := failing.ProcessMessage(context.Background(), "hi"); !strings.Contains(got, "api key rejected") {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestProcessMessageTimeout(t *testing.T) {
	ag := newTestAgent(t, &stubLLM{wait: 50 * time.Millisecond}, &stubWallet{}, WithLLMTimeout(10*time.Millisecond))

	got := ag.ProcessMessage(context.Background(), "hi")
	if !strings.Contains(got, string(xerrors.CodeTimeout)) {
		t.Fatalf("expected timeout error, got %q", got)
	}
}

func TestFunctionsRequireInitializedWallet(t *testing.T) {
	ag := New("x", "", &stubLLM{}, &stubWallet{})
	_, err := ag.Call(context.Background(), FuncGetWalletAddress, nil)
	if xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization error, got %v", err)
	}

	ag = New("x", "", &stubLLM{}, &stubWallet{}, WithWalletID("existing"))
	if err := ag.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	addr, err := ag.Call(context.Background(), FuncGetWalletAddress, nil)
	if err != nil || addr != "address-of-existing" {
		t.Fatalf("unexpected address %q err=%v", addr, err)
	}
}

func TestMemoryDepthKeepsRecentTurns(t *testing.T) {
	model := &stubLLM{replies: []string{"a1", "a2", "a3"}}
	ag := newTestAgent(t, model, &stubWallet{}, WithMemoryDepth(1))

	ag.ProcessMessage(context.Background(), "q1")
	ag.ProcessMessage(context.Background(), "q2")
	ag.ProcessMessage(context.Background(), "q3")

	last := model.requests[2].Messages
	if len(last) != 3 || last[0].Content != "q2" || last[1].Content != "a2" {
		t.Fatalf("unexpected history: %+v", last)
	}
}

func TestKnowledgeAppendedToSystemPrompt(t *testing.T) {
	kb := knowledge.NewStaticProvider([]knowledge.Snippet{{Title: "fees", Content: "0.0001 ICP", Keywords: []string{"fee"}}}, 3)
	ag := New("x", "", &stubLLM{}, &stubWallet{}, WithKnowledgeProvider(kb))

	if !strings.Contains(ag.SystemPrompt("what is the fee?"), "- fees: 0.0001 ICP") {
		t.Fatalf("knowledge not included")
	}
	if strings.Contains(ag.SystemPrompt("hello"), "Reference notes") {
		t.Fatalf("unexpected knowledge section")
	}
}

func TestParseFunction(t *testing.T) {
	for _, fn := range Functions() {
		if got, ok := ParseFunction(" " + string(fn) + " "); !ok || got != fn {
			t.Fatalf("failed to parse %s", fn)
		}
		if fn.Description() == "" {
			t.Fatalf("missing description for %s", fn)
		}
	}
	if _, ok := ParseFunction("transfer_all"); ok {
		t.Fatalf("unexpected function")
	}
}

type recordingDispatcher struct {
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.events = append(d.events, event)
	return nil
}

type countingObserver struct{ n int }

func (o *countingObserver) ObserveLowBalance(string) { o.n++ }

func TestBalanceMonitor(t *testing.T) {
	w := &stubWallet{balance: icp.FromE8s(2 * icp.E8sPerICP)}
	ag := newTestAgent(t, &stubLLM{}, w)
	dispatcher := &recordingDispatcher{}
	observer := &countingObserver{}
	monitor := &BalanceMonitor{Agent: ag, Dispatcher: dispatcher, Observer: observer}

	_, low, err := monitor.Check(context.Background())
	if err != nil || !low {
		t.Fatalf("expected low balance, low=%v err=%v", low, err)
	}
	if len(dispatcher.events) != 1 || dispatcher.events[0].Code != CodeLowBalance || dispatcher.events[0].WalletID != ag.WalletID() {
		t.Fatalf("unexpected alerts: %+v", dispatcher.events)
	}
	if observer.n != 1 {
		t.Fatalf("observer not called")
	}

	w.balance = icp.FromE8s(5 * icp.E8sPerICP)
	if _, low, _ := monitor.Check(context.Background()); low {
		t.Fatalf("balance at threshold is not low")
	}
}

func TestRunAutonomousStopsOnCancel(t *testing.T) {
	model := &stubLLM{}
	ag := newTestAgent(t, model, &stubWallet{balance: icp.FromE8s(icp.E8sPerICP)})
	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	err := ag.RunAutonomous(ctx, 10*time.Millisecond, &BalanceMonitor{Agent: ag}, &out)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	model.mu.Lock()
	defer model.mu.Unlock()
	if len(model.requests) < 2 {
		t.Fatalf("expected repeated checks, got %d", len(model.requests))
	}
	msg := model.requests[0].Messages[0].Content
	if !strings.HasPrefix(msg, "Current time: ") || !strings.HasSuffix(msg, "Please perform your routine checks and operations.") {
		t.Fatalf("unexpected routine message %q", msg)
	}
	if !strings.Contains(out.String(), "Low balance alert") {
		t.Fatalf("expected low balance line in output: %s", out.String())
	}
}
