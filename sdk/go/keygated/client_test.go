package keygated

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"keygate-sdk/internal/api"
	"keygate-sdk/internal/icp"
	"keygate-sdk/internal/keygate"
	"keygate-sdk/internal/task"
)

type fakeWallet struct{}

func (fakeWallet) CreateWallet(context.Context) (string, error) { return "wallet-1", nil }

func (fakeWallet) GetICPAddress(_ context.Context, walletID string) (string, error) {
	return "account-of-" + walletID, nil
}

func (fakeWallet) GetICPBalance(context.Context, string) (icp.Tokens, error) {
	return icp.FromE8s(12 * icp.E8sPerICP), nil
}

func (fakeWallet) Transfer(context.Context, string, string, decimal.Decimal) (keygate.IntentStatus, error) {
	return keygate.IntentStatus{State: keygate.IntentCompleted, Detail: "block 7"}, nil
}

func (fakeWallet) Wallets(context.Context) ([]string, error) { return []string{"wallet-1"}, nil }

func startDaemon(t *testing.T) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := task.NewMemoryStore()
	queue := task.NewMemoryQueue(16)
	service := task.NewService(store, queue, 3)
	processor := task.NewProcessor(task.NewWalletExecutor(fakeWallet{}, nil), store, queue, queue, task.WithWorkerCount(2))
	go func() { _ = processor.Start(ctx) }()

	srv := httptest.NewServer(api.NewServer(":0", service, api.WithWallets(fakeWallet{})).Handler())
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSubmitAndWaitForJob(t *testing.T) {
	client := startDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}

	job, err := client.SubmitJob(ctx, JobRequest{ID: "balance-1", Type: JobGetBalance, WalletID: "wallet-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ID != "balance-1" {
		t.Fatalf("unexpected job: %+v", job)
	}

	done, err := client.WaitForJob(ctx, job.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != "succeeded" || done.Result == nil || done.Result.Balance != "12.00000000" {
		t.Fatalf("unexpected result: %+v", done)
	}

	transfer, err := client.SubmitJob(ctx, JobRequest{Type: JobTransfer, WalletID: "wallet-1", Payload: JobPayload{To: "acc", Amount: "1"}})
	if err != nil {
		t.Fatalf("submit transfer: %v", err)
	}
	transfer, err = client.WaitForJob(ctx, transfer.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait transfer: %v", err)
	}
	if transfer.Result == nil || transfer.Result.Intent != "Completed(block 7)" {
		t.Fatalf("unexpected transfer: %+v", transfer)
	}

	jobs, err := client.ListJobs(ctx, ListQuery{Types: []string{JobTransfer}})
	if err != nil || len(jobs) != 1 {
		t.Fatalf("list: %v %+v", err, jobs)
	}
	stats, err := client.Stats(ctx, ListQuery{})
	if err != nil || stats.Succeeded != 2 {
		t.Fatalf("stats: %v %+v", err, stats)
	}
	wallets, err := client.Wallets(ctx)
	if err != nil || len(wallets) != 1 || wallets[0] != "wallet-1" {
		t.Fatalf("wallets: %v %v", err, wallets)
	}
}

func TestAPIErrorsAreDecoded(t *testing.T) {
	client := startDaemon(t)
	ctx := context.Background()

	_, err := client.GetJob(ctx, "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "JOB_NOT_FOUND" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}

	if _, err := client.SubmitJob(ctx, JobRequest{Type: JobTransfer, WalletID: "w"}); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := client.SendMessage(ctx, "hi"); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected unavailable agent, got %v", err)
	}
}

func TestBearerTokenIsSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/api/v1/agent/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(AgentReply{Agent: "ICP Assistant", Reply: "hello"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.SendMessage(context.Background(), "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	client.SetAccessToken("token")
	reply, err := client.SendMessage(context.Background(), "hi")
	if err != nil || reply.Reply != "hello" {
		t.Fatalf("unexpected reply: %+v %v", reply, err)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("not a url", nil); err == nil {
		t.Fatalf("expected error")
	}
}
