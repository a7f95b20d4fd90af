package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "keygate-sdk/internal/errors"
)

type recordingSender struct {
	channel string
	content string
}

func (s *recordingSender) Send(_ context.Context, channel, content string) error {
	s.channel = channel
	s.content = content
	return nil
}

func TestFromErrorCarriesMetadata(t *testing.T) {
	err := xerrors.New(xerrors.CodeStorageFailure, "写入失败", xerrors.WithMetadata("wallet_id", "w1"))
	event := FromError(err)
	if event.Code != xerrors.CodeStorageFailure || event.Severity != xerrors.SeverityCritical {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.WalletID != "w1" {
		t.Fatalf("wallet id not extracted: %+v", event)
	}
}

func TestWebhookNotifierPostsEvent(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "secret" {
			t.Errorf("missing header")
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Headers: map[string]string{"X-Token": "secret"}, Client: srv.Client()}
	if err := n.Notify(context.Background(), Event{Code: xerrors.CodeTimeout, JobID: "job-1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received.JobID != "job-1" || received.Code != xerrors.CodeTimeout {
		t.Fatalf("unexpected payload: %+v", received)
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sender := &recordingSender{}
	d := NewFanout(LogNotifier{}, &WebhookNotifier{URL: srv.URL, Client: srv.Client()}, &SlackNotifier{Sender: sender, ChannelID: "#ops"})
	err := d.Notify(context.Background(), Event{Code: xerrors.CodeUpstreamFailure, Message: "balance low", Metadata: map[string]string{"wallet_id": "w1"}})
	if err == nil || !strings.Contains(err.Error(), "webhook") {
		t.Fatalf("expected webhook error, got %v", err)
	}
	if sender.channel != "#ops" || !strings.Contains(sender.content, "wallet_id: w1") {
		t.Fatalf("slack not notified: %+v", sender)
	}
}
