package task

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMessageCodec(t *testing.T) {
	body, err := encodeMessage(Message{JobID: "job-1", Type: TypeTransfer, Attempt: 2})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := decodeMessage(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.JobID != "job-1" || msg.Type != TypeTransfer || msg.Attempt != 2 {
		t.Fatalf("unexpected message: %+v", msg)
	}

	legacy, err := decodeMessage([]byte(" job-2 "))
	if err != nil || legacy.JobID != "job-2" {
		t.Fatalf("plain id should decode, got %+v %v", legacy, err)
	}

	if _, err := encodeMessage(Message{}); err == nil {
		t.Fatalf("expected error for empty job id")
	}
	for _, body := range []string{"", "{", `{"type":"transfer"}`} {
		if _, err := decodeMessage([]byte(body)); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
}

func TestMessageForUsesNextAttempt(t *testing.T) {
	msg := messageFor(&Job{ID: "job-3", Type: TypeGetBalance, Attempts: 1})
	if msg.Attempt != 2 || msg.Type != TypeGetBalance {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestMemoryQueueConsume(t *testing.T) {
	queue := NewMemoryQueue(4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, id := range []string{"a", "b", "c"} {
		if err := queue.Publish(ctx, Message{JobID: id}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	done := make(chan error, 1)
	go func() {
		done <- queue.Consume(ctx, 2, func(_ context.Context, msg Message) error {
			mu.Lock()
			seen[msg.JobID] = true
			if len(seen) == 3 {
				cancel()
			}
			mu.Unlock()
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("consume did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("expected 3 messages, got %v", seen)
	}
}

func TestMemoryQueueClosed(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := queue.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := queue.Publish(context.Background(), Message{JobID: "x"}); err == nil {
		t.Fatalf("expected publish after close to fail")
	}
	if err := queue.Consume(context.Background(), 1, func(context.Context, Message) error { return nil }); err != nil {
		t.Fatalf("consume on closed queue: %v", err)
	}
}

func TestKafkaRecordCarriesKeyAndType(t *testing.T) {
	q := &KafkaQueue{topic: defaultKafkaTopic}
	record, err := q.record(Message{JobID: "job-7", Type: TypeTransfer, Attempt: 1})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if string(record.Key) != "job-7" || len(record.Headers) != 1 || string(record.Headers[0].Value) != "transfer" {
		t.Fatalf("unexpected record: %+v", record)
	}
	msg, err := decodeMessage(record.Value)
	if err != nil || msg.JobID != "job-7" || msg.Attempt != 1 {
		t.Fatalf("unexpected payload: %+v %v", msg, err)
	}
	if _, err := q.record(Message{}); err == nil {
		t.Fatalf("expected error for empty job id")
	}
	if _, err := NewKafkaQueue(KafkaConfig{}); err == nil {
		t.Fatalf("expected error without brokers")
	}
}
