package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)
	jobs := []*Job{
		{ID: "j1", Type: TypeGetBalance, WalletID: "w1", Status: StatusPending, MaxRetries: 3},
		{ID: "j2", Type: TypeTransfer, WalletID: "w1", Status: StatusPending, MaxRetries: 1},
		{ID: "j3", Type: TypeCreateWallet, Status: StatusPending, MaxRetries: 1},
	}
	for _, job := range jobs {
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("create job %s: %v", job.ID, err)
		}
	}
	if err := store.MarkFailed(ctx, "j2", CodeJobProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "j3", Result{WalletID: "w9"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.jobs["j1"].UpdatedAt = base.Unix()
	store.jobs["j2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.jobs["j3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "j3" || all[2].ID != "j1" {
		t.Fatalf("unexpected order: %v", ids(all))
	}

	asc, _ := store.List(ctx, buildListOptions([]ListOption{WithSortOrder(SortByUpdatedAsc), WithLimit(2)}))
	if len(asc) != 2 || asc[0].ID != "j1" {
		t.Fatalf("unexpected ascending list: %v", ids(asc))
	}

	failed, _ := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if len(failed) != 1 || failed[0].ID != "j2" || failed[0].ErrorCode != string(CodeJobProcessing) {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	byWallet, _ := store.List(ctx, buildListOptions([]ListOption{WithWalletID("w1"), WithTypes(TypeGetBalance)}))
	if len(byWallet) != 1 || byWallet[0].ID != "j1" {
		t.Fatalf("unexpected wallet list: %v", ids(byWallet))
	}

	since, _ := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(base.Add(10 * time.Second)), WithOffset(1)}))
	if len(since) != 1 || since[0].ID != "j2" {
		t.Fatalf("unexpected since list: %v", ids(since))
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(stats.ByType) == 0 {
		t.Fatalf("expected type breakdown: %+v", stats)
	}
	if stats.OldestUpdatedAt != base.Unix() || stats.NewestUpdatedAt != base.Add(60*time.Second).Unix() {
		t.Fatalf("unexpected stats range: %+v", stats)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &Job{ID: "j1", Type: TypeGetBalance, Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Job{ID: "j1"}); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	job, err := store.Claim(ctx, "j1")
	if err != nil || job.Status != StatusRunning || job.Attempts != 1 {
		t.Fatalf("unexpected claim: %+v err=%v", job, err)
	}
	if _, err := store.Claim(ctx, "j1"); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("running job must not be claimed twice, got %v", err)
	}

	if err := store.MarkFailed(ctx, "j1", CodeJobProcessing, "retry me", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if job, _ := store.Get(ctx, "j1"); job.Status != StatusPending || job.LastError != "retry me" {
		t.Fatalf("non-terminal failure should return to pending: %+v", job)
	}
	if _, err := store.Claim(ctx, "j1"); err != nil {
		t.Fatalf("second claim: %v", err)
	}
	_ = store.MarkFailed(ctx, "j1", CodeJobProcessing, "again", false)
	if _, err := store.Claim(ctx, "j1"); !errors.Is(err, ErrJobExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if _, err := store.Claim(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func ids(jobs []*Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}

type gaugeFunc func(int)

func (f gaugeFunc) SetPendingJobs(n int) { f(n) }

func TestReportBacklog(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore()
	_ = store.Create(ctx, &Job{ID: "p", Type: TypeGetBalance, WalletID: "w", Status: StatusPending})
	_ = store.Create(ctx, &Job{ID: "r", Type: TypeGetBalance, WalletID: "w", Status: StatusRunning})
	_ = store.Create(ctx, &Job{ID: "s", Type: TypeGetBalance, WalletID: "w", Status: StatusSucceeded})

	reported := make(chan int, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewService(store, NewMemoryQueue(1), 3).ReportBacklog(ctx, time.Hour, gaugeFunc(func(n int) {
			select {
			case reported <- n:
			default:
			}
		}))
	}()

	if n := <-reported; n != 2 {
		t.Fatalf("expected 2 unfinished jobs, got %d", n)
	}
	cancel()
	<-done
}
