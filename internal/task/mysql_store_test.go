package task

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"

	"keygate-sdk/internal/storage/mysql/mysqltest"
)

var jobRowColumns = []string{"id", "job_type", "wallet_id", "payload", "status", "result", "error_code", "error_message", "attempts", "max_retries", "created_at", "updated_at"}

const selectJobByID = `SELECT ` + jobColumns + ` FROM wallet_jobs WHERE id = ?`

func fixedStore(t *testing.T, ops ...mysqltest.Operation) (*MySQLStore, *mysqltest.Driver) {
	t.Helper()
	db, drv := mysqltest.NewDB(t, ops...)
	store, err := NewMySQLStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	store.now = func() time.Time { return time.Unix(1700000000, 0) }
	return store, drv
}

func TestMySQLStoreCreate(t *testing.T) {
	store, drv := fixedStore(t,
		mysqltest.Exec(`INSERT INTO wallet_jobs
        (id, job_type, wallet_id, payload, status, result, error_code, error_message, attempts, max_retries, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, '', '', '', ?, ?, ?, ?)`, mysqltest.Result{Affected: 1}).
			WithArgs("j1", "transfer", "w1", `{"to":"acc","amount":"1.5"}`, "pending", int64(0), int64(1), int64(1700000000), int64(1700000000)),
		mysqltest.Exec(``, mysqltest.Result{}).WithError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}),
	)
	ctx := context.Background()

	job := &Job{ID: "j1", Type: TypeTransfer, WalletID: "w1", Payload: Payload{To: "acc", Amount: "1.5"}, Status: StatusPending, MaxRetries: 1}
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.CreatedAt != 1700000000 {
		t.Fatalf("timestamps not set: %+v", job)
	}
	if err := store.Create(ctx, job); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	drv.AssertConsumed(t)
}

func TestMySQLStoreClaimAndComplete(t *testing.T) {
	row := func(status string, attempts int64, result string) mysqltest.Rows {
		return mysqltest.Rows{Columns: jobRowColumns, Values: [][]driver.Value{{
			"j1", "get_balance", "w1", `{}`, status, result, "", "", attempts, int64(3), int64(1699999000), int64(1700000000),
		}}}
	}
	store, drv := fixedStore(t,
		mysqltest.Exec(`UPDATE wallet_jobs SET status = ?, attempts = attempts + 1, updated_at = ?
        WHERE id = ? AND status = ? AND attempts < max_retries`, mysqltest.Result{Affected: 1}).
			WithArgs("running", int64(1700000000), "j1", "pending"),
		mysqltest.Query(selectJobByID, row("running", 1, "")).WithArgs("j1"),
		mysqltest.Exec(`UPDATE wallet_jobs SET status = ?, result = ?, error_code = '', error_message = '', updated_at = ? WHERE id = ?`, mysqltest.Result{Affected: 1}).
			WithArgs("succeeded", `{"wallet_id":"w1","balance":"1.00000000","balance_e8s":100000000}`, int64(1700000000), "j1"),
		mysqltest.Exec(``, mysqltest.Result{Affected: 0}),
		mysqltest.Query(selectJobByID, row("succeeded", 1, `{"wallet_id":"w1","balance":"1.00000000"}`)).WithArgs("j1"),
	)
	ctx := context.Background()

	job, err := store.Claim(ctx, "j1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job.Status != StatusRunning || job.Attempts != 1 || job.Type != TypeGetBalance || job.Result != nil {
		t.Fatalf("unexpected job: %+v", job)
	}
	if err := store.MarkSucceeded(ctx, "j1", Result{WalletID: "w1", Balance: "1.00000000", BalanceE8s: 100000000}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	job, err = store.Claim(ctx, "j1")
	if !errors.Is(err, ErrJobCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}
	if job.Result == nil || job.Result.Balance != "1.00000000" {
		t.Fatalf("result not decoded: %+v", job)
	}
	drv.AssertConsumed(t)
}

func TestMySQLStoreMarkFailed(t *testing.T) {
	store, drv := fixedStore(t,
		mysqltest.Exec(`UPDATE wallet_jobs SET status = ?, error_code = ?, error_message = ?, updated_at = ? WHERE id = ?`, mysqltest.Result{Affected: 1}).
			WithArgs("pending", "TIMEOUT", "slow", int64(1700000000), "j1"),
		mysqltest.Exec(``, mysqltest.Result{Affected: 0}).
			WithArgs("failed", "TIMEOUT", "slow", int64(1700000000), "missing"),
	)
	ctx := context.Background()
	if err := store.MarkFailed(ctx, "j1", "TIMEOUT", "slow", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkFailed(ctx, "missing", "TIMEOUT", "slow", true); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	drv.AssertConsumed(t)
}

func TestMySQLStoreListAndStats(t *testing.T) {
	store, drv := fixedStore(t,
		mysqltest.Query(`SELECT `+jobColumns+` FROM wallet_jobs WHERE status IN (?,?) AND wallet_id = ? ORDER BY updated_at DESC, created_at DESC, id DESC LIMIT ? OFFSET ?`,
			mysqltest.Rows{Columns: jobRowColumns, Values: [][]driver.Value{
				{"j2", "transfer", "w1", `{"to":"a","amount":"1"}`, "failed", "", "CALL_REJECTED", "rejected", int64(1), int64(1), int64(2), int64(3)},
			}}).WithArgs("failed", "pending", "w1", int64(20), int64(0)),
		mysqltest.Query(``, mysqltest.Rows{
			Columns: []string{"total", "pending", "running", "succeeded", "failed", "oldest", "newest"},
			Values:  [][]driver.Value{{int64(4), int64(1), int64(0), int64(2), int64(1), int64(10), int64(40)}},
		}).WithArgs("pending", "running", "succeeded", "failed"),
		mysqltest.Query(`SELECT job_type, COUNT(*) FROM wallet_jobs GROUP BY job_type`, mysqltest.Rows{
			Columns: []string{"type", "count"},
			Values:  [][]driver.Value{{"transfer", int64(3)}, {"get_balance", int64(1)}},
		}),
	)
	ctx := context.Background()

	jobs, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed, StatusPending), WithWalletID("w1")}))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Payload.To != "a" || jobs[0].ErrorCode != "CALL_REJECTED" || jobs[0].LastError != "rejected" {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 || stats.Succeeded != 2 || stats.NewestUpdatedAt != 40 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ByType[TypeTransfer] != 3 || stats.ByType[TypeGetBalance] != 1 || stats.InFlight() != 1 {
		t.Fatalf("unexpected type breakdown: %+v", stats.ByType)
	}
	drv.AssertConsumed(t)
}
