package job

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/go-sql-driver/mysql"

	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/testutil/sqlmock"
)

var jobColumnNames = []string{"id", "task_id", "network", "force_deploy", "from_address", "status", "attempts",
	"max_retries", "last_error", "error_code", "result", "created_at", "updated_at"}

const insertJobSQL = `INSERT INTO deployment_jobs
        (id, task_id, network, force_deploy, from_address, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

func jobRow(id string, status Status, attempts, maxRetries int64, result any) []driver.Value {
	return sqlmock.Row(id, "task", "mainnet", int64(1), "", string(status), attempts, maxRetries, nil, "", result, int64(10), int64(20))
}

func TestMySQLStoreCreateConflict(t *testing.T) {
	t.Parallel()

	db, drv := sqlmock.New(t,
		sqlmock.Exec(insertJobSQL, sqlmock.Result{Affected: 1}),
		sqlmock.Exec(insertJobSQL, sqlmock.Result{}).WillFail(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}),
	)
	defer drv.AssertConsumed(t)

	store, err := NewMySQLStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	job := &Job{ID: "j", TaskID: "task", Network: "mainnet", Status: StatusPending, MaxRetries: 3}
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.CreatedAt == 0 || job.UpdatedAt == 0 {
		t.Fatalf("expected timestamps to be set")
	}
	if err := store.Create(context.Background(), job); !IsJobError(err, CodeJobConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMySQLStoreGet(t *testing.T) {
	t.Parallel()

	query := `SELECT ` + jobColumns + ` FROM deployment_jobs WHERE id = ?`
	db, drv := sqlmock.New(t,
		sqlmock.Query(query, jobColumnNames,
			jobRow("j", StatusSucceeded, 1, 3, `{"contracts":{"Factory":"0x01"},"duration_ms":5}`)).WithArgs("j"),
		sqlmock.Query(query, jobColumnNames),
	)
	defer drv.AssertConsumed(t)

	store, _ := NewMySQLStore(db)
	job, err := store.Get(context.Background(), "j")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !job.Force || job.Status != StatusSucceeded || job.Result == nil || job.Result.Contracts["Factory"] != "0x01" {
		t.Fatalf("unexpected job %+v", job)
	}
	if _, err := store.Get(context.Background(), "missing"); !IsJobError(err, CodeJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMySQLStoreClaim(t *testing.T) {
	t.Parallel()

	claimSQL := `UPDATE deployment_jobs SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`
	getSQL := `SELECT ` + jobColumns + ` FROM deployment_jobs WHERE id = ?`
	db, drv := sqlmock.New(t,
		sqlmock.Exec(claimSQL, sqlmock.Result{Affected: 1}),
		sqlmock.Query(getSQL, jobColumnNames, jobRow("a", StatusRunning, 1, 3, nil)),
		sqlmock.Exec(claimSQL, sqlmock.Result{}),
		sqlmock.Query(getSQL, jobColumnNames, jobRow("b", StatusSucceeded, 1, 3, nil)),
		sqlmock.Exec(claimSQL, sqlmock.Result{}),
		sqlmock.Query(getSQL, jobColumnNames, jobRow("c", StatusFailed, 3, 3, nil)),
		sqlmock.Exec(claimSQL, sqlmock.Result{}),
		sqlmock.Query(getSQL, jobColumnNames, jobRow("d", StatusRunning, 1, 3, nil)),
	)
	defer drv.AssertConsumed(t)

	store, _ := NewMySQLStore(db)
	ctx := context.Background()
	if job, err := store.Claim(ctx, "a"); err != nil || job.Status != StatusRunning {
		t.Fatalf("unexpected claim: %+v %v", job, err)
	}
	if _, err := store.Claim(ctx, "b"); !IsJobError(err, CodeJobCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}
	if _, err := store.Claim(ctx, "c"); !IsJobError(err, CodeJobExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if _, err := store.Claim(ctx, "d"); !IsJobError(err, CodeJobConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMySQLStoreMarkFailed(t *testing.T) {
	t.Parallel()

	db, drv := sqlmock.New(t,
		sqlmock.Exec(`UPDATE deployment_jobs SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`,
			sqlmock.Result{Affected: 1}),
		sqlmock.Exec(`UPDATE deployment_jobs SET status = ?, last_error = ?, error_code = ?, updated_at = ?,
        max_retries = LEAST(max_retries, attempts) WHERE id = ?`, sqlmock.Result{Affected: 0}),
	)
	defer drv.AssertConsumed(t)

	store, _ := NewMySQLStore(db)
	ctx := context.Background()
	if err := store.MarkFailed(ctx, "j", xerrors.CodeDeploymentFailure, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkFailed(ctx, "missing", xerrors.CodeMissingInputField, "boom", true); !IsJobError(err, CodeJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMySQLStoreListAndStats(t *testing.T) {
	t.Parallel()

	db, drv := sqlmock.New(t,
		sqlmock.Query(`SELECT `+jobColumns+` FROM deployment_jobs WHERE status IN (?) AND task_id = ?
        ORDER BY updated_at DESC, created_at DESC, id DESC LIMIT ? OFFSET ?`, jobColumnNames,
			jobRow("a", StatusFailed, 1, 3, nil),
			jobRow("b", StatusFailed, 2, 3, nil),
		).WithArgs("failed", "task", int64(20), int64(0)),
		sqlmock.Query(`SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM deployment_jobs WHERE network = ?`,
			[]string{"total", "pending", "running", "succeeded", "failed", "oldest", "newest"},
			sqlmock.Row(int64(4), int64(1), int64(1), int64(1), int64(1), int64(10), int64(40)),
		).WithArgs("pending", "running", "succeeded", "failed", "mainnet"),
	)
	defer drv.AssertConsumed(t)

	store, _ := NewMySQLStore(db)
	ctx := context.Background()
	jobs, err := store.List(ctx, BuildListOptions(WithStatuses(StatusFailed), WithTask("task")))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 || jobs[1].Attempts != 2 {
		t.Fatalf("unexpected jobs %+v", jobs)
	}

	stats, err := store.Stats(ctx, BuildListOptions(WithNetwork("mainnet")))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 || stats.Failed != 1 || stats.NewestUpdatedAt != 40 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
