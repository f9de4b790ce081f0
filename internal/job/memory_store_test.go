package job

import (
	"context"
	"testing"
	"time"

	xerrors "contract-deployer/internal/errors"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Minute)

	jobs := []*Job{
		{ID: "j1", TaskID: "task-a", Network: "mainnet", Status: StatusPending, MaxRetries: 3},
		{ID: "j2", TaskID: "task-a", Network: "goerli", Status: StatusPending, MaxRetries: 3},
		{ID: "j3", TaskID: "task-b", Network: "mainnet", Status: StatusPending, MaxRetries: 3},
	}
	for _, job := range jobs {
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("create job %s: %v", job.ID, err)
		}
	}
	if err := store.MarkFailed(ctx, "j2", CodeJobProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "j3", Result{Contracts: map[string]string{"A": "0x01"}}); err != nil {
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
		t.Fatalf("unexpected order: %v %v %v", all[0].ID, all[1].ID, all[2].ID)
	}

	asc, _ := store.List(ctx, BuildListOptions(WithSortOrder(OldestFirst)))
	if asc[0].ID != "j1" {
		t.Fatalf("expected oldest first, got %s", asc[0].ID)
	}

	failed, _ := store.List(ctx, BuildListOptions(WithStatuses(StatusFailed, "bogus")))
	if len(failed) != 1 || failed[0].ID != "j2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	taskA, _ := store.List(ctx, BuildListOptions(WithTask("task-a")))
	if len(taskA) != 2 {
		t.Fatalf("expected 2 jobs for task-a, got %d", len(taskA))
	}
	mainnet, _ := store.List(ctx, BuildListOptions(WithNetwork("mainnet"), WithLimit(1)))
	if len(mainnet) != 1 || mainnet[0].ID != "j3" {
		t.Fatalf("unexpected mainnet page: %+v", mainnet)
	}
	paged, _ := store.List(ctx, BuildListOptions(WithOffset(2)))
	if len(paged) != 1 || paged[0].ID != "j1" {
		t.Fatalf("unexpected offset page: %+v", paged)
	}
	recent, _ := store.List(ctx, BuildListOptions(WithUpdatedBetween(base.Add(45*time.Second), time.Time{})))
	if len(recent) != 1 || recent[0].ID != "j3" {
		t.Fatalf("unexpected recent list: %+v", recent)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.OldestUpdatedAt != base.Unix() || stats.NewestUpdatedAt != base.Add(60*time.Second).Unix() {
		t.Fatalf("unexpected stats range: %+v", stats)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Job{ID: "j", TaskID: "t", Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Job{ID: "j"}); !IsJobError(err, CodeJobConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	job, err := store.Claim(ctx, "j")
	if err != nil || job.Status != StatusRunning || job.Attempts != 1 {
		t.Fatalf("unexpected claim: %+v %v", job, err)
	}
	if _, err := store.Claim(ctx, "j"); !IsJobError(err, CodeJobConflict) {
		t.Fatalf("expected running conflict, got %v", err)
	}

	if err := store.MarkFailed(ctx, "j", xerrors.CodeDeploymentFailure, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if job, err = store.Claim(ctx, "j"); err != nil || job.Attempts != 2 {
		t.Fatalf("expected retry claim, got %+v %v", job, err)
	}
	if err := store.MarkFailed(ctx, "j", xerrors.CodeDeploymentFailure, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "j"); !IsJobError(err, CodeJobExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}

	if _, err := store.Claim(ctx, "missing"); !IsJobError(err, CodeJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreTerminalFailureStopsRetries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, &Job{ID: "j", Status: StatusPending, MaxRetries: 5})
	if _, err := store.Claim(ctx, "j"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "j", xerrors.CodeMissingInputField, "missing", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	job, _ := store.Get(ctx, "j")
	if !job.Terminal() || job.ErrorCode != string(xerrors.CodeMissingInputField) {
		t.Fatalf("expected terminal job, got %+v", job)
	}
	if _, err := store.Claim(ctx, "j"); !IsJobError(err, CodeJobExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, &Job{ID: "j", Status: StatusPending, MaxRetries: 1})
	_ = store.MarkSucceeded(ctx, "j", Result{Contracts: map[string]string{"A": "0x01"}})

	job, _ := store.Get(ctx, "j")
	job.Result.Contracts["A"] = "mutated"
	again, _ := store.Get(ctx, "j")
	if again.Result.Contracts["A"] != "0x01" {
		t.Fatalf("store leaked internal state")
	}
}
