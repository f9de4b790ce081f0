package job

import (
	"context"
	"testing"
	"time"

	"contract-deployer/internal/deployment"
	xerrors "contract-deployer/internal/errors"
)

type fakeRunner struct {
	got deployment.Request
	err error
}

func (f *fakeRunner) Run(_ context.Context, req deployment.Request) (deployment.Result, error) {
	f.got = req
	if f.err != nil {
		return deployment.Result{}, f.err
	}
	return deployment.Result{
		TaskID:   req.TaskID,
		Network:  "mainnet",
		Outputs:  map[string]string{"Factory": "0x01"},
		Duration: 1500 * time.Millisecond,
	}, nil
}

func TestRunnerExecutorMapsRequestAndResult(t *testing.T) {
	runner := &fakeRunner{}
	executor := NewRunnerExecutor(runner)

	result, err := executor.Execute(context.Background(), &Job{TaskID: "task", Network: "mainnet", Force: true, From: "0x01"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := deployment.Request{TaskID: "task", Network: "mainnet", Force: true, From: "0x01"}
	if runner.got != want {
		t.Fatalf("unexpected request %+v", runner.got)
	}
	if result.Contracts["Factory"] != "0x01" || result.DurationMillis != 1500 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunnerExecutorForcesOnlyFirstAttempt(t *testing.T) {
	runner := &fakeRunner{}
	executor := NewRunnerExecutor(runner)

	for _, tc := range []struct {
		attempts int
		want     bool
	}{{0, true}, {1, true}, {2, false}, {5, false}} {
		if _, err := executor.Execute(context.Background(), &Job{TaskID: "task", Force: true, Attempts: tc.attempts}); err != nil {
			t.Fatalf("execute: %v", err)
		}
		if runner.got.Force != tc.want {
			t.Fatalf("attempt %d: expected force=%v, got %v", tc.attempts, tc.want, runner.got.Force)
		}
	}
}

func TestRunnerExecutorKeepsErrorCode(t *testing.T) {
	cause := xerrors.New(xerrors.CodeVerificationFailure, "bytecode mismatch")
	executor := NewRunnerExecutor(&fakeRunner{err: cause})

	if _, err := executor.Execute(context.Background(), &Job{TaskID: "task"}); err != cause {
		t.Fatalf("expected error to pass through unchanged, got %v", err)
	}
}
