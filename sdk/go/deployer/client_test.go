package deployer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"contract-deployer/internal/api"
	"contract-deployer/internal/auth"
	"contract-deployer/internal/deployment"
	"contract-deployer/internal/job"
	"contract-deployer/internal/tasks/tetulinearpool"
)

func newAPIServer(t *testing.T) (*httptest.Server, *deployment.MemoryOutputStore) {
	t.Helper()
	registry, err := deployment.NewRegistry(tetulinearpool.Definition())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	authService, err := auth.NewService(auth.Config{
		Mode:        auth.ModeToken,
		Credentials: []auth.Credential{{Name: "sdk", Token: "sdk-token", Permissions: auth.AllPermissions()}},
	})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	outputs := deployment.NewMemoryOutputStore()
	service := job.NewService(job.NewMemoryStore(), job.NewMemoryQueue(8), 3, job.WithCatalog(registry))
	srv := httptest.NewServer(api.NewServer(":0", service, outputs, registry, api.WithAuth(authService)).Handler())
	t.Cleanup(srv.Close)
	return srv, outputs
}

func TestClientAgainstAPI(t *testing.T) {
	srv, outputs := newAPIServer(t)
	ctx := context.Background()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.ListTasks(ctx); err == nil {
		t.Fatal("expected unauthorized error without token")
	}
	client.SetAccessToken("sdk-token")

	tasks, err := client.ListTasks(ctx)
	if err != nil || len(tasks) != 1 || tasks[0].ID != tetulinearpool.ID {
		t.Fatalf("unexpected tasks %+v err %v", tasks, err)
	}

	submitted, err := client.SubmitJob(ctx, JobSubmission{ID: "job-1", TaskID: tetulinearpool.ID, Network: "local"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.ID != "job-1" || submitted.Status != StatusPending || submitted.Done() {
		t.Fatalf("unexpected job %+v", submitted)
	}

	fetched, err := client.GetJob(ctx, "job-1")
	if err != nil || fetched.TaskID != tetulinearpool.ID {
		t.Fatalf("unexpected job %+v err %v", fetched, err)
	}
	jobs, err := client.ListJobs(ctx, JobFilter{Statuses: []string{StatusPending}, TaskID: tetulinearpool.ID, Limit: 10})
	if err != nil || len(jobs) != 1 {
		t.Fatalf("unexpected jobs %+v err %v", jobs, err)
	}
	stats, err := client.JobStats(ctx, JobFilter{})
	if err != nil || stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats %+v err %v", stats, err)
	}

	address := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	if err := outputs.Save(ctx, deployment.Record{
		Task: tetulinearpool.ID, Network: "local", Contract: tetulinearpool.FactoryContract,
		Address: address, DeployedAt: time.Unix(1700000000, 0).UTC(),
	}); err != nil {
		t.Fatalf("save record: %v", err)
	}
	records, err := client.ListDeployments(ctx, tetulinearpool.ID, "local")
	if err != nil || len(records) != 1 || records[0].Address != address.Hex() {
		t.Fatalf("unexpected deployments %+v err %v", records, err)
	}
}

func TestClientErrors(t *testing.T) {
	srv, _ := newAPIServer(t)
	ctx := context.Background()
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetAccessToken("sdk-token")

	_, err = client.GetJob(ctx, "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if apiErr := err.(*APIError); apiErr.Code != "JOB_NOT_FOUND" {
		t.Fatalf("unexpected code %q", apiErr.Code)
	}

	_, err = client.SubmitJob(ctx, JobSubmission{TaskID: "unknown"})
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "JOB_VALIDATION_FAILED" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestWaitForJob(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/jobs/job-7" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		status := StatusRunning
		if calls.Add(1) >= 3 {
			status = StatusSucceeded
		}
		_ = json.NewEncoder(w).Encode(Job{ID: "job-7", Status: status, MaxRetries: 3})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done, err := client.WaitForJob(ctx, "job-7", 10*time.Millisecond)
	if err != nil || done.Status != StatusSucceeded {
		t.Fatalf("unexpected job %+v err %v", done, err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 polls, got %d", calls.Load())
	}
}

func TestJobDone(t *testing.T) {
	cases := []struct {
		job  Job
		done bool
	}{
		{Job{Status: StatusPending, MaxRetries: 3}, false},
		{Job{Status: StatusFailed, Attempts: 1, MaxRetries: 3}, false},
		{Job{Status: StatusFailed, Attempts: 3, MaxRetries: 3}, true},
		{Job{Status: StatusSucceeded, Attempts: 1, MaxRetries: 3}, true},
	}
	for _, tc := range cases {
		if got := tc.job.Done(); got != tc.done {
			t.Fatalf("%+v: expected done=%v", tc.job, tc.done)
		}
	}
}
