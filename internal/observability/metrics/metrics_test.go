package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveDeployment(t *testing.T) {
	before := testutil.ToFloat64(deployments.WithLabelValues("t1", "local", "Pool", "deployed"))
	ObserveDeployment("t1", "local", "Pool", "deployed", 2*time.Second)
	ObserveDeployment("t1", "local", "Pool", "skipped", 0)
	if got := testutil.ToFloat64(deployments.WithLabelValues("t1", "local", "Pool", "deployed")); got != before+1 {
		t.Fatalf("expected deployed counter to increase, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveHTTPRequest("/api/v1/jobs", "POST", 500, 30*time.Millisecond)
	ObserveVerification("local", "Pool", errors.New("mismatch"))
	ObserveJob("t1", "succeeded")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`contract_deployer_http_request_errors_total{handler="/api/v1/jobs",method="POST"}`,
		`contract_deployer_verifications_total{contract="Pool",network="local",result="failed"}`,
		`contract_deployer_jobs_total{status="succeeded",task="t1"}`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %s in output:\n%s", want, body)
		}
	}
}
