package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHTTPRequestCountsServerErrors(t *testing.T) {
	before := testutil.ToFloat64(httpErrors.WithLabelValues("/test", http.MethodGet))
	ObserveHTTPRequest("/test", http.MethodGet, http.StatusInternalServerError, 10*time.Millisecond)
	ObserveHTTPRequest("/test", http.MethodGet, http.StatusOK, 10*time.Millisecond)

	if got := testutil.ToFloat64(httpErrors.WithLabelValues("/test", http.MethodGet)); got != before+1 {
		t.Fatalf("expected one extra server error, got %v (before %v)", got, before)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("/test", http.MethodGet, "200")); got < 1 {
		t.Fatalf("expected success request to be counted, got %v", got)
	}
}

func TestObserveStageFailures(t *testing.T) {
	ObserveStage("serial", "report", time.Millisecond, nil)
	ObserveStage("serial", "report", time.Millisecond, errors.New("boom"))

	if got := testutil.ToFloat64(stageFailures.WithLabelValues("serial", "report")); got != 1 {
		t.Fatalf("unexpected failure count: %v", got)
	}
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	ObserveLLMRequest("mock", "success", 5*time.Millisecond)
	ObserveLLMTokens("mock", 3, 0)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, name := range []string{
		"textpipeline_llm_requests_total",
		"textpipeline_llm_tokens_total",
		"textpipeline_llm_request_duration_seconds_bucket",
	} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metric %s missing from exposition", name)
		}
	}
}
