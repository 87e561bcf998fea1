package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveIngestCountsRowsOnlyOnSuccess(t *testing.T) {
	beforeRows := testutil.ToFloat64(ingestRowsTotal)
	beforeOK := testutil.ToFloat64(ingestTotal.WithLabelValues("ok"))
	beforeFailed := testutil.ToFloat64(ingestTotal.WithLabelValues("TooWide"))

	ObserveIngest("ok", 12, 40*time.Millisecond)
	ObserveIngest("TooWide", 0, time.Millisecond)

	if got := testutil.ToFloat64(ingestRowsTotal) - beforeRows; got != 12 {
		t.Fatalf("rows delta = %v, want 12", got)
	}
	if got := testutil.ToFloat64(ingestTotal.WithLabelValues("ok")) - beforeOK; got != 1 {
		t.Fatalf("ok delta = %v", got)
	}
	if got := testutil.ToFloat64(ingestTotal.WithLabelValues("TooWide")) - beforeFailed; got != 1 {
		t.Fatalf("TooWide delta = %v", got)
	}
}

func TestChatAndQueryCounters(t *testing.T) {
	before := testutil.ToFloat64(queryRejectionsTotal.WithLabelValues("WriteOperation"))
	IncrementQueryRejection("WriteOperation")
	if got := testutil.ToFloat64(queryRejectionsTotal.WithLabelValues("WriteOperation")) - before; got != 1 {
		t.Fatalf("rejection delta = %v", got)
	}

	before = testutil.ToFloat64(chatTurnsTotal.WithLabelValues("IterationCapExceeded"))
	IncrementChatTurn("IterationCapExceeded")
	if got := testutil.ToFloat64(chatTurnsTotal.WithLabelValues("IterationCapExceeded")) - before; got != 1 {
		t.Fatalf("chat turn delta = %v", got)
	}
}

func TestMetricsMiddlewareUsesRouteLabel(t *testing.T) {
	counter := httpRequestsTotal.WithLabelValues(http.MethodPost, "/v1/sessions/{id}/messages", "200")
	before := testutil.ToFloat64(counter)

	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/sessions/8f14e45f/messages", nil))

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Fatalf("request counter delta = %v", got)
	}
}
