package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.LedgerClosed(3, time.Millisecond, time.Millisecond, []string{"Success"})
	m.ValueReceived("stale")
	m.CatchupFinished("automatic", "OK", time.Second, false)
}

func TestLedgerClosed(t *testing.T) {
	m := NewMetrics()
	m.LedgerClosed(7, time.Millisecond, 2*time.Millisecond, []string{"Success", "Success", "BadSeq"})

	if v := testutil.ToFloat64(m.LastClosed); v != 7 {
		t.Fatalf("last closed should be 7, not %v", v)
	}
	if v := testutil.ToFloat64(m.TxResults.WithLabelValues("Success")); v != 2 {
		t.Fatalf("two successes expected, got %v", v)
	}
	if v := testutil.ToFloat64(m.LedgersClosed); v != 1 {
		t.Fatalf("one ledger expected, got %v", v)
	}
}

func TestCatchupGauge(t *testing.T) {
	m := NewMetrics()
	m.CatchupStarted()
	m.CatchupFinished("manual", "BadSignature", time.Second, true)
	if v := testutil.ToFloat64(m.CatchingUp); v != 1 {
		t.Fatalf("failed catchup is still active, gauge is %v", v)
	}
	m.CatchupAborted()
	if v := testutil.ToFloat64(m.CatchingUp); v != 0 {
		t.Fatalf("aborted catchup is not active, gauge is %v", v)
	}
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.ValueReceived("ahead")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), `ledgerd_values_received_total{class="ahead"} 1`) {
		t.Fatalf("missing counter in output:\n%s", rec.Body.String())
	}
}
