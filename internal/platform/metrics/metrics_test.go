package metrics_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/MahdiBaghbani/userservice-go/internal/platform/metrics"
)

func TestOutcome(t *testing.T) {
	if got := metrics.Outcome(nil); got != "success" {
		t.Errorf("Outcome(nil) = %q", got)
	}
	if got := metrics.Outcome(errors.New("boom")); got != "error" {
		t.Errorf("Outcome(err) = %q", got)
	}
}

func TestCountersIncrement(t *testing.T) {
	c := metrics.ReconciliationWarnings.WithLabelValues("metrics_test")
	before := testutil.ToFloat64(c)
	c.Inc()
	if got := testutil.ToFloat64(c); got != before+1 {
		t.Errorf("expected %v, got %v", before+1, got)
	}
}
