package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(IncidentsConfirmed.WithLabelValues("SOS_PANIC"))
	IncidentsConfirmed.WithLabelValues("SOS_PANIC").Inc()
	if got := testutil.ToFloat64(IncidentsConfirmed.WithLabelValues("SOS_PANIC")); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}
}

func TestStatusBucket(t *testing.T) {
	cases := map[int]string{101: "1xx", 200: "2xx", 302: "3xx", 429: "4xx", 503: "5xx"}
	for code, want := range cases {
		if got := statusBucket(code); got != want {
			t.Fatalf("status %d: want %s got %s", code, want, got)
		}
	}
}
