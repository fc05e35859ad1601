package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCountersAndExposition(t *testing.T) {
	m := New()
	m.CycleFinished("0xa/0xb", "CONFIRMED")
	m.CycleFinished("0xa/0xb", "CONFIRMED")
	m.PoolExcluded("timeout")
	m.BreakerTripped("price_impact")
	m.Outcome("confirmed", "protected")
	m.FanoutDuration(120 * time.Millisecond)

	server := httptest.NewServer(m.Handler())
	defer server.Close()
	resp, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, line := range []string{
		`swaprouter_cycles_total{pair="0xa/0xb",state="CONFIRMED"} 2`,
		`swaprouter_pool_exclusions_total{reason="timeout"} 1`,
		`swaprouter_breaker_trips_total{type="price_impact"} 1`,
		`swaprouter_outcomes_total{channel="protected",status="confirmed"} 1`,
		`swaprouter_quote_fanout_seconds_count 1`,
	} {
		if !strings.Contains(string(body), line) {
			t.Fatalf("exposition missing %q", line)
		}
	}
}
