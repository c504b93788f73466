package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollectorSnapshot(t *testing.T) {
	c := New()
	c.RecordTick(2 * time.Millisecond)
	c.RecordTick(6 * time.Millisecond)
	c.RecordCollapse()
	c.RecordBuild("")
	c.RecordBuild("CELL_OCCUPIED")
	c.RecordBuild("CELL_OCCUPIED")
	c.RecordSubscriber(1)
	c.RecordSubscriber(1)
	c.RecordSubscriber(-1)
	c.RecordDroppedSubscriber()
	c.RecordJournalWrite(time.Millisecond, nil)
	c.RecordJournalWrite(time.Millisecond, errors.New("disk full"))

	snap := c.Snapshot()

	tick := snap["tick"].(map[string]interface{})
	if tick["count"].(int64) != 2 {
		t.Errorf("Expected 2 ticks, got %v", tick["count"])
	}
	if avg := tick["avg_latency_ms"].(float64); avg != 4 {
		t.Errorf("Expected avg latency 4ms, got %v", avg)
	}
	if peak := tick["max_latency_ms"].(float64); peak != 6 {
		t.Errorf("Expected max latency 6ms, got %v", peak)
	}

	build := snap["build"].(map[string]interface{})
	if build["ok"].(int64) != 1 {
		t.Errorf("Expected 1 successful build, got %v", build["ok"])
	}
	if failed := build["failed"].(map[string]int64); failed["CELL_OCCUPIED"] != 2 {
		t.Errorf("Expected 2 CELL_OCCUPIED, got %v", failed)
	}

	bc := snap["broadcast"].(map[string]interface{})
	if bc["active_subscribers"].(int64) != 1 || bc["dropped_subscribers"].(int64) != 1 {
		t.Errorf("Unexpected broadcast metrics %v", bc)
	}

	j := snap["journal"].(map[string]interface{})
	if j["written"].(int64) != 2 || j["errors"].(int64) != 1 {
		t.Errorf("Unexpected journal metrics %v", j)
	}
}

func TestBuildsFailedIsACopy(t *testing.T) {
	c := New()
	c.RecordBuild("OUT_OF_BOUNDS")
	failed := c.BuildsFailed()
	failed["OUT_OF_BOUNDS"] = 99
	if got := c.BuildsFailed()["OUT_OF_BOUNDS"]; got != 1 {
		t.Errorf("Expected 1, got %d", got)
	}
}

func TestPrometheusHandler(t *testing.T) {
	c := New()
	c.RecordBuild("")
	c.RecordBuild("INSUFFICIENT_RESOURCES")
	c.RecordWSMessage(true)
	c.RecordWSConnection(1)

	rec := httptest.NewRecorder()
	c.PrometheusHandler()(rec, httptest.NewRequest("GET", "/metrics/prometheus", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`colony_builds_total{result="ok"} 1`,
		`colony_builds_total{result="INSUFFICIENT_RESOURCES"} 1`,
		`colony_ws_messages_total{direction="in"} 1`,
		"colony_ws_connections 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected %q in output:\n%s", want, body)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Expected text/plain, got %s", ct)
	}
}
