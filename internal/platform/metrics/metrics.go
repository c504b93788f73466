// Package metrics provides observability for the colony server.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector gathers performance metrics.
type Collector struct {
	// Tick metrics
	TickCount      int64
	TickLatencySum int64 // nanoseconds
	TickLatencyMax int64
	Collapses      int64
	PowerShortages int64
	LastTickTime   time.Time

	// Build metrics
	BuildsOK     int64
	buildsFailed map[string]int64

	// Broadcast metrics
	SubscribersActive  int64
	SubscribersDropped int64

	// Journal metrics
	JournalWrites    int64
	JournalLatSum    int64
	JournalLatMax    int64
	JournalErrors    int64
	JournalDiscarded int64

	// WebSocket metrics
	WSConnectionsActive int64
	WSMessagesIn        int64
	WSMessagesOut       int64
	WSErrors            int64
	WSRateLimited       int64

	// System
	StartTime time.Time
	mu        sync.RWMutex
}

// Global collector instance
var collector = New()

// New creates an empty collector. Tests use their own; the server uses Get.
func New() *Collector {
	return &Collector{
		StartTime:    time.Now(),
		buildsFailed: make(map[string]int64),
	}
}

// Get returns the global collector.
func Get() *Collector {
	return collector
}

// RecordTick records a tick cycle completion.
func (c *Collector) RecordTick(latency time.Duration) {
	atomic.AddInt64(&c.TickCount, 1)
	atomic.AddInt64(&c.TickLatencySum, int64(latency))
	storeMax(&c.TickLatencyMax, int64(latency))

	c.mu.Lock()
	c.LastTickTime = time.Now()
	c.mu.Unlock()
}

// RecordCollapse records a colony collapse.
func (c *Collector) RecordCollapse() {
	atomic.AddInt64(&c.Collapses, 1)
}

// RecordPowerShortage records an energy clamp.
func (c *Collector) RecordPowerShortage() {
	atomic.AddInt64(&c.PowerShortages, 1)
}

// RecordBuild records a build attempt. An empty code means success.
func (c *Collector) RecordBuild(code string) {
	if code == "" {
		atomic.AddInt64(&c.BuildsOK, 1)
		return
	}
	c.mu.Lock()
	c.buildsFailed[code]++
	c.mu.Unlock()
}

// BuildsFailed returns a copy of the failure counts keyed by error code.
func (c *Collector) BuildsFailed() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int64, len(c.buildsFailed))
	for k, v := range c.buildsFailed {
		out[k] = v
	}
	return out
}

// RecordSubscriber records subscription changes.
func (c *Collector) RecordSubscriber(delta int64) {
	atomic.AddInt64(&c.SubscribersActive, delta)
}

// RecordDroppedSubscriber records a subscriber disconnected for falling behind.
func (c *Collector) RecordDroppedSubscriber() {
	atomic.AddInt64(&c.SubscribersDropped, 1)
}

// RecordJournalWrite records an event write to a persister.
func (c *Collector) RecordJournalWrite(latency time.Duration, err error) {
	atomic.AddInt64(&c.JournalWrites, 1)
	atomic.AddInt64(&c.JournalLatSum, int64(latency))
	storeMax(&c.JournalLatMax, int64(latency))
	if err != nil {
		atomic.AddInt64(&c.JournalErrors, 1)
	}
}

// RecordJournalDiscard records an event dropped because the write queue was full.
func (c *Collector) RecordJournalDiscard() {
	atomic.AddInt64(&c.JournalDiscarded, 1)
}

// RecordWSConnection records WebSocket connection changes.
func (c *Collector) RecordWSConnection(delta int64) {
	atomic.AddInt64(&c.WSConnectionsActive, delta)
}

// RecordWSMessage records WebSocket messages.
func (c *Collector) RecordWSMessage(incoming bool) {
	if incoming {
		atomic.AddInt64(&c.WSMessagesIn, 1)
	} else {
		atomic.AddInt64(&c.WSMessagesOut, 1)
	}
}

// RecordWSError records a WebSocket error.
func (c *Collector) RecordWSError() {
	atomic.AddInt64(&c.WSErrors, 1)
}

// RecordRateLimited records a command rejected by a rate limiter.
func (c *Collector) RecordRateLimited() {
	atomic.AddInt64(&c.WSRateLimited, 1)
}

// storeMax raises *addr to v if v is larger.
func storeMax(addr *int64, v int64) {
	for {
		cur := atomic.LoadInt64(addr)
		if v <= cur || atomic.CompareAndSwapInt64(addr, cur, v) {
			return
		}
	}
}

// Snapshot returns current metrics as a map.
func (c *Collector) Snapshot() map[string]interface{} {
	tickCount := atomic.LoadInt64(&c.TickCount)
	journalWrites := atomic.LoadInt64(&c.JournalWrites)

	var tickAvg, journalAvg float64
	if tickCount > 0 {
		tickAvg = float64(atomic.LoadInt64(&c.TickLatencySum)) / float64(tickCount) / 1e6 // ms
	}
	if journalWrites > 0 {
		journalAvg = float64(atomic.LoadInt64(&c.JournalLatSum)) / float64(journalWrites) / 1e6
	}

	c.mu.RLock()
	lastTick := c.LastTickTime
	c.mu.RUnlock()

	return map[string]interface{}{
		"uptime_seconds": time.Since(c.StartTime).Seconds(),

		"tick": map[string]interface{}{
			"count":           tickCount,
			"avg_latency_ms":  tickAvg,
			"max_latency_ms":  float64(atomic.LoadInt64(&c.TickLatencyMax)) / 1e6,
			"collapses":       atomic.LoadInt64(&c.Collapses),
			"power_shortages": atomic.LoadInt64(&c.PowerShortages),
			"last_tick":       lastTick.Format(time.RFC3339),
		},

		"build": map[string]interface{}{
			"ok":     atomic.LoadInt64(&c.BuildsOK),
			"failed": c.BuildsFailed(),
		},

		"broadcast": map[string]interface{}{
			"active_subscribers":  atomic.LoadInt64(&c.SubscribersActive),
			"dropped_subscribers": atomic.LoadInt64(&c.SubscribersDropped),
		},

		"journal": map[string]interface{}{
			"written":          journalWrites,
			"avg_write_lat_ms": journalAvg,
			"max_write_lat_ms": float64(atomic.LoadInt64(&c.JournalLatMax)) / 1e6,
			"errors":           atomic.LoadInt64(&c.JournalErrors),
			"discarded":        atomic.LoadInt64(&c.JournalDiscarded),
		},

		"websocket": map[string]interface{}{
			"active_connections": atomic.LoadInt64(&c.WSConnectionsActive),
			"messages_in":        atomic.LoadInt64(&c.WSMessagesIn),
			"messages_out":       atomic.LoadInt64(&c.WSMessagesOut),
			"errors":             atomic.LoadInt64(&c.WSErrors),
			"rate_limited":       atomic.LoadInt64(&c.WSRateLimited),
		},
	}
}

// Handler serves this collector's snapshot as JSON.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		json.NewEncoder(w).Encode(c.Snapshot())
	}
}

// PrometheusHandler serves this collector in Prometheus text format.
func (c *Collector) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		// Tick metrics
		fmt.Fprintf(w, "# HELP colony_tick_count Total tick cycles\n")
		fmt.Fprintf(w, "# TYPE colony_tick_count counter\n")
		fmt.Fprintf(w, "colony_tick_count %d\n\n", atomic.LoadInt64(&c.TickCount))

		fmt.Fprintf(w, "# HELP colony_tick_latency_max_ms Maximum tick latency\n")
		fmt.Fprintf(w, "# TYPE colony_tick_latency_max_ms gauge\n")
		fmt.Fprintf(w, "colony_tick_latency_max_ms %.2f\n\n", float64(atomic.LoadInt64(&c.TickLatencyMax))/1e6)

		fmt.Fprintf(w, "# HELP colony_collapses_total Colony collapses\n")
		fmt.Fprintf(w, "# TYPE colony_collapses_total counter\n")
		fmt.Fprintf(w, "colony_collapses_total %d\n\n", atomic.LoadInt64(&c.Collapses))

		fmt.Fprintf(w, "# HELP colony_power_shortages_total Ticks that ended with an energy clamp\n")
		fmt.Fprintf(w, "# TYPE colony_power_shortages_total counter\n")
		fmt.Fprintf(w, "colony_power_shortages_total %d\n\n", atomic.LoadInt64(&c.PowerShortages))

		// Build metrics
		fmt.Fprintf(w, "# HELP colony_builds_total Build attempts by result\n")
		fmt.Fprintf(w, "# TYPE colony_builds_total counter\n")
		fmt.Fprintf(w, "colony_builds_total{result=\"ok\"} %d\n", atomic.LoadInt64(&c.BuildsOK))
		failed := c.BuildsFailed()
		codes := make([]string, 0, len(failed))
		for code := range failed {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			fmt.Fprintf(w, "colony_builds_total{result=%q} %d\n", code, failed[code])
		}
		fmt.Fprintln(w)

		// Broadcast metrics
		fmt.Fprintf(w, "# HELP colony_subscribers Active tick subscribers\n")
		fmt.Fprintf(w, "# TYPE colony_subscribers gauge\n")
		fmt.Fprintf(w, "colony_subscribers %d\n\n", atomic.LoadInt64(&c.SubscribersActive))

		fmt.Fprintf(w, "# HELP colony_subscribers_dropped_total Subscribers disconnected for falling behind\n")
		fmt.Fprintf(w, "# TYPE colony_subscribers_dropped_total counter\n")
		fmt.Fprintf(w, "colony_subscribers_dropped_total %d\n\n", atomic.LoadInt64(&c.SubscribersDropped))

		// Journal metrics
		fmt.Fprintf(w, "# HELP colony_journal_writes_total Journal writes\n")
		fmt.Fprintf(w, "# TYPE colony_journal_writes_total counter\n")
		fmt.Fprintf(w, "colony_journal_writes_total %d\n\n", atomic.LoadInt64(&c.JournalWrites))

		fmt.Fprintf(w, "# HELP colony_journal_errors_total Journal write errors\n")
		fmt.Fprintf(w, "# TYPE colony_journal_errors_total counter\n")
		fmt.Fprintf(w, "colony_journal_errors_total %d\n\n", atomic.LoadInt64(&c.JournalErrors))

		// WebSocket metrics
		fmt.Fprintf(w, "# HELP colony_ws_connections Active WebSocket connections\n")
		fmt.Fprintf(w, "# TYPE colony_ws_connections gauge\n")
		fmt.Fprintf(w, "colony_ws_connections %d\n\n", atomic.LoadInt64(&c.WSConnectionsActive))

		fmt.Fprintf(w, "# HELP colony_ws_messages_total Total WebSocket messages\n")
		fmt.Fprintf(w, "# TYPE colony_ws_messages_total counter\n")
		fmt.Fprintf(w, "colony_ws_messages_total{direction=\"in\"} %d\n", atomic.LoadInt64(&c.WSMessagesIn))
		fmt.Fprintf(w, "colony_ws_messages_total{direction=\"out\"} %d\n", atomic.LoadInt64(&c.WSMessagesOut))
	}
}
