// Package optimization provides concurrency tuning for the tick broadcast,
// websocket fan-out, journal and database pools.
package optimization

import (
	"fmt"
	"runtime"
)

// Config holds tuned parameters for a load profile.
type Config struct {
	// Channel buffer sizes
	SubscriberBuffer int // Per tick subscriber (SSE, hub)
	ClientSendBuffer int // Per WebSocket
	JournalQueue     int // Pending persister writes

	// In-memory history kept for /colony/history
	EventHistoryLimit int

	// Connection pools
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Rate limiting
	ActionsPerSecond float64 // Per client or remote IP
	ActionBurst      int
	MaxClients       int
}

// DefaultConfig returns sensible defaults for production.
func DefaultConfig() *Config {
	numCPU := runtime.NumCPU()

	return &Config{
		SubscriberBuffer: 64,
		ClientSendBuffer: 256,
		JournalQueue:     1024,

		EventHistoryLimit: 1000,

		// SQLite serializes writers; readers can fan out.
		DBMaxOpenConns: numCPU,
		DBMaxIdleConns: 2,

		ActionsPerSecond: 10,
		ActionBurst:      20,
		MaxClients:       200,
	}
}

// StressTestConfig returns aggressive settings for stress testing.
func StressTestConfig() *Config {
	numCPU := runtime.NumCPU()

	return &Config{
		SubscriberBuffer: 512,
		ClientSendBuffer: 1024,
		JournalQueue:     8192,

		EventHistoryLimit: 5000,

		DBMaxOpenConns: numCPU * 2,
		DBMaxIdleConns: numCPU,

		ActionsPerSecond: 100,
		ActionBurst:      200,
		MaxClients:       1000,
	}
}

// LowResourceConfig returns minimal settings for development.
func LowResourceConfig() *Config {
	return &Config{
		SubscriberBuffer: 16,
		ClientSendBuffer: 32,
		JournalQueue:     128,

		EventHistoryLimit: 200,

		DBMaxOpenConns: 2,
		DBMaxIdleConns: 1,

		ActionsPerSecond: 5,
		ActionBurst:      10,
		MaxClients:       20,
	}
}

// ForProfile returns the config for a named profile: "default", "stress" or "low".
func ForProfile(name string) (*Config, error) {
	switch name {
	case "", "default":
		return DefaultConfig(), nil
	case "stress":
		return StressTestConfig(), nil
	case "low":
		return LowResourceConfig(), nil
	}
	return nil, fmt.Errorf("unknown profile %q (valid: default, stress, low)", name)
}

// Recommendations provides suggestions based on observed metrics.
type Recommendations struct {
	IncreaseSubscriberBuffer bool
	IncreaseClientBuffer     bool
	IncreaseJournalQueue     bool
	IncreaseDBConnections    bool
	IncreaseRateLimit        bool
	Notes                    []string
}

// Analyze examines a metrics snapshot and returns tuning recommendations.
func Analyze(metrics map[string]interface{}) *Recommendations {
	rec := &Recommendations{
		Notes: make([]string, 0),
	}

	if tick, ok := metrics["tick"].(map[string]interface{}); ok {
		if maxLat, ok := tick["max_latency_ms"].(float64); ok && maxLat > 50 {
			rec.Notes = append(rec.Notes, "Tick latency exceeds 50ms - check persister and subscriber load")
		}
	}

	if bc, ok := metrics["broadcast"].(map[string]interface{}); ok {
		if dropped, ok := bc["dropped_subscribers"].(int64); ok && dropped > 0 {
			rec.IncreaseSubscriberBuffer = true
			rec.Notes = append(rec.Notes, "Subscribers were dropped for falling behind - increase subscriber buffer")
		}
	}

	if j, ok := metrics["journal"].(map[string]interface{}); ok {
		if discarded, ok := j["discarded"].(int64); ok && discarded > 0 {
			rec.IncreaseJournalQueue = true
			rec.Notes = append(rec.Notes, "Journal events were discarded - increase journal queue")
		}
		if maxLat, ok := j["max_write_lat_ms"].(float64); ok && maxLat > 50 {
			rec.IncreaseDBConnections = true
			rec.Notes = append(rec.Notes, "Journal write latency exceeds 50ms - increase DB connections")
		}
		if errors, ok := j["errors"].(int64); ok && errors > 0 {
			rec.IncreaseDBConnections = true
			rec.Notes = append(rec.Notes, "Journal write errors detected - check DB connection pool")
		}
	}

	if ws, ok := metrics["websocket"].(map[string]interface{}); ok {
		if errors, ok := ws["errors"].(int64); ok && errors > 0 {
			rec.IncreaseClientBuffer = true
			rec.Notes = append(rec.Notes, "WebSocket errors detected - increase client send buffer")
		}
		if limited, ok := ws["rate_limited"].(int64); ok && limited > 100 {
			rec.IncreaseRateLimit = true
			rec.Notes = append(rec.Notes, "Many commands were rate limited - consider a higher action rate")
		}
	}

	return rec
}

// ApplyRecommendations modifies config based on recommendations.
func ApplyRecommendations(config *Config, rec *Recommendations) *Config {
	if rec.IncreaseSubscriberBuffer {
		config.SubscriberBuffer *= 2
	}
	if rec.IncreaseClientBuffer {
		config.ClientSendBuffer *= 2
	}
	if rec.IncreaseJournalQueue {
		config.JournalQueue *= 2
	}
	if rec.IncreaseDBConnections {
		config.DBMaxOpenConns = int(float64(config.DBMaxOpenConns) * 1.5)
		config.DBMaxIdleConns = int(float64(config.DBMaxIdleConns) * 1.5)
	}
	if rec.IncreaseRateLimit {
		config.ActionsPerSecond *= 2
		config.ActionBurst *= 2
	}
	return config
}
