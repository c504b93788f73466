package optimization

import "testing"

func TestForProfile(t *testing.T) {
	for _, name := range []string{"", "default", "stress", "low"} {
		cfg, err := ForProfile(name)
		if err != nil {
			t.Fatalf("profile %q: %v", name, err)
		}
		if cfg.SubscriberBuffer <= 0 || cfg.ClientSendBuffer <= 0 || cfg.MaxClients <= 0 {
			t.Errorf("profile %q has empty buffers: %+v", name, cfg)
		}
	}
	if _, err := ForProfile("turbo"); err == nil {
		t.Error("Expected error for unknown profile")
	}
}

func TestAnalyzeQuietMetrics(t *testing.T) {
	rec := Analyze(map[string]interface{}{
		"tick":      map[string]interface{}{"max_latency_ms": 1.0},
		"broadcast": map[string]interface{}{"dropped_subscribers": int64(0)},
		"journal":   map[string]interface{}{"discarded": int64(0), "errors": int64(0), "max_write_lat_ms": 0.5},
		"websocket": map[string]interface{}{"errors": int64(0), "rate_limited": int64(3)},
	})
	if len(rec.Notes) != 0 {
		t.Errorf("Expected no notes, got %v", rec.Notes)
	}
}

func TestAnalyzeAndApply(t *testing.T) {
	rec := Analyze(map[string]interface{}{
		"broadcast": map[string]interface{}{"dropped_subscribers": int64(2)},
		"journal":   map[string]interface{}{"discarded": int64(1)},
		"websocket": map[string]interface{}{"errors": int64(0), "rate_limited": int64(500)},
	})
	if !rec.IncreaseSubscriberBuffer || !rec.IncreaseJournalQueue || !rec.IncreaseRateLimit {
		t.Fatalf("Unexpected recommendations %+v", rec)
	}
	if rec.IncreaseClientBuffer || rec.IncreaseDBConnections {
		t.Errorf("Unexpected recommendations %+v", rec)
	}

	cfg := LowResourceConfig()
	ApplyRecommendations(cfg, rec)
	if cfg.SubscriberBuffer != 32 {
		t.Errorf("Expected subscriber buffer 32, got %d", cfg.SubscriberBuffer)
	}
	if cfg.JournalQueue != 256 {
		t.Errorf("Expected journal queue 256, got %d", cfg.JournalQueue)
	}
	if cfg.ActionsPerSecond != 10 || cfg.ActionBurst != 20 {
		t.Errorf("Expected doubled rate limit, got %v/%d", cfg.ActionsPerSecond, cfg.ActionBurst)
	}
	if cfg.ClientSendBuffer != 32 {
		t.Errorf("Expected client buffer unchanged, got %d", cfg.ClientSendBuffer)
	}
}
