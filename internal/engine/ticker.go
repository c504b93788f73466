package engine

import (
	"context"
	"sync"
	"time"

	"github.com/lifesupport/colony/server/internal/platform/logger"
)

// Cadence bounds for the tick loop.
const (
	MinInterval     = 200 * time.Millisecond
	MaxInterval     = 30 * time.Second
	DefaultInterval = 5 * time.Second
)

// ClampInterval forces d into [MinInterval, MaxInterval].
func ClampInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	if d > MaxInterval {
		return MaxInterval
	}
	return d
}

// Ticker drives the engine on an adjustable cadence.
// It does NOT touch colony state itself; every tick goes through the Engine.
type Ticker struct {
	engine *Engine
	logger *logger.Logger

	mu         sync.Mutex
	interval   time.Duration
	reschedule chan struct{}
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewTicker creates a ticker for e. The interval is clamped.
func NewTicker(e *Engine, interval time.Duration, log *logger.Logger) *Ticker {
	if log == nil {
		log = logger.Discard()
	}
	return &Ticker{
		engine:     e,
		logger:     log,
		interval:   ClampInterval(interval),
		reschedule: make(chan struct{}, 1),
		stopChan:   make(chan struct{}),
	}
}

// Start runs the tick loop until ctx is cancelled or Stop is called.
// Call in a goroutine. On exit every tick subscription is released.
func (t *Ticker) Start(ctx context.Context) {
	t.logger.Info("tick scheduler started", "interval_ms", t.Interval().Milliseconds())
	defer t.engine.Shutdown()

	for {
		timer := time.NewTimer(t.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			t.logger.Info("tick scheduler stopped by context")
			return
		case <-t.stopChan:
			timer.Stop()
			t.logger.Info("tick scheduler stopped")
			return
		case <-t.reschedule:
			// Re-arm with the new interval.
			timer.Stop()
		case <-timer.C:
			t.engine.TickFrom(SourceScheduler)
		}
	}
}

// Stop ends the tick loop. Safe to call more than once.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
}

// Interval returns the current cadence.
func (t *Ticker) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// SetSpeed sets the cadence in milliseconds and returns the effective value
// after clamping to [200, 30000].
func (t *Ticker) SetSpeed(ms int64) int64 {
	return t.SetSpeedFrom(SourceAPI, ms)
}

// SetSpeedFrom is SetSpeed recording who asked. The tick in flight, if any,
// is unaffected; the next one fires one new interval from now.
func (t *Ticker) SetSpeedFrom(source string, ms int64) int64 {
	var effective time.Duration
	switch {
	case ms < MinInterval.Milliseconds():
		effective = MinInterval
	case ms > MaxInterval.Milliseconds():
		effective = MaxInterval
	default:
		effective = time.Duration(ms) * time.Millisecond
	}

	t.mu.Lock()
	t.interval = effective
	t.mu.Unlock()

	select {
	case t.reschedule <- struct{}{}:
	default:
	}

	t.engine.recordSpeed(source, ms, effective)
	t.logger.Info("tick speed changed", "requested_ms", ms, "interval_ms", effective.Milliseconds(), "source", source)
	return effective.Milliseconds()
}

// ManualTick runs one tick now, outside the cadence, and publishes it like
// a scheduled one.
func (t *Ticker) ManualTick() TickReport {
	return t.engine.TickFrom(SourceManual)
}
