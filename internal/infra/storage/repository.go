// Package storage provides the SQLite audit trail for colony runs.
// This package implements the repository pattern to keep the domain pure.
//
// Nothing here is read back into a live engine; the database records what
// happened so a run can be recapped or replayed afterwards.
package storage

import (
	"context"
	"time"

	"github.com/lifesupport/colony/server/internal/domain/colony"
	"github.com/lifesupport/colony/server/internal/events"
)

// Run describes one engine lifetime.
type Run struct {
	RunID      string    `json:"run_id"`
	ColonyName string    `json:"colony_name"`
	StartedAt  time.Time `json:"started_at"`
	Events     int       `json:"events"`
}

// EventRepository defines the interface for journal persistence.
type EventRepository interface {
	// Append adds a new event to the immutable ledger.
	Append(ctx context.Context, event events.GameEvent) error

	// GetByRunID retrieves all events of a run in sequence order (for replay).
	GetByRunID(ctx context.Context, runID string) ([]events.GameEvent, error)

	// GetByEventType retrieves all events of a specific type.
	GetByEventType(ctx context.Context, runID string, eventType events.EventType) ([]events.GameEvent, error)

	// GetSince retrieves up to limit events with seq greater than since.
	GetSince(ctx context.Context, runID string, since int64, limit int) ([]events.GameEvent, error)
}

// RunRepository tracks runs.
type RunRepository interface {
	StartRun(ctx context.Context, runID, colonyName string, startedAt time.Time) error
	ListRuns(ctx context.Context) ([]Run, error)
	LatestRun(ctx context.Context) (*Run, error)
}

// SnapshotRecord is the latest backed-up colony state of a run.
type SnapshotRecord struct {
	RunID      string          `json:"run_id"`
	Tick       int             `json:"tick"`
	Alive      bool            `json:"alive"`
	Population int             `json:"population"`
	Digest     string          `json:"digest"`
	State      colony.Snapshot `json:"state"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// SnapshotRepository defines the interface for colony state backups.
type SnapshotRepository interface {
	// Upsert replaces the stored snapshot of a run.
	Upsert(ctx context.Context, runID string, snap colony.Snapshot) error

	// GetByRunID retrieves a run's snapshot, or nil if none was stored.
	GetByRunID(ctx context.Context, runID string) (*SnapshotRecord, error)
}
