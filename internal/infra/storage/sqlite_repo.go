package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lifesupport/colony/server/internal/domain/colony"
	"github.com/lifesupport/colony/server/internal/events"
)

// eventRow is the journal table layout.
type eventRow struct {
	ID        string `db:"id"`
	RunID     string `db:"run_id"`
	Seq       int64  `db:"seq"`
	TsUnixNs  int64  `db:"ts_unix_ns"`
	EventType string `db:"event_type"`
	Source    string `db:"source"`
	Tick      int    `db:"tick"`
	Digest    string `db:"digest"`
	Payload   string `db:"payload"`
}

func (r eventRow) toEvent() events.GameEvent {
	return events.GameEvent{
		ID:        r.ID,
		Seq:       r.Seq,
		RunID:     r.RunID,
		Timestamp: time.Unix(0, r.TsUnixNs).UTC(),
		Type:      events.EventType(r.EventType),
		Source:    r.Source,
		Tick:      r.Tick,
		Digest:    r.Digest,
		Payload:   json.RawMessage(r.Payload),
	}
}

const eventColumns = `id, run_id, seq, ts_unix_ns, event_type, source, tick, digest, payload`

// SQLiteEventRepository implements EventRepository for SQLite.
type SQLiteEventRepository struct {
	db *sqlx.DB
}

func NewSQLiteEventRepository(db *sqlx.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

func (r *SQLiteEventRepository) Append(ctx context.Context, event events.GameEvent) error {
	payloadBytes, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	row := eventRow{
		ID:        event.ID,
		RunID:     event.RunID,
		Seq:       event.Seq,
		TsUnixNs:  event.Timestamp.UnixNano(),
		EventType: string(event.Type),
		Source:    event.Source,
		Tick:      event.Tick,
		Digest:    event.Digest,
		Payload:   string(payloadBytes),
	}
	query := `INSERT INTO journal (` + eventColumns + `)
		VALUES (:id, :run_id, :seq, :ts_unix_ns, :event_type, :source, :tick, :digest, :payload)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Persister adapts the repository to the event log. Writes use ctx.
func (r *SQLiteEventRepository) Persister(ctx context.Context) events.EventPersister {
	return events.PersisterFunc(func(e events.GameEvent) error {
		return r.Append(ctx, e)
	})
}

func (r *SQLiteEventRepository) getMany(ctx context.Context, query string, args ...interface{}) ([]events.GameEvent, error) {
	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]events.GameEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEvent())
	}
	return out, nil
}

func (r *SQLiteEventRepository) GetByRunID(ctx context.Context, runID string) ([]events.GameEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM journal WHERE run_id = ? ORDER BY seq ASC`
	return r.getMany(ctx, query, runID)
}

func (r *SQLiteEventRepository) GetByEventType(ctx context.Context, runID string, eventType events.EventType) ([]events.GameEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM journal WHERE run_id = ? AND event_type = ? ORDER BY seq ASC`
	return r.getMany(ctx, query, runID, string(eventType))
}

func (r *SQLiteEventRepository) GetSince(ctx context.Context, runID string, since int64, limit int) ([]events.GameEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + eventColumns + ` FROM journal WHERE run_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`
	return r.getMany(ctx, query, runID, since, limit)
}

// ---------------------------------------------------------
// SQLiteRunRepository
// ---------------------------------------------------------

type runRow struct {
	RunID      string `db:"run_id"`
	ColonyName string `db:"colony_name"`
	StartedAt  int64  `db:"started_at"`
	Events     int    `db:"events"`
}

func (r runRow) toRun() Run {
	return Run{
		RunID:      r.RunID,
		ColonyName: r.ColonyName,
		StartedAt:  time.Unix(0, r.StartedAt).UTC(),
		Events:     r.Events,
	}
}

const runQuery = `SELECT r.run_id, r.colony_name, r.started_at,
		(SELECT COUNT(*) FROM journal j WHERE j.run_id = r.run_id) AS events
	FROM runs r`

type SQLiteRunRepository struct {
	db *sqlx.DB
}

func NewSQLiteRunRepository(db *sqlx.DB) *SQLiteRunRepository {
	return &SQLiteRunRepository{db: db}
}

func (r *SQLiteRunRepository) StartRun(ctx context.Context, runID, colonyName string, startedAt time.Time) error {
	query := `INSERT INTO runs (run_id, colony_name, started_at) VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET colony_name=excluded.colony_name`
	if _, err := r.db.ExecContext(ctx, query, runID, colonyName, startedAt.UnixNano()); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

func (r *SQLiteRunRepository) ListRuns(ctx context.Context) ([]Run, error) {
	var rows []runRow
	if err := r.db.SelectContext(ctx, &rows, runQuery+` ORDER BY r.started_at DESC`); err != nil {
		return nil, err
	}
	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.toRun())
	}
	return runs, nil
}

// LatestRun returns the most recently started run, or nil if there is none.
func (r *SQLiteRunRepository) LatestRun(ctx context.Context) (*Run, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, runQuery+` ORDER BY r.started_at DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	run := row.toRun()
	return &run, nil
}

// ---------------------------------------------------------
// SQLiteSnapshotRepository
// ---------------------------------------------------------

type snapshotRow struct {
	RunID         string `db:"run_id"`
	Tick          int    `db:"tick"`
	Alive         bool   `db:"alive"`
	Population    int    `db:"population"`
	Digest        string `db:"digest"`
	StateJSON     string `db:"state_json"`
	UpdatedUnixNs int64  `db:"updated_unix_ns"`
}

type SQLiteSnapshotRepository struct {
	db *sqlx.DB
}

func NewSQLiteSnapshotRepository(db *sqlx.DB) *SQLiteSnapshotRepository {
	return &SQLiteSnapshotRepository{db: db}
}

func (r *SQLiteSnapshotRepository) Upsert(ctx context.Context, runID string, snap colony.Snapshot) error {
	state, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	row := snapshotRow{
		RunID:         runID,
		Tick:          snap.TickCount,
		Alive:         snap.Alive,
		Population:    snap.Population,
		Digest:        snap.Digest(),
		StateJSON:     string(state),
		UpdatedUnixNs: time.Now().UnixNano(),
	}
	query := `
		INSERT INTO colony_snapshots (run_id, tick, alive, population, digest, state_json, updated_unix_ns)
		VALUES (:run_id, :tick, :alive, :population, :digest, :state_json, :updated_unix_ns)
		ON CONFLICT(run_id) DO UPDATE SET
			tick=excluded.tick,
			alive=excluded.alive,
			population=excluded.population,
			digest=excluded.digest,
			state_json=excluded.state_json,
			updated_unix_ns=excluded.updated_unix_ns
	`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

func (r *SQLiteSnapshotRepository) GetByRunID(ctx context.Context, runID string) (*SnapshotRecord, error) {
	var row snapshotRow
	query := `SELECT run_id, tick, alive, population, digest, state_json, updated_unix_ns FROM colony_snapshots WHERE run_id = ?`
	if err := r.db.GetContext(ctx, &row, query, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rec := &SnapshotRecord{
		RunID:      row.RunID,
		Tick:       row.Tick,
		Alive:      row.Alive,
		Population: row.Population,
		Digest:     row.Digest,
		UpdatedAt:  time.Unix(0, row.UpdatedUnixNs).UTC(),
	}
	if err := json.Unmarshal([]byte(row.StateJSON), &rec.State); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return rec, nil
}
