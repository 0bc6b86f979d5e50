package bus

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	funcflow "github.com/BDbread72/qonvo-sub000"
	"github.com/BDbread72/qonvo-sub000/interp"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

const eventColumns = "run_id, seq, kind, node_id, node_type, time, elapsed, payload, trace_id, span_id"

// SQLiteStoreConfig configures the SQLite event store.
type SQLiteStoreConfig struct {
	// DSN is the database connection string.
	DSN string

	// RetentionAge deletes events older than this duration (0 = no age pruning).
	RetentionAge time.Duration

	// RetentionCount keeps at most this many events per run (0 = no count pruning).
	RetentionCount int

	// PruneInterval is how often to run pruning (default 1 hour).
	PruneInterval time.Duration
}

// SQLiteEventStore persists events to a SQLite database. The database runs
// in WAL mode so readers do not block the appender. When retention is
// configured a background goroutine prunes expired rows periodically.
type SQLiteEventStore struct {
	db        *sql.DB
	cfg       SQLiteStoreConfig
	stopOnce  sync.Once
	stop      chan struct{}
	pruneDone chan struct{}
}

// NewSQLiteEventStore opens (or creates) a SQLite event store.
func NewSQLiteEventStore(cfg SQLiteStoreConfig) (*SQLiteEventStore, error) {
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = time.Hour
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	for _, stmt := range []string{"PRAGMA journal_mode=WAL", sqliteSchema} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlitestore: init: %w", err)
		}
	}

	s := &SQLiteEventStore{
		db:        db,
		cfg:       cfg,
		stop:      make(chan struct{}),
		pruneDone: make(chan struct{}),
	}
	if cfg.RetentionAge > 0 || cfg.RetentionCount > 0 {
		go s.pruneLoop()
	} else {
		close(s.pruneDone)
	}
	return s, nil
}

// Append stores an event in the database.
func (s *SQLiteEventStore) Append(ctx context.Context, event interp.Event) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO events ("+eventColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		event.RunID, event.Seq, string(event.Kind), event.NodeID, string(event.NodeType),
		event.Time.Format(time.RFC3339Nano), int64(event.Elapsed), string(body),
		event.TraceID, event.SpanID,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: append: %w", err)
	}
	return nil
}

// List returns events for a run with Seq greater than afterSeq, in Seq
// order. A limit of 0 returns everything.
func (s *SQLiteEventStore) List(ctx context.Context, runID string, afterSeq uint64, limit int) ([]interp.Event, error) {
	query := "SELECT " + eventColumns + " FROM events WHERE run_id = ? AND seq > ? ORDER BY seq ASC"
	args := []any{runID, afterSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()

	var events []interp.Event
	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LatestSeq returns the highest Seq for a run (0 if no events).
func (s *SQLiteEventStore) LatestSeq(ctx context.Context, runID string) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(seq) FROM events WHERE run_id = ?", runID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: latest seq: %w", err)
	}
	if !seq.Valid || seq.Int64 < 0 {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// RunIDs returns distinct run IDs from the store.
func (s *SQLiteEventStore) RunIDs(ctx context.Context) ([]string, error) {
	return s.distinctRunIDs(ctx, " ORDER BY run_id")
}

// Close stops the background pruner and closes the database connection.
func (s *SQLiteEventStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.pruneDone
	return s.db.Close()
}

// Prune runs a single pruning pass. Exported for testing.
func (s *SQLiteEventStore) Prune(ctx context.Context) error {
	if s.cfg.RetentionAge > 0 {
		cutoff := time.Now().Add(-s.cfg.RetentionAge).Format(time.RFC3339Nano)
		if _, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE time < ?", cutoff); err != nil {
			return fmt.Errorf("sqlitestore: prune by age: %w", err)
		}
	}
	if s.cfg.RetentionCount == 0 {
		return nil
	}

	runIDs, err := s.distinctRunIDs(ctx, "")
	if err != nil {
		return err
	}
	for _, runID := range runIDs {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM events WHERE run_id = ? AND id NOT IN (
				SELECT id FROM events WHERE run_id = ? ORDER BY seq DESC LIMIT ?
			)`, runID, runID, s.cfg.RetentionCount,
		)
		if err != nil {
			return fmt.Errorf("sqlitestore: prune by count for %s: %w", runID, err)
		}
	}
	return nil
}

func (s *SQLiteEventStore) distinctRunIDs(ctx context.Context, order string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT run_id FROM events"+order)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: run ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteEventStore) pruneLoop() {
	defer close(s.pruneDone)

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.Prune(context.Background())
		}
	}
}

func scanEventRow(rows *sql.Rows) (interp.Event, error) {
	var (
		e           interp.Event
		kind        string
		nodeType    string
		timeStr     string
		elapsedNano int64
		body        string
	)
	err := rows.Scan(&e.RunID, &e.Seq, &kind, &e.NodeID, &nodeType,
		&timeStr, &elapsedNano, &body, &e.TraceID, &e.SpanID)
	if err != nil {
		return e, fmt.Errorf("sqlitestore: scan event: %w", err)
	}

	e.Kind = interp.EventKind(kind)
	e.NodeType = funcflow.NodeType(nodeType)
	e.Elapsed = time.Duration(elapsedNano)
	if e.Time, err = time.Parse(time.RFC3339Nano, timeStr); err != nil {
		return e, fmt.Errorf("sqlitestore: parse time %q: %w", timeStr, err)
	}

	e.Payload = map[string]any{}
	if body != "" && body != "{}" {
		if err := json.Unmarshal([]byte(body), &e.Payload); err != nil {
			return e, fmt.Errorf("sqlitestore: unmarshal payload: %w", err)
		}
	}
	return e, nil
}

var _ EventStore = (*SQLiteEventStore)(nil)
