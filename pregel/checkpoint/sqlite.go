package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteSaver is a SQLite-backed Checkpointer, intended for local
// development, single-process deployments, and prototyping before
// migrating to a distributed backend — the same niche the teacher stack's
// SQLiteStore fills for plain state persistence.
//
// Checkpoints are stored one row per (thread_id, checkpoint_ns, id);
// pending writes are stored append-only in a sibling table keyed by task
// id, matching the Checkpointer contract's append-only PutWrites guarantee
// (spec §4.2).
type SQLiteSaver struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewSQLiteSaver opens (creating if absent) a SQLite database at path and
// migrates its checkpoint tables. Pass ":memory:" for an ephemeral,
// process-local database suitable for tests.
func NewSQLiteSaver(path string) (*SQLiteSaver, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite allows one writer at a time.

	s := &SQLiteSaver{db: db, path: path}
	if _, err := db.ExecContext(context.Background(), `PRAGMA journal_mode=WAL;`); err != nil {
		return nil, fmt.Errorf("checkpoint: enable WAL: %w", err)
	}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSaver) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pregel_checkpoints (
			thread_id TEXT NOT NULL,
			checkpoint_ns TEXT NOT NULL,
			id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			parent_id TEXT,
			source TEXT NOT NULL,
			step INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			body TEXT NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_ns, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pregel_checkpoints_lane
			ON pregel_checkpoints (thread_id, checkpoint_ns, seq)`,
		`CREATE TABLE IF NOT EXISTS pregel_pending_writes (
			thread_id TEXT NOT NULL,
			checkpoint_ns TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			value TEXT NOT NULL,
			seq INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pregel_channel_seq (
			channel TEXT PRIMARY KEY,
			seq INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("checkpoint: migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteSaver) Close() error { return s.db.Close() }

type checkpointBody struct {
	Checkpoint Checkpoint `json:"checkpoint"`
	Metadata   Metadata   `json:"metadata"`
}

func (s *SQLiteSaver) Get(ctx context.Context, cfg Config) (*Checkpoint, error) {
	t, err := s.GetTuple(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cp := t.Checkpoint
	return &cp, nil
}

func (s *SQLiteSaver) GetTuple(ctx context.Context, cfg Config) (*Tuple, error) {
	var (
		id, parentID, bodyJSON string
		hasParent              sql.NullString
		seq                    int64
	)

	var row *sql.Row
	if cfg.CheckpointID != "" {
		row = s.db.QueryRowContext(ctx, `SELECT id, parent_id, body, seq FROM pregel_checkpoints
			WHERE thread_id = ? AND checkpoint_ns = ? AND id = ?`,
			cfg.ThreadID, cfg.Namespace, cfg.CheckpointID)
	} else {
		row = s.db.QueryRowContext(ctx, `SELECT id, parent_id, body, seq FROM pregel_checkpoints
			WHERE thread_id = ? AND checkpoint_ns = ? ORDER BY seq DESC LIMIT 1`,
			cfg.ThreadID, cfg.Namespace)
	}
	if err := row.Scan(&id, &hasParent, &bodyJSON, &seq); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("checkpoint: get: %w", err)
	}
	parentID = hasParent.String

	var body checkpointBody
	if err := json.Unmarshal([]byte(bodyJSON), &body); err != nil {
		return nil, fmt.Errorf("checkpoint: decode: %w", err)
	}

	var parentCfg *Config
	if parentID != "" {
		p := cfg
		p.CheckpointID = parentID
		parentCfg = &p
	}

	writes, err := s.loadPendingWrites(ctx, cfg.ThreadID, cfg.Namespace, id)
	if err != nil {
		return nil, err
	}

	return &Tuple{
		Config:        Config{ThreadID: cfg.ThreadID, Namespace: cfg.Namespace, CheckpointID: id, CheckpointMap: cfg.CheckpointMap},
		Checkpoint:    body.Checkpoint,
		Metadata:      body.Metadata,
		ParentConfig:  parentCfg,
		PendingWrites: writes,
	}, nil
}

func (s *SQLiteSaver) loadPendingWrites(ctx context.Context, threadID, ns, checkpointID string) ([]PendingWrite, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, channel, value FROM pregel_pending_writes
		WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ? ORDER BY seq ASC`,
		threadID, ns, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load pending writes: %w", err)
	}
	defer rows.Close()

	var out []PendingWrite
	for rows.Next() {
		var taskID, channel, valueJSON string
		if err := rows.Scan(&taskID, &channel, &valueJSON); err != nil {
			return nil, err
		}
		var value any
		if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
			return nil, err
		}
		out = append(out, PendingWrite{TaskID: taskID, Channel: channel, Value: value})
	}
	return out, rows.Err()
}

func (s *SQLiteSaver) List(ctx context.Context, cfg Config, opts ListOptions) ([]Tuple, error) {
	query := `SELECT id, parent_id, body, seq FROM pregel_checkpoints WHERE thread_id = ? AND checkpoint_ns = ?`
	args := []any{cfg.ThreadID, cfg.Namespace}

	if opts.Before != "" {
		query += ` AND seq < (SELECT seq FROM pregel_checkpoints WHERE thread_id = ? AND checkpoint_ns = ? AND id = ?)`
		args = append(args, cfg.ThreadID, cfg.Namespace, opts.Before)
	}
	query += ` ORDER BY seq DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list: %w", err)
	}
	defer rows.Close()

	var out []Tuple
	for rows.Next() {
		var id string
		var parentID sql.NullString
		var bodyJSON string
		var seq int64
		if err := rows.Scan(&id, &parentID, &bodyJSON, &seq); err != nil {
			return nil, err
		}
		var body checkpointBody
		if err := json.Unmarshal([]byte(bodyJSON), &body); err != nil {
			return nil, err
		}
		if opts.Filter != nil && !matchesFilter(body.Metadata.Extra, opts.Filter) {
			continue
		}
		var parentCfg *Config
		if parentID.String != "" {
			p := cfg
			p.CheckpointID = parentID.String
			parentCfg = &p
		}
		out = append(out, Tuple{
			Config:       Config{ThreadID: cfg.ThreadID, Namespace: cfg.Namespace, CheckpointID: id},
			Checkpoint:   body.Checkpoint,
			Metadata:     body.Metadata,
			ParentConfig: parentCfg,
		})
	}
	return out, rows.Err()
}

func (s *SQLiteSaver) Put(ctx context.Context, cfg Config, cp Checkpoint, meta Metadata, _ map[string]string) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}

	var parentID string
	var maxSeq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT id, seq FROM pregel_checkpoints
		WHERE thread_id = ? AND checkpoint_ns = ? ORDER BY seq DESC LIMIT 1`,
		cfg.ThreadID, cfg.Namespace).Scan(&parentID, &maxSeq); err != nil && err != sql.ErrNoRows {
		return Config{}, fmt.Errorf("checkpoint: put: read predecessor: %w", err)
	}

	bodyJSON, err := json.Marshal(checkpointBody{Checkpoint: cp, Metadata: meta})
	if err != nil {
		return Config{}, fmt.Errorf("checkpoint: put: encode: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO pregel_checkpoints
		(thread_id, checkpoint_ns, id, seq, parent_id, source, step, created_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ThreadID, cfg.Namespace, cp.ID, maxSeq.Int64+1, nullIfEmpty(parentID), string(meta.Source), meta.Step, cp.Timestamp, string(bodyJSON))
	if err != nil {
		return Config{}, fmt.Errorf("checkpoint: put: insert: %w", err)
	}

	out := cfg
	out.CheckpointID = cp.ID
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *SQLiteSaver) PutWrites(ctx context.Context, cfg Config, writes []PendingWrite, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	checkpointID := cfg.CheckpointID
	if checkpointID == "" {
		if err := s.db.QueryRowContext(ctx, `SELECT id FROM pregel_checkpoints
			WHERE thread_id = ? AND checkpoint_ns = ? ORDER BY seq DESC LIMIT 1`,
			cfg.ThreadID, cfg.Namespace).Scan(&checkpointID); err != nil {
			return fmt.Errorf("checkpoint: put_writes: resolve latest: %w", err)
		}
	}

	var maxSeq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM pregel_pending_writes
		WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?`,
		cfg.ThreadID, cfg.Namespace, checkpointID).Scan(&maxSeq); err != nil {
		return fmt.Errorf("checkpoint: put_writes: read seq: %w", err)
	}

	next := maxSeq.Int64
	for _, w := range writes {
		next++
		valueJSON, err := json.Marshal(w.Value)
		if err != nil {
			return fmt.Errorf("checkpoint: put_writes: encode: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO pregel_pending_writes
			(thread_id, checkpoint_ns, checkpoint_id, task_id, channel, value, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			cfg.ThreadID, cfg.Namespace, checkpointID, taskID, w.Channel, string(valueJSON), next); err != nil {
			return fmt.Errorf("checkpoint: put_writes: insert: %w", err)
		}
	}
	return nil
}

func (s *SQLiteSaver) NextVersion(current string, channel string, content any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	var n int64
	if current != "" {
		n, _ = parseSeq(current)
	}
	n++

	_, err := s.db.ExecContext(ctx, `INSERT INTO pregel_channel_seq (channel, seq) VALUES (?, ?)
		ON CONFLICT(channel) DO UPDATE SET seq = MAX(seq, excluded.seq)`, channel, n)
	if err != nil {
		return "", fmt.Errorf("checkpoint: next_version: %w", err)
	}
	var persisted int64
	if err := s.db.QueryRowContext(ctx, `SELECT seq FROM pregel_channel_seq WHERE channel = ?`, channel).Scan(&persisted); err != nil {
		return "", fmt.Errorf("checkpoint: next_version: read back: %w", err)
	}
	return fmt.Sprintf("%d.%s", persisted, hashVersionContent(content)), nil
}
