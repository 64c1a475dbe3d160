package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// MySQLSaver is a MySQL/MariaDB-backed Checkpointer for production
// workflows that must survive process restarts and be shared across
// worker processes — the same production niche the teacher stack's
// MySQLStore fills for plain state persistence. The schema mirrors
// SQLiteSaver's (pregel_checkpoints, pregel_pending_writes,
// pregel_channel_seq) with AUTO_INCREMENT in place of SQLite's manual
// sequence bookkeeping.
type MySQLSaver struct {
	db *sql.DB
	mu sync.Mutex
}

// NewMySQLSaver opens a MySQL connection using dsn (see
// go-sql-driver/mysql's DSN format) and migrates the checkpoint tables.
// Callers should source dsn from environment configuration, never from a
// literal in source.
func NewMySQLSaver(dsn string) (*MySQLSaver, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open mysql: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	s := &MySQLSaver{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MySQLSaver) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pregel_checkpoints (
			seq BIGINT NOT NULL AUTO_INCREMENT,
			thread_id VARCHAR(255) NOT NULL,
			checkpoint_ns VARCHAR(255) NOT NULL,
			id VARCHAR(64) NOT NULL,
			parent_id VARCHAR(64),
			source VARCHAR(32) NOT NULL,
			step INT NOT NULL,
			created_at DATETIME(6) NOT NULL,
			body LONGTEXT NOT NULL,
			PRIMARY KEY (seq),
			UNIQUE KEY uniq_checkpoint (thread_id, checkpoint_ns, id),
			KEY idx_lane (thread_id, checkpoint_ns, seq)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS pregel_pending_writes (
			seq BIGINT NOT NULL AUTO_INCREMENT,
			thread_id VARCHAR(255) NOT NULL,
			checkpoint_ns VARCHAR(255) NOT NULL,
			checkpoint_id VARCHAR(64) NOT NULL,
			task_id VARCHAR(128) NOT NULL,
			channel VARCHAR(255) NOT NULL,
			value LONGTEXT NOT NULL,
			PRIMARY KEY (seq),
			KEY idx_checkpoint (thread_id, checkpoint_ns, checkpoint_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS pregel_channel_seq (
			channel VARCHAR(255) NOT NULL PRIMARY KEY,
			seq BIGINT NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("checkpoint: migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *MySQLSaver) Close() error { return s.db.Close() }

func (s *MySQLSaver) Get(ctx context.Context, cfg Config) (*Checkpoint, error) {
	t, err := s.GetTuple(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cp := t.Checkpoint
	return &cp, nil
}

func (s *MySQLSaver) GetTuple(ctx context.Context, cfg Config) (*Tuple, error) {
	var id, bodyJSON string
	var parentID sql.NullString

	var row *sql.Row
	if cfg.CheckpointID != "" {
		row = s.db.QueryRowContext(ctx, `SELECT id, parent_id, body FROM pregel_checkpoints
			WHERE thread_id = ? AND checkpoint_ns = ? AND id = ?`,
			cfg.ThreadID, cfg.Namespace, cfg.CheckpointID)
	} else {
		row = s.db.QueryRowContext(ctx, `SELECT id, parent_id, body FROM pregel_checkpoints
			WHERE thread_id = ? AND checkpoint_ns = ? ORDER BY seq DESC LIMIT 1`,
			cfg.ThreadID, cfg.Namespace)
	}
	if err := row.Scan(&id, &parentID, &bodyJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("checkpoint: get: %w", err)
	}

	var body checkpointBody
	if err := json.Unmarshal([]byte(bodyJSON), &body); err != nil {
		return nil, fmt.Errorf("checkpoint: decode: %w", err)
	}

	var parentCfg *Config
	if parentID.String != "" {
		p := cfg
		p.CheckpointID = parentID.String
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

func (s *MySQLSaver) loadPendingWrites(ctx context.Context, threadID, ns, checkpointID string) ([]PendingWrite, error) {
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

func (s *MySQLSaver) List(ctx context.Context, cfg Config, opts ListOptions) ([]Tuple, error) {
	query := `SELECT id, parent_id, body FROM pregel_checkpoints WHERE thread_id = ? AND checkpoint_ns = ?`
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
		if err := rows.Scan(&id, &parentID, &bodyJSON); err != nil {
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

func (s *MySQLSaver) Put(ctx context.Context, cfg Config, cp Checkpoint, meta Metadata, _ map[string]string) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}

	var parentID string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM pregel_checkpoints
		WHERE thread_id = ? AND checkpoint_ns = ? ORDER BY seq DESC LIMIT 1`,
		cfg.ThreadID, cfg.Namespace).Scan(&parentID)
	if err != nil && err != sql.ErrNoRows {
		return Config{}, fmt.Errorf("checkpoint: put: read predecessor: %w", err)
	}

	bodyJSON, err := json.Marshal(checkpointBody{Checkpoint: cp, Metadata: meta})
	if err != nil {
		return Config{}, fmt.Errorf("checkpoint: put: encode: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO pregel_checkpoints
		(thread_id, checkpoint_ns, id, parent_id, source, step, created_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ThreadID, cfg.Namespace, cp.ID, nullIfEmpty(parentID), string(meta.Source), meta.Step, cp.Timestamp, string(bodyJSON))
	if err != nil {
		return Config{}, fmt.Errorf("checkpoint: put: insert: %w", err)
	}

	out := cfg
	out.CheckpointID = cp.ID
	return out, nil
}

func (s *MySQLSaver) PutWrites(ctx context.Context, cfg Config, writes []PendingWrite, taskID string) error {
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

	for _, w := range writes {
		valueJSON, err := json.Marshal(w.Value)
		if err != nil {
			return fmt.Errorf("checkpoint: put_writes: encode: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO pregel_pending_writes
			(thread_id, checkpoint_ns, checkpoint_id, task_id, channel, value)
			VALUES (?, ?, ?, ?, ?, ?)`,
			cfg.ThreadID, cfg.Namespace, checkpointID, taskID, w.Channel, string(valueJSON)); err != nil {
			return fmt.Errorf("checkpoint: put_writes: insert: %w", err)
		}
	}
	return nil
}

func (s *MySQLSaver) NextVersion(current string, channel string, content any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	var n int64
	if current != "" {
		n, _ = parseSeq(current)
	}
	n++

	_, err := s.db.ExecContext(ctx, `INSERT INTO pregel_channel_seq (channel, seq) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE seq = GREATEST(seq, VALUES(seq))`, channel, n)
	if err != nil {
		return "", fmt.Errorf("checkpoint: next_version: %w", err)
	}
	var persisted int64
	if err := s.db.QueryRowContext(ctx, `SELECT seq FROM pregel_channel_seq WHERE channel = ?`, channel).Scan(&persisted); err != nil {
		return "", fmt.Errorf("checkpoint: next_version: read back: %w", err)
	}
	return fmt.Sprintf("%d.%s", persisted, hashVersionContent(content)), nil
}
