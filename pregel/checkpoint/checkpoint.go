// Package checkpoint defines the persistence contract for pregel
// checkpoints (spec §4.2, §6.3) and ships a required in-memory reference
// implementation plus two optional SQL-backed ones. It has no dependency
// on the pregel package itself — the engine depends on checkpoint, not the
// other way around — mirroring how the teacher stack's graph/store package
// is consumed by its engine rather than consuming it.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested (thread, namespace, id) tuple
// has no matching checkpoint.
var ErrNotFound = errors.New("checkpoint: not found")

// Source tags why a checkpoint was created (spec §3, "Checkpoint").
type Source string

const (
	SourceInput  Source = "input"
	SourceLoop   Source = "loop"
	SourceUpdate Source = "update"
	SourceFork   Source = "fork"
)

// PendingSend is one dynamically scheduled task deferred to the next
// superstep, as recorded in a Checkpoint's pending-sends list.
type PendingSend struct {
	Node string `json:"node"`
	Arg  any    `json:"arg"`
}

// Checkpoint is an immutable snapshot of all channel values, per-channel
// versions, per-node seen-versions, and pending sends (spec §3). Once
// created a Checkpoint is never mutated; history is retained for
// time-travel until a Checkpointer's own GC policy (if any) removes it.
type Checkpoint struct {
	SchemaVersion int    `json:"schema_version"`
	ID            string `json:"id"`
	Timestamp     time.Time `json:"timestamp"`

	ChannelValues   map[string]any            `json:"channel_values"`
	ChannelVersions map[string]string         `json:"channel_versions"`
	VersionsSeen    map[string]map[string]string `json:"versions_seen"` // node -> channel -> version

	PendingSends []PendingSend `json:"pending_sends"`

	ParentCheckpointID string            `json:"parent_checkpoint_id,omitempty"`
	ParentNamespaces   map[string]string `json:"parent_namespaces,omitempty"`
}

// Metadata accompanies every Checkpoint (spec §3): which kind of event
// produced it, its step number (-1 for the input record), a per-node
// writes summary for observability, and the namespace->parent-checkpoint-id
// map used to reconstruct lineage across subgraphs.
type Metadata struct {
	Source  Source                  `json:"source"`
	Step    int                     `json:"step"`
	Writes  map[string]any          `json:"writes,omitempty"`
	Parents map[string]string       `json:"parents,omitempty"`
	Extra   map[string]any          `json:"extra,omitempty"`
}

// Config identifies where a checkpoint lives and, optionally, which
// historical checkpoint to read (spec §4.2, §6.5). ThreadID is required
// for any checkpointed invocation; Namespace is an engine-managed
// breadcrumb for subgraph nesting; CheckpointID names a specific point in
// history for resume/fork/time-travel; CheckpointMap records, for each
// ancestor namespace, the ancestor's checkpoint id, letting a subgraph
// restart at the right generation of its parent.
type Config struct {
	ThreadID       string            `json:"thread_id"`
	Namespace      string            `json:"checkpoint_ns"`
	CheckpointID   string            `json:"checkpoint_id,omitempty"`
	CheckpointMap  map[string]string `json:"checkpoint_map,omitempty"`
	RecursionLimit int               `json:"recursion_limit,omitempty"`

	// Extra carries unknown configurable keys verbatim; the loop merges
	// them into each step's checkpoint metadata so callers can correlate
	// runs by arbitrary labels (spec §6.5).
	Extra map[string]any `json:"-"`
}

// PendingWrite is one task-scoped write recorded out-of-band, before
// commit, so a crashed superstep is recoverable (spec §4.3 step 6).
type PendingWrite struct {
	TaskID  string `json:"task_id"`
	Channel string `json:"channel"`
	Value   any    `json:"value"`
}

// Tuple bundles a Checkpoint with its Config, Metadata, parent Config (if
// any), and any PendingWrites recorded for tasks planned against it but
// not yet committed.
type Tuple struct {
	Config        Config
	Checkpoint    Checkpoint
	Metadata      Metadata
	ParentConfig  *Config
	PendingWrites []PendingWrite
}

// ListOptions filters Checkpointer.List (spec §4.2, §6.3). Before, when
// non-empty, returns checkpoints strictly older than the named checkpoint
// id — the "exclusive" reading the spec calls out as the preferred one
// among its two ambiguous source tests (spec §9, Open Questions). Limit
// caps the number of results; zero means unlimited. Filter matches against
// Metadata.Extra by equality on each key.
type ListOptions struct {
	Before string
	Limit  int
	Filter map[string]any
}

// Checkpointer is the pluggable persistence contract for checkpoints (spec
// §4.2). Implementations must preserve, per (thread, namespace): newest-
// first List ordering, List(before=C) strictly older than C, append-only
// PutWrites, and atomicity of a single Put with respect to Get. The engine
// is the only writer per thread, so concurrent Put calls for the same
// (thread, namespace) need not be linearizable beyond their own parent
// chain (spec §4.2, "Ordering guarantees").
type Checkpointer interface {
	// Get returns the checkpoint named by cfg (its latest if
	// cfg.CheckpointID is empty), or ErrNotFound.
	Get(ctx context.Context, cfg Config) (*Checkpoint, error)

	// GetTuple returns the full Tuple — checkpoint, metadata, parent
	// config, and any recorded pending writes — for cfg.
	GetTuple(ctx context.Context, cfg Config) (*Tuple, error)

	// List returns checkpoints for (cfg.ThreadID, cfg.Namespace),
	// newest-first, honoring opts.
	List(ctx context.Context, cfg Config, opts ListOptions) ([]Tuple, error)

	// Put persists a new checkpoint as the latest for (cfg.ThreadID,
	// cfg.Namespace). newVersions names the versions that changed to
	// produce it; MemorySaver, SQLiteSaver and MySQLSaver do not store it
	// separately (cp.ChannelVersions already carries every version). It
	// returns a Config naming the newly created checkpoint.
	Put(ctx context.Context, cfg Config, cp Checkpoint, meta Metadata, newVersions map[string]string) (Config, error)

	// PutWrites appends task-scoped writes for taskID, associated with
	// the checkpoint named by cfg, before those writes are committed to
	// channels. Calls are append-only: a given (cfg, taskID) accumulates
	// writes across calls rather than replacing them.
	PutWrites(ctx context.Context, cfg Config, writes []PendingWrite, taskID string) error

	// NextVersion derives the successor of current for the named
	// channel, given the content that would be written. Tokens are
	// totally ordered per channel by construction (spec §4.1).
	NextVersion(current string, channel string, content any) (string, error)
}
