package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemorySaver is the required in-memory reference Checkpointer (spec
// §6.3). It keeps every checkpoint ever written for every (thread,
// namespace) it has seen, so history/time-travel and get_state_history
// work without any GC — suitable for tests, development, and short-lived
// runs, matching the role the teacher stack's MemStore plays for plain
// state persistence.
//
// MemorySaver is safe for concurrent use.
type MemorySaver struct {
	mu lockable

	// lane keys are "threadID\x00namespace"; each lane's checkpoints are
	// kept newest-last so List can reverse a slice instead of
	// maintaining a second index.
	lanes map[string][]Tuple

	// pending indexes PutWrites by (lane, checkpointID, taskID) so
	// GetTuple can attach the right writes to the right checkpoint.
	pending map[string]map[string][]PendingWrite // "lane\x00checkpointID" -> taskID -> writes

	seq map[string]int64 // channel -> monotonic sequence counter for NextVersion
}

// lockable is a thin sync.RWMutex wrapper, named for readability at call
// sites below (a bare sync.RWMutex would work identically). MemorySaver's
// zero value is not usable: its maps are nil until NewMemorySaver builds
// them.
type lockable struct{ sync.RWMutex }

// NewMemorySaver constructs an empty MemorySaver.
func NewMemorySaver() *MemorySaver {
	return &MemorySaver{
		lanes:   make(map[string][]Tuple),
		pending: make(map[string]map[string][]PendingWrite),
		seq:     make(map[string]int64),
	}
}

func laneKey(threadID, ns string) string { return threadID + "\x00" + ns }

func (m *MemorySaver) Get(ctx context.Context, cfg Config) (*Checkpoint, error) {
	t, err := m.GetTuple(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cp := t.Checkpoint
	return &cp, nil
}

func (m *MemorySaver) GetTuple(_ context.Context, cfg Config) (*Tuple, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lane, ok := m.lanes[laneKey(cfg.ThreadID, cfg.Namespace)]
	if !ok || len(lane) == 0 {
		return nil, ErrNotFound
	}

	var found *Tuple
	if cfg.CheckpointID == "" {
		t := lane[len(lane)-1]
		found = &t
	} else {
		for i := len(lane) - 1; i >= 0; i-- {
			if lane[i].Checkpoint.ID == cfg.CheckpointID {
				t := lane[i]
				found = &t
				break
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}

	key := laneKey(cfg.ThreadID, cfg.Namespace) + "\x00" + found.Checkpoint.ID
	if byTask, ok := m.pending[key]; ok {
		var all []PendingWrite
		for _, writes := range byTask {
			all = append(all, writes...)
		}
		found.PendingWrites = all
	}
	return found, nil
}

func (m *MemorySaver) List(_ context.Context, cfg Config, opts ListOptions) ([]Tuple, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lane := m.lanes[laneKey(cfg.ThreadID, cfg.Namespace)]
	out := make([]Tuple, 0, len(lane))
	// newest-first
	for i := len(lane) - 1; i >= 0; i-- {
		out = append(out, lane[i])
	}

	if opts.Before != "" {
		idx := -1
		for i, t := range out {
			if t.Checkpoint.ID == opts.Before {
				idx = i
				break
			}
		}
		if idx >= 0 {
			out = out[idx+1:] // strictly older than Before (exclusive)
		}
	}

	if opts.Filter != nil {
		filtered := out[:0:0]
		for _, t := range out {
			if matchesFilter(t.Metadata.Extra, opts.Filter) {
				filtered = append(filtered, t)
			}
		}
		out = filtered
	}

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func matchesFilter(extra, filter map[string]any) bool {
	for k, v := range filter {
		if extra == nil {
			return false
		}
		got, ok := extra[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

func (m *MemorySaver) Put(_ context.Context, cfg Config, cp Checkpoint, meta Metadata, _ map[string]string) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}

	key := laneKey(cfg.ThreadID, cfg.Namespace)
	var parent *Config
	if len(m.lanes[key]) > 0 {
		p := cfg
		p.CheckpointID = m.lanes[key][len(m.lanes[key])-1].Checkpoint.ID
		parent = &p
	}

	m.lanes[key] = append(m.lanes[key], Tuple{
		Config:       Config{ThreadID: cfg.ThreadID, Namespace: cfg.Namespace, CheckpointID: cp.ID, CheckpointMap: cfg.CheckpointMap},
		Checkpoint:   cp,
		Metadata:     meta,
		ParentConfig: parent,
	})

	out := cfg
	out.CheckpointID = cp.ID
	return out, nil
}

func (m *MemorySaver) PutWrites(_ context.Context, cfg Config, writes []PendingWrite, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lane := m.lanes[laneKey(cfg.ThreadID, cfg.Namespace)]
	cpID := cfg.CheckpointID
	if cpID == "" && len(lane) > 0 {
		cpID = lane[len(lane)-1].Checkpoint.ID
	}
	key := laneKey(cfg.ThreadID, cfg.Namespace) + "\x00" + cpID
	if m.pending[key] == nil {
		m.pending[key] = make(map[string][]PendingWrite)
	}
	m.pending[key][taskID] = append(m.pending[key][taskID], writes...)
	return nil
}

// NextVersion produces "<seq>.<contenthash>" tokens: the numeric sequence
// gives total order per channel, the hash suffix makes the token
// content-addressed (spec §3, §4.1). Sequence counters are scoped per
// channel name process-wide, which is sufficient since MemorySaver never
// restarts mid-process.
func (m *MemorySaver) NextVersion(current string, channel string, content any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	if current != "" {
		if parsed, err := parseSeq(current); err == nil {
			n = parsed
		}
	}
	n++
	if m.seq[channel] < n {
		m.seq[channel] = n
	} else {
		m.seq[channel]++
		n = m.seq[channel]
	}
	return strconv.FormatInt(n, 10) + "." + hashVersionContent(content), nil
}

func parseSeq(version string) (int64, error) {
	for i := 0; i < len(version); i++ {
		if version[i] == '.' {
			return strconv.ParseInt(version[:i], 10, 64)
		}
	}
	return strconv.ParseInt(version, 10, 64)
}

// hashVersionContent fingerprints a write's content so version tokens are
// content-addressed. Any JSON-marshaling failure degrades to a %v format,
// which only weakens the cosmetic hash suffix, never ordering.
func hashVersionContent(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", v))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
