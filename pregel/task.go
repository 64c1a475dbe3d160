package pregel

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
)

// PathKind distinguishes a task scheduled by trigger-channel advance
// ("pull") from one scheduled dynamically by a Send ("push") (spec §3).
type PathKind string

const (
	PathPull PathKind = "pull"
	PathPush PathKind = "push"
)

// Path records why a Task exists: either (pull, channel) for the trigger
// channel that caused it, or (push, index) for its position in the
// checkpoint's pending-sends list.
type Path struct {
	Kind    PathKind
	Channel string // meaningful when Kind == PathPull
	Index   int    // meaningful when Kind == PathPush
}

func (p Path) String() string {
	if p.Kind == PathPull {
		return fmt.Sprintf("pull:%s", p.Channel)
	}
	return fmt.Sprintf("push:%d", p.Index)
}

// ChannelWrite is one proposed write produced by a task, targeting one
// channel. A task may propose any number of writes across any number of
// its declared write channels.
type ChannelWrite struct {
	Channel string
	Value   any
}

// SendWrite is a dynamically scheduled task proposal: invoking Node with
// Arg bypasses the channel/trigger machinery entirely and is instead
// queued as a pending send for the next superstep (spec §4.3 step 2, §8
// S8, §9 "Dynamic interrupts" sibling concept).
type SendWrite struct {
	Node string
	Arg  any
}

// Interrupt is the opaque payload carried by a NodeInterrupt request (spec
// §4.3, "Dynamic interrupt"). A task that raises one leaves its Err field
// clear; the node will be re-planned on the next invocation.
type Interrupt struct {
	Payload any
}

// Task is one scheduled execution of a node within one superstep (spec
// §3). Its ID is content-addressed — a hash of the checkpoint id, node
// name, step, and path — so identity is reproducible across retries and
// forks (spec §9, "Deterministic task identity").
type Task struct {
	ID       string
	Node     string
	Path     Path
	Input    any
	Triggers []string
	Step     int

	Writes     []ChannelWrite
	Sends      []SendWrite
	Err        error
	Interrupts []Interrupt

	// Attempt is the zero-based retry counter for observability; it is
	// not part of the task's identity, so retries of the same task share
	// one ID across attempts (spec §9).
	Attempt int
}

// ComputeTaskID derives a task's content-addressed identifier from the
// checkpoint it was planned against, its node name, the superstep index,
// and its path. Two invocations that plan the same task from the same
// checkpoint — including an invocation at a historical checkpoint during
// fork/time-travel — always produce the same ID (spec §8 property 7).
func ComputeTaskID(checkpointID, node string, step int, path Path) string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s\x00%s\x00%d\x00%s", checkpointID, node, step, path.String())
	return hex.EncodeToString(h.Sum(nil))
}

// TaskWriter is the only way a node body can affect the graph. It
// accumulates proposed channel writes, dynamic sends, and interrupt
// requests for the task currently executing; the loop applies writes only
// after the node body returns, so node bodies never mutate channels
// directly (spec §3, "Ownership").
//
// TaskWriter is safe for concurrent use by a single task's goroutine only;
// it is not shared across tasks.
type TaskWriter struct {
	mu         sync.Mutex
	allowed    map[string]bool
	writes     []ChannelWrite
	sends      []SendWrite
	interrupts []Interrupt
}

func newTaskWriter(allowedWrites []string) *TaskWriter {
	allowed := make(map[string]bool, len(allowedWrites))
	for _, c := range allowedWrites {
		allowed[c] = true
	}
	return &TaskWriter{allowed: allowed}
}

// NewTaskWriter builds a standalone TaskWriter scoped to allowedWrites, for
// packages that implement NodeBody and want to unit test Run directly
// without driving a full PregelLoop.
func NewTaskWriter(allowedWrites []string) *TaskWriter {
	return newTaskWriter(allowedWrites)
}

// Writes returns the channel writes recorded so far, for assertions in
// tests that construct a TaskWriter via NewTaskWriter.
func (w *TaskWriter) Writes() []ChannelWrite {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ChannelWrite(nil), w.writes...)
}

// Write proposes a value for the named channel. It returns ErrInvalidGraph
// if channel is not in the node's declared Writes list.
func (w *TaskWriter) Write(channel string, value any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.allowed[channel] {
		return &EngineError{Message: fmt.Sprintf("node attempted to write undeclared channel %q", channel), Code: "UNDECLARED_WRITE", Cause: ErrInvalidGraph}
	}
	w.writes = append(w.writes, ChannelWrite{Channel: channel, Value: value})
	return nil
}

// Send schedules a dynamic task for the named node, bypassing trigger
// channels entirely (spec §4.3 step 2). The target node need not declare
// any triggers.
func (w *TaskWriter) Send(node string, arg any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sends = append(w.sends, SendWrite{Node: node, Arg: arg})
}

// Interrupt requests cooperative suspension of the containing task. The
// task's writes made before calling Interrupt are discarded for this
// attempt; the node is re-planned on the next invocation (spec §4.3,
// "Dynamic interrupt"). Interrupt does not stop the node body's goroutine;
// callers should return immediately after calling it.
func (w *TaskWriter) Interrupt(payload any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.interrupts = append(w.interrupts, Interrupt{Payload: payload})
}

func (w *TaskWriter) snapshot() ([]ChannelWrite, []SendWrite, []Interrupt) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ChannelWrite(nil), w.writes...), append([]SendWrite(nil), w.sends...), append([]Interrupt(nil), w.interrupts...)
}

// hashContent produces a short deterministic fingerprint of an arbitrary
// JSON-marshalable value (spec §3, "successor derivable from predecessor
// and a content hash"). MemorySaver.NextVersion does not call it; it uses
// the checkpoint package's own hashVersionContent, which computes the same
// fingerprint.
func hashContent(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Fall back to a stable marker; this only affects the cosmetic
		// hash suffix of a version token, never correctness, since
		// ordering is carried by the monotonic sequence prefix.
		data = []byte(fmt.Sprintf("%v", v))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
