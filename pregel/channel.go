package pregel

import (
	"fmt"
	"sort"
)

// Channel is the contract the loop uses to read, write, and snapshot one
// named slot of graph state (spec §4.1). The set of variants is closed —
// LastValueChannel, TopicChannel, BinaryOperatorAggregateChannel,
// EphemeralValueChannel, UntrackedValueChannel, and ContextChannel — so
// there is no need for dynamic dispatch on user-provided subclasses (spec
// §9, "Channels as sum types").
//
// The PregelLoop is the only caller of Channel methods; node bodies never
// see a Channel directly, only the values Update/Get produce.
type Channel interface {
	// Name returns the channel's identifier, as given to its constructor.
	Name() string

	// Update applies a batch of writes from one superstep atomically. It
	// returns true iff the channel's readable value changed as a result,
	// which the loop uses to decide whether to bump the channel's version.
	// It returns ErrInvalidUpdate if the writes violate the variant's
	// aggregation rule.
	Update(writes []any) (changed bool, err error)

	// Get produces the current readable value, or ErrEmptyChannel if the
	// channel has never been written to (and has no configured initial
	// value).
	Get() (any, error)

	// Checkpoint produces a serializable representation of the channel's
	// current value, suitable for Checkpoint.ChannelValues.
	Checkpoint() (any, error)

	// FromCheckpoint restores the channel's value from a representation
	// previously produced by Checkpoint.
	FromCheckpoint(repr any) error

	// Consume is called once per superstep, after all reads for that
	// superstep have completed. Variants with single-superstep lifetime
	// (Topic, EphemeralValue) clear themselves here; others are no-ops.
	Consume()
}

// ChannelKind names one of the closed set of channel variants, used when
// describing a channel in a graph's channel table and when restoring a
// channel from its serialized kind + representation.
type ChannelKind string

const (
	KindLastValue     ChannelKind = "last_value"
	KindTopic         ChannelKind = "topic"
	KindBinaryOpAgg   ChannelKind = "binary_operator_aggregate"
	KindEphemeral     ChannelKind = "ephemeral_value"
	KindUntracked     ChannelKind = "untracked_value"
	KindContext       ChannelKind = "context"
)

// ChannelSpec describes how to construct a channel at graph-compile time.
// Exactly one of the variant-specific fields is meaningful, selected by
// Kind; this mirrors the closed tagged-variant design in spec §9 while
// keeping graph descriptions plain, serializable data (spec §9, "Node
// description vs. node body").
type ChannelSpec struct {
	Kind ChannelKind

	// BinaryOperator and Identity are used only when Kind ==
	// KindBinaryOpAgg. BinaryOperator must be associative.
	BinaryOperator func(acc, next any) any
	Identity       any

	// Acquire and Release are used only when Kind == KindContext.
	// Acquire runs once at loop start; Release runs once at loop exit
	// (every exit path, including error and cancellation).
	Acquire func() (any, error)
	Release func(value any) error
}

// NewChannel constructs the Channel variant named by spec.Kind.
func NewChannel(name string, spec ChannelSpec) (Channel, error) {
	switch spec.Kind {
	case KindLastValue:
		return &LastValueChannel{name: name}, nil
	case KindTopic:
		return &TopicChannel{name: name}, nil
	case KindBinaryOpAgg:
		if spec.BinaryOperator == nil {
			return nil, &EngineError{Message: "binary operator aggregate channel requires an operator", Code: "INVALID_CHANNEL_SPEC"}
		}
		return &BinaryOperatorAggregateChannel{name: name, op: spec.BinaryOperator, identity: spec.Identity, value: spec.Identity, hasValue: false}, nil
	case KindEphemeral:
		return &EphemeralValueChannel{name: name}, nil
	case KindUntracked:
		return &UntrackedValueChannel{name: name}, nil
	case KindContext:
		return &ContextChannel{name: name, acquire: spec.Acquire, release: spec.Release}, nil
	default:
		return nil, &EngineError{Message: fmt.Sprintf("unknown channel kind %q", spec.Kind), Code: "INVALID_CHANNEL_SPEC"}
	}
}

// LastValueChannel holds at most one write per superstep. A second write in
// the same superstep is an InvalidUpdate (spec §3 invariants, §8 property
// 8). Its value persists across supersteps once set.
type LastValueChannel struct {
	name     string
	value    any
	hasValue bool
}

func (c *LastValueChannel) Name() string { return c.name }

func (c *LastValueChannel) Update(writes []any) (bool, error) {
	if len(writes) == 0 {
		return false, nil
	}
	if len(writes) > 1 {
		return false, &EngineError{Message: fmt.Sprintf("channel %q (LastValue) received %d writes in one superstep", c.name, len(writes)), Code: "INVALID_UPDATE", Cause: ErrInvalidUpdate}
	}
	c.value = writes[0]
	c.hasValue = true
	return true, nil
}

func (c *LastValueChannel) Get() (any, error) {
	if !c.hasValue {
		return nil, ErrEmptyChannel
	}
	return c.value, nil
}

func (c *LastValueChannel) Checkpoint() (any, error) {
	if !c.hasValue {
		return nil, nil
	}
	return c.value, nil
}

func (c *LastValueChannel) FromCheckpoint(repr any) error {
	if repr == nil {
		c.hasValue = false
		c.value = nil
		return nil
	}
	c.value = repr
	c.hasValue = true
	return nil
}

func (c *LastValueChannel) Consume() {}

// TopicChannel accepts any number of writes per superstep and aggregates
// them, in write order, into a sequence. The loop applies a superstep's
// writes at its commit, so the sequence is read by the following
// superstep; Consume, which the loop calls at the start of each commit
// before new writes are applied, discards it, so each superstep reads
// exactly what the previous one wrote (spec §3).
type TopicChannel struct {
	name    string
	current []any
}

func (c *TopicChannel) Name() string { return c.name }

func (c *TopicChannel) Update(writes []any) (bool, error) {
	if len(writes) == 0 {
		return false, nil
	}
	c.current = append(append([]any(nil), c.current...), writes...)
	return true, nil
}

func (c *TopicChannel) Get() (any, error) {
	if c.current == nil {
		return nil, ErrEmptyChannel
	}
	out := make([]any, len(c.current))
	copy(out, c.current)
	return out, nil
}

func (c *TopicChannel) Checkpoint() (any, error) {
	return c.current, nil
}

func (c *TopicChannel) FromCheckpoint(repr any) error {
	if repr == nil {
		c.current = nil
		return nil
	}
	items, ok := repr.([]any)
	if !ok {
		return &EngineError{Message: fmt.Sprintf("topic channel %q: bad checkpoint representation", c.name), Code: "INVALID_CHECKPOINT"}
	}
	c.current = items
	return nil
}

// Consume drops this superstep's accumulated writes; Topic has no value
// that carries forward once it has been read.
func (c *TopicChannel) Consume() {
	c.current = nil
}

// BinaryOperatorAggregateChannel folds any number of per-superstep writes
// left, via an associative operator with an identity element, into a value
// that persists across supersteps (spec §3).
type BinaryOperatorAggregateChannel struct {
	name     string
	op       func(acc, next any) any
	identity any
	value    any
	hasValue bool
}

func (c *BinaryOperatorAggregateChannel) Name() string { return c.name }

func (c *BinaryOperatorAggregateChannel) Update(writes []any) (bool, error) {
	if len(writes) == 0 {
		return false, nil
	}
	acc := c.value
	if !c.hasValue {
		acc = c.identity
	}
	for _, w := range writes {
		acc = c.op(acc, w)
	}
	c.value = acc
	c.hasValue = true
	return true, nil
}

func (c *BinaryOperatorAggregateChannel) Get() (any, error) {
	if !c.hasValue {
		return nil, ErrEmptyChannel
	}
	return c.value, nil
}

func (c *BinaryOperatorAggregateChannel) Checkpoint() (any, error) {
	if !c.hasValue {
		return nil, nil
	}
	return c.value, nil
}

func (c *BinaryOperatorAggregateChannel) FromCheckpoint(repr any) error {
	if repr == nil {
		c.hasValue = false
		return nil
	}
	c.value = repr
	c.hasValue = true
	return nil
}

func (c *BinaryOperatorAggregateChannel) Consume() {}

// EphemeralValueChannel behaves like LastValue for the superstep it is
// written in, but its value does not survive into the next superstep once
// consumed — the first Consume after a read clears it (spec §3).
type EphemeralValueChannel struct {
	name     string
	value    any
	hasValue bool
	read     bool
}

func (c *EphemeralValueChannel) Name() string { return c.name }

func (c *EphemeralValueChannel) Update(writes []any) (bool, error) {
	if len(writes) == 0 {
		return false, nil
	}
	if len(writes) > 1 {
		return false, &EngineError{Message: fmt.Sprintf("channel %q (EphemeralValue) received %d writes in one superstep", c.name, len(writes)), Code: "INVALID_UPDATE", Cause: ErrInvalidUpdate}
	}
	c.value = writes[0]
	c.hasValue = true
	c.read = false
	return true, nil
}

func (c *EphemeralValueChannel) Get() (any, error) {
	if !c.hasValue {
		return nil, ErrEmptyChannel
	}
	c.read = true
	return c.value, nil
}

func (c *EphemeralValueChannel) Checkpoint() (any, error) {
	if !c.hasValue {
		return nil, nil
	}
	return c.value, nil
}

func (c *EphemeralValueChannel) FromCheckpoint(repr any) error {
	if repr == nil {
		c.hasValue = false
		c.value = nil
		return nil
	}
	c.value = repr
	c.hasValue = true
	return nil
}

// Consume drops the value once it has been read by the superstep that
// followed its write, implementing the single-superstep lifetime.
func (c *EphemeralValueChannel) Consume() {
	if c.read {
		c.hasValue = false
		c.value = nil
		c.read = false
	}
}

// UntrackedValueChannel holds an opaque, read-only, process-scoped value
// that is never versioned and never included in checkpoints (spec §3). It
// is typically used to hand a node a handle to a process-local resource
// (a logger, a connection pool) that has no business being persisted.
type UntrackedValueChannel struct {
	name  string
	value any
}

func (c *UntrackedValueChannel) Name() string { return c.name }

// Update sets the untracked value directly; untracked channels never
// report a version change because they are excluded from versioning.
func (c *UntrackedValueChannel) Update(writes []any) (bool, error) {
	if len(writes) == 0 {
		return false, nil
	}
	c.value = writes[len(writes)-1]
	return false, nil
}

func (c *UntrackedValueChannel) Get() (any, error) {
	return c.value, nil
}

// Checkpoint always returns nil: untracked channels are never persisted.
func (c *UntrackedValueChannel) Checkpoint() (any, error) { return nil, nil }

func (c *UntrackedValueChannel) FromCheckpoint(any) error { return nil }

func (c *UntrackedValueChannel) Consume() {}

// ContextChannel scopes acquisition of an external resource to the loop's
// lifetime: Acquire runs once when the loop starts, Release runs once when
// the loop exits on every exit path (spec §5, "Shared resources").
type ContextChannel struct {
	name     string
	acquire  func() (any, error)
	release  func(value any) error
	value    any
	acquired bool
}

func (c *ContextChannel) Name() string { return c.name }

// AcquireResource runs the configured acquisition function exactly once. It is
// called by the loop, not by node bodies.
func (c *ContextChannel) AcquireResource() error {
	if c.acquired || c.acquire == nil {
		return nil
	}
	v, err := c.acquire()
	if err != nil {
		return err
	}
	c.value = v
	c.acquired = true
	return nil
}

// ReleaseResource runs the configured release function exactly once,
// regardless of why the loop is exiting.
func (c *ContextChannel) ReleaseResource() error {
	if !c.acquired || c.release == nil {
		return nil
	}
	c.acquired = false
	return c.release(c.value)
}

// Update is a no-op: context channels are read-only to nodes and never
// written via the normal write path.
func (c *ContextChannel) Update([]any) (bool, error) { return false, nil }

func (c *ContextChannel) Get() (any, error) {
	if !c.acquired {
		return nil, ErrEmptyChannel
	}
	return c.value, nil
}

// Checkpoint always returns nil: context channels are loop-scoped, never
// persisted across runs.
func (c *ContextChannel) Checkpoint() (any, error) { return nil, nil }

func (c *ContextChannel) FromCheckpoint(any) error { return nil }

func (c *ContextChannel) Consume() {}

// sortedChannelNames returns names sorted for deterministic iteration,
// used wherever the loop must walk a channel map in a stable order (e.g.
// computing triggered nodes, or serializing checkpoints).
func sortedChannelNames(m map[string]Channel) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
