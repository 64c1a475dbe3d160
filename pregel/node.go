package pregel

import "context"

// NodeBody is the opaque executable a NodeSpec wraps. The engine demands
// nothing of a node body beyond this contract (spec §1): it receives a
// bound input (a single channel's value, or a keyed record when the node
// reads more than one channel), reports its writes and any dynamic-interrupt
// requests through the TaskWriter rather than a result value, and returns
// only an error, so retries and interrupts compose without the engine
// inspecting node-specific result types.
type NodeBody interface {
	Run(ctx context.Context, input any, w *TaskWriter) error
}

// NodeBodyFunc adapts a plain function to NodeBody, mirroring the teacher
// stack's NodeFunc adapter so callers can register closures directly.
type NodeBodyFunc func(ctx context.Context, input any, w *TaskWriter) error

func (f NodeBodyFunc) Run(ctx context.Context, input any, w *TaskWriter) error {
	return f(ctx, input, w)
}

// NodeSpec is the immutable, declarative description of one node (spec
// §3, "Node description"). It is plain data: which channels trigger the
// node, which it reads, which it may write, its retry policy, and the
// opaque Body looked up by name at dispatch time — kept separate from the
// compiled graph's topology so the graph can be traversed, validated, and
// serialized for inspection without touching the callable (spec §9).
type NodeSpec struct {
	// Name uniquely identifies the node within its graph.
	Name string

	// Triggers lists the channels whose version advancing schedules this
	// node for the next superstep. Must be non-empty unless Name ==
	// StartNode.
	Triggers []string

	// Reads lists the channels bound to the node's input. A single
	// channel binds a raw value; multiple channels bind a
	// map[string]any keyed by channel name.
	Reads []string

	// Writes lists the universe of channels this node is permitted to
	// write to. A write to a channel outside this list is rejected at run
	// time by TaskWriter.Write with an error wrapping ErrInvalidGraph.
	Writes []string

	// Retry configures automatic retry of transient failures. Nil means
	// no retries: the first failure is terminal.
	Retry *RetryPolicy

	// Metadata is caller-defined annotation data. The engine reads only
	// the "send_target" key (see checkReachability); Metadata is not copied
	// into checkpoints.
	Metadata map[string]any

	// Body is the opaque executable. It is never serialized; a recompiled
	// graph must re-register the same Body by Name.
	Body NodeBody
}

// StartNode is the distinguished name of the synthetic entry node. Input
// ingestion targets the StartChannel; StartNode is exempt from the
// validator's "non-empty triggers" rule (spec §4.5).
const StartNode = "__start__"

// StartChannel is the distinguished channel that carries new input into a
// thread. The loop writes ingested input here at the start of every
// invocation that supplies one (spec §4.3 step 1).
const StartChannel = "__start__"

// EndNode is the sentinel name a Send or branch target may resolve to, to
// mean "terminate this path" rather than naming a real node.
const EndNode = "__end__"

// ErrorWritesChannel is the distinguished channel under which a task's
// final, retry-exhausted error is recorded via Checkpointer.PutWrites
// (spec §7). Compile rejects any node that lists it in Writes, so no node
// body can write to it.
const ErrorWritesChannel = "__error__"
