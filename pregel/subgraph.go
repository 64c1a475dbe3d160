package pregel

import (
	"context"

	"github.com/flowforge/pregel/pregel/checkpoint"
)

// SubgraphBridge runs a compiled child graph as the body of a parent node
// (spec §4.4). The child gets its own checkpoint namespace, derived from the
// parent task's ID, so its history is addressable independently while still
// nesting under the parent thread. The child's CheckpointMap maps the parent
// namespace to the parent task id; the bridge does not see, and so does not
// record, the parent's checkpoint id.
type SubgraphBridge struct {
	child        *PregelLoop
	threadID     string
	parentNS     string
	invokedInTask map[string]bool
}

// NewSubgraphBridge wires child to run under the given parent thread. A
// single bridge instance is meant to back one node's Body across many
// tasks; it tracks, per parent task ID, whether that task has already
// invoked the child once (spec's ErrMultipleSubgraphs rule).
func NewSubgraphBridge(child *PregelLoop, threadID, parentNamespace string) *SubgraphBridge {
	return &SubgraphBridge{
		child:         child,
		threadID:      threadID,
		parentNS:      parentNamespace,
		invokedInTask: make(map[string]bool),
	}
}

// invoke runs the child graph for one parent task: it rejects a second call
// for the same parentTaskID, derives the child's namespace from the parent
// task id, and invokes the child loop. NodeBody below supplies parentTaskID
// from the context.
func (b *SubgraphBridge) invoke(ctx context.Context, parentTaskID string, input any) (Result, error) {
	if b.invokedInTask[parentTaskID] {
		return Result{}, ErrMultipleSubgraphs
	}
	b.invokedInTask[parentTaskID] = true

	childNS := b.parentNS
	if childNS != "" {
		childNS += "/"
	}
	childNS += parentTaskID

	cfg := checkpoint.Config{
		ThreadID:  b.threadID,
		Namespace: childNS,
		CheckpointMap: map[string]string{
			b.parentNS: parentTaskID,
		},
	}

	return b.child.Invoke(ctx, cfg, input)
}

// NodeBody adapts SubgraphBridge to run as a parent node: it reads the
// parent Task's ID off the context (set by the loop via contextWithTaskID before
// invoking a node body) to derive the child namespace, invokes the child
// graph to completion or interrupt, and surfaces the child's own interrupts
// as the parent task's interrupts via w.
func (b *SubgraphBridge) NodeBody() NodeBody {
	return NodeBodyFunc(func(ctx context.Context, input any, w *TaskWriter) error {
		taskID, ok := taskIDFromContext(ctx)
		if !ok {
			return &EngineError{Message: "subgraph bridge invoked outside a task context", Code: "INVALID_GRAPH", Cause: ErrInvalidGraph}
		}
		result, err := b.invoke(ctx, taskID, input)
		if err != nil {
			return err
		}
		if result.Interrupted {
			for _, in := range result.Interrupts {
				w.Interrupt(in.Payload)
			}
			return nil
		}
		for ch, v := range result.Values {
			_ = w.Write(ch, v) // w rejects channels outside the parent node's Writes list; those values are dropped here
		}
		return nil
	})
}

type taskIDKey struct{}

// contextWithTaskID attaches a task's ID to the context passed to its node
// body, so a SubgraphBridge body (or any node wanting to log its own task
// identity) can recover it without threading it through NodeBody's
// signature.
func contextWithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, taskID)
}

func taskIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(taskIDKey{}).(string)
	return v, ok
}
