package pregel

import (
	"context"
	"errors"
	"testing"

	"github.com/flowforge/pregel/pregel/checkpoint"
)

func buildChildGraph(t *testing.T) *CompiledGraph {
	t.Helper()
	g := NewGraph()
	g.AddChannel("out", ChannelSpec{Kind: KindLastValue})
	g.AddNode(NodeSpec{
		Name:     "echo",
		Triggers: []string{StartChannel},
		Reads:    []string{StartChannel},
		Writes:   []string{"out"},
		Body: NodeBodyFunc(func(_ context.Context, input any, w *TaskWriter) error {
			return w.Write("out", input)
		}),
	})
	compiled, err := g.Compile()
	if err != nil {
		t.Fatal(err)
	}
	return compiled
}

func TestSubgraphBridge_DerivesNamespaceFromParentTaskID(t *testing.T) {
	childGraph := buildChildGraph(t)
	child, err := New(childGraph, checkpoint.NewMemorySaver())
	if err != nil {
		t.Fatal(err)
	}

	bridge := NewSubgraphBridge(child, "parent-thread", "")
	result, err := bridge.invoke(context.Background(), "task-1", "payload")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.Values["out"] != "payload" {
		t.Errorf("child result = %+v, want out=payload", result.Values)
	}
	if result.Config.ThreadID != "parent-thread" || result.Config.Namespace != "task-1" {
		t.Errorf("unexpected child config: %+v", result.Config)
	}
}

func TestSubgraphBridge_RejectsSecondInvokeInSameTask(t *testing.T) {
	childGraph := buildChildGraph(t)
	child, _ := New(childGraph, checkpoint.NewMemorySaver())
	bridge := NewSubgraphBridge(child, "parent-thread", "")

	if _, err := bridge.invoke(context.Background(), "task-1", "a"); err != nil {
		t.Fatalf("first invoke: %v", err)
	}
	if _, err := bridge.invoke(context.Background(), "task-1", "b"); !errors.Is(err, ErrMultipleSubgraphs) {
		t.Fatalf("expected ErrMultipleSubgraphs on second invoke, got %v", err)
	}
}

func TestSubgraphBridge_AllowsDifferentTasksIndependently(t *testing.T) {
	childGraph := buildChildGraph(t)
	child, _ := New(childGraph, checkpoint.NewMemorySaver())
	bridge := NewSubgraphBridge(child, "parent-thread", "")

	if _, err := bridge.invoke(context.Background(), "task-1", "a"); err != nil {
		t.Fatalf("task-1 invoke: %v", err)
	}
	if _, err := bridge.invoke(context.Background(), "task-2", "b"); err != nil {
		t.Fatalf("task-2 invoke should be independent of task-1: %v", err)
	}
}

func TestSubgraphBridge_NodeBodyRequiresTaskContext(t *testing.T) {
	childGraph := buildChildGraph(t)
	child, _ := New(childGraph, checkpoint.NewMemorySaver())
	bridge := NewSubgraphBridge(child, "parent-thread", "")

	w := NewTaskWriter([]string{"out"})
	err := bridge.NodeBody().Run(context.Background(), "x", w)
	if err == nil {
		t.Fatal("expected error when task ID is absent from context")
	}
}

func TestSubgraphBridge_NodeBodyWritesChildValuesThroughParentWriter(t *testing.T) {
	childGraph := buildChildGraph(t)
	child, _ := New(childGraph, checkpoint.NewMemorySaver())
	bridge := NewSubgraphBridge(child, "parent-thread", "")

	w := NewTaskWriter([]string{"out"})
	ctx := contextWithTaskID(context.Background(), "task-x")
	if err := bridge.NodeBody().Run(ctx, "hi", w); err != nil {
		t.Fatalf("Run: %v", err)
	}
	writes := w.Writes()
	if len(writes) != 1 || writes[0].Channel != "out" || writes[0].Value != "hi" {
		t.Fatalf("unexpected writes: %+v", writes)
	}
}

func TestContextWithTaskID_RoundTrips(t *testing.T) {
	ctx := contextWithTaskID(context.Background(), "abc")
	id, ok := taskIDFromContext(ctx)
	if !ok || id != "abc" {
		t.Fatalf("taskIDFromContext = (%q, %v), want (abc, true)", id, ok)
	}
}

func TestTaskIDFromContext_FalseWhenAbsent(t *testing.T) {
	if _, ok := taskIDFromContext(context.Background()); ok {
		t.Fatal("expected false for a context with no task ID")
	}
}
