package pregel

import (
	"errors"
	"testing"
)

func TestComputeTaskID_DeterministicForSameInputs(t *testing.T) {
	id1 := ComputeTaskID("ckpt-1", "nodeA", 3, Path{Kind: PathPull, Channel: "x"})
	id2 := ComputeTaskID("ckpt-1", "nodeA", 3, Path{Kind: PathPull, Channel: "x"})
	if id1 != id2 {
		t.Fatalf("ComputeTaskID not deterministic: %q != %q", id1, id2)
	}
}

func TestComputeTaskID_DiffersByStepNodeOrPath(t *testing.T) {
	base := ComputeTaskID("ckpt-1", "nodeA", 3, Path{Kind: PathPull, Channel: "x"})

	variants := []string{
		ComputeTaskID("ckpt-2", "nodeA", 3, Path{Kind: PathPull, Channel: "x"}),
		ComputeTaskID("ckpt-1", "nodeB", 3, Path{Kind: PathPull, Channel: "x"}),
		ComputeTaskID("ckpt-1", "nodeA", 4, Path{Kind: PathPull, Channel: "x"}),
		ComputeTaskID("ckpt-1", "nodeA", 3, Path{Kind: PathPull, Channel: "y"}),
		ComputeTaskID("ckpt-1", "nodeA", 3, Path{Kind: PathPush, Index: 0}),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d unexpectedly equals base ID", i)
		}
	}
}

func TestPath_StringFormatsByKind(t *testing.T) {
	if got := (Path{Kind: PathPull, Channel: "draft"}).String(); got != "pull:draft" {
		t.Errorf("pull path String() = %q", got)
	}
	if got := (Path{Kind: PathPush, Index: 2}).String(); got != "push:2" {
		t.Errorf("push path String() = %q", got)
	}
}

func TestTaskWriter_WriteRejectsUndeclaredChannel(t *testing.T) {
	w := NewTaskWriter([]string{"allowed"})
	if err := w.Write("not-allowed", "x"); err == nil {
		t.Fatal("expected error writing an undeclared channel")
	} else if !errors.Is(err, ErrInvalidGraph) {
		t.Errorf("expected ErrInvalidGraph, got %v", err)
	}
}

func TestTaskWriter_WriteAcceptsDeclaredChannel(t *testing.T) {
	w := NewTaskWriter([]string{"draft"})
	if err := w.Write("draft", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	writes := w.Writes()
	if len(writes) != 1 || writes[0].Channel != "draft" || writes[0].Value != "hello" {
		t.Fatalf("unexpected writes: %+v", writes)
	}
}

func TestTaskWriter_MultipleWritesAccumulate(t *testing.T) {
	w := NewTaskWriter([]string{"a", "b"})
	w.Write("a", 1)
	w.Write("b", 2)
	w.Write("a", 3)
	if len(w.Writes()) != 3 {
		t.Fatalf("expected 3 accumulated writes, got %d", len(w.Writes()))
	}
}

func TestTaskWriter_SendRecordsPendingSend(t *testing.T) {
	w := NewTaskWriter(nil)
	w.Send("worker", "payload")

	_, sends, _ := w.snapshot()
	if len(sends) != 1 || sends[0].Node != "worker" || sends[0].Arg != "payload" {
		t.Fatalf("unexpected sends: %+v", sends)
	}
}

func TestTaskWriter_InterruptRecordsPayload(t *testing.T) {
	w := NewTaskWriter(nil)
	w.Interrupt("waiting on human")

	_, _, interrupts := w.snapshot()
	if len(interrupts) != 1 || interrupts[0].Payload != "waiting on human" {
		t.Fatalf("unexpected interrupts: %+v", interrupts)
	}
}

func TestTaskWriter_SnapshotIsIndependentCopy(t *testing.T) {
	w := NewTaskWriter([]string{"a"})
	w.Write("a", 1)
	writes, _, _ := w.snapshot()
	writes[0].Value = 999

	again, _, _ := w.snapshot()
	if again[0].Value != 1 {
		t.Fatalf("snapshot mutation leaked into writer state: %+v", again)
	}
}
