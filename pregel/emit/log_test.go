package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestLogEmitter_TextModeIncludesNodeAndStep(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, false)

	l.Emit(Event{RunID: "run-1", Timestamp: time.Now(), Kind: KindTask,
		Task: &TaskEvent{TaskID: "t1", Node: "generate", Step: 2, Path: "pull:draft"}})

	out := buf.String()
	if !strings.Contains(out, "node=generate") || !strings.Contains(out, "step=2") {
		t.Fatalf("unexpected text output: %q", out)
	}
}

func TestLogEmitter_TextModeIncludesErrorWhenPresent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, false)

	l.Emit(Event{RunID: "run-1", Kind: KindTaskResult,
		TaskResult: &TaskResultEvent{TaskID: "t1", Node: "n", Err: "boom"}})

	if !strings.Contains(buf.String(), `err="boom"`) {
		t.Fatalf("expected error to appear in text output, got %q", buf.String())
	}
}

func TestLogEmitter_JSONModeProducesValidJSONPerLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, true)

	l.Emit(Event{RunID: "run-1", Kind: KindCheckpoint, Checkpoint: &CheckpointEvent{CheckpointID: "c1", Step: 1, Source: "loop"}})

	var decoded Event
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("expected valid JSON line, got %q: %v", line, err)
	}
	if decoded.Checkpoint == nil || decoded.Checkpoint.CheckpointID != "c1" {
		t.Fatalf("decoded event missing checkpoint payload: %+v", decoded)
	}
}

func TestLogEmitter_EmitBatchWritesEveryEvent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, false)

	events := []Event{
		{RunID: "r", Kind: KindTask, Task: &TaskEvent{Node: "a"}},
		{RunID: "r", Kind: KindTask, Task: &TaskEvent{Node: "b"}},
	}
	if err := l.EmitBatch(nil, events); err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}
	out := buf.String()
	if strings.Count(out, "\n") != 2 {
		t.Fatalf("expected 2 lines, got %q", out)
	}
}

func TestNewLogEmitter_NilWriterDefaultsToStdout(t *testing.T) {
	l := NewLogEmitter(nil, false)
	if l.writer == nil {
		t.Fatal("expected a non-nil default writer")
	}
}
