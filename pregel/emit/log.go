package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter writes events to an io.Writer, either as human-readable text or
// as JSON Lines. Both modes write one line per event.
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter returns a LogEmitter. A nil writer defaults to os.Stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s] run=%s", event.Kind, event.RunID)
	switch event.Kind {
	case KindTask:
		_, _ = fmt.Fprintf(l.writer, " step=%d node=%s task=%s path=%s", event.Task.Step, event.Task.Node, event.Task.TaskID, event.Task.Path)
	case KindTaskResult:
		_, _ = fmt.Fprintf(l.writer, " step=%d node=%s task=%s attempt=%d dur=%s", event.TaskResult.Step, event.TaskResult.Node, event.TaskResult.TaskID, event.TaskResult.Attempt, event.TaskResult.Duration)
		if event.TaskResult.Err != "" {
			_, _ = fmt.Fprintf(l.writer, " err=%q", event.TaskResult.Err)
		}
	case KindCheckpoint:
		_, _ = fmt.Fprintf(l.writer, " step=%d checkpoint=%s source=%s", event.Checkpoint.Step, event.Checkpoint.CheckpointID, event.Checkpoint.Source)
	case KindInterrupt:
		_, _ = fmt.Fprintf(l.writer, " node=%s task=%s", event.Interrupt.Node, event.Interrupt.TaskID)
	case KindValues:
		_, _ = fmt.Fprintf(l.writer, " step=%d channels=%d", event.Values.Step, len(event.Values.Values))
	case KindUpdates:
		_, _ = fmt.Fprintf(l.writer, " step=%d node=%s channels=%d", event.Updates.Step, event.Updates.Node, len(event.Updates.Updates))
	case KindCustom:
		_, _ = fmt.Fprintf(l.writer, " node=%s", event.Custom.Node)
	}
	_, _ = fmt.Fprint(l.writer, "\n")
}

// EmitBatch writes each event in order. Errors from individual writes are
// not surfaced since the underlying Emit never reports them.
func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, event := range events {
		l.Emit(event)
	}
	return nil
}

// Flush is a no-op: LogEmitter never buffers. Wrap writer in a bufio.Writer
// and flush that directly if buffering is desired.
func (l *LogEmitter) Flush(context.Context) error { return nil }
