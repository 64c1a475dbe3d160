package emit

import (
	"context"
	"sync"
)

// BufferedEmitter stores events in memory, keyed by RunID, for querying
// after the fact. Suitable for tests and short-lived inspection; not meant
// for long-running production workflows with unbounded event volume.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// HistoryFilter narrows GetHistoryWithFilter. Zero-value fields are
// unconstrained; all set fields combine with AND.
type HistoryFilter struct {
	Kind    Kind
	MinStep *int
	MaxStep *int
}

// NewBufferedEmitter returns an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, event := range events {
		b.events[event.RunID] = append(b.events[event.RunID], event)
	}
	return nil
}

// Flush is a no-op: BufferedEmitter has no downstream transport to drain.
func (b *BufferedEmitter) Flush(context.Context) error { return nil }

// GetHistory returns a copy of every event recorded for runID, in emission
// order.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	events := b.events[runID]
	out := make([]Event, len(events))
	for i, e := range events {
		e.Task, e.TaskResult, e.Checkpoint = clonePtr(e.Task), clonePtr(e.TaskResult), clonePtr(e.Checkpoint)
		e.Interrupt, e.Values, e.Updates, e.Custom = clonePtr(e.Interrupt), clonePtr(e.Values), clonePtr(e.Updates), clonePtr(e.Custom)
		out[i] = e
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// GetHistoryWithFilter returns runID's events matching filter.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	all := b.GetHistory(runID)
	out := all[:0:0]
	for _, e := range all {
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		step, ok := stepOf(e)
		if filter.MinStep != nil && (!ok || step < *filter.MinStep) {
			continue
		}
		if filter.MaxStep != nil && (!ok || step > *filter.MaxStep) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func stepOf(e Event) (int, bool) {
	switch e.Kind {
	case KindTask:
		return e.Task.Step, true
	case KindTaskResult:
		return e.TaskResult.Step, true
	case KindCheckpoint:
		return e.Checkpoint.Step, true
	case KindValues:
		return e.Values.Step, true
	case KindUpdates:
		return e.Updates.Step, true
	default:
		return 0, false
	}
}

// Clear removes every event recorded for runID. Clear("") removes all runs.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}
