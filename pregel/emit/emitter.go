package emit

import "context"

// Emitter receives observability events from a running loop. Implementations
// must not block the loop for long and must not panic; Emit is called
// synchronously from the superstep driver.
type Emitter interface {
	// Emit sends a single event.
	Emit(event Event)

	// EmitBatch sends multiple events, preserving order. Returns error only
	// on catastrophic failure; per-event delivery failures should be
	// swallowed and logged internally.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until all buffered events are delivered or ctx expires.
	Flush(ctx context.Context) error
}
