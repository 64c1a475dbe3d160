package emit

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each Event into an OpenTelemetry span, named after its
// Kind, with the Kind-specific payload flattened into span attributes. Spans
// are point-in-time: started and ended immediately, since events describe a
// moment rather than a duration (task_result carries its own Duration as an
// attribute instead).
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter returns an Emitter that records spans via tracer, typically
// obtained from otel.Tracer("pregel").
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), string(event.Kind))
	defer span.End()
	o.annotate(span, event)
}

func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		_, span := o.tracer.Start(ctx, string(event.Kind))
		o.annotate(span, event)
		span.End()
	}
	return nil
}

// Flush force-flushes the global tracer provider if it supports ForceFlush
// (the SDK provider does; the no-op provider does not).
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func (o *OTelEmitter) annotate(span trace.Span, event Event) {
	span.SetAttributes(attribute.String("pregel.run_id", event.RunID))

	switch event.Kind {
	case KindTask:
		t := event.Task
		span.SetAttributes(
			attribute.String("pregel.task_id", t.TaskID),
			attribute.String("pregel.node", t.Node),
			attribute.Int("pregel.step", t.Step),
			attribute.String("pregel.path", t.Path),
		)
	case KindTaskResult:
		r := event.TaskResult
		span.SetAttributes(
			attribute.String("pregel.task_id", r.TaskID),
			attribute.String("pregel.node", r.Node),
			attribute.Int("pregel.step", r.Step),
			attribute.Int("pregel.attempt", r.Attempt),
			attribute.Int64("pregel.duration_ms", int64(r.Duration/time.Millisecond)),
		)
		if r.Err != "" {
			span.SetStatus(codes.Error, r.Err)
			span.RecordError(errString(r.Err))
		}
	case KindCheckpoint:
		c := event.Checkpoint
		span.SetAttributes(
			attribute.String("pregel.checkpoint_id", c.CheckpointID),
			attribute.Int("pregel.step", c.Step),
			attribute.String("pregel.source", c.Source),
		)
	case KindInterrupt:
		i := event.Interrupt
		span.SetAttributes(
			attribute.String("pregel.task_id", i.TaskID),
			attribute.String("pregel.node", i.Node),
		)
	case KindValues:
		v := event.Values
		span.SetAttributes(
			attribute.Int("pregel.step", v.Step),
			attribute.Int("pregel.channel_count", len(v.Values)),
		)
	case KindUpdates:
		u := event.Updates
		span.SetAttributes(
			attribute.Int("pregel.step", u.Step),
			attribute.String("pregel.node", u.Node),
			attribute.Int("pregel.channel_count", len(u.Updates)),
		)
	case KindCustom:
		span.SetAttributes(attribute.String("pregel.node", event.Custom.Node))
	}
}

type errString string

func (e errString) Error() string { return string(e) }
