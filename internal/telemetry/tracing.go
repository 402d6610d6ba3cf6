// Package telemetry wraps OpenTelemetry tracing with the span shapes this
// engine needs: one root span per session, one child span per task
// execution, and one per fixed-point pass.
//
// Grounded on agentkit's telemetry/tracing.go (Tracer wrapping
// trace.Tracer with named Start*/End* helper pairs), narrowed from LLM/
// tool-call spans to session/task/pass spans (SPEC_FULL.md §10).
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer with this engine's span helpers.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer registered under name (typically the module
// path, per otel convention).
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// Noop returns a tracer backed by the no-op provider, for callers that
// have not configured an exporter.
func Noop() *Tracer {
	return &Tracer{tracer: trace.NewNoopTracerProvider().Tracer("anvil")}
}

// StartSession starts the root span for one top-level run() invocation.
func (t *Tracer) StartSession(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "anvil.session", trace.WithAttributes(
		attribute.String("anvil.session_id", sessionID),
	))
}

// EndSession closes the session span, recording err if non-nil.
func (t *Tracer) EndSession(span trace.Span, err error) {
	endSpan(span, err)
}

// StartFixedPointPass starts a span for one iteration of the reactive
// controller's loop (spec.md §4.4).
func (t *Tracer) StartFixedPointPass(ctx context.Context, passNumber int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "anvil.fixed_point_pass", trace.WithAttributes(
		attribute.Int("anvil.pass", passNumber),
	))
}

// EndFixedPointPass closes a fixed-point pass span, recording how many
// ADD/UPDATE outcomes it produced.
func (t *Tracer) EndFixedPointPass(span trace.Span, changes int, err error) {
	span.SetAttributes(attribute.Int("anvil.changes", changes))
	endSpan(span, err)
}

// StartTask starts a span for one task's full pre-check-through-commit
// lifecycle (spec.md §5: "indivisible from the perspective of other
// tasks").
func (t *Tracer) StartTask(ctx context.Context, taskName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "anvil.task", trace.WithAttributes(
		attribute.String("anvil.task_name", taskName),
	))
}

// EndTask closes a task span, recording its terminal state name and
// reason.
func (t *Tracer) EndTask(span trace.Span, state, reason string, err error) {
	span.SetAttributes(
		attribute.String("anvil.task_state", state),
		attribute.String("anvil.task_reason", reason),
	)
	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
