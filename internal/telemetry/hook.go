package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ChamsBouzaiene/reagent/internal/engine"
	"github.com/ChamsBouzaiene/reagent/internal/memory"
)

// Span attribute keys for run and step telemetry.
const (
	AttrRunID       = "reagent.run.id"
	AttrAgent       = "reagent.agent.name"
	AttrTask        = "reagent.run.task"
	AttrExitReason  = "reagent.run.exit_reason"
	AttrActionNum   = "reagent.action.number"
	AttrActionTool  = "reagent.action.tool"
	AttrErrorKind   = "reagent.action.error_kind"
	AttrTokensTotal = "reagent.usage.total_tokens"
)

// TraceHook records one span per run with events for planning and action
// steps. It implements engine.Hook.
type TraceHook struct {
	engine.NopHook
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

var _ engine.Hook = (*TraceHook)(nil)

func NewTraceHook() *TraceHook {
	return &TraceHook{
		tracer: otel.Tracer(TracerName),
		spans:  make(map[string]trace.Span),
	}
}

func (h *TraceHook) OnRunStart(ctx context.Context, info engine.RunInfo, task string) {
	_, span := h.tracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String(AttrRunID, info.RunID),
			attribute.String(AttrAgent, info.Agent),
			attribute.String(AttrTask, task),
		))
	h.mu.Lock()
	h.spans[info.RunID] = span
	h.mu.Unlock()
}

func (h *TraceHook) OnPlanningStep(_ context.Context, info engine.RunInfo, step memory.PlanningStep) {
	if span := h.span(info.RunID); span != nil {
		span.AddEvent("planning", trace.WithAttributes(
			attribute.Bool("edited", step.Edited),
			attribute.Int("plan_chars", len(step.Plan)),
		))
	}
}

func (h *TraceHook) OnActionStep(_ context.Context, info engine.RunInfo, step memory.ActionStep) {
	span := h.span(info.RunID)
	if span == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.Int(AttrActionNum, step.Number),
		attribute.Int64("duration_ms", step.Duration.Milliseconds()),
	}
	if step.ToolName != "" {
		attrs = append(attrs, attribute.String(AttrActionTool, step.ToolName))
	}
	if step.Failed() {
		attrs = append(attrs, attribute.String(AttrErrorKind, step.ErrorKind))
	}
	span.AddEvent("action", trace.WithAttributes(attrs...))
}

func (h *TraceHook) OnRetryAttempt(_ context.Context, info engine.RunInfo, attempt int, delay time.Duration, err error) {
	if span := h.span(info.RunID); span != nil {
		span.AddEvent("provider_retry", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("error", err.Error()),
		))
	}
}

func (h *TraceHook) OnDone(_ context.Context, info engine.RunInfo, final memory.FinalStep, totals memory.Usage) {
	h.mu.Lock()
	span := h.spans[info.RunID]
	delete(h.spans, info.RunID)
	h.mu.Unlock()
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String(AttrExitReason, string(final.Reason)),
		attribute.Int(AttrTokensTotal, totals.Total),
	)
	if final.Reason == memory.ExitFatalError {
		span.SetStatus(codes.Error, final.Answer)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (h *TraceHook) span(runID string) trace.Span {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.spans[runID]
}
