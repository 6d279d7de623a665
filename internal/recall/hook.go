package recall

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ChamsBouzaiene/reagent/internal/engine"
	"github.com/ChamsBouzaiene/reagent/internal/memory"
)

// Hook feeds step content into the index as it is produced. Index failures
// are logged, never surfaced: recall is best-effort.
type Hook struct {
	engine.NopHook
	index *Index
	log   *slog.Logger
}

var _ engine.Hook = (*Hook)(nil)

func NewHook(index *Index, log *slog.Logger) *Hook {
	if log == nil {
		log = slog.Default()
	}
	return &Hook{index: index, log: log}
}

func (h *Hook) OnPlanningStep(_ context.Context, info engine.RunInfo, step memory.PlanningStep) {
	h.add(Document{
		ID:    fmt.Sprintf("%s/plan/%d", info.RunID, info.Step),
		RunID: info.RunID,
		Agent: info.Agent,
		Step:  info.Step,
		Kind:  "plan",
		Text:  step.Plan,
	})
}

func (h *Hook) OnActionStep(_ context.Context, info engine.RunInfo, step memory.ActionStep) {
	kind, text := "observation", step.Observation
	if step.Failed() {
		kind, text = "error", step.Error
	}
	if text == "" {
		return
	}
	h.add(Document{
		ID:    fmt.Sprintf("%s/action/%d", info.RunID, step.Number),
		RunID: info.RunID,
		Agent: info.Agent,
		Step:  step.Number,
		Kind:  kind,
		Text:  text,
	})
}

func (h *Hook) add(doc Document) {
	if err := h.index.Add(doc); err != nil {
		h.log.Warn("recall index write failed", "doc_id", doc.ID, "error", err)
	}
}
