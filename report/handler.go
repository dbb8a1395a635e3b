package report

import (
	"context"
	"errors"

	"github.com/rlch/palm"
)

// ErrMaxDropped is returned when the dropped field limit is reached.
var ErrMaxDropped = errors.New("report: max dropped fields reached")

// Handler receives translation events together with the running summary.
type Handler interface {
	Event(ctx context.Context, event palm.Event, summary *Summary) error
}

// Bind adapts handlers to a pipeline event handler sharing summary.
func Bind(summary *Summary, handlers ...Handler) palm.EventHandler { //nolint:ireturn
	h := NewMultiHandler(handlers...)

	return palm.EventHandlerFunc(func(ctx context.Context, event palm.Event) error {
		return h.Event(ctx, event, summary)
	})
}

// MultiHandler fans out events to multiple handlers.
type MultiHandler struct {
	handlers []Handler
}

// NewMultiHandler creates a handler that dispatches to multiple handlers.
func NewMultiHandler(handlers ...Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

// Event dispatches to all handlers, stopping on first error.
func (m *MultiHandler) Event(ctx context.Context, event palm.Event, summary *Summary) error {
	for _, h := range m.handlers {
		err := h.Event(ctx, event, summary)
		if err != nil {
			return err
		}
	}

	return nil
}

// SummaryHandler updates the Summary from events.
type SummaryHandler struct{}

// NewSummaryHandler creates a handler that accumulates the summary.
func NewSummaryHandler() *SummaryHandler {
	return &SummaryHandler{}
}

// Event updates the summary.
func (h *SummaryHandler) Event(_ context.Context, event palm.Event, summary *Summary) error {
	summary.Add(event)

	return nil
}

// StopOnDropHandler aborts translation when too many fields were dropped.
type StopOnDropHandler struct {
	maxDropped int
}

// NewStopOnDropHandler creates a handler that stops after n dropped fields.
func NewStopOnDropHandler(maxDropped int) *StopOnDropHandler {
	return &StopOnDropHandler{maxDropped: maxDropped}
}

// Event checks whether the limit was hit.
func (h *StopOnDropHandler) Event(_ context.Context, event palm.Event, summary *Summary) error {
	if h.maxDropped <= 0 || event.Action != palm.ActionDrop {
		return nil
	}

	summary.mu.RLock()
	dropped := summary.Dropped
	summary.mu.RUnlock()

	if dropped >= h.maxDropped {
		return ErrMaxDropped
	}

	return nil
}
