package palm

import (
	"context"
	"time"
)

// Action represents the type of translation event.
type Action string

// Action constants for translation events.
const (
	ActionPass      Action = "pass"
	ActionTranslate Action = "translated"
	ActionReuse     Action = "reused"
	ActionSupplied  Action = "supplied"
	ActionDefer     Action = "deferred"
	ActionResolve   Action = "resolved"
	ActionDrop      Action = "dropped"
	ActionHook      Action = "hook"
	ActionConfirm   Action = "confirm"
)

// IsModel reports whether the action concludes a model's translation.
func (a Action) IsModel() bool {
	return a == ActionTranslate || a == ActionReuse || a == ActionSupplied
}

// Event is emitted by the pipeline as translation progresses.
type Event struct {
	Time       time.Time
	Action     Action
	Engine     string
	Connection string
	Pass       int
	Model      string
	Field      string // set for deferred field events
	Elapsed    time.Duration
	Message    string
}

// EventHandler receives translation events. A returned error aborts the
// translation.
type EventHandler interface {
	Event(ctx context.Context, event Event) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event Event) error

// Event calls f.
func (f EventHandlerFunc) Event(ctx context.Context, event Event) error {
	return f(ctx, event)
}
