// Package report renders translation events and accumulates a summary of a
// pipeline run.
package report

import (
	"slices"
	"sync"
	"time"

	"github.com/rlch/palm"
)

// Summary accumulates translation events.
type Summary struct {
	mu sync.RWMutex

	StartTime time.Time
	EndTime   time.Time

	Passes     int
	Translated int
	Reused     int
	Supplied   int
	Deferred   int
	Resolved   int
	Dropped    int

	// Models indexed by "connection/model".
	Models map[string]*ModelResult

	// Order preserves insertion order for display.
	Order []string

	// Notes holds hook and confirmation messages.
	Notes []string
}

// NewSummary creates an initialized Summary.
func NewSummary() *Summary {
	return &Summary{
		StartTime: time.Now(),
		Models:    make(map[string]*ModelResult),
	}
}

// ModelResult holds the outcome of one model on one connection.
type ModelResult struct {
	Connection string
	Model      string
	Status     palm.Action
	Pass       int
	Elapsed    time.Duration

	// Deferred and Dropped list field names.
	Deferred []string
	Dropped  []string
}

// Key returns the summary key of the result.
func (mr *ModelResult) Key() string {
	return summaryKey(mr.Connection, mr.Model)
}

func summaryKey(connection, model string) string {
	return connection + "/" + model
}

// model returns the result for an event, creating it. r.mu is held.
func (r *Summary) model(event palm.Event) *ModelResult {
	k := summaryKey(event.Connection, event.Model)

	mr, ok := r.Models[k]
	if !ok {
		mr = &ModelResult{Connection: event.Connection, Model: event.Model}
		r.Models[k] = mr
		r.Order = append(r.Order, k)
	}

	return mr
}

// Add records an event.
func (r *Summary) Add(event palm.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch event.Action {
	case palm.ActionPass:
		r.Passes = max(r.Passes, event.Pass)
	case palm.ActionTranslate, palm.ActionReuse, palm.ActionSupplied:
		mr := r.model(event)
		mr.Status = event.Action
		mr.Pass = event.Pass
		mr.Elapsed = event.Elapsed

		switch event.Action {
		case palm.ActionTranslate:
			r.Translated++
		case palm.ActionReuse:
			r.Reused++
		default:
			r.Supplied++
		}
	case palm.ActionDefer:
		mr := r.model(event)
		if !slices.Contains(mr.Deferred, event.Field) {
			mr.Deferred = append(mr.Deferred, event.Field)
		}

		r.Deferred++
	case palm.ActionResolve:
		r.Resolved++
	case palm.ActionDrop:
		mr := r.model(event)
		mr.Dropped = append(mr.Dropped, event.Field)
		r.Dropped++
	case palm.ActionHook, palm.ActionConfirm:
		if event.Message != "" {
			r.Notes = append(r.Notes, event.Message)
		}
	}
}

// Finish marks the summary as complete.
func (r *Summary) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.EndTime = time.Now()
}

// Elapsed returns the total run time.
func (r *Summary) Elapsed() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}

	return r.EndTime.Sub(r.StartTime)
}

// Ok reports whether every deferred field was resolved.
func (r *Summary) Ok() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.Dropped == 0
}

// Results returns the model results in insertion order.
func (r *Summary) Results() []*ModelResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ModelResult, 0, len(r.Order))
	for _, k := range r.Order {
		out = append(out, r.Models[k])
	}

	return out
}

// DroppedFields returns "Model.field" for every dropped field.
func (r *Summary) DroppedFields() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string

	for _, k := range r.Order {
		mr := r.Models[k]
		for _, f := range mr.Dropped {
			out = append(out, mr.Model+"."+f)
		}
	}

	return out
}
