package palm

import (
	"cmp"
	"slices"
	"sync"
)

// DeferredField is a field whose native form waits on other models. It is
// queued by FieldTranslation.Defer and consumed by the resolution step.
type DeferredField struct {
	Model   *Model
	Field   *Field
	Partial any
}

// deferQueue collects deferred fields of one pass in append order.
type deferQueue struct {
	mu      sync.Mutex
	entries []DeferredField
}

func (q *deferQueue) push(e DeferredField) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, e)
}

func (q *deferQueue) drain() []DeferredField {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.entries
	q.entries = nil

	return out
}

// orderDeferred sorts entries so that a model's deferred foreign keys are
// resolved after those of the models it points to. Models waiting on each
// other share a level. Within a level append order is kept.
func orderDeferred(entries []DeferredField) []DeferredField {
	var owners []string

	seen := make(map[string]bool)

	for _, e := range entries {
		if !seen[e.Model.Name] {
			seen[e.Model.Name] = true
			owners = append(owners, e.Model.Name)
		}
	}

	deps := make(map[string][]string)

	for _, e := range entries {
		fk := e.Field.ForeignKey
		if fk == nil || fk.RelatedTo == e.Model.Name || !seen[fk.RelatedTo] {
			continue
		}

		if !slices.Contains(deps[e.Model.Name], fk.RelatedTo) {
			deps[e.Model.Name] = append(deps[e.Model.Name], fk.RelatedTo)
		}
	}

	level := make(map[string]int, len(owners))
	remaining := owners

	for lvl := 0; len(remaining) > 0; lvl++ {
		var ready, rest []string

		for _, name := range remaining {
			done := true

			for _, dep := range deps[name] {
				if _, ok := level[dep]; !ok {
					done = false

					break
				}
			}

			if done {
				ready = append(ready, name)
			} else {
				rest = append(rest, name)
			}
		}

		if len(ready) == 0 {
			// cycle: everything left waits on something else left
			for _, name := range rest {
				level[name] = lvl
			}

			break
		}

		for _, name := range ready {
			level[name] = lvl
		}

		remaining = rest
	}

	out := slices.Clone(entries)
	slices.SortStableFunc(out, func(a, b DeferredField) int {
		return cmp.Compare(level[a.Model.Name], level[b.Model.Name])
	})

	return out
}
