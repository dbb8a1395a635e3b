//nolint:testpackage
package palm

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// fakeInstance is the native model of the fake engines.
type fakeInstance struct {
	Name      string
	Table     string
	Fields    map[string]any
	Order     []string
	Relations map[string]string
	Hooked    bool
}

func (f *fakeInstance) clone() *fakeInstance {
	c := *f
	c.Fields = maps.Clone(f.Fields)
	c.Order = slices.Clone(f.Order)
	c.Relations = maps.Clone(f.Relations)

	if c.Relations == nil {
		c.Relations = make(map[string]string)
	}

	return &c
}

// fakeTranslator builds fakeInstances and counts translations per model.
type fakeTranslator struct {
	mu    sync.Mutex
	calls map[string]int
}

func newFakeTranslator() *fakeTranslator {
	return &fakeTranslator{calls: make(map[string]int)}
}

func (t *fakeTranslator) TranslateOptions(_ context.Context, _ Engine, name string, opts ModelOptions) (any, error) {
	return opts.TableNameFor(name), nil
}

func (t *fakeTranslator) Translate(_ context.Context, req *ModelTranslation) (any, error) {
	t.mu.Lock()
	t.calls[req.ModelName]++
	t.mu.Unlock()

	inst := &fakeInstance{
		Name:      req.ModelName,
		Table:     req.Options.(string),
		Fields:    make(map[string]any),
		Order:     req.Fields.Names(),
		Relations: make(map[string]string),
	}

	req.Fields.Each(func(name string, value any) {
		inst.Fields[name] = value
	})

	return inst, nil
}

func (t *fakeTranslator) counts() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return maps.Clone(t.calls)
}

// reversingTranslator takes over field iteration and translates fields
// last to first.
type reversingTranslator struct {
	*fakeTranslator
}

func (t reversingTranslator) TranslateFields(ctx context.Context, _ Engine, m *Model, translate FieldTranslateFunc) (*NativeFields, error) {
	fields := NewNativeFields()
	all := m.Fields()

	for i := len(all) - 1; i >= 0; i-- {
		value, keep, err := translate(ctx, all[i])
		if err != nil {
			return nil, err
		}

		if keep {
			fields.Set(all[i].Name, value)
		}
	}

	return fields, nil
}

// kindParser translates a field to its declared type name.
var kindParser = ParserFunc(func(_ context.Context, a *FieldTranslation) (any, error) {
	return a.Field.Type(), nil
})

// deferParser defers foreign keys until their target is translated.
var deferParser = ParserFunc(func(_ context.Context, a *FieldTranslation) (any, error) {
	a.Defer(a.Field.ForeignKey.RelatedTo, false)

	return nil, nil
})

func fakeParsers() *FieldParsers {
	r := NewFieldParsers()

	for _, k := range []FieldKind{
		KindInteger, KindBigInteger, KindChar, KindText, KindDate,
		KindDecimal, KindUUID, KindEnum, KindBoolean,
	} {
		r.Register(k, kindParser)
	}

	return r.Register(KindForeignKey, deferParser)
}

// fakeEngine translates without lazy evaluation or hooks.
type fakeEngine struct {
	*BaseEngine

	translator *fakeTranslator
	models     ModelTranslator
}

func newFakeEngine(connection string) *fakeEngine {
	t := newFakeTranslator()

	return &fakeEngine{
		BaseEngine: NewBaseEngine("fake", connection, fakeParsers()),
		translator: t,
		models:     t,
	}
}

func (e *fakeEngine) Models() ModelTranslator { return e.models }

// lazyEngine resolves deferred foreign keys through evaluate.
type lazyEngine struct {
	*fakeEngine

	evaluate func(ctx context.Context, req *LazyEvaluation) (any, error)
}

func newLazyEngine(connection string) *lazyEngine {
	return &lazyEngine{fakeEngine: newFakeEngine(connection), evaluate: resolveRelation}
}

func (e *lazyEngine) LazyEvaluateField(ctx context.Context, req *LazyEvaluation) (any, error) {
	return e.evaluate(ctx, req)
}

// resolveRelation records the deferred foreign key as a relation to the
// instance of its target.
func resolveRelation(ctx context.Context, req *LazyEvaluation) (any, error) {
	target, err := req.InstanceOf(ctx, req.Partial.(string))
	if err != nil {
		return nil, err
	}

	inst := req.Instance.(*fakeInstance).clone()
	inst.Relations[req.Field.Name] = target.(*fakeInstance).Name

	return inst, nil
}

// hookEngine sees every translated batch and marks its instances.
type hookEngine struct {
	*lazyEngine

	mu      sync.Mutex
	batches [][]string
}

func newHookEngine(connection string) *hookEngine {
	return &hookEngine{lazyEngine: newLazyEngine(connection)}
}

func (e *hookEngine) AfterModelsTranslation(_ context.Context, _ Engine, models []TranslatedModel) ([]TranslatedModel, error) {
	names := make([]string, len(models))
	out := make([]TranslatedModel, len(models))

	for i, m := range models {
		names[i] = m.Name

		inst := m.Instance.(*fakeInstance).clone()
		inst.Hooked = true
		out[i] = TranslatedModel{Name: m.Name, Instance: inst}
	}

	e.mu.Lock()
	e.batches = append(e.batches, names)
	e.mu.Unlock()

	return out, nil
}

func (e *hookEngine) ModelInstanceForHooks(name string, instance any) any {
	if inst, ok := instance.(*fakeInstance); ok && inst.Hooked {
		return "hooked:" + name
	}

	return "hook:" + name
}

// recorder collects pipeline events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Event(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)

	return nil
}

// trace renders events as "action subject" lines.
func (r *recorder) trace() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.events))

	for i, ev := range r.events {
		s := string(ev.Action)

		switch {
		case ev.Field != "":
			s += " " + ev.Model + "." + ev.Field
		case ev.Model != "":
			s += " " + ev.Model
		case ev.Message != "":
			s += " " + ev.Message
		}

		out[i] = s
	}

	return out
}
