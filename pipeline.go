package palm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Translation limits.
const (
	DefaultMaxIterations = 16
	DefaultTimeout       = 30 * time.Second

	// maxPasses is the initial pass plus one forced re-pass after a
	// confirmed partial regeneration.
	maxPasses = 2
)

// Pipeline translates the models of a catalog into engine-native
// instances. One pipeline may serve any number of engines; per-engine
// state lives in each engine's TranslationCache.
type Pipeline struct {
	catalog       *Catalog
	logger        *zap.Logger
	handler       EventHandler
	confirm       ConfirmationPolicy
	maxIterations int
	timeout       time.Duration
	strict        bool
	concurrency   int

	emitMu sync.Mutex
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

// WithHandler sets the event handler.
func WithHandler(h EventHandler) PipelineOption {
	return func(p *Pipeline) { p.handler = h }
}

// WithConfirmation sets the policy consulted before a partial
// regeneration. The default is AutoDeny.
func WithConfirmation(c ConfirmationPolicy) PipelineOption {
	return func(p *Pipeline) { p.confirm = c }
}

// WithMaxIterations bounds deferred resolution rounds.
func WithMaxIterations(n int) PipelineOption {
	return func(p *Pipeline) { p.maxIterations = n }
}

// WithTimeout bounds the wall-clock time of deferred resolution. Zero
// disables the bound.
func WithTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.timeout = d }
}

// WithStrictDeferred makes unresolved deferred fields an error instead of
// dropping them.
func WithStrictDeferred(strict bool) PipelineOption {
	return func(p *Pipeline) { p.strict = strict }
}

// WithConcurrency limits how many models are translated at once. Zero or
// less means no limit.
func WithConcurrency(n int) PipelineOption {
	return func(p *Pipeline) { p.concurrency = n }
}

// NewPipeline creates a pipeline over catalog.
func NewPipeline(catalog *Catalog, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		catalog:       catalog,
		logger:        zap.NewNop(),
		confirm:       AutoDeny,
		maxIterations: DefaultMaxIterations,
		timeout:       DefaultTimeout,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = zap.NewNop()
	}

	if p.confirm == nil {
		p.confirm = AutoDeny
	}

	if p.maxIterations <= 0 {
		p.maxIterations = DefaultMaxIterations
	}

	return p
}

// Catalog returns the pipeline's catalog.
func (p *Pipeline) Catalog() *Catalog { return p.catalog }

// Result is the outcome of translating a batch on one engine.
type Result struct {
	Engine     string
	Connection string
	// Models holds the initialized models of the batch in batch order.
	Models []*InitializedModel
	// Dropped lists deferred fields that never resolved.
	Dropped []DeferredField
	Passes  int
	// Reused is true when the cache already held every model.
	Reused    bool
	StartTime time.Time
	EndTime   time.Time
}

// Model returns the initialized model by name, or nil.
func (r *Result) Model(name string) *InitializedModel {
	for _, im := range r.Models {
		if im.ModelName == name {
			return im
		}
	}

	return nil
}

// Elapsed returns the translation duration.
func (r *Result) Elapsed() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Translate translates every model of the catalog that belongs to the
// engine's connection. Models already cached are reused.
func (p *Pipeline) Translate(ctx context.Context, eng Engine) (*Result, error) {
	return p.run(ctx, eng, p.catalog.Models(), false)
}

// TranslateModels translates a subset of the catalog. Models not on the
// engine's connection are skipped.
func (p *Pipeline) TranslateModels(ctx context.Context, eng Engine, models []*Model) (*Result, error) {
	return p.run(ctx, eng, models, false)
}

// Retranslate translates every model of the connection again, ignoring
// the cache and caller-supplied instances.
func (p *Pipeline) Retranslate(ctx context.Context, eng Engine) (*Result, error) {
	return p.run(ctx, eng, p.catalog.Models(), true)
}

// pass is the state of one translation pass over a batch.
type pass struct {
	number int
	force  bool
	eng    Engine
	batch  []*Model
	queue  deferQueue
}

func (p *Pipeline) run(ctx context.Context, eng Engine, models []*Model, force bool) (*Result, error) {
	err := p.catalog.Init()
	if err != nil {
		return nil, err
	}

	conn := eng.ConnectionName()

	var batch []*Model

	for _, m := range models {
		if m.catalog != p.catalog {
			return nil, fmt.Errorf("%w: %s", ErrUnknownModel, m.Name)
		}

		if m.OnConnection(conn) {
			batch = append(batch, m)
		}
	}

	// A failed batch leaves the cache as it found it.
	snap := eng.Cache().snapshot()

	res, err := p.translateBatch(ctx, eng, batch, force)
	if err != nil {
		eng.Cache().restore(snap)

		return nil, err
	}

	return res, nil
}

func (p *Pipeline) translateBatch(ctx context.Context, eng Engine, batch []*Model, force bool) (*Result, error) {
	conn := eng.ConnectionName()
	res := &Result{Engine: eng.Name(), Connection: conn, StartTime: time.Now()}

	for number := 1; ; number++ {
		if number > maxPasses {
			return nil, fmt.Errorf("%w: %d passes on %q", ErrPassLimit, number-1, conn)
		}

		ps := &pass{number: number, force: force, eng: eng, batch: batch}
		res.Passes = number

		again, err := p.runPass(ctx, ps, res)
		if err != nil {
			return nil, err
		}

		if !again {
			break
		}

		force = true
	}

	err := p.catalog.FinalizeRelations()
	if err != nil {
		return nil, fmt.Errorf("finalizing relations: %w", err)
	}

	for _, m := range batch {
		if im, ok := eng.Cache().Get(m.Name); ok {
			res.Models = append(res.Models, im)
		}
	}

	res.EndTime = time.Now()

	p.logger.Debug("translation finished",
		zap.String("engine", res.Engine),
		zap.String("connection", conn),
		zap.Int("models", len(res.Models)),
		zap.Int("passes", res.Passes),
		zap.Int("dropped", len(res.Dropped)),
		zap.Duration("elapsed", res.Elapsed()))

	return res, nil
}

// runPass translates the batch once. It reports true when a forced pass
// must follow.
func (p *Pipeline) runPass(ctx context.Context, ps *pass, res *Result) (bool, error) {
	err := p.emit(ctx, ps, Event{Action: ActionPass, Message: fmt.Sprintf("force=%t", ps.force)})
	if err != nil {
		return false, err
	}

	if !ps.force && p.allCached(ps) {
		for _, m := range ps.batch {
			err := p.emit(ctx, ps, Event{Action: ActionReuse, Model: m.Name})
			if err != nil {
				return false, err
			}
		}

		res.Reused = true

		return false, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if p.concurrency > 0 {
		g.SetLimit(p.concurrency)
	}

	for _, m := range ps.batch {
		g.Go(func() error {
			return p.initModel(gctx, ps, m)
		})
	}

	// Every model of the batch has an instance once Wait returns.
	err = g.Wait()
	if err != nil {
		return false, err
	}

	dropped, err := p.resolveDeferred(ctx, ps)
	if err != nil {
		return false, err
	}

	res.Dropped = append(res.Dropped, dropped...)

	return p.afterTranslation(ctx, ps)
}

func (p *Pipeline) allCached(ps *pass) bool {
	cache := ps.eng.Cache()

	for _, m := range ps.batch {
		if _, ok := cache.Get(m.Name); !ok {
			return false
		}
	}

	return true
}

// initModel translates one model and stores it in the engine's cache.
func (p *Pipeline) initModel(ctx context.Context, ps *pass, m *Model) error {
	start := time.Now()
	eng := ps.eng

	if inst, ok := m.Options.Instances[eng.ConnectionName()]; ok && !ps.force {
		eng.Cache().store(m.Name, inst, hookInstancer(eng))

		return p.emit(ctx, ps, Event{Action: ActionSupplied, Model: m.Name})
	}

	translator := eng.Models()

	nativeOpts, err := translator.TranslateOptions(ctx, eng, m.Name, m.Options)
	if err != nil {
		return fmt.Errorf("translating options of %s: %w", m.Name, err)
	}

	fields, err := p.translateFields(ctx, ps, m)
	if err != nil {
		return err
	}

	instance, err := translator.Translate(ctx, &ModelTranslation{
		Engine:    eng,
		Model:     m,
		ModelName: m.Name,
		Options:   nativeOpts,
		Fields:    fields,
	})
	if err != nil {
		return fmt.Errorf("translating model %s: %w", m.Name, err)
	}

	eng.Cache().store(m.Name, instance, hookInstancer(eng))

	return p.emit(ctx, ps, Event{Action: ActionTranslate, Model: m.Name, Elapsed: time.Since(start)})
}

func hookInstancer(eng Engine) HookInstancer { //nolint:ireturn
	hi, _ := eng.(HookInstancer)

	return hi
}

func (p *Pipeline) translateFields(ctx context.Context, ps *pass, m *Model) (*NativeFields, error) {
	translate := func(ctx context.Context, f *Field) (any, bool, error) {
		return p.translateField(ctx, ps, m, f)
	}

	if ft, ok := ps.eng.Models().(FieldsTranslator); ok {
		return ft.TranslateFields(ctx, ps.eng, m, translate)
	}

	fields := NewNativeFields()

	for _, f := range m.fields {
		value, keep, err := translate(ctx, f)
		if err != nil {
			return nil, err
		}

		if keep {
			fields.Set(f.Name, value)
		}
	}

	return fields, nil
}

// translateField runs the parser of one field. Foreign keys whose target
// lives on another connection are translated as the scalar they point to.
func (p *Pipeline) translateField(ctx context.Context, ps *pass, m *Model, f *Field) (any, bool, error) {
	eng := ps.eng
	registry := eng.Fields()
	subject := f

	if f.Kind == KindForeignKey {
		fkRes, err := ResolveForeignKey(eng, f)
		if err != nil {
			return nil, false, err
		}

		if !fkRes.SameEngine {
			subject = fkRes.Substitute
		}
	}

	parser, err := registry.Resolve(eng, subject, ResolveOptions{})
	if err != nil {
		return nil, false, err
	}

	args := &FieldTranslation{
		Engine:           eng,
		Field:            subject.Spec(),
		CustomAttributes: maps.Clone(subject.CustomAttributes),
		ModelName:        m.Name,
		Parser:           parser,
		Parsers:          registry,
	}

	if subject.Kind == KindForeignKey {
		args.byPass = func(ctx context.Context) (any, error) {
			return p.translateByPass(ctx, eng, m, subject)
		}
	}

	value, err := parser.Translate(ctx, args)
	if err != nil {
		return nil, false, fmt.Errorf("translating field %s.%s: %w", m.Name, f.Name, err)
	}

	f.cacheValueParsers(eng.ConnectionName(), valueParsersOf(parser, args.Field))

	if args.isDeferred {
		ps.queue.push(DeferredField{Model: m, Field: f, Partial: args.partial})

		err := p.emit(ctx, ps, Event{Action: ActionDefer, Model: m.Name, Field: f.Name})
		if err != nil {
			return nil, false, err
		}

		if !args.keep {
			return nil, false, nil
		}
	}

	if value == nil {
		return nil, false, nil
	}

	return value, true, nil
}

// translateByPass translates a same-engine foreign key as the scalar field
// it points to.
func (p *Pipeline) translateByPass(ctx context.Context, eng Engine, m *Model, f *Field) (any, error) {
	registry := eng.Fields()

	parser, err := registry.Resolve(eng, f, ResolveOptions{ByPassForeignKey: true})
	if err != nil {
		return nil, err
	}

	_, target, err := TargetField(f)
	if err != nil {
		return nil, withEngine(err, eng)
	}

	sub, err := substituteFor(f, target)
	if err != nil {
		return nil, withEngine(err, eng)
	}

	value, err := parser.Translate(ctx, &FieldTranslation{
		Engine:           eng,
		Field:            sub.Spec(),
		CustomAttributes: maps.Clone(sub.CustomAttributes),
		ModelName:        m.Name,
		Parser:           parser,
		Parsers:          registry,
	})
	if err != nil {
		return nil, fmt.Errorf("translating %s.%s as %s: %w", m.Name, f.Name, sub.Type(), err)
	}

	return value, nil
}

// ensure returns the instance of a model on the pass's engine, translating
// it when it is not cached.
func (p *Pipeline) ensure(ctx context.Context, ps *pass, name string) (any, error) {
	if inst, ok := ps.eng.Cache().Instance(name); ok {
		return inst, nil
	}

	m := p.catalog.Model(name)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}

	if !m.OnConnection(ps.eng.ConnectionName()) {
		return nil, fmt.Errorf("%w: %s is not on connection %q", ErrUnknownModel, name, ps.eng.ConnectionName())
	}

	err := p.initModel(ctx, ps, m)
	if err != nil {
		return nil, err
	}

	inst, _ := ps.eng.Cache().Instance(name)

	return inst, nil
}

// resolveDeferred evaluates queued fields in rounds until the queue is
// empty or a round makes no progress. Fields left over are returned as
// dropped.
func (p *Pipeline) resolveDeferred(ctx context.Context, ps *pass) ([]DeferredField, error) {
	pending := ps.queue.drain()
	if len(pending) == 0 {
		return nil, nil
	}

	eng := ps.eng

	lazy, ok := eng.(LazyFieldEvaluator)
	if !ok {
		return nil, fmt.Errorf("%w: %s deferred %s.%s",
			ErrLazyEvaluationNotImplemented, eng.Name(), pending[0].Model.Name, pending[0].Field.Name)
	}

	rctx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc

		rctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	cache := eng.Cache()

	converge := func(reason ConvergenceReason, iterations, left int) error {
		return &ConvergenceError{
			Engine:     eng.Name(),
			Reason:     reason,
			Iterations: iterations,
			Pending:    left,
			Elapsed:    time.Since(start),
		}
	}

	for iteration := 1; len(pending) > 0; iteration++ {
		if iteration > p.maxIterations {
			return nil, converge(ReasonIterations, iteration-1, len(pending))
		}

		var retry []DeferredField

		resolved := 0

		for i, e := range orderDeferred(pending) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			if rctx.Err() != nil {
				return nil, converge(ReasonDeadline, iteration, len(pending)-i)
			}

			inst, _ := cache.Instance(e.Model.Name)
			req := &LazyEvaluation{
				Engine:    eng,
				Catalog:   p.catalog,
				ModelName: e.Model.Name,
				Instance:  inst,
				Field:     e.Field.Spec(),
				Partial:   e.Partial,
				parseAgain: func(ctx context.Context, m *Model, f *Field) (any, error) {
					value, _, err := p.translateField(ctx, ps, m, f)

					return value, err
				},
				ensure: func(ctx context.Context, name string) (any, error) {
					return p.ensure(ctx, ps, name)
				},
			}

			replacement, err := lazy.LazyEvaluateField(rctx, req)
			if err != nil {
				if rctx.Err() != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
					return nil, converge(ReasonDeadline, iteration, len(pending)-i)
				}

				return nil, fmt.Errorf("resolving deferred field %s.%s: %w", e.Model.Name, e.Field.Name, err)
			}

			if replacement == nil {
				retry = append(retry, e)

				continue
			}

			cache.modify(e.Model.Name, replacement)
			resolved++

			err = p.emit(ctx, ps, Event{Action: ActionResolve, Model: e.Model.Name, Field: e.Field.Name})
			if err != nil {
				return nil, err
			}
		}

		added := ps.queue.drain()
		if resolved == 0 && len(added) == 0 {
			return p.drop(ctx, ps, retry)
		}

		pending = append(retry, added...)
	}

	return nil, nil
}

func (p *Pipeline) drop(ctx context.Context, ps *pass, entries []DeferredField) ([]DeferredField, error) {
	if p.strict {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Model.Name + "." + e.Field.Name
		}

		return nil, fmt.Errorf("%w on %q: %s", ErrDeferredUnresolved, ps.eng.ConnectionName(), strings.Join(names, ", "))
	}

	for _, e := range entries {
		p.logger.Warn("dropping unresolved deferred field",
			zap.String("engine", ps.eng.Name()),
			zap.String("connection", ps.eng.ConnectionName()),
			zap.String("model", e.Model.Name),
			zap.String("field", e.Field.Name))

		err := p.emit(ctx, ps, Event{Action: ActionDrop, Model: e.Model.Name, Field: e.Field.Name})
		if err != nil {
			return nil, err
		}
	}

	return entries, nil
}

// afterTranslation runs the engine's after-translation hook. When only
// part of the batch would be regenerated the confirmation policy decides
// between aborting and a forced pass over everything.
func (p *Pipeline) afterTranslation(ctx context.Context, ps *pass) (bool, error) {
	hook, ok := ps.eng.(AfterTranslationHook)
	if !ok {
		return false, nil
	}

	conn := ps.eng.ConnectionName()
	cache := ps.eng.Cache()

	var regen []TranslatedModel

	for _, m := range ps.batch {
		if _, supplied := m.Options.Instances[conn]; supplied && !ps.force {
			continue
		}

		inst, _ := cache.Instance(m.Name)
		regen = append(regen, TranslatedModel{Name: m.Name, Instance: inst})
	}

	if len(regen) == 0 {
		return false, nil
	}

	if len(regen) < len(ps.batch) && !ps.force {
		req := ConfirmationRequest{
			Engine:     ps.eng.Name(),
			Connection: conn,
			Regenerate: make([]string, len(regen)),
			Total:      len(ps.batch),
		}
		for i, t := range regen {
			req.Regenerate[i] = t.Name
		}

		err := p.emit(ctx, ps, Event{
			Action:  ActionConfirm,
			Message: fmt.Sprintf("%d of %d models", len(regen), len(ps.batch)),
		})
		if err != nil {
			return false, err
		}

		approved, err := p.confirm.Confirm(ctx, req)
		if err != nil {
			return false, fmt.Errorf("confirming partial regeneration: %w", err)
		}

		if !approved {
			return false, fmt.Errorf("%w: %d of %d models on %q",
				ErrTranslationDeclined, len(regen), len(ps.batch), conn)
		}

		p.logger.Info("regenerating every model",
			zap.String("engine", ps.eng.Name()),
			zap.String("connection", conn),
			zap.Int("models", len(ps.batch)))

		return true, nil
	}

	start := time.Now()

	out, err := hook.AfterModelsTranslation(ctx, ps.eng, regen)
	if err != nil {
		return false, fmt.Errorf("after translation hook on %q: %w", conn, err)
	}

	for _, t := range out {
		if t.Instance != nil {
			cache.modify(t.Name, t.Instance)
		}
	}

	return false, p.emit(ctx, ps, Event{
		Action:  ActionHook,
		Elapsed: time.Since(start),
		Message: fmt.Sprintf("%d models", len(regen)),
	})
}

func (p *Pipeline) emit(ctx context.Context, ps *pass, ev Event) error {
	ev.Time = time.Now()
	ev.Engine = ps.eng.Name()
	ev.Connection = ps.eng.ConnectionName()
	ev.Pass = ps.number

	p.logger.Debug("translation event",
		zap.String("action", string(ev.Action)),
		zap.String("connection", ev.Connection),
		zap.String("model", ev.Model),
		zap.String("field", ev.Field))

	if p.handler == nil {
		return nil
	}

	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	return p.handler.Event(ctx, ev)
}
