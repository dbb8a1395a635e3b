package palm

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"
)

// Engine translates models for one persistence technology on one
// connection. Engines are long-lived: one per configured connection.
type Engine interface {
	// Name returns the engine identifier (e.g., "sqlite", "neo4j").
	Name() string

	// ConnectionName returns the configured connection this engine serves.
	ConnectionName() string

	// Fields returns the engine's field parser registry.
	Fields() *FieldParsers

	// Models returns the engine's model translator.
	Models() ModelTranslator

	// Cache returns the translated models of this connection.
	Cache() *TranslationCache
}

// ModelTranslation carries everything a translator needs to assemble a
// native model instance.
type ModelTranslation struct {
	Engine    Engine
	Model     *Model
	ModelName string
	// Options is the value returned by TranslateOptions.
	Options any
	// Fields holds the translated fields in declaration order. Deferred
	// and dropped fields are absent.
	Fields *NativeFields
}

// ModelTranslator turns model declarations into native instances.
type ModelTranslator interface {
	// TranslateOptions converts model options into the engine's form.
	TranslateOptions(ctx context.Context, eng Engine, modelName string, opts ModelOptions) (any, error)

	// Translate assembles the native model instance.
	Translate(ctx context.Context, req *ModelTranslation) (any, error)
}

// FieldTranslateFunc is the pipeline's default per-field translation.
// It reports false when the field must not appear in the native field set.
type FieldTranslateFunc func(ctx context.Context, f *Field) (any, bool, error)

// FieldsTranslator is implemented by translators that take over field
// iteration. They may call translate for the default behaviour.
type FieldsTranslator interface {
	TranslateFields(ctx context.Context, eng Engine, m *Model, translate FieldTranslateFunc) (*NativeFields, error)
}

// TranslatedModel pairs a model name with its native instance.
type TranslatedModel struct {
	Name     string
	Instance any
}

// AfterTranslationHook is implemented by engines that must see every
// translated model at once, e.g. to emit a combined schema. Returned
// entries with a non-nil Instance replace the cached instance.
type AfterTranslationHook interface {
	AfterModelsTranslation(ctx context.Context, eng Engine, models []TranslatedModel) ([]TranslatedModel, error)
}

// LazyEvaluation describes a deferred field being resolved.
type LazyEvaluation struct {
	Engine    Engine
	Catalog   *Catalog
	ModelName string
	// Instance is the owning model's current native instance.
	Instance any
	Field    FieldSpec
	// Partial is the value the parser passed to Defer.
	Partial any

	parseAgain func(ctx context.Context, m *Model, f *Field) (any, error)
	ensure     func(ctx context.Context, modelName string) (any, error)
}

// ParseAgain translates any field of any model on the same engine. Fields
// it defers are queued and resolved in a later round.
func (l *LazyEvaluation) ParseAgain(ctx context.Context, m *Model, f *Field) (any, error) {
	return l.parseAgain(ctx, m, f)
}

// InstanceOf returns the native instance of a model on the same engine,
// translating it first when it has none yet.
func (l *LazyEvaluation) InstanceOf(ctx context.Context, modelName string) (any, error) {
	return l.ensure(ctx, modelName)
}

// LazyFieldEvaluator resolves deferred fields. A nil result with a nil
// error means "not resolvable yet".
type LazyFieldEvaluator interface {
	LazyEvaluateField(ctx context.Context, req *LazyEvaluation) (any, error)
}

// HookInstancer is implemented by engines whose custom hooks need a
// different view of the native instance than queries do.
type HookInstancer interface {
	ModelInstanceForHooks(modelName string, instance any) any
}

// EngineFactory creates an Engine from connection configuration.
type EngineFactory func(cfg ConnectionConfig) (Engine, error)

var engines = make(map[string]EngineFactory)

// RegisterEngine registers an engine factory by name.
func RegisterEngine(name string, factory EngineFactory) {
	engines[name] = factory
}

// NewEngine creates an engine instance by name.
func NewEngine(name string, cfg ConnectionConfig) (Engine, error) { //nolint:ireturn
	factory, ok := engines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, name)
	}

	return factory(cfg)
}

// RegisteredEngines returns the names of all registered engines, sorted.
func RegisteredEngines() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// BaseEngine carries the plumbing every engine shares. Engines embed it
// and add Models().
type BaseEngine struct {
	name       string
	connection string
	fields     *FieldParsers
	cache      *TranslationCache
	logger     *zap.Logger
}

// LoggerSetter is implemented by engines that log their own work.
// BaseEngine implements it.
type LoggerSetter interface {
	SetLogger(logger *zap.Logger)
}

// NewBaseEngine creates the shared engine state.
func NewBaseEngine(name, connection string, fields *FieldParsers) *BaseEngine {
	if connection == "" {
		connection = DefaultConnection
	}

	return &BaseEngine{
		name:       name,
		connection: connection,
		fields:     fields,
		cache:      NewTranslationCache(),
		logger:     zap.NewNop(),
	}
}

// Name returns the engine identifier.
func (b *BaseEngine) Name() string { return b.name }

// ConnectionName returns the connection name.
func (b *BaseEngine) ConnectionName() string { return b.connection }

// Fields returns the field parser registry.
func (b *BaseEngine) Fields() *FieldParsers { return b.fields }

// Cache returns the translation cache.
func (b *BaseEngine) Cache() *TranslationCache { return b.cache }

// Logger returns the engine logger. The default discards everything.
func (b *BaseEngine) Logger() *zap.Logger { return b.logger }

// SetLogger sets the engine logger, named after the connection. It must be
// called before the engine is used.
func (b *BaseEngine) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	b.logger = logger.Named(b.connection)
}

// NativeFields is an insertion-ordered map of translated fields.
type NativeFields struct {
	names  []string
	values map[string]any
}

// NewNativeFields creates an empty field map.
func NewNativeFields() *NativeFields {
	return &NativeFields{values: make(map[string]any)}
}

// Set stores a translated field, keeping its first insertion position.
func (n *NativeFields) Set(name string, value any) {
	if _, ok := n.values[name]; !ok {
		n.names = append(n.names, name)
	}

	n.values[name] = value
}

// Get returns a translated field.
func (n *NativeFields) Get(name string) (any, bool) {
	v, ok := n.values[name]

	return v, ok
}

// Names returns field names in insertion order.
func (n *NativeFields) Names() []string { return slices.Clone(n.names) }

// Len returns the number of translated fields.
func (n *NativeFields) Len() int { return len(n.names) }

// Each calls fn for every field in order.
func (n *NativeFields) Each(fn func(name string, value any)) {
	for _, name := range n.names {
		fn(name, n.values[name])
	}
}
