package palm

import "context"

// FieldParser translates one field into an engine's native representation.
// Returning a nil value leaves the field out of the native field set.
type FieldParser interface {
	Translate(ctx context.Context, args *FieldTranslation) (any, error)
}

// ParserFunc adapts a function to FieldParser.
type ParserFunc func(ctx context.Context, args *FieldTranslation) (any, error)

// Translate calls f.
func (f ParserFunc) Translate(ctx context.Context, args *FieldTranslation) (any, error) {
	return f(ctx, args)
}

// ValueParser is implemented by parsers that convert values on their way
// into and out of the engine. The pipeline caches these per connection on
// the Field after every successful translation.
type ValueParser interface {
	InputParser(ctx context.Context, field FieldSpec, value any) (any, error)
	OutputParser(ctx context.Context, field FieldSpec, value any) (any, error)
}

// FieldTranslation is the argument passed to FieldParser.Translate.
type FieldTranslation struct {
	Engine           Engine
	Field            FieldSpec
	CustomAttributes map[string]any
	ModelName        string

	// Parser is the parser handling this call.
	Parser FieldParser
	// Parsers is the engine registry, so a custom parser can delegate to a
	// built-in one.
	Parsers *FieldParsers

	byPass     func(ctx context.Context) (any, error)
	isDeferred bool
	keep       bool
	partial    any
}

// Defer schedules the field for lazy evaluation once every model of the
// batch has a native instance. partial is handed back to the engine's
// LazyFieldEvaluator. Unless keep is true, the value returned by Translate
// is left out of the native field set for now.
func (a *FieldTranslation) Defer(partial any, keep bool) {
	a.isDeferred = true
	a.keep = keep
	a.partial = partial
}

// TranslateByPass translates a foreign key as the scalar field it points
// to, e.g. an integer column for a key into an auto-increment primary key.
func (a *FieldTranslation) TranslateByPass(ctx context.Context) (any, error) {
	if a.byPass == nil {
		return nil, &ForeignKeyError{
			Model:  a.ModelName,
			Field:  a.Field.Name,
			Target: "",
			Err:    ErrForeignKeyTarget,
		}
	}

	return a.byPass(ctx)
}

// Deferred reports whether the parser called Defer.
func (a *FieldTranslation) Deferred() bool { return a.isDeferred }

// ResolveOptions tune parser resolution.
type ResolveOptions struct {
	// ByPassForeignKey resolves a foreign key to the parser of the field it
	// points to instead of the foreign-key parser.
	ByPassForeignKey bool
}

// maxForeignKeyDepth bounds foreign keys pointing at foreign keys.
const maxForeignKeyDepth = 16

// FieldParsers maps field kinds to parsers for one engine. Register
// parsers before translating; lookups are not synchronized with writes.
type FieldParsers struct {
	builtin map[FieldKind]FieldParser
	custom  map[string]FieldParser
	generic FieldParser
}

// NewFieldParsers creates an empty registry.
func NewFieldParsers() *FieldParsers {
	return &FieldParsers{
		builtin: make(map[FieldKind]FieldParser),
		custom:  make(map[string]FieldParser),
	}
}

// Register sets the parser for a built-in kind.
func (r *FieldParsers) Register(kind FieldKind, p FieldParser) *FieldParsers {
	r.builtin[kind] = p

	return r
}

// RegisterCustom sets the parser for a custom type name.
func (r *FieldParsers) RegisterCustom(typeName string, p FieldParser) *FieldParsers {
	r.custom[typeName] = p

	return r
}

// SetGeneric sets the parser used when nothing more specific matches.
func (r *FieldParsers) SetGeneric(p FieldParser) *FieldParsers {
	r.generic = p

	return r
}

// Parser returns the parser registered for a built-in kind, or nil.
func (r *FieldParsers) Parser(kind FieldKind) FieldParser { //nolint:ireturn
	return r.builtin[kind]
}

// Generic returns the generic parser, or nil.
func (r *FieldParsers) Generic() FieldParser { //nolint:ireturn
	return r.generic
}

// Resolve returns the parser responsible for f on eng.
//
// Dispatch is by kind. Auto-increment kinds fall back to the integer and
// big integer parsers. Kinds without a parser, and custom kinds, are looked
// up by type name in the custom table and then fall back to the generic
// parser. An UnsupportedFieldError is returned when nothing matches.
func (r *FieldParsers) Resolve(eng Engine, f *Field, opts ResolveOptions) (FieldParser, error) { //nolint:ireturn
	return r.resolve(eng, f, opts, 0)
}

func (r *FieldParsers) resolve(eng Engine, f *Field, opts ResolveOptions, depth int) (FieldParser, error) { //nolint:ireturn
	if f.Kind == KindForeignKey && opts.ByPassForeignKey {
		if depth >= maxForeignKeyDepth {
			return nil, &ForeignKeyError{
				Engine: eng.Name(),
				Model:  f.ModelName,
				Field:  f.Name,
				Target: f.ForeignKey.RelatedTo,
				Err:    ErrForeignKeyTarget,
			}
		}

		_, target, err := TargetField(f)
		if err != nil {
			return nil, withEngine(err, eng)
		}

		if target.Kind != KindForeignKey {
			spec := target.FieldSpec
			spec.Kind = referenceKind(spec.Kind)

			if p := r.lookup(spec); p != nil {
				return p, nil
			}
		}

		return r.resolve(eng, target, opts, depth+1)
	}

	if p := r.lookup(f.FieldSpec); p != nil {
		return p, nil
	}

	return nil, &UnsupportedFieldError{
		Engine:   eng.Name(),
		Model:    f.ModelName,
		Field:    f.Name,
		TypeName: f.Type(),
	}
}

func (r *FieldParsers) lookup(spec FieldSpec) FieldParser { //nolint:ireturn
	if spec.Kind != KindCustom {
		if p := r.builtin[spec.Kind]; p != nil {
			return p
		}

		switch spec.Kind {
		case KindAutoIncrement:
			if p := r.builtin[KindInteger]; p != nil {
				return p
			}
		case KindBigAutoIncrement:
			if p := r.builtin[KindBigInteger]; p != nil {
				return p
			}
		}
	}

	if p := r.custom[spec.Type()]; p != nil {
		return p
	}

	return r.generic
}

// valueParsersOf extracts the value parsers a parser offers for a field.
func valueParsersOf(p FieldParser, spec FieldSpec) ValueParsers {
	vp, ok := p.(ValueParser)
	if !ok {
		return ValueParsers{}
	}

	return ValueParsers{
		Input: func(ctx context.Context, value any) (any, error) {
			return vp.InputParser(ctx, spec, value)
		},
		Output: func(ctx context.Context, value any) (any, error) {
			return vp.OutputParser(ctx, spec, value)
		},
	}
}
