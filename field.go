package palm

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// FieldKind is the closed set of built-in field types. KindCustom defers to
// Field.TypeName, which keys an engine's custom parser table.
type FieldKind int

// Field kinds.
const (
	KindCustom FieldKind = iota
	KindAutoIncrement
	KindBigAutoIncrement
	KindBigInteger
	KindChar
	KindDate
	KindDecimal
	KindForeignKey
	KindInteger
	KindText
	KindUUID
	KindEnum
	KindBoolean
)

var kindNames = [...]string{
	KindCustom:           "custom",
	KindAutoIncrement:    "auto_increment",
	KindBigAutoIncrement: "big_auto_increment",
	KindBigInteger:       "big_integer",
	KindChar:             "char",
	KindDate:             "date",
	KindDecimal:          "decimal",
	KindForeignKey:       "foreign_key",
	KindInteger:          "integer",
	KindText:             "text",
	KindUUID:             "uuid",
	KindEnum:             "enum",
	KindBoolean:          "boolean",
}

func (k FieldKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}

	return kindNames[k]
}

// ParseFieldKind maps a declared type name to a built-in kind.
// Unknown names report false and should be declared as KindCustom.
func ParseFieldKind(name string) (FieldKind, bool) {
	for i, n := range kindNames {
		if n == name && FieldKind(i) != KindCustom {
			return FieldKind(i), true
		}
	}

	return KindCustom, false
}

// IsAuto reports whether the kind is one of the auto-increment kinds.
func (k FieldKind) IsAuto() bool {
	return k == KindAutoIncrement || k == KindBigAutoIncrement
}

// ForeignKey holds the relation metadata of a foreign-key field.
type ForeignKey struct {
	// RelatedTo is the name of the target model.
	RelatedTo string
	// ToField is the target field name; empty means the target's primary key.
	ToField string
	// OnDelete is required.
	OnDelete OnDelete
	// RelationName names the relation on the owning model.
	RelationName string
	// RelatedName names the reverse relation on the target model.
	RelatedName string
}

// FieldSpec is the plain-data description of a field. Parsers receive a copy.
type FieldSpec struct {
	Kind     FieldKind
	TypeName string

	Name         string
	DatabaseName string
	ModelName    string

	AllowNull   bool
	Unique      bool
	PrimaryKey  bool
	DBIndex     bool
	Underscored bool

	Default    any
	HasDefault bool

	CustomAttributes map[string]any

	MaxLength     int
	MaxDigits     int
	DecimalPlaces int
	AutoNow       bool
	AutoNowAdd    bool
	Choices       []string

	ForeignKey *ForeignKey
}

// Type returns the declared type name: the kind name, or TypeName for custom fields.
func (s FieldSpec) Type() string {
	if s.Kind == KindCustom {
		return s.TypeName
	}

	return s.Kind.String()
}

func (s FieldSpec) clone() FieldSpec {
	s.CustomAttributes = maps.Clone(s.CustomAttributes)
	s.Choices = slices.Clone(s.Choices)

	if s.ForeignKey != nil {
		fk := *s.ForeignKey
		s.ForeignKey = &fk
	}

	return s
}

// ValueParsers convert values between application and engine representations.
// Either function may be nil, meaning the value passes through unchanged.
type ValueParsers struct {
	Input  func(ctx context.Context, value any) (any, error)
	Output func(ctx context.Context, value any) (any, error)
}

// ParseInput runs the input parser, or returns value unchanged.
func (v ValueParsers) ParseInput(ctx context.Context, value any) (any, error) {
	if v.Input == nil {
		return value, nil
	}

	return v.Input(ctx, value)
}

// ParseOutput runs the output parser, or returns value unchanged.
func (v ValueParsers) ParseOutput(ctx context.Context, value any) (any, error) {
	if v.Output == nil {
		return value, nil
	}

	return v.Output(ctx, value)
}

// Field is one attribute of a Model. A Field belongs to exactly one model;
// Name and DatabaseName are assigned once, by Model.Init.
type Field struct {
	FieldSpec

	model       *Model
	initialized bool

	mu           sync.Mutex
	valueParsers map[string]ValueParsers
}

// FieldOption configures a Field at declaration.
type FieldOption func(*Field)

func newField(kind FieldKind, opts []FieldOption) *Field {
	f := &Field{FieldSpec: FieldSpec{Kind: kind}}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

// AutoIncrement declares an auto-incrementing integer primary key.
func AutoIncrement(opts ...FieldOption) *Field {
	f := newField(KindAutoIncrement, opts)
	f.PrimaryKey = true
	f.Unique = true

	return f
}

// BigAutoIncrement declares an auto-incrementing big integer primary key.
func BigAutoIncrement(opts ...FieldOption) *Field {
	f := newField(KindBigAutoIncrement, opts)
	f.PrimaryKey = true
	f.Unique = true

	return f
}

// Integer declares an integer field.
func Integer(opts ...FieldOption) *Field { return newField(KindInteger, opts) }

// BigInteger declares a 64-bit integer field.
func BigInteger(opts ...FieldOption) *Field { return newField(KindBigInteger, opts) }

// Char declares a bounded string field.
func Char(maxLength int, opts ...FieldOption) *Field {
	f := newField(KindChar, opts)
	f.MaxLength = maxLength

	return f
}

// Text declares an unbounded string field.
func Text(opts ...FieldOption) *Field { return newField(KindText, opts) }

// Date declares a date/time field.
func Date(opts ...FieldOption) *Field { return newField(KindDate, opts) }

// Decimal declares a fixed-point number field.
func Decimal(maxDigits, decimalPlaces int, opts ...FieldOption) *Field {
	f := newField(KindDecimal, opts)
	f.MaxDigits = maxDigits
	f.DecimalPlaces = decimalPlaces

	return f
}

// UUID declares a UUID field.
func UUID(opts ...FieldOption) *Field { return newField(KindUUID, opts) }

// Enum declares a string field restricted to choices.
func Enum(choices []string, opts ...FieldOption) *Field {
	f := newField(KindEnum, opts)
	f.Choices = slices.Clone(choices)

	return f
}

// Boolean declares a boolean field.
func Boolean(opts ...FieldOption) *Field { return newField(KindBoolean, opts) }

// ForeignKeyTo declares a foreign key to toField on the model named relatedTo.
// An empty toField targets the related model's primary key.
func ForeignKeyTo(relatedTo, toField string, onDelete OnDelete, opts ...FieldOption) *Field {
	f := newField(KindForeignKey, nil)
	f.ForeignKey = &ForeignKey{RelatedTo: relatedTo, ToField: toField, OnDelete: onDelete}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Custom declares a field of an engine-specific type resolved through the
// engine's custom parsers.
func Custom(typeName string, opts ...FieldOption) *Field {
	f := newField(KindCustom, opts)
	f.TypeName = typeName

	return f
}

// Null allows NULL values.
func Null() FieldOption { return func(f *Field) { f.AllowNull = true } }

// Unique adds a uniqueness constraint.
func Unique() FieldOption { return func(f *Field) { f.Unique = true } }

// PrimaryKey marks the field as the model's primary key.
func PrimaryKey() FieldOption { return func(f *Field) { f.PrimaryKey = true } }

// Indexed requests a database index on the field.
func Indexed() FieldOption { return func(f *Field) { f.DBIndex = true } }

// Underscored stores the field under its snake_case name.
func Underscored() FieldOption { return func(f *Field) { f.Underscored = true } }

// AutoNow sets date fields to the current time on every update.
func AutoNow() FieldOption { return func(f *Field) { f.AutoNow = true } }

// AutoNowAdd sets date fields to the current time on insert.
func AutoNowAdd() FieldOption { return func(f *Field) { f.AutoNowAdd = true } }

// Default sets the default value.
func Default(v any) FieldOption {
	return func(f *Field) {
		f.Default = v
		f.HasDefault = true
	}
}

// DatabaseName overrides the column name used by engines.
func DatabaseName(name string) FieldOption {
	return func(f *Field) { f.DatabaseName = name }
}

// Attr sets a custom attribute read by engine parsers.
func Attr(key string, value any) FieldOption {
	return func(f *Field) {
		if f.CustomAttributes == nil {
			f.CustomAttributes = make(map[string]any)
		}

		f.CustomAttributes[key] = value
	}
}

// RelatedName names the reverse relation of a foreign key.
func RelatedName(name string) FieldOption {
	return func(f *Field) {
		if f.ForeignKey != nil {
			f.ForeignKey.RelatedName = name
		}
	}
}

// RelationName names the forward relation of a foreign key.
func RelationName(name string) FieldOption {
	return func(f *Field) {
		if f.ForeignKey != nil {
			f.ForeignKey.RelationName = name
		}
	}
}

// Model returns the owning model, or nil before Model.Init.
func (f *Field) Model() *Model { return f.model }

// Spec returns a copy of the field's plain data.
func (f *Field) Spec() FieldSpec { return f.FieldSpec.clone() }

// ValueParsers returns the input/output parsers cached for a connection by
// the last successful translation of this field.
func (f *Field) ValueParsers(connection string) (ValueParsers, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	vp, ok := f.valueParsers[connection]

	return vp, ok
}

func (f *Field) cacheValueParsers(connection string, vp ValueParsers) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.valueParsers == nil {
		f.valueParsers = make(map[string]ValueParsers)
	}

	f.valueParsers[connection] = vp
}
