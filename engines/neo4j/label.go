package neo4j

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/rlch/palm"
)

// AttrNeo4jType overrides the property type of a custom field.
const AttrNeo4jType = "neo4j_type"

// Property is the native form of a scalar field.
type Property struct {
	Name  string
	Field string
	// Type is a Cypher property type such as INTEGER or STRING.
	Type     string
	Required bool
	Unique   bool
	Key      bool
	Default  any
	Choices  []string
}

// Relationship is the native form of a foreign key. It is attached to the
// source label once the target label exists.
type Relationship struct {
	Field string
	// Type is the relationship type, e.g. COMPANY.
	Type      string
	Target    string
	TargetKey string
	Required  bool
	OnDelete  palm.OnDelete
}

// LabelOptions is the native form of model options.
type LabelOptions struct {
	Name    string
	Indexes []palm.Index
}

// Label is the native form of a model.
type Label struct {
	Model         string
	Name          string
	Properties    []*Property
	Relationships []*Relationship
	// Indexes hold property names.
	Indexes []palm.Index
}

// Property returns the property storing a field, or nil.
func (l *Label) Property(field string) *Property {
	for _, p := range l.Properties {
		if p.Field == field {
			return p
		}
	}

	return nil
}

// Relationship returns the relationship of a foreign key field, or nil.
func (l *Label) Relationship(field string) *Relationship {
	for _, r := range l.Relationships {
		if r.Field == field {
			return r
		}
	}

	return nil
}

// Clone returns a deep copy.
func (l *Label) Clone() *Label {
	out := *l
	out.Properties = make([]*Property, len(l.Properties))

	for i, p := range l.Properties {
		cp := *p
		cp.Choices = slices.Clone(p.Choices)
		out.Properties[i] = &cp
	}

	out.Relationships = make([]*Relationship, len(l.Relationships))

	for i, r := range l.Relationships {
		cr := *r
		out.Relationships[i] = &cr
	}

	out.Indexes = slices.Clone(l.Indexes)

	return &out
}

// Statements returns the schema statements of the label: uniqueness
// constraints, indexes and, when existence is true, property existence
// constraints.
func (l *Label) Statements(existence bool) []string {
	var out []string

	base := strings.ToLower(l.Name)

	for _, p := range l.Properties {
		if p.Unique || p.Key {
			out = append(out, fmt.Sprintf("CREATE CONSTRAINT %s_%s_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
				base, p.Name, quote(l.Name), quote(p.Name)))
		}

		if existence && p.Required {
			out = append(out, fmt.Sprintf("CREATE CONSTRAINT %s_%s_exists IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS NOT NULL",
				base, p.Name, quote(l.Name), quote(p.Name)))
		}
	}

	for _, idx := range l.Indexes {
		props := make([]string, len(idx.Fields))
		for i, f := range idx.Fields {
			props[i] = "n." + quote(f)
		}

		name := idx.Name
		if name == "" {
			name = base + "_" + strings.Join(idx.Fields, "_") + "_idx"
		}

		if idx.Unique {
			out = append(out, fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE (%s) IS UNIQUE",
				name, quote(l.Name), strings.Join(props, ", ")))
		} else {
			out = append(out, fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (%s)",
				name, quote(l.Name), strings.Join(props, ", ")))
		}
	}

	return out
}

// quote escapes an identifier with backticks when it is not a plain name.
func quote(ident string) string {
	plain := ident != ""

	for i, r := range ident {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || i > 0 && r >= '0' && r <= '9') {
			plain = false

			break
		}
	}

	if plain {
		return ident
	}

	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// Parsers returns the field parser registry of the neo4j engine.
func Parsers() *palm.FieldParsers {
	return palm.NewFieldParsers().
		Register(palm.KindAutoIncrement, property("INTEGER")).
		Register(palm.KindBigAutoIncrement, property("INTEGER")).
		Register(palm.KindInteger, property("INTEGER")).
		Register(palm.KindBigInteger, property("INTEGER")).
		Register(palm.KindChar, property("STRING")).
		Register(palm.KindText, property("STRING")).
		Register(palm.KindUUID, property("STRING")).
		Register(palm.KindEnum, property("STRING")).
		Register(palm.KindDecimal, property("FLOAT")).
		Register(palm.KindBoolean, property("BOOLEAN")).
		Register(palm.KindDate, dateParser{}).
		Register(palm.KindForeignKey, palm.ParserFunc(translateForeignKey)).
		RegisterCustom("point", property("POINT")).
		SetGeneric(palm.ParserFunc(translateGeneric))
}

func newProperty(args *palm.FieldTranslation, typ string) *Property {
	f := args.Field

	p := &Property{
		Name:     f.DatabaseName,
		Field:    f.Name,
		Type:     typ,
		Required: !f.AllowNull,
		Unique:   f.Unique && !f.PrimaryKey,
		Key:      f.PrimaryKey,
		Choices:  f.Choices,
	}

	if f.HasDefault {
		p.Default = f.Default
	}

	return p
}

func property(typ string) palm.ParserFunc {
	return func(_ context.Context, args *palm.FieldTranslation) (any, error) {
		return newProperty(args, typ), nil
	}
}

func translateGeneric(_ context.Context, args *palm.FieldTranslation) (any, error) {
	typ, _ := args.CustomAttributes[AttrNeo4jType].(string)
	if typ == "" {
		return nil, &palm.UnsupportedFieldError{
			Engine:   palm.EngineNeo4j,
			Model:    args.ModelName,
			Field:    args.Field.Name,
			TypeName: args.Field.Type(),
		}
	}

	return newProperty(args, typ), nil
}

// translateForeignKey leaves the field out of the properties and defers a
// relationship to the target label.
func translateForeignKey(_ context.Context, args *palm.FieldTranslation) (any, error) {
	fk := args.Field.ForeignKey

	args.Defer(&Relationship{
		Field:    args.Field.Name,
		Type:     RelationshipType(fk.RelationName),
		Required: !args.Field.AllowNull,
		OnDelete: fk.OnDelete,
	}, false)

	return nil, nil
}

// RelationshipType converts a relation name to a relationship type:
// "ownerCompany" -> "OWNER_COMPANY".
func RelationshipType(relationName string) string {
	return strings.ToUpper(palm.SnakeCase(relationName))
}

// dateParser stores dates as Cypher DATE values.
type dateParser struct{}

func (dateParser) Translate(_ context.Context, args *palm.FieldTranslation) (any, error) {
	return newProperty(args, "DATE"), nil
}

func (dateParser) InputParser(_ context.Context, _ palm.FieldSpec, value any) (any, error) {
	switch v := value.(type) {
	case nil, dbtype.Date:
		return v, nil
	case time.Time:
		return dbtype.Date(v), nil
	default:
		return nil, fmt.Errorf("neo4j: expected date, got %T", value)
	}
}

func (dateParser) OutputParser(_ context.Context, _ palm.FieldSpec, value any) (any, error) {
	switch v := value.(type) {
	case nil, time.Time:
		return v, nil
	case dbtype.Date:
		return v.Time(), nil
	default:
		return nil, fmt.Errorf("neo4j: expected date property, got %T", value)
	}
}

// translator implements palm.ModelTranslator.
type translator struct{}

func (translator) TranslateOptions(_ context.Context, _ palm.Engine, modelName string, opts palm.ModelOptions) (any, error) {
	name := opts.TableName
	if name == "" {
		name = modelName
	}

	return &LabelOptions{Name: name, Indexes: opts.Indexes}, nil
}

func (translator) Translate(_ context.Context, req *palm.ModelTranslation) (any, error) {
	opts, ok := req.Options.(*LabelOptions)
	if !ok {
		return nil, fmt.Errorf("neo4j: unexpected options %T", req.Options)
	}

	label := &Label{Model: req.ModelName, Name: opts.Name}

	for _, name := range req.Fields.Names() {
		value, _ := req.Fields.Get(name)

		p, ok := value.(*Property)
		if !ok {
			return nil, fmt.Errorf("neo4j: field %s.%s translated to %T", req.ModelName, name, value)
		}

		label.Properties = append(label.Properties, p)
	}

	for _, idx := range opts.Indexes {
		props := make([]string, len(idx.Fields))

		for i, field := range idx.Fields {
			p := label.Property(field)
			if p == nil {
				return nil, fmt.Errorf("neo4j: index on %s references unknown property %q", req.ModelName, field)
			}

			props[i] = p.Name
		}

		label.Indexes = append(label.Indexes, palm.Index{Name: idx.Name, Fields: props, Unique: idx.Unique})
	}

	return label, nil
}
