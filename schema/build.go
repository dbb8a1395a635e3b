package schema

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/expr-lang/expr"
	"github.com/rlch/palm"
)

// ErrInvalidDeclaration is returned for declarations that parse but do not
// describe a valid model.
var ErrInvalidDeclaration = errors.New("schema: invalid declaration")

// DeclError locates an invalid declaration.
type DeclError struct {
	// Location is "file:line:column" for .palm files and "file" for YAML.
	Location string
	Model    string
	Field    string
	Err      error
}

func (e *DeclError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s.%s: %v", e.Location, e.Model, e.Field, e.Err)
	}

	return fmt.Sprintf("%s: %s: %v", e.Location, e.Model, e.Err)
}

func (e *DeclError) Unwrap() error { return e.Err }

// modelDef is the source-independent form of a model declaration.
type modelDef struct {
	location string
	name     string
	options  palm.ModelOptions
	fields   []fieldDef
}

// fieldDef is the source-independent form of a field declaration.
type fieldDef struct {
	location string
	name     string
	typ      string

	maxLength     int
	maxDigits     int
	decimalPlaces int
	choices       []string

	to       string
	toField  string
	onDelete string

	opts []palm.FieldOption
}

// build creates fresh models from definitions.
func build(defs []modelDef) ([]*palm.Model, error) {
	models := make([]*palm.Model, 0, len(defs))

	for _, d := range defs {
		m := palm.NewModel(d.name, cloneOptions(d.options))

		for _, fd := range d.fields {
			f, err := fd.field()
			if err != nil {
				return nil, &DeclError{Location: fd.location, Model: d.name, Field: fd.name, Err: err}
			}

			m.Add(fd.name, f)
		}

		models = append(models, m)
	}

	return models, nil
}

func cloneOptions(o palm.ModelOptions) palm.ModelOptions {
	o.Indexes = slices.Clone(o.Indexes)
	o.Ordering = slices.Clone(o.Ordering)
	o.Databases = slices.Clone(o.Databases)
	o.CustomOptions = maps.Clone(o.CustomOptions)

	return o
}

func (fd fieldDef) field() (*palm.Field, error) {
	kind, ok := palm.ParseFieldKind(fd.typ)
	if !ok {
		return palm.Custom(fd.typ, fd.opts...), nil
	}

	switch kind {
	case palm.KindAutoIncrement:
		return palm.AutoIncrement(fd.opts...), nil
	case palm.KindBigAutoIncrement:
		return palm.BigAutoIncrement(fd.opts...), nil
	case palm.KindInteger:
		return palm.Integer(fd.opts...), nil
	case palm.KindBigInteger:
		return palm.BigInteger(fd.opts...), nil
	case palm.KindChar:
		if fd.maxLength <= 0 {
			return nil, fmt.Errorf("%w: char needs a positive max length", ErrInvalidDeclaration)
		}

		return palm.Char(fd.maxLength, fd.opts...), nil
	case palm.KindText:
		return palm.Text(fd.opts...), nil
	case palm.KindDate:
		return palm.Date(fd.opts...), nil
	case palm.KindDecimal:
		if fd.maxDigits <= 0 || fd.decimalPlaces < 0 || fd.decimalPlaces > fd.maxDigits {
			return nil, fmt.Errorf("%w: decimal(%d, %d)", ErrInvalidDeclaration, fd.maxDigits, fd.decimalPlaces)
		}

		return palm.Decimal(fd.maxDigits, fd.decimalPlaces, fd.opts...), nil
	case palm.KindUUID:
		return palm.UUID(fd.opts...), nil
	case palm.KindEnum:
		if len(fd.choices) == 0 {
			return nil, fmt.Errorf("%w: enum needs choices", ErrInvalidDeclaration)
		}

		return palm.Enum(fd.choices, fd.opts...), nil
	case palm.KindBoolean:
		return palm.Boolean(fd.opts...), nil
	case palm.KindForeignKey:
		if fd.to == "" {
			return nil, fmt.Errorf("%w: foreign_key needs a target model", ErrInvalidDeclaration)
		}

		onDelete, err := palm.ParseOnDelete(fd.onDelete)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDeclaration, err)
		}

		return palm.ForeignKeyTo(fd.to, fd.toField, onDelete, fd.opts...), nil
	default:
		return palm.Custom(fd.typ, fd.opts...), nil
	}
}

// evalDefault evaluates a default expression. Integer results are
// widened to int64.
func evalDefault(code string) (any, error) {
	v, err := expr.Eval(code, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: default `%s`: %w", ErrInvalidDeclaration, code, err)
	}

	if i, ok := v.(int); ok {
		return int64(i), nil
	}

	return v, nil
}

// literalNumber converts a number token.
func literalNumber(s string) (any, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: number %q", ErrInvalidDeclaration, s)
	}

	return f, nil
}
