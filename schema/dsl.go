package schema

import (
	"fmt"
	"strconv"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/rlch/palm"
)

// defsFromFile converts a parsed .palm file.
func defsFromFile(f *File) ([]modelDef, error) {
	defs := make([]modelDef, 0, len(f.Models))

	for _, md := range f.Models {
		def := modelDef{location: position(md.Pos), name: md.Name}

		err := applyOptions(&def.options, md.Options)
		if err != nil {
			return nil, &DeclError{Location: def.location, Model: md.Name, Err: err}
		}

		for _, fd := range md.Fields {
			field, err := fieldFromDecl(fd)
			if err != nil {
				return nil, &DeclError{Location: position(fd.Pos), Model: md.Name, Field: fd.Name, Err: err}
			}

			def.fields = append(def.fields, field)
		}

		defs = append(defs, def)
	}

	return defs, nil
}

func position(pos lexer.Position) string {
	return pos.String()
}

func applyOptions(opts *palm.ModelOptions, decls []*OptionDecl) error {
	for _, o := range decls {
		switch {
		case o.Table != nil:
			opts.TableName = *o.Table
		case o.Underscored:
			opts.Underscored = true
		case o.State:
			opts.State = true
		case o.Databases != nil:
			opts.Databases = append(opts.Databases, o.Databases...)
		case o.Ordering != nil:
			opts.Ordering = append(opts.Ordering, o.Ordering...)
		case o.Index != nil:
			idx := palm.Index{Fields: o.Index.Fields, Unique: o.Index.Unique}
			if o.Index.Name != nil {
				idx.Name = *o.Index.Name
			}

			opts.Indexes = append(opts.Indexes, idx)
		case o.Custom != nil:
			v, err := o.Custom.Value.value()
			if err != nil {
				return err
			}

			if opts.CustomOptions == nil {
				opts.CustomOptions = make(map[string]any)
			}

			opts.CustomOptions[o.Custom.Key] = v
		}
	}

	return nil
}

func fieldFromDecl(fd *FieldDecl) (fieldDef, error) {
	def := fieldDef{location: position(fd.Pos), name: fd.Name, typ: fd.Type}

	err := def.applyArgs(fd.Args)
	if err != nil {
		return fieldDef{}, err
	}

	for _, m := range fd.Modifiers {
		opt, err := m.option(&def)
		if err != nil {
			return fieldDef{}, err
		}

		if opt != nil {
			def.opts = append(def.opts, opt)
		}
	}

	return def, nil
}

// applyArgs reads the type arguments of kinds that take them.
func (def *fieldDef) applyArgs(args []*TypeArg) error {
	kind, known := palm.ParseFieldKind(def.typ)
	if !known {
		if len(args) > 0 {
			return fmt.Errorf("%w: custom type %s takes no arguments", ErrInvalidDeclaration, def.typ)
		}

		return nil
	}

	ints := func(want int) ([]int, error) {
		if len(args) != want {
			return nil, fmt.Errorf("%w: %s takes %d argument(s), got %d", ErrInvalidDeclaration, def.typ, want, len(args))
		}

		out := make([]int, want)

		for i, a := range args {
			if a.Number == nil {
				return nil, fmt.Errorf("%w: %s arguments must be numbers", ErrInvalidDeclaration, def.typ)
			}

			n, err := strconv.Atoi(*a.Number)
			if err != nil {
				return nil, fmt.Errorf("%w: %s argument %q", ErrInvalidDeclaration, def.typ, *a.Number)
			}

			out[i] = n
		}

		return out, nil
	}

	switch kind {
	case palm.KindChar:
		n, err := ints(1)
		if err != nil {
			return err
		}

		def.maxLength = n[0]
	case palm.KindDecimal:
		n, err := ints(2)
		if err != nil {
			return err
		}

		def.maxDigits, def.decimalPlaces = n[0], n[1]
	case palm.KindEnum:
		for _, a := range args {
			if a.String == nil {
				return fmt.Errorf("%w: enum choices must be strings", ErrInvalidDeclaration)
			}

			def.choices = append(def.choices, *a.String)
		}
	case palm.KindForeignKey:
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("%w: foreign_key(Model[, field])", ErrInvalidDeclaration)
		}

		for _, a := range args {
			if a.Ident == nil {
				return fmt.Errorf("%w: foreign_key arguments must be names", ErrInvalidDeclaration)
			}
		}

		def.to = *args[0].Ident
		if len(args) == 2 {
			def.toField = *args[1].Ident
		}
	default:
		if len(args) > 0 {
			return fmt.Errorf("%w: %s takes no arguments", ErrInvalidDeclaration, def.typ)
		}
	}

	return nil
}

func (m *Modifier) option(def *fieldDef) (palm.FieldOption, error) {
	switch {
	case m.Null:
		return palm.Null(), nil
	case m.Unique:
		return palm.Unique(), nil
	case m.PrimaryKey:
		return palm.PrimaryKey(), nil
	case m.Indexed:
		return palm.Indexed(), nil
	case m.Underscored:
		return palm.Underscored(), nil
	case m.AutoNowAdd:
		return palm.AutoNowAdd(), nil
	case m.AutoNow:
		return palm.AutoNow(), nil
	case m.Default != nil:
		v, err := m.Default.value()
		if err != nil {
			return nil, err
		}

		return palm.Default(v), nil
	case m.Column != nil:
		return palm.DatabaseName(*m.Column), nil
	case m.OnDelete != nil:
		def.onDelete = *m.OnDelete

		return nil, nil
	case m.RelatedName != nil:
		return palm.RelatedName(*m.RelatedName), nil
	case m.RelationName != nil:
		return palm.RelationName(*m.RelationName), nil
	case m.Attr != nil:
		v, err := m.Attr.Value.value()
		if err != nil {
			return nil, err
		}

		return palm.Attr(m.Attr.Key, v), nil
	}

	return nil, nil
}

func (v *Value) value() (any, error) {
	switch {
	case v.Expr != nil:
		return evalDefault(*v.Expr)
	case v.String != nil:
		return *v.String, nil
	case v.Number != nil:
		return literalNumber(*v.Number)
	case v.Bool != nil:
		return bool(*v.Bool), nil
	default:
		return nil, nil
	}
}
