package schema

import (
	"fmt"

	"github.com/rlch/palm"
	"gopkg.in/yaml.v3"
)

// yamlDocument is a *.models.yaml document.
//
//	models:
//	  - name: User
//	    options:
//	      underscored: true
//	      indexes:
//	        - fields: [firstName]
//	    fields:
//	      id: {type: auto_increment}
//	      firstName: {type: char, max_length: 50}
//	      company: {type: foreign_key, to: Company, on_delete: cascade, null: true}
//
// Fields is a mapping so that declaration order is kept from the node.
type yamlDocument struct {
	Models []yamlModel `yaml:"models"`
}

type yamlModel struct {
	Name    string      `yaml:"name"`
	Options yamlOptions `yaml:"options,omitempty"`
	Fields  yaml.Node   `yaml:"fields"`
}

type yamlOptions struct {
	Table       string         `yaml:"table,omitempty"`
	Underscored bool           `yaml:"underscored,omitempty"`
	State       bool           `yaml:"state,omitempty"`
	Databases   []string       `yaml:"databases,omitempty"`
	Ordering    []string       `yaml:"ordering,omitempty"`
	Indexes     []yamlIndex    `yaml:"indexes,omitempty"`
	Custom      map[string]any `yaml:"custom,omitempty"`
}

type yamlIndex struct {
	Name   string   `yaml:"name,omitempty"`
	Fields []string `yaml:"fields"`
	Unique bool     `yaml:"unique,omitempty"`
}

type yamlField struct {
	Type string `yaml:"type"`

	MaxLength     int      `yaml:"max_length,omitempty"`
	MaxDigits     int      `yaml:"max_digits,omitempty"`
	DecimalPlaces int      `yaml:"decimal_places,omitempty"`
	Choices       []string `yaml:"choices,omitempty"`

	To       string `yaml:"to,omitempty"`
	ToField  string `yaml:"to_field,omitempty"`
	OnDelete string `yaml:"on_delete,omitempty"`

	Null         bool           `yaml:"null,omitempty"`
	Unique       bool           `yaml:"unique,omitempty"`
	PrimaryKey   bool           `yaml:"primary_key,omitempty"`
	Indexed      bool           `yaml:"indexed,omitempty"`
	Underscored  bool           `yaml:"underscored,omitempty"`
	AutoNow      bool           `yaml:"auto_now,omitempty"`
	AutoNowAdd   bool           `yaml:"auto_now_add,omitempty"`
	Default      any            `yaml:"default,omitempty"`
	DefaultExpr  string         `yaml:"default_expr,omitempty"`
	Column       string         `yaml:"column,omitempty"`
	RelatedName  string         `yaml:"related_name,omitempty"`
	RelationName string         `yaml:"relation_name,omitempty"`
	Attrs        map[string]any `yaml:"attrs,omitempty"`
}

// ParseYAML parses a *.models.yaml document into models.
func ParseYAML(filename string, data []byte) ([]*palm.Model, error) {
	defs, err := defsFromYAML(filename, data)
	if err != nil {
		return nil, err
	}

	return build(defs)
}

func defsFromYAML(filename string, data []byte) ([]modelDef, error) {
	var doc yamlDocument

	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	defs := make([]modelDef, 0, len(doc.Models))

	for i, ym := range doc.Models {
		loc := fmt.Sprintf("%s:models[%d]", filename, i)
		if ym.Name == "" {
			return nil, &DeclError{Location: loc, Err: fmt.Errorf("%w: model without name", ErrInvalidDeclaration)}
		}

		def := modelDef{location: loc, name: ym.Name, options: ym.Options.modelOptions()}

		fields, err := yamlFields(filename, &ym.Fields)
		if err != nil {
			return nil, &DeclError{Location: loc, Model: ym.Name, Err: err}
		}

		for _, nf := range fields {
			fd, err := nf.field.def(nf.location, nf.name)
			if err != nil {
				return nil, &DeclError{Location: nf.location, Model: ym.Name, Field: nf.name, Err: err}
			}

			def.fields = append(def.fields, fd)
		}

		defs = append(defs, def)
	}

	return defs, nil
}

func (o yamlOptions) modelOptions() palm.ModelOptions {
	opts := palm.ModelOptions{
		TableName:     o.Table,
		Underscored:   o.Underscored,
		State:         o.State,
		Databases:     o.Databases,
		Ordering:      o.Ordering,
		CustomOptions: o.Custom,
	}

	for _, idx := range o.Indexes {
		opts.Indexes = append(opts.Indexes, palm.Index(idx))
	}

	return opts
}

type namedField struct {
	location string
	name     string
	field    yamlField
}

// yamlFields decodes the fields mapping in document order.
func yamlFields(filename string, node *yaml.Node) ([]namedField, error) {
	if node.Kind == 0 {
		return nil, nil
	}

	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: fields must be a mapping (line %d)", ErrInvalidDeclaration, node.Line)
	}

	out := make([]namedField, 0, len(node.Content)/2)

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]

		var f yamlField

		err := value.Decode(&f)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key.Value, err)
		}

		out = append(out, namedField{
			location: fmt.Sprintf("%s:%d:%d", filename, key.Line, key.Column),
			name:     key.Value,
			field:    f,
		})
	}

	return out, nil
}

func (y yamlField) def(location, name string) (fieldDef, error) {
	if y.Type == "" {
		return fieldDef{}, fmt.Errorf("%w: missing type", ErrInvalidDeclaration)
	}

	fd := fieldDef{
		location:      location,
		name:          name,
		typ:           y.Type,
		maxLength:     y.MaxLength,
		maxDigits:     y.MaxDigits,
		decimalPlaces: y.DecimalPlaces,
		choices:       y.Choices,
		to:            y.To,
		toField:       y.ToField,
		onDelete:      y.OnDelete,
	}

	flags := []struct {
		set bool
		opt palm.FieldOption
	}{
		{y.Null, palm.Null()},
		{y.Unique, palm.Unique()},
		{y.PrimaryKey, palm.PrimaryKey()},
		{y.Indexed, palm.Indexed()},
		{y.Underscored, palm.Underscored()},
		{y.AutoNow, palm.AutoNow()},
		{y.AutoNowAdd, palm.AutoNowAdd()},
		{y.Column != "", palm.DatabaseName(y.Column)},
		{y.RelatedName != "", palm.RelatedName(y.RelatedName)},
		{y.RelationName != "", palm.RelationName(y.RelationName)},
	}

	for _, f := range flags {
		if f.set {
			fd.opts = append(fd.opts, f.opt)
		}
	}

	switch {
	case y.DefaultExpr != "":
		v, err := evalDefault(y.DefaultExpr)
		if err != nil {
			return fieldDef{}, err
		}

		fd.opts = append(fd.opts, palm.Default(v))
	case y.Default != nil:
		v := y.Default
		if i, ok := v.(int); ok {
			v = int64(i)
		}

		fd.opts = append(fd.opts, palm.Default(v))
	}

	for k, v := range y.Attrs {
		fd.opts = append(fd.opts, palm.Attr(k, v))
	}

	return fd, nil
}
