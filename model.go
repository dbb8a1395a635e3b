package palm

import (
	"fmt"
	"slices"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Index is a composite index declared on a model.
type Index struct {
	Name   string   `yaml:"name,omitempty"`
	Fields []string `yaml:"fields"`
	Unique bool     `yaml:"unique,omitempty"`
}

// ModelOptions configure how a model is stored.
type ModelOptions struct {
	// TableName overrides the storage name; defaults to the model name.
	TableName string
	// Underscored stores the model and its fields under snake_case names.
	Underscored bool
	Indexes     []Index
	// Ordering lists default ordering fields; a leading "-" means descending.
	Ordering []string
	// Databases restricts the model to these connections. Empty means all.
	Databases []string
	// State marks a transient model built for schema diffing. Its relation
	// names are randomized so engines with global relation names do not collide.
	State bool
	// Instances holds caller-supplied native instances by connection name.
	// A supplied instance is used instead of translating the model.
	Instances     map[string]any
	CustomOptions map[string]any
}

// ReverseRelation records a foreign key pointing at a model.
type ReverseRelation struct {
	Name  string
	Model *Model
	Field *Field
}

// Model is an engine-independent entity declaration: an ordered set of fields
// plus options. It is mutated only by Init.
type Model struct {
	Name    string
	Options ModelOptions

	names   []string
	fields  []*Field
	byName  map[string]*Field
	declErr error

	dependentOn []string
	reverse     []ReverseRelation
	catalog     *Catalog
	initialized bool
}

// NewModel creates an empty model declaration.
func NewModel(name string, opts ModelOptions) *Model {
	return &Model{
		Name:    name,
		Options: opts,
		byName:  make(map[string]*Field),
	}
}

// Add appends a field in declaration order. Declaration errors such as a
// duplicate name are reported by Init.
func (m *Model) Add(name string, f *Field) *Model {
	if _, dup := m.byName[name]; dup {
		if m.declErr == nil {
			m.declErr = fmt.Errorf("%w: %s.%s", ErrDuplicateField, m.Name, name)
		}

		return m
	}

	m.names = append(m.names, name)
	m.fields = append(m.fields, f)
	m.byName[name] = f

	return m
}

// Field returns the named field or nil.
func (m *Model) Field(name string) *Field {
	return m.byName[name]
}

// Fields returns the fields in declaration order.
func (m *Model) Fields() []*Field {
	return slices.Clone(m.fields)
}

// PrimaryKey returns the first primary key field, or nil.
func (m *Model) PrimaryKey() *Field {
	for _, f := range m.fields {
		if f.PrimaryKey {
			return f
		}
	}

	return nil
}

// DependentOn returns the names of models referenced through foreign keys.
func (m *Model) DependentOn() []string {
	return slices.Clone(m.dependentOn)
}

// ReverseRelations returns foreign keys on other models pointing here.
// It is populated once relations are finalized.
func (m *Model) ReverseRelations() []ReverseRelation {
	return slices.Clone(m.reverse)
}

// TableName returns the storage name of the model.
func (m *Model) TableName() string {
	return m.Options.TableNameFor(m.Name)
}

// TableNameFor returns the storage name of a model declared with o.
func (o ModelOptions) TableNameFor(model string) string {
	switch {
	case o.TableName != "":
		return o.TableName
	case o.Underscored:
		return SnakeCase(model)
	default:
		return model
	}
}

// OnConnection reports whether the model is translated for a connection.
func (m *Model) OnConnection(connection string) bool {
	return len(m.Options.Databases) == 0 || slices.Contains(m.Options.Databases, connection)
}

// Catalog returns the catalog the model was initialized in.
func (m *Model) Catalog() *Catalog { return m.catalog }

// Initialized reports whether Init has completed.
func (m *Model) Initialized() bool { return m.initialized }

// init assigns field names, validates foreign keys and queues relation
// bookkeeping. c.mu is held by the caller.
func (m *Model) init(c *Catalog) error {
	if m.initialized {
		return nil
	}

	if m.declErr != nil {
		return m.declErr
	}

	for i, f := range m.fields {
		name := m.names[i]

		if f.initialized && f.model != m {
			return fmt.Errorf("%w: %s.%s", ErrFieldReused, m.Name, name)
		}

		f.Name = name
		f.ModelName = m.Name

		if f.DatabaseName == "" {
			if f.Underscored || m.Options.Underscored {
				f.DatabaseName = SnakeCase(name)
			} else {
				f.DatabaseName = name
			}
		}

		f.model = m
		f.initialized = true

		if f.Kind == KindForeignKey {
			err := m.initForeignKey(c, f)
			if err != nil {
				return err
			}
		}
	}

	m.catalog = c
	m.initialized = true

	return nil
}

func (m *Model) initForeignKey(c *Catalog, f *Field) error {
	fk := f.ForeignKey
	if fk == nil || fk.RelatedTo == "" || fk.OnDelete == "" {
		target := ""
		if fk != nil {
			target = fk.RelatedTo
		}

		return &ForeignKeyError{Model: m.Name, Field: f.Name, Target: target, Err: ErrForeignKeyMetadata}
	}

	if fk.RelationName == "" {
		fk.RelationName = lowerFirst(fk.RelatedTo)
	}

	if fk.RelatedName == "" {
		fk.RelatedName = lowerFirst(m.Name) + "s"
	}

	if m.Options.State {
		fk.RelatedName += "_" + strings.ToLower(ulid.Make().String())
	}

	if fk.RelatedTo != m.Name && !slices.Contains(m.dependentOn, fk.RelatedTo) {
		m.dependentOn = append(m.dependentOn, fk.RelatedTo)
	}

	c.pending = append(c.pending, func() error {
		related := c.Model(fk.RelatedTo)
		if related == nil {
			return &ForeignKeyError{Model: m.Name, Field: f.Name, Target: fk.RelatedTo, Err: ErrRelatedModelNotFound}
		}

		related.reverse = append(related.reverse, ReverseRelation{Name: fk.RelatedName, Model: m, Field: f})

		return nil
	})

	return nil
}
