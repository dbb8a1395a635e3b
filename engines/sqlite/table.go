package sqlite

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rlch/palm"
)

// Reference is a REFERENCES clause on a column.
type Reference struct {
	Table    string
	Column   string
	OnDelete palm.OnDelete
}

// Column is the native form of a field.
type Column struct {
	// Name is the column name; Field is the model field it stores.
	Name  string
	Field string
	Kind  palm.FieldKind

	Type          string
	NotNull       bool
	PrimaryKey    bool
	AutoIncrement bool
	Unique        bool
	// Default is an SQL expression, empty for none.
	Default    string
	Check      string
	References *Reference

	// AutoNow columns are refreshed by Query.Set on every write.
	AutoNow bool
}

func (c *Column) clone() *Column {
	out := *c
	if c.References != nil {
		ref := *c.References
		out.References = &ref
	}

	return &out
}

// definition renders the column for CREATE TABLE and ADD COLUMN. inlinePK
// is false for tables with a composite primary key.
func (c *Column) definition(inlinePK bool) string {
	var b strings.Builder

	b.WriteString(quote(c.Name))
	b.WriteString(" ")
	b.WriteString(c.Type)

	if c.PrimaryKey && inlinePK {
		b.WriteString(" PRIMARY KEY")

		if c.AutoIncrement {
			b.WriteString(" AUTOINCREMENT")
		}
	} else {
		if c.NotNull {
			b.WriteString(" NOT NULL")
		}

		if c.Unique {
			b.WriteString(" UNIQUE")
		}
	}

	if c.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.Default)
	}

	if c.Check != "" {
		fmt.Fprintf(&b, " CHECK (%s)", c.Check)
	}

	if ref := c.References; ref != nil {
		fmt.Fprintf(&b, " REFERENCES %s(%s) ON DELETE %s", quote(ref.Table), quote(ref.Column), ref.OnDelete.SQL())
	}

	return b.String()
}

// TableOptions is the native form of model options.
type TableOptions struct {
	Name     string
	Indexes  []palm.Index
	Ordering []string
}

// Table is the native form of a model.
type Table struct {
	Model   string
	Name    string
	Columns []*Column
	// Indexes hold column names, not field names.
	Indexes  []palm.Index
	Ordering []string
}

// Column returns the column with the given name, or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}

	return nil
}

// FieldColumn returns the column storing a model field, or nil.
func (t *Table) FieldColumn(field string) *Column {
	for _, c := range t.Columns {
		if c.Field == field {
			return c
		}
	}

	return nil
}

// References returns the tables this table points to, without itself.
func (t *Table) References() []string {
	var out []string

	for _, c := range t.Columns {
		if c.References != nil && c.References.Table != t.Name && !slices.Contains(out, c.References.Table) {
			out = append(out, c.References.Table)
		}
	}

	return out
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := *t
	out.Columns = make([]*Column, len(t.Columns))

	for i, c := range t.Columns {
		out.Columns[i] = c.clone()
	}

	out.Indexes = slices.Clone(t.Indexes)
	out.Ordering = slices.Clone(t.Ordering)

	return &out
}

func (t *Table) primaryKey() []*Column {
	var out []*Column

	for _, c := range t.Columns {
		if c.PrimaryKey {
			out = append(out, c)
		}
	}

	return out
}

// CreateSQL renders the CREATE TABLE statement.
func (t *Table) CreateSQL() string {
	pk := t.primaryKey()
	inline := len(pk) == 1

	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		defs = append(defs, c.definition(inline))
	}

	if len(pk) > 1 {
		names := make([]string, len(pk))
		for i, c := range pk {
			names[i] = quote(c.Name)
		}

		defs = append(defs, "PRIMARY KEY ("+strings.Join(names, ", ")+")")
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", quote(t.Name), strings.Join(defs, ",\n  "))
}

// IndexSQL renders one CREATE INDEX statement per index.
func (t *Table) IndexSQL() []string {
	out := make([]string, 0, len(t.Indexes))

	for _, idx := range t.Indexes {
		cols := make([]string, len(idx.Fields))
		for i, c := range idx.Fields {
			cols[i] = quote(c)
		}

		kind := "INDEX"
		if idx.Unique {
			kind = "UNIQUE INDEX"
		}

		out = append(out, fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)",
			kind, quote(indexName(t.Name, idx)), quote(t.Name), strings.Join(cols, ", ")))
	}

	return out
}

func indexName(table string, idx palm.Index) string {
	if idx.Name != "" {
		return idx.Name
	}

	return table + "_" + strings.Join(idx.Fields, "_") + "_idx"
}

// Schema is the combined DDL of a connection, built by the
// after-translation hook.
type Schema struct {
	// Tables are ordered so referenced tables come first.
	Tables []*Table
}

// Table returns the table by name, or nil.
func (s *Schema) Table(name string) *Table {
	for _, t := range s.Tables {
		if t.Name == name {
			return t
		}
	}

	return nil
}

// Statements returns the DDL statements in execution order.
func (s *Schema) Statements() []string {
	var out []string

	for _, t := range s.Tables {
		out = append(out, t.CreateSQL())
		out = append(out, t.IndexSQL()...)
	}

	return out
}

// SQL returns the whole schema as one script.
func (s *Schema) SQL() string {
	return strings.Join(s.Statements(), ";\n\n") + ";\n"
}

// newSchema orders tables so that referenced tables are created first.
// Tables caught in a reference cycle keep their given order.
func newSchema(tables []*Table) *Schema {
	byName := make(map[string]bool, len(tables))
	for _, t := range tables {
		byName[t.Name] = true
	}

	var ordered []*Table

	placed := make(map[string]bool, len(tables))
	remaining := tables

	for len(remaining) > 0 {
		var rest []*Table

		progress := false

		for _, t := range remaining {
			ready := true

			for _, ref := range t.References() {
				if byName[ref] && !placed[ref] {
					ready = false

					break
				}
			}

			if ready {
				ordered = append(ordered, t)
				placed[t.Name] = true
				progress = true
			} else {
				rest = append(rest, t)
			}
		}

		if !progress {
			ordered = append(ordered, rest...)

			break
		}

		remaining = rest
	}

	return &Schema{Tables: ordered}
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
