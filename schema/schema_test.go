//nolint:testpackage
package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rlch/palm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userDSL = `
// Users of the app.
model User {
  options {
    underscored
    table "users"
    ordering ["-joinedAt", "firstName"]
    index by_name ["firstName", "lastName"] unique
    custom owner "core"
  }
  id        auto_increment
  firstName char(50) indexed
  lastName  char(50) null
  score     decimal(6, 2) default 1.5
  role      enum("admin", "member") default "member"
  active    boolean default true
  retries   integer default ` + "`2 * 3`" + `
  joinedAt  date auto_now_add
  company   foreign_key(Company) on_delete cascade null related_name "members"
  location  point attr srid 4326
}

model Company {
  id   auto_increment
  name char(100) unique column "company_name"
}
`

func fieldNames(m *palm.Model) []string {
	var names []string
	for _, f := range m.Fields() {
		names = append(names, f.Name)
	}

	return names
}

func TestParse(t *testing.T) {
	f, err := Parse("user.palm", []byte(userDSL))
	require.NoError(t, err)
	require.Len(t, f.Models, 2)

	user := f.Models[0]
	assert.Equal(t, "User", user.Name)
	assert.Len(t, user.Options, 5)
	require.Len(t, user.Fields, 10)

	company := user.Fields[8]
	assert.Equal(t, "foreign_key", company.Type)
	require.Len(t, company.Args, 1)
	assert.Equal(t, "Company", *company.Args[0].Ident)
	assert.Equal(t, 3, user.Pos.Line)
	assert.Equal(t, 19, company.Pos.Line)
}

func TestParse_SyntaxError(t *testing.T) {
	_, err := Parse("bad.palm", []byte("model User { id auto_increment"))
	require.Error(t, err)
}

func TestDSL_Build(t *testing.T) {
	f, err := Parse("user.palm", []byte(userDSL))
	require.NoError(t, err)

	defs, err := defsFromFile(f)
	require.NoError(t, err)

	models, err := build(defs)
	require.NoError(t, err)
	require.Len(t, models, 2)

	catalog := palm.NewCatalog(models...)
	require.NoError(t, catalog.Init())

	user := catalog.Model("User")
	require.NotNil(t, user)

	wantOpts := palm.ModelOptions{
		TableName:     "users",
		Underscored:   true,
		Ordering:      []string{"-joinedAt", "firstName"},
		Indexes:       []palm.Index{{Name: "by_name", Fields: []string{"firstName", "lastName"}, Unique: true}},
		CustomOptions: map[string]any{"owner": "core"},
	}
	if diff := cmp.Diff(wantOpts, user.Options); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}

	wantFields := []string{"id", "firstName", "lastName", "score", "role", "active", "retries", "joinedAt", "company", "location"}
	if diff := cmp.Diff(wantFields, fieldNames(user)); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}

	first := user.Field("firstName").Spec()
	assert.Equal(t, palm.KindChar, first.Kind)
	assert.Equal(t, 50, first.MaxLength)
	assert.True(t, first.DBIndex)
	assert.Equal(t, "first_name", first.DatabaseName)

	assert.True(t, user.Field("lastName").AllowNull)

	score := user.Field("score").Spec()
	assert.Equal(t, 6, score.MaxDigits)
	assert.Equal(t, 2, score.DecimalPlaces)
	assert.InDelta(t, 1.5, score.Default, 0.0001)

	role := user.Field("role").Spec()
	assert.Equal(t, []string{"admin", "member"}, role.Choices)
	assert.Equal(t, "member", role.Default)

	assert.Equal(t, true, user.Field("active").Default)
	assert.Equal(t, int64(6), user.Field("retries").Default)
	assert.True(t, user.Field("joinedAt").AutoNowAdd)

	want := &palm.ForeignKey{
		RelatedTo:    "Company",
		OnDelete:     palm.OnDeleteCascade,
		RelationName: "company",
		RelatedName:  "members",
	}
	if diff := cmp.Diff(want, user.Field("company").ForeignKey); diff != "" {
		t.Errorf("foreign key mismatch (-want +got):\n%s", diff)
	}

	loc := user.Field("location").Spec()
	assert.Equal(t, palm.KindCustom, loc.Kind)
	assert.Equal(t, "point", loc.TypeName)
	assert.Equal(t, map[string]any{"srid": int64(4326)}, loc.CustomAttributes)

	name := catalog.Model("Company").Field("name").Spec()
	assert.Equal(t, "company_name", name.DatabaseName)
	assert.True(t, name.Unique)
}

func TestDSL_InvalidDeclarations(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"char without length", "model A { name char }"},
		{"char with string", `model A { name char("x") }`},
		{"decimal places over digits", "model A { price decimal(2, 4) }"},
		{"enum without choices", "model A { role enum }"},
		{"foreign key without target", "model A { b foreign_key on_delete cascade }"},
		{"unknown on_delete", "model A { b foreign_key(B) on_delete explode }"},
		{"arguments on text", "model A { body text(10) }"},
		{"bad default expression", "model A { n integer default `1 +` }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse("a.palm", []byte(tt.src))
			require.NoError(t, err)

			defs, err := defsFromFile(f)
			if err == nil {
				_, err = build(defs)
			}

			require.ErrorIs(t, err, ErrInvalidDeclaration)

			var declErr *DeclError
			require.ErrorAs(t, err, &declErr)
			assert.Equal(t, "A", declErr.Model)
		})
	}
}

const userYAML = `
models:
  - name: User
    options:
      underscored: true
      databases: [sql]
      indexes:
        - fields: [firstName]
    fields:
      id: {type: auto_increment}
      firstName: {type: char, max_length: 50}
      price: {type: decimal, max_digits: 8, decimal_places: 2}
      kind: {type: enum, choices: [a, b], default: a}
      retries: {type: integer, default: 3}
      total: {type: integer, default_expr: "60 * 60", null: true}
      company:
        type: foreign_key
        to: Company
        to_field: code
        on_delete: set_null
        null: true
        relation_name: employer
      tags: {type: json, attrs: {sql_type: JSON}}
  - name: Company
    fields:
      code: {type: char, max_length: 8, primary_key: true}
`

func TestParseYAML(t *testing.T) {
	models, err := ParseYAML("user.models.yaml", []byte(userYAML))
	require.NoError(t, err)
	require.Len(t, models, 2)

	catalog := palm.NewCatalog(models...)
	require.NoError(t, catalog.Init())

	user := catalog.Model("User")
	assert.Equal(t, []string{"sql"}, user.Options.Databases)
	assert.Equal(t, []palm.Index{{Fields: []string{"firstName"}}}, user.Options.Indexes)

	wantFields := []string{"id", "firstName", "price", "kind", "retries", "total", "company", "tags"}
	if diff := cmp.Diff(wantFields, fieldNames(user)); diff != "" {
		t.Errorf("field order mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 50, user.Field("firstName").MaxLength)
	assert.Equal(t, 8, user.Field("price").MaxDigits)
	assert.Equal(t, "a", user.Field("kind").Default)
	assert.Equal(t, int64(3), user.Field("retries").Default)
	assert.Equal(t, int64(3600), user.Field("total").Default)
	assert.True(t, user.Field("total").AllowNull)

	want := &palm.ForeignKey{
		RelatedTo:    "Company",
		ToField:      "code",
		OnDelete:     palm.OnDeleteSetNull,
		RelationName: "employer",
		RelatedName:  "users",
	}
	if diff := cmp.Diff(want, user.Field("company").ForeignKey); diff != "" {
		t.Errorf("foreign key mismatch (-want +got):\n%s", diff)
	}

	tags := user.Field("tags").Spec()
	assert.Equal(t, "json", tags.TypeName)
	assert.Equal(t, "JSON", tags.CustomAttributes["sql_type"])
}

func TestParseYAML_BadDefaultExpr(t *testing.T) {
	_, err := ParseYAML("bad.models.yaml", []byte(`
models:
  - name: A
    fields:
      n: {type: integer, default_expr: "1 +"}
`))
	require.ErrorIs(t, err, ErrInvalidDeclaration)
}

func TestParseYAML_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"missing name", "models:\n  - fields: {}\n"},
		{"missing type", "models:\n  - name: A\n    fields:\n      x: {null: true}\n"},
		{"fields list", "models:\n  - name: A\n    fields: [a, b]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML("a.models.yaml", []byte(tt.src))
			require.ErrorIs(t, err, ErrInvalidDeclaration)
		})
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "user.palm")
	writeFile(t, path, userDSL)

	l := NewLoader()

	src, err := l.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"User", "Company"}, src.Names())

	again, err := l.Load(path)
	require.NoError(t, err)
	assert.Same(t, src, again)
	assert.Len(t, l.Cached(), 1)

	first, err := src.Models()
	require.NoError(t, err)

	second, err := src.Models()
	require.NoError(t, err)
	assert.NotSame(t, first[0], second[0])

	l.Clear()
	assert.Empty(t, l.Cached())
}

func TestLoader_Errors(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader()

	_, err := l.Load(filepath.Join(dir, "missing.palm"))
	require.ErrorIs(t, err, ErrSourceNotFound)

	bad := filepath.Join(dir, "bad.palm")
	writeFile(t, bad, "model {")

	_, err = l.Load(bad)
	require.ErrorIs(t, err, ErrParseError)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, bad, loadErr.Path)

	other := filepath.Join(dir, "notes.txt")
	writeFile(t, other, "hello")

	_, err = l.Load(other)
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestLoader_LoadAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "company.palm"), "model Company {\n  id auto_increment\n}\n")
	writeFile(t, filepath.Join(dir, "nested", "user.models.yaml"), `
models:
  - name: User
    fields:
      id: {type: auto_increment}
      company: {type: foreign_key, to: Company, on_delete: cascade}
`)
	writeFile(t, filepath.Join(dir, "nested", "other.yaml"), "not: models\n")

	catalog, err := NewLoader().LoadAll(dir)
	require.NoError(t, err)
	require.NoError(t, catalog.Init())

	var names []string
	for _, m := range catalog.Models() {
		names = append(names, m.Name)
	}

	assert.ElementsMatch(t, []string{"Company", "User"}, names)
	assert.Equal(t, []string{"Company"}, catalog.Model("User").DependentOn())
}

func TestLoader_LoadAllDuplicateModel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.palm"), "model A {\n  id auto_increment\n}\n")
	writeFile(t, filepath.Join(dir, "b.palm"), "model A {\n  id auto_increment\n}\n")

	_, err := NewLoader().LoadAll(dir)
	require.ErrorIs(t, err, palm.ErrDuplicateModel)
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.palm"), "")
	writeFile(t, filepath.Join(dir, "a", "x.models.yml"), "")
	writeFile(t, filepath.Join(dir, "a", "config.yaml"), "")
	writeFile(t, filepath.Join(dir, "readme.md"), "")

	files, err := Discover(dir)
	require.NoError(t, err)

	want := []string{
		filepath.Join(dir, "a", "x.models.yml"),
		filepath.Join(dir, "b.palm"),
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("Discover() mismatch (-want +got):\n%s", diff)
	}
}
