//nolint:testpackage
package palm

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModel_Init(t *testing.T) {
	t.Parallel()

	m := NewModel("UserProfile", ModelOptions{Underscored: true}).
		Add("id", AutoIncrement()).
		Add("firstName", Char(50)).
		Add("lastName", Char(50, DatabaseName("surname")))
	plain := NewModel("Tag", ModelOptions{}).
		Add("displayName", Text()).
		Add("shortName", Text(Underscored()))

	c := NewCatalog(m, plain)
	require.NoError(t, c.Init())

	assert.True(t, m.Initialized())
	assert.Same(t, c, m.Catalog())

	got := map[string]string{}
	for _, mod := range c.Models() {
		for _, f := range mod.Fields() {
			got[mod.Name+"."+f.Name] = f.DatabaseName

			assert.Equal(t, mod.Name, f.ModelName)
			assert.Same(t, mod, f.Model())
		}
	}

	want := map[string]string{
		"UserProfile.id":        "id",
		"UserProfile.firstName": "first_name",
		"UserProfile.lastName":  "surname",
		"Tag.displayName":       "displayName",
		"Tag.shortName":         "short_name",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("database names mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, "user_profile", m.TableName())
	assert.Equal(t, "Tag", plain.TableName())
	assert.Same(t, m.Field("id"), m.PrimaryKey())
	assert.Nil(t, plain.PrimaryKey())

	require.NoError(t, c.Init(), "init is repeatable")
}

func TestModelOptions_TableNameFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		opts ModelOptions
		want string
	}{
		{ModelOptions{}, "BlogPost"},
		{ModelOptions{Underscored: true}, "blog_post"},
		{ModelOptions{TableName: "posts", Underscored: true}, "posts"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.opts.TableNameFor("BlogPost"))
	}
}

func TestModel_DuplicateField(t *testing.T) {
	t.Parallel()

	m := NewModel("User", ModelOptions{}).
		Add("name", Text()).
		Add("name", Char(10))

	err := NewCatalog(m).Init()
	require.ErrorIs(t, err, ErrDuplicateField)
	assert.Contains(t, err.Error(), "User.name")
	assert.Len(t, m.Fields(), 1)
}

func TestModel_FieldReused(t *testing.T) {
	t.Parallel()

	shared := Integer()
	a := NewModel("A", ModelOptions{}).Add("x", shared)
	b := NewModel("B", ModelOptions{}).Add("y", shared)

	err := NewCatalog(a, b).Init()
	require.ErrorIs(t, err, ErrFieldReused)
	assert.Contains(t, err.Error(), "B.y")
}

func TestCatalog_DuplicateModel(t *testing.T) {
	t.Parallel()

	c := NewCatalog(NewModel("User", ModelOptions{}), NewModel("User", ModelOptions{}))
	require.ErrorIs(t, c.Init(), ErrDuplicateModel)

	c = NewCatalog(NewModel("User", ModelOptions{}))
	require.ErrorIs(t, c.Register(NewModel("User", ModelOptions{})), ErrDuplicateModel)
}

func TestModel_ForeignKeyMetadata(t *testing.T) {
	t.Parallel()

	tests := map[string]*Field{
		"no target":    ForeignKeyTo("", "", OnDeleteCascade),
		"no on_delete": ForeignKeyTo("Company", "", ""),
	}

	for name, f := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := NewCatalog(NewModel("User", ModelOptions{}).Add("companyId", f)).Init()
			require.ErrorIs(t, err, ErrForeignKeyMetadata)

			var fkErr *ForeignKeyError
			require.ErrorAs(t, err, &fkErr)
			assert.Equal(t, "User", fkErr.Model)
			assert.Equal(t, "companyId", fkErr.Field)
		})
	}
}

func TestModel_ForeignKeyDefaults(t *testing.T) {
	t.Parallel()

	company := NewModel("Company", ModelOptions{}).Add("id", AutoIncrement())
	user := NewModel("User", ModelOptions{}).
		Add("id", AutoIncrement()).
		Add("companyId", ForeignKeyTo("Company", "", OnDeleteCascade)).
		Add("employerId", ForeignKeyTo("Company", "", OnDeleteSetNull, RelationName("employer"), RelatedName("staff"))).
		Add("parentId", ForeignKeyTo("User", "", OnDeleteSetNull, Null()))
	draft := NewModel("Draft", ModelOptions{State: true}).
		Add("companyId", ForeignKeyTo("Company", "", OnDeleteCascade))

	c := NewCatalog(company, user, draft)
	require.NoError(t, c.Init())

	want := map[string]ForeignKey{
		"companyId":  {RelatedTo: "Company", OnDelete: OnDeleteCascade, RelationName: "company", RelatedName: "users"},
		"employerId": {RelatedTo: "Company", OnDelete: OnDeleteSetNull, RelationName: "employer", RelatedName: "staff"},
		"parentId":   {RelatedTo: "User", OnDelete: OnDeleteSetNull, RelationName: "user", RelatedName: "users"},
	}

	for name, fk := range want {
		if diff := cmp.Diff(fk, *user.Field(name).ForeignKey); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", name, diff)
		}
	}

	assert.Equal(t, []string{"Company"}, user.DependentOn())

	related := draft.Field("companyId").ForeignKey.RelatedName
	assert.True(t, strings.HasPrefix(related, "drafts_"), related)
	assert.Greater(t, len(related), len("drafts_"))
}

func TestCatalog_FinalizeRelations(t *testing.T) {
	t.Parallel()

	company := NewModel("Company", ModelOptions{}).Add("id", AutoIncrement())
	user := NewModel("User", ModelOptions{}).
		Add("companyId", ForeignKeyTo("Company", "", OnDeleteCascade, RelatedName("members")))
	c := NewCatalog(company, user)

	loaded := 0
	c.OnModelsLoaded(func() error {
		loaded++

		return nil
	})

	require.NoError(t, c.Load())
	require.NoError(t, c.FinalizeRelations())

	assert.Equal(t, 1, loaded)

	rels := company.ReverseRelations()
	require.Len(t, rels, 1)
	assert.Equal(t, "members", rels[0].Name)
	assert.Same(t, user, rels[0].Model)
	assert.Empty(t, user.ReverseRelations())
}

func TestCatalog_FinalizeRelations_MissingModel(t *testing.T) {
	t.Parallel()

	user := NewModel("User", ModelOptions{}).
		Add("companyId", ForeignKeyTo("Company", "", OnDeleteCascade))
	boom := errors.New("boom")

	c := NewCatalog(user)
	c.OnModelsLoaded(func() error { return boom })

	err := c.Load()
	require.ErrorIs(t, err, ErrRelatedModelNotFound)
	require.ErrorIs(t, err, boom)
}

func TestCatalog_ForConnection(t *testing.T) {
	t.Parallel()

	everywhere := NewModel("Tag", ModelOptions{})
	sqlOnly := NewModel("Invoice", ModelOptions{Databases: []string{"sql"}})
	graphOnly := NewModel("Person", ModelOptions{Databases: []string{"graph"}})
	c := NewCatalog(everywhere, sqlOnly, graphOnly)

	names := func(models []*Model) []string {
		out := make([]string, len(models))
		for i, m := range models {
			out[i] = m.Name
		}

		return out
	}

	assert.Equal(t, []string{"Tag", "Invoice"}, names(c.ForConnection("sql")))
	assert.Equal(t, []string{"Tag", "Person"}, names(c.ForConnection("graph")))
	assert.Equal(t, []string{"Tag", "Invoice", "Person"}, names(c.Models()))
	assert.Same(t, graphOnly, c.Model("Person"))
	assert.Nil(t, c.Model("Ghost"))
}
