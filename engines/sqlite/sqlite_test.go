//nolint:testpackage
package sqlite

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rlch/palm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func companyModel(extra ...func(*palm.Model)) *palm.Model {
	m := palm.NewModel("Company", palm.ModelOptions{Ordering: []string{"name"}}).
		Add("id", palm.AutoIncrement()).
		Add("name", palm.Char(100, palm.Unique()))

	for _, fn := range extra {
		fn(m)
	}

	return m
}

func userModel() *palm.Model {
	return palm.NewModel("User", palm.ModelOptions{
		Underscored: true,
		Indexes:     []palm.Index{{Fields: []string{"firstName"}}},
	}).
		Add("id", palm.AutoIncrement()).
		Add("firstName", palm.Char(50)).
		Add("active", palm.Boolean(palm.Default(true))).
		Add("joinedAt", palm.Date(palm.AutoNowAdd())).
		Add("companyId", palm.ForeignKeyTo("Company", "", palm.OnDeleteCascade, palm.Null()))
}

func translate(t *testing.T, catalog *palm.Catalog) (*Engine, *palm.Result) {
	t.Helper()

	eng := New(palm.ConnectionConfig{})
	t.Cleanup(func() { _ = eng.Close() })

	res, err := palm.NewPipeline(catalog).Translate(context.Background(), eng)
	require.NoError(t, err)

	return eng, res
}

func TestEngine_Registration(t *testing.T) {
	assert.True(t, slices.Contains(palm.RegisteredEngines(), palm.EngineSQLite))

	eng, err := palm.NewEngine(palm.EngineSQLite, palm.ConnectionConfig{Name: "local"})
	require.NoError(t, err)
	assert.Equal(t, "local", eng.ConnectionName())
	assert.Equal(t, palm.EngineSQLite, eng.Name())
}

func TestEngine_TranslateSchema(t *testing.T) {
	catalog := palm.NewCatalog(userModel(), companyModel())
	eng, res := translate(t, catalog)

	require.Len(t, res.Models, 2)
	assert.Empty(t, res.Dropped)

	schema := eng.Schema()
	require.NotNil(t, schema)

	var order []string
	for _, tbl := range schema.Tables {
		order = append(order, tbl.Name)
	}

	if diff := cmp.Diff([]string{"Company", "user"}, order); diff != "" {
		t.Errorf("table order mismatch (-want +got):\n%s", diff)
	}

	user, err := eng.Table("User")
	require.NoError(t, err)

	want := `CREATE TABLE IF NOT EXISTS "user" (
  "id" INTEGER PRIMARY KEY AUTOINCREMENT,
  "first_name" VARCHAR(50) NOT NULL CHECK (length("first_name") <= 50),
  "active" BOOLEAN NOT NULL DEFAULT 1 CHECK ("active" IN (0, 1)),
  "joined_at" DATE NOT NULL DEFAULT CURRENT_DATE,
  "company_id" INTEGER REFERENCES "Company"("id") ON DELETE CASCADE
)`
	if diff := cmp.Diff(want, user.CreateSQL()); diff != "" {
		t.Errorf("CreateSQL() mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(
		[]string{`CREATE INDEX IF NOT EXISTS "user_first_name_idx" ON "user" ("first_name")`},
		user.IndexSQL(),
	); diff != "" {
		t.Errorf("IndexSQL() mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, "Company", res.Model("Company").HookInstance())
}

func TestEngine_CrossConnectionForeignKey(t *testing.T) {
	company := companyModel()
	company.Options.Databases = []string{"graph"}

	catalog := palm.NewCatalog(userModel(), company)
	eng, res := translate(t, catalog)

	require.Len(t, res.Models, 1)

	user, err := eng.Table("User")
	require.NoError(t, err)

	col := user.FieldColumn("companyId")
	require.NotNil(t, col)
	assert.Equal(t, "INTEGER", col.Type)
	assert.Nil(t, col.References)
	assert.Equal(t, palm.KindInteger, col.Kind)
}

func TestEngine_UnsupportedCustomType(t *testing.T) {
	m := palm.NewModel("Place", palm.ModelOptions{}).
		Add("id", palm.AutoIncrement()).
		Add("area", palm.Custom("geometry"))

	eng := New(palm.ConnectionConfig{})

	_, err := palm.NewPipeline(palm.NewCatalog(m)).Translate(context.Background(), eng)
	require.ErrorIs(t, err, palm.ErrUnsupportedFieldType)

	var unsupported *palm.UnsupportedFieldError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "geometry", unsupported.TypeName)
}

func TestEngine_CustomSQLType(t *testing.T) {
	m := palm.NewModel("Place", palm.ModelOptions{}).
		Add("id", palm.AutoIncrement()).
		Add("area", palm.Custom("geometry", palm.Attr(AttrSQLType, "BLOB"), palm.Null())).
		Add("meta", palm.Custom("json", palm.Null()))

	eng, _ := translate(t, palm.NewCatalog(m))

	place, err := eng.Table("Place")
	require.NoError(t, err)
	assert.Equal(t, "BLOB", place.FieldColumn("area").Type)
	assert.Equal(t, "JSON", place.FieldColumn("meta").Type)
}

func TestEngine_ApplyAndQuery(t *testing.T) {
	ctx := context.Background()
	catalog := palm.NewCatalog(userModel(), companyModel())
	eng, _ := translate(t, catalog)

	require.NoError(t, eng.Apply(ctx))

	q := eng.Query(catalog)

	n, err := q.Set(ctx, "Company", palm.Record{"name": "Acme"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = q.Set(ctx, "Company", palm.Record{"name": "Blue"})
	require.NoError(t, err)

	_, err = q.Set(ctx, "User", palm.Record{"firstName": "Ada", "companyId": int64(1)})
	require.NoError(t, err)

	rec, err := q.Get(ctx, "User", palm.Search{Where: []palm.Condition{palm.Where("firstName", "Ada")}})
	require.NoError(t, err)
	assert.Equal(t, true, rec["active"])
	assert.Equal(t, int64(1), rec["companyId"])
	assert.IsType(t, time.Time{}, rec["joinedAt"])

	n, err = q.Set(ctx, "User", palm.Record{"active": false}, palm.Where("firstName", "Ada"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, err = q.Get(ctx, "User", palm.Search{Where: []palm.Condition{palm.Where("firstName", "Ada")}})
	require.NoError(t, err)
	assert.Equal(t, false, rec["active"])

	companies, err := q.Search(ctx, "Company", palm.Search{Ordering: []string{"-name"}})
	require.NoError(t, err)
	require.Len(t, companies, 2)
	assert.Equal(t, "Blue", companies[0]["name"])

	companies, err = q.Search(ctx, "Company", palm.Search{
		Where: []palm.Condition{{Field: "name", Op: palm.OpIn, Value: []string{"Acme", "Nope"}}},
	})
	require.NoError(t, err)
	require.Len(t, companies, 1)

	n, err = q.Remove(ctx, "Company", palm.Where("name", "Acme"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	users, err := q.Search(ctx, "User", palm.Search{})
	require.NoError(t, err)
	assert.Empty(t, users)

	_, err = q.Get(ctx, "User", palm.Search{})
	require.ErrorIs(t, err, palm.ErrNotFound)
}

func TestQuery_ValueParsersRejectBadInput(t *testing.T) {
	ctx := context.Background()
	catalog := palm.NewCatalog(userModel(), companyModel())
	eng, _ := translate(t, catalog)
	require.NoError(t, eng.Apply(ctx))

	_, err := eng.Query(catalog).Set(ctx, "User", palm.Record{"firstName": "Ada", "active": "yes"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected bool")
}

func TestEngine_ApplyLogsStatements(t *testing.T) {
	catalog := palm.NewCatalog(userModel(), companyModel())
	eng, _ := translate(t, catalog)

	core, logs := observer.New(zap.DebugLevel)
	eng.SetLogger(zap.New(core))

	require.NoError(t, eng.Apply(context.Background()))

	applied := logs.FilterMessage("applying statement").All()
	require.Len(t, applied, len(eng.Schema().Statements()))
	assert.Equal(t, palm.DefaultConnection, applied[0].LoggerName)
	assert.Equal(t, eng.Schema().Statements()[0], applied[0].ContextMap()["statement"])
}

func TestEngine_ApplyWithoutSchema(t *testing.T) {
	eng := New(palm.ConnectionConfig{})
	require.ErrorIs(t, eng.Apply(context.Background()), ErrNoSchema)
}

func TestMigrator(t *testing.T) {
	ctx := context.Background()

	eng, v1 := translate(t, palm.NewCatalog(companyModel()))
	require.NoError(t, eng.Apply(ctx))

	_, v2 := translate(t, palm.NewCatalog(companyModel(func(m *palm.Model) {
		m.Add("website", palm.Text(palm.Null()))
	})))

	add := palm.MigrationOp{
		Kind:   palm.MigrationAddField,
		Model:  "Company",
		Before: v1.Model("Company"),
		After:  v2.Model("Company"),
		Field:  "website",
	}

	stmts, err := statementsFor(add)
	require.NoError(t, err)

	if diff := cmp.Diff([]string{`ALTER TABLE "Company" ADD COLUMN "website" TEXT`}, stmts); diff != "" {
		t.Errorf("statementsFor() mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, palm.RunMigrations(ctx, eng.Migrator(), []palm.MigrationOp{add}))

	db, err := eng.DB()
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO "Company" ("name", "website") VALUES ('Acme', 'acme.test')`)
	require.NoError(t, err)

	drop := palm.MigrationOp{Kind: palm.MigrationRemoveField, Model: "Company", Before: v2.Model("Company"), Field: "website"}
	require.NoError(t, eng.Migrator().Migrate(ctx, drop))

	change := palm.MigrationOp{Kind: palm.MigrationChangeField, Model: "Company", Field: "name"}
	require.ErrorIs(t, eng.Migrator().Migrate(ctx, change), palm.ErrUnsupportedMigration)
}

func TestSchemaOrdering_Cycle(t *testing.T) {
	a := &Table{Name: "a", Columns: []*Column{{Name: "b_id", References: &Reference{Table: "b", Column: "id"}}}}
	b := &Table{Name: "b", Columns: []*Column{{Name: "a_id", References: &Reference{Table: "a", Column: "id"}}}}
	c := &Table{Name: "c", Columns: []*Column{{Name: "a_id", References: &Reference{Table: "a", Column: "id"}}}}

	schema := newSchema([]*Table{c, a, b})

	var got []string
	for _, tbl := range schema.Tables {
		got = append(got, tbl.Name)
	}

	if diff := cmp.Diff([]string{"c", "a", "b"}, got); diff != "" {
		t.Errorf("newSchema() mismatch (-want +got):\n%s", diff)
	}
}

func TestLiteral(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{true, "1"},
		{42, "42"},
		{int64(-7), "-7"},
		{1.5, "1.5"},
		{"O'Brien", "'O''Brien'"},
		{time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "'2024-03-01'"},
	}

	for _, tt := range tests {
		got, err := literal(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := literal(struct{}{})
	require.Error(t, err)
}
