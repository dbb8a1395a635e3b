// Package sqlite provides a palm Engine translating models into SQLite
// tables.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3" // database/sql driver
	"github.com/rlch/palm"
	"go.uber.org/zap"
)

// ErrNoSchema is returned by Apply before any translation ran.
var ErrNoSchema = errors.New("sqlite: no schema translated")

//nolint:gochecknoinits // Engine self-registration pattern
func init() {
	palm.RegisterEngine(palm.EngineSQLite, func(cfg palm.ConnectionConfig) (palm.Engine, error) {
		return New(cfg), nil
	})
}

// Engine implements palm.Engine for SQLite.
type Engine struct {
	*palm.BaseEngine

	dsn        string
	translator *translator

	mu     sync.Mutex
	schema *Schema
	db     *sql.DB
}

// New creates an engine for a connection. The database is opened lazily;
// an empty URI opens an in-memory database.
func New(cfg palm.ConnectionConfig) *Engine {
	dsn := cfg.URI
	if dsn == "" {
		dsn = cfg.Database
	}

	if dsn == "" {
		dsn = ":memory:"
	}

	e := &Engine{
		BaseEngine: palm.NewBaseEngine(palm.EngineSQLite, cfg.Name, Parsers()),
		dsn:        dsn,
	}
	e.translator = &translator{}

	return e
}

// Models returns the model translator.
func (e *Engine) Models() palm.ModelTranslator { //nolint:ireturn
	return e.translator
}

// Schema returns the schema built by the last after-translation hook.
func (e *Engine) Schema() *Schema {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.schema
}

// Table returns the translated table of a model.
func (e *Engine) Table(model string) (*Table, error) {
	inst, ok := e.Cache().Instance(model)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %q", palm.ErrNotTranslated, model, e.ConnectionName())
	}

	t, ok := inst.(*Table)
	if !ok {
		return nil, fmt.Errorf("sqlite: model %s has native instance %T", model, inst)
	}

	return t, nil
}

// DB opens the database on first use.
func (e *Engine) DB() (*sql.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db != nil {
		return e.db, nil
	}

	e.Logger().Debug("opening database", zap.String("dsn", e.dsn))

	db, err := sql.Open("sqlite3", e.dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if strings.Contains(e.dsn, ":memory:") || strings.Contains(e.dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("sqlite: failed to enable foreign keys: %w", err)
	}

	e.db = db

	return db, nil
}

// Apply creates every table and index of the translated schema.
func (e *Engine) Apply(ctx context.Context) error {
	schema := e.Schema()
	if schema == nil {
		return ErrNoSchema
	}

	db, err := e.DB()
	if err != nil {
		return err
	}

	logger := e.Logger()

	return inTx(ctx, db, func(tx *sql.Tx) error {
		for _, stmt := range schema.Statements() {
			logger.Debug("applying statement", zap.String("dsn", e.dsn), zap.String("statement", stmt))

			_, err := tx.ExecContext(ctx, stmt)
			if err != nil {
				return fmt.Errorf("sqlite: %w\n%s", err, stmt)
			}
		}

		return nil
	})
}

// Close releases the database connection.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db == nil {
		return nil
	}

	err := e.db.Close()
	e.db = nil

	if err != nil {
		return fmt.Errorf("sqlite: failed to close database: %w", err)
	}

	return nil
}

// LazyEvaluateField attaches the REFERENCES clause of a deferred foreign
// key once the target table has been translated.
func (e *Engine) LazyEvaluateField(ctx context.Context, req *palm.LazyEvaluation) (any, error) {
	table, ok := req.Instance.(*Table)
	if !ok {
		return nil, fmt.Errorf("sqlite: model %s has native instance %T", req.ModelName, req.Instance)
	}

	fk := req.Field.ForeignKey
	if fk == nil {
		return nil, fmt.Errorf("sqlite: deferred field %s.%s is not a foreign key", req.ModelName, req.Field.Name)
	}

	related := req.Catalog.Model(fk.RelatedTo)
	if related == nil {
		return nil, &palm.ForeignKeyError{
			Engine: e.Name(),
			Model:  req.ModelName,
			Field:  req.Field.Name,
			Target: fk.RelatedTo,
			Err:    palm.ErrRelatedModelNotFound,
		}
	}

	inst, err := req.InstanceOf(ctx, fk.RelatedTo)
	if err != nil {
		return nil, err
	}

	target, ok := inst.(*Table)
	if !ok {
		return nil, nil
	}

	targetField := related.PrimaryKey()
	if fk.ToField != "" {
		targetField = related.Field(fk.ToField)
	}

	if targetField == nil {
		return nil, nil
	}

	targetColumn := targetField.DatabaseName
	if target.FieldColumn(targetField.Name) == nil {
		// The target table left the column out; translate it on its own
		// to learn the column name.
		v, err := req.ParseAgain(ctx, related, targetField)
		if err != nil {
			return nil, err
		}

		c, ok := v.(*Column)
		if !ok {
			return nil, nil
		}

		targetColumn = c.Name
	}

	name, _ := req.Partial.(string)
	if name == "" {
		name = req.Field.DatabaseName
	}

	out := table.Clone()

	col := out.Column(name)
	if col == nil {
		return nil, nil
	}

	col.References = &Reference{Table: target.Name, Column: targetColumn, OnDelete: fk.OnDelete}

	return out, nil
}

// AfterModelsTranslation builds the combined schema of the connection.
func (e *Engine) AfterModelsTranslation(_ context.Context, _ palm.Engine, models []palm.TranslatedModel) ([]palm.TranslatedModel, error) {
	tables := make([]*Table, 0, len(models))

	for _, m := range models {
		t, ok := m.Instance.(*Table)
		if !ok {
			return nil, fmt.Errorf("sqlite: model %s has native instance %T", m.Name, m.Instance)
		}

		tables = append(tables, t)
	}

	schema := newSchema(tables)

	e.mu.Lock()
	e.schema = schema
	e.mu.Unlock()

	return nil, nil
}

// ModelInstanceForHooks exposes the table name to custom hooks.
func (e *Engine) ModelInstanceForHooks(_ string, instance any) any {
	if t, ok := instance.(*Table); ok {
		return t.Name
	}

	return nil
}

func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}

	err = fn(tx)
	if err != nil {
		_ = tx.Rollback()

		return err
	}

	return tx.Commit()
}

// translator implements palm.ModelTranslator.
type translator struct{}

func (t *translator) TranslateOptions(_ context.Context, _ palm.Engine, modelName string, opts palm.ModelOptions) (any, error) {
	return &TableOptions{
		Name:     opts.TableNameFor(modelName),
		Indexes:  opts.Indexes,
		Ordering: opts.Ordering,
	}, nil
}

func (t *translator) Translate(_ context.Context, req *palm.ModelTranslation) (any, error) {
	opts, ok := req.Options.(*TableOptions)
	if !ok {
		return nil, fmt.Errorf("sqlite: unexpected options %T", req.Options)
	}

	table := &Table{
		Model:    req.ModelName,
		Name:     opts.Name,
		Ordering: opts.Ordering,
	}

	var err error

	req.Fields.Each(func(name string, value any) {
		c, ok := value.(*Column)
		if !ok {
			if err == nil {
				err = fmt.Errorf("sqlite: field %s.%s translated to %T", req.ModelName, name, value)
			}

			return
		}

		table.Columns = append(table.Columns, c)
	})

	if err != nil {
		return nil, err
	}

	for _, idx := range opts.Indexes {
		cols := make([]string, len(idx.Fields))

		for i, field := range idx.Fields {
			c := table.FieldColumn(field)
			if c == nil {
				return nil, fmt.Errorf("sqlite: index on %s references unknown field %q", req.ModelName, field)
			}

			cols[i] = c.Name
		}

		table.Indexes = append(table.Indexes, palm.Index{Name: idx.Name, Fields: cols, Unique: idx.Unique})
	}

	return table, nil
}

// Compile-time interface checks.
var (
	_ palm.Engine               = (*Engine)(nil)
	_ palm.LazyFieldEvaluator   = (*Engine)(nil)
	_ palm.AfterTranslationHook = (*Engine)(nil)
	_ palm.HookInstancer        = (*Engine)(nil)
)
