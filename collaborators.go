package palm

import (
	"context"
	"fmt"
	"strings"
)

// MigrationKind names a structural change to a live schema.
type MigrationKind string

// Migration kinds.
const (
	MigrationAddModel    MigrationKind = "add_model"
	MigrationRemoveModel MigrationKind = "remove_model"
	MigrationChangeModel MigrationKind = "change_model"
	MigrationAddField    MigrationKind = "add_field"
	MigrationRenameField MigrationKind = "rename_field"
	MigrationRemoveField MigrationKind = "remove_field"
	MigrationChangeField MigrationKind = "change_field"
)

// MigrationOp is one structural change. Before and After are the model
// states on either side of the change; either is nil when the model does
// not exist on that side.
type MigrationOp struct {
	Kind   MigrationKind
	Model  string
	Before *InitializedModel
	After  *InitializedModel

	// Field and NewName are set for field operations. NewName is only set
	// by renames.
	Field   string
	NewName string
}

func (op MigrationOp) String() string {
	switch {
	case op.NewName != "":
		return fmt.Sprintf("%s %s.%s -> %s", op.Kind, op.Model, op.Field, op.NewName)
	case op.Field != "":
		return fmt.Sprintf("%s %s.%s", op.Kind, op.Model, op.Field)
	default:
		return fmt.Sprintf("%s %s", op.Kind, op.Model)
	}
}

// Migrator applies structural changes to a live schema. It consumes
// initialized models and never produces them.
type Migrator interface {
	Migrate(ctx context.Context, op MigrationOp) error
}

// BatchMigrator is implemented by migrators that apply every operation in
// one go, e.g. inside a single transaction.
type BatchMigrator interface {
	MigrateAll(ctx context.Context, ops []MigrationOp) error
}

// RunMigrations applies ops through m, batching when m supports it.
func RunMigrations(ctx context.Context, m Migrator, ops []MigrationOp) error {
	if len(ops) == 0 {
		return nil
	}

	if bm, ok := m.(BatchMigrator); ok {
		return bm.MigrateAll(ctx, ops)
	}

	for _, op := range ops {
		err := m.Migrate(ctx, op)
		if err != nil {
			return fmt.Errorf("migration %s: %w", op, err)
		}
	}

	return nil
}

// Operator compares a field against a value in a Condition.
type Operator string

// Operators.
const (
	OpEq     Operator = "="
	OpNe     Operator = "!="
	OpLt     Operator = "<"
	OpLte    Operator = "<="
	OpGt     Operator = ">"
	OpGte    Operator = ">="
	OpIn     Operator = "in"
	OpLike   Operator = "like"
	OpIsNull Operator = "is_null"
)

// Condition restricts a search to records whose field matches.
type Condition struct {
	Field string
	Op    Operator
	Value any
}

// Where is shorthand for an equality condition.
func Where(field string, value any) Condition {
	return Condition{Field: field, Op: OpEq, Value: value}
}

// Search is a declarative query over one model. Conditions are combined
// with AND.
type Search struct {
	Where []Condition
	// Ordering uses the model ordering syntax; a leading "-" sorts
	// descending. Empty falls back to the model's ordering.
	Ordering []string
	Limit    int
	Offset   int
}

// OrderingTerm splits an ordering entry into field and direction.
func OrderingTerm(term string) (string, bool) {
	if name, ok := strings.CutPrefix(term, "-"); ok {
		return name, true
	}

	return strings.TrimPrefix(term, "+"), false
}

// Record is a row of field values keyed by field name.
type Record map[string]any

// Querier reads and writes records through the native instances of a
// translated connection.
type Querier interface {
	// Get returns the first matching record or ErrNotFound.
	Get(ctx context.Context, model string, search Search) (Record, error)

	// Search returns every matching record.
	Search(ctx context.Context, model string, search Search) ([]Record, error)

	// Set inserts data when where is empty and updates matching records
	// otherwise. It returns the number of affected records.
	Set(ctx context.Context, model string, data Record, where ...Condition) (int64, error)

	// Remove deletes matching records and returns how many were removed.
	Remove(ctx context.Context, model string, where ...Condition) (int64, error)
}
