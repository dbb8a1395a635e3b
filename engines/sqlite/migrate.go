package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rlch/palm"
)

// Migrator applies structural changes to the engine's database.
type Migrator struct {
	engine *Engine
}

// Migrator returns a migrator bound to the engine's database.
func (e *Engine) Migrator() *Migrator {
	return &Migrator{engine: e}
}

// Migrate applies one operation.
func (m *Migrator) Migrate(ctx context.Context, op palm.MigrationOp) error {
	db, err := m.engine.DB()
	if err != nil {
		return err
	}

	return inTx(ctx, db, func(tx *sql.Tx) error {
		return m.exec(ctx, tx, op)
	})
}

// MigrateAll applies every operation in one transaction.
func (m *Migrator) MigrateAll(ctx context.Context, ops []palm.MigrationOp) error {
	db, err := m.engine.DB()
	if err != nil {
		return err
	}

	return inTx(ctx, db, func(tx *sql.Tx) error {
		for _, op := range ops {
			err := m.exec(ctx, tx, op)
			if err != nil {
				return fmt.Errorf("migration %s: %w", op, err)
			}
		}

		return nil
	})
}

func (m *Migrator) exec(ctx context.Context, tx *sql.Tx, op palm.MigrationOp) error {
	stmts, err := statementsFor(op)
	if err != nil {
		return err
	}

	for _, stmt := range stmts {
		_, err := tx.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("sqlite: %w\n%s", err, stmt)
		}
	}

	return nil
}

// statementsFor renders the DDL of one operation.
func statementsFor(op palm.MigrationOp) ([]string, error) {
	switch op.Kind {
	case palm.MigrationAddModel:
		after, err := side(op, op.After, "after")
		if err != nil {
			return nil, err
		}

		return append([]string{after.CreateSQL()}, after.IndexSQL()...), nil

	case palm.MigrationRemoveModel:
		before, err := side(op, op.Before, "before")
		if err != nil {
			return nil, err
		}

		return []string{"DROP TABLE IF EXISTS " + quote(before.Name)}, nil

	case palm.MigrationChangeModel:
		before, err := side(op, op.Before, "before")
		if err != nil {
			return nil, err
		}

		after, err := side(op, op.After, "after")
		if err != nil {
			return nil, err
		}

		if before.Name == after.Name {
			return nil, nil
		}

		return []string{fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quote(before.Name), quote(after.Name))}, nil

	case palm.MigrationAddField:
		after, err := side(op, op.After, "after")
		if err != nil {
			return nil, err
		}

		col, err := fieldColumn(op, after, op.Field)
		if err != nil {
			return nil, err
		}

		return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quote(after.Name), col.definition(false))}, nil

	case palm.MigrationRenameField:
		before, err := side(op, op.Before, "before")
		if err != nil {
			return nil, err
		}

		after, err := side(op, op.After, "after")
		if err != nil {
			return nil, err
		}

		from, err := fieldColumn(op, before, op.Field)
		if err != nil {
			return nil, err
		}

		to, err := fieldColumn(op, after, op.NewName)
		if err != nil {
			return nil, err
		}

		return []string{fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			quote(after.Name), quote(from.Name), quote(to.Name))}, nil

	case palm.MigrationRemoveField:
		before, err := side(op, op.Before, "before")
		if err != nil {
			return nil, err
		}

		col, err := fieldColumn(op, before, op.Field)
		if err != nil {
			return nil, err
		}

		return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quote(before.Name), quote(col.Name))}, nil

	default:
		// SQLite cannot alter a column in place.
		return nil, fmt.Errorf("%w: %s on sqlite", palm.ErrUnsupportedMigration, op.Kind)
	}
}

func side(op palm.MigrationOp, im *palm.InitializedModel, which string) (*Table, error) {
	if im == nil {
		return nil, fmt.Errorf("sqlite: %s needs the %s model state", op, which)
	}

	t, ok := im.Instance().(*Table)
	if !ok {
		return nil, fmt.Errorf("sqlite: %s: model %s has native instance %T", op, im.ModelName, im.Instance())
	}

	return t, nil
}

func fieldColumn(op palm.MigrationOp, t *Table, field string) (*Column, error) {
	c := t.FieldColumn(field)
	if c == nil {
		return nil, fmt.Errorf("sqlite: %s: table %s has no column for field %q", op, t.Name, field)
	}

	return c, nil
}

var (
	_ palm.Migrator      = (*Migrator)(nil)
	_ palm.BatchMigrator = (*Migrator)(nil)
)
