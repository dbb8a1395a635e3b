package sqlite

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/rlch/palm"
)

// Query implements palm.Querier over the engine's translated tables.
// Values pass through the value parsers cached on each field.
type Query struct {
	engine  *Engine
	catalog *palm.Catalog
	now     func() time.Time
}

// Query returns a querier resolving models through catalog.
func (e *Engine) Query(catalog *palm.Catalog) *Query {
	return &Query{engine: e, catalog: catalog, now: time.Now}
}

func (q *Query) target(model string) (*Table, *palm.Model, error) {
	m := q.catalog.Model(model)
	if m == nil {
		return nil, nil, fmt.Errorf("%w: %s", palm.ErrUnknownModel, model)
	}

	t, err := q.engine.Table(model)
	if err != nil {
		return nil, nil, err
	}

	return t, m, nil
}

func (q *Query) column(t *Table, field string) (*Column, error) {
	c := t.FieldColumn(field)
	if c == nil {
		return nil, fmt.Errorf("sqlite: %s has no field %q", t.Model, field)
	}

	return c, nil
}

func (q *Query) input(ctx context.Context, m *palm.Model, field string, value any) (any, error) {
	f := m.Field(field)
	if f == nil {
		return value, nil
	}

	vp, _ := f.ValueParsers(q.engine.ConnectionName())

	return vp.ParseInput(ctx, value)
}

func (q *Query) output(ctx context.Context, m *palm.Model, field string, value any) (any, error) {
	f := m.Field(field)
	if f == nil {
		return value, nil
	}

	vp, _ := f.ValueParsers(q.engine.ConnectionName())

	return vp.ParseOutput(ctx, value)
}

// Get returns the first matching record.
func (q *Query) Get(ctx context.Context, model string, search palm.Search) (palm.Record, error) {
	search.Limit = 1

	records, err := q.Search(ctx, model, search)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", palm.ErrNotFound, model)
	}

	return records[0], nil
}

// Search returns every matching record.
func (q *Query) Search(ctx context.Context, model string, search palm.Search) ([]palm.Record, error) {
	t, m, err := q.target(model)
	if err != nil {
		return nil, err
	}

	db, err := q.engine.DB()
	if err != nil {
		return nil, err
	}

	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = quote(c.Name)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(names, ", "), quote(t.Name))

	where, args, err := q.where(ctx, t, m, search.Where)
	if err != nil {
		return nil, err
	}

	b.WriteString(where)

	ordering := search.Ordering
	if len(ordering) == 0 {
		ordering = t.Ordering
	}

	if len(ordering) > 0 {
		terms := make([]string, len(ordering))

		for i, term := range ordering {
			field, desc := palm.OrderingTerm(term)

			c, err := q.column(t, field)
			if err != nil {
				return nil, err
			}

			terms[i] = quote(c.Name)
			if desc {
				terms[i] += " DESC"
			}
		}

		b.WriteString(" ORDER BY " + strings.Join(terms, ", "))
	}

	switch {
	case search.Limit > 0:
		b.WriteString(" LIMIT ? OFFSET ?")

		args = append(args, search.Limit, search.Offset)
	case search.Offset > 0:
		b.WriteString(" LIMIT -1 OFFSET ?")

		args = append(args, search.Offset)
	}

	rows, err := db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query %s: %w", model, err)
	}
	defer rows.Close()

	var out []palm.Record

	for rows.Next() {
		values := make([]any, len(t.Columns))
		ptrs := make([]any, len(values))

		for i := range values {
			ptrs[i] = &values[i]
		}

		err := rows.Scan(ptrs...)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan %s: %w", model, err)
		}

		rec := make(palm.Record, len(t.Columns))

		for i, c := range t.Columns {
			v, err := q.output(ctx, m, c.Field, values[i])
			if err != nil {
				return nil, fmt.Errorf("sqlite: %s.%s: %w", model, c.Field, err)
			}

			rec[c.Field] = v
		}

		out = append(out, rec)
	}

	return out, rows.Err()
}

// Set inserts data when where is empty and updates matching rows
// otherwise. AutoNow fields are refreshed on update.
func (q *Query) Set(ctx context.Context, model string, data palm.Record, where ...palm.Condition) (int64, error) {
	t, m, err := q.target(model)
	if err != nil {
		return 0, err
	}

	for field := range data {
		if _, err := q.column(t, field); err != nil {
			return 0, err
		}
	}

	var (
		cols []string
		args []any
	)

	for _, c := range t.Columns {
		value, ok := data[c.Field]
		if !ok && c.AutoNow && len(where) > 0 {
			value, ok = q.now(), true
		}

		if !ok {
			continue
		}

		v, err := q.input(ctx, m, c.Field, value)
		if err != nil {
			return 0, fmt.Errorf("sqlite: %s.%s: %w", model, c.Field, err)
		}

		cols = append(cols, quote(c.Name))
		args = append(args, v)
	}

	var stmt string

	if len(where) == 0 {
		if len(cols) == 0 {
			stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quote(t.Name))
		} else {
			stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
				quote(t.Name), strings.Join(cols, ", "), placeholders(len(cols)))
		}
	} else {
		if len(cols) == 0 {
			return 0, nil
		}

		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = c + " = ?"
		}

		clause, whereArgs, err := q.where(ctx, t, m, where)
		if err != nil {
			return 0, err
		}

		stmt = fmt.Sprintf("UPDATE %s SET %s%s", quote(t.Name), strings.Join(sets, ", "), clause)
		args = append(args, whereArgs...)
	}

	return q.exec(ctx, stmt, args)
}

// Remove deletes matching rows.
func (q *Query) Remove(ctx context.Context, model string, where ...palm.Condition) (int64, error) {
	t, m, err := q.target(model)
	if err != nil {
		return 0, err
	}

	clause, args, err := q.where(ctx, t, m, where)
	if err != nil {
		return 0, err
	}

	return q.exec(ctx, "DELETE FROM "+quote(t.Name)+clause, args)
}

func (q *Query) exec(ctx context.Context, stmt string, args []any) (int64, error) {
	db, err := q.engine.DB()
	if err != nil {
		return 0, err
	}

	res, err := db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: %w", err)
	}

	return res.RowsAffected()
}

func (q *Query) where(ctx context.Context, t *Table, m *palm.Model, conds []palm.Condition) (string, []any, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}

	parts := make([]string, 0, len(conds))

	var args []any

	for _, cond := range conds {
		c, err := q.column(t, cond.Field)
		if err != nil {
			return "", nil, err
		}

		name := quote(c.Name)

		switch cond.Op {
		case "", palm.OpEq, palm.OpNe, palm.OpLt, palm.OpLte, palm.OpGt, palm.OpGte, palm.OpLike:
			op := string(cond.Op)

			switch cond.Op {
			case "":
				op = "="
			case palm.OpLike:
				op = "LIKE"
			}

			v, err := q.input(ctx, m, cond.Field, cond.Value)
			if err != nil {
				return "", nil, err
			}

			parts = append(parts, name+" "+op+" ?")
			args = append(args, v)

		case palm.OpIn:
			rv := reflect.ValueOf(cond.Value)
			if rv.Kind() != reflect.Slice {
				return "", nil, fmt.Errorf("sqlite: %s in expects a slice, got %T", cond.Field, cond.Value)
			}

			if rv.Len() == 0 {
				parts = append(parts, "0")

				continue
			}

			for i := range rv.Len() {
				v, err := q.input(ctx, m, cond.Field, rv.Index(i).Interface())
				if err != nil {
					return "", nil, err
				}

				args = append(args, v)
			}

			parts = append(parts, fmt.Sprintf("%s IN (%s)", name, placeholders(rv.Len())))

		case palm.OpIsNull:
			if isNull, ok := cond.Value.(bool); ok && !isNull {
				parts = append(parts, name+" IS NOT NULL")
			} else {
				parts = append(parts, name+" IS NULL")
			}

		default:
			return "", nil, fmt.Errorf("sqlite: unsupported operator %q", cond.Op)
		}
	}

	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

var _ palm.Querier = (*Query)(nil)
