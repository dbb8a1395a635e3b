package sqlite

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rlch/palm"
)

const dateLayout = "2006-01-02"

// AttrSQLType overrides the column type of a custom field.
const AttrSQLType = "sql_type"

// Parsers returns the field parser registry of the sqlite engine.
func Parsers() *palm.FieldParsers {
	return palm.NewFieldParsers().
		Register(palm.KindAutoIncrement, palm.ParserFunc(translateAutoIncrement)).
		Register(palm.KindBigAutoIncrement, palm.ParserFunc(translateAutoIncrement)).
		Register(palm.KindInteger, scalar("INTEGER")).
		Register(palm.KindBigInteger, scalar("BIGINT")).
		Register(palm.KindChar, palm.ParserFunc(translateChar)).
		Register(palm.KindText, scalar("TEXT")).
		Register(palm.KindDate, dateParser{}).
		Register(palm.KindDecimal, palm.ParserFunc(translateDecimal)).
		Register(palm.KindUUID, palm.ParserFunc(translateUUID)).
		Register(palm.KindEnum, palm.ParserFunc(translateEnum)).
		Register(palm.KindBoolean, boolParser{}).
		Register(palm.KindForeignKey, palm.ParserFunc(translateForeignKey)).
		RegisterCustom("json", scalar("JSON")).
		RegisterCustom("blob", scalar("BLOB")).
		SetGeneric(palm.ParserFunc(translateGeneric))
}

// column builds the column shared by every parser.
func column(args *palm.FieldTranslation, typ string) (*Column, error) {
	f := args.Field

	c := &Column{
		Name:       f.DatabaseName,
		Field:      f.Name,
		Kind:       f.Kind,
		Type:       typ,
		NotNull:    !f.AllowNull,
		PrimaryKey: f.PrimaryKey,
		Unique:     f.Unique && !f.PrimaryKey,
		AutoNow:    f.AutoNow,
	}

	switch {
	case f.HasDefault:
		lit, err := literal(f.Default)
		if err != nil {
			return nil, fmt.Errorf("default of %s.%s: %w", f.ModelName, f.Name, err)
		}

		c.Default = lit
	case f.AutoNow || f.AutoNowAdd:
		c.Default = "CURRENT_DATE"
	}

	return c, nil
}

func scalar(typ string) palm.ParserFunc {
	return func(_ context.Context, args *palm.FieldTranslation) (any, error) {
		return column(args, typ)
	}
}

func translateAutoIncrement(_ context.Context, args *palm.FieldTranslation) (any, error) {
	c, err := column(args, "INTEGER")
	if err != nil {
		return nil, err
	}

	c.AutoIncrement = c.PrimaryKey

	return c, nil
}

func translateChar(_ context.Context, args *palm.FieldTranslation) (any, error) {
	if args.Field.MaxLength <= 0 {
		return column(args, "TEXT")
	}

	c, err := column(args, fmt.Sprintf("VARCHAR(%d)", args.Field.MaxLength))
	if err != nil {
		return nil, err
	}

	c.Check = fmt.Sprintf("length(%s) <= %d", quote(c.Name), args.Field.MaxLength)

	return c, nil
}

func translateDecimal(_ context.Context, args *palm.FieldTranslation) (any, error) {
	typ := "DECIMAL"
	if args.Field.MaxDigits > 0 {
		typ = fmt.Sprintf("DECIMAL(%d, %d)", args.Field.MaxDigits, args.Field.DecimalPlaces)
	}

	return column(args, typ)
}

func translateUUID(_ context.Context, args *palm.FieldTranslation) (any, error) {
	c, err := column(args, "TEXT")
	if err != nil {
		return nil, err
	}

	c.Check = fmt.Sprintf("length(%s) = 36", quote(c.Name))

	return c, nil
}

func translateEnum(_ context.Context, args *palm.FieldTranslation) (any, error) {
	c, err := column(args, "TEXT")
	if err != nil {
		return nil, err
	}

	if len(args.Field.Choices) > 0 {
		choices := make([]string, len(args.Field.Choices))
		for i, ch := range args.Field.Choices {
			choices[i] = quoteString(ch)
		}

		c.Check = fmt.Sprintf("%s IN (%s)", quote(c.Name), strings.Join(choices, ", "))
	}

	return c, nil
}

// translateForeignKey emits the referencing column now and defers the
// REFERENCES clause until the target table exists.
func translateForeignKey(ctx context.Context, args *palm.FieldTranslation) (any, error) {
	v, err := args.TranslateByPass(ctx)
	if err != nil {
		return nil, err
	}

	c, ok := v.(*Column)
	if !ok {
		return nil, fmt.Errorf("sqlite: foreign key %s.%s translated to %T", args.ModelName, args.Field.Name, v)
	}

	c = c.clone()
	c.Kind = palm.KindForeignKey
	c.AutoIncrement = false
	args.Defer(c.Name, true)

	return c, nil
}

// translateGeneric handles custom types carrying an explicit sql_type.
func translateGeneric(_ context.Context, args *palm.FieldTranslation) (any, error) {
	typ, _ := args.CustomAttributes[AttrSQLType].(string)
	if typ == "" {
		return nil, &palm.UnsupportedFieldError{
			Engine:   palm.EngineSQLite,
			Model:    args.ModelName,
			Field:    args.Field.Name,
			TypeName: args.Field.Type(),
		}
	}

	return column(args, typ)
}

// boolParser stores booleans as 0/1.
type boolParser struct{}

func (boolParser) Translate(_ context.Context, args *palm.FieldTranslation) (any, error) {
	c, err := column(args, "BOOLEAN")
	if err != nil {
		return nil, err
	}

	c.Check = quote(c.Name) + " IN (0, 1)"

	return c, nil
}

func (boolParser) InputParser(_ context.Context, _ palm.FieldSpec, value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case bool:
		if v {
			return int64(1), nil
		}

		return int64(0), nil
	default:
		return nil, fmt.Errorf("sqlite: expected bool, got %T", value)
	}
}

func (boolParser) OutputParser(_ context.Context, _ palm.FieldSpec, value any) (any, error) {
	switch v := value.(type) {
	case nil, bool:
		return v, nil
	case int64:
		return v != 0, nil
	default:
		return nil, fmt.Errorf("sqlite: expected boolean column, got %T", value)
	}
}

// dateParser stores dates as ISO-8601 text.
type dateParser struct{}

func (dateParser) Translate(_ context.Context, args *palm.FieldTranslation) (any, error) {
	return column(args, "DATE")
}

func (dateParser) InputParser(_ context.Context, _ palm.FieldSpec, value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return v.Format(dateLayout), nil
	case string:
		_, err := time.Parse(dateLayout, v)
		if err != nil {
			return nil, fmt.Errorf("sqlite: invalid date %q: %w", v, err)
		}

		return v, nil
	default:
		return nil, fmt.Errorf("sqlite: expected date, got %T", value)
	}
}

func (dateParser) OutputParser(_ context.Context, _ palm.FieldSpec, value any) (any, error) {
	switch v := value.(type) {
	case nil, time.Time:
		return v, nil
	case string:
		return time.Parse(dateLayout, v)
	case []byte:
		return time.Parse(dateLayout, string(v))
	default:
		return nil, fmt.Errorf("sqlite: expected date column, got %T", value)
	}
}

// literal renders a Go value as an SQL literal.
func literal(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if v {
			return "1", nil
		}

		return "0", nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", fmt.Errorf("sqlite: cannot store %v", v)
		}

		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case string:
		return quoteString(v), nil
	case time.Time:
		return quoteString(v.Format(dateLayout)), nil
	default:
		return "", fmt.Errorf("sqlite: unsupported default %T", v)
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
