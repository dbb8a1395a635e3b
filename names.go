package palm

import (
	"fmt"
	"strings"
	"unicode"
)

// Engine names.
const (
	EngineSQLite = "sqlite"
	EngineNeo4j  = "neo4j"
)

// DefaultConnection is the connection name used when none is configured.
const DefaultConnection = "default"

// OnDelete is the action a database takes on rows referencing a deleted row.
type OnDelete string

// OnDelete actions.
const (
	OnDeleteCascade    OnDelete = "cascade"
	OnDeleteSetNull    OnDelete = "set_null"
	OnDeleteSetDefault OnDelete = "set_default"
	OnDeleteRestrict   OnDelete = "restrict"
	OnDeleteDoNothing  OnDelete = "do_nothing"
)

// ParseOnDelete converts a declared on-delete action into an OnDelete.
func ParseOnDelete(s string) (OnDelete, error) {
	switch od := OnDelete(strings.ToLower(s)); od {
	case OnDeleteCascade, OnDeleteSetNull, OnDeleteSetDefault, OnDeleteRestrict, OnDeleteDoNothing:
		return od, nil
	}

	return "", fmt.Errorf("%w: unknown on_delete action %q", ErrForeignKeyMetadata, s)
}

// SQL returns the SQL spelling of the action (e.g. "SET NULL").
func (o OnDelete) SQL() string {
	switch o {
	case OnDeleteCascade:
		return "CASCADE"
	case OnDeleteSetNull:
		return "SET NULL"
	case OnDeleteSetDefault:
		return "SET DEFAULT"
	case OnDeleteRestrict:
		return "RESTRICT"
	default:
		return "NO ACTION"
	}
}

// SnakeCase converts camelCase and PascalCase identifiers to snake_case.
// "companyId" -> "company_id", "HTTPServer" -> "http_server".
func SnakeCase(s string) string {
	runes := []rune(s)

	var sb strings.Builder
	sb.Grow(len(s) + 4)

	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && runes[i-1] != '_' {
				prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

				if prevLower || (nextLower && unicode.IsUpper(runes[i-1])) {
					sb.WriteByte('_')
				}
			}

			sb.WriteRune(unicode.ToLower(r))

			continue
		}

		sb.WriteRune(r)
	}

	return sb.String()
}

// lowerFirst lowercases the first rune of s.
func lowerFirst(s string) string {
	if s == "" {
		return s
	}

	r := []rune(s)
	r[0] = unicode.ToLower(r[0])

	return string(r)
}
