// Package schema loads model declarations from .palm files and
// *.models.yaml documents.
package schema

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// File is a parsed .palm file.
//
//	model User {
//	  options {
//	    underscored
//	    index ["firstName"] unique
//	  }
//	  id        auto_increment
//	  firstName char(50)
//	  company   foreign_key(Company) on_delete cascade null
//	}
type File struct {
	Pos lexer.Position

	Models []*ModelDecl `parser:"@@*"`
}

// ModelDecl declares one model.
type ModelDecl struct {
	Pos lexer.Position

	Name    string        `parser:"'model' @Ident '{'"`
	Options []*OptionDecl `parser:"('options' '{' @@* '}')?"`
	Fields  []*FieldDecl  `parser:"@@* '}'"`
}

// OptionDecl is one entry of a model's options block.
type OptionDecl struct {
	Pos lexer.Position

	Table       *string    `parser:"  'table' @String"`
	Underscored bool       `parser:"| @'underscored'"`
	State       bool       `parser:"| @'state'"`
	Databases   []string   `parser:"| 'databases' '[' @String (',' @String)* ']'"`
	Ordering    []string   `parser:"| 'ordering' '[' @String (',' @String)* ']'"`
	Index       *IndexDecl `parser:"| 'index' @@"`
	Custom      *AttrDecl  `parser:"| 'custom' @@"`
}

// IndexDecl declares a composite index.
type IndexDecl struct {
	Name   *string  `parser:"@Ident?"`
	Fields []string `parser:"'[' @String (',' @String)* ']'"`
	Unique bool     `parser:"@'unique'?"`
}

// AttrDecl is a key/value attribute.
type AttrDecl struct {
	Key   string `parser:"@Ident"`
	Value *Value `parser:"@@"`
}

// FieldDecl declares one field. Type names are the field kinds
// (auto_increment, char, foreign_key, ...); any other name declares a
// custom type.
type FieldDecl struct {
	Pos lexer.Position

	Name      string      `parser:"@Ident"`
	Type      string      `parser:"@Ident"`
	Args      []*TypeArg  `parser:"('(' (@@ (',' @@)*)? ')')?"`
	Modifiers []*Modifier `parser:"@@*"`
}

// TypeArg is an argument of a field type, e.g. the 50 of char(50).
type TypeArg struct {
	Ident  *string `parser:"  @Ident"`
	String *string `parser:"| @String"`
	Number *string `parser:"| @Number"`
}

// Modifier adjusts a field declaration.
type Modifier struct {
	Pos lexer.Position

	Null         bool      `parser:"  @'null'"`
	Unique       bool      `parser:"| @'unique'"`
	PrimaryKey   bool      `parser:"| @'primary_key'"`
	Indexed      bool      `parser:"| @'indexed'"`
	Underscored  bool      `parser:"| @'underscored'"`
	AutoNowAdd   bool      `parser:"| @'auto_now_add'"`
	AutoNow      bool      `parser:"| @'auto_now'"`
	Default      *Value    `parser:"| 'default' @@"`
	Column       *string   `parser:"| 'column' @String"`
	OnDelete     *string   `parser:"| 'on_delete' @Ident"`
	RelatedName  *string   `parser:"| 'related_name' @String"`
	RelationName *string   `parser:"| 'relation_name' @String"`
	Attr         *AttrDecl `parser:"| 'attr' @@"`
}

// Value is a literal or, in backticks, an expression evaluated at load.
type Value struct {
	Pos lexer.Position

	Expr   *string  `parser:"  @RawString"`
	String *string  `parser:"| @String"`
	Number *string  `parser:"| @Number"`
	Bool   *Boolean `parser:"| @('true' | 'false')"`
	Null   bool     `parser:"| @'null'"`
}

// Boolean captures true/false keywords.
type Boolean bool

// Capture implements participle.Capture.
func (b *Boolean) Capture(values []string) error {
	*b = values[0] == "true"

	return nil
}

var dslLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `//[^\n]*`},
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "RawString", Pattern: "`[^`]*`"},
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
	{Name: "Number", Pattern: `-?\d+(\.\d+)?`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Punct", Pattern: `[{}()\[\],]`},
})

var parser = participle.MustBuild[File](
	participle.Lexer(dslLexer),
	participle.Unquote("RawString", "String"),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(2),
)

// Parse parses a .palm document.
func Parse(filename string, data []byte) (*File, error) {
	return parser.ParseBytes(filename, data)
}
