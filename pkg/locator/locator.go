// Package locator resolves member-access paths on a document type into the
// PostgreSQL expressions that read them from a jsonb column.
//
// A Locator carries both renditions of a member: SQL, the typed scalar
// expression used in comparisons (with a CAST where the JSON text must be
// converted), and JSONB, the raw jsonb accessor used for containment, key
// existence and array expansion. Intermediate segments compose with -> and
// scalar leaves read text with ->>:
//
//	Inner.Number  ->  CAST(d.data -> 'Inner' ->> 'Number' as bigint)
//
// Resolution is a pure function of its inputs and the resolver's read-only
// configuration, and results are cached.
package locator

import (
	"reflect"
	"strings"
)

// Kind classifies a member's value type.
type Kind int

const (
	String Kind = iota
	Number
	Boolean
	DateTime
	Enum
	UUID
	Dictionary
	ValueCollection
	DocumentCollection
	Document
	RawJSON
)

var kindNames = [...]string{
	"string", "number", "boolean", "datetime", "enum", "uuid",
	"dictionary", "value collection", "document collection", "document", "raw json",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsScalar reports whether the kind has a typed SQL rendition.
func (k Kind) IsScalar() bool {
	return k <= UUID
}

// IsCollection reports whether the kind expands to element rows.
func (k Kind) IsCollection() bool {
	return k == ValueCollection || k == DocumentCollection
}

// Axis is set on collections that are views of a dictionary.
type Axis int

const (
	NoAxis Axis = iota
	KeysAxis
	ValuesAxis
)

// Nullability records why a member may read as SQL NULL.
type Nullability struct {
	SQLNull     bool // the Go type admits nil, so the JSON may hold null
	JSONMissing bool // the key may be absent from the stored JSON
}

// Nullable reports whether the member can evaluate to NULL.
func (n Nullability) Nullable() bool {
	return n.SQLNull || n.JSONMissing
}

// Locator is a resolved member. It is immutable.
type Locator struct {
	SQL          string       // typed expression for comparisons
	JSONB        string       // jsonb accessor
	Kind         Kind         // value classification
	Type         reflect.Type // Go type, pointers removed
	Nullability  Nullability  // null sources along the path
	CastRequired bool         // SQL wraps the text accessor in a CAST
	DBType       string       // PostgreSQL type of SQL
	Element      reflect.Type // element type of collections and dictionaries
	Axis         Axis         // dictionary view, for collections
	Path         []string     // Go member path relative to the root
	Duplicated   bool         // SQL reads a duplicated column
}

// Member returns the dotted member path, "it" for the root itself.
func (l Locator) Member() string {
	if len(l.Path) == 0 {
		return "it"
	}
	return strings.Join(l.Path, ".")
}

// Elements returns a set-returning expression with one jsonb row per element.
// Null, missing and non-container values expand to zero rows.
func (l Locator) Elements() (string, bool) {
	switch {
	case l.Axis == KeysAxis:
		return "jsonb_path_query(" + guardType(l.JSONB, "object") + ", 'strict $.keyvalue().key')", true
	case l.Axis == ValuesAxis:
		return "jsonb_path_query(" + guardType(l.JSONB, "object") + ", 'strict $.*')", true
	case l.Kind.IsCollection():
		return "jsonb_array_elements(" + guardType(l.JSONB, "array") + ")", true
	}
	return "", false
}

// Count returns a bigint expression counting the elements of a collection,
// dictionary or dictionary axis. Null and missing values count zero.
func (l Locator) Count() (string, bool) {
	switch {
	case l.Axis != NoAxis:
		elements, _ := l.Elements()
		return "(SELECT count(*) FROM " + elements + ")", true
	case l.Kind == Dictionary:
		return "(SELECT count(*) FROM jsonb_object_keys(" + guardType(l.JSONB, "object") + "))", true
	case l.Kind.IsCollection():
		return "jsonb_array_length(" + guardType(l.JSONB, "array") + ")", true
	}
	return "", false
}

// ElementRoot is the root for predicates scoped to one element of this
// collection, read from the jsonb expression expr.
func (l Locator) ElementRoot(expr string) Root {
	return Root{Type: l.Element, Expr: expr}
}

func guardType(x, jsonType string) string {
	empty := "'[]'::jsonb"
	if jsonType == "object" {
		empty = "'{}'::jsonb"
	}
	return "CASE WHEN jsonb_typeof(" + x + ") = '" + jsonType + "' THEN " + x + " ELSE " + empty + " END"
}

// Root is the value member paths start from.
type Root struct {
	Type reflect.Type // document or element type
	Expr string       // jsonb expression holding the value
	Base bool         // Expr is the document table's data column
}

// BaseAlias is the alias of the document table in every generated statement.
const BaseAlias = "d"

// BaseRoot is the root for a document read straight from its table.
func BaseRoot(t reflect.Type) Root {
	return Root{Type: t, Expr: BaseAlias + ".data", Base: true}
}

// quoteLiteral renders s as a single-quoted SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
