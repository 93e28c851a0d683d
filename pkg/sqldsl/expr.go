package sqldsl

import (
	"strings"
)

// Expr is trusted SQL text: locator expressions, column references and
// function calls assembled by the compiler. Never put user input in an Expr.
type Expr string

func (e Expr) Apply(b *Builder) { b.Append(string(e)) }

// Col renders table.column.
func Col(table, column string) Expr {
	if table == "" {
		return Expr(column)
	}
	return Expr(table + "." + column)
}

// Lit renders a single-quoted string literal with embedded quotes doubled.
// Only compiler-owned constants (JSON keys, jsonpath text) go through Lit;
// user values are always parameters.
func Lit(s string) Expr {
	return Expr("'" + strings.ReplaceAll(s, "'", "''") + "'")
}

// Bool renders TRUE or FALSE.
type Bool bool

func (v Bool) Apply(b *Builder) {
	if v {
		b.Append("TRUE")
	} else {
		b.Append("FALSE")
	}
}

// Value is one positional parameter.
type Value struct {
	Value     any
	DBType    string
	Cast      bool // render $n::DBType
	Transform func(any) (any, error)
	Source    any // defaults to Value
}

func (v Value) Apply(b *Builder) {
	src := v.Source
	if src == nil {
		src = v.Value
	}
	b.AppendParameter(Parameter{Value: v.Value, DBType: v.DBType, Source: src, Transform: v.Transform}, v.Cast)
}

// Param is shorthand for an uncast parameter.
func Param(value any) Value {
	return Value{Value: value}
}

// Raw is SQL text with ? placeholders, each replaced by the next parameter.
// A literal question mark is written as ??. Callers building a Raw from user
// input check Placeholders against len(Params) first; a placeholder with no
// parameter renders as NULL.
type Raw struct {
	Text   string
	Params []any
}

// Placeholders counts the ? placeholders in Text, not counting ?? escapes.
func (r Raw) Placeholders() int {
	n := 0
	for i := 0; i < len(r.Text); i++ {
		if r.Text[i] != '?' {
			continue
		}
		if i+1 < len(r.Text) && r.Text[i+1] == '?' {
			i++
			continue
		}
		n++
	}
	return n
}

func (r Raw) Apply(b *Builder) {
	next := 0
	text := r.Text
	for {
		i := strings.IndexByte(text, '?')
		if i < 0 {
			b.Append(text)
			return
		}
		b.Append(text[:i])
		if i+1 < len(text) && text[i+1] == '?' {
			b.Append("?")
			text = text[i+2:]
			continue
		}
		if next < len(r.Params) {
			Param(r.Params[next]).Apply(b)
		} else {
			b.Append("NULL")
		}
		next++
		text = text[i+1:]
	}
}

// Compare is a binary comparison.
type Compare struct {
	Left  Fragment
	Op    string // =, <>, <, <=, >, >=
	Right Fragment
}

func (c Compare) Apply(b *Builder) {
	c.Left.Apply(b)
	b.Append(" ", c.Op, " ")
	c.Right.Apply(b)
}

// Eq is left = right.
func Eq(left, right Fragment) Compare { return Compare{Left: left, Op: "=", Right: right} }

// Ne is left <> right.
func Ne(left, right Fragment) Compare { return Compare{Left: left, Op: "<>", Right: right} }

// filterNil removes nil fragments from the slice.
func filterNil(frags []Fragment) []Fragment {
	filtered := make([]Fragment, 0, len(frags))
	for _, f := range frags {
		if f != nil {
			filtered = append(filtered, f)
		}
	}
	return filtered
}

// join renders fragments joined by a separator, wrapped in parentheses if
// more than one.
func join(b *Builder, frags []Fragment, sep, empty string) {
	switch len(frags) {
	case 0:
		b.Append(empty)
	case 1:
		frags[0].Apply(b)
	default:
		b.Append("(")
		for i, f := range frags {
			if i > 0 {
				b.Append(sep)
			}
			f.Apply(b)
		}
		b.Append(")")
	}
}

// AndExpr is a logical AND of its children.
type AndExpr struct {
	Children []Fragment
}

func (a AndExpr) Apply(b *Builder) { join(b, a.Children, " AND ", "TRUE") }

// And creates an AND from its non-nil children. Nested ANDs are flattened.
func And(frags ...Fragment) AndExpr {
	var out []Fragment
	for _, f := range filterNil(frags) {
		if inner, ok := f.(AndExpr); ok {
			out = append(out, inner.Children...)
			continue
		}
		out = append(out, f)
	}
	return AndExpr{Children: out}
}

// OrExpr is a logical OR of its children.
type OrExpr struct {
	Children []Fragment
}

func (o OrExpr) Apply(b *Builder) { join(b, o.Children, " OR ", "FALSE") }

// Or creates an OR from its non-nil children. Nested ORs are flattened.
func Or(frags ...Fragment) OrExpr {
	var out []Fragment
	for _, f := range filterNil(frags) {
		if inner, ok := f.(OrExpr); ok {
			out = append(out, inner.Children...)
			continue
		}
		out = append(out, f)
	}
	return OrExpr{Children: out}
}

// NotExpr is NOT (child).
type NotExpr struct {
	Child Fragment
}

func (n NotExpr) Apply(b *Builder) {
	b.Append("NOT (")
	n.Child.Apply(b)
	b.Append(")")
}

// Not creates a NOT expression.
func Not(f Fragment) NotExpr { return NotExpr{Child: f} }

// NotTrue is the three-valued negation (child) IS NOT TRUE, which also holds
// when child is NULL.
type NotTrue struct {
	Child Fragment
}

func (n NotTrue) Apply(b *Builder) {
	b.Append("(")
	n.Child.Apply(b)
	b.Append(") IS NOT TRUE")
}

// Containment is jsonb containment: loc @> $n::jsonb. Value must already be
// serialized JSON text.
type Containment struct {
	JSONB     string
	Value     any
	Transform func(any) (any, error)
	Source    any
}

func (c Containment) Apply(b *Builder) {
	b.Append(c.JSONB, " @> ")
	Value{Value: c.Value, DBType: "jsonb", Cast: true, Transform: c.Transform, Source: c.Source}.Apply(b)
}

// IsNull is x IS NULL.
type IsNull struct {
	X Fragment
}

func (i IsNull) Apply(b *Builder) {
	i.X.Apply(b)
	b.Append(" IS NULL")
}

// IsNotNull is x IS NOT NULL.
type IsNotNull struct {
	X Fragment
}

func (i IsNotNull) Apply(b *Builder) {
	i.X.Apply(b)
	b.Append(" IS NOT NULL")
}

// Func is a function call.
type Func struct {
	Name string
	Args []Fragment
}

func (f Func) Apply(b *Builder) {
	b.Append(f.Name, "(")
	for i, a := range f.Args {
		if i > 0 {
			b.Append(", ")
		}
		a.Apply(b)
	}
	b.Append(")")
}

// Like is x LIKE pattern, or ILIKE when IgnoreCase is set.
type Like struct {
	X          Fragment
	Pattern    Fragment
	IgnoreCase bool
}

func (l Like) Apply(b *Builder) {
	l.X.Apply(b)
	if l.IgnoreCase {
		b.Append(" ILIKE ")
	} else {
		b.Append(" LIKE ")
	}
	l.Pattern.Apply(b)
}

// AnyOf is x = ANY(array).
type AnyOf struct {
	X     Fragment
	Array Fragment
}

func (a AnyOf) Apply(b *Builder) {
	a.X.Apply(b)
	b.Append(" = ANY(")
	a.Array.Apply(b)
	b.Append(")")
}

// Cast is CAST(x as type).
type Cast struct {
	X    Fragment
	Type string
}

func (c Cast) Apply(b *Builder) {
	b.Append("CAST(")
	c.X.Apply(b)
	b.Append(" as ", c.Type, ")")
}

// RowNumber is row_number() OVER (ORDER BY ...). Without terms every row
// numbers as 1.
type RowNumber struct {
	OrderBy []OrderTerm
}

func (r RowNumber) Apply(b *Builder) {
	if len(r.OrderBy) == 0 {
		b.Append("1")
		return
	}
	b.Append("row_number() OVER (ORDER BY ")
	for i, o := range r.OrderBy {
		if i > 0 {
			b.Append(", ")
		}
		o.Apply(b)
	}
	b.Append(")")
}

// Alias is x AS name.
type Alias struct {
	X    Fragment
	Name string
}

func (a Alias) Apply(b *Builder) {
	a.X.Apply(b)
	b.Append(" AS ", a.Name)
}

// Exists is EXISTS (query), or NOT EXISTS when Negated. The query renders on
// one line.
type Exists struct {
	Query   SelectStmt
	Negated bool
}

func (e Exists) Apply(b *Builder) {
	if e.Negated {
		b.Append("NOT ")
	}
	b.Append("EXISTS (")
	e.Query.render(b, " ")
	b.Append(")")
}

// EscapeLike escapes LIKE wildcards so s matches literally.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
