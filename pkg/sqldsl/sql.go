package sqldsl

import (
	"strings"
)

// TableExpr is a FROM or JOIN source.
type TableExpr interface {
	Fragment
	// TableAlias returns the alias if any (empty string if none).
	TableAlias() string
}

// TableRef is a named table or CTE.
type TableRef struct {
	Name  string
	Alias string
}

func (t TableRef) Apply(b *Builder) {
	b.Append(t.Name)
	if t.Alias != "" {
		b.Append(" AS ", t.Alias)
	}
}

// TableAlias implements TableExpr.
func (t TableRef) TableAlias() string { return t.Alias }

// TableAs creates a table reference with an alias.
func TableAs(name, alias string) TableRef {
	return TableRef{Name: name, Alias: alias}
}

// FunctionTable is a set-returning function used as a table, with a column
// alias list: fn(...) AS alias(col, ...).
type FunctionTable struct {
	Call    string
	Alias   string
	Columns []string
}

func (f FunctionTable) Apply(b *Builder) {
	b.Append(f.Call)
	if f.Alias != "" {
		b.Append(" AS ", f.Alias)
		if len(f.Columns) > 0 {
			b.Append("(", strings.Join(f.Columns, ", "), ")")
		}
	}
}

// TableAlias implements TableExpr.
func (f FunctionTable) TableAlias() string { return f.Alias }

// Subquery is (query) AS alias.
type Subquery struct {
	Query SelectStmt
	Alias string
}

func (s Subquery) Apply(b *Builder) {
	child := b.Child()
	s.Query.Apply(child)
	b.Append("(\n", IndentLines(child.String(), "    "), "\n) AS ", s.Alias)
}

// TableAlias implements TableExpr.
func (s Subquery) TableAlias() string { return s.Alias }

// JoinClause is a JOIN. A nil On renders without an ON clause, which is how
// CROSS JOIN LATERAL element expansion is written.
type JoinClause struct {
	Type  string // "CROSS JOIN LATERAL", "INNER JOIN", ...
	Table TableExpr
	On    Fragment
}

func (j JoinClause) Apply(b *Builder) {
	b.Append(j.Type, " ")
	j.Table.Apply(b)
	if j.On != nil {
		b.Append(" ON ")
		j.On.Apply(b)
	}
}

// OrderTerm is one ORDER BY key.
type OrderTerm struct {
	Expr       Fragment
	Descending bool
}

func (o OrderTerm) Apply(b *Builder) {
	o.Expr.Apply(b)
	if o.Descending {
		b.Append(" DESC")
	}
}

// SelectStmt is a SELECT query. Limit and Offset are parameters so that
// compiled plans can rebind them.
type SelectStmt struct {
	Distinct bool
	Columns  []Fragment
	From     TableExpr
	Joins    []JoinClause
	Where    Fragment
	GroupBy  []Fragment
	OrderBy  []OrderTerm
	Limit    Fragment
	Offset   Fragment
}

// Apply renders the statement one clause per line.
func (s SelectStmt) Apply(b *Builder) {
	s.render(b, "\n")
}

func (s SelectStmt) render(b *Builder, sep string) {
	b.Append("SELECT ")
	if s.Distinct {
		b.Append("DISTINCT ")
	}
	if len(s.Columns) == 0 {
		b.Append("1")
	}
	for i, c := range s.Columns {
		if i > 0 {
			b.Append(", ")
		}
		c.Apply(b)
	}
	if s.From != nil {
		b.Append(sep, "FROM ")
		s.From.Apply(b)
	}
	for _, j := range s.Joins {
		b.Append(sep)
		j.Apply(b)
	}
	if s.Where != nil {
		b.Append(sep, "WHERE ")
		s.Where.Apply(b)
	}
	if len(s.GroupBy) > 0 {
		b.Append(sep, "GROUP BY ")
		for i, g := range s.GroupBy {
			if i > 0 {
				b.Append(", ")
			}
			g.Apply(b)
		}
	}
	if len(s.OrderBy) > 0 {
		b.Append(sep, "ORDER BY ")
		for i, o := range s.OrderBy {
			if i > 0 {
				b.Append(", ")
			}
			o.Apply(b)
		}
	}
	if s.Limit != nil {
		b.Append(sep, "LIMIT ")
		s.Limit.Apply(b)
	}
	if s.Offset != nil {
		b.Append(sep, "OFFSET ")
		s.Offset.Apply(b)
	}
}

// SQL renders the statement on its own.
func (s SelectStmt) SQL() string {
	sql, _ := Render(s)
	return sql
}
