package sqldsl

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBrokenCTEChain is returned by Statement.Validate when a CTE reads from
// anything other than its immediate predecessor.
var ErrBrokenCTEChain = errors.New("docql/sqldsl: broken CTE chain")

// CTEDef is one named common table expression.
type CTEDef struct {
	Name  string
	Query SelectStmt
}

func (c CTEDef) Apply(b *Builder) {
	child := b.Child()
	c.Query.Apply(child)
	b.Append(c.Name, " AS (\n", IndentLines(child.String(), "    "), "\n)")
}

// Outer selects how the final SELECT is wrapped.
type Outer int

const (
	// OuterNone renders the final SELECT as is.
	OuterNone Outer = iota
	// OuterWrap renders SELECT <OuterColumns> FROM (<select>) AS q.
	OuterWrap
	// OuterExists renders SELECT EXISTS (<select>).
	OuterExists
	// OuterTotals right-joins the select, as the page, to the row count of the
	// same select without ordering or paging. The select's first column must be
	// named PageColumn and its second OrdColumn.
	OuterTotals
)

// WrapAlias is the alias of the wrapped select under OuterWrap.
const WrapAlias = "q"

// Column and alias names of the OuterTotals shape.
const (
	PageAlias       = "p"
	TotalsAlias     = "t"
	PageColumn      = "data"
	OrdColumn       = "ord"
	TotalRowsColumn = "total_rows"
	InPageColumn    = "in_page"
)

// Statement is a complete query: a chain of CTEs and the final SELECT.
//
// The CTE list is a dependency-ordered chain. The first CTE reads the document
// table, every later CTE reads only its predecessor, and the final SELECT
// reads the last CTE. Validate enforces this.
type Statement struct {
	CTEs         []CTEDef
	Select       SelectStmt
	Outer        Outer
	OuterColumns []Fragment
	Statistics   bool // rendered as OuterTotals: data, total_rows, in_page
}

func (s Statement) Apply(b *Builder) {
	if len(s.CTEs) > 0 {
		b.Append("WITH ")
		for i, c := range s.CTEs {
			if i > 0 {
				b.Append(",\n")
			}
			c.Apply(b)
		}
		b.Append("\n")
	}

	switch s.Outer {
	case OuterExists:
		child := b.Child()
		s.Select.Apply(child)
		b.Append("SELECT EXISTS (\n", IndentLines(child.String(), "    "), "\n)")
	case OuterTotals:
		s.applyTotals(b)
	case OuterWrap:
		SelectStmt{
			Columns: s.OuterColumns,
			From:    Subquery{Query: s.Select, Alias: WrapAlias},
		}.Apply(b)
	default:
		s.Select.Apply(b)
	}
}

// applyTotals renders
//
//	SELECT p.data, t.total_rows, p.ord IS NOT NULL AS in_page
//	FROM (<select>) AS p
//	RIGHT JOIN (SELECT count(*) AS total_rows FROM (<select, unpaged>) AS c) AS t ON TRUE
//	ORDER BY p.ord
//
// An empty page still yields one row, with in_page false, carrying the total.
func (s Statement) applyTotals(b *Builder) {
	all := s.Select
	all.Columns = all.Columns[:1]
	all.OrderBy, all.Limit, all.Offset = nil, nil, nil
	count := SelectStmt{
		Columns: []Fragment{Alias{X: Expr("count(*)"), Name: TotalRowsColumn}},
		From:    Subquery{Query: all, Alias: "c"},
	}
	SelectStmt{
		Columns: []Fragment{
			Col(PageAlias, PageColumn),
			Col(TotalsAlias, TotalRowsColumn),
			Alias{X: Expr(PageAlias + "." + OrdColumn + " IS NOT NULL"), Name: InPageColumn},
		},
		From:    Subquery{Query: s.Select, Alias: PageAlias},
		Joins:   []JoinClause{{Type: "RIGHT JOIN", Table: Subquery{Query: count, Alias: TotalsAlias}, On: Bool(true)}},
		OrderBy: []OrderTerm{{Expr: Col(PageAlias, OrdColumn)}},
	}.Apply(b)
}

// Command renders the statement.
func (s Statement) Command() Command {
	sql, params := Render(s)
	return Command{SQL: sql, Parameters: params}
}

// Validate checks the CTE chain invariant.
func (s Statement) Validate() error {
	names := make(map[string]int, len(s.CTEs))
	for i, c := range s.CTEs {
		if c.Name == "" {
			return fmt.Errorf("%w: CTE %d has no name", ErrBrokenCTEChain, i+1)
		}
		if _, dup := names[c.Name]; dup {
			return fmt.Errorf("%w: duplicate CTE %s", ErrBrokenCTEChain, c.Name)
		}
		names[c.Name] = i
	}

	for i, c := range s.CTEs {
		src, err := sourceName(c.Query)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBrokenCTEChain, c.Name, err)
		}
		if i == 0 {
			if _, isCTE := names[src]; isCTE {
				return fmt.Errorf("%w: %s must read the document table, reads %s", ErrBrokenCTEChain, c.Name, src)
			}
		} else if src != s.CTEs[i-1].Name {
			return fmt.Errorf("%w: %s must read %s, reads %s", ErrBrokenCTEChain, c.Name, s.CTEs[i-1].Name, src)
		}
		if err := noCTEJoins(c.Query, names); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBrokenCTEChain, c.Name, err)
		}
	}

	if len(s.CTEs) > 0 {
		last := s.CTEs[len(s.CTEs)-1].Name
		src, err := sourceName(s.Select)
		if err != nil {
			return fmt.Errorf("%w: final select: %v", ErrBrokenCTEChain, err)
		}
		if src != last {
			return fmt.Errorf("%w: final select must read %s, reads %s", ErrBrokenCTEChain, last, src)
		}
		if err := noCTEJoins(s.Select, names); err != nil {
			return fmt.Errorf("%w: final select: %v", ErrBrokenCTEChain, err)
		}
	}
	return nil
}

func sourceName(q SelectStmt) (string, error) {
	ref, ok := q.From.(TableRef)
	if !ok {
		return "", fmt.Errorf("FROM must be a table reference, got %T", q.From)
	}
	return strings.TrimSpace(ref.Name), nil
}

func noCTEJoins(q SelectStmt, names map[string]int) error {
	for _, j := range q.Joins {
		if ref, ok := j.Table.(TableRef); ok {
			if _, isCTE := names[ref.Name]; isCTE {
				return fmt.Errorf("joins CTE %s", ref.Name)
			}
		}
	}
	return nil
}
