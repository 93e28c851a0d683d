// Package decompose rewrites element traversals (SelectMany) into a chain of
// common table expressions.
//
// Each traversal depth gets one CTE exposing a single jsonb column named
// data. The first CTE expands the collection from the document table, every
// later CTE expands its predecessor's elements, and the final SELECT reads the
// deepest CTE:
//
//	WITH docql_cte1 AS (
//	    SELECT e.data
//	    FROM mt_doc_target AS d
//	    CROSS JOIN LATERAL jsonb_array_elements(...) AS e(data)
//	    WHERE <document filters> AND <group filters>
//	),
//	docql_cte2 AS (
//	    SELECT e.data
//	    FROM docql_cte1 AS c
//	    CROSS JOIN LATERAL jsonb_array_elements(...) AS e(data)
//	)
//	SELECT c.data
//	FROM docql_cte2 AS c
//
// Collections expand through a type guard, so null, missing and empty arrays
// yield zero rows rather than an error. Filters placed between two traversals
// are evaluated inside the CTE that first exposes their elements, which is
// the shallowest depth at which all of their members resolve.
package decompose

import (
	"fmt"

	"github.com/pthm/docql/internal/errs"
	"github.com/pthm/docql/internal/query"
	"github.com/pthm/docql/internal/translate"
	"github.com/pthm/docql/pkg/locator"
	"github.com/pthm/docql/pkg/sqldsl"
)

// Aliases used inside the chain.
const (
	// ElementAlias is the expanded element inside a CTE.
	ElementAlias = "e"
	// ChainAlias is the previous CTE, and the deepest CTE in the final select.
	ChainAlias = "c"
	// CTEPrefix names the CTEs docql_cte1..n.
	CTEPrefix = "docql_cte"
)

// CTEName returns the name of the CTE at depth (1-based).
func CTEName(depth int) string {
	return fmt.Sprintf("%s%d", CTEPrefix, depth)
}

// Result is a rewritten statement. Statement.Select reads the deepest CTE
// and carries no columns yet; Scope resolves members of its elements.
type Result struct {
	Statement sqldsl.Statement
	Scope     *translate.Scope
	Element   locator.Locator // collection entered by the last traversal
}

// Engine rewrites traversals with a translator.
type Engine struct {
	tr *translate.Translator
}

// New creates an engine.
func New(tr *translate.Translator) *Engine {
	return &Engine{tr: tr}
}

// Rewrite turns base, a select over the document table with the document
// filters in its WHERE, into a CTE chain. segments and traversals come from
// query.Model.Segments; segments before the last traversal may only filter,
// and the last segment is left to the caller.
func (e *Engine) Rewrite(base sqldsl.SelectStmt, doc *translate.Scope, segments [][]query.Op, traversals []query.Op) (Result, error) {
	if len(traversals) == 0 {
		return Result{}, errs.Unsupported("SelectMany", "no traversal to decompose")
	}
	if len(segments) != len(traversals)+1 {
		return Result{}, fmt.Errorf("decompose: %d segments for %d traversals", len(segments), len(traversals))
	}
	for depth, seg := range segments[:len(traversals)] {
		for _, op := range seg {
			if op.Kind != query.Where {
				return Result{}, errs.Unsupported(op.Kind.String(),
					fmt.Sprintf("only Where may precede SelectMany at depth %d", depth))
			}
		}
	}

	var (
		ctes   []sqldsl.CTEDef
		parent = doc
		coll   locator.Locator
	)
	for i, trav := range traversals {
		depth := i + 1
		var err error
		if coll, err = parent.Resolve(trav.Member); err != nil {
			return Result{}, err
		}
		elements, ok := coll.Elements()
		if !ok {
			return Result{}, errs.Mismatch(trav.Member.String(), "SelectMany over a "+coll.Kind.String()+" member")
		}

		q := sqldsl.SelectStmt{
			Columns: []sqldsl.Fragment{sqldsl.Col(ElementAlias, "data")},
			Joins: []sqldsl.JoinClause{{
				Type:  "CROSS JOIN LATERAL",
				Table: sqldsl.FunctionTable{Call: elements, Alias: ElementAlias, Columns: []string{"data"}},
			}},
		}
		var where []sqldsl.Fragment
		if depth == 1 {
			q.From = base.From
			q.Joins = append(append([]sqldsl.JoinClause(nil), base.Joins...), q.Joins...)
			where = append(where, base.Where)
		} else {
			q.From = sqldsl.TableAs(CTEName(depth-1), ChainAlias)
		}

		if depth < len(traversals) {
			inner := e.tr.ElementScope(coll.ElementRoot(ElementAlias + ".data"))
			for _, op := range segments[depth] {
				f, err := inner.Translate(op.Predicate)
				if err != nil {
					return Result{}, err
				}
				where = append(where, f)
			}
		}
		q.Where = Conjoin(where...)

		ctes = append(ctes, sqldsl.CTEDef{Name: CTEName(depth), Query: q})
		parent = e.tr.ElementScope(coll.ElementRoot(ChainAlias + ".data"))
	}

	stmt := sqldsl.Statement{
		CTEs:   ctes,
		Select: sqldsl.SelectStmt{From: sqldsl.TableAs(CTEName(len(ctes)), ChainAlias)},
	}
	if err := stmt.Validate(); err != nil {
		return Result{}, err
	}
	return Result{Statement: stmt, Scope: parent, Element: coll}, nil
}

// Conjoin ANDs filters, dropping nil and TRUE operands. A FALSE operand
// makes the result FALSE; nothing left yields nil.
func Conjoin(frags ...sqldsl.Fragment) sqldsl.Fragment {
	var kept []sqldsl.Fragment
	for _, f := range frags {
		if f == nil {
			continue
		}
		if b, ok := f.(sqldsl.Bool); ok {
			if b {
				continue
			}
			return b
		}
		kept = append(kept, f)
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return sqldsl.And(kept...)
}
