// Package sqldsl provides the typed building blocks the query compiler renders
// PostgreSQL from.
//
// # Overview
//
// Rather than concatenating SQL strings, compiler stages build a tree of
// Fragments and render it once through a Builder. The Builder numbers
// positional parameters $1..$n in the order they are written, so a statement
// rendered twice from the same tree always produces the same text and the
// same parameter order. User-supplied values never appear in the SQL text;
// every embedded literal becomes a parameter.
//
// # Fragments
//
// Basic fragments:
//
//	Expr("d.data ->> 'Name'")         // trusted SQL text from a locator
//	Param("Foo")                       // $n
//	Value{Value: doc, DBType: "jsonb", Cast: true}  // $n::jsonb
//	Raw{Text: "x = ?", Params: []any{1}}           // x = $n
//	Bool(true)                         // TRUE
//
// Predicates:
//
//	Eq(left, right)                    // left = right
//	Compare{Left: l, Op: "<", Right: r}
//	And(f1, f2, f3)                    // (f1 AND f2 AND f3)
//	Or(f1, f2)                         // (f1 OR f2)
//	Not(f)                             // NOT (f)
//	NotTrue{Child: f}                  // (f) IS NOT TRUE
//	Containment{JSONB: loc, Value: js} // loc @> $n::jsonb
//	Like{X: loc, Pattern: p}           // loc LIKE $n
//	AnyOf{X: loc, Array: p}            // loc = ANY($n)
//	Exists{Query: sub}                 // EXISTS (SELECT ...)
//
// # Statements
//
// A Statement is a chain of CTEs followed by a final SelectStmt:
//
//	Statement{
//	    CTEs: []CTEDef{
//	        {Name: "docql_cte1", Query: groups},
//	        {Name: "docql_cte2", Query: items},
//	    },
//	    Select: final,
//	}
//
// Renders:
//
//	WITH docql_cte1 AS (
//	    <groups>
//	),
//	docql_cte2 AS (
//	    <items>
//	)
//	<final>
//
// Statement.Command renders the text and parameters; Statement.Validate
// checks that every CTE reads only its predecessor.
package sqldsl
