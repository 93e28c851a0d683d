// Package docql compiles typed document queries into PostgreSQL SQL over
// JSONB document tables.
//
// # Storage Model
//
// Every document type lives in its own table with the document body in a
// jsonb column named data. Members can be duplicated into their own typed
// columns, soft-deleted types carry mt_deleted, and multi-tenanted types carry
// tenant_id. The pkg/schema package describes this mapping:
//
//	reg := schema.NewRegistry()
//	schema.Register[Order](reg, schema.Duplicate("CustomerID", "customer_id", "uuid"))
//	schema.Register[Invoice](reg, schema.SoftDeleted(), schema.MultiTenanted())
//
// # Basic Usage
//
// Queries are built from expression trees (package pkg/expr) and compiled by
// a Store:
//
//	store, err := docql.NewStore(docql.WithMapping(reg), docql.WithQuerier(db))
//
//	q := docql.From[Order]().
//	    Where(expr.And(
//	        expr.Gt(expr.Field("Total"), expr.Val(100.0)),
//	        expr.StartsWith(expr.Field("Customer", "Name"), "Ac", expr.IgnoreCase),
//	    )).
//	    OrderByDescending("Total").
//	    Take(10)
//
//	cmd, err := store.PreviewCommand(q) // SQL text and $n parameters
//
// User values never appear in the SQL text; every literal becomes a
// positional parameter.
//
// # Collections
//
// Predicates over collection members compile to EXISTS or containment
// checks, and SelectMany continues the query over the elements:
//
//	docql.From[Order]().
//	    Where(expr.AnyMatch(expr.Field("Lines"), expr.Gt(expr.Field("Quantity"), expr.Val(5)))).
//	    SelectMany("Lines").
//	    Where(expr.Eq(expr.Field("Sku"), expr.Val("A-1")))
//
// # Compiled Queries
//
// A CompiledQuery is a struct whose fields are the parameters of a query.
// Its SQL is planned once per Store and later executions only bind values:
//
//	type ByCustomer struct{ Customer uuid.UUID }
//
//	func (q ByCustomer) QueryIs() docql.Returns[[]Order] {
//	    return docql.ToList[Order](docql.From[Order]().
//	        Where(expr.Eq(expr.Field("CustomerID"), expr.Val(q.Customer))))
//	}
//
//	orders, err := docql.Execute(ctx, store, ByCustomer{Customer: id})
//
// # Diagnostics
//
// Explain runs EXPLAIN through the configured Querier and parses the plan:
//
//	plan, err := store.Explain(ctx, q, docql.DefaultExplainOptions())
//	fmt.Println(plan.Tree())
//
// # Errors
//
// Compile failures wrap one of the sentinel errors (ErrUnsupportedMemberKind,
// ErrUnsupportedExpression, ErrTypeMismatch, ErrInvalidCompiledQuery,
// ErrNotSupportedDirectInvocation). Use the Is*Err helpers to branch on them.
package docql
