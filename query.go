package docql

import (
	"reflect"
	"strconv"

	"github.com/pthm/docql/internal/errs"
	"github.com/pthm/docql/internal/query"
	"github.com/pthm/docql/pkg/expr"
)

// Query is an immutable query against one document type. Every method
// returns a new Query, so a base query can be shared and extended:
//
//	active := docql.From[User]().Where(expr.Eq(expr.Field("Active"), expr.Val(true)))
//	page := active.OrderBy("Name").Skip(20).Take(10)
//	total := active.Count()
//
// Operators apply in call order. Invalid combinations, such as a Where after
// Take, are reported when the query is compiled.
type Query struct {
	model query.Model
	stats *QueryStatistics
	err   error
}

// From starts a query over documents of type T.
func From[T any]() Query {
	return FromType(reflect.TypeFor[T]())
}

// FromType starts a query over documents of type t, for types only known at
// runtime.
func FromType(t reflect.Type) Query {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	q := Query{model: query.Model{DocType: t}}
	if t == nil || t.Kind() != reflect.Struct {
		q.err = errs.Unsupported("From", "document types must be structs")
	}
	return q
}

// DocType returns the queried document type.
func (q Query) DocType() reflect.Type {
	return q.model.DocType
}

func (q Query) with(op query.Op) Query {
	q.model = q.model.With(op)
	return q
}

// Where filters documents. Several Where calls are combined with AND.
func (q Query) Where(pred expr.Node) Query {
	if pred == nil && q.err == nil {
		q.err = errs.Unsupported("Where", "nil predicate")
		return q
	}
	return q.with(query.Op{Kind: query.Where, Predicate: pred})
}

// OrderBy sorts ascending by the member at path, replacing earlier keys.
func (q Query) OrderBy(path ...string) Query {
	return q.Order(expr.Asc(path...))
}

// OrderByDescending sorts descending by the member at path.
func (q Query) OrderByDescending(path ...string) Query {
	return q.Order(expr.Desc(path...))
}

// Order sorts by an arbitrary ordering key, replacing earlier keys.
func (q Query) Order(o expr.Ordering) Query {
	return q.with(query.Op{Kind: query.OrderBy, Ordering: o})
}

// ThenBy adds an ascending secondary key.
func (q Query) ThenBy(path ...string) Query {
	return q.with(query.Op{Kind: query.ThenBy, Ordering: expr.Asc(path...)})
}

// ThenByDescending adds a descending secondary key.
func (q Query) ThenByDescending(path ...string) Query {
	return q.with(query.Op{Kind: query.ThenBy, Ordering: expr.Desc(path...)})
}

// Then adds an arbitrary secondary ordering key.
func (q Query) Then(o expr.Ordering) Query {
	return q.with(query.Op{Kind: query.ThenBy, Ordering: o})
}

// Skip skips n results. Negative values skip nothing.
func (q Query) Skip(n int) Query {
	return q.with(query.Op{Kind: query.Skip, N: n})
}

// Take limits the query to n results. Take(0) matches nothing.
func (q Query) Take(n int) Query {
	return q.with(query.Op{Kind: query.Take, N: n})
}

// SelectMany continues the query over the elements of the collection member
// at path. Later operators see elements instead of documents.
func (q Query) SelectMany(path ...string) Query {
	return q.with(query.Op{Kind: query.SelectMany, Member: expr.Field(path...)})
}

// Select projects the member at path.
func (q Query) Select(path ...string) Query {
	return q.with(query.Op{Kind: query.Select, Member: expr.Field(path...)})
}

// SelectValue projects a value expression, such as a string call.
func (q Query) SelectValue(v expr.Node) Query {
	return q.with(query.Op{Kind: query.Select, Value: v})
}

// SelectShape projects several named values into one JSON object per row.
func (q Query) SelectShape(fields ...expr.ShapeField) Query {
	return q.with(query.Op{Kind: query.Select, Shape: fields})
}

// Distinct removes duplicate rows.
func (q Query) Distinct() Query {
	return q.with(query.Op{Kind: query.Distinct})
}

// Stats asks for the number of rows the query would return without its
// Skip and Take. The execution helpers record it in target, which may be nil
// when the query is only being compiled.
func (q Query) Stats(target *QueryStatistics) Query {
	q.model.Statistics = true
	q.stats = target
	return q
}

// IncludeDeleted lifts the soft-delete filter.
func (q Query) IncludeDeleted() Query {
	q.model.IncludeDeleted = true
	return q
}

// AnyTenant lifts the tenant filter.
func (q Query) AnyTenant() Query {
	q.model.AnyTenant = true
	return q
}

// ForTenant runs the query as tenant instead of the store's session tenant.
func (q Query) ForTenant(tenant string) Query {
	q.model.Tenant = tenant
	return q
}

func (q Query) aggregate(kind query.AggregateKind, value expr.Node) Query {
	return q.with(query.Op{Kind: query.Aggregate, Aggregate: kind, Value: value})
}

// Count ends the query with the number of results.
func (q Query) Count() Query {
	return q.aggregate(query.Count, nil)
}

// Any ends the query with whether it has any result.
func (q Query) Any() Query {
	return q.aggregate(query.Any, nil)
}

// Sum ends the query with the sum of value. A nil value sums the selected
// value.
func (q Query) Sum(value expr.Node) Query {
	return q.aggregate(query.Sum, value)
}

// Min ends the query with the smallest value. A nil value uses the selected
// value.
func (q Query) Min(value expr.Node) Query {
	return q.aggregate(query.Min, value)
}

// Max ends the query with the largest value. A nil value uses the selected
// value.
func (q Query) Max(value expr.Node) Query {
	return q.aggregate(query.Max, value)
}

// Average ends the query with the mean of value. A nil value uses the
// selected value.
func (q Query) Average(value expr.Node) Query {
	return q.aggregate(query.Average, value)
}

// terminal reports the trailing aggregate kind.
func (q Query) terminal() (query.AggregateKind, bool) {
	op, ok := q.model.Terminal()
	return op.Aggregate, ok
}

// String describes the pipeline, for logs and error messages.
func (q Query) String() string {
	name := "<nil>"
	if q.model.DocType != nil {
		name = q.model.DocType.String()
	}
	s := "From[" + name + "]"
	for _, op := range q.model.Ops {
		s += "." + op.Kind.String()
		switch op.Kind {
		case query.Where:
			s += "(" + op.Predicate.String() + ")"
		case query.OrderBy, query.ThenBy:
			s += "(" + op.Ordering.Key.String() + " " + op.Ordering.Direction.String() + ")"
		case query.Skip, query.Take:
			s += "(" + strconv.Itoa(op.N) + ")"
		case query.SelectMany:
			s += "(" + op.Member.String() + ")"
		case query.Aggregate:
			s += "(" + op.Aggregate.String() + ")"
		}
	}
	return s
}
