package statement

import (
	"fmt"

	"github.com/pthm/docql/internal/errs"
	"github.com/pthm/docql/internal/query"
	"github.com/pthm/docql/internal/translate"
	"github.com/pthm/docql/pkg/locator"
	"github.com/pthm/docql/pkg/sqldsl"
)

// ValueColumn is the column a wrapped aggregate reads.
const ValueColumn = "value"

var aggregateFuncs = map[query.AggregateKind]string{
	query.Sum:     "sum",
	query.Min:     "min",
	query.Max:     "max",
	query.Average: "avg",
}

// aggregate finishes sel with a terminal aggregate. Paged or distinct input
// is aggregated from a wrapped select so LIMIT and DISTINCT apply first.
func (b *Builder) aggregate(scope *translate.Scope, sel sqldsl.SelectStmt, p pipeline) (sqldsl.Statement, error) {
	op := p.aggregate
	wrap := p.paged() || p.distinct
	row := sel.Columns[0]

	switch op.Aggregate {
	case query.Any:
		if !p.paged() {
			sel.OrderBy = nil
		}
		return sqldsl.Statement{Select: sel, Outer: sqldsl.OuterExists}, nil

	case query.Count:
		count := sqldsl.Expr("count(*)")
		if wrap {
			return sqldsl.Statement{Select: sel, Outer: sqldsl.OuterWrap, OuterColumns: []sqldsl.Fragment{count}}, nil
		}
		sel.Columns = []sqldsl.Fragment{count}
		sel.OrderBy = nil
		return sqldsl.Statement{Select: sel}, nil
	}

	fn, ok := aggregateFuncs[op.Aggregate]
	if !ok {
		return sqldsl.Statement{}, errs.Unsupported(op.Aggregate.String(), "unknown aggregate")
	}
	node := op.Value
	switch {
	case node != nil && p.projection != nil:
		return sqldsl.Statement{}, errs.Unsupported(op.Aggregate.String(), "aggregate a projection without a selector")
	case node == nil:
		node = p.selected
	}
	if node == nil {
		return sqldsl.Statement{}, errs.Unsupported(op.Aggregate.String(), "needs a value to aggregate")
	}
	loc, err := b.tr.Value(scope, node)
	if err != nil {
		return sqldsl.Statement{}, err
	}
	if err := aggregatable(op.Aggregate, loc); err != nil {
		return sqldsl.Statement{}, err
	}

	value := sqldsl.Expr(loc.SQL)
	if !wrap {
		sel.Columns = []sqldsl.Fragment{sqldsl.Func{Name: fn, Args: []sqldsl.Fragment{value}}}
		sel.OrderBy = nil
		return sqldsl.Statement{Select: sel}, nil
	}

	// Distinct rows are documents unless a projection ran, so the row stays
	// in the select list next to the value it yields.
	keys := []sqldsl.Fragment{value}
	sel.Columns = []sqldsl.Fragment{sqldsl.Alias{X: value, Name: ValueColumn}}
	if p.distinct && p.projection == nil {
		keys = []sqldsl.Fragment{row, value}
		sel.Columns = []sqldsl.Fragment{row, sqldsl.Alias{X: value, Name: ValueColumn}}
	}
	if p.distinct {
		sel.Distinct, sel.GroupBy = false, nil
		if len(p.orderBy) > 0 && p.paged() {
			sel.GroupBy = keys
			sel.OrderBy = groupedOrder(p.orderBy)
		} else {
			sel.Distinct = true
			sel.OrderBy = nil
		}
	}
	return sqldsl.Statement{
		Select:       sel,
		Outer:        sqldsl.OuterWrap,
		OuterColumns: []sqldsl.Fragment{sqldsl.Func{Name: fn, Args: []sqldsl.Fragment{sqldsl.Col(sqldsl.WrapAlias, ValueColumn)}}},
	}, nil
}

func aggregatable(kind query.AggregateKind, loc locator.Locator) error {
	switch kind {
	case query.Sum, query.Average:
		if loc.Kind == locator.Number {
			return nil
		}
	default:
		switch loc.Kind {
		case locator.Number, locator.DateTime, locator.String:
			return nil
		}
	}
	return errs.Mismatch(loc.Member(), fmt.Sprintf("cannot %s a %s member", kind, loc.Kind))
}

func toInt64(v any) (any, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	}
	return nil, fmt.Errorf("paging values must be integers, got %T", v)
}
