package docql

import (
	"fmt"
	"reflect"

	"github.com/pthm/docql/internal/errs"
	"github.com/pthm/docql/internal/plancache"
	"github.com/pthm/docql/pkg/sqldsl"
)

// resultMode is how the rows of a compiled query become its result.
type resultMode int

const (
	resultList resultMode = iota
	resultFirst
	resultSingle
	resultScalar
)

// Returns pairs a query with the way its rows are read into a TOut. Build it
// with ToList, First, Single, CountOf, Exists or Returning.
type Returns[TOut any] struct {
	query Query
	mode  resultMode
}

// Query returns the underlying query.
func (r Returns[TOut]) Query() Query {
	return r.query
}

// CompiledQuery is a reusable query template. The implementing struct's
// exported fields are the query's parameters, and QueryIs builds the query
// from them:
//
//	type OrdersOver struct {
//	    Minimum float64
//	    Limit   int
//	}
//
//	func (q OrdersOver) QueryIs() docql.Returns[[]Order] {
//	    return docql.ToList[Order](docql.From[Order]().
//	        Where(expr.Gt(expr.Field("Total"), expr.Val(q.Minimum))).
//	        OrderByDescending("Total").
//	        Take(q.Limit))
//	}
//
// The template type is planned once per Store. Later executions substitute
// field values into the planned command without translating again, so
// QueryIs must produce the same SQL shape for every field value: fields may
// only flow into query constants, never into control flow.
type CompiledQuery[TOut any] interface {
	QueryIs() Returns[TOut]
}

// ToList returns every result.
func ToList[T any](q Query) Returns[[]T] {
	return Returns[[]T]{query: q, mode: resultList}
}

// First returns the first result, or ErrNoDocuments.
func First[T any](q Query) Returns[T] {
	return Returns[T]{query: q.Take(1), mode: resultFirst}
}

// Single returns the only result. It fails with ErrNoDocuments or
// ErrMultipleDocuments otherwise.
func Single[T any](q Query) Returns[T] {
	return Returns[T]{query: q.Take(2), mode: resultSingle}
}

// CountOf returns the number of results.
func CountOf(q Query) Returns[int64] {
	return Returns[int64]{query: q.Count(), mode: resultScalar}
}

// Exists reports whether the query has any result.
func Exists(q Query) Returns[bool] {
	return Returns[bool]{query: q.Any(), mode: resultScalar}
}

// Returning reads the single value of a query ending in an aggregate, such
// as From[Order]().Sum(expr.Field("Total")).
func Returning[TOut any](q Query) Returns[TOut] {
	if _, ok := q.terminal(); !ok && q.err == nil {
		q.err = errs.InvalidCompiled("Returning", "the query must end with an aggregate")
	}
	return Returns[TOut]{query: q, mode: resultScalar}
}

// CompiledPlan is the cached plan of one template type. PlanFor returns the
// same *CompiledPlan for every call with the same template type and result.
type CompiledPlan[TOut any] struct {
	plan     *plancache.Plan
	template reflect.Type
	result   resultMode
}

// Command returns the planned command with its planning values bound.
func (p *CompiledPlan[TOut]) Command() Command {
	return p.plan.Command
}

// Bind substitutes template's field values into the planned command.
func (p *CompiledPlan[TOut]) Bind(template CompiledQuery[TOut]) (Command, error) {
	v, err := p.value(template)
	if err != nil {
		return Command{}, err
	}
	return p.plan.Bind(v)
}

func (p *CompiledPlan[TOut]) value(template CompiledQuery[TOut]) (reflect.Value, error) {
	v := reflect.Indirect(reflect.ValueOf(template))
	if v.Type() != p.template {
		return reflect.Value{}, errs.InvalidCompiled(v.Type().String(), "planned for "+p.template.String())
	}
	return v, nil
}

func (p *CompiledPlan[TOut]) mode() resultMode {
	return p.result
}

// PlanFor returns the plan for template's type, planning it on first use.
// The template's own field values are not used: planning runs QueryIs on
// sentinel values.
func PlanFor[TOut any](s *Store, template CompiledQuery[TOut]) (*CompiledPlan[TOut], error) {
	out := reflect.TypeFor[TOut]()
	if err := checkResultType(out); err != nil {
		return nil, err
	}
	rv := reflect.ValueOf(template)
	if !rv.IsValid() || (rv.Kind() == reflect.Pointer && rv.IsNil()) {
		return nil, errs.InvalidCompiled("template", "nil compiled query")
	}
	t, byPointer := rv.Type(), false
	if t.Kind() == reflect.Pointer {
		t, byPointer = t.Elem(), true
	}

	key := templateKey(t) + "=>" + out.String()
	plan, err := s.plans.GetOrPlan(key, func() (*plancache.Plan, error) {
		var mode resultMode
		p, err := plancache.Build(t, func(v reflect.Value) (stmt sqldsl.Statement, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errs.InvalidCompiled(t.String(), fmt.Sprintf("QueryIs panicked on planning values: %v", r))
				}
			}()
			iface := v.Interface()
			if byPointer {
				iface = v.Addr().Interface()
			}
			cq, ok := iface.(CompiledQuery[TOut])
			if !ok {
				return sqldsl.Statement{}, errs.InvalidCompiled(t.String(), "QueryIs must be callable on the template value")
			}
			r := cq.QueryIs()
			mode = r.mode
			return s.statement(r.query)
		})
		if err != nil {
			return nil, err
		}
		p.Handle = &CompiledPlan[TOut]{plan: p, template: t, result: mode}
		s.logger.Debug("compiled query planned",
			"template", t.String(),
			"result", out.String(),
			"parameters", len(p.Command.Parameters),
			"slots", len(p.Slots))
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	cp, ok := plan.Handle.(*CompiledPlan[TOut])
	if !ok {
		return nil, errs.InvalidCompiled(t.String(), "cached plan was built for another result type")
	}
	return cp, nil
}

// PreviewCompiled returns the command template's field values produce,
// without executing it.
func PreviewCompiled[TOut any](s *Store, template CompiledQuery[TOut]) (Command, error) {
	p, err := PlanFor(s, template)
	if err != nil {
		return Command{}, err
	}
	return p.Bind(template)
}

// PlannedKeys lists the cached compiled-query plans, in key order.
func (s *Store) PlannedKeys() []string {
	return s.plans.Keys("")
}

func templateKey(t reflect.Type) string {
	if t.Name() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// checkResultType rejects result types no row can be read into.
func checkResultType(t reflect.Type) error {
	for {
		switch t.Kind() {
		case reflect.Chan, reflect.Func, reflect.UnsafePointer:
			return errs.InvalidCompiled(t.String(), "compiled queries cannot return "+t.Kind().String()+" values")
		case reflect.Slice, reflect.Array, reflect.Pointer:
			t = t.Elem()
			continue
		}
		return nil
	}
}
