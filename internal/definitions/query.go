package definitions

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/pthm/docql"
	"github.com/pthm/docql/internal/celfilter"
	"github.com/pthm/docql/pkg/expr"
)

// Query builds the named query.
func (s *Set) Query(name string) (docql.Query, error) {
	qd, ok := s.queries[name]
	if !ok {
		return docql.Query{}, fmt.Errorf("unknown query %q", name)
	}
	doc := s.types[qd.Document]
	q := docql.FromType(doc)

	if qd.Where != "" {
		pred, err := celfilter.Parse(qd.Where, doc)
		if err != nil {
			return docql.Query{}, fmt.Errorf("query %s: where: %w", name, err)
		}
		q = q.Where(pred)
	}

	scope := doc
	if qd.SelectMany != "" {
		q = q.SelectMany(qd.SelectMany)
		scope = elementType(doc, qd.SelectMany)
	}
	if qd.ElementWhere != "" {
		if qd.SelectMany == "" {
			return docql.Query{}, fmt.Errorf("query %s: element_where needs select_many", name)
		}
		pred, err := celfilter.Parse(qd.ElementWhere, scope)
		if err != nil {
			return docql.Query{}, fmt.Errorf("query %s: element_where: %w", name, err)
		}
		q = q.Where(pred)
	}

	for i, o := range qd.OrderBy {
		ord, err := celfilter.ParseOrdering(o)
		if err != nil {
			return docql.Query{}, fmt.Errorf("query %s: order_by: %w", name, err)
		}
		if i == 0 {
			q = q.Order(ord)
		} else {
			q = q.Then(ord)
		}
	}

	switch {
	case qd.Select != "" && len(qd.Shape) > 0:
		return docql.Query{}, fmt.Errorf("query %s: select and shape are exclusive", name)
	case qd.Select != "":
		q = q.Select(qd.Select)
	case len(qd.Shape) > 0:
		fields := make([]expr.ShapeField, len(qd.Shape))
		for i, f := range qd.Shape {
			fields[i] = expr.As(f.Name, expr.Field(f.Path))
		}
		q = q.SelectShape(fields...)
	}
	if qd.Distinct {
		q = q.Distinct()
	}
	if qd.Skip != 0 {
		q = q.Skip(qd.Skip)
	}
	if qd.Take != nil {
		q = q.Take(*qd.Take)
	}
	if qd.Stats {
		q = q.Stats(nil)
	}
	if qd.IncludeDeleted {
		q = q.IncludeDeleted()
	}
	if qd.AnyTenant {
		q = q.AnyTenant()
	}
	if qd.Tenant != "" {
		q = q.ForTenant(qd.Tenant)
	}

	if a := qd.Aggregate; a != nil {
		var of expr.Node
		if a.Of != "" {
			of = expr.Field(a.Of)
		}
		switch strings.ToLower(a.Kind) {
		case "count":
			q = q.Count()
		case "any":
			q = q.Any()
		case "sum":
			q = q.Sum(of)
		case "min":
			q = q.Min(of)
		case "max":
			q = q.Max(of)
		case "average", "avg":
			q = q.Average(of)
		default:
			return docql.Query{}, fmt.Errorf("query %s: unknown aggregate %q", name, a.Kind)
		}
	}
	return q, nil
}

// elementType follows path from t to a collection and returns its element
// type, or nil when the path does not lead to one.
func elementType(t reflect.Type, path string) reflect.Type {
	for _, seg := range strings.Split(path, ".") {
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t.Kind() != reflect.Struct {
			return nil
		}
		f, ok := t.FieldByName(seg)
		if !ok {
			return nil
		}
		t = f.Type
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Slice && t.Kind() != reflect.Array {
		return nil
	}
	return t.Elem()
}
