package translate

import (
	"reflect"

	"github.com/pthm/docql/internal/errs"
	"github.com/pthm/docql/pkg/expr"
	"github.com/pthm/docql/pkg/locator"
	"github.com/pthm/docql/pkg/sqldsl"
)

var (
	intType    = reflect.TypeOf(int64(0))
	stringType = reflect.TypeOf("")
)

// isValueCall reports whether c produces a value rather than a predicate.
func isValueCall(c expr.Call) bool {
	switch c.Shape() {
	case "string.Length", "string.ToLower", "string.ToUpper", "collection.Count":
		return len(c.Args) == 0 && c.Target != nil
	}
	return false
}

// operand resolves a comparison operand: a member, or a value call over one.
// Value calls come back as a locator whose SQL computes the value, so the
// comparison path treats both alike.
func (t *Translator) operand(s *Scope, n expr.Node) (locator.Locator, error) {
	switch n := n.(type) {
	case expr.Member:
		return s.Resolve(n)
	case expr.Call:
		if !isValueCall(n) {
			return locator.Locator{}, errs.Unsupported(n.String(), "not a value expression")
		}
		target, err := t.operand(s, n.Target)
		if err != nil {
			return locator.Locator{}, err
		}
		return valueCall(n, target)
	}
	return locator.Locator{}, errs.Unsupported(n.String(), "not a value expression")
}

func valueCall(c expr.Call, target locator.Locator) (locator.Locator, error) {
	if c.Declaring == expr.DeclCollection {
		count, ok := target.Count()
		if !ok {
			return locator.Locator{}, errs.Mismatch(c.String(), "Count on a "+target.Kind.String()+" member")
		}
		return locator.Locator{
			SQL:    count,
			JSONB:  "to_jsonb(" + count + ")",
			Kind:   locator.Number,
			Type:   intType,
			DBType: "bigint",
			Path:   target.Path,
		}, nil
	}

	if target.Kind != locator.String && !(target.Kind == locator.Enum && target.DBType == "text") {
		return locator.Locator{}, errs.Mismatch(c.String(), "string method on a "+target.Kind.String()+" member")
	}
	out := locator.Locator{
		Type:        stringType,
		Nullability: target.Nullability,
		Path:        target.Path,
	}
	switch c.Method {
	case "Length":
		out.SQL = "length(" + target.SQL + ")"
		out.Kind, out.Type, out.DBType = locator.Number, intType, "integer"
	case "ToLower":
		out.SQL = "lower(" + target.SQL + ")"
		out.Kind, out.DBType = locator.String, "text"
	default:
		out.SQL = "upper(" + target.SQL + ")"
		out.Kind, out.DBType = locator.String, "text"
	}
	out.JSONB = "to_jsonb(" + out.SQL + ")"
	return out, nil
}

// OrderTerm translates one ordering key. Keys must be scalar.
func (t *Translator) OrderTerm(s *Scope, o expr.Ordering) (sqldsl.OrderTerm, error) {
	loc, err := t.operand(s, o.Key)
	if err != nil {
		return sqldsl.OrderTerm{}, err
	}
	if !loc.Kind.IsScalar() {
		return sqldsl.OrderTerm{}, errs.Unsupported(o.Key.String(), "cannot order by a "+loc.Kind.String()+" member")
	}
	return sqldsl.OrderTerm{Expr: sqldsl.Expr(loc.SQL), Descending: o.Direction == expr.Descending}, nil
}

// Value translates a scalar value expression, as used by aggregates.
func (t *Translator) Value(s *Scope, n expr.Node) (locator.Locator, error) {
	loc, err := t.operand(s, n)
	if err != nil {
		return locator.Locator{}, err
	}
	if !loc.Kind.IsScalar() {
		return locator.Locator{}, errs.Unsupported(n.String(), "not a scalar "+loc.Kind.String()+" member")
	}
	return loc, nil
}

// Projection translates a single-value projection into a jsonb expression.
func (t *Translator) Projection(s *Scope, n expr.Node) (sqldsl.Fragment, error) {
	loc, err := t.operand(s, n)
	if err != nil {
		return nil, err
	}
	return sqldsl.Expr(loc.JSONB), nil
}

// Shape translates a multi-field projection into a jsonb object built from
// the named values.
func (t *Translator) Shape(s *Scope, fields []expr.ShapeField) (sqldsl.Fragment, error) {
	if len(fields) == 0 {
		return nil, errs.Unsupported("Select", "empty projection")
	}
	args := make([]sqldsl.Fragment, 0, 2*len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Name == "" || seen[f.Name] {
			return nil, errs.Unsupported(f.Name, "projection field names must be unique and non-empty")
		}
		seen[f.Name] = true
		v, err := t.Projection(s, f.Value)
		if err != nil {
			return nil, err
		}
		args = append(args, sqldsl.Lit(f.Name), v)
	}
	return sqldsl.Func{Name: "jsonb_build_object", Args: args}, nil
}
