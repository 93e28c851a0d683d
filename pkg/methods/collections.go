package methods

import (
	"fmt"

	"github.com/pthm/docql/internal/errs"
	"github.com/pthm/docql/pkg/expr"
	"github.com/pthm/docql/pkg/locator"
	"github.com/pthm/docql/pkg/schema"
	"github.com/pthm/docql/pkg/sqldsl"
)

// isOneOf handles member.IsOneOf(values) and values.Contains(member) where
// values is an in-memory slice.
type isOneOf struct{}

func (isOneOf) Matches(call *expr.Call) bool {
	if len(call.Args) != 1 {
		return false
	}
	switch call.Shape() {
	case "value.IsOneOf":
		return isMember(call.Target) && isConstant(call.Args[0])
	case "enumerable.Contains":
		return isConstant(call.Target) && isMember(call.Args[0])
	}
	return false
}

func (isOneOf) Parse(scope Scope, _ Options, call *expr.Call) (sqldsl.Fragment, error) {
	memberNode, valuesNode := call.Target, call.Args[0]
	if call.Declaring == expr.DeclEnumerable {
		memberNode, valuesNode = call.Args[0], call.Target
	}
	loc, err := argMember(scope, call, memberNode)
	if err != nil {
		return nil, err
	}
	if !loc.Kind.IsScalar() {
		return nil, errs.Mismatch(call.String(), "set membership on a "+loc.Kind.String()+" member")
	}
	values := valuesNode.(expr.Constant).Value
	arr, err := loc.ConvertSlice(values)
	if err != nil {
		return nil, errs.Mismatch(call.String(), err.Error())
	}
	return sqldsl.AnyOf{
		X: sqldsl.Expr(loc.SQL),
		Array: sqldsl.Value{
			Value:     arr,
			DBType:    loc.ArrayType(),
			Cast:      true,
			Source:    values,
			Transform: loc.ConvertSlice,
		},
	}, nil
}

func requireCollection(call *expr.Call, loc locator.Locator) (string, error) {
	elements, ok := loc.Elements()
	if !ok {
		return "", errs.Mismatch(call.String(), "collection method on a "+loc.Kind.String()+" member")
	}
	return elements, nil
}

// serializeJSON marshals v to JSON text for a jsonb parameter.
func serializeJSON(s schema.Serializer, v any) (string, error) {
	if s == nil {
		s = schema.NewSerializer(schema.Conventions{})
	}
	data, err := s.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// collectionContains handles collection.Contains(value).
type collectionContains struct{}

func (collectionContains) Matches(call *expr.Call) bool {
	return call.Shape() == "collection.Contains" && isMember(call.Target) &&
		len(call.Args) == 1 && isConstant(call.Args[0])
}

func (collectionContains) Parse(scope Scope, opts Options, call *expr.Call) (sqldsl.Fragment, error) {
	loc, err := targetMember(scope, call)
	if err != nil {
		return nil, err
	}
	elements, err := requireCollection(call, loc)
	if err != nil {
		return nil, err
	}
	v, _ := constArg(call, 0)

	if loc.Axis == locator.KeysAxis {
		key, ok := v.(string)
		if !ok {
			return nil, errs.Mismatch(call.String(), fmt.Sprintf("dictionary keys are strings, got %T", v))
		}
		return sqldsl.Compare{Left: sqldsl.Expr(loc.JSONB), Op: "?", Right: sqldsl.Param(key)}, nil
	}

	alias, es := scope.Element(loc)
	el, err := es.Resolve(expr.It())
	if err != nil {
		return nil, err
	}
	converted, err := el.Convert(v)
	if err != nil {
		return nil, errs.Mismatch(call.String(), err.Error())
	}

	if loc.Axis == locator.ValuesAxis {
		var match sqldsl.Fragment
		if el.Kind.IsScalar() {
			match = sqldsl.Eq(sqldsl.Expr(el.SQL), sqldsl.Value{Value: converted, Source: v, Transform: el.Convert})
		} else {
			js, err := serializeJSON(opts.Serializer, converted)
			if err != nil {
				return nil, errs.Mismatch(call.String(), err.Error())
			}
			match = sqldsl.Eq(sqldsl.Expr(alias+".data"), sqldsl.Value{
				Value: js, DBType: "jsonb", Cast: true, Source: v,
				Transform: func(x any) (any, error) { return serializeJSON(opts.Serializer, x) },
			})
		}
		return sqldsl.Exists{Query: sqldsl.SelectStmt{
			From:  sqldsl.FunctionTable{Call: elements, Alias: alias, Columns: []string{"data"}},
			Where: match,
		}}, nil
	}

	transform := func(x any) (any, error) {
		c, err := el.Convert(x)
		if err != nil {
			return nil, err
		}
		return serializeJSON(opts.Serializer, []any{c})
	}
	js, err := transform(v)
	if err != nil {
		return nil, errs.Mismatch(call.String(), err.Error())
	}
	return sqldsl.Containment{JSONB: loc.JSONB, Value: js, Source: v, Transform: transform}, nil
}

// collectionAny handles collection.Any() and collection.Any(predicate). It
// renders EXISTS over the expanded elements, which is never NULL, so its
// negation is the exact complement.
type collectionAny struct{}

func (collectionAny) Matches(call *expr.Call) bool {
	return call.Shape() == "collection.Any" && isMember(call.Target) && len(call.Args) <= 1
}

func (collectionAny) Parse(scope Scope, _ Options, call *expr.Call) (sqldsl.Fragment, error) {
	loc, err := targetMember(scope, call)
	if err != nil {
		return nil, err
	}
	elements, err := requireCollection(call, loc)
	if err != nil {
		return nil, err
	}
	alias, es := scope.Element(loc)
	var where sqldsl.Fragment
	if len(call.Args) == 1 {
		if where, err = es.Translate(call.Args[0]); err != nil {
			return nil, err
		}
	}
	return sqldsl.Exists{Query: sqldsl.SelectStmt{
		From:  sqldsl.FunctionTable{Call: elements, Alias: alias, Columns: []string{"data"}},
		Where: where,
	}}, nil
}

// collectionEmpty handles collection.IsEmpty(). Null and missing collections
// are empty.
type collectionEmpty struct{}

func (collectionEmpty) Matches(call *expr.Call) bool {
	return call.Shape() == "collection.IsEmpty" && isMember(call.Target) && len(call.Args) == 0
}

func (collectionEmpty) Parse(scope Scope, _ Options, call *expr.Call) (sqldsl.Fragment, error) {
	loc, err := targetMember(scope, call)
	if err != nil {
		return nil, err
	}
	elements, err := requireCollection(call, loc)
	if err != nil {
		return nil, err
	}
	alias, _ := scope.Element(loc)
	return sqldsl.Exists{Negated: true, Query: sqldsl.SelectStmt{
		From: sqldsl.FunctionTable{Call: elements, Alias: alias, Columns: []string{"data"}},
	}}, nil
}

// dictionaryContains handles dictionary.ContainsKey(key) and
// dictionary.ContainsEntry(key, value).
type dictionaryContains struct{}

func (dictionaryContains) Matches(call *expr.Call) bool {
	if call.Declaring != expr.DeclDictionary || !isMember(call.Target) || !allConstants(call.Args) {
		return false
	}
	switch call.Method {
	case "ContainsKey":
		return len(call.Args) == 1
	case "ContainsEntry":
		return len(call.Args) == 2
	}
	return false
}

func (dictionaryContains) Parse(scope Scope, opts Options, call *expr.Call) (sqldsl.Fragment, error) {
	loc, err := targetMember(scope, call)
	if err != nil {
		return nil, err
	}
	if loc.Kind != locator.Dictionary {
		return nil, errs.Mismatch(call.String(), "dictionary method on a "+loc.Kind.String()+" member")
	}
	k, _ := constArg(call, 0)
	key, ok := k.(string)
	if !ok {
		return nil, errs.Mismatch(call.String(), fmt.Sprintf("dictionary keys are strings, got %T", k))
	}
	if call.Method == "ContainsKey" {
		return sqldsl.Compare{Left: sqldsl.Expr(loc.JSONB), Op: "?", Right: sqldsl.Param(key)}, nil
	}

	_, es := scope.Element(loc)
	el, err := es.Resolve(expr.It())
	if err != nil {
		return nil, err
	}
	v, _ := constArg(call, 1)
	transform := func(x any) (any, error) {
		c, err := el.Convert(x)
		if err != nil {
			return nil, err
		}
		return serializeJSON(opts.Serializer, map[string]any{key: c})
	}
	js, err := transform(v)
	if err != nil {
		return nil, errs.Mismatch(call.String(), err.Error())
	}
	return sqldsl.Containment{JSONB: loc.JSONB, Value: js, Source: v, Transform: transform}, nil
}
