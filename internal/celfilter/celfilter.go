// Package celfilter parses CEL filter text into query expression trees.
//
// Filters are parsed without macro expansion or type checking, so every call
// is seen as written and member types come from the document's Go type:
//
//	Number > 3 && Tags.exists(t, t.startsWith("a"))
//	Address.City in ["Leeds", "York"]
//	size(Tags) == 2 && Attrs["color"] == "red"
//
// Identifiers are document fields. Inside exists(v, pred) the variable v is
// the element and v.Field reads a member of the element.
package celfilter

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/overloads"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/pthm/docql/pkg/expr"
)

// Error is a filter that does not parse or uses an unsupported construct.
type Error struct {
	Filter string
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("filter %q: %s", e.Filter, e.Msg)
}

// Parse converts filter into a predicate over documents of type doc. doc may
// be nil, in which case size() is always a collection count.
func Parse(filter string, doc reflect.Type) (expr.Node, error) {
	env, err := cel.NewEnv(cel.ClearMacros())
	if err != nil {
		return nil, err
	}
	ast, iss := env.Parse(filter)
	if iss.Err() != nil {
		return nil, &Error{Filter: filter, Msg: iss.Err().Error()}
	}
	parsed, err := cel.AstToParsedExpr(ast)
	if err != nil {
		return nil, &Error{Filter: filter, Msg: err.Error()}
	}
	c := &converter{filter: filter, scope: doc}
	return c.node(parsed.GetExpr())
}

// ParseOrdering reads "Path [asc|desc]".
func ParseOrdering(s string) (expr.Ordering, error) {
	fields := strings.Fields(s)
	switch {
	case len(fields) == 1:
		return expr.Asc(fields[0]), nil
	case len(fields) == 2 && strings.EqualFold(fields[1], "asc"):
		return expr.Asc(fields[0]), nil
	case len(fields) == 2 && strings.EqualFold(fields[1], "desc"):
		return expr.Desc(fields[0]), nil
	}
	return expr.Ordering{}, &Error{Filter: s, Msg: `ordering must be "Path", "Path asc" or "Path desc"`}
}

type converter struct {
	filter  string
	scope   reflect.Type
	iterVar string
}

func (c *converter) fail(format string, args ...any) error {
	return &Error{Filter: c.filter, Msg: fmt.Sprintf(format, args...)}
}

var comparisons = map[string]func(l, r expr.Node) expr.Compare{
	operators.Equals:        expr.Eq,
	operators.NotEquals:     expr.Ne,
	operators.Less:          expr.Lt,
	operators.LessEquals:    expr.Le,
	operators.Greater:       expr.Gt,
	operators.GreaterEquals: expr.Ge,
}

func (c *converter) node(e *exprpb.Expr) (expr.Node, error) {
	switch e.ExprKind.(type) {
	case *exprpb.Expr_ConstExpr:
		return c.constant(e.GetConstExpr())
	case *exprpb.Expr_IdentExpr, *exprpb.Expr_SelectExpr:
		return c.member(e)
	case *exprpb.Expr_ListExpr:
		values, err := c.list(e)
		if err != nil {
			return nil, err
		}
		return expr.Val(values), nil
	case *exprpb.Expr_CallExpr:
		return c.call(e.GetCallExpr())
	}
	return nil, c.fail("unsupported expression %T", e.ExprKind)
}

func (c *converter) constant(k *exprpb.Constant) (expr.Node, error) {
	switch v := k.ConstantKind.(type) {
	case *exprpb.Constant_NullValue:
		return expr.Val(nil), nil
	case *exprpb.Constant_BoolValue:
		return expr.Val(v.BoolValue), nil
	case *exprpb.Constant_Int64Value:
		return expr.Val(v.Int64Value), nil
	case *exprpb.Constant_Uint64Value:
		return expr.Val(v.Uint64Value), nil
	case *exprpb.Constant_DoubleValue:
		return expr.Val(v.DoubleValue), nil
	case *exprpb.Constant_StringValue:
		return expr.Val(v.StringValue), nil
	}
	return nil, c.fail("unsupported constant %T", k.ConstantKind)
}

func (c *converter) member(e *exprpb.Expr) (expr.Member, error) {
	var path []string
	for {
		switch e.ExprKind.(type) {
		case *exprpb.Expr_SelectExpr:
			sel := e.GetSelectExpr()
			if sel.GetTestOnly() {
				return expr.Member{}, c.fail("has() is not supported")
			}
			path = append([]string{sel.GetField()}, path...)
			e = sel.GetOperand()
			continue
		case *exprpb.Expr_IdentExpr:
			name := e.GetIdentExpr().GetName()
			switch {
			case name == "it":
				return expr.Field(path...), nil
			case c.iterVar != "":
				if name != c.iterVar {
					return expr.Member{}, c.fail("%s is not in scope inside %s", name, c.iterVar)
				}
				return expr.Field(path...), nil
			}
			return expr.Field(append([]string{name}, path...)...), nil
		case *exprpb.Expr_CallExpr:
			call := e.GetCallExpr()
			if call.GetFunction() != operators.Index || len(call.GetArgs()) != 2 {
				break
			}
			key, ok := stringConst(call.GetArgs()[1])
			if !ok {
				return expr.Member{}, c.fail("dictionary keys must be string literals")
			}
			path = append([]string{"[" + key + "]"}, path...)
			e = call.GetArgs()[0]
			continue
		}
		return expr.Member{}, c.fail("expected a member, got %T", e.ExprKind)
	}
}

func (c *converter) list(e *exprpb.Expr) ([]any, error) {
	elems := e.GetListExpr().GetElements()
	out := make([]any, 0, len(elems))
	for _, el := range elems {
		n, err := c.node(el)
		if err != nil {
			return nil, err
		}
		k, ok := n.(expr.Constant)
		if !ok {
			return nil, c.fail("list elements must be literals")
		}
		out = append(out, k.Value)
	}
	return out, nil
}

func (c *converter) operands(args []*exprpb.Expr) ([]expr.Node, error) {
	out := make([]expr.Node, len(args))
	for i, a := range args {
		n, err := c.node(a)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func (c *converter) call(call *exprpb.Expr_Call) (expr.Node, error) {
	fn := call.GetFunction()
	if cmp, ok := comparisons[fn]; ok {
		args, err := c.operands(call.GetArgs())
		if err != nil {
			return nil, err
		}
		return cmp(args[0], args[1]), nil
	}

	switch fn {
	case operators.LogicalAnd, operators.LogicalOr:
		args, err := c.operands(call.GetArgs())
		if err != nil {
			return nil, err
		}
		if fn == operators.LogicalAnd {
			return expr.And(args...), nil
		}
		return expr.Or(args...), nil
	case operators.LogicalNot:
		arg, err := c.node(call.GetArgs()[0])
		if err != nil {
			return nil, err
		}
		return expr.Not(arg), nil
	case operators.Negate:
		arg, err := c.node(call.GetArgs()[0])
		if err != nil {
			return nil, err
		}
		return negate(arg, c)
	case operators.Index:
		return c.member(&exprpb.Expr{ExprKind: &exprpb.Expr_CallExpr{CallExpr: call}})
	case operators.In:
		return c.in(call.GetArgs())
	case overloads.Size:
		return c.size(call)
	case overloads.TypeConvertTimestamp:
		s, ok := singleString(call)
		if !ok {
			return nil, c.fail("timestamp() takes a string literal")
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, c.fail("timestamp(%q): %v", s, err)
		}
		return expr.Val(t), nil
	}

	if call.GetTarget() != nil {
		return c.method(call)
	}
	return c.global(call)
}

func negate(n expr.Node, c *converter) (expr.Node, error) {
	k, ok := n.(expr.Constant)
	if !ok {
		return nil, c.fail("only literals can be negated")
	}
	switch v := k.Value.(type) {
	case int64:
		return expr.Val(-v), nil
	case float64:
		return expr.Val(-v), nil
	}
	return nil, c.fail("cannot negate %v", k.Value)
}

// in handles "x in [..]" and "literal in Collection".
func (c *converter) in(args []*exprpb.Expr) (expr.Node, error) {
	lhs, err := c.node(args[0])
	if err != nil {
		return nil, err
	}
	rhs, err := c.node(args[1])
	if err != nil {
		return nil, err
	}
	if m, ok := rhs.(expr.Member); ok {
		k, ok := lhs.(expr.Constant)
		if !ok {
			return nil, c.fail("the left side of in must be a literal when the right side is a member")
		}
		return expr.CollectionContains(m, k.Value), nil
	}
	k, ok := rhs.(expr.Constant)
	if !ok {
		return nil, c.fail("the right side of in must be a list or a member")
	}
	return expr.IsOneOf(lhs, k.Value), nil
}

func (c *converter) size(call *exprpb.Expr_Call) (expr.Node, error) {
	target := call.GetTarget()
	if target == nil {
		if len(call.GetArgs()) != 1 {
			return nil, c.fail("size() takes one argument")
		}
		target = call.GetArgs()[0]
	}
	m, err := c.member(target)
	if err != nil {
		return nil, err
	}
	if t := memberType(c.scope, m.Path); t != nil && t.Kind() == reflect.String {
		return expr.Length(m), nil
	}
	return expr.Count(m), nil
}

func (c *converter) method(call *exprpb.Expr_Call) (expr.Node, error) {
	target, err := c.member(call.GetTarget())
	if err != nil {
		return nil, err
	}
	args := call.GetArgs()
	name := call.GetFunction()

	switch name {
	case overloads.StartsWith, overloads.EndsWith, overloads.Contains, "startsWithIgnoreCase", "endsWithIgnoreCase", "containsIgnoreCase", "equalsIgnoreCase":
		s, ok := singleString(call)
		if !ok {
			return nil, c.fail("%s() takes a string literal", name)
		}
		var mode []expr.Comparison
		if base, ok := strings.CutSuffix(name, "IgnoreCase"); ok {
			name, mode = base, []expr.Comparison{expr.IgnoreCase}
		}
		switch name {
		case overloads.StartsWith:
			return expr.StartsWith(target, s, mode...), nil
		case overloads.EndsWith:
			return expr.EndsWith(target, s, mode...), nil
		case "equals":
			return expr.Equals(target, s, mode...), nil
		}
		if t := memberType(c.scope, target.Path); t != nil && t.Kind() == reflect.Slice {
			return expr.CollectionContains(target, s), nil
		}
		return expr.Contains(target, s, mode...), nil
	case "lowerAscii", "lower":
		return expr.ToLower(target), nil
	case "upperAscii", "upper":
		return expr.ToUpper(target), nil
	case "exists":
		return c.exists(target, args)
	case "isEmpty":
		return expr.IsEmpty(target), nil
	case "containsKey":
		s, ok := singleString(call)
		if !ok {
			return nil, c.fail("containsKey() takes a string literal")
		}
		return expr.ContainsKey(target, s), nil
	case "containsEntry":
		if len(args) != 2 {
			return nil, c.fail("containsEntry() takes a key and a value")
		}
		key, ok := stringConst(args[0])
		if !ok {
			return nil, c.fail("containsEntry() keys must be string literals")
		}
		v, err := c.node(args[1])
		if err != nil {
			return nil, err
		}
		return expr.ContainsEntry(target, key, v), nil
	case "keys":
		return expr.Keys(target), nil
	case "values":
		return expr.Values(target), nil
	}
	return nil, c.fail("unsupported method %s()", name)
}

// exists covers the any() forms: Tags.exists() and Tags.exists(t, pred).
func (c *converter) exists(target expr.Member, args []*exprpb.Expr) (expr.Node, error) {
	if len(args) == 0 {
		return expr.Any(target), nil
	}
	if len(args) != 2 || args[0].GetIdentExpr() == nil {
		return nil, c.fail("exists() takes a variable and a predicate")
	}
	inner := &converter{
		filter:  c.filter,
		scope:   elemType(memberType(c.scope, target.Path)),
		iterVar: args[0].GetIdentExpr().GetName(),
	}
	pred, err := inner.node(args[1])
	if err != nil {
		return nil, err
	}
	return expr.AnyMatch(target, pred), nil
}

func (c *converter) global(call *exprpb.Expr_Call) (expr.Node, error) {
	name := call.GetFunction()
	switch name {
	case "search", "plainSearch", "phraseSearch", "webSearch":
		args := call.GetArgs()
		if len(args) < 1 || len(args) > 2 {
			return nil, c.fail("%s() takes text and an optional config", name)
		}
		var strs []string
		for _, a := range args {
			s, ok := stringConst(a)
			if !ok {
				return nil, c.fail("%s() takes string literals", name)
			}
			strs = append(strs, s)
		}
		switch name {
		case "plainSearch":
			return expr.PlainTextSearch(strs[0], strs[1:]...), nil
		case "phraseSearch":
			return expr.PhraseSearch(strs[0], strs[1:]...), nil
		case "webSearch":
			return expr.WebStyleSearch(strs[0], strs[1:]...), nil
		}
		return expr.Search(strs[0], strs[1:]...), nil
	case "isDeleted":
		return expr.IsDeleted(), nil
	case "maybeDeleted":
		return expr.MaybeDeleted(), nil
	case "anyTenant":
		return expr.AnyTenant(), nil
	case "tenantIn":
		if len(call.GetArgs()) != 1 {
			return nil, c.fail("tenantIn() takes a list")
		}
		values, err := c.list(call.GetArgs()[0])
		if err != nil {
			return nil, err
		}
		tenants := make([]string, len(values))
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				return nil, c.fail("tenantIn() takes string literals")
			}
			tenants[i] = s
		}
		return expr.TenantIsOneOf(tenants...), nil
	case "isNullOrEmpty", "isNullOrWhiteSpace":
		if len(call.GetArgs()) != 1 {
			return nil, c.fail("%s() takes one member", name)
		}
		m, err := c.member(call.GetArgs()[0])
		if err != nil {
			return nil, err
		}
		if name == "isNullOrEmpty" {
			return expr.IsNullOrEmpty(m), nil
		}
		return expr.IsNullOrWhiteSpace(m), nil
	}
	return nil, c.fail("unsupported function %s()", name)
}

func stringConst(e *exprpb.Expr) (string, bool) {
	k := e.GetConstExpr()
	if k == nil {
		return "", false
	}
	s, ok := k.ConstantKind.(*exprpb.Constant_StringValue)
	if !ok {
		return "", false
	}
	return s.StringValue, true
}

func singleString(call *exprpb.Expr_Call) (string, bool) {
	if len(call.GetArgs()) != 1 {
		return "", false
	}
	return stringConst(call.GetArgs()[0])
}

// memberType follows path through t. It returns nil when t is nil or the path
// leaves what reflection can see.
func memberType(t reflect.Type, path []string) reflect.Type {
	for _, seg := range path {
		t = deref(t)
		if t == nil {
			return nil
		}
		switch {
		case t.Kind() == reflect.Map && strings.HasPrefix(seg, "["):
			t = t.Elem()
		case t.Kind() == reflect.Map && seg == "Keys":
			t = reflect.SliceOf(t.Key())
		case t.Kind() == reflect.Map && seg == "Values":
			t = reflect.SliceOf(t.Elem())
		case t.Kind() == reflect.Struct:
			f, ok := t.FieldByName(seg)
			if !ok {
				return nil
			}
			t = f.Type
		default:
			return nil
		}
	}
	return deref(t)
}

func elemType(t reflect.Type) reflect.Type {
	if t == nil || (t.Kind() != reflect.Slice && t.Kind() != reflect.Array) {
		return nil
	}
	return deref(t.Elem())
}

func deref(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
