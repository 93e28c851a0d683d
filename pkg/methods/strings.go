package methods

import (
	"fmt"

	"github.com/pthm/docql/internal/errs"
	"github.com/pthm/docql/pkg/expr"
	"github.com/pthm/docql/pkg/locator"
	"github.com/pthm/docql/pkg/sqldsl"
)

// targetMember resolves the call's target, which must be a member.
func targetMember(scope Scope, call *expr.Call) (locator.Locator, error) {
	return argMember(scope, call, call.Target)
}

func argMember(scope Scope, call *expr.Call, n expr.Node) (locator.Locator, error) {
	m, ok := n.(expr.Member)
	if !ok {
		return locator.Locator{}, errs.Unsupported(call.String(), "expected a member, got "+nodeKind(n))
	}
	return scope.Resolve(m)
}

// constArg returns the value of argument i, which must be a constant.
func constArg(call *expr.Call, i int) (any, error) {
	if i >= len(call.Args) {
		return nil, errs.Unsupported(call.String(), fmt.Sprintf("missing argument %d", i))
	}
	c, ok := call.Args[i].(expr.Constant)
	if !ok {
		return nil, errs.Unsupported(call.String(), fmt.Sprintf("argument %d must be a constant", i))
	}
	return c.Value, nil
}

func isMember(n expr.Node) bool {
	_, ok := n.(expr.Member)
	return ok
}

func isConstant(n expr.Node) bool {
	_, ok := n.(expr.Constant)
	return ok
}

func allConstants(nodes []expr.Node) bool {
	for _, n := range nodes {
		if !isConstant(n) {
			return false
		}
	}
	return true
}

// ignoreCase reports whether the trailing argument requests a
// case-insensitive comparison.
func ignoreCase(call *expr.Call) bool {
	if len(call.Args) < 2 {
		return false
	}
	c, ok := call.Args[len(call.Args)-1].(expr.Constant)
	if !ok {
		return false
	}
	cmp, ok := c.Value.(expr.Comparison)
	return ok && cmp == expr.IgnoreCase
}

func requireText(call *expr.Call, loc locator.Locator) error {
	if loc.Kind == locator.String || (loc.Kind == locator.Enum && loc.DBType == "text") {
		return nil
	}
	return errs.Mismatch(call.String(), "string method on a "+loc.Kind.String()+" member")
}

// stringMatch handles string Contains, StartsWith, EndsWith and Equals.
type stringMatch struct{}

func (stringMatch) Matches(call *expr.Call) bool {
	if call.Declaring != expr.DeclString || !isMember(call.Target) {
		return false
	}
	switch call.Method {
	case "Contains", "StartsWith", "EndsWith", "Equals":
		return len(call.Args) == 1 || len(call.Args) == 2
	}
	return false
}

func (stringMatch) Parse(scope Scope, _ Options, call *expr.Call) (sqldsl.Fragment, error) {
	loc, err := targetMember(scope, call)
	if err != nil {
		return nil, err
	}
	if err := requireText(call, loc); err != nil {
		return nil, err
	}
	v, err := constArg(call, 0)
	if err != nil {
		return nil, err
	}
	s, ok := v.(string)
	if !ok {
		return nil, errs.Mismatch(call.String(), fmt.Sprintf("expected a string argument, got %T", v))
	}

	ic := ignoreCase(call)
	if call.Method == "Equals" && !ic {
		return sqldsl.Eq(sqldsl.Expr(loc.SQL), sqldsl.Param(s)), nil
	}

	pattern := likePattern(call.Method)
	transform := func(x any) (any, error) {
		s, ok := x.(string)
		if !ok {
			return nil, fmt.Errorf("%s expects a string, got %T", call.Shape(), x)
		}
		return pattern(s), nil
	}
	return sqldsl.Like{
		X:          sqldsl.Expr(loc.SQL),
		Pattern:    sqldsl.Value{Value: pattern(s), Source: s, Transform: transform},
		IgnoreCase: ic,
	}, nil
}

func likePattern(method string) func(string) string {
	switch method {
	case "Contains":
		return func(s string) string { return "%" + sqldsl.EscapeLike(s) + "%" }
	case "StartsWith":
		return func(s string) string { return sqldsl.EscapeLike(s) + "%" }
	case "EndsWith":
		return func(s string) string { return "%" + sqldsl.EscapeLike(s) }
	default:
		return sqldsl.EscapeLike
	}
}

// nullOrEmpty handles the static string.IsNullOrEmpty and
// string.IsNullOrWhiteSpace helpers.
type nullOrEmpty struct{}

func (nullOrEmpty) Matches(call *expr.Call) bool {
	return call.Declaring == expr.DeclString &&
		(call.Method == "IsNullOrEmpty" || call.Method == "IsNullOrWhiteSpace") &&
		call.Target == nil && len(call.Args) == 1 && isMember(call.Args[0])
}

func (nullOrEmpty) Parse(scope Scope, _ Options, call *expr.Call) (sqldsl.Fragment, error) {
	loc, err := argMember(scope, call, call.Args[0])
	if err != nil {
		return nil, err
	}
	if err := requireText(call, loc); err != nil {
		return nil, err
	}
	x := sqldsl.Expr(loc.SQL)
	if call.Method == "IsNullOrEmpty" {
		return sqldsl.Or(sqldsl.IsNull{X: x}, sqldsl.Eq(x, sqldsl.Expr("''"))), nil
	}
	return sqldsl.Or(sqldsl.IsNull{X: x}, sqldsl.Compare{Left: x, Op: "~", Right: sqldsl.Lit(`^\s*$`)}), nil
}
