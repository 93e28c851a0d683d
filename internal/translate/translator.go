// Package translate turns expression trees into SQL fragments.
//
// The translator walks the closed node set of pkg/expr. Negation is pushed
// down to the leaves instead of wrapping fragments in NOT, because SQL
// comparisons against a NULL or missing JSON value are neither true nor
// false:
//
//	!Flag              ->  loc = FALSE
//	!(Flag == true)    ->  (loc <> $1 OR loc IS NULL)
//	!(a && b)          ->  !a OR !b
//	!coll.Any(p)       ->  NOT EXISTS (...)
//	!call              ->  (call) IS NOT TRUE
//
// Literal booleans are folded, so the output never carries dead branches.
package translate

import (
	"fmt"

	"github.com/pthm/docql/internal/errs"
	"github.com/pthm/docql/pkg/expr"
	"github.com/pthm/docql/pkg/locator"
	"github.com/pthm/docql/pkg/methods"
	"github.com/pthm/docql/pkg/schema"
	"github.com/pthm/docql/pkg/sqldsl"
)

// Translator translates predicates, ordering keys and projections. It holds
// only read-only configuration and is safe for concurrent use.
type Translator struct {
	resolver *locator.Resolver
	parsers  *methods.Registry
	opts     methods.Options
}

// New creates a translator. A nil opts.Serializer defaults to the JSON
// serializer for the resolver's conventions.
func New(resolver *locator.Resolver, parsers *methods.Registry, opts methods.Options) *Translator {
	if opts.Serializer == nil {
		opts.Serializer = schema.NewSerializer(resolver.Conventions())
	}
	return &Translator{resolver: resolver, parsers: parsers, opts: opts}
}

// Resolver returns the locator resolver the translator reads members with.
func (t *Translator) Resolver() *locator.Resolver {
	return t.resolver
}

// Translate translates pred in scope s.
func (t *Translator) Translate(s *Scope, pred expr.Node) (sqldsl.Fragment, error) {
	return t.translate(s, pred, false)
}

func (t *Translator) translate(s *Scope, n expr.Node, negated bool) (sqldsl.Fragment, error) {
	switch n := n.(type) {
	case expr.Constant:
		b, ok := n.Value.(bool)
		if !ok {
			return nil, errs.Mismatch(n.String(), "constant predicate must be a bool")
		}
		return sqldsl.Bool(b != negated), nil

	case expr.Member:
		loc, err := s.Resolve(n)
		if err != nil {
			return nil, err
		}
		if loc.Kind != locator.Boolean {
			return nil, errs.Mismatch(n.String(), "member used as a predicate must be a bool, got "+loc.Kind.String())
		}
		return sqldsl.Eq(sqldsl.Expr(loc.SQL), sqldsl.Bool(!negated)), nil

	case expr.NotExpr:
		return t.translate(s, n.Operand, !negated)

	case expr.Logical:
		return t.logical(s, n, negated)

	case expr.Compare:
		return t.compare(s, n, negated)

	case expr.Call:
		return t.call(s, n, negated)
	}
	return nil, errs.Unsupported(fmt.Sprintf("%T", n), "unknown node kind")
}

// logical translates AND and OR, applying De Morgan under negation and
// folding literal operands.
func (t *Translator) logical(s *Scope, l expr.Logical, negated bool) (sqldsl.Fragment, error) {
	and := (l.Op == expr.OpAnd) != negated

	frags := make([]sqldsl.Fragment, 0, len(l.Operands))
	for _, o := range l.Operands {
		f, err := t.translate(s, o, negated)
		if err != nil {
			return nil, err
		}
		if b, ok := f.(sqldsl.Bool); ok {
			if bool(b) == and {
				continue // identity element
			}
			return b, nil // absorbing element
		}
		frags = append(frags, f)
	}

	switch len(frags) {
	case 0:
		return sqldsl.Bool(and), nil
	case 1:
		return frags[0], nil
	}
	if and {
		return sqldsl.And(frags...), nil
	}
	return sqldsl.Or(frags...), nil
}

// call translates a method call through the parser registry.
func (t *Translator) call(s *Scope, c expr.Call, negated bool) (sqldsl.Fragment, error) {
	if isValueCall(c) {
		return nil, errs.Unsupported(c.String(), "value expression used as a predicate")
	}
	p, err := t.parsers.Find(&c)
	if err != nil {
		return nil, err
	}
	f, err := p.Parse(s, t.opts, &c)
	if err != nil {
		return nil, err
	}
	if !negated {
		return f, nil
	}
	switch f := f.(type) {
	case sqldsl.Bool:
		return !f, nil
	case sqldsl.Exists:
		// EXISTS is never NULL
		f.Negated = !f.Negated
		return f, nil
	}
	return sqldsl.NotTrue{Child: f}, nil
}

var sqlOps = map[expr.CompareOp]string{
	expr.OpEq: "=",
	expr.OpNe: "<>",
	expr.OpLt: "<",
	expr.OpLe: "<=",
	expr.OpGt: ">",
	expr.OpGe: ">=",
}

// compare translates a binary comparison. Under negation the operator is
// inverted and, where the source semantics treat null as unequal, nullable
// operands are matched explicitly.
func (t *Translator) compare(s *Scope, c expr.Compare, negated bool) (sqldsl.Fragment, error) {
	op := c.Op
	if negated {
		op = op.Negate()
	}
	// null != value holds in memory, so != and negated == include nulls
	includeNull := negated != (c.Op == expr.OpNe)

	left, right := c.Left, c.Right
	_, leftConst := left.(expr.Constant)
	_, rightConst := right.(expr.Constant)
	switch {
	case leftConst && rightConst:
		ok, err := expr.Match(expr.Compare{Op: op, Left: left, Right: right}, nil)
		if err != nil {
			return nil, err
		}
		return sqldsl.Bool(ok), nil
	case leftConst:
		left, right = right, left
		op = op.Mirror()
	}

	lhs, err := t.operand(s, left)
	if err != nil {
		return nil, err
	}

	if k, ok := right.(expr.Constant); ok {
		if k.Value == nil {
			return nullTest(c, lhs, op)
		}
		f, err := t.compareConstant(c, lhs, op, k.Value)
		if err != nil {
			return nil, err
		}
		return withNulls(f, includeNull, lhs), nil
	}

	rhs, err := t.operand(s, right)
	if err != nil {
		return nil, err
	}
	if !locator.Comparable(lhs, rhs) {
		return nil, errs.Mismatch(c.String(), fmt.Sprintf("cannot compare %s with %s", lhs.Kind, rhs.Kind))
	}
	var f sqldsl.Fragment
	if lhs.Kind.IsScalar() {
		f = sqldsl.Compare{Left: sqldsl.Expr(lhs.SQL), Op: sqlOps[op], Right: sqldsl.Expr(rhs.SQL)}
	} else {
		if op != expr.OpEq && op != expr.OpNe {
			return nil, errs.Unsupported(c.String(), "only == and != apply to "+lhs.Kind.String()+" members")
		}
		f = sqldsl.Compare{Left: sqldsl.Expr(lhs.JSONB), Op: sqlOps[op], Right: sqldsl.Expr(rhs.JSONB)}
	}
	return withNulls(f, includeNull, lhs, rhs), nil
}

// compareConstant compares a member with a non-nil constant, which becomes a
// parameter converted to the member's representation.
func (t *Translator) compareConstant(c expr.Compare, loc locator.Locator, op expr.CompareOp, v any) (sqldsl.Fragment, error) {
	if loc.Kind.IsScalar() {
		converted, err := loc.Convert(v)
		if err != nil {
			return nil, errs.Mismatch(c.String(), err.Error())
		}
		return sqldsl.Compare{
			Left:  sqldsl.Expr(loc.SQL),
			Op:    sqlOps[op],
			Right: sqldsl.Value{Value: converted, Source: v, Transform: loc.Convert},
		}, nil
	}

	if op != expr.OpEq && op != expr.OpNe {
		return nil, errs.Unsupported(c.String(), "only == and != apply to "+loc.Kind.String()+" members")
	}
	transform := func(x any) (any, error) {
		data, err := t.opts.Serializer.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
	js, err := transform(v)
	if err != nil {
		return nil, errs.Mismatch(c.String(), err.Error())
	}
	return sqldsl.Compare{
		Left:  sqldsl.Expr(loc.JSONB),
		Op:    sqlOps[op],
		Right: sqldsl.Value{Value: js, DBType: "jsonb", Cast: true, Source: v, Transform: transform},
	}, nil
}

// nullTest renders == nil and != nil.
func nullTest(c expr.Compare, loc locator.Locator, op expr.CompareOp) (sqldsl.Fragment, error) {
	x := sqldsl.Expr(loc.SQL)
	if !loc.Kind.IsScalar() {
		// a JSON null read with -> is not SQL NULL
		x = sqldsl.Expr("jsonb_typeof(" + loc.JSONB + ")")
		switch op {
		case expr.OpEq:
			return sqldsl.Or(sqldsl.IsNull{X: x}, sqldsl.Eq(x, sqldsl.Lit("null"))), nil
		case expr.OpNe:
			return sqldsl.Ne(x, sqldsl.Lit("null")), nil
		}
		return nil, errs.Unsupported(c.String(), "only == and != compare with nil")
	}
	switch op {
	case expr.OpEq:
		return sqldsl.IsNull{X: x}, nil
	case expr.OpNe:
		return sqldsl.IsNotNull{X: x}, nil
	}
	return nil, errs.Unsupported(c.String(), "only == and != compare with nil")
}

// withNulls ORs an IS NULL test for every nullable operand onto f.
func withNulls(f sqldsl.Fragment, include bool, operands ...locator.Locator) sqldsl.Fragment {
	if !include {
		return f
	}
	frags := []sqldsl.Fragment{f}
	for _, loc := range operands {
		if !loc.Nullability.Nullable() {
			continue
		}
		x := loc.SQL
		if !loc.Kind.IsScalar() {
			x = loc.JSONB
		}
		frags = append(frags, sqldsl.IsNull{X: sqldsl.Expr(x)})
	}
	if len(frags) == 1 {
		return f
	}
	return sqldsl.Or(frags...)
}
