package translate_test

import (
	"math"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/docql/internal/errs"
	"github.com/pthm/docql/internal/testdocs"
	"github.com/pthm/docql/internal/translate"
	"github.com/pthm/docql/pkg/expr"
	"github.com/pthm/docql/pkg/locator"
	"github.com/pthm/docql/pkg/methods"
	"github.com/pthm/docql/pkg/schema"
	"github.com/pthm/docql/pkg/sqldsl"
)

const (
	tagsArray   = "jsonb_array_elements(CASE WHEN jsonb_typeof(d.data -> 'Tags') = 'array' THEN d.data -> 'Tags' ELSE '[]'::jsonb END)"
	flag        = "CAST(d.data ->> 'Flag' as boolean)"
	number      = "CAST(d.data ->> 'Number' as bigint)"
	otherName   = "d.data ->> 'other_name'"
	stringField = "d.data ->> 'String'"
)

func newTranslator(conv schema.Conventions, parsers ...methods.Parser) *translate.Translator {
	registry := methods.NewRegistry(nil)
	for _, p := range parsers {
		registry.Add(p)
	}
	return translate.New(locator.NewResolver(testdocs.Registry(), conv), registry, methods.Options{})
}

func targetScope(tr *translate.Translator) *translate.Scope {
	return tr.DocumentScope(methods.Document{Alias: "d", Type: reflect.TypeFor[testdocs.Target]()})
}

func render(t *testing.T, pred expr.Node) (string, []any) {
	t.Helper()
	tr := newTranslator(schema.Conventions{})
	f, err := tr.Translate(targetScope(tr), pred)
	require.NoError(t, err)
	return renderFragment(f)
}

func renderFragment(f sqldsl.Fragment) (string, []any) {
	sql, params := sqldsl.Render(f)
	values := make([]any, len(params))
	for i, p := range params {
		values[i] = p.Value
	}
	return sql, values
}

func TestTranslate_RoundTrip(t *testing.T) {
	sql, params := render(t, expr.And(
		expr.Eq(expr.Field("Number"), expr.Val(1)),
		expr.Eq(expr.Field("String"), expr.Val("Foo")),
	))
	assert.Equal(t, "("+number+" = $1 AND "+stringField+" = $2)", sql)
	assert.Equal(t, []any{int64(1), "Foo"}, params)

	sql, _ = render(t, expr.Or(
		expr.Eq(expr.Field("Number"), expr.Val(1)),
		expr.Eq(expr.Field("String"), expr.Val("Foo")),
	))
	assert.Equal(t, "("+number+" = $1 OR "+stringField+" = $2)", sql)
}

func TestTranslate_Negation(t *testing.T) {
	tests := []struct {
		name string
		pred expr.Node
		want string
	}{
		{
			name: "bare flag",
			pred: expr.Field("Flag"),
			want: flag + " = TRUE",
		},
		{
			name: "negated flag matches only false",
			pred: expr.Not(expr.Field("Flag")),
			want: flag + " = FALSE",
		},
		{
			name: "negated equality includes null",
			pred: expr.Not(expr.Eq(expr.Field("Flag"), expr.Val(true))),
			want: "(" + flag + " <> $1 OR " + flag + " IS NULL)",
		},
		{
			name: "inequality includes null",
			pred: expr.Ne(expr.Field("Flag"), expr.Val(true)),
			want: "(" + flag + " <> $1 OR " + flag + " IS NULL)",
		},
		{
			name: "negated inequality excludes null",
			pred: expr.Not(expr.Ne(expr.Field("Flag"), expr.Val(true))),
			want: flag + " = $1",
		},
		{
			name: "missing key counts as null",
			pred: expr.Ne(expr.Field("OtherName"), expr.Val("x")),
			want: "(" + otherName + " <> $1 OR " + otherName + " IS NULL)",
		},
		{
			name: "negated ordering on a non-null member",
			pred: expr.Not(expr.Lt(expr.Field("Number"), expr.Val(5))),
			want: number + " >= $1",
		},
		{
			name: "double negation",
			pred: expr.Not(expr.Not(expr.Field("Active"))),
			want: "CAST(d.data ->> 'Active' as boolean) = TRUE",
		},
		{
			name: "de morgan",
			pred: expr.Not(expr.And(expr.Field("Active"), expr.Eq(expr.Field("Number"), expr.Val(1)))),
			want: "(CAST(d.data ->> 'Active' as boolean) = FALSE OR " + number + " <> $1)",
		},
		{
			name: "is null",
			pred: expr.IsNull(expr.Field("Flag")),
			want: flag + " IS NULL",
		},
		{
			name: "negated is null",
			pred: expr.Not(expr.IsNull(expr.Field("Flag"))),
			want: flag + " IS NOT NULL",
		},
		{
			name: "document is null",
			pred: expr.IsNull(expr.Field("Address")),
			want: "(jsonb_typeof(d.data -> 'Address') IS NULL OR jsonb_typeof(d.data -> 'Address') = 'null')",
		},
		{
			name: "negated call",
			pred: expr.Not(expr.Contains(expr.Field("String"), "a")),
			want: "(" + stringField + " LIKE $1) IS NOT TRUE",
		},
		{
			name: "negated any",
			pred: expr.Not(expr.Any(expr.Field("Tags"))),
			want: "NOT EXISTS (SELECT 1 FROM " + tagsArray + " AS e1(data))",
		},
		{
			name: "negated is empty",
			pred: expr.Not(expr.IsEmpty(expr.Field("Tags"))),
			want: "EXISTS (SELECT 1 FROM " + tagsArray + " AS e1(data))",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, _ := render(t, tt.pred)
			assert.Equal(t, tt.want, sql)
		})
	}
}

func TestTranslate_ConstantFolding(t *testing.T) {
	x := expr.Eq(expr.Field("Number"), expr.Val(1))
	tests := []struct {
		name string
		pred expr.Node
		want string
	}{
		{"true and x", expr.And(expr.Val(true), x), number + " = $1"},
		{"false and x", expr.And(expr.Val(false), x), "FALSE"},
		{"true or x", expr.Or(expr.Val(true), x), "TRUE"},
		{"false or x", expr.Or(expr.Val(false), x), number + " = $1"},
		{"not true", expr.Not(expr.Val(true)), "FALSE"},
		{"empty and", expr.And(), "TRUE"},
		{"all false or", expr.Or(expr.Val(false), expr.Val(false)), "FALSE"},
		{"equal constants", expr.Eq(expr.Val(1), expr.Val(1)), "TRUE"},
		{"negated equal constants", expr.Not(expr.Eq(expr.Val(1), expr.Val(1))), "FALSE"},
		{"nested", expr.And(x, expr.Or(expr.Val(false), expr.Not(expr.Val(false)))), number + " = $1"},
		{"double negated constant", expr.Not(expr.Not(expr.Val(true))), "TRUE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, _ := render(t, tt.pred)
			assert.Equal(t, tt.want, sql)
		})
	}
}

func TestTranslate_Comparisons(t *testing.T) {
	tests := []struct {
		name   string
		pred   expr.Node
		want   string
		params []any
	}{
		{
			name:   "integral float against an integer member",
			pred:   expr.Eq(expr.Field("Number"), expr.Val(2.0)),
			want:   number + " = $1",
			params: []any{int64(2)},
		},
		{
			name:   "constant on the left is mirrored",
			pred:   expr.Lt(expr.Val(5), expr.Field("Number")),
			want:   number + " > $1",
			params: []any{int64(5)},
		},
		{
			name:   "float member converts integers",
			pred:   expr.Ge(expr.Field("Double"), expr.Val(2)),
			want:   "CAST(d.data ->> 'Double' as double precision) >= $1",
			params: []any{float64(2)},
		},
		{
			name:   "nested member",
			pred:   expr.Eq(expr.Field("Address.City"), expr.Val("Oslo")),
			want:   "d.data -> 'Address' ->> 'city' = $1",
			params: []any{"Oslo"},
		},
		{
			name:   "duplicated column",
			pred:   expr.Eq(expr.Field("Number"), expr.Field("Small")),
			want:   number + " = d.small",
			params: []any{},
		},
		{
			name:   "member against member includes the nullable side",
			pred:   expr.Ne(expr.Field("String"), expr.Field("OtherName")),
			want:   "(" + stringField + " <> " + otherName + " OR " + otherName + " IS NULL)",
			params: []any{},
		},
		{
			name:   "enum as integer",
			pred:   expr.Eq(expr.Field("Color"), expr.Val(testdocs.Blue)),
			want:   "CAST(d.data ->> 'Color' as integer) = $1",
			params: []any{int64(1)},
		},
		{
			name:   "collection equality",
			pred:   expr.Eq(expr.Field("Tags"), expr.Val([]string{"a", "b"})),
			want:   "d.data -> 'Tags' = $1::jsonb",
			params: []any{`["a","b"]`},
		},
		{
			name:   "string length",
			pred:   expr.Gt(expr.Length(expr.Field("String")), expr.Val(3)),
			want:   "length(" + stringField + ") > $1",
			params: []any{int64(3)},
		},
		{
			name:   "lower case",
			pred:   expr.Eq(expr.ToLower(expr.Field("String")), expr.Val("foo")),
			want:   "lower(" + stringField + ") = $1",
			params: []any{"foo"},
		},
		{
			name:   "array count",
			pred:   expr.Eq(expr.Count(expr.Field("Tags")), expr.Val(0)),
			want:   "jsonb_array_length(CASE WHEN jsonb_typeof(d.data -> 'Tags') = 'array' THEN d.data -> 'Tags' ELSE '[]'::jsonb END) = $1",
			params: []any{int64(0)},
		},
		{
			name:   "dictionary count",
			pred:   expr.Gt(expr.Count(expr.Field("Attrs")), expr.Val(1)),
			want:   "(SELECT count(*) FROM jsonb_object_keys(CASE WHEN jsonb_typeof(d.data -> 'Attrs') = 'object' THEN d.data -> 'Attrs' ELSE '{}'::jsonb END)) > $1",
			params: []any{int64(1)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params := render(t, tt.pred)
			assert.Equal(t, tt.want, sql)
			assert.Equal(t, tt.params, params)
		})
	}
}

func TestTranslate_EnumAsString(t *testing.T) {
	tr := newTranslator(schema.Conventions{EnumStorage: schema.AsString})
	for _, v := range []any{testdocs.Blue, "Blue"} {
		f, err := tr.Translate(targetScope(tr), expr.Eq(expr.Field("Color"), expr.Val(v)))
		require.NoError(t, err)
		sql, params := renderFragment(f)
		assert.Equal(t, "d.data ->> 'Color' = $1", sql)
		assert.Equal(t, []any{"Blue"}, params)
	}
}

func TestTranslate_NestedCollections(t *testing.T) {
	sql, params := render(t, expr.AnyMatch(expr.Field("Groups"),
		expr.AnyMatch(expr.Field("Items"), expr.Gt(expr.Field("Price"), expr.Val(10)))))

	assert.Equal(t, "EXISTS (SELECT 1 FROM jsonb_array_elements(CASE WHEN jsonb_typeof(d.data -> 'Groups') = 'array' THEN d.data -> 'Groups' ELSE '[]'::jsonb END) AS e1(data)"+
		" WHERE EXISTS (SELECT 1 FROM jsonb_array_elements(CASE WHEN jsonb_typeof(e1.data -> 'Items') = 'array' THEN e1.data -> 'Items' ELSE '[]'::jsonb END) AS e2(data)"+
		" WHERE CAST(e2.data ->> 'Price' as double precision) > $1))", sql)
	assert.Equal(t, []any{float64(10)}, params)
}

func TestTranslate_ValueElements(t *testing.T) {
	sql, params := render(t, expr.AnyMatch(expr.Field("Tags"), expr.StartsWith(expr.It(), "a")))
	assert.Equal(t, "EXISTS (SELECT 1 FROM "+tagsArray+" AS e1(data) WHERE e1.data #>> '{}' LIKE $1)", sql)
	assert.Equal(t, []any{"a%"}, params)
}

func TestTranslate_Errors(t *testing.T) {
	tests := []struct {
		name string
		pred expr.Node
		kind error
	}{
		{"number against string", expr.Eq(expr.Field("Number"), expr.Val("x")), errs.ErrTypeMismatch},
		{"member kinds differ", expr.Eq(expr.Field("Number"), expr.Field("String")), errs.ErrTypeMismatch},
		{"fractional float against an integer member", expr.Eq(expr.Field("Number"), expr.Val(1.5)), errs.ErrTypeMismatch},
		{"uint64 beyond bigint", expr.Eq(expr.Field("Number"), expr.Val(uint64(math.MaxUint64))), errs.ErrTypeMismatch},
		{"smallint overflow", expr.Gt(expr.Field("Small"), expr.Val(40000)), errs.ErrTypeMismatch},
		{"unknown member", expr.Eq(expr.Field("Nope"), expr.Val(1)), errs.ErrUnsupportedExpression},
		{"non-bool member predicate", expr.Field("Number"), errs.ErrTypeMismatch},
		{"non-bool constant predicate", expr.Val(1), errs.ErrTypeMismatch},
		{"unknown call", expr.NewCall(expr.DeclString, "Frobnicate", expr.Field("String")), errs.ErrUnsupportedExpression},
		{"value call as predicate", expr.Length(expr.Field("String")), errs.ErrUnsupportedExpression},
		{"ordering against nil", expr.Lt(expr.Field("Flag"), expr.Val(nil)), errs.ErrUnsupportedExpression},
		{"ordering a document", expr.Lt(expr.Field("Address"), expr.Val(testdocs.Address{})), errs.ErrUnsupportedExpression},
		{"length of a number", expr.Gt(expr.Length(expr.Field("Number")), expr.Val(1)), errs.ErrTypeMismatch},
		{"count of a string", expr.Gt(expr.Count(expr.Field("String")), expr.Val(1)), errs.ErrTypeMismatch},
		{"marker outside the document", expr.AnyMatch(expr.Field("Tags"), expr.IsDeleted()), errs.ErrUnsupportedExpression},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTranslator(schema.Conventions{})
			_, err := tr.Translate(targetScope(tr), tt.pred)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestTranslate_LiftsStandingFilters(t *testing.T) {
	tr := newTranslator(schema.Conventions{})
	scope := tr.DocumentScope(methods.Document{
		Alias:       "d",
		Type:        reflect.TypeFor[testdocs.Audited](),
		SoftDeleted: true,
		MultiTenant: true,
	})
	assert.Zero(t, scope.Lifted())

	f, err := tr.Translate(scope, expr.And(expr.IsDeleted(), expr.Eq(expr.Field("Name"), expr.Val("x"))))
	require.NoError(t, err)
	sql, _ := renderFragment(f)
	assert.Equal(t, "(d.mt_deleted = TRUE AND d.data ->> 'Name' = $1)", sql)
	assert.Equal(t, methods.IncludeDeleted, scope.Lifted())

	_, err = tr.Translate(scope, expr.TenantIsOneOf("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, methods.IncludeDeleted|methods.AnyTenant, scope.Lifted())
}

type upperContains struct{}

func (upperContains) Matches(call *expr.Call) bool {
	return call.Shape() == "string.Contains"
}

func (upperContains) Parse(s methods.Scope, _ methods.Options, call *expr.Call) (sqldsl.Fragment, error) {
	loc, err := s.Resolve(call.Target.(expr.Member))
	if err != nil {
		return nil, err
	}
	return sqldsl.Compare{
		Left:  sqldsl.Func{Name: "strpos", Args: []sqldsl.Fragment{sqldsl.Expr(loc.SQL), sqldsl.Param(call.Args[0].(expr.Constant).Value)}},
		Op:    ">",
		Right: sqldsl.Expr("0"),
	}, nil
}

func TestTranslate_CustomParserWins(t *testing.T) {
	tr := newTranslator(schema.Conventions{}, upperContains{})
	f, err := tr.Translate(targetScope(tr), expr.Contains(expr.Field("String"), "x"))
	require.NoError(t, err)
	sql, params := renderFragment(f)
	assert.Equal(t, "strpos("+stringField+", $1) > 0", sql)
	assert.Equal(t, []any{"x"}, params)
}

func TestTranslate_OrderingAndProjection(t *testing.T) {
	tr := newTranslator(schema.Conventions{})
	scope := targetScope(tr)

	term, err := tr.OrderTerm(scope, expr.Desc("Number"))
	require.NoError(t, err)
	sql, _ := renderFragment(term)
	assert.Equal(t, number+" DESC", sql)

	_, err = tr.OrderTerm(scope, expr.Asc("Tags"))
	assert.ErrorIs(t, err, errs.ErrUnsupportedExpression)

	shape, err := tr.Shape(scope, expr.Shape(
		expr.As("n", expr.Field("Number")),
		expr.As("city", expr.Field("Address", "City")),
	))
	require.NoError(t, err)
	sql, _ = renderFragment(shape)
	assert.Equal(t, "jsonb_build_object('n', d.data -> 'Number', 'city', d.data -> 'Address' -> 'city')", sql)

	_, err = tr.Shape(scope, expr.Shape(expr.As("n", expr.Field("Number")), expr.As("n", expr.Field("String"))))
	assert.ErrorIs(t, err, errs.ErrUnsupportedExpression)

	v, err := tr.Value(scope, expr.Field("Double"))
	require.NoError(t, err)
	assert.Equal(t, "CAST(d.data ->> 'Double' as double precision)", v.SQL)
}
