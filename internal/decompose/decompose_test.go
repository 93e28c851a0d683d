package decompose_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/docql/internal/decompose"
	"github.com/pthm/docql/internal/errs"
	"github.com/pthm/docql/internal/query"
	"github.com/pthm/docql/internal/testdocs"
	"github.com/pthm/docql/internal/translate"
	"github.com/pthm/docql/pkg/expr"
	"github.com/pthm/docql/pkg/locator"
	"github.com/pthm/docql/pkg/methods"
	"github.com/pthm/docql/pkg/schema"
	"github.com/pthm/docql/pkg/sqldsl"
)

func setup(t *testing.T, m query.Model) (*translate.Translator, *translate.Scope, sqldsl.SelectStmt, [][]query.Op, []query.Op) {
	t.Helper()
	tr := translate.New(locator.NewResolver(testdocs.Registry(), schema.Conventions{}), methods.NewRegistry(nil), methods.Options{})
	doc := tr.DocumentScope(methods.Document{Alias: "d", Type: reflect.TypeFor[testdocs.Target]()})
	segments, traversals := m.Segments()

	var where []sqldsl.Fragment
	for _, op := range segments[0] {
		f, err := doc.Translate(op.Predicate)
		require.NoError(t, err)
		where = append(where, f)
	}
	base := sqldsl.SelectStmt{
		From:  sqldsl.TableAs("mt_doc_target", "d"),
		Where: decompose.Conjoin(where...),
	}
	return tr, doc, base, segments, traversals
}

func TestRewrite_TwoLevels(t *testing.T) {
	m := query.Model{}.
		With(query.Op{Kind: query.Where, Predicate: expr.Eq(expr.Field("Number"), expr.Val(1))}).
		With(query.Op{Kind: query.SelectMany, Member: expr.Field("Groups")}).
		With(query.Op{Kind: query.Where, Predicate: expr.Eq(expr.Field("Label"), expr.Val("a"))}).
		With(query.Op{Kind: query.SelectMany, Member: expr.Field("Items")}).
		With(query.Op{Kind: query.OrderBy, Ordering: expr.Asc("Price")})

	tr, doc, base, segments, traversals := setup(t, m)
	res, err := decompose.New(tr).Rewrite(base, doc, segments, traversals)
	require.NoError(t, err)

	stmt := res.Statement
	require.Len(t, stmt.CTEs, 2)
	require.NoError(t, stmt.Validate())

	term, err := tr.OrderTerm(res.Scope, segments[2][0].Ordering)
	require.NoError(t, err)
	stmt.Select.Columns = []sqldsl.Fragment{sqldsl.Col("c", "data")}
	stmt.Select.OrderBy = []sqldsl.OrderTerm{term}

	cmd := stmt.Command()
	want := strings.Join([]string{
		"WITH docql_cte1 AS (",
		"    SELECT e.data",
		"    FROM mt_doc_target AS d",
		"    CROSS JOIN LATERAL jsonb_array_elements(CASE WHEN jsonb_typeof(d.data -> 'Groups') = 'array' THEN d.data -> 'Groups' ELSE '[]'::jsonb END) AS e(data)",
		"    WHERE (CAST(d.data ->> 'Number' as bigint) = $1 AND e.data ->> 'Label' = $2)",
		"),",
		"docql_cte2 AS (",
		"    SELECT e.data",
		"    FROM docql_cte1 AS c",
		"    CROSS JOIN LATERAL jsonb_array_elements(CASE WHEN jsonb_typeof(c.data -> 'Items') = 'array' THEN c.data -> 'Items' ELSE '[]'::jsonb END) AS e(data)",
		")",
		"SELECT c.data",
		"FROM docql_cte2 AS c",
		"ORDER BY CAST(c.data ->> 'Price' as double precision)",
	}, "\n")
	assert.Equal(t, want, cmd.SQL)
	assert.Equal(t, []any{int64(1), "a"}, cmd.Args())

	// the second CTE never reads the document table
	second := stmt.CTEs[1].Query.SQL()
	assert.NotContains(t, second, "mt_doc_target")
	assert.NotContains(t, second, "d.data")
	assert.Equal(t, reflect.TypeFor[testdocs.Item](), res.Scope.Root().Type)
}

func TestRewrite_ValueCollection(t *testing.T) {
	m := query.Model{}.
		With(query.Op{Kind: query.SelectMany, Member: expr.Field("Tags")})

	tr, doc, base, segments, traversals := setup(t, m)
	res, err := decompose.New(tr).Rewrite(base, doc, segments, traversals)
	require.NoError(t, err)
	require.Len(t, res.Statement.CTEs, 1)
	assert.Nil(t, res.Statement.CTEs[0].Query.Where)

	loc, err := res.Scope.Resolve(expr.It())
	require.NoError(t, err)
	assert.Equal(t, "c.data #>> '{}'", loc.SQL)
}

func TestRewrite_DictionaryAxis(t *testing.T) {
	m := query.Model{}.
		With(query.Op{Kind: query.SelectMany, Member: expr.Keys(expr.Field("Attrs"))})

	tr, doc, base, segments, traversals := setup(t, m)
	res, err := decompose.New(tr).Rewrite(base, doc, segments, traversals)
	require.NoError(t, err)
	assert.Contains(t, res.Statement.CTEs[0].Query.SQL(), "jsonb_path_query(CASE WHEN jsonb_typeof(d.data -> 'Attrs') = 'object'")
}

func TestRewrite_Errors(t *testing.T) {
	tests := []struct {
		name  string
		model query.Model
		kind  error
	}{
		{
			name: "not a collection",
			model: query.Model{}.
				With(query.Op{Kind: query.SelectMany, Member: expr.Field("String")}),
			kind: errs.ErrTypeMismatch,
		},
		{
			name: "paging before traversal",
			model: query.Model{}.
				With(query.Op{Kind: query.Take, N: 1}).
				With(query.Op{Kind: query.SelectMany, Member: expr.Field("Tags")}),
			kind: errs.ErrUnsupportedExpression,
		},
		{
			name: "bad filter between traversals",
			model: query.Model{}.
				With(query.Op{Kind: query.SelectMany, Member: expr.Field("Groups")}).
				With(query.Op{Kind: query.Where, Predicate: expr.Eq(expr.Field("Label"), expr.Val(1))}).
				With(query.Op{Kind: query.SelectMany, Member: expr.Field("Items")}),
			kind: errs.ErrTypeMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segments, traversals := tt.model.Segments()
			tr := translate.New(locator.NewResolver(testdocs.Registry(), schema.Conventions{}), methods.NewRegistry(nil), methods.Options{})
			doc := tr.DocumentScope(methods.Document{Alias: "d", Type: reflect.TypeFor[testdocs.Target]()})
			base := sqldsl.SelectStmt{From: sqldsl.TableAs("mt_doc_target", "d")}
			_, err := decompose.New(tr).Rewrite(base, doc, segments, traversals)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestConjoin(t *testing.T) {
	x := sqldsl.Expr("x")
	assert.Nil(t, decompose.Conjoin())
	assert.Nil(t, decompose.Conjoin(nil, sqldsl.Bool(true)))
	assert.Equal(t, x, decompose.Conjoin(sqldsl.Bool(true), x))
	assert.Equal(t, sqldsl.Bool(false), decompose.Conjoin(x, sqldsl.Bool(false)))
	sql, _ := sqldsl.Render(decompose.Conjoin(x, sqldsl.Expr("y")))
	assert.Equal(t, "(x AND y)", sql)
}
