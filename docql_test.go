package docql_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/pthm/docql"
	"github.com/pthm/docql/internal/testdocs"
	"github.com/pthm/docql/pkg/expr"
	"github.com/pthm/docql/pkg/schema"
)

func newStore(t *testing.T, opts ...docql.Option) *docql.Store {
	t.Helper()
	s, err := docql.NewStore(append([]docql.Option{docql.WithMapping(testdocs.Registry())}, opts...)...)
	require.NoError(t, err)
	return s
}

func mockStore(t *testing.T, opts ...docql.Option) (*docql.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newStore(t, append(opts, docql.WithQuerier(db))...), mock
}

func targets() docql.Query {
	return docql.From[testdocs.Target]()
}

type byNumber struct {
	Number int
	Limit  int
}

func (q byNumber) QueryIs() docql.Returns[[]testdocs.Target] {
	return docql.ToList[testdocs.Target](targets().
		Where(expr.Eq(expr.Field("Number"), expr.Val(q.Number))).
		Take(q.Limit))
}

type firstByString struct {
	String string
}

func (q firstByString) QueryIs() docql.Returns[testdocs.Target] {
	return docql.First[testdocs.Target](targets().Where(expr.Eq(expr.Field("String"), expr.Val(q.String))))
}

type singleByString struct {
	String string
}

func (q *singleByString) QueryIs() docql.Returns[testdocs.Target] {
	return docql.Single[testdocs.Target](targets().Where(expr.Eq(expr.Field("String"), expr.Val(q.String))))
}

type countOver struct {
	Minimum int
}

func (q countOver) QueryIs() docql.Returns[int64] {
	return docql.CountOf(targets().Where(expr.Gt(expr.Field("Number"), expr.Val(q.Minimum))))
}

type sumOfDoubles struct{}

func (sumOfDoubles) QueryIs() docql.Returns[float64] {
	return docql.Returning[float64](targets().Sum(expr.Field("Double")))
}

type returnsChan struct{}

func (returnsChan) QueryIs() docql.Returns[chan int] {
	return docql.Returning[chan int](targets().Count())
}

type panicsOnPlanning struct {
	Numbers []int
}

func (q panicsOnPlanning) QueryIs() docql.Returns[[]testdocs.Target] {
	return docql.ToList[testdocs.Target](targets().Where(expr.Eq(expr.Field("Number"), expr.Val(q.Numbers[3]))))
}

func TestNewStore_InvalidMapping(t *testing.T) {
	reg := schema.NewRegistry()
	schema.Register[testdocs.Target](reg, schema.Duplicate("Number", "data", "bigint"))

	_, err := docql.NewStore(docql.WithMapping(reg))
	require.Error(t, err)
	assert.ErrorIs(t, err, docql.ErrInvalidMapping)
}

func TestPreviewCommand(t *testing.T) {
	s := newStore(t)

	cmd, err := s.PreviewCommand(targets().
		Where(expr.Eq(expr.Field("Number"), expr.Val(1))).
		Take(5))
	require.NoError(t, err)
	assert.Equal(t, "SELECT d.data\nFROM mt_doc_target AS d\nWHERE CAST(d.data ->> 'Number' as bigint) = $1\nLIMIT $2", cmd.SQL)
	assert.Equal(t, []any{int64(1), int64(5)}, cmd.Args())
}

func TestPreviewCommand_Tenancy(t *testing.T) {
	s := newStore(t, docql.WithTenant("acme"))
	audited := docql.From[testdocs.Audited]()

	cmd, err := s.PreviewCommand(audited)
	require.NoError(t, err)
	assert.Contains(t, cmd.SQL, "d.mt_deleted = FALSE")
	assert.Contains(t, cmd.SQL, "d.tenant_id = $1")
	assert.Equal(t, []any{"acme"}, cmd.Args())

	cmd, err = s.PreviewCommand(audited.ForTenant("other"))
	require.NoError(t, err)
	assert.Equal(t, []any{"other"}, cmd.Args())

	cmd, err = s.PreviewCommand(audited.AnyTenant().IncludeDeleted())
	require.NoError(t, err)
	assert.NotContains(t, cmd.SQL, "tenant_id")
	assert.NotContains(t, cmd.SQL, "mt_deleted")
	assert.Empty(t, cmd.Args())
}

func TestQuery_Immutable(t *testing.T) {
	s := newStore(t)
	base := targets()
	_ = base.Where(expr.Eq(expr.Field("Number"), expr.Val(1)))
	_ = base.Take(3)

	cmd, err := s.PreviewCommand(base)
	require.NoError(t, err)
	assert.Equal(t, "SELECT d.data\nFROM mt_doc_target AS d", cmd.SQL)
	assert.Equal(t, "From[testdocs.Target]", base.String())
}

func TestQuery_String(t *testing.T) {
	q := targets().
		Where(expr.Eq(expr.Field("Number"), expr.Val(1))).
		OrderByDescending("String").
		Skip(2).
		Count()
	assert.Equal(t, `From[testdocs.Target].Where(Number == 1).OrderBy(String DESC).Skip(2).Aggregate(Count)`, q.String())
}

func TestQuery_Errors(t *testing.T) {
	s := newStore(t)

	tests := []struct {
		name  string
		query docql.Query
		is    func(error) bool
	}{
		{name: "non-struct document", query: docql.From[int](), is: docql.IsUnsupportedExpressionErr},
		{name: "nil predicate", query: targets().Where(nil), is: docql.IsUnsupportedExpressionErr},
		{name: "where after take", query: targets().Take(1).Where(expr.Field("Active")), is: docql.IsUnsupportedExpressionErr},
		{name: "unknown member", query: targets().OrderBy("Missing"), is: docql.IsUnsupportedExpressionErr},
		{name: "constant predicate", query: targets().Where(expr.Val(1)), is: docql.IsTypeMismatchErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.PreviewCommand(tt.query)
			require.Error(t, err)
			assert.True(t, tt.is(err), "unexpected error: %v", err)
		})
	}
}

func TestPlanFor(t *testing.T) {
	s := newStore(t)

	p, err := docql.PlanFor(s, byNumber{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT d.data\nFROM mt_doc_target AS d\nWHERE CAST(d.data ->> 'Number' as bigint) = $1\nLIMIT $2", p.Command().SQL)

	cmd, err := docql.PreviewCompiled(s, byNumber{Number: 7, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, p.Command().SQL, cmd.SQL)
	assert.Equal(t, []any{int64(7), int64(3)}, cmd.Args())

	again, err := docql.PlanFor(s, byNumber{Number: 1})
	require.NoError(t, err)
	assert.Equal(t, p.Command(), again.Command())
	assert.Len(t, s.PlannedKeys(), 1)
}

func TestPlanFor_ConcurrentCallersShareThePlan(t *testing.T) {
	s := newStore(t)

	const workers = 16
	plans := make([]*docql.CompiledPlan[[]testdocs.Target], workers)
	var g errgroup.Group
	for i := range workers {
		g.Go(func() error {
			p, err := docql.PlanFor(s, byNumber{Number: i})
			plans[i] = p
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, p := range plans[1:] {
		assert.Same(t, plans[0], p)
	}
	again, err := docql.PlanFor(s, byNumber{})
	require.NoError(t, err)
	assert.Same(t, plans[0], again)
	assert.Len(t, s.PlannedKeys(), 1)
}

func TestPlanFor_PointerReceiver(t *testing.T) {
	s := newStore(t)

	cmd, err := docql.PreviewCompiled[testdocs.Target](s, &singleByString{String: "x"})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", int64(2)}, cmd.Args())
}

func TestPlanFor_Invalid(t *testing.T) {
	s := newStore(t)

	_, err := docql.PlanFor(s, returnsChan{})
	assert.True(t, docql.IsInvalidCompiledQueryErr(err), "unexpected error: %v", err)

	_, err = docql.PlanFor(s, panicsOnPlanning{})
	assert.True(t, docql.IsInvalidCompiledQueryErr(err), "unexpected error: %v", err)

	_, err = docql.PlanFor(s, docql.CompiledQuery[int64](nil))
	assert.True(t, docql.IsInvalidCompiledQueryErr(err), "unexpected error: %v", err)
	assert.Empty(t, s.PlannedKeys())
}

func TestExecute_List(t *testing.T) {
	s, mock := mockStore(t)
	p, err := docql.PlanFor(s, byNumber{})
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(p.Command().SQL)).
		WithArgs(int64(7), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).
			AddRow([]byte(`{"Number":7,"String":"a","Tags":["x"]}`)).
			AddRow([]byte(`{"Number":7,"String":"b"}`)))

	got, err := docql.Execute(context.Background(), s, byNumber{Number: 7, Limit: 3})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].String)
	assert.Equal(t, []string{"x"}, got[0].Tags)
	assert.Equal(t, "b", got[1].String)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_FirstAndSingle(t *testing.T) {
	s, mock := mockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT d.data`).WithArgs("a", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"Number":3}`)))
	got, err := docql.Execute(ctx, s, firstByString{String: "a"})
	require.NoError(t, err)
	assert.Equal(t, 3, got.Number)

	mock.ExpectQuery(`SELECT d.data`).WithArgs("none", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"data"}))
	_, err = docql.Execute(ctx, s, firstByString{String: "none"})
	assert.True(t, docql.IsNoDocumentsErr(err))

	mock.ExpectQuery(`SELECT d.data`).WithArgs("dup", int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{}`)).AddRow([]byte(`{}`)))
	_, err = docql.Execute[testdocs.Target](ctx, s, &singleByString{String: "dup"})
	assert.ErrorIs(t, err, docql.ErrMultipleDocuments)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_Scalars(t *testing.T) {
	s, mock := mockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT count\(\*\)`).WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))
	n, err := docql.Execute(ctx, s, countOver{Minimum: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	mock.ExpectQuery(`SELECT sum\(`).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(12.5))
	sum, err := docql.Execute(ctx, s, sumOfDoubles{})
	require.NoError(t, err)
	assert.Equal(t, 12.5, sum)

	mock.ExpectQuery(`SELECT sum\(`).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(nil))
	sum, err = docql.Execute(ctx, s, sumOfDoubles{})
	require.NoError(t, err)
	assert.Zero(t, sum)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetch_Statistics(t *testing.T) {
	s, mock := mockStore(t)
	var stats docql.QueryStatistics

	mock.ExpectQuery(regexp.QuoteMeta("SELECT p.data, t.total_rows, p.ord IS NOT NULL AS in_page")).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"data", "total_rows", "in_page"}).
			AddRow([]byte(`{"Number":1}`), int64(42), true).
			AddRow([]byte(`{"Number":2}`), int64(42), true))

	got, err := docql.Fetch[testdocs.Target](context.Background(), s, targets().Take(2).Stats(&stats))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[1].Number)
	assert.Equal(t, int64(42), stats.TotalResults)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetch_StatisticsEmptyPage(t *testing.T) {
	s, mock := mockStore(t)
	var stats docql.QueryStatistics

	mock.ExpectQuery(regexp.QuoteMeta("RIGHT JOIN (")).
		WithArgs(int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"data", "total_rows", "in_page"}).
			AddRow(nil, int64(42), false))

	got, err := docql.Fetch[testdocs.Target](context.Background(), s, targets().OrderBy("Number").Take(0).Stats(&stats))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int64(42), stats.TotalResults)
	require.NoError(t, mock.ExpectationsWereMet())

	cmd, err := s.PreviewCommand(targets().OrderBy("Number").Take(0).Stats(&stats))
	require.NoError(t, err)
	assert.NotContains(t, cmd.SQL, "WHERE FALSE")
	assert.Contains(t, cmd.SQL, "LIMIT $1")
}

func TestFetchRaw_RejectsAggregates(t *testing.T) {
	s, _ := mockStore(t)
	_, err := s.FetchRaw(context.Background(), targets().Count())
	assert.Error(t, err)
}

func TestCountAndAny(t *testing.T) {
	s, mock := mockStore(t)
	ctx := context.Background()
	q := targets().Where(expr.Eq(expr.Field("String"), expr.Val("a")))

	mock.ExpectQuery(`SELECT count\(\*\)`).WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(9)))
	n, err := s.Count(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)

	mock.ExpectQuery(`SELECT EXISTS \(`).WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err := s.Any(ctx, q)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMissingTable(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery(`SELECT count`).
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: `relation "mt_doc_target" does not exist`})
	_, err := s.Count(context.Background(), targets())
	assert.True(t, docql.IsMissingTableErr(err), "unexpected error: %v", err)
}

func TestNoQuerier(t *testing.T) {
	s := newStore(t)
	_, err := s.Count(context.Background(), targets())
	assert.Error(t, err)
	_, err = s.Explain(context.Background(), targets(), docql.DefaultExplainOptions())
	assert.Error(t, err)
}

func TestExplain(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("EXPLAIN (FORMAT JSON) SELECT d.data")).
		WillReturnRows(sqlmock.NewRows([]string{"QUERY PLAN"}).
			AddRow([]byte(`[{"Plan": {"Node Type": "Seq Scan", "Relation Name": "mt_doc_target", "Alias": "d", "Total Cost": 2.5, "Plan Rows": 7, "Plan Width": 32}}]`)))

	plan, err := s.Explain(context.Background(), targets(), docql.DefaultExplainOptions())
	require.NoError(t, err)
	assert.Equal(t, "Seq Scan", plan.NodeType)
	assert.Equal(t, 2.5, plan.TotalCost)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		sentinel error
		is       func(error) bool
	}{
		{docql.ErrUnsupportedMemberKind, docql.IsUnsupportedMemberKindErr},
		{docql.ErrUnsupportedExpression, docql.IsUnsupportedExpressionErr},
		{docql.ErrTypeMismatch, docql.IsTypeMismatchErr},
		{docql.ErrInvalidCompiledQuery, docql.IsInvalidCompiledQueryErr},
		{docql.ErrNotSupportedDirectInvocation, docql.IsNotSupportedDirectInvocationErr},
		{docql.ErrNoDocuments, docql.IsNoDocumentsErr},
		{docql.ErrMissingTable, docql.IsMissingTableErr},
	}
	for _, tt := range tests {
		t.Run(tt.sentinel.Error(), func(t *testing.T) {
			assert.True(t, tt.is(fmt.Errorf("wrapped: %w", tt.sentinel)))
			assert.False(t, tt.is(errors.New("other error")))
		})
	}
}
