// Package statement assembles complete statements from a query model: the
// document filters, standing filters, element traversals, ordering, paging,
// projection and terminal aggregate.
package statement

import (
	"log/slog"

	"github.com/pthm/docql/internal/decompose"
	"github.com/pthm/docql/internal/errs"
	"github.com/pthm/docql/internal/query"
	"github.com/pthm/docql/internal/translate"
	"github.com/pthm/docql/pkg/expr"
	"github.com/pthm/docql/pkg/locator"
	"github.com/pthm/docql/pkg/methods"
	"github.com/pthm/docql/pkg/schema"
	"github.com/pthm/docql/pkg/sqldsl"
)

// DefaultTenant is the tenant id of sessions that name none.
const DefaultTenant = "*DEFAULT*"

// Builder builds statements. It is safe for concurrent use.
type Builder struct {
	tr      *translate.Translator
	decomp  *decompose.Engine
	mapping schema.Mapping
	logger  *slog.Logger
}

// New creates a builder.
func New(tr *translate.Translator, mapping schema.Mapping, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{tr: tr, decomp: decompose.New(tr), mapping: mapping, logger: logger}
}

// Build compiles m into a validated statement.
func (b *Builder) Build(m query.Model) (sqldsl.Statement, error) {
	if m.DocType == nil {
		return sqldsl.Statement{}, errs.Unsupported("query", "no document type")
	}
	doc := methods.Document{
		Alias:       locator.BaseAlias,
		Type:        m.DocType,
		SoftDeleted: b.mapping.SoftDeleted(m.DocType),
		MultiTenant: b.mapping.MultiTenant(m.DocType),
	}
	scope := b.tr.DocumentScope(doc)
	segments, traversals := m.Segments()
	table := sqldsl.TableAs(b.mapping.TableFor(m.DocType), locator.BaseAlias)

	var stmt sqldsl.Statement
	if len(traversals) == 0 {
		stmt.Select.From = table
		sel, err := b.finish(scope, stmt.Select, sqldsl.Col(locator.BaseAlias, schema.ColumnData), segments[0], m, func() []sqldsl.Fragment {
			return standing(doc, m, scope.Lifted())
		})
		if err != nil {
			return sqldsl.Statement{}, err
		}
		stmt = sel
	} else {
		var where []sqldsl.Fragment
		for _, op := range segments[0] {
			if op.Kind != query.Where {
				continue // rejected by Rewrite
			}
			f, err := scope.Translate(op.Predicate)
			if err != nil {
				return sqldsl.Statement{}, err
			}
			where = append(where, f)
		}
		where = append(where, standing(doc, m, scope.Lifted())...)

		base := sqldsl.SelectStmt{From: table, Where: decompose.Conjoin(where...)}
		res, err := b.decomp.Rewrite(base, scope, segments, traversals)
		if err != nil {
			return sqldsl.Statement{}, err
		}
		sel, err := b.finish(res.Scope, res.Statement.Select, sqldsl.Col(decompose.ChainAlias, "data"), segments[len(segments)-1], m, nil)
		if err != nil {
			return sqldsl.Statement{}, err
		}
		sel.CTEs = res.Statement.CTEs
		stmt = sel
	}

	if err := stmt.Validate(); err != nil {
		return sqldsl.Statement{}, err
	}
	b.logger.Debug("statement built",
		"document", m.DocType.String(),
		"ctes", len(stmt.CTEs),
		"outer", int(stmt.Outer),
		"statistics", stmt.Statistics)
	return stmt, nil
}

// standing returns the filters every query against doc carries unless the
// model or a marker predicate lifted them.
func standing(doc methods.Document, m query.Model, lifted methods.Override) []sqldsl.Fragment {
	var out []sqldsl.Fragment
	if doc.SoftDeleted && !m.IncludeDeleted && lifted&methods.IncludeDeleted == 0 {
		out = append(out, sqldsl.Eq(sqldsl.Col(doc.Alias, schema.ColumnDeleted), sqldsl.Bool(false)))
	}
	if doc.MultiTenant && !m.AnyTenant && lifted&methods.AnyTenant == 0 {
		tenant := m.Tenant
		if tenant == "" {
			tenant = DefaultTenant
		}
		out = append(out, sqldsl.Eq(sqldsl.Col(doc.Alias, schema.ColumnTenantID), sqldsl.Param(tenant)))
	}
	return out
}

// pipeline is the state of the operators applied in the final select.
type pipeline struct {
	where      []sqldsl.Fragment
	orderBy    []sqldsl.OrderTerm
	skip       int
	take       int // -1 when unlimited
	projection sqldsl.Fragment
	selected   expr.Node
	distinct   bool
	aggregate  *query.Op
}

func (p *pipeline) paged() bool {
	return p.skip > 0 || p.take >= 0
}

// finish applies the trailing operators to sel. extra supplies filters that
// must be computed after the user predicates are translated.
func (b *Builder) finish(scope *translate.Scope, sel sqldsl.SelectStmt, row sqldsl.Fragment, ops []query.Op, m query.Model, extra func() []sqldsl.Fragment) (sqldsl.Statement, error) {
	p := pipeline{take: -1}
	for i, op := range ops {
		if p.aggregate != nil {
			return sqldsl.Statement{}, errs.Unsupported(op.Kind.String(), "nothing may follow "+p.aggregate.Aggregate.String())
		}
		if err := b.apply(scope, &p, op, i == len(ops)-1); err != nil {
			return sqldsl.Statement{}, err
		}
	}

	where := p.where
	if extra != nil {
		where = append(where, extra()...)
	}
	sel.Where = decompose.Conjoin(where...)

	// The total of an empty page still needs the unpaged filter.
	if p.take == 0 && !(m.Statistics && p.aggregate == nil) {
		sel.Where = sqldsl.Bool(false)
		p.skip, p.take = 0, -1
	}

	columns := []sqldsl.Fragment{row}
	if p.projection != nil {
		columns = []sqldsl.Fragment{p.projection}
	}
	sel.Columns = columns
	sel.OrderBy = p.orderBy

	stmt := sqldsl.Statement{}
	if p.distinct {
		if len(p.orderBy) > 0 {
			// DISTINCT rejects ORDER BY keys outside the select list
			sel.GroupBy = columns
			sel.OrderBy = groupedOrder(p.orderBy)
		} else {
			sel.Distinct = true
		}
	}
	if p.paged() {
		if p.take >= 0 {
			sel.Limit = pagingParam(p.take)
		}
		if p.skip > 0 {
			sel.Offset = pagingParam(p.skip)
		}
	}

	if p.aggregate != nil {
		return b.aggregate(scope, sel, p)
	}

	if m.Statistics {
		sel.Columns = []sqldsl.Fragment{
			sqldsl.Alias{X: sel.Columns[0], Name: sqldsl.PageColumn},
			sqldsl.Alias{X: sqldsl.RowNumber{OrderBy: sel.OrderBy}, Name: sqldsl.OrdColumn},
		}
		stmt.Outer = sqldsl.OuterTotals
		stmt.Statistics = true
	}
	stmt.Select = sel
	return stmt, nil
}

func (b *Builder) apply(scope *translate.Scope, p *pipeline, op query.Op, last bool) error {
	switch op.Kind {
	case query.Where:
		if p.paged() || p.projection != nil || p.distinct {
			return errs.Unsupported("Where", "filters must precede Skip, Take, Select and Distinct")
		}
		f, err := scope.Translate(op.Predicate)
		if err != nil {
			return err
		}
		p.where = append(p.where, f)

	case query.OrderBy, query.ThenBy:
		if p.paged() || p.projection != nil {
			return errs.Unsupported(op.Kind.String(), "ordering must precede Skip, Take and Select")
		}
		if op.Kind == query.ThenBy && len(p.orderBy) == 0 {
			return errs.Unsupported("ThenBy", "ThenBy needs a preceding OrderBy")
		}
		term, err := b.tr.OrderTerm(scope, op.Ordering)
		if err != nil {
			return err
		}
		if op.Kind == query.OrderBy {
			p.orderBy = nil
		}
		p.orderBy = append(p.orderBy, term)

	case query.Skip:
		n := max(op.N, 0)
		p.skip += n
		if p.take >= 0 {
			p.take = max(p.take-n, 0)
		}

	case query.Take:
		n := max(op.N, 0)
		if p.take < 0 || n < p.take {
			p.take = n
		}

	case query.Select:
		if p.projection != nil {
			return errs.Unsupported("Select", "only one projection per query")
		}
		if p.distinct {
			return errs.Unsupported("Select", "projection must precede Distinct")
		}
		var (
			f   sqldsl.Fragment
			err error
		)
		switch {
		case len(op.Shape) > 0:
			f, err = b.tr.Shape(scope, op.Shape)
		case op.Value != nil:
			f, err = b.tr.Projection(scope, op.Value)
			p.selected = op.Value
		default:
			f, err = b.tr.Projection(scope, op.Member)
			p.selected = op.Member
		}
		if err != nil {
			return err
		}
		p.projection = f

	case query.Distinct:
		if p.paged() {
			return errs.Unsupported("Distinct", "Distinct must precede Skip and Take")
		}
		p.distinct = true

	case query.Aggregate:
		if !last {
			return errs.Unsupported(op.Aggregate.String(), "aggregates end the query")
		}
		agg := op
		p.aggregate = &agg

	default:
		return errs.Unsupported(op.Kind.String(), "not valid here")
	}
	return nil
}

// groupedOrder turns ordering keys into aggregates over the group, so that
// each distinct row sorts by its first occurrence.
func groupedOrder(terms []sqldsl.OrderTerm) []sqldsl.OrderTerm {
	out := make([]sqldsl.OrderTerm, len(terms))
	for i, t := range terms {
		fn := "min"
		if t.Descending {
			fn = "max"
		}
		out[i] = sqldsl.OrderTerm{Expr: sqldsl.Func{Name: fn, Args: []sqldsl.Fragment{t.Expr}}, Descending: t.Descending}
	}
	return out
}

// pagingParam binds LIMIT and OFFSET as parameters so compiled plans can
// rebind them.
func pagingParam(n int) sqldsl.Value {
	return sqldsl.Value{Value: int64(n), Source: n, Transform: toInt64}
}
