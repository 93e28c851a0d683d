package methods

import (
	"fmt"
	"time"

	"github.com/pthm/docql/internal/errs"
	"github.com/pthm/docql/pkg/expr"
	"github.com/pthm/docql/pkg/schema"
	"github.com/pthm/docql/pkg/sqldsl"
)

// matchesSQL embeds caller-written SQL with ? placeholders.
type matchesSQL struct{}

func (matchesSQL) Matches(call *expr.Call) bool {
	return call.Shape() == "document.MatchesSQL" && call.Target == nil &&
		len(call.Args) >= 1 && allConstants(call.Args)
}

func (matchesSQL) Parse(_ Scope, _ Options, call *expr.Call) (sqldsl.Fragment, error) {
	v, _ := constArg(call, 0)
	text, ok := v.(string)
	if !ok || text == "" {
		return nil, errs.Unsupported(call.String(), "MatchesSQL needs SQL text")
	}
	params := make([]any, 0, len(call.Args)-1)
	for _, a := range call.Args[1:] {
		params = append(params, a.(expr.Constant).Value)
	}
	raw := sqldsl.Raw{Text: text, Params: params}
	if n := raw.Placeholders(); n != len(params) {
		return nil, errs.Unsupported(call.String(), fmt.Sprintf("MatchesSQL has %d placeholders but %d parameters", n, len(params)))
	}
	return raw, nil
}

var tsQueryFuncs = map[string]string{
	"Search":          "to_tsquery",
	"PlainTextSearch": "plainto_tsquery",
	"PhraseSearch":    "phraseto_tsquery",
	"WebStyleSearch":  "websearch_to_tsquery",
}

// fullTextSearch matches the whole document against a text search query.
type fullTextSearch struct{}

func (fullTextSearch) Matches(call *expr.Call) bool {
	_, ok := tsQueryFuncs[call.Method]
	return ok && call.Declaring == expr.DeclSearch && call.Target == nil &&
		(len(call.Args) == 1 || len(call.Args) == 2) && allConstants(call.Args)
}

func (fullTextSearch) Parse(scope Scope, opts Options, call *expr.Call) (sqldsl.Fragment, error) {
	v, _ := constArg(call, 0)
	text, ok := v.(string)
	if !ok {
		return nil, errs.Mismatch(call.String(), fmt.Sprintf("search text must be a string, got %T", v))
	}
	config := opts.SearchConfig
	if config == "" {
		config = DefaultSearchConfig
	}
	if len(call.Args) == 2 {
		c, _ := constArg(call, 1)
		if config, ok = c.(string); !ok {
			return nil, errs.Mismatch(call.String(), fmt.Sprintf("search config must be a string, got %T", c))
		}
	}
	regconfig := func() sqldsl.Value {
		return sqldsl.Value{Value: config, DBType: "regconfig", Cast: true}
	}
	return sqldsl.Compare{
		Left:  sqldsl.Func{Name: "to_tsvector", Args: []sqldsl.Fragment{regconfig(), sqldsl.Expr(scope.Root().Expr)}},
		Op:    "@@",
		Right: sqldsl.Func{Name: tsQueryFuncs[call.Method], Args: []sqldsl.Fragment{regconfig(), sqldsl.Param(text)}},
	}, nil
}

func documentRow(scope Scope, call *expr.Call) (Document, error) {
	doc, ok := scope.Document()
	if !ok {
		return Document{}, errs.Unsupported(call.String(), "only valid against the document row")
	}
	return doc, nil
}

func timeArg(call *expr.Call) (time.Time, error) {
	v, err := constArg(call, 0)
	if err != nil {
		return time.Time{}, err
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, errs.Mismatch(call.String(), fmt.Sprintf("expected a time.Time, got %T", v))
	}
	return t, nil
}

// softDeleteMarker handles IsDeleted, MaybeDeleted, DeletedSince and
// DeletedBefore. Each lifts the standing soft-delete filter.
type softDeleteMarker struct{}

func (softDeleteMarker) Matches(call *expr.Call) bool {
	if call.Declaring != expr.DeclDocument || call.Target != nil {
		return false
	}
	switch call.Method {
	case "IsDeleted", "MaybeDeleted":
		return len(call.Args) == 0
	case "DeletedSince", "DeletedBefore":
		return len(call.Args) == 1 && isConstant(call.Args[0])
	}
	return false
}

func (softDeleteMarker) Parse(scope Scope, _ Options, call *expr.Call) (sqldsl.Fragment, error) {
	doc, err := documentRow(scope, call)
	if err != nil {
		return nil, err
	}
	if !doc.SoftDeleted {
		return nil, errs.Unsupported(call.String(), doc.Type.String()+" is not soft-deleted")
	}
	scope.Lift(IncludeDeleted)

	deleted := sqldsl.Eq(sqldsl.Col(doc.Alias, schema.ColumnDeleted), sqldsl.Bool(true))
	switch call.Method {
	case "IsDeleted":
		return deleted, nil
	case "MaybeDeleted":
		return sqldsl.Bool(true), nil
	}
	t, err := timeArg(call)
	if err != nil {
		return nil, err
	}
	op := ">"
	if call.Method == "DeletedBefore" {
		op = "<"
	}
	return sqldsl.And(deleted, sqldsl.Compare{
		Left:  sqldsl.Col(doc.Alias, schema.ColumnDeletedAt),
		Op:    op,
		Right: sqldsl.Param(t),
	}), nil
}

// modifiedMarker handles ModifiedSince and ModifiedBefore.
type modifiedMarker struct{}

func (modifiedMarker) Matches(call *expr.Call) bool {
	return call.Declaring == expr.DeclDocument && call.Target == nil &&
		(call.Method == "ModifiedSince" || call.Method == "ModifiedBefore") &&
		len(call.Args) == 1 && isConstant(call.Args[0])
}

func (modifiedMarker) Parse(scope Scope, _ Options, call *expr.Call) (sqldsl.Fragment, error) {
	doc, err := documentRow(scope, call)
	if err != nil {
		return nil, err
	}
	t, err := timeArg(call)
	if err != nil {
		return nil, err
	}
	op := ">"
	if call.Method == "ModifiedBefore" {
		op = "<"
	}
	return sqldsl.Compare{Left: sqldsl.Col(doc.Alias, schema.ColumnLastModified), Op: op, Right: sqldsl.Param(t)}, nil
}

// tenantMarker handles TenantIsOneOf and AnyTenant. Both replace the session
// tenant filter.
type tenantMarker struct{}

func (tenantMarker) Matches(call *expr.Call) bool {
	if call.Declaring != expr.DeclDocument || call.Target != nil {
		return false
	}
	switch call.Method {
	case "AnyTenant":
		return len(call.Args) == 0
	case "TenantIsOneOf":
		return len(call.Args) == 1 && isConstant(call.Args[0])
	}
	return false
}

func (tenantMarker) Parse(scope Scope, _ Options, call *expr.Call) (sqldsl.Fragment, error) {
	doc, err := documentRow(scope, call)
	if err != nil {
		return nil, err
	}
	if !doc.MultiTenant {
		return nil, errs.Unsupported(call.String(), doc.Type.String()+" is not multi-tenanted")
	}
	scope.Lift(AnyTenant)
	if call.Method == "AnyTenant" {
		return sqldsl.Bool(true), nil
	}
	v, _ := constArg(call, 0)
	tenants, ok := v.([]string)
	if !ok {
		return nil, errs.Mismatch(call.String(), fmt.Sprintf("tenant ids must be []string, got %T", v))
	}
	return sqldsl.AnyOf{
		X:     sqldsl.Col(doc.Alias, schema.ColumnTenantID),
		Array: sqldsl.Value{Value: tenants, DBType: "text[]", Cast: true},
	}, nil
}
