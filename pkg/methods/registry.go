// Package methods recognises method-call nodes and turns them into SQL
// fragments.
//
// Each Parser matches one call shape structurally, by declaring type, method
// name and argument layout, never by argument values. The Registry tries
// custom parsers first, in registration order, then the built-ins, and
// memoizes the winner per call shape.
//
// Custom vocabulary is added by registering a Parser:
//
//	type isAdult struct{}
//
//	func (isAdult) Matches(c *expr.Call) bool { return c.Shape() == "person.IsAdult" }
//
//	func (isAdult) Parse(s methods.Scope, _ methods.Options, c *expr.Call) (sqldsl.Fragment, error) {
//	    age, err := s.Resolve(expr.Field("Age"))
//	    if err != nil {
//	        return nil, err
//	    }
//	    return sqldsl.Compare{Left: sqldsl.Expr(age.SQL), Op: ">=", Right: sqldsl.Param(18)}, nil
//	}
//
//	store := docql.NewStore(docql.WithParser(isAdult{}))
package methods

import (
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pthm/docql/internal/errs"
	"github.com/pthm/docql/pkg/expr"
	"github.com/pthm/docql/pkg/locator"
	"github.com/pthm/docql/pkg/schema"
	"github.com/pthm/docql/pkg/sqldsl"
)

// Parser recognises and translates one call shape.
type Parser interface {
	// Matches reports whether the parser handles the call. It must depend only
	// on the call's shape: declaring type, method, target node kind and the
	// kinds of its arguments.
	Matches(call *expr.Call) bool
	// Parse translates the call.
	Parse(scope Scope, opts Options, call *expr.Call) (sqldsl.Fragment, error)
}

// Override is a standing filter a predicate lifts.
type Override uint8

const (
	// IncludeDeleted lifts the soft-delete filter.
	IncludeDeleted Override = 1 << iota
	// AnyTenant lifts the session tenant filter.
	AnyTenant
)

// Document describes the document row visible from a scope.
type Document struct {
	Alias       string
	Type        reflect.Type
	SoftDeleted bool
	MultiTenant bool
}

// Scope is the member collection a call is translated against.
type Scope interface {
	// Root is the value member paths start from.
	Root() locator.Root
	// Resolve resolves a member relative to Root.
	Resolve(m expr.Member) (locator.Locator, error)
	// Element opens a scope over one element of a collection locator, read
	// from a fresh alias. It returns the alias and the scope.
	Element(coll locator.Locator) (string, Scope)
	// Translate translates a sub-predicate in this scope.
	Translate(pred expr.Node) (sqldsl.Fragment, error)
	// Document returns the document row, when the scope reads one.
	Document() (Document, bool)
	// Lift records that the predicate replaces a standing filter.
	Lift(o Override)
}

// Options are read-only settings shared by every parse.
type Options struct {
	Serializer   schema.Serializer
	SearchConfig string
}

// DefaultSearchConfig is the text search configuration used when neither the
// call nor the store names one.
const DefaultSearchConfig = "english"

// DefaultMemoSize bounds the number of memoized call shapes.
const DefaultMemoSize = 1024

type shapeKey struct {
	declaring string
	method    string
	target    string
	args      string
}

func keyOf(call *expr.Call) shapeKey {
	kinds := make([]string, len(call.Args))
	for i, a := range call.Args {
		kinds[i] = nodeKind(a)
	}
	return shapeKey{
		declaring: call.Declaring,
		method:    call.Method,
		target:    nodeKind(call.Target),
		args:      strconv.Itoa(len(call.Args)) + ":" + strings.Join(kinds, ","),
	}
}

func nodeKind(n expr.Node) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%T", n)
}

// Registry finds the parser for a call.
type Registry struct {
	custom   []Parser
	builtins []Parser
	memo     *lru.Cache[shapeKey, int]
	logger   *slog.Logger
}

// NewRegistry creates a registry holding the built-in parsers.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	memo, err := lru.New[shapeKey, int](DefaultMemoSize)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	return &Registry{builtins: Builtins(), memo: memo, logger: logger}
}

// Add registers a custom parser. Custom parsers are tried before the
// built-ins, in registration order. Add must not be called once queries are
// being compiled.
func (r *Registry) Add(p Parser) {
	r.custom = append(r.custom, p)
	r.memo.Purge()
	r.logger.Debug("registered method parser", "parser", fmt.Sprintf("%T", p), "custom", len(r.custom))
}

func (r *Registry) at(i int) Parser {
	if i < len(r.custom) {
		return r.custom[i]
	}
	return r.builtins[i-len(r.custom)]
}

// Find returns the first parser matching call.
func (r *Registry) Find(call *expr.Call) (Parser, error) {
	key := keyOf(call)
	if i, ok := r.memo.Get(key); ok {
		if i < 0 {
			return nil, errs.Unsupported(call.String(), "no method parser matches "+call.Shape())
		}
		return r.at(i), nil
	}

	n := len(r.custom) + len(r.builtins)
	for i := 0; i < n; i++ {
		if r.at(i).Matches(call) {
			r.memo.Add(key, i)
			return r.at(i), nil
		}
	}
	r.memo.Add(key, -1)
	return nil, errs.Unsupported(call.String(), "no method parser matches "+call.Shape())
}

// Builtins returns the built-in parsers in match order.
func Builtins() []Parser {
	return []Parser{
		stringMatch{},
		nullOrEmpty{},
		isOneOf{},
		collectionContains{},
		collectionAny{},
		collectionEmpty{},
		dictionaryContains{},
		matchesSQL{},
		fullTextSearch{},
		softDeleteMarker{},
		modifiedMarker{},
		tenantMarker{},
	}
}
