package translate

import (
	"strconv"

	"github.com/pthm/docql/pkg/expr"
	"github.com/pthm/docql/pkg/locator"
	"github.com/pthm/docql/pkg/methods"
	"github.com/pthm/docql/pkg/sqldsl"
)

// Scope is the member collection one predicate is translated against. Scopes
// opened for collection elements share their parent's alias counter and
// lifted filters, so one translation never reuses an alias.
type Scope struct {
	t       *Translator
	root    locator.Root
	doc     *methods.Document
	aliases *int
	lifted  *methods.Override
}

var _ methods.Scope = (*Scope)(nil)

// DocumentScope opens a scope over the document row aliased doc.Alias.
func (t *Translator) DocumentScope(doc methods.Document) *Scope {
	root := locator.BaseRoot(doc.Type)
	if doc.Alias != locator.BaseAlias {
		root = locator.Root{Type: doc.Type, Expr: doc.Alias + ".data"}
	}
	return &Scope{t: t, root: root, doc: &doc, aliases: new(int), lifted: new(methods.Override)}
}

// ElementScope opens a scope over collection elements read from root.
func (t *Translator) ElementScope(root locator.Root) *Scope {
	return &Scope{t: t, root: root, aliases: new(int), lifted: new(methods.Override)}
}

func (s *Scope) Root() locator.Root {
	return s.root
}

func (s *Scope) Resolve(m expr.Member) (locator.Locator, error) {
	return s.t.resolver.Resolve(s.root, m.Path)
}

func (s *Scope) Element(coll locator.Locator) (string, methods.Scope) {
	*s.aliases++
	alias := "e" + strconv.Itoa(*s.aliases)
	return alias, &Scope{
		t:       s.t,
		root:    coll.ElementRoot(alias + ".data"),
		aliases: s.aliases,
		lifted:  s.lifted,
	}
}

func (s *Scope) Translate(pred expr.Node) (sqldsl.Fragment, error) {
	return s.t.Translate(s, pred)
}

func (s *Scope) Document() (methods.Document, bool) {
	if s.doc == nil {
		return methods.Document{}, false
	}
	return *s.doc, true
}

func (s *Scope) Lift(o methods.Override) {
	*s.lifted |= o
}

// Lifted reports the standing filters predicates in this scope replaced.
func (s *Scope) Lifted() methods.Override {
	return *s.lifted
}
