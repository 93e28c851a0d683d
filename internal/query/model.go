// Package query holds the pipeline model the compiler stages share: a
// document type and the ordered operators applied to it.
package query

import (
	"reflect"

	"github.com/pthm/docql/pkg/expr"
)

// OpKind is a pipeline operator.
type OpKind int

const (
	Where OpKind = iota
	OrderBy
	ThenBy
	Skip
	Take
	SelectMany
	Select
	Distinct
	Aggregate
)

var opNames = [...]string{"Where", "OrderBy", "ThenBy", "Skip", "Take", "SelectMany", "Select", "Distinct", "Aggregate"}

func (k OpKind) String() string {
	if int(k) < len(opNames) {
		return opNames[k]
	}
	return "Op"
}

// AggregateKind is a terminal aggregate.
type AggregateKind int

const (
	Count AggregateKind = iota
	Any
	Sum
	Min
	Max
	Average
)

var aggregateNames = [...]string{"Count", "Any", "Sum", "Min", "Max", "Average"}

func (k AggregateKind) String() string {
	if int(k) < len(aggregateNames) {
		return aggregateNames[k]
	}
	return "Aggregate"
}

// Op is one pipeline operator. Only the fields of its kind are set.
type Op struct {
	Kind      OpKind
	Predicate expr.Node         // Where
	Ordering  expr.Ordering     // OrderBy, ThenBy
	N         int               // Skip, Take
	Member    expr.Member       // SelectMany, single-member Select
	Value     expr.Node         // Select of a value expression, aggregate input
	Shape     []expr.ShapeField // multi-field Select
	Aggregate AggregateKind     // Aggregate
}

// Model is a query against one document type.
type Model struct {
	DocType        reflect.Type
	Ops            []Op
	Statistics     bool   // add total_rows to paged results
	IncludeDeleted bool   // lift the soft-delete filter
	AnyTenant      bool   // lift the tenant filter
	Tenant         string // session tenant, empty for the store default
}

// With returns a copy of m with op appended. Models are never mutated in
// place, so a base query can be extended in several directions.
func (m Model) With(op Op) Model {
	ops := make([]Op, len(m.Ops), len(m.Ops)+1)
	copy(ops, m.Ops)
	m.Ops = append(ops, op)
	return m
}

// Terminal returns the trailing aggregate, if any.
func (m Model) Terminal() (Op, bool) {
	if len(m.Ops) == 0 {
		return Op{}, false
	}
	last := m.Ops[len(m.Ops)-1]
	return last, last.Kind == Aggregate
}

// Segments splits the operators at every SelectMany. Segment 0 runs against
// the document; segment i runs against the elements entered by the i-th
// SelectMany, which is returned alongside.
func (m Model) Segments() (segments [][]Op, traversals []Op) {
	segments = [][]Op{nil}
	for _, op := range m.Ops {
		if op.Kind == SelectMany {
			traversals = append(traversals, op)
			segments = append(segments, nil)
			continue
		}
		segments[len(segments)-1] = append(segments[len(segments)-1], op)
	}
	return segments, traversals
}
