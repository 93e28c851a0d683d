// Package expr defines the closed set of expression nodes that describe a
// document query predicate, ordering key or projection.
//
// Application code builds trees with the helpers in this package:
//
//	pred := expr.And(
//	    expr.Eq(expr.Field("Number"), expr.Val(1)),
//	    expr.Contains(expr.Field("Name"), "foo", expr.IgnoreCase),
//	)
//
// Node is a sealed interface. Only the types declared here implement it, which
// lets the compiler stages switch exhaustively over node kinds:
//
//   - Constant: a literal Go value
//   - Member: a member-access chain rooted at the current document or element
//   - NotExpr: logical negation
//   - Compare: a binary comparison
//   - Logical: AND / OR over two or more operands
//   - Call: a method call, matched structurally by declaring type and name
package expr

import (
	"fmt"
	"strings"
)

// Node is a predicate, ordering or projection expression.
type Node interface {
	node() // seals the interface to this package
	String() string
}

// Constant is a literal value. Nil is the SQL NULL.
type Constant struct {
	Value any
}

func (Constant) node() {}

func (c Constant) String() string {
	if c.Value == nil {
		return "nil"
	}
	if s, ok := c.Value.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", c.Value)
}

// Member is a chain of member accesses relative to the current root. The root
// is the document for top-level predicates and the element for predicates
// scoped to a collection. An empty path refers to the root value itself.
//
// Path segments are Go field names. Two dictionary axes are recognised after a
// map-typed member: "Keys" and "Values". A segment written as "[key]" reads
// one dictionary entry.
type Member struct {
	Path []string
}

func (Member) node() {}

func (m Member) String() string {
	if len(m.Path) == 0 {
		return "it"
	}
	return strings.Join(m.Path, ".")
}

// NotExpr negates its operand.
type NotExpr struct {
	Operand Node
}

func (NotExpr) node() {}

func (n NotExpr) String() string {
	return "!(" + n.Operand.String() + ")"
}

// CompareOp is a binary comparison operator.
type CompareOp int

// Comparison operators.
const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

var compareSymbols = [...]string{"==", "!=", "<", "<=", ">", ">="}

func (op CompareOp) String() string {
	if int(op) < len(compareSymbols) {
		return compareSymbols[op]
	}
	return fmt.Sprintf("CompareOp(%d)", int(op))
}

// Negate returns the operator whose result is the complement on non-null
// operands.
func (op CompareOp) Negate() CompareOp {
	switch op {
	case OpEq:
		return OpNe
	case OpNe:
		return OpEq
	case OpLt:
		return OpGe
	case OpLe:
		return OpGt
	case OpGt:
		return OpLe
	default:
		return OpLt
	}
}

// Mirror returns the operator to use when the operands are swapped.
func (op CompareOp) Mirror() CompareOp {
	switch op {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	default:
		return op
	}
}

// Compare is a binary comparison.
type Compare struct {
	Op    CompareOp
	Left  Node
	Right Node
}

func (Compare) node() {}

func (c Compare) String() string {
	return c.Left.String() + " " + c.Op.String() + " " + c.Right.String()
}

// LogicalOp is AND or OR.
type LogicalOp int

// Logical operators.
const (
	OpAnd LogicalOp = iota
	OpOr
)

func (op LogicalOp) String() string {
	if op == OpOr {
		return "||"
	}
	return "&&"
}

// Logical combines operands with AND or OR.
type Logical struct {
	Op       LogicalOp
	Operands []Node
}

func (Logical) node() {}

func (l Logical) String() string {
	parts := make([]string, len(l.Operands))
	for i, o := range l.Operands {
		parts[i] = o.String()
	}
	return "(" + strings.Join(parts, " "+l.Op.String()+" ") + ")"
}

// Declaring-type shapes for Call.Declaring.
const (
	DeclString     = "string"     // methods on a string member
	DeclValue      = "value"      // extension methods on any scalar member (IsOneOf)
	DeclCollection = "collection" // methods on a collection member
	DeclDictionary = "dictionary" // methods on a map member
	DeclEnumerable = "enumerable" // methods on an in-memory slice constant
	DeclSearch     = "search"     // full-text search verbs
	DeclDocument   = "document"   // document-level markers (raw SQL, soft delete, tenancy)
)

// Call is a method call. Target is nil for static helpers such as
// string.IsNullOrEmpty and for document-level markers.
type Call struct {
	Declaring string
	Method    string
	Target    Node
	Args      []Node
}

func (Call) node() {}

// Shape returns "Declaring.Method", the structural identity parsers match on.
func (c Call) Shape() string {
	return c.Declaring + "." + c.Method
}

func (c Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	prefix := c.Declaring
	if c.Target != nil {
		prefix = c.Target.String()
	}
	return prefix + "." + c.Method + "(" + strings.Join(args, ", ") + ")"
}

// Comparison selects case sensitivity for string calls.
type Comparison int

// String comparison modes.
const (
	CaseSensitive Comparison = iota
	IgnoreCase
)

// Direction is an ordering direction.
type Direction int

// Ordering directions.
const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "DESC"
	}
	return "ASC"
}

// Ordering is one ORDER BY key.
type Ordering struct {
	Key       Node
	Direction Direction
}

// ShapeField is one named value of a multi-field projection.
type ShapeField struct {
	Name  string
	Value Node
}
