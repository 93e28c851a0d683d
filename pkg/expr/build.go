package expr

import (
	"strings"
	"time"
)

// Field builds a member access. Each argument may itself be dotted, so
// Field("Address", "City") and Field("Address.City") are equivalent.
func Field(path ...string) Member {
	var segs []string
	for _, p := range path {
		for _, s := range strings.Split(p, ".") {
			if s != "" {
				segs = append(segs, s)
			}
		}
	}
	return Member{Path: segs}
}

// It refers to the current root value: the document, or the element inside a
// collection-scoped predicate.
func It() Member {
	return Member{}
}

// Keys is the collection of keys of a dictionary member.
func Keys(dict Member) Member {
	return dict.child("Keys")
}

// Values is the collection of values of a dictionary member.
func Values(dict Member) Member {
	return dict.child("Values")
}

// Entry reads one dictionary entry by key.
func Entry(dict Member, key string) Member {
	return dict.child("[" + key + "]")
}

func (m Member) child(seg string) Member {
	path := make([]string, len(m.Path), len(m.Path)+1)
	copy(path, m.Path)
	return Member{Path: append(path, seg)}
}

// Val wraps a literal value.
func Val(v any) Constant {
	return Constant{Value: v}
}

// asNode passes nodes through and wraps everything else as a Constant.
func asNode(v any) Node {
	if n, ok := v.(Node); ok {
		return n
	}
	return Constant{Value: v}
}

// Eq is left == right.
func Eq(left, right Node) Compare { return Compare{Op: OpEq, Left: left, Right: right} }

// Ne is left != right.
func Ne(left, right Node) Compare { return Compare{Op: OpNe, Left: left, Right: right} }

// Lt is left < right.
func Lt(left, right Node) Compare { return Compare{Op: OpLt, Left: left, Right: right} }

// Le is left <= right.
func Le(left, right Node) Compare { return Compare{Op: OpLe, Left: left, Right: right} }

// Gt is left > right.
func Gt(left, right Node) Compare { return Compare{Op: OpGt, Left: left, Right: right} }

// Ge is left >= right.
func Ge(left, right Node) Compare { return Compare{Op: OpGe, Left: left, Right: right} }

// IsNull is node == nil.
func IsNull(n Node) Compare { return Eq(n, Val(nil)) }

// IsNotNull is node != nil.
func IsNotNull(n Node) Compare { return Ne(n, Val(nil)) }

// And combines operands with AND. Nil operands are dropped.
func And(operands ...Node) Logical {
	return Logical{Op: OpAnd, Operands: dropNil(operands)}
}

// Or combines operands with OR. Nil operands are dropped.
func Or(operands ...Node) Logical {
	return Logical{Op: OpOr, Operands: dropNil(operands)}
}

func dropNil(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// Not negates a predicate.
func Not(n Node) NotExpr {
	return NotExpr{Operand: n}
}

// NewCall builds an arbitrary call node. Custom parsers match the shapes their
// own helpers produce through this constructor.
func NewCall(declaring, method string, target Node, args ...Node) Call {
	return Call{Declaring: declaring, Method: method, Target: target, Args: args}
}

func stringCall(method string, target Node, value any, cmp []Comparison) Call {
	args := []Node{asNode(value)}
	if len(cmp) > 0 && cmp[0] == IgnoreCase {
		args = append(args, Val(IgnoreCase))
	}
	return NewCall(DeclString, method, target, args...)
}

// Contains is a substring match on a string member.
func Contains(target Node, value any, cmp ...Comparison) Call {
	return stringCall("Contains", target, value, cmp)
}

// StartsWith is a prefix match on a string member.
func StartsWith(target Node, value any, cmp ...Comparison) Call {
	return stringCall("StartsWith", target, value, cmp)
}

// EndsWith is a suffix match on a string member.
func EndsWith(target Node, value any, cmp ...Comparison) Call {
	return stringCall("EndsWith", target, value, cmp)
}

// Equals is string equality with an explicit comparison mode.
func Equals(target Node, value any, cmp ...Comparison) Call {
	return stringCall("Equals", target, value, cmp)
}

// EqualsFold is case-insensitive string equality.
func EqualsFold(target Node, value any) Call {
	return stringCall("Equals", target, value, []Comparison{IgnoreCase})
}

// IsNullOrEmpty matches null or empty strings.
func IsNullOrEmpty(target Node) Call {
	return NewCall(DeclString, "IsNullOrEmpty", nil, target)
}

// IsNullOrWhiteSpace matches null, empty or whitespace-only strings.
func IsNullOrWhiteSpace(target Node) Call {
	return NewCall(DeclString, "IsNullOrWhiteSpace", nil, target)
}

// Length is the character length of a string member, usable as a comparison
// operand.
func Length(target Node) Call {
	return NewCall(DeclString, "Length", target)
}

// ToLower lower-cases a string member, usable as a comparison operand.
func ToLower(target Node) Call {
	return NewCall(DeclString, "ToLower", target)
}

// ToUpper upper-cases a string member, usable as a comparison operand.
func ToUpper(target Node) Call {
	return NewCall(DeclString, "ToUpper", target)
}

// IsOneOf matches when the member equals any element of values, which must be
// a slice.
func IsOneOf(target Node, values any) Call {
	return NewCall(DeclValue, "IsOneOf", target, asNode(values))
}

// In is the in-memory form of IsOneOf: values.Contains(member).
func In(values any, member Node) Call {
	return NewCall(DeclEnumerable, "Contains", asNode(values), member)
}

// CollectionContains matches when a collection member contains value.
func CollectionContains(target Node, value any) Call {
	return NewCall(DeclCollection, "Contains", target, asNode(value))
}

// Any matches non-empty collection members.
func Any(target Node) Call {
	return NewCall(DeclCollection, "Any", target)
}

// AnyMatch matches when at least one element satisfies pred. Members inside
// pred are relative to the element.
func AnyMatch(target Node, pred Node) Call {
	return NewCall(DeclCollection, "Any", target, pred)
}

// IsEmpty matches null, missing or empty collection members.
func IsEmpty(target Node) Call {
	return NewCall(DeclCollection, "IsEmpty", target)
}

// Count is the element count of a collection member, usable as a comparison
// operand.
func Count(target Node) Call {
	return NewCall(DeclCollection, "Count", target)
}

// ContainsKey matches dictionaries holding key.
func ContainsKey(dict Node, key string) Call {
	return NewCall(DeclDictionary, "ContainsKey", dict, Val(key))
}

// ContainsEntry matches dictionaries holding key with the given value.
func ContainsEntry(dict Node, key string, value any) Call {
	return NewCall(DeclDictionary, "ContainsEntry", dict, Val(key), asNode(value))
}

// MatchesSQL embeds raw SQL. Each ? in sql is replaced by the next parameter.
// The document row is aliased d and its body is d.data.
func MatchesSQL(sql string, params ...any) Call {
	args := []Node{Val(sql)}
	for _, p := range params {
		args = append(args, Val(p))
	}
	return NewCall(DeclDocument, "MatchesSQL", nil, args...)
}

func searchCall(method, text string, config []string) Call {
	args := []Node{Val(text)}
	if len(config) > 0 {
		args = append(args, Val(config[0]))
	}
	return NewCall(DeclSearch, method, nil, args...)
}

// Search is a to_tsquery full-text search over the whole document.
func Search(text string, config ...string) Call {
	return searchCall("Search", text, config)
}

// PlainTextSearch is a plainto_tsquery full-text search.
func PlainTextSearch(text string, config ...string) Call {
	return searchCall("PlainTextSearch", text, config)
}

// PhraseSearch is a phraseto_tsquery full-text search.
func PhraseSearch(text string, config ...string) Call {
	return searchCall("PhraseSearch", text, config)
}

// WebStyleSearch is a websearch_to_tsquery full-text search.
func WebStyleSearch(text string, config ...string) Call {
	return searchCall("WebStyleSearch", text, config)
}

// IsDeleted matches soft-deleted documents only.
func IsDeleted() Call {
	return NewCall(DeclDocument, "IsDeleted", nil)
}

// MaybeDeleted matches deleted and live documents alike.
func MaybeDeleted() Call {
	return NewCall(DeclDocument, "MaybeDeleted", nil)
}

// DeletedSince matches documents soft-deleted after t.
func DeletedSince(t time.Time) Call {
	return NewCall(DeclDocument, "DeletedSince", nil, Val(t))
}

// DeletedBefore matches documents soft-deleted before t.
func DeletedBefore(t time.Time) Call {
	return NewCall(DeclDocument, "DeletedBefore", nil, Val(t))
}

// ModifiedSince matches documents last modified after t.
func ModifiedSince(t time.Time) Call {
	return NewCall(DeclDocument, "ModifiedSince", nil, Val(t))
}

// ModifiedBefore matches documents last modified before t.
func ModifiedBefore(t time.Time) Call {
	return NewCall(DeclDocument, "ModifiedBefore", nil, Val(t))
}

// TenantIsOneOf restricts a multi-tenant query to the given tenants instead of
// the session tenant.
func TenantIsOneOf(tenants ...string) Call {
	return NewCall(DeclDocument, "TenantIsOneOf", nil, Val(tenants))
}

// AnyTenant lifts the tenant restriction.
func AnyTenant() Call {
	return NewCall(DeclDocument, "AnyTenant", nil)
}

// Asc is an ascending ordering on a member path.
func Asc(path ...string) Ordering {
	return Ordering{Key: Field(path...), Direction: Ascending}
}

// Desc is a descending ordering on a member path.
func Desc(path ...string) Ordering {
	return Ordering{Key: Field(path...), Direction: Descending}
}

// Shape collects named values into a multi-field projection.
func Shape(fields ...ShapeField) []ShapeField {
	return fields
}

// As names a projected value.
func As(name string, value Node) ShapeField {
	return ShapeField{Name: name, Value: value}
}
