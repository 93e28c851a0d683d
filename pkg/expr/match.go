package expr

import (
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/pthm/docql/internal/errs"
)

var (
	timeType = reflect.TypeOf(time.Time{})
	uuidType = reflect.TypeOf(uuid.UUID{})
)

// Match evaluates a predicate against an in-memory document with the same
// null semantics as the SQL the compiler generates:
//
//   - a comparison with a null operand is false, except == nil and != value
//   - a bare boolean member matches only true, and its negation only false
//   - every other negation is the exact complement of its operand
//
// Marker calls that only exist as SQL (raw SQL, full-text search, soft-delete
// and tenancy markers) fail with ErrNotSupportedDirectInvocation.
func Match(n Node, doc any) (bool, error) {
	return matchNode(n, reflect.ValueOf(doc))
}

func matchNode(n Node, root reflect.Value) (bool, error) {
	switch n := n.(type) {
	case Constant:
		b, ok := n.Value.(bool)
		if !ok {
			return false, errs.Mismatch(n.String(), "constant predicate must be a bool")
		}
		return b, nil

	case Member:
		v, err := memberValue(n, root)
		if err != nil {
			return false, err
		}
		if !v.IsValid() {
			return false, nil
		}
		if v.Kind() != reflect.Bool {
			return false, errs.Mismatch(n.String(), "member used as a predicate must be a bool")
		}
		return v.Bool(), nil

	case NotExpr:
		switch op := n.Operand.(type) {
		case Member:
			v, err := memberValue(op, root)
			if err != nil {
				return false, err
			}
			if !v.IsValid() {
				return false, nil
			}
			if v.Kind() != reflect.Bool {
				return false, errs.Mismatch(op.String(), "member used as a predicate must be a bool")
			}
			return !v.Bool(), nil
		case NotExpr:
			return matchNode(op.Operand, root)
		case Logical:
			// De Morgan, so a negated bare flag keeps its meaning inside
			inverted := Logical{Op: OpOr, Operands: make([]Node, len(op.Operands))}
			if op.Op == OpOr {
				inverted.Op = OpAnd
			}
			for i, o := range op.Operands {
				inverted.Operands[i] = NotExpr{Operand: o}
			}
			return matchNode(inverted, root)
		}
		ok, err := matchNode(n.Operand, root)
		return !ok, err

	case Logical:
		for _, o := range n.Operands {
			ok, err := matchNode(o, root)
			if err != nil {
				return false, err
			}
			if n.Op == OpAnd && !ok {
				return false, nil
			}
			if n.Op == OpOr && ok {
				return true, nil
			}
		}
		return n.Op == OpAnd, nil

	case Compare:
		return matchCompare(n, root)

	case Call:
		return matchCall(n, root)
	}
	return false, errs.Unsupported(fmt.Sprintf("%T", n), "unknown node kind")
}

func matchCompare(c Compare, root reflect.Value) (bool, error) {
	left, err := operandValue(c.Left, root)
	if err != nil {
		return false, err
	}
	right, err := operandValue(c.Right, root)
	if err != nil {
		return false, err
	}

	leftNull, rightNull := !left.IsValid(), !right.IsValid()
	if isNilConstant(c.Left) || isNilConstant(c.Right) {
		// == nil and != nil test for null
		bothNull := leftNull && rightNull
		return (c.Op == OpEq && bothNull) || (c.Op == OpNe && !bothNull), nil
	}
	if leftNull || rightNull {
		return c.Op == OpNe, nil
	}

	cmp, err := compareValues(left, right)
	if err != nil {
		return false, errs.Mismatch(c.String(), err.Error())
	}
	switch c.Op {
	case OpEq:
		return cmp == 0, nil
	case OpNe:
		return cmp != 0, nil
	case OpLt:
		return cmp < 0, nil
	case OpLe:
		return cmp <= 0, nil
	case OpGt:
		return cmp > 0, nil
	default:
		return cmp >= 0, nil
	}
}

func isNilConstant(n Node) bool {
	c, ok := n.(Constant)
	return ok && c.Value == nil
}

// operandValue evaluates a value-producing node. An invalid reflect.Value is
// null.
func operandValue(n Node, root reflect.Value) (reflect.Value, error) {
	switch n := n.(type) {
	case Constant:
		return deref(reflect.ValueOf(n.Value)), nil
	case Member:
		return memberValue(n, root)
	case Call:
		return callValue(n, root)
	}
	return reflect.Value{}, errs.Unsupported(n.String(), "not a value expression")
}

func callValue(c Call, root reflect.Value) (reflect.Value, error) {
	target, err := operandValue(c.Target, root)
	if err == nil && !target.IsValid() && c.Shape() == "collection.Count" {
		// null and missing collections have no elements
		return reflect.ValueOf(0), nil
	}
	if err != nil || !target.IsValid() {
		return reflect.Value{}, err
	}
	switch c.Shape() {
	case "string.Length":
		return reflect.ValueOf(len([]rune(target.String()))), nil
	case "string.ToLower":
		return reflect.ValueOf(strings.ToLower(target.String())), nil
	case "string.ToUpper":
		return reflect.ValueOf(strings.ToUpper(target.String())), nil
	case "collection.Count":
		return reflect.ValueOf(target.Len()), nil
	}
	return reflect.Value{}, errs.Unsupported(c.Shape(), "not a value expression")
}

// memberValue walks a member path by Go field name. Nil pointers, nil maps and
// missing dictionary entries anywhere along the path yield null.
func memberValue(m Member, root reflect.Value) (reflect.Value, error) {
	v := deref(root)
	for _, seg := range m.Path {
		if !v.IsValid() {
			return reflect.Value{}, nil
		}
		switch {
		case v.Kind() == reflect.Map && seg == "Keys":
			v = reflect.ValueOf(mapKeys(v))
		case v.Kind() == reflect.Map && seg == "Values":
			v = reflect.ValueOf(mapValues(v))
		case v.Kind() == reflect.Map && strings.HasPrefix(seg, "[") && strings.HasSuffix(seg, "]"):
			if v.IsNil() {
				return reflect.Value{}, nil
			}
			key := reflect.ValueOf(seg[1 : len(seg)-1]).Convert(v.Type().Key())
			v = deref(v.MapIndex(key))
		case v.Kind() == reflect.Struct:
			f := v.FieldByName(seg)
			if !f.IsValid() {
				return reflect.Value{}, errs.Unsupported(m.String(), "unknown member "+seg)
			}
			v = deref(f)
		default:
			return reflect.Value{}, errs.UnsupportedMember(m.String(), "cannot access "+seg+" on "+v.Type().String())
		}
	}
	return v, nil
}

func deref(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	if v.IsValid() && (v.Kind() == reflect.Slice || v.Kind() == reflect.Map) && v.IsNil() {
		return reflect.Value{}
	}
	return v
}

func mapKeys(m reflect.Value) []any {
	out := make([]any, 0, m.Len())
	iter := m.MapRange()
	for iter.Next() {
		out = append(out, iter.Key().Interface())
	}
	return out
}

func mapValues(m reflect.Value) []any {
	out := make([]any, 0, m.Len())
	iter := m.MapRange()
	for iter.Next() {
		out = append(out, iter.Value().Interface())
	}
	return out
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func toFloat(v reflect.Value) float64 {
	switch {
	case v.CanInt():
		return float64(v.Int())
	case v.CanUint():
		return float64(v.Uint())
	default:
		return v.Float()
	}
}

// compareValues orders two non-null values. Enum members compare with string
// constants by name.
func compareValues(a, b reflect.Value) (int, error) {
	if a.Kind() == reflect.Interface {
		a = deref(a)
	}
	if b.Kind() == reflect.Interface {
		b = deref(b)
	}
	switch {
	case a.Type() == timeType && b.Type() == timeType:
		return a.Interface().(time.Time).Compare(b.Interface().(time.Time)), nil
	case a.Type() == uuidType && b.Type() == uuidType:
		return strings.Compare(a.Interface().(uuid.UUID).String(), b.Interface().(uuid.UUID).String()), nil
	case a.Type() == uuidType && b.Kind() == reflect.String:
		return strings.Compare(a.Interface().(uuid.UUID).String(), b.String()), nil
	case isNumber(a.Kind()) && isNumber(b.Kind()):
		x, y := toFloat(a), toFloat(b)
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	case a.Kind() == reflect.String && b.Kind() == reflect.String:
		return strings.Compare(a.String(), b.String()), nil
	case a.Kind() == reflect.Bool && b.Kind() == reflect.Bool:
		if a.Bool() == b.Bool() {
			return 0, nil
		}
		if !a.Bool() {
			return -1, nil
		}
		return 1, nil
	case isEnum(a) && b.Kind() == reflect.String:
		return strings.Compare(a.Interface().(fmt.Stringer).String(), b.String()), nil
	case a.Kind() == reflect.String && isEnum(b):
		return strings.Compare(a.String(), b.Interface().(fmt.Stringer).String()), nil
	}
	return 0, fmt.Errorf("cannot compare %s with %s", a.Type(), b.Type())
}

func isEnum(v reflect.Value) bool {
	if !v.CanInt() || v.Type().PkgPath() == "" {
		return false
	}
	_, ok := v.Interface().(fmt.Stringer)
	return ok
}

func equalValues(a, b reflect.Value) bool {
	a, b = deref(a), deref(b)
	if !a.IsValid() || !b.IsValid() {
		return !a.IsValid() && !b.IsValid()
	}
	cmp, err := compareValues(a, b)
	if err != nil {
		return reflect.DeepEqual(a.Interface(), b.Interface())
	}
	return cmp == 0
}

func sliceContains(s, item reflect.Value) bool {
	for i := 0; i < s.Len(); i++ {
		if equalValues(s.Index(i), item) {
			return true
		}
	}
	return false
}

func constArg(c Call, i int) (any, error) {
	if i >= len(c.Args) {
		return nil, errs.Unsupported(c.Shape(), fmt.Sprintf("missing argument %d", i))
	}
	k, ok := c.Args[i].(Constant)
	if !ok {
		return nil, errs.Unsupported(c.Shape(), fmt.Sprintf("argument %d must be a constant", i))
	}
	return k.Value, nil
}

func ignoreCase(c Call) bool {
	if len(c.Args) < 2 {
		return false
	}
	k, ok := c.Args[len(c.Args)-1].(Constant)
	if !ok {
		return false
	}
	cmp, ok := k.Value.(Comparison)
	return ok && cmp == IgnoreCase
}

func matchCall(c Call, root reflect.Value) (bool, error) {
	switch c.Declaring {
	case DeclDocument, DeclSearch:
		return false, errs.DirectInvocation(c.Shape())
	}

	switch c.Shape() {
	case "string.Contains", "string.StartsWith", "string.EndsWith", "string.Equals":
		target, err := operandValue(c.Target, root)
		if err != nil {
			return false, err
		}
		arg, err := operandValue(c.Args[0], root)
		if err != nil {
			return false, err
		}
		if !target.IsValid() || !arg.IsValid() {
			return false, nil
		}
		if target.Kind() != reflect.String || arg.Kind() != reflect.String {
			return false, errs.Mismatch(c.String(), "string method on a non-string operand")
		}
		s, sub := target.String(), arg.String()
		if ignoreCase(c) {
			s, sub = strings.ToLower(s), strings.ToLower(sub)
		}
		switch c.Method {
		case "Contains":
			return strings.Contains(s, sub), nil
		case "StartsWith":
			return strings.HasPrefix(s, sub), nil
		case "EndsWith":
			return strings.HasSuffix(s, sub), nil
		}
		return s == sub, nil

	case "string.IsNullOrEmpty", "string.IsNullOrWhiteSpace":
		if len(c.Args) != 1 {
			return false, errs.Unsupported(c.Shape(), "expects one argument")
		}
		v, err := operandValue(c.Args[0], root)
		if err != nil || !v.IsValid() {
			return err == nil, err
		}
		if c.Method == "IsNullOrEmpty" {
			return v.String() == "", nil
		}
		return strings.TrimFunc(v.String(), unicode.IsSpace) == "", nil

	case "value.IsOneOf":
		target, err := operandValue(c.Target, root)
		if err != nil || !target.IsValid() {
			return false, err
		}
		values, err := constArg(c, 0)
		if err != nil {
			return false, err
		}
		return sliceContains(reflect.ValueOf(values), target), nil

	case "enumerable.Contains":
		values, err := operandValue(c.Target, root)
		if err != nil || !values.IsValid() {
			return false, err
		}
		item, err := operandValue(c.Args[0], root)
		if err != nil || !item.IsValid() {
			return false, err
		}
		return sliceContains(values, item), nil

	case "collection.Contains":
		coll, err := operandValue(c.Target, root)
		if err != nil || !coll.IsValid() {
			return false, err
		}
		item, err := operandValue(c.Args[0], root)
		if err != nil {
			return false, err
		}
		return sliceContains(coll, item), nil

	case "collection.Any", "collection.IsEmpty":
		coll, err := operandValue(c.Target, root)
		if err != nil {
			return false, err
		}
		if !coll.IsValid() || coll.Len() == 0 {
			return c.Method == "IsEmpty", nil
		}
		if c.Method == "IsEmpty" {
			return false, nil
		}
		if len(c.Args) == 0 {
			return true, nil
		}
		for i := 0; i < coll.Len(); i++ {
			ok, err := matchNode(c.Args[0], coll.Index(i))
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case "dictionary.ContainsKey", "dictionary.ContainsEntry":
		dict, err := operandValue(c.Target, root)
		if err != nil || !dict.IsValid() {
			return false, err
		}
		if dict.Kind() != reflect.Map {
			return false, errs.Mismatch(c.String(), "dictionary method on a non-map member")
		}
		key, err := constArg(c, 0)
		if err != nil {
			return false, err
		}
		entry := dict.MapIndex(reflect.ValueOf(key).Convert(dict.Type().Key()))
		if !entry.IsValid() {
			return false, nil
		}
		if c.Method == "ContainsKey" {
			return true, nil
		}
		want, err := operandValue(c.Args[1], root)
		if err != nil {
			return false, err
		}
		return equalValues(entry, want), nil
	}

	return false, errs.Unsupported(c.Shape(), "no in-memory evaluation")
}
