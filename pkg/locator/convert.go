package locator

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Convert checks that the constant v can be compared with the member and
// returns the value to bind as its parameter. Nil stays nil.
func (l Locator) Convert(v any) (any, error) {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil, nil
	}

	switch l.Kind {
	case String:
		if rv.Kind() == reflect.String {
			return rv.String(), nil
		}
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Bytes(), nil
		}
	case Number:
		if rv.CanInt() || rv.CanUint() || rv.CanFloat() {
			return convertNumber(l.DBType, rv)
		}
	case Boolean:
		if rv.Kind() == reflect.Bool {
			return rv.Bool(), nil
		}
	case DateTime:
		if t, ok := rv.Interface().(time.Time); ok {
			return t, nil
		}
	case UUID:
		switch x := rv.Interface().(type) {
		case uuid.UUID:
			return x.String(), nil
		case string:
			if _, err := uuid.Parse(x); err != nil {
				return nil, fmt.Errorf("cannot compare uuid with %q: %w", x, err)
			}
			return x, nil
		}
	case Enum:
		if l.DBType == "text" {
			if s, ok := rv.Interface().(fmt.Stringer); ok && rv.CanInt() {
				return s.String(), nil
			}
			if rv.Kind() == reflect.String {
				return rv.String(), nil
			}
			break
		}
		if rv.CanInt() {
			return rv.Int(), nil
		}
		if rv.CanUint() {
			return int64(rv.Uint()), nil
		}
	default:
		return rv.Interface(), nil
	}
	return nil, fmt.Errorf("cannot compare %s with %s", l.Kind, rv.Type())
}

// ConvertSlice converts every element of the slice v with Convert and returns
// a typed slice suitable for an array parameter of type DBType[].
func (l Locator) ConvertSlice(v any) (any, error) {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, fmt.Errorf("expected a slice of values, got %T", v)
	}

	out := reflect.MakeSlice(reflect.SliceOf(l.arrayElem()), 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		c, err := l.Convert(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue
		}
		cv := reflect.ValueOf(c)
		if !cv.Type().ConvertibleTo(out.Type().Elem()) {
			return nil, fmt.Errorf("cannot use %T in a %s array", c, l.DBType)
		}
		out = reflect.Append(out, cv.Convert(out.Type().Elem()))
	}
	return out.Interface(), nil
}

// ArrayType is the PostgreSQL array type for a list of member values.
func (l Locator) ArrayType() string {
	return l.DBType + "[]"
}

func (l Locator) arrayElem() reflect.Type {
	switch l.Kind {
	case Number:
		if isFloatDB(l.DBType) {
			return reflect.TypeOf(float64(0))
		}
		return reflect.TypeOf(int64(0))
	case Enum:
		if l.DBType == "text" {
			return reflect.TypeOf("")
		}
		return reflect.TypeOf(int64(0))
	case Boolean:
		return reflect.TypeOf(false)
	case DateTime:
		return reflect.TypeOf(time.Time{})
	default:
		return reflect.TypeOf("")
	}
}

// convertNumber binds float64 for floating point columns and int64 for integer
// columns. An integer column never receives a fractional value or one outside
// the range of its type.
func convertNumber(dbType string, rv reflect.Value) (any, error) {
	if isFloatDB(dbType) {
		switch {
		case rv.CanInt():
			return float64(rv.Int()), nil
		case rv.CanUint():
			return float64(rv.Uint()), nil
		default:
			return rv.Float(), nil
		}
	}

	var n int64
	switch {
	case rv.CanInt():
		n = rv.Int()
	case rv.CanUint():
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("%d is out of range for %s", u, dbType)
		}
		n = int64(u)
	default:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return nil, fmt.Errorf("cannot compare %s member with non-integral %v", dbType, f)
		}
		// 2^63 itself is not representable as int64
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return nil, fmt.Errorf("%v is out of range for %s", f, dbType)
		}
		n = int64(f)
	}

	if lo, hi := intRange(dbType); n < lo || n > hi {
		return nil, fmt.Errorf("%d is out of range for %s", n, dbType)
	}
	return n, nil
}

func intRange(dbType string) (int64, int64) {
	switch dbType {
	case "smallint":
		return math.MinInt16, math.MaxInt16
	case "integer":
		return math.MinInt32, math.MaxInt32
	}
	return math.MinInt64, math.MaxInt64
}

func isFloatDB(dbType string) bool {
	switch dbType {
	case "real", "double precision", "numeric":
		return true
	}
	return false
}

// Comparable reports whether two member locators can be compared with each
// other.
func Comparable(a, b Locator) bool {
	if a.Kind == b.Kind {
		return true
	}
	// enums stored as strings compare with strings
	if (a.Kind == Enum && b.Kind == String) || (a.Kind == String && b.Kind == Enum) {
		return a.DBType == b.DBType
	}
	return false
}
