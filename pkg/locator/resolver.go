package locator

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pthm/docql/internal/errs"
	"github.com/pthm/docql/pkg/schema"
)

// DefaultCacheSize bounds the number of memoized locators per resolver.
const DefaultCacheSize = 4096

var (
	timeType     = reflect.TypeOf(time.Time{})
	uuidType     = reflect.TypeOf(uuid.UUID{})
	rawJSONType  = reflect.TypeOf(json.RawMessage(nil))
	stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
)

type cacheKey struct {
	typ    reflect.Type
	expr   string
	base   bool
	path   string
	casing schema.Casing
	enums  schema.EnumStorage
}

// Resolver resolves member paths. It is safe for concurrent use.
type Resolver struct {
	mapping schema.Mapping
	conv    schema.Conventions
	cache   *lru.Cache[cacheKey, Locator]
}

// NewResolver creates a resolver over the given mapping and conventions.
func NewResolver(mapping schema.Mapping, conv schema.Conventions) *Resolver {
	cache, err := lru.New[cacheKey, Locator](DefaultCacheSize)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	return &Resolver{mapping: mapping, conv: conv, cache: cache}
}

// Conventions returns the serializer conventions the resolver emits keys for.
func (r *Resolver) Conventions() schema.Conventions {
	return r.conv
}

// Mapping returns the schema mapping the resolver consults.
func (r *Resolver) Mapping() schema.Mapping {
	return r.mapping
}

// Resolve returns the locator for path under root. Path segments are Go field
// names; after a map member, "Keys", "Values" and "[key]" select a dictionary
// view or entry.
func (r *Resolver) Resolve(root Root, path []string) (Locator, error) {
	key := cacheKey{
		typ:    root.Type,
		expr:   root.Expr,
		base:   root.Base,
		path:   strings.Join(path, "\x00"),
		casing: r.conv.Casing,
		enums:  r.conv.EnumStorage,
	}
	if loc, ok := r.cache.Get(key); ok {
		return loc, nil
	}
	loc, err := r.resolve(root, path)
	if err != nil {
		return Locator{}, err
	}
	r.cache.Add(key, loc)
	return loc, nil
}

func (r *Resolver) resolve(root Root, path []string) (Locator, error) {
	member := strings.Join(path, ".")
	if member == "" {
		member = "it"
	}

	t, null := unwrap(root.Type)
	nullability := Nullability{SQLNull: null}
	parent := root.Expr
	axis := NoAxis

	if len(path) == 0 {
		loc, err := r.classify(member, t)
		if err != nil {
			return Locator{}, err
		}
		loc.Nullability = nullability
		loc.JSONB = root.Expr
		if loc.Kind.IsScalar() {
			loc.SQL, loc.CastRequired = r.typed(root.Expr+" #>> '{}'", loc)
		} else {
			loc.SQL = root.Expr
		}
		return loc, nil
	}

	var (
		jsonb    string
		leafText string
	)
	for i, seg := range path {
		last := i == len(path)-1
		var key string

		switch t.Kind() {
		case reflect.Struct:
			if t == timeType || t == uuidType {
				return Locator{}, errs.UnsupportedMember(member, "cannot access "+seg+" on "+t.String())
			}
			f, ok := t.FieldByName(seg)
			if !ok || !f.IsExported() {
				return Locator{}, errs.Unsupported(member, "unknown member "+seg+" on "+t.String())
			}
			name, omitempty, skip := r.jsonName(f)
			if skip {
				return Locator{}, errs.Unsupported(member, seg+" is not serialized")
			}
			key = name
			var ptr bool
			t, ptr = unwrap(f.Type)
			nullability.SQLNull = nullability.SQLNull || ptr || nilable(t)
			nullability.JSONMissing = nullability.JSONMissing || omitempty

		case reflect.Map:
			switch {
			case seg == "Keys" || seg == "Values":
				if !last {
					return Locator{}, errs.Unsupported(member, seg+" must be the last segment")
				}
				axis = KeysAxis
				elem := t.Key()
				if seg == "Values" {
					axis = ValuesAxis
					elem = t.Elem()
				}
				loc, err := r.classify(member, reflect.SliceOf(elem))
				if err != nil {
					return Locator{}, err
				}
				loc.JSONB = parent
				loc.SQL = parent
				loc.Axis = axis
				loc.Nullability = nullability
				loc.Path = append([]string(nil), path...)
				return loc, nil
			case strings.HasPrefix(seg, "[") && strings.HasSuffix(seg, "]"):
				key = seg[1 : len(seg)-1]
				var ptr bool
				t, ptr = unwrap(t.Elem())
				nullability.SQLNull = nullability.SQLNull || ptr || nilable(t)
				nullability.JSONMissing = true
			default:
				return Locator{}, errs.Unsupported(member, "dictionary members are Keys, Values or [key], not "+seg)
			}

		default:
			return Locator{}, errs.UnsupportedMember(member, "cannot access "+seg+" on "+t.String())
		}

		jsonb = parent + " -> " + quoteLiteral(key)
		leafText = parent + " ->> " + quoteLiteral(key)
		parent = jsonb
	}

	loc, err := r.classify(member, t)
	if err != nil {
		return Locator{}, err
	}
	loc.Nullability = nullability
	loc.Axis = axis
	loc.Path = append([]string(nil), path...)
	loc.JSONB = jsonb

	if root.Base && r.mapping != nil {
		if s := r.mapping.StorageFor(root.Type, path); s.IsDuplicated() {
			loc.SQL = BaseAlias + "." + schema.QuoteIdent(s.Column)
			loc.Duplicated = true
			if s.DBType != "" {
				loc.DBType = s.DBType
			}
			return loc, nil
		}
	}

	if loc.Kind.IsScalar() {
		loc.SQL, loc.CastRequired = r.typed(leafText, loc)
	} else {
		loc.SQL = jsonb
	}
	return loc, nil
}

// classify maps a Go type to its kind and database type.
func (r *Resolver) classify(member string, t reflect.Type) (Locator, error) {
	loc := Locator{Type: t}
	switch {
	case t == timeType:
		loc.Kind, loc.DBType = DateTime, "timestamptz"
		return loc, nil
	case t == uuidType:
		loc.Kind, loc.DBType = UUID, "uuid"
		return loc, nil
	case t == rawJSONType:
		loc.Kind, loc.DBType = RawJSON, "jsonb"
		return loc, nil
	}

	switch t.Kind() {
	case reflect.String:
		loc.Kind, loc.DBType = String, "text"
	case reflect.Bool:
		loc.Kind, loc.DBType = Boolean, "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if isEnum(t) {
			loc.Kind = Enum
			loc.DBType = "integer"
			if r.conv.EnumStorage == schema.AsString {
				loc.DBType = "text"
			}
			break
		}
		loc.Kind, loc.DBType = Number, numberType(t.Kind())
	case reflect.Float32, reflect.Float64:
		loc.Kind, loc.DBType = Number, numberType(t.Kind())
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return Locator{}, errs.UnsupportedMember(member, "dictionary keys must be strings, got "+t.Key().String())
		}
		if _, err := r.classify(member, elemType(t.Elem())); err != nil {
			return Locator{}, err
		}
		loc.Kind, loc.DBType, loc.Element = Dictionary, "jsonb", elemType(t.Elem())
	case reflect.Slice, reflect.Array:
		elem := elemType(t.Elem())
		if t.Elem().Kind() == reflect.Uint8 && t.Kind() == reflect.Slice {
			loc.Kind, loc.DBType = String, "text"
			break
		}
		el, err := r.classify(member, elem)
		if err != nil {
			return Locator{}, err
		}
		loc.Element = elem
		loc.DBType = "jsonb"
		if el.Kind == Document {
			loc.Kind = DocumentCollection
		} else {
			loc.Kind = ValueCollection
		}
	case reflect.Struct:
		loc.Kind, loc.DBType = Document, "jsonb"
	default:
		return Locator{}, errs.UnsupportedMember(member, "no JSON representation for "+t.String())
	}
	return loc, nil
}

// typed renders the text accessor as the locator's SQL type.
func (r *Resolver) typed(text string, loc Locator) (string, bool) {
	switch loc.DBType {
	case "text", "":
		return text, false
	}
	return "CAST(" + text + " as " + loc.DBType + ")", true
}

// jsonName reports the JSON key of a struct field.
func (r *Resolver) jsonName(f reflect.StructField) (name string, omitempty, skip bool) {
	tag, ok := f.Tag.Lookup("json")
	if ok {
		head, opts, _ := strings.Cut(tag, ",")
		if head == "-" && opts == "" {
			return "", false, true
		}
		omitempty = strings.Contains(","+opts+",", ",omitempty,") || strings.Contains(","+opts+",", ",omitzero,")
		if head != "" {
			return head, omitempty, false
		}
	}
	return r.conv.JSONName(f.Name), omitempty, false
}

func numberType(k reflect.Kind) string {
	switch k {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return "integer"
	case reflect.Int, reflect.Int64, reflect.Uint32:
		return "bigint"
	case reflect.Float32:
		return "real"
	case reflect.Float64:
		return "double precision"
	default:
		return "numeric"
	}
}

func isEnum(t reflect.Type) bool {
	return t.PkgPath() != "" && t.Implements(stringerType)
}

func unwrap(t reflect.Type) (reflect.Type, bool) {
	ptr := false
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
		ptr = true
	}
	return t, ptr
}

func elemType(t reflect.Type) reflect.Type {
	t, _ = unwrap(t)
	return t
}

// nilable reports whether a non-pointer type can still serialize as null.
func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Map, reflect.Slice:
		return t != rawJSONType
	}
	return false
}
