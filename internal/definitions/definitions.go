// Package definitions loads the YAML files the CLI works from: document
// types described field by field, and named queries over them.
//
//	types:
//	  - name: Order
//	    soft_deleted: true
//	    fields:
//	      - {name: Total, type: float64}
//	      - {name: Lines, type: "[]Line"}
//	  - name: Line
//	    fields:
//	      - {name: Sku, type: string, json: sku}
//	queries:
//	  - name: large_orders
//	    document: Order
//	    where: Total > 100.0
//	    order_by: [Total desc]
//	    take: 20
//
// Types are materialised with reflect.StructOf, so the compiler sees the same
// member kinds a compiled-in Go struct would give it.
package definitions

import (
	"encoding/json"
	"fmt"
	"go/token"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/iancoleman/strcase"
	"sigs.k8s.io/yaml"

	"github.com/pthm/docql/pkg/schema"
)

// File is the document layout.
type File struct {
	Types   []TypeDef  `json:"types"`
	Queries []QueryDef `json:"queries"`
}

// TypeDef describes one struct type. Types named by a query's document are
// registered as document types; the others only shape nested members.
type TypeDef struct {
	Name          string         `json:"name"`
	Table         string         `json:"table,omitempty"`
	SoftDeleted   bool           `json:"soft_deleted,omitempty"`
	MultiTenanted bool           `json:"multi_tenanted,omitempty"`
	Fields        []FieldDef     `json:"fields"`
	Duplicated    []DuplicateDef `json:"duplicated,omitempty"`
}

// FieldDef is one struct field. Type is a Go-like type expression: a
// primitive, time, uuid, json, another type's name, or []T, *T and
// map[string]T over those.
type FieldDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
	JSON string `json:"json,omitempty"`
}

// DuplicateDef maps a member to its own column.
type DuplicateDef struct {
	Path   string `json:"path"`
	Column string `json:"column"`
	DBType string `json:"db_type"`
}

// QueryDef is a named query. Operators apply in a fixed order: where,
// select_many, element_where, order_by, select or shape, distinct, skip,
// take, aggregate.
type QueryDef struct {
	Name           string        `json:"name"`
	Document       string        `json:"document"`
	Where          string        `json:"where,omitempty"`
	SelectMany     string        `json:"select_many,omitempty"`
	ElementWhere   string        `json:"element_where,omitempty"`
	OrderBy        []string      `json:"order_by,omitempty"`
	Select         string        `json:"select,omitempty"`
	Shape          []ShapeDef    `json:"shape,omitempty"`
	Distinct       bool          `json:"distinct,omitempty"`
	Skip           int           `json:"skip,omitempty"`
	Take           *int          `json:"take,omitempty"`
	Aggregate      *AggregateDef `json:"aggregate,omitempty"`
	Stats          bool          `json:"stats,omitempty"`
	IncludeDeleted bool          `json:"include_deleted,omitempty"`
	AnyTenant      bool          `json:"any_tenant,omitempty"`
	Tenant         string        `json:"tenant,omitempty"`
}

// ShapeDef is one named member of a multi-field projection.
type ShapeDef struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// AggregateDef ends a query. Kind is count, any, sum, min, max or average;
// Of names the member to aggregate and defaults to the selected value.
type AggregateDef struct {
	Kind string `json:"kind"`
	Of   string `json:"of,omitempty"`
}

// Set is a loaded definitions file.
type Set struct {
	// Registry holds the mapping of every queried type.
	Registry *schema.Registry

	types   map[string]reflect.Type
	names   map[reflect.Type]string
	docs    []string
	queries map[string]QueryDef
	order   []string
}

var (
	timeType = reflect.TypeFor[time.Time]()
	uuidType = reflect.TypeFor[uuid.UUID]()
	jsonType = reflect.TypeFor[json.RawMessage]()
)

var primitives = map[string]reflect.Type{
	"string":  reflect.TypeFor[string](),
	"bool":    reflect.TypeFor[bool](),
	"int":     reflect.TypeFor[int](),
	"int8":    reflect.TypeFor[int8](),
	"int16":   reflect.TypeFor[int16](),
	"int32":   reflect.TypeFor[int32](),
	"int64":   reflect.TypeFor[int64](),
	"uint":    reflect.TypeFor[uint](),
	"uint8":   reflect.TypeFor[uint8](),
	"uint16":  reflect.TypeFor[uint16](),
	"uint32":  reflect.TypeFor[uint32](),
	"uint64":  reflect.TypeFor[uint64](),
	"float32": reflect.TypeFor[float32](),
	"float64": reflect.TypeFor[float64](),
	"time":    timeType,
	"uuid":    uuidType,
	"json":    jsonType,
}

// Load reads and materialises a definitions file. A non-empty schemaName
// qualifies every table.
func Load(path, schemaName string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definitions: %w", err)
	}
	s, err := Parse(data, schemaName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse materialises definitions from YAML. Every problem is reported at
// once.
func Parse(data []byte, schemaName string) (*Set, error) {
	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("parsing definitions: %w", err)
	}

	var result *multierror.Error
	defs := make(map[string]TypeDef, len(f.Types))
	for _, td := range f.Types {
		if !isExportedIdent(td.Name) {
			result = multierror.Append(result, fmt.Errorf("type %q: name must be an exported Go identifier", td.Name))
			continue
		}
		if _, dup := defs[td.Name]; dup {
			result = multierror.Append(result, fmt.Errorf("type %s: defined twice", td.Name))
			continue
		}
		if _, clash := primitives[td.Name]; clash {
			result = multierror.Append(result, fmt.Errorf("type %s: shadows a built-in type", td.Name))
			continue
		}
		defs[td.Name] = td
	}

	r := &resolver{defs: defs, done: make(map[string]reflect.Type), active: make(map[string]bool)}
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := r.named(name); err != nil {
			result = multierror.Append(result, err)
		}
	}

	s := &Set{
		Registry: schema.NewRegistry(schemaName),
		types:    r.done,
		names:    make(map[reflect.Type]string, len(r.done)),
		queries:  make(map[string]QueryDef, len(f.Queries)),
	}
	for _, name := range names {
		t, ok := r.done[name]
		if !ok {
			continue
		}
		if other, dup := s.names[t]; dup {
			result = multierror.Append(result, fmt.Errorf("types %s and %s have identical fields", other, name))
			continue
		}
		s.names[t] = name
	}

	documents := make(map[string]bool)
	for _, qd := range f.Queries {
		switch {
		case qd.Name == "":
			result = multierror.Append(result, fmt.Errorf("query with empty name"))
			continue
		case s.queries[qd.Name].Name != "":
			result = multierror.Append(result, fmt.Errorf("query %s: defined twice", qd.Name))
			continue
		}
		if _, ok := defs[qd.Document]; !ok {
			result = multierror.Append(result, fmt.Errorf("query %s: unknown document type %q", qd.Name, qd.Document))
			continue
		}
		s.queries[qd.Name] = qd
		s.order = append(s.order, qd.Name)
		documents[qd.Document] = true
	}

	for _, name := range names {
		t, ok := r.done[name]
		if !ok || !documents[name] {
			continue
		}
		td := defs[name]
		opts := []schema.Option{schema.Table(schema.DefaultTablePrefix + strcase.ToSnake(name))}
		if td.Table != "" {
			opts = append(opts, schema.Table(td.Table))
		}
		if td.SoftDeleted {
			opts = append(opts, schema.SoftDeleted())
		}
		if td.MultiTenanted {
			opts = append(opts, schema.MultiTenanted())
		}
		for _, d := range td.Duplicated {
			opts = append(opts, schema.Duplicate(d.Path, d.Column, d.DBType))
		}
		s.Registry.RegisterType(t, opts...)
		s.docs = append(s.docs, name)
	}
	if err := s.Registry.Validate(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return s, nil
}

// Names lists the queries in file order.
func (s *Set) Names() []string {
	return append([]string(nil), s.order...)
}

// Def returns the named query definition.
func (s *Set) Def(name string) (QueryDef, bool) {
	qd, ok := s.queries[name]
	return qd, ok
}

// Type returns the materialised type with the given name.
func (s *Set) Type(name string) (reflect.Type, bool) {
	t, ok := s.types[name]
	return t, ok
}

// TypeName returns the definition name of a materialised type.
func (s *Set) TypeName(t reflect.Type) string {
	if name, ok := s.names[t]; ok {
		return name
	}
	return t.String()
}

// Documents lists the names of the registered document types.
func (s *Set) Documents() []string {
	return append([]string(nil), s.docs...)
}

type resolver struct {
	defs   map[string]TypeDef
	done   map[string]reflect.Type
	active map[string]bool
}

func (r *resolver) named(name string) (reflect.Type, error) {
	if t, ok := r.done[name]; ok {
		return t, nil
	}
	td, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("unknown type %q", name)
	}
	if r.active[name] {
		return nil, fmt.Errorf("type %s: recursive types are not supported", name)
	}
	r.active[name] = true
	defer delete(r.active, name)

	if len(td.Fields) == 0 {
		return nil, fmt.Errorf("type %s: no fields", name)
	}
	seen := make(map[string]bool, len(td.Fields))
	fields := make([]reflect.StructField, 0, len(td.Fields))
	for _, fd := range td.Fields {
		if !isExportedIdent(fd.Name) {
			return nil, fmt.Errorf("type %s: field %q must be an exported Go identifier", name, fd.Name)
		}
		if seen[fd.Name] {
			return nil, fmt.Errorf("type %s: field %s defined twice", name, fd.Name)
		}
		seen[fd.Name] = true
		ft, err := r.expr(strings.TrimSpace(fd.Type))
		if err != nil {
			return nil, fmt.Errorf("type %s: field %s: %w", name, fd.Name, err)
		}
		sf := reflect.StructField{Name: fd.Name, Type: ft}
		if fd.JSON != "" {
			sf.Tag = reflect.StructTag(fmt.Sprintf(`json:%q`, fd.JSON))
		}
		fields = append(fields, sf)
	}
	t := reflect.StructOf(fields)
	r.done[name] = t
	return t, nil
}

// expr resolves a type expression.
func (r *resolver) expr(s string) (reflect.Type, error) {
	switch {
	case s == "":
		return nil, fmt.Errorf("empty type")
	case strings.HasPrefix(s, "[]"):
		elem, err := r.expr(s[2:])
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil
	case strings.HasPrefix(s, "*"):
		elem, err := r.expr(s[1:])
		if err != nil {
			return nil, err
		}
		return reflect.PointerTo(elem), nil
	case strings.HasPrefix(s, "map["):
		key, value, ok := strings.Cut(s[len("map["):], "]")
		if !ok || key != "string" {
			return nil, fmt.Errorf("type %q: maps must be map[string]T", s)
		}
		elem, err := r.expr(value)
		if err != nil {
			return nil, err
		}
		return reflect.MapOf(primitives["string"], elem), nil
	}
	if t, ok := primitives[s]; ok {
		return t, nil
	}
	return r.named(s)
}

func isExportedIdent(name string) bool {
	return token.IsIdentifier(name) && token.IsExported(name)
}
