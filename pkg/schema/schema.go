// Package schema holds the document mapping and serializer conventions the
// query compiler consumes.
//
// The compiler never inspects tables or DDL. It asks three narrow questions:
//
//  1. Which table stores documents of a type (Mapping.TableFor)
//  2. Is a member duplicated into its own column (Mapping.StorageFor)
//  3. Which standing filters apply (Mapping.SoftDeleted, Mapping.MultiTenant)
//
// and reads two serializer conventions (Conventions): how enums are stored and
// how Go field names are cased in the stored JSON.
//
// # Registry
//
// Registry is the default Mapping. Documents are registered at startup:
//
//	reg := schema.NewRegistry()
//	schema.Register[Target](reg,
//	    schema.Table("targets"),
//	    schema.Duplicate("Number", "number", "integer"),
//	    schema.SoftDeleted(),
//	)
//
// Unregistered types still resolve, to the table mt_doc_<snake type name> with
// no duplicated members and no standing filters.
//
// Like the rest of the compiler configuration, a Registry must not be mutated
// once queries start compiling against it.
package schema

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/iancoleman/strcase"
	"github.com/lib/pq"
)

// Metadata columns present on every document table.
const (
	ColumnID           = "id"
	ColumnData         = "data"
	ColumnDeleted      = "mt_deleted"
	ColumnDeletedAt    = "mt_deleted_at"
	ColumnLastModified = "mt_last_modified"
	ColumnTenantID     = "tenant_id"
)

// DefaultTablePrefix is prepended to the snake-cased type name of unregistered
// documents.
const DefaultTablePrefix = "mt_doc_"

var reservedColumns = map[string]bool{
	ColumnID:           true,
	ColumnData:         true,
	ColumnDeleted:      true,
	ColumnDeletedAt:    true,
	ColumnLastModified: true,
	ColumnTenantID:     true,
}

// Mapping is the read-only view of the schema layer.
type Mapping interface {
	// TableFor returns the (possibly schema-qualified, quoted) table name.
	TableFor(t reflect.Type) string
	// StorageFor reports how the member at path is stored.
	StorageFor(t reflect.Type, path []string) Storage
	// SoftDeleted reports whether deleted documents stay in the table.
	SoftDeleted(t reflect.Type) bool
	// MultiTenant reports whether documents carry a tenant_id.
	MultiTenant(t reflect.Type) bool
}

// Storage describes where a member lives. The zero value is JSONOnly.
type Storage struct {
	Column string // duplicated column name
	DBType string // column type, used as the comparison cast
}

// JSONOnly is the storage of members that exist only inside the data column.
var JSONOnly = Storage{}

// IsDuplicated reports whether the member has its own column.
func (s Storage) IsDuplicated() bool {
	return s.Column != ""
}

// DocumentMapping is the registered configuration of one document type.
type DocumentMapping struct {
	Type          reflect.Type
	Table         string
	Duplicated    map[string]Storage // keyed by dotted Go member path
	SoftDeleted   bool
	MultiTenanted bool
}

// Option configures a DocumentMapping.
type Option func(*DocumentMapping)

// Table overrides the table name.
func Table(name string) Option {
	return func(m *DocumentMapping) {
		m.Table = name
	}
}

// Duplicate maps a member path (dotted Go field names) to its own column.
func Duplicate(path, column, dbType string) Option {
	return func(m *DocumentMapping) {
		if m.Duplicated == nil {
			m.Duplicated = make(map[string]Storage)
		}
		m.Duplicated[path] = Storage{Column: column, DBType: dbType}
	}
}

// SoftDeleted marks the type as soft-deleted: queries exclude rows where
// mt_deleted is set unless they opt out.
func SoftDeleted() Option {
	return func(m *DocumentMapping) {
		m.SoftDeleted = true
	}
}

// MultiTenanted marks the type as multi-tenant: queries are restricted to the
// session tenant unless they opt out.
func MultiTenanted() Option {
	return func(m *DocumentMapping) {
		m.MultiTenanted = true
	}
}

// Registry is the default Mapping.
type Registry struct {
	schemaName string
	docs       map[reflect.Type]*DocumentMapping
	order      []reflect.Type
}

var _ Mapping = (*Registry)(nil)

// NewRegistry creates an empty registry. A non-empty schemaName qualifies
// every table name.
func NewRegistry(schemaName ...string) *Registry {
	r := &Registry{docs: make(map[reflect.Type]*DocumentMapping)}
	if len(schemaName) > 0 {
		r.schemaName = schemaName[0]
	}
	return r
}

// Register adds or replaces the mapping for T.
func Register[T any](r *Registry, opts ...Option) *DocumentMapping {
	return r.RegisterType(reflect.TypeFor[T](), opts...)
}

// RegisterType is Register for a type only known at runtime.
func (r *Registry) RegisterType(t reflect.Type, opts ...Option) *DocumentMapping {
	t = indirect(t)
	m := &DocumentMapping{Type: t, Table: DefaultTableName(t)}
	for _, opt := range opts {
		opt(m)
	}
	if _, ok := r.docs[t]; !ok {
		r.order = append(r.order, t)
	}
	r.docs[t] = m
	return m
}

// Lookup returns the registered mapping for t.
func (r *Registry) Lookup(t reflect.Type) (*DocumentMapping, bool) {
	m, ok := r.docs[indirect(t)]
	return m, ok
}

func (r *Registry) TableFor(t reflect.Type) string {
	name := DefaultTableName(indirect(t))
	if m, ok := r.Lookup(t); ok {
		name = m.Table
	}
	if r.schemaName != "" {
		return QuoteIdent(r.schemaName) + "." + QuoteIdent(name)
	}
	return QuoteIdent(name)
}

func (r *Registry) StorageFor(t reflect.Type, path []string) Storage {
	m, ok := r.Lookup(t)
	if !ok || len(m.Duplicated) == 0 {
		return JSONOnly
	}
	return m.Duplicated[strings.Join(path, ".")]
}

func (r *Registry) SoftDeleted(t reflect.Type) bool {
	m, ok := r.Lookup(t)
	return ok && m.SoftDeleted
}

func (r *Registry) MultiTenant(t reflect.Type) bool {
	m, ok := r.Lookup(t)
	return ok && m.MultiTenanted
}

// Validate checks every registered mapping and reports all problems at once.
func (r *Registry) Validate() error {
	var result *multierror.Error
	tables := make(map[string]reflect.Type)
	for _, t := range r.order {
		m := r.docs[t]
		if t.Kind() != reflect.Struct {
			result = multierror.Append(result, &MappingError{Type: t, Problem: "document type must be a struct"})
		}
		if m.Table == "" {
			result = multierror.Append(result, &MappingError{Type: t, Problem: "empty table name"})
		} else if other, dup := tables[m.Table]; dup {
			result = multierror.Append(result, &MappingError{Type: t, Problem: "table " + m.Table + " already used by " + other.String()})
		} else {
			tables[m.Table] = t
		}
		columns := make(map[string]string)
		for path, s := range m.Duplicated {
			switch {
			case path == "":
				result = multierror.Append(result, &MappingError{Type: t, Problem: "duplicated member with empty path"})
			case s.Column == "":
				result = multierror.Append(result, &MappingError{Type: t, Problem: "duplicated member " + path + " has no column"})
			case reservedColumns[s.Column]:
				result = multierror.Append(result, &MappingError{Type: t, Problem: "column " + s.Column + " is reserved"})
			case columns[s.Column] != "":
				result = multierror.Append(result, &MappingError{Type: t, Problem: "column " + s.Column + " mapped by " + columns[s.Column] + " and " + path})
			}
			columns[s.Column] = path
		}
	}
	return result.ErrorOrNil()
}

// DefaultTableName is mt_doc_<snake type name>.
func DefaultTableName(t reflect.Type) string {
	name := indirect(t).Name()
	if name == "" {
		name = "document"
	}
	return DefaultTablePrefix + strcase.ToSnake(name)
}

var plainIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// QuoteIdent quotes name unless it is already a plain lower-case identifier.
func QuoteIdent(name string) string {
	if plainIdent.MatchString(name) {
		return name
	}
	return pq.QuoteIdentifier(name)
}

func indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
