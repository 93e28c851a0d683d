package docql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pthm/docql/internal/plancache"
	"github.com/pthm/docql/internal/statement"
	"github.com/pthm/docql/internal/translate"
	"github.com/pthm/docql/pkg/locator"
	"github.com/pthm/docql/pkg/methods"
	"github.com/pthm/docql/pkg/schema"
	"github.com/pthm/docql/pkg/sqldsl"
)

// Querier executes queries against PostgreSQL.
// Implemented by *sql.DB, *sql.Tx, and *sql.Conn.
//
// The Store only reads. Passing a *sql.Tx lets diagnostics and the execution
// helpers see uncommitted documents written earlier in the same transaction.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Command is a compiled statement: SQL text and positional parameters.
type Command = sqldsl.Command

// QueryStatistics receives the unpaged row count of a query run with Stats.
type QueryStatistics = sqldsl.QueryStatistics

// Config collects the store settings that usually come from a configuration
// file. Zero fields keep their defaults.
type Config struct {
	Conventions  schema.Conventions
	SearchConfig string
	Tenant       string
}

// Store compiles queries for a set of document types and, when given a
// Querier, runs them.
//
// A Store holds only read-only configuration after NewStore returns, plus the
// compiled-query plan cache, and is safe for concurrent use.
type Store struct {
	q          Querier
	mapping    schema.Mapping
	conv       schema.Conventions
	serializer schema.Serializer
	parsers    []methods.Parser
	logger     *slog.Logger
	tenant     string
	search     string

	builder *statement.Builder
	plans   *plancache.Cache
}

// Option configures a Store.
type Option func(*Store)

// WithMapping sets the document mapping. The default is an empty
// schema.Registry, which maps every type to mt_doc_<type> with all members
// stored only in JSON.
func WithMapping(m schema.Mapping) Option {
	return func(s *Store) {
		s.mapping = m
	}
}

// WithSerializer sets the serializer used for query constants and for
// decoding results. Its conventions replace any set by WithConventions.
func WithSerializer(ser schema.Serializer) Option {
	return func(s *Store) {
		s.serializer = ser
	}
}

// WithConventions sets the serializer conventions (enum storage and member
// casing) the generated JSON paths must agree with.
func WithConventions(c schema.Conventions) Option {
	return func(s *Store) {
		s.conv = c
	}
}

// WithParser registers a custom method-call parser. Custom parsers are tried
// before the built-ins, in registration order.
func WithParser(p methods.Parser) Option {
	return func(s *Store) {
		s.parsers = append(s.parsers, p)
	}
}

// WithLogger sets the structured logger. Compilation logs at debug level only.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithQuerier sets the database handle used by Explain and the execution
// helpers. Compilation never needs one.
func WithQuerier(q Querier) Option {
	return func(s *Store) {
		s.q = q
	}
}

// WithTenant sets the session tenant for multi-tenanted document types.
func WithTenant(tenant string) Option {
	return func(s *Store) {
		s.tenant = tenant
	}
}

// WithSearchConfig sets the text search configuration full-text calls use
// when they name none.
func WithSearchConfig(name string) Option {
	return func(s *Store) {
		s.search = name
	}
}

// WithConfig applies the non-zero fields of c.
func WithConfig(c Config) Option {
	return func(s *Store) {
		s.conv = c.Conventions
		if c.SearchConfig != "" {
			s.search = c.SearchConfig
		}
		if c.Tenant != "" {
			s.tenant = c.Tenant
		}
	}
}

// NewStore creates a store. It fails when the mapping is a *schema.Registry
// that does not validate; every problem is reported at once.
func NewStore(opts ...Option) (*Store, error) {
	s := &Store{
		search: methods.DefaultSearchConfig,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.mapping == nil {
		s.mapping = schema.NewRegistry()
	}
	if r, ok := s.mapping.(*schema.Registry); ok {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("docql: %w", err)
		}
	}
	if s.serializer != nil {
		s.conv = s.serializer.Conventions()
	} else {
		s.serializer = schema.NewSerializer(s.conv)
	}

	registry := methods.NewRegistry(s.logger)
	for _, p := range s.parsers {
		registry.Add(p)
	}
	tr := translate.New(
		locator.NewResolver(s.mapping, s.conv),
		registry,
		methods.Options{Serializer: s.serializer, SearchConfig: s.search},
	)
	s.builder = statement.New(tr, s.mapping, s.logger)
	s.plans = plancache.New(s.logger)
	return s, nil
}

// MustNewStore is NewStore for package-level stores; it panics on error.
func MustNewStore(opts ...Option) *Store {
	s, err := NewStore(opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Conventions returns the serializer conventions in effect.
func (s *Store) Conventions() schema.Conventions {
	return s.conv
}

// statement compiles q against the store's session settings.
func (s *Store) statement(q Query) (sqldsl.Statement, error) {
	if q.err != nil {
		return sqldsl.Statement{}, q.err
	}
	m := q.model
	if m.Tenant == "" {
		m.Tenant = s.tenant
	}
	return s.builder.Build(m)
}

func (s *Store) querier() (Querier, error) {
	if s.q == nil {
		return nil, fmt.Errorf("docql: no querier configured, use WithQuerier")
	}
	return s.q, nil
}
