package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pthm/docql/internal/testdocs"
	"github.com/pthm/docql/pkg/schema"
)

// batchSize is the number of rows per multi-row INSERT.
const batchSize = 500

// Fixtures stores test documents with batched INSERTs, serialized the way
// the store under test reads them.
type Fixtures struct {
	db  *sql.DB
	ctx context.Context
	ser schema.Serializer
}

// NewFixtures creates a new Fixtures instance using the default conventions.
func NewFixtures(ctx context.Context, db *sql.DB) *Fixtures {
	return NewFixturesWith(ctx, db, schema.NewSerializer(schema.Conventions{}))
}

// NewFixturesWith creates a Fixtures instance with a specific serializer.
func NewFixturesWith(ctx context.Context, db *sql.DB, ser schema.Serializer) *Fixtures {
	return &Fixtures{db: db, ctx: ctx, ser: ser}
}

// InsertTargets stores docs in mt_doc_target, assigning IDs to documents
// without one. Small is duplicated into its own column.
func (f *Fixtures) InsertTargets(docs ...testdocs.Target) ([]testdocs.Target, error) {
	out := make([]testdocs.Target, len(docs))
	copy(out, docs)
	for i := range out {
		if out[i].ID == uuid.Nil {
			out[i].ID = uuid.New()
		}
	}

	for start := 0; start < len(out); start += batchSize {
		end := min(start+batchSize, len(out))
		rows := make([][]any, 0, end-start)
		for _, d := range out[start:end] {
			data, err := f.ser.Marshal(d)
			if err != nil {
				return nil, fmt.Errorf("marshal target %s: %w", d.ID, err)
			}
			rows = append(rows, []any{d.ID, string(data), d.Small})
		}
		if err := f.insert("mt_doc_target", []string{"id", "data", "small"}, rows); err != nil {
			return nil, fmt.Errorf("insert targets %d-%d: %w", start, end, err)
		}
	}
	return out, nil
}

// AuditedRow is one stored Audited document with its metadata columns.
type AuditedRow struct {
	Doc     testdocs.Audited
	Tenant  string
	Deleted bool
}

// InsertAudited stores rows in mt_doc_audited. An empty tenant is the
// default tenant.
func (f *Fixtures) InsertAudited(rows ...AuditedRow) error {
	values := make([][]any, 0, len(rows))
	for _, r := range rows {
		if r.Doc.ID == uuid.Nil {
			r.Doc.ID = uuid.New()
		}
		tenant := r.Tenant
		if tenant == "" {
			tenant = "*DEFAULT*"
		}
		data, err := f.ser.Marshal(r.Doc)
		if err != nil {
			return fmt.Errorf("marshal audited %s: %w", r.Doc.ID, err)
		}
		values = append(values, []any{r.Doc.ID, tenant, string(data), r.Deleted})
	}
	if len(values) == 0 {
		return nil
	}
	return f.insert("mt_doc_audited", []string{"id", "tenant_id", "data", "mt_deleted"}, values)
}

// insert runs one multi-row INSERT. Values for a column named data are cast
// to jsonb.
func (f *Fixtures) insert(table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", table, joinColumns(columns))
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, v := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			args = append(args, v)
			fmt.Fprintf(&sb, "$%d", len(args))
			if columns[j] == "data" {
				sb.WriteString("::jsonb")
			}
		}
		sb.WriteString(")")
	}

	_, err := f.db.ExecContext(f.ctx, sb.String(), args...)
	return err
}
