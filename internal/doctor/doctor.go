// Package doctor provides health checks for docql definitions and the
// document tables they query.
//
// The doctor command validates that every query in a definitions file
// compiles, and that the database holds a table of the expected shape for
// every document type.
//
// Example usage:
//
//	d := doctor.New(db, set, store, "public")
//	report, err := d.Run(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	report.Print(os.Stdout, true) // verbose=true
package doctor

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/pthm/docql"
	"github.com/pthm/docql/internal/definitions"
	"github.com/pthm/docql/pkg/schema"
)

// Status represents the result of a health check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical issue that will cause failures.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns a status indicator symbol for terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return "✓"
	case StatusWarn:
		return "⚠"
	case StatusFail:
		return "✗"
	default:
		return "?"
	}
}

// CheckResult represents the outcome of a single health check.
type CheckResult struct {
	// Category groups related checks (e.g., "Queries", "Table mt_doc_order").
	Category string

	// Name is a short identifier for the check.
	Name string

	// Status is the check outcome.
	Status Status

	// Message is a human-readable description of the result.
	Message string

	// Details provides additional information for verbose output.
	Details string

	// FixHint suggests how to resolve issues.
	FixHint string
}

// Report contains all health check results.
type Report struct {
	Checks []CheckResult

	// Summary counts.
	Passed   int
	Warnings int
	Errors   int
}

// AddCheck adds a check result and updates summary counts.
func (r *Report) AddCheck(check CheckResult) {
	r.Checks = append(r.Checks, check)
	switch check.Status {
	case StatusPass:
		r.Passed++
	case StatusWarn:
		r.Warnings++
	case StatusFail:
		r.Errors++
	}
}

// Print writes the report to the given writer.
func (r *Report) Print(w io.Writer, verbose bool) {
	// Group checks by category
	categories := make(map[string][]CheckResult)
	var categoryOrder []string
	for _, check := range r.Checks {
		if _, exists := categories[check.Category]; !exists {
			categoryOrder = append(categoryOrder, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	for _, cat := range categoryOrder {
		_, _ = fmt.Fprintf(w, "\n%s\n", cat)
		for _, check := range categories[cat] {
			_, _ = fmt.Fprintf(w, "  %s %s\n", check.Status.Symbol(), check.Message)
			if verbose && check.Details != "" {
				for _, line := range strings.Split(check.Details, "\n") {
					_, _ = fmt.Fprintf(w, "      %s\n", line)
				}
			}
			if check.Status != StatusPass && check.FixHint != "" {
				_, _ = fmt.Fprintf(w, "      Fix: %s\n", check.FixHint)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\nSummary: %d passed, %d warnings, %d errors\n",
		r.Passed, r.Warnings, r.Errors)
}

// HasErrors returns true if any check failed.
func (r *Report) HasErrors() bool {
	return r.Errors > 0
}

// sampleSize is how many documents per table are decoded by the data check.
const sampleSize = 20

// Doctor performs health checks on definitions and document tables.
type Doctor struct {
	db         *sql.DB
	set        *definitions.Set
	store      *docql.Store
	schemaName string
}

// TableInfo describes one document table as found in the catalog.
type TableInfo struct {
	Exists     bool
	RelKind    string // 'r' = table, 'p' = partitioned table, 'v' = view, 'm' = materialized view
	RelKindStr string // human-readable
	Columns    map[string]string
	GINIndexed bool
}

// New creates a new Doctor. db may be nil, in which case only the
// definitions are checked.
func New(db *sql.DB, set *definitions.Set, store *docql.Store, schemaName string) *Doctor {
	return &Doctor{
		db:         db,
		set:        set,
		store:      store,
		schemaName: schemaName,
	}
}

// Run executes all health checks and returns a report.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	d.checkQueries(report)
	if d.db == nil {
		report.AddCheck(CheckResult{
			Category: "Database",
			Name:     "connection",
			Status:   StatusWarn,
			Message:  "No database configured, table checks skipped",
			FixHint:  "Pass --db or set database.url in docql.yaml",
		})
		return report, nil
	}

	for _, name := range d.set.Documents() {
		t, _ := d.set.Type(name)
		m, ok := d.set.Registry.Lookup(t)
		if !ok {
			continue
		}
		if err := d.checkTable(ctx, report, name, m); err != nil {
			return nil, fmt.Errorf("checking table %s: %w", m.Table, err)
		}
	}

	return report, nil
}

// checkQueries compiles every query in the definitions.
func (d *Doctor) checkQueries(report *Report) {
	names := d.set.Names()
	if len(names) == 0 {
		report.AddCheck(CheckResult{
			Category: "Queries",
			Name:     "defined",
			Status:   StatusWarn,
			Message:  "No queries defined",
		})
		return
	}

	for _, name := range names {
		q, err := d.set.Query(name)
		if err == nil {
			_, err = d.store.PreviewCommand(q)
		}
		if err != nil {
			report.AddCheck(CheckResult{
				Category: "Queries",
				Name:     name,
				Status:   StatusFail,
				Message:  fmt.Sprintf("%s does not compile", name),
				Details:  err.Error(),
				FixHint:  "Run 'docql preview " + name + "' for the full error",
			})
			continue
		}
		report.AddCheck(CheckResult{
			Category: "Queries",
			Name:     name,
			Status:   StatusPass,
			Message:  fmt.Sprintf("%s compiles", name),
		})
	}
}

// checkTable validates the table of one document type.
func (d *Doctor) checkTable(ctx context.Context, report *Report, name string, m *schema.DocumentMapping) error {
	category := "Table " + m.Table
	info, err := d.tableInfo(ctx, m.Table)
	if err != nil {
		return err
	}

	if !info.Exists {
		report.AddCheck(CheckResult{
			Category: category,
			Name:     "exists",
			Status:   StatusFail,
			Message:  fmt.Sprintf("%s does not exist", m.Table),
			Details:  fmt.Sprintf("Queries over %s will fail with a missing table error", name),
			FixHint:  fmt.Sprintf("CREATE TABLE %s (id uuid PRIMARY KEY, data jsonb NOT NULL%s)", d.set.Registry.TableFor(m.Type), extraColumnsDDL(m)),
		})
		return nil
	}
	report.AddCheck(CheckResult{
		Category: category,
		Name:     "exists",
		Status:   StatusPass,
		Message:  fmt.Sprintf("%s exists (%s)", m.Table, info.RelKindStr),
	})

	required := map[string]string{schema.ColumnData: "jsonb"}
	if m.SoftDeleted {
		required[schema.ColumnDeleted] = "boolean"
	}
	if m.MultiTenanted {
		required[schema.ColumnTenantID] = ""
	}
	for _, s := range m.Duplicated {
		if s.IsDuplicated() {
			required[s.Column] = ""
		}
	}

	var problems []string
	for _, col := range slices.Sorted(maps.Keys(required)) {
		want := required[col]
		got, ok := info.Columns[col]
		switch {
		case !ok:
			problems = append(problems, "missing column "+col)
		case want != "" && got != want:
			problems = append(problems, fmt.Sprintf("column %s is %s, want %s", col, got, want))
		}
	}
	if len(problems) > 0 {
		report.AddCheck(CheckResult{
			Category: category,
			Name:     "columns",
			Status:   StatusFail,
			Message:  strings.Join(problems, "; "),
			Details:  fmt.Sprintf("Found columns: %s", strings.Join(slices.Sorted(maps.Keys(info.Columns)), ", ")),
			FixHint:  "Add the columns the mapping of " + name + " expects: " + strings.TrimPrefix(extraColumnsDDL(m), ", "),
		})
	} else {
		report.AddCheck(CheckResult{
			Category: category,
			Name:     "columns",
			Status:   StatusPass,
			Message:  "All required columns present",
		})
	}

	if !info.GINIndexed && (info.RelKind == "r" || info.RelKind == "p") {
		report.AddCheck(CheckResult{
			Category: category,
			Name:     "index",
			Status:   StatusWarn,
			Message:  "No GIN index on data",
			Details:  "Containment and key-existence filters will scan the table",
			FixHint:  fmt.Sprintf("CREATE INDEX ON %s USING gin (data jsonb_path_ops)", schema.QuoteIdent(m.Table)),
		})
	}

	if _, ok := info.Columns[schema.ColumnData]; ok {
		d.checkData(ctx, report, category, name)
	}
	return nil
}

// checkData decodes a sample of stored documents into the defined type.
func (d *Doctor) checkData(ctx context.Context, report *Report, category, name string) {
	t, _ := d.set.Type(name)
	rows, err := d.store.FetchRaw(ctx, docql.FromType(t).IncludeDeleted().AnyTenant().Take(sampleSize))
	if err != nil {
		report.AddCheck(CheckResult{
			Category: category,
			Name:     "data",
			Status:   StatusWarn,
			Message:  "Could not read documents",
			Details:  err.Error(),
		})
		return
	}
	if len(rows) == 0 {
		report.AddCheck(CheckResult{
			Category: category,
			Name:     "data",
			Status:   StatusWarn,
			Message:  "Table is empty",
			Details:  "Query results cannot be checked against stored documents",
		})
		return
	}

	ser := schema.NewSerializer(d.store.Conventions())
	var bad []string
	for i, raw := range rows {
		v := reflect.New(t).Interface()
		if err := ser.Unmarshal(raw, v); err != nil {
			bad = append(bad, fmt.Sprintf("row %d: %v", i+1, err))
		}
	}
	if len(bad) > 0 {
		report.AddCheck(CheckResult{
			Category: category,
			Name:     "data",
			Status:   StatusFail,
			Message:  fmt.Sprintf("%d of %d sampled documents do not decode as %s", len(bad), len(rows), name),
			Details:  strings.Join(bad, "\n"),
			FixHint:  "Align the field types in the definitions with the stored JSON",
		})
		return
	}
	report.AddCheck(CheckResult{
		Category: category,
		Name:     "data",
		Status:   StatusPass,
		Message:  fmt.Sprintf("%d sampled documents decode as %s", len(rows), name),
	})
}

// tableInfo retrieves catalog information about a document table.
func (d *Doctor) tableInfo(ctx context.Context, table string) (*TableInfo, error) {
	info := &TableInfo{Columns: make(map[string]string)}

	var relKind string
	err := d.db.QueryRowContext(ctx, `
		SELECT c.relkind
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relname = $1
		AND n.nspname = COALESCE(NULLIF($2, ''), current_schema())
		AND c.relkind IN ('r', 'p', 'v', 'm')
	`, table, d.schemaName).Scan(&relKind)

	if err == sql.ErrNoRows {
		return info, nil
	}
	if err != nil {
		return nil, err
	}

	info.Exists = true
	info.RelKind = relKind
	switch relKind {
	case "r":
		info.RelKindStr = "table"
	case "p":
		info.RelKindStr = "partitioned table"
	case "v":
		info.RelKindStr = "view"
	case "m":
		info.RelKindStr = "materialized view"
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT a.attname, format_type(a.atttypid, a.atttypmod)
		FROM pg_attribute a
		JOIN pg_class c ON a.attrelid = c.oid
		JOIN pg_namespace n ON c.relnamespace = n.oid
		WHERE c.relname = $1
		AND n.nspname = COALESCE(NULLIF($2, ''), current_schema())
		AND a.attnum > 0
		AND NOT a.attisdropped
		ORDER BY a.attnum
	`, table, d.schemaName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var col, typ string
		if err := rows.Scan(&col, &typ); err != nil {
			return nil, err
		}
		info.Columns[col] = typ
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = d.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM pg_indexes
			WHERE tablename = $1
			AND schemaname = COALESCE(NULLIF($2, ''), current_schema())
			AND indexdef ILIKE '%USING gin%data%'
		)
	`, table, d.schemaName).Scan(&info.GINIndexed)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// extraColumnsDDL lists the column definitions the mapping adds to data.
func extraColumnsDDL(m *schema.DocumentMapping) string {
	var sb strings.Builder
	if m.SoftDeleted {
		sb.WriteString(", " + schema.ColumnDeleted + " boolean NOT NULL DEFAULT FALSE")
	}
	if m.MultiTenanted {
		sb.WriteString(", " + schema.ColumnTenantID + " varchar NOT NULL")
	}
	for _, path := range slices.Sorted(maps.Keys(m.Duplicated)) {
		s := m.Duplicated[path]
		sb.WriteString(", " + schema.QuoteIdent(s.Column) + " " + s.DBType)
	}
	return sb.String()
}
