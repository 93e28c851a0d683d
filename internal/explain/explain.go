// Package explain runs EXPLAIN for compiled commands and parses the plans
// PostgreSQL returns, in JSON or text format.
package explain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"

	"github.com/pthm/docql/pkg/sqldsl"
)

// Querier executes queries. Implemented by *sql.DB, *sql.Tx and *sql.Conn.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Options selects the EXPLAIN options. Timing only applies with Analyze.
type Options struct {
	Analyze bool
	Buffers bool
	Costs   bool
	Timing  bool
	Verbose bool
}

// DefaultOptions shows estimated costs without running the query.
func DefaultOptions() Options {
	return Options{Costs: true}
}

// Prefix renders the EXPLAIN clause for format ("JSON" or "TEXT").
func (o Options) Prefix(format string) string {
	parts := []string{"FORMAT " + format}
	if o.Analyze {
		parts = append(parts, "ANALYZE")
		if o.Timing {
			parts = append(parts, "TIMING")
		} else {
			parts = append(parts, "TIMING FALSE")
		}
	}
	if o.Buffers {
		parts = append(parts, "BUFFERS")
	}
	if o.Verbose {
		parts = append(parts, "VERBOSE")
	}
	if !o.Costs {
		parts = append(parts, "COSTS FALSE")
	}
	return "EXPLAIN (" + strings.Join(parts, ", ") + ") "
}

// DatabaseError is a PostgreSQL failure while explaining, with its SQLSTATE.
type DatabaseError struct {
	Code    string
	Message string
	Err     error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("explain failed (SQLSTATE %s): %s", e.Code, e.Message)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// wrapDBError attaches the SQLSTATE of pgx and lib/pq errors.
func wrapDBError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &DatabaseError{Code: pgErr.Code, Message: pgErr.Message, Err: err}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &DatabaseError{Code: string(pqErr.Code), Message: pqErr.Message, Err: err}
	}
	return fmt.Errorf("explain: %w", err)
}

// Run explains cmd in JSON format and parses the result.
func Run(ctx context.Context, q Querier, cmd sqldsl.Command, opts Options) (*Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := q.QueryContext(ctx, opts.Prefix("JSON")+cmd.SQL, cmd.Args()...)
	if err != nil {
		return nil, wrapDBError(err)
	}
	defer rows.Close()

	var doc []byte
	for rows.Next() {
		var chunk []byte
		if err := rows.Scan(&chunk); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		doc = append(doc, chunk...)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError(err)
	}
	return ParseJSON(doc)
}

// RunText explains cmd in text format and returns the plan lines joined.
func RunText(ctx context.Context, q Querier, cmd sqldsl.Command, opts Options) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := q.QueryContext(ctx, opts.Prefix("TEXT")+cmd.SQL, cmd.Args()...)
	if err != nil {
		return "", wrapDBError(err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return "", fmt.Errorf("scan plan line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return "", wrapDBError(err)
	}
	return strings.Join(lines, "\n"), nil
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary
