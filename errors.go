package docql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/pthm/docql/internal/errs"
	"github.com/pthm/docql/pkg/schema"
)

// Sentinel errors for compile failures. Every error returned while compiling a
// query wraps exactly one of these, whichever stage detected the problem.
// Compile failures are deterministic: retrying the same query fails the same
// way.
//
// Use the Is*Err helper functions to branch on a failure class.
var (
	// ErrUnsupportedMemberKind is returned when a member path reaches a Go type
	// that has no JSON path or cast strategy.
	ErrUnsupportedMemberKind = errs.ErrUnsupportedMemberKind

	// ErrUnsupportedExpression is returned when a node, member or method call
	// has no SQL translation.
	ErrUnsupportedExpression = errs.ErrUnsupportedExpression

	// ErrTypeMismatch is returned when a comparison's operands cannot be
	// compared, or a compiled query is bound with a value of the wrong type.
	ErrTypeMismatch = errs.ErrTypeMismatch

	// ErrInvalidCompiledQuery is returned by PlanFor when a template cannot be
	// planned: a field type it cannot rebind, SQL that depends on field values,
	// or a channel or func result type.
	ErrInvalidCompiledQuery = errs.ErrInvalidCompiledQuery

	// ErrNotSupportedDirectInvocation is returned when a marker method such as
	// IsDeleted is evaluated in memory instead of being translated.
	ErrNotSupportedDirectInvocation = errs.ErrNotSupportedDirectInvocation

	// ErrInvalidMapping is returned by NewStore when the document mapping fails
	// validation.
	ErrInvalidMapping = schema.ErrInvalidMapping

	// ErrNoDocuments is returned by First and Single queries that match nothing.
	ErrNoDocuments = errors.New("docql: no documents matched")

	// ErrMultipleDocuments is returned by Single queries that match more than
	// one document.
	ErrMultipleDocuments = errors.New("docql: more than one document matched")

	// ErrMissingTable is returned when a query runs against a document table
	// that does not exist. Create the table before querying the type.
	ErrMissingTable = errors.New("docql: document table not found")
)

// Error is a compile failure naming the offending member, call or type.
type Error = errs.Error

// IsUnsupportedMemberKindErr returns true if err is or wraps ErrUnsupportedMemberKind.
func IsUnsupportedMemberKindErr(err error) bool {
	return errors.Is(err, ErrUnsupportedMemberKind)
}

// IsUnsupportedExpressionErr returns true if err is or wraps ErrUnsupportedExpression.
func IsUnsupportedExpressionErr(err error) bool {
	return errors.Is(err, ErrUnsupportedExpression)
}

// IsTypeMismatchErr returns true if err is or wraps ErrTypeMismatch.
func IsTypeMismatchErr(err error) bool {
	return errors.Is(err, ErrTypeMismatch)
}

// IsInvalidCompiledQueryErr returns true if err is or wraps ErrInvalidCompiledQuery.
func IsInvalidCompiledQueryErr(err error) bool {
	return errors.Is(err, ErrInvalidCompiledQuery)
}

// IsNotSupportedDirectInvocationErr returns true if err is or wraps
// ErrNotSupportedDirectInvocation.
func IsNotSupportedDirectInvocationErr(err error) bool {
	return errors.Is(err, ErrNotSupportedDirectInvocation)
}

// IsNoDocumentsErr returns true if err is or wraps ErrNoDocuments.
func IsNoDocumentsErr(err error) bool {
	return errors.Is(err, ErrNoDocuments)
}

// IsMissingTableErr returns true if err is or wraps ErrMissingTable.
func IsMissingTableErr(err error) bool {
	return errors.Is(err, ErrMissingTable)
}

// PostgreSQL error codes for error mapping.
const (
	pgUndefinedTable  = "42P01" // undefined_table
	pgUndefinedColumn = "42703" // undefined_column
)

// mapError maps PostgreSQL errors to sentinel errors.
// Uses interface-based detection to work with any PostgreSQL driver (pq, pgx).
func mapError(operation string, err error) error {
	switch sqlState(err) {
	case pgUndefinedTable:
		return fmt.Errorf("%s: %w: %v", operation, ErrMissingTable, err)
	case pgUndefinedColumn:
		if strings.Contains(err.Error(), "mt_deleted") || strings.Contains(err.Error(), "tenant_id") {
			return fmt.Errorf("%s: %w: table lacks the soft-delete or tenancy columns its mapping declares: %v", operation, ErrMissingTable, err)
		}
	}
	return fmt.Errorf("%s: %w", operation, err)
}

// sqlState extracts the SQLSTATE code from a PostgreSQL error raised by the
// pgx or lib/pq driver. Returns empty string for any other error.
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
