// Package cli provides shared configuration and utilities for the docql CLI.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/pthm/docql/internal/errs"
)

// Exit codes.
const (
	ExitSuccess     = 0
	ExitGeneral     = 1
	ExitConfig      = 2
	ExitDefinitions = 3
	ExitDBConnect   = 4
	ExitCompile     = 5
)

// ExitError carries the process exit code for a failure.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func exitError(code int) func(string, error) *ExitError {
	return func(msg string, err error) *ExitError {
		return &ExitError{Code: code, Message: msg, Err: err}
	}
}

var (
	// GeneralError exits with ExitGeneral.
	GeneralError = exitError(ExitGeneral)
	// ConfigError exits with ExitConfig.
	ConfigError = exitError(ExitConfig)
	// DefinitionsError exits with ExitDefinitions.
	DefinitionsError = exitError(ExitDefinitions)
	// DBConnectError exits with ExitDBConnect.
	DBConnectError = exitError(ExitDBConnect)
	// CompileError exits with ExitCompile: the definitions loaded but a query
	// could not be translated.
	CompileError = exitError(ExitCompile)
)

var compileKinds = []error{
	errs.ErrUnsupportedMemberKind,
	errs.ErrUnsupportedExpression,
	errs.ErrTypeMismatch,
	errs.ErrInvalidCompiledQuery,
	errs.ErrNotSupportedDirectInvocation,
}

// ExitCode returns the exit code for err. Compile failures that reach the
// top level without an ExitError still exit with ExitCompile.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	for _, kind := range compileKinds {
		if errors.Is(err, kind) {
			return ExitCompile
		}
	}
	return ExitGeneral
}

// Report writes err to w and returns its exit code.
func Report(w io.Writer, err error) int {
	fmt.Fprintln(w, "Error:", err)
	return ExitCode(err)
}
