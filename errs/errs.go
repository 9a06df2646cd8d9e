// Package errs defines the error taxonomy shared by every pipeline stage.
//
// Stages wrap these sentinels with fmt.Errorf("...: %w") so callers can
// classify a failure with errors.Is without parsing messages.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound reports a missing source file or artifact.
	ErrNotFound = errors.New("not found")
	// ErrRead reports an I/O or format failure while reading.
	ErrRead = errors.New("read error")
	// ErrWrite reports an I/O, constraint or commit failure while writing.
	ErrWrite = errors.New("write error")
	// ErrSchema reports a missing or ill-typed column.
	ErrSchema = errors.New("schema error")
	// ErrConnection reports an unreachable sink.
	ErrConnection = errors.New("connection error")
	// ErrFit reports that a model could not be fitted on the given data.
	ErrFit = errors.New("fit error")
)

// SchemaError describes a table that does not satisfy a stage's column
// requirements. It unwraps to ErrSchema.
type SchemaError struct {
	Op      string
	Missing []string
	Reason  string
}

// MissingColumns returns a SchemaError listing the absent columns.
func MissingColumns(op string, names ...string) *SchemaError {
	return &SchemaError{Op: op, Missing: names}
}

// InvalidColumn returns a SchemaError for a column that is present but unusable.
func InvalidColumn(op, column, reason string) *SchemaError {
	return &SchemaError{Op: op, Reason: fmt.Sprintf("column %q %s", column, reason)}
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(ErrSchema.Error())
	if len(e.Missing) > 0 {
		b.WriteString(": missing columns ")
		b.WriteString(strings.Join(e.Missing, ", "))
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// Retryable reports whether rerunning the failed operation may succeed.
// Schema, missing-input and fit failures are deterministic for a given input.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrSchema) && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrFit)
}
