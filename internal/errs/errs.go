// Package errs defines the error taxonomy shared by the normalizer and the
// workflow engine.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every *Error unwraps to exactly one of them.
var (
	// ErrValidation marks bad caller input. Reported, never retried.
	ErrValidation = errors.New("validation failed")
	// ErrInternal marks schema misconfiguration or misuse of a component.
	ErrInternal = errors.New("internal invariant violated")
	// ErrState marks a workflow transition attempted from an invalid state.
	ErrState = errors.New("invalid state")
)

type Code string

const (
	MissingRequiredField    Code = "missing_required_field"
	TypeMismatch            Code = "type_mismatch"
	UnexpectedField         Code = "unexpected_field"
	InvalidKeyValue         Code = "invalid_key_value"
	InvalidForeignObject    Code = "invalid_foreign_object"
	InvalidStepperShape     Code = "invalid_stepper_shape"
	NewDocumentUnauthorized Code = "new_document_unauthorized"
	InvalidState            Code = "invalid_state"
	IncompleteDescendant    Code = "incomplete_descendant"
	SchemaMisconfigured     Code = "schema_misconfigured"
	NotStoreBacked          Code = "not_store_backed"
	BatchCommitted          Code = "batch_committed"
	UnknownType             Code = "unknown_type"
	DuplicateDocument       Code = "duplicate_document"
)

// Error carries the kind, a machine readable code and the operation that
// failed. IDs lists offending document ids when the failure names them.
type Error struct {
	Kind error
	Code Code
	Op   string
	Msg  string
	IDs  []string
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Code))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if len(e.IDs) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.IDs, ", "))
		b.WriteString("]")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

func newf(kind error, op string, code Code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Validation(op string, code Code, format string, args ...any) *Error {
	return newf(ErrValidation, op, code, format, args...)
}

func Internal(op string, code Code, format string, args ...any) *Error {
	return newf(ErrInternal, op, code, format, args...)
}

func State(op string, code Code, format string, args ...any) *Error {
	return newf(ErrState, op, code, format, args...)
}

// WithIDs attaches offending ids to the error and returns it.
func (e *Error) WithIDs(ids ...string) *Error {
	e.IDs = append(e.IDs, ids...)
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IDsOf returns the ids attached to the first *Error in err's chain.
func IDsOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.IDs
	}
	return nil
}
