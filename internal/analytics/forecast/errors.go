package forecast

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures.
type Kind int

const (
	KindUnknown Kind = iota
	// DataUnavailable means the sales source could not be reached.
	DataUnavailable
	// InsufficientData means fewer rows than the fit floor were available.
	InsufficientData
	// ModelFitError means the fitting step rejected the data.
	ModelFitError
	// SchemaMismatch means a trained regressor was absent or misaligned at predict time.
	SchemaMismatch
	// Timeout means the run exceeded its time budget.
	Timeout
)

func (k Kind) String() string {
	switch k {
	case DataUnavailable:
		return "DataUnavailable"
	case InsufficientData:
		return "InsufficientData"
	case ModelFitError:
		return "ModelFitError"
	case SchemaMismatch:
		return "SchemaMismatch"
	case Timeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Error is the typed failure returned by every pipeline stage.
type Error struct {
	Kind     Kind
	Message  string
	RowCount int // observed rows, set for InsufficientData
	MinRows  int // required rows, set for InsufficientData
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.String() + ": " + e.Message
	if e.Kind == InsufficientData {
		msg = fmt.Sprintf("%s (rows=%d, min=%d)", msg, e.RowCount, e.MinRows)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an error of the given kind.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an error of the given kind around a cause.
func WrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewInsufficientData reports the observed row count against the floor.
func NewInsufficientData(rows, minRows int) *Error {
	return &Error{
		Kind:     InsufficientData,
		Message:  "not enough history for a reliable fit",
		RowCount: rows,
		MinRows:  minRows,
	}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// AsError returns the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var fe *Error
	ok := errors.As(err, &fe)
	return fe, ok
}
