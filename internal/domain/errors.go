package domain

import (
	"errors"
)

// Error taxonomy shared by the engine, the analyzers and the store.
// Callers match with errors.Is; wrapped context is added with %w.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("record not found")
	ErrConflict            = errors.New("already resolved")
	ErrNoData              = errors.New("no data to analyze")
	ErrUnsupportedDataType = errors.New("unsupported data type")
	ErrUpstream            = errors.New("record repository failure")
)

// Error kinds reported for failed comprehensive-run branches.
const (
	KindValidation          = "validation"
	KindNotFound            = "not_found"
	KindConflict            = "conflict"
	KindNoData              = "no_data"
	KindUnsupportedDataType = "unsupported_data_type"
	KindUpstream            = "upstream"
	KindInternal            = "internal"
)

// ErrorKind classifies err into one of the Kind constants.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNoData):
		return KindNoData
	case errors.Is(err, ErrUnsupportedDataType):
		return KindUnsupportedDataType
	case errors.Is(err, ErrUpstream):
		return KindUpstream
	default:
		return KindInternal
	}
}

// UpstreamError marks a failure of the external record repository while keeping the cause.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return "upstream " + e.Op + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstream, e.Err}
}

// Upstream wraps err as an UpstreamError; nil stays nil.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	return &UpstreamError{Op: op, Err: err}
}
