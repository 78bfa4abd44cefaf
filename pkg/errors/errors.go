// Package errors defines the fault taxonomy shared by the push pipeline:
// sentinel errors for every per-record and startup fault, and an AppError
// wrapper that carries the fault kind so callers can decide between dropping
// a record and halting the stream.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrDecodeBinaryKey           = errors.New("invalid binary-encoded key")
	ErrDecodeTextKey             = errors.New("invalid json-encoded key")
	ErrDecodeDocument            = errors.New("invalid embedded document")
	ErrMissingID                 = errors.New("missing-id")
	ErrMissingPartitionTimestamp = errors.New("missing-partition-timestamp")
	ErrMissingDocument           = errors.New("missing-document")
	ErrInvalidConfig             = errors.New("invalid configuration")
	ErrUnknownStream             = errors.New("no stream configured for topic")
	ErrBulkRequest               = errors.New("bulk request failed")
	ErrBulkRejected              = errors.New("rejected by index")
	ErrInternal                  = errors.New("internal error")
)

// Kind classifies a fault.
type Kind int

const (
	KindInternal Kind = iota
	KindDecode
	KindValidation
	KindConfig
	KindIndex
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindValidation:
		return "validation"
	case KindConfig:
		return "config"
	case KindIndex:
		return "index"
	default:
		return "internal"
	}
}

type AppError struct {
	Err     error
	Message string
	Kind    Kind
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, kind Kind, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: message,
		Kind:    kind,
	}
}

func Newf(sentinel error, kind Kind, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
		Kind:    kind,
	}
}

// KindOf reports the fault kind of err. Errors that carry no kind are
// classified by their sentinel.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	switch {
	case errors.Is(err, ErrDecodeBinaryKey), errors.Is(err, ErrDecodeTextKey), errors.Is(err, ErrDecodeDocument):
		return KindDecode
	case errors.Is(err, ErrMissingID), errors.Is(err, ErrMissingPartitionTimestamp), errors.Is(err, ErrMissingDocument):
		return KindValidation
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrUnknownStream):
		return KindConfig
	case errors.Is(err, ErrBulkRejected):
		return KindIndex
	default:
		return KindInternal
	}
}

// IsRecordFault reports whether err rejects a single record. Record faults
// fail identically on retry.
func IsRecordFault(err error) bool {
	switch KindOf(err) {
	case KindDecode, KindValidation:
		return true
	default:
		return false
	}
}
