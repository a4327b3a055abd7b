// Package errs defines the coded error taxonomy shared by search, storage and ingestion.
//
// Every error carries a machine-readable Code (via samber/oops) and wraps one of the
// package sentinels, so callers can use either HasCode or errors.Is.
package errs

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeInvalidRole       Code = "search.role.invalid"
	CodeDimensionMismatch Code = "search.vector.dimension_mismatch"
	CodeInvalidArgument   Code = "search.request.invalid"
	CodeStoreUnavailable  Code = "store.backend.unavailable"
	CodeIntegrity         Code = "store.document.integrity"
	CodeInvalidDocument   Code = "ingest.document.invalid"
	CodeEmbedFailure      Code = "llm.embed.failure"
	CodeGenerateFailure   Code = "llm.generate.failure"
	CodeConfigInvalid     Code = "config.validate.invalid"
)

var (
	ErrInvalidRole       = errors.New("invalid role")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrStoreUnavailable  = errors.New("document store unavailable")
	ErrIntegrity         = errors.New("document integrity violation")
	ErrInvalidDocument   = errors.New("invalid document")
	ErrEmbedFailure      = errors.New("embedding failed")
	ErrGenerateFailure   = errors.New("generation failed")
	ErrConfigInvalid     = errors.New("invalid configuration")
)

var sentinels = map[Code]error{
	CodeInvalidRole:       ErrInvalidRole,
	CodeDimensionMismatch: ErrDimensionMismatch,
	CodeInvalidArgument:   ErrInvalidArgument,
	CodeStoreUnavailable:  ErrStoreUnavailable,
	CodeIntegrity:         ErrIntegrity,
	CodeInvalidDocument:   ErrInvalidDocument,
	CodeEmbedFailure:      ErrEmbedFailure,
	CodeGenerateFailure:   ErrGenerateFailure,
	CodeConfigInvalid:     ErrConfigInvalid,
}

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

// New creates an error for code whose chain contains the code's sentinel.
func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).Wrapf(sentinel(code), "%s", msg)
}

// Errorf is New with a format string.
func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Wrapf(sentinel(code), format, args...)
}

// Wrap attaches code to err. The code's sentinel is joined into the chain so
// errors.Is keeps working alongside the original cause.
func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	joined := fmt.Errorf("%w: %w", sentinel(code), err)
	return oops.Code(code).With(flatten(fields)...).Wrapf(joined, "%s", msg)
}

// CodeOf returns the code attached to err, or "" for uncoded errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}
	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}
	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code || errors.Is(err, sentinel(code))
}

// FieldsOf returns the structured context attached to err.
func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

// Public maps err to the message a presentation layer may show. Internal
// detail (SQL, hostnames, model names) never reaches the caller.
func Public(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRole):
		return "Unrecognized role."
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrDimensionMismatch):
		return "The request could not be processed."
	case errors.Is(err, ErrInvalidDocument):
		return "One or more documents are invalid."
	case errors.Is(err, ErrConfigInvalid):
		return "The configuration is invalid."
	default:
		return "Something went wrong while answering. Please try again."
	}
}

func sentinel(code Code) error {
	if err, ok := sentinels[code]; ok {
		return err
	}
	return errors.New(string(code))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}
