package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownRegion is returned when a render handle or key does not map to
	// a locally held region.
	ErrUnknownRegion = errors.New("unknown region")

	// ErrNoIdentity is returned when an operation needs an active identity.
	ErrNoIdentity = errors.New("no active identity")
)

// ValidationError reports required input that is absent or out of range.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ParseError reports malformed GeoJSON or dataset content.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TransportError reports an unreachable endpoint.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServerError reports a non-success response from a remote endpoint.
type ServerError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: server error: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: server error: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// ErrorKind classifies err into one of the user-facing error classes.
// A ParseError wrapping a ValidationError is "parse". Errors outside the
// taxonomy are "internal".
func ErrorKind(err error) string {
	var (
		ve *ValidationError
		pe *ParseError
		te *TransportError
		se *ServerError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return "parse"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &te):
		return "transport"
	case errors.As(err, &se):
		return "server"
	case errors.Is(err, ErrUnknownRegion):
		return "unknown_region"
	case errors.Is(err, ErrNoIdentity):
		return "no_identity"
	default:
		return "internal"
	}
}
