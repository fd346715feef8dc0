// Package errs implements the unified error taxonomy and retry
// classification described in spec.md §7.
package errs

import (
	"errors"
	"fmt"
	"time"

	multierror "github.com/hashicorp/go-multierror"
)

// Kind enumerates the error kinds from spec.md §7.
type Kind string

const (
	InvalidArgument      Kind = "InvalidArgument"
	OutOfMemory          Kind = "OutOfMemory"
	FileNotFound         Kind = "FileNotFound"
	FileAccess           Kind = "FileAccess"
	Io                   Kind = "Io"
	Network              Kind = "Network"
	Ftp                  Kind = "Ftp"
	ConfigParse          Kind = "ConfigParse"
	ConfigValidation     Kind = "ConfigValidation"
	ChunkIntegrity       Kind = "ChunkIntegrity"
	ManifestCorrupt      Kind = "ManifestCorrupt"
	ServerUnavailable    Kind = "ServerUnavailable"
	InsufficientServers  Kind = "InsufficientServers"
	Crypto               Kind = "Crypto"
	Timeout              Kind = "Timeout"
	Cancelled            Kind = "Cancelled"
	UploadFailed         Kind = "UploadFailed"
	DownloadFailed       Kind = "DownloadFailed"
	Unknown              Kind = "Unknown"
)

// retryableKinds are the kinds that spec.md §4.2 marks retryable by
// default when no more specific classification (e.g. from the
// transport) overrides it.
var retryableKinds = map[Kind]bool{
	Network:             true,
	Ftp:                 true,
	Timeout:             true,
	ServerUnavailable:   true,
	InsufficientServers: true,
}

// Error is netchunk's structured error type. It wraps an underlying
// cause (if any) and records whether the operation may be retried.
type Error struct {
	Kind      Kind
	Message   string
	Server    string // server_id, if the error is server-scoped
	Timestamp time.Time
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Server != "" {
		return fmt.Sprintf("%s: %s (server: %s)", e.Kind, e.Message, e.Server)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the error suggests the caller should
// retry the operation.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// New creates an Error of the given kind, defaulting retryability from
// retryableKinds unless overridden by WithRetryable.
func New(kind Kind, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableKinds[kind],
		Cause:     cause,
	}
}

// WithServer attaches a server_id to the error.
func (e *Error) WithServer(serverID string) *Error {
	e.Server = serverID
	return e
}

// WithRetryable overrides the default retryability classification.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsRetryable reports whether err is retryable per its classification.
// A plain (non-*Error) err is treated as non-retryable: only errors
// this package has explicitly classified get another attempt.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// KindOf returns the Kind carried by err, or Unknown if err is not an
// *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// MultiError aggregates independent failures from a best-effort
// fan-out operation (e.g. deleting every replica of a chunk, or
// deleting a manifest from every server) where no single failure is
// fatal to the operation as a whole.
type MultiError struct {
	inner *multierror.Error
}

// NewMultiError returns an empty aggregator.
func NewMultiError() *MultiError {
	return &MultiError{inner: &multierror.Error{}}
}

// Add appends err to the aggregate, if non-nil.
func (m *MultiError) Add(err error) {
	if err == nil {
		return
	}
	m.inner = multierror.Append(m.inner, err)
}

// Len returns the number of errors aggregated.
func (m *MultiError) Len() int {
	if m.inner == nil {
		return 0
	}
	return len(m.inner.Errors)
}

// ErrorOrNil returns the aggregate error, or nil if nothing was added.
func (m *MultiError) ErrorOrNil() error {
	return m.inner.ErrorOrNil()
}
