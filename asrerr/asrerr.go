// Package asrerr defines the error kinds reported by the decoder.
//
// Setup failures (configuration, resource loading, model dispatch and
// dimension checks) are kept apart from recoverable per-call failures
// (bad sample format, empty search, malformed lattice). Kind.Setup tells
// them apart.
package asrerr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error kind.
type Kind string

const (
	ConfigInvalid            Kind = "CONFIG_INVALID"
	ResourceLoadError        Kind = "RESOURCE_LOAD_ERROR"
	InvalidModelType         Kind = "INVALID_MODEL_TYPE"
	DimensionMismatch        Kind = "DIMENSION_MISMATCH"
	UnsupportedSampleFormat  Kind = "UNSUPPORTED_SAMPLE_FORMAT"
	UnsupportedConfiguration Kind = "UNSUPPORTED_CONFIGURATION"
	NoFramesDecoded          Kind = "NO_FRAMES_DECODED"
	NotAcyclic               Kind = "NOT_ACYCLIC"
)

// Setup reports whether k belongs to the setup failure path.
func (k Kind) Setup() bool {
	switch k {
	case ConfigInvalid, ResourceLoadError, InvalidModelType, DimensionMismatch:
		return true
	}
	return false
}

// Error is the error type returned across package boundaries.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "setup" or "lattice".
	Op string
	// Resource names the file or object involved, if any.
	Resource string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Resource != "" {
		msg += " " + e.Resource
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithResource sets the resource name and returns the receiver.
func (e *Error) WithResource(name string) *Error {
	e.Resource = name
	return e
}

// WithCause sets the underlying cause and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// Sentinels for errors.Is.
var (
	ErrConfigInvalid            = &Error{Kind: ConfigInvalid}
	ErrResourceLoad             = &Error{Kind: ResourceLoadError}
	ErrInvalidModelType         = &Error{Kind: InvalidModelType}
	ErrDimensionMismatch        = &Error{Kind: DimensionMismatch}
	ErrUnsupportedSampleFormat  = &Error{Kind: UnsupportedSampleFormat}
	ErrUnsupportedConfiguration = &Error{Kind: UnsupportedConfiguration}
	ErrNoFramesDecoded          = &Error{Kind: NoFramesDecoded}
	ErrNotAcyclic               = &Error{Kind: NotAcyclic}
)

// New creates an error of the given kind.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsSetup reports whether err is a setup failure.
func IsSetup(err error) bool {
	return KindOf(err).Setup()
}
