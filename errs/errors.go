// Package errs defines the error taxonomy shared by the f3 writer, reader and codec backends.
//
// Callers classify failures with errors.Is against the sentinels below. Structured
// errors (EncodeFailedError, SandboxFaultError) carry extra context and match their
// sentinel through Is.
package errs

import (
	"errors"
	"fmt"
)

// Metadata and layout errors.
var (
	ErrNotAnF3File         = errors.New("not an f3 file")
	ErrUnsupportedVersion  = errors.New("unsupported format version")
	ErrCorruptMetadata     = errors.New("corrupt metadata")
	ErrChecksumMismatch    = errors.New("checksum mismatch")
	ErrColumnNotFound      = errors.New("column not found")
	ErrRowRangeOutOfBounds = errors.New("row range out of bounds")
)

// Codec and dictionary errors.
var (
	ErrCodecMismatch               = errors.New("no codec available for encoding unit")
	ErrDanglingDictionaryReference = errors.New("dangling dictionary reference")
	ErrEncodeFailed                = errors.New("encode failed")
	ErrSandboxFault                = errors.New("sandbox fault")
	ErrResourceLimitExceeded       = errors.New("resource limit exceeded")
	ErrRegistryFrozen              = errors.New("codec registry is frozen")
	ErrDuplicateCodec              = errors.New("codec already registered")
	ErrInvalidBatch                = errors.New("invalid batch")
)

// Writer errors.
var (
	ErrWriterClosed   = errors.New("writer is closed")
	ErrWriterFailed   = errors.New("writer failed")
	ErrSchemaMismatch = errors.New("batch does not match schema")
	ErrInvalidSchema  = errors.New("invalid schema")
)

// EncodeFailedError reports a codec failure while encoding one column.
type EncodeFailedError struct {
	Column string
	Cause  error
}

func (e *EncodeFailedError) Error() string {
	return fmt.Sprintf("encode failed: column %q: %v", e.Column, e.Cause)
}

// Is reports whether target is ErrEncodeFailed.
func (e *EncodeFailedError) Is(target error) bool {
	return target == ErrEncodeFailed
}

// Unwrap returns the underlying codec error.
func (e *EncodeFailedError) Unwrap() error {
	return e.Cause
}

// SandboxFaultError reports a trap, ABI violation or limit breach inside a sandboxed codec.
//
// When the fault is a limit breach Err wraps ErrResourceLimitExceeded, so the error
// matches both ErrSandboxFault and ErrResourceLimitExceeded.
type SandboxFaultError struct {
	Codec  string
	Reason string
	Err    error
}

func (e *SandboxFaultError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sandbox fault: codec %q: %s: %v", e.Codec, e.Reason, e.Err)
	}

	return fmt.Sprintf("sandbox fault: codec %q: %s", e.Codec, e.Reason)
}

// Is reports whether target is ErrSandboxFault.
func (e *SandboxFaultError) Is(target error) bool {
	return target == ErrSandboxFault
}

// Unwrap returns the underlying runtime error.
func (e *SandboxFaultError) Unwrap() error {
	return e.Err
}

// NewSandboxFault creates a SandboxFaultError.
func NewSandboxFault(codec, reason string, err error) *SandboxFaultError {
	return &SandboxFaultError{Codec: codec, Reason: reason, Err: err}
}

// NewResourceLimitFault creates a SandboxFaultError that also matches ErrResourceLimitExceeded.
func NewResourceLimitFault(codec, reason string, err error) *SandboxFaultError {
	if err == nil {
		return &SandboxFaultError{Codec: codec, Reason: reason, Err: ErrResourceLimitExceeded}
	}

	return &SandboxFaultError{Codec: codec, Reason: reason, Err: fmt.Errorf("%w: %w", ErrResourceLimitExceeded, err)}
}
