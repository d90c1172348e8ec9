package game

import (
	"errors"
	"fmt"
)

// Code is the stable, client-facing error code.
type Code string

const (
	CodeSessionNotFound  Code = "session_not_found"
	CodeSessionNotActive Code = "session_not_active"
	CodeSessionExpired   Code = "session_expired"
	CodeInvalidActionSeq Code = "invalid_action_seq"
	CodeSessionNotReady  Code = "session_not_ready"
	CodeInsufficientRC   Code = "insufficient_rc"
	CodeInvalidInput     Code = "invalid_input"
	CodeInvalidVariant   Code = "invalid_variant"
)

// TablesMissing is the per-variant "feature not provisioned" code.
func TablesMissing(v Variant) Code {
	return Code(string(v) + "_tables_missing")
}

// Error is a domain error carrying a stable code and optional metadata the
// client can act on.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]any
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func WithMetadata(code Code, message string, metadata map[string]any) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// CodeOf extracts the domain code from err, or "" when err is not a domain error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTablesMissing reports whether code is one of the *_tables_missing codes.
func IsTablesMissing(code Code) bool {
	switch code {
	case TablesMissing(VariantArena), TablesMissing(VariantRaid), TablesMissing(VariantPvP):
		return true
	}
	return false
}

// storeErr converts store sentinels into domain errors for variant v.
func storeErr(v Variant, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTablesMissing) {
		return &Error{Code: TablesMissing(v), Message: string(v) + " session tables are not provisioned", Cause: err}
	}
	return err
}

func errSessionNotFound() error {
	return NewError(CodeSessionNotFound, "session not found")
}

func errSessionExpired() error {
	return NewError(CodeSessionExpired, "session expired")
}

func errSessionNotActive(status Status) error {
	return WithMetadata(CodeSessionNotActive, "session is not active", map[string]any{"status": string(status)})
}
