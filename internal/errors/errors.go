// Package errors provides the unified error taxonomy for the oneiric core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind identifies one of the core's error categories.
type Kind string

const (
	KindCandidateNotFound Kind = "CANDIDATE_NOT_FOUND"
	KindFactoryForbidden  Kind = "FACTORY_FORBIDDEN"
	KindLifecycle         Kind = "LIFECYCLE_ERROR"
	KindRemoteSync        Kind = "REMOTE_SYNC_ERROR"
	KindPathTraversal     Kind = "PATH_TRAVERSAL_ERROR"
	KindConfig            Kind = "CONFIG_ERROR"
)

// Lifecycle sub-codes, carried in Details["reason"].
const (
	ReasonHealthFailed = "health_failed"
	ReasonFactoryError = "factory_error"
	ReasonHookError    = "hook_error"
	ReasonCleanupError = "cleanup_error"
	ReasonTimeout      = "timeout"
)

// Remote sync sub-codes, carried in Details["reason"].
const (
	ReasonNetwork   = "network"
	ReasonSchema    = "schema"
	ReasonSignature = "signature"
	ReasonDigest    = "digest"
	ReasonParse     = "parse"
)

// CoreError is a structured error carrying a taxonomy Kind, a human message,
// an optional wrapped cause and freeform details for programmatic inspection.
type CoreError struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *CoreError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value pair to the error and returns it for chaining.
func (e *CoreError) WithDetails(key string, value any) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Reason returns Details["reason"] as a string, or "" if absent.
func (e *CoreError) Reason() string {
	if e.Details == nil {
		return ""
	}
	reason, _ := e.Details["reason"].(string)
	return reason
}

// New creates a CoreError of the given kind.
func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Wrap creates a CoreError of the given kind wrapping an existing error.
func Wrap(kind Kind, message string, err error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Err: err}
}

// Is reports whether err is a CoreError of the given kind, looking through
// wrapped errors via errors.As semantics.
func Is(err error, kind Kind) bool {
	var ce *CoreError
	if !stderrors.As(err, &ce) {
		return false
	}
	return ce.Kind == kind
}

// CandidateNotFound builds the error raised when a resolver has no
// candidate for a (domain, key) pair.
func CandidateNotFound(domain, key string) *CoreError {
	return New(KindCandidateNotFound, fmt.Sprintf("no candidate registered for %s/%s", domain, key)).
		WithDetails("domain", domain).
		WithDetails("key", key)
}

// FactoryForbidden builds the error raised when the factory allowlist
// rejects a factory reference.
func FactoryForbidden(factoryRef string) *CoreError {
	return New(KindFactoryForbidden, fmt.Sprintf("factory %q is not permitted by the allowlist", factoryRef)).
		WithDetails("factory", factoryRef)
}

// LifecycleFailure builds a LifecycleError with the given sub-code reason.
func LifecycleFailure(reason, message string, err error) *CoreError {
	ce := Wrap(KindLifecycle, fmt.Sprintf("swap failed: %s", message), err)
	return ce.WithDetails("reason", reason)
}

// RemoteSyncFailure builds a RemoteSyncError with the given sub-code reason.
func RemoteSyncFailure(reason, message string, err error) *CoreError {
	ce := Wrap(KindRemoteSync, message, err)
	return ce.WithDetails("reason", reason)
}

// PathTraversal builds the error raised when a cache path escapes its root.
func PathTraversal(path string) *CoreError {
	return New(KindPathTraversal, fmt.Sprintf("path %q escapes the configured cache directory", path)).
		WithDetails("path", path)
}

// ConfigInvalid builds a ConfigError for a malformed configuration value.
func ConfigInvalid(field, reason string) *CoreError {
	return New(KindConfig, fmt.Sprintf("invalid configuration for %s: %s", field, reason)).
		WithDetails("field", field)
}
