// Package errors defines the typed error hierarchy shared by the
// client. Every failure is per-exchange or per-request; nothing here
// is fatal to the process.
package errors

import "fmt"

// RecallError is implemented by all custom errors in this package.
type RecallError interface {
	error
	Type() string
	Cause() error
}

// APIError is a non-2xx response from the server, carrying the decoded
// detail message when one was present.
type APIError struct {
	status int
	detail string
	cause  error
}

func (e *APIError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("server error (status %d): %s", e.status, e.detail)
	}
	return fmt.Sprintf("server error (status %d)", e.status)
}

func (e *APIError) Type() string { return "API" }
func (e *APIError) Cause() error { return e.cause }

// Status returns the HTTP status code.
func (e *APIError) Status() int { return e.status }

// Detail returns the server-supplied message, possibly empty.
func (e *APIError) Detail() string { return e.detail }

// TransportError is a request that never produced a usable response:
// connection refused, timeout, or a missing body.
type TransportError struct {
	url     string
	message string
	cause   error
}

func (e *TransportError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("transport error to %s: %s: %v", e.url, e.message, e.cause)
	}
	return fmt.Sprintf("transport error to %s: %s", e.url, e.message)
}

func (e *TransportError) Type() string { return "Transport" }
func (e *TransportError) Cause() error { return e.cause }
func (e *TransportError) Unwrap() error { return e.cause }

// ConfigError is an invalid or unloadable configuration.
type ConfigError struct {
	field   string
	message string
	cause   error
}

func (e *ConfigError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("config error in %q: %s (caused by: %v)", e.field, e.message, e.cause)
	}
	return fmt.Sprintf("config error in %q: %s", e.field, e.message)
}

func (e *ConfigError) Type() string { return "Config" }
func (e *ConfigError) Cause() error { return e.cause }

// StorageError is a failure in the local transcript mirror.
type StorageError struct {
	operation string
	message   string
	cause     error
}

func (e *StorageError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("storage error during %s: %s (caused by: %v)", e.operation, e.message, e.cause)
	}
	return fmt.Sprintf("storage error during %s: %s", e.operation, e.message)
}

func (e *StorageError) Type() string { return "Storage" }
func (e *StorageError) Cause() error { return e.cause }

// ValidationError is rejected user input.
type ValidationError struct {
	field   string
	message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.field, e.message)
}

func (e *ValidationError) Type() string { return "Validation" }
func (e *ValidationError) Cause() error { return nil }

// Constructors.

func NewAPIError(status int, detail string, cause error) *APIError {
	return &APIError{status: status, detail: detail, cause: cause}
}

func NewTransportError(url, message string, cause error) *TransportError {
	return &TransportError{url: url, message: message, cause: cause}
}

func NewConfigError(field, message string, cause error) *ConfigError {
	return &ConfigError{field: field, message: message, cause: cause}
}

func NewStorageError(operation, message string, cause error) *StorageError {
	return &StorageError{operation: operation, message: message, cause: cause}
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{field: field, message: message}
}

// RootCause walks the Cause chain to the innermost error.
func RootCause(err error) error {
	for {
		unwrapped, ok := err.(interface{ Cause() error })
		if !ok {
			return err
		}
		cause := unwrapped.Cause()
		if cause == nil {
			return err
		}
		err = cause
	}
}
