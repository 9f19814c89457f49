// Package errors provides structured error handling for sweepnet operations.
// It defines error codes, error types, and provides utilities for creating
// and handling errors with context and structured information.
package errors

import (
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodePermission    ErrorCode = "PERMISSION"

	// Network and scanning errors.
	CodeNetworkUnreachable ErrorCode = "NETWORK_UNREACHABLE"
	CodeHostUnreachable    ErrorCode = "HOST_UNREACHABLE"
	CodeConnectionRefused  ErrorCode = "CONNECTION_REFUSED"
	CodeScanFailed         ErrorCode = "SCAN_FAILED"
	CodeProbeFailed        ErrorCode = "PROBE_FAILED"
	CodeTargetInvalid      ErrorCode = "TARGET_INVALID"
	CodeRawSocket          ErrorCode = "RAW_SOCKET"

	// Service errors.
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeServiceTimeout     ErrorCode = "SERVICE_TIMEOUT"
	CodeRateLimited        ErrorCode = "RATE_LIMITED"
)

// ScanError represents an error that occurred during scanning operations.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Port      uint16
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" && e.Port > 0 {
		return fmt.Sprintf("[%s] %s (target: %s:%d)", e.Code, e.Message, e.Target, e.Port)
	}
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithPort adds the port being probed when the error occurred.
func (e *ScanError) WithPort(port uint16) *ScanError {
	e.Port = port
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// ResolveError represents target resolution errors.
type ResolveError struct {
	Code    ErrorCode
	Message string
	Spec    string
	Cause   error
}

// Error implements the error interface.
func (e *ResolveError) Error() string {
	if e.Spec != "" {
		return fmt.Sprintf("[%s] %s (spec: %s)", e.Code, e.Message, e.Spec)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ResolveError) Unwrap() error {
	return e.Cause
}

// NewResolveError creates a new target resolution error.
func NewResolveError(code ErrorCode, message, spec string) *ResolveError {
	return &ResolveError{
		Code:    code,
		Message: message,
		Spec:    spec,
	}
}

// WrapResolveError wraps an existing error as a resolution error.
func WrapResolveError(code ErrorCode, message, spec string, err error) *ResolveError {
	return &ResolveError{
		Code:    code,
		Message: message,
		Spec:    spec,
		Cause:   err,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
	}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	switch e := err.(type) {
	case *ScanError:
		return e.Code == code
	case *ResolveError:
		return e.Code == code
	case *ConfigError:
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	switch e := err.(type) {
	case *ScanError:
		return e.Code
	case *ResolveError:
		return e.Code
	case *ConfigError:
		return e.Code
	}
	return CodeUnknown
}

// IsRetryable determines if an error indicates a retryable condition.
func IsRetryable(err error) bool {
	code := GetCode(err)
	switch code {
	case CodeTimeout, CodeNetworkUnreachable, CodeServiceTimeout:
		return true
	default:
		return false
	}
}

// IsFatal determines if an error indicates a fatal condition that should stop execution.
func IsFatal(err error) bool {
	code := GetCode(err)
	switch code {
	case CodePermission, CodeConfiguration, CodeValidation:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrInvalidJob creates an error for a structurally invalid scan job.
func ErrInvalidJob(reason string) *ScanError {
	return NewScanError(CodeValidation, fmt.Sprintf("invalid scan job: %s", reason))
}

// ErrRawSocketPermission creates an error for missing raw-socket privileges.
func ErrRawSocketPermission() *ScanError {
	return NewScanError(CodePermission, "SYN scan requires raw socket privileges")
}

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTargetInvalid, "invalid target specification", target)
}

// ErrScanTimeout creates an error for scan timeouts.
func ErrScanTimeout(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTimeout, "scan operation timed out", target)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "required configuration field missing", field, nil)
}
