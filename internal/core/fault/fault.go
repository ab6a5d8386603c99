// Package fault is the error taxonomy for jackpot operations. Every failure
// that crosses a component boundary is classified into a category and code;
// the code drives retry and circuit-breaker decisions.
package fault

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Category groups error codes by origin.
type Category string

const (
	CategoryValidation        Category = "validation"
	CategoryDatabase          Category = "database"
	CategoryConcurrency       Category = "concurrency"
	CategoryConfiguration     Category = "configuration"
	CategoryInsufficientFunds Category = "insufficient_funds"
	CategorySystem            Category = "system"
	CategoryNetwork           Category = "network"
)

// Code identifies a concrete failure mode.
type Code string

const (
	CodeValidationInvalidAmount Code = "VALIDATION_INVALID_AMOUNT"
	CodeValidationInvalidGroup  Code = "VALIDATION_INVALID_GROUP"
	CodeValidationInvalidInput  Code = "VALIDATION_INVALID_INPUT"

	CodeDatabaseTimeout       Code = "DATABASE_TIMEOUT"
	CodeDatabaseDeadlock      Code = "DATABASE_DEADLOCK_DETECTED"
	CodeDatabaseSerialization Code = "DATABASE_SERIALIZATION_FAILURE"
	CodeDatabaseConnection    Code = "DATABASE_CONNECTION_FAILED"
	CodeDatabaseConstraint    Code = "DATABASE_CONSTRAINT_VIOLATION"
	CodeDatabaseQuery         Code = "DATABASE_QUERY_FAILED"
	CodeDatabaseNotFound      Code = "DATABASE_ROW_NOT_FOUND"

	CodeConcurrencyVersionConflict Code = "CONCURRENCY_VERSION_CONFLICT"
	CodeConcurrencyLockTimeout     Code = "CONCURRENCY_LOCK_TIMEOUT"
	CodeConcurrencyRetryExhausted  Code = "CONCURRENCY_RETRY_EXHAUSTED"

	CodeConfigurationInvalid Code = "CONFIGURATION_INVALID"
	CodeConfigurationMissing Code = "CONFIGURATION_MISSING"

	CodeInsufficientJackpotFunds Code = "INSUFFICIENT_JACKPOT_FUNDS"

	CodeSystemInternal    Code = "SYSTEM_INTERNAL"
	CodeSystemUnavailable Code = "SYSTEM_CIRCUIT_OPEN"

	CodeNetworkTimeout Code = "NETWORK_TIMEOUT"
	CodeNetworkFailure Code = "NETWORK_FAILURE"
)

// Severity indicates how loudly a failure should be reported.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Error is a classified failure. It wraps the low-level cause, when one
// exists, and carries a context map for attribution.
type Error struct {
	Code     Code
	Category Category
	Message  string
	Context  map[string]any
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// With attaches a context key/value pair and returns the error.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a classified error without a wrapped cause.
func New(code Code, message string) *Error {
	return &Error{
		Code:     code,
		Category: categoryOf(code),
		Message:  message,
	}
}

// Newf creates a classified error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a classified error wrapping a low-level cause.
func Wrap(code Code, message string, cause error) *Error {
	e := New(code, message)
	e.Cause = cause
	return e
}

func categoryOf(code Code) Category {
	s := string(code)
	switch {
	case strings.HasPrefix(s, "VALIDATION_"):
		return CategoryValidation
	case strings.HasPrefix(s, "DATABASE_"):
		return CategoryDatabase
	case strings.HasPrefix(s, "CONCURRENCY_"):
		return CategoryConcurrency
	case strings.HasPrefix(s, "CONFIGURATION_"):
		return CategoryConfiguration
	case strings.HasPrefix(s, "INSUFFICIENT_"):
		return CategoryInsufficientFunds
	case strings.HasPrefix(s, "NETWORK_"):
		return CategoryNetwork
	default:
		return CategorySystem
	}
}

// retryable is the fixed retryability lookup. Codes not listed are terminal.
var retryable = map[Code]bool{
	CodeDatabaseTimeout:            true,
	CodeDatabaseDeadlock:           true,
	CodeDatabaseSerialization:      true,
	CodeDatabaseConnection:         true,
	CodeConcurrencyVersionConflict: true,
	CodeConcurrencyLockTimeout:     true,
	CodeNetworkTimeout:             true,
	CodeNetworkFailure:             true,
}

// Retryable reports whether the failure mode is worth retrying.
func (e *Error) Retryable() bool {
	return retryable[e.Code]
}

// retryDelays holds code-specific delay floors used as hints by retry loops.
var retryDelays = map[Code]time.Duration{
	CodeConcurrencyVersionConflict: 100 * time.Millisecond,
	CodeConcurrencyLockTimeout:     500 * time.Millisecond,
	CodeDatabaseTimeout:            1 * time.Second,
	CodeDatabaseDeadlock:           2 * time.Second,
	CodeDatabaseSerialization:      200 * time.Millisecond,
	CodeDatabaseConnection:         1 * time.Second,
	CodeNetworkTimeout:             1 * time.Second,
	CodeNetworkFailure:             500 * time.Millisecond,
}

// RetryDelay returns the code-specific delay floor before the next attempt.
func (e *Error) RetryDelay() time.Duration {
	if d, ok := retryDelays[e.Code]; ok {
		return d
	}
	return 500 * time.Millisecond
}

// SeverityLevel maps the failure onto a logging severity.
func (e *Error) SeverityLevel() Severity {
	switch e.Category {
	case CategoryValidation, CategoryInsufficientFunds:
		return SeverityInfo
	case CategoryConcurrency:
		return SeverityWarning
	case CategoryDatabase, CategoryNetwork:
		return SeverityError
	case CategoryConfiguration, CategorySystem:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// IsRetryable classifies err and reports whether a retry can help.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Retryable()
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}
