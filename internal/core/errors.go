// internal/core/errors.go
package core

import "fmt"

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Errorf wraps a formatted cause under the given base error.
func Errorf(base *Error, format string, args ...any) *Error {
	return WrapError(base, fmt.Errorf(format, args...))
}

// Predefined errors
var (
	// Data errors
	ErrNoData           = &Error{Code: "NO_DATA", Message: "no data available"}
	ErrInsufficientData = &Error{Code: "INSUFFICIENT_DATA", Message: "insufficient history for signal evaluation"}
	ErrMissingPriceBar  = &Error{Code: "MISSING_PRICE_BAR", Message: "no price bar for required date"}

	// Strategy errors
	ErrSignalFailed    = &Error{Code: "SIGNAL_FAILED", Message: "signal generation failed"}
	ErrUnknownStrategy = &Error{Code: "UNKNOWN_STRATEGY", Message: "strategy not registered"}

	// Execution errors
	ErrInsufficientFunds    = &Error{Code: "INSUFFICIENT_FUNDS", Message: "insufficient cash for order"}
	ErrInsufficientHoldings = &Error{Code: "INSUFFICIENT_HOLDINGS", Message: "insufficient holdings for order"}
	ErrNoPosition           = &Error{Code: "NO_POSITION", Message: "no open position"}
	ErrPositionLimit        = &Error{Code: "POSITION_LIMIT", Message: "position size limit exceeded"}
	ErrInvalidOrder         = &Error{Code: "INVALID_ORDER", Message: "invalid order"}

	// Risk errors
	ErrRiskRejected   = &Error{Code: "RISK_REJECTED", Message: "order rejected by risk control"}
	ErrCircuitBreaker = &Error{Code: "CIRCUIT_BREAKER", Message: "circuit breaker tripped"}

	// Storage errors
	ErrStorageFailed = &Error{Code: "STORAGE_FAILED", Message: "storage operation failed"}

	// Notifier errors
	ErrNotifierFailed = &Error{Code: "NOTIFIER_FAILED", Message: "notifier failed"}

	// API errors
	ErrJobNotFound  = &Error{Code: "JOB_NOT_FOUND", Message: "job not found"}
	ErrUnauthorized = &Error{Code: "UNAUTHORIZED", Message: "missing or invalid API key"}

	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}
)
