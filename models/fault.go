package models

import (
	"errors"
	"fmt"
)

// Stable machine codes carried by Fault values. The UI keys localization and
// retry behavior off these, so the strings are part of the wire contract.
const (
	// Validation
	CodeInvalidParams      = "invalid_params"
	CodeInvalidSKUFormat   = "invalid_sku_format"
	CodeInvalidSerial      = "invalid_serial"
	CodeInvalidElementType = "invalid_element_type"
	CodeInvalidPosition    = "invalid_position"
	CodeInvalidRotation    = "invalid_rotation"
	CodeInvalidIP          = "invalid_ip"
	CodeInvalidPort        = "invalid_port"
	CodeInvalidPath        = "invalid_path"
	CodePatternTooLong     = "pattern_too_long"
	CodeInvalidRegex       = "invalid_regex"
	CodeMissingQRCode      = "missing_qr_code"
	CodeMissingModuleID    = "missing_module_id"

	// Auth
	CodeInvalidNonce            = "invalid_nonce"
	CodeInsufficientPermissions = "insufficient_permissions"
	CodeNotLoggedIn             = "not_logged_in"
	CodeRateLimited             = "rate_limited"

	// State machine
	CodeInvalidRowStatus        = "invalid_row_status"
	CodeSerialsAlreadyReserved  = "serials_already_reserved"
	CodeNoReservedSerials       = "no_reserved_serials"
	CodeZeroSerialsCommitted    = "zero_serials_committed"
	CodePartialCommit           = "partial_commit"
	CodeBatchNotCompleted       = "batch_not_completed"
	CodeNoModules               = "no_modules"
	CodeStatusUpdateFailed      = "status_update_failed"

	// Capacity
	CodeSerialExhausted      = "serial_exhausted"
	CodeInsufficientCapacity = "insufficient_capacity"
	CodeSequenceExhausted    = "sequence_exhausted"

	// Resolution
	CodeLedResolutionFailed = "led_resolution_failed"
	CodeNoLedCodes          = "no_led_codes"
	CodeMissingModuleData   = "missing_module_data"
	CodeConfigNotFound      = "config_not_found"

	// Storage
	CodeInsertFailed      = "insert_failed"
	CodeUpdateFailed      = "update_failed"
	CodeDeleteFailed      = "delete_failed"
	CodeDuplicatePattern  = "duplicate_pattern"
	CodeNotFound          = "not_found"
	CodeTransactionFailed = "transaction_failed"

	// Device
	CodeConnectionFailed = "connection_failed"
	CodeLoadFailed       = "load_failed"
	CodeDeviceDisabled   = "device_disabled"
)

// Fault is the tagged domain error carried across component boundaries.
// Storage-level errors are wrapped inside a Fault, never propagated raw.
type Fault struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`

	cause error
}

// Error implements error.
func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Unwrap exposes the wrapped storage-level cause, if any.
func (f *Fault) Unwrap() error { return f.cause }

// NewFault builds a terminal (non-retryable) fault.
func NewFault(code, message string) *Fault {
	return &Fault{Code: code, Message: message}
}

// Faultf builds a terminal fault with a formatted message.
func Faultf(code, format string, args ...interface{}) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Retryablef builds a retryable fault (lock timeouts, transient device errors).
func Retryablef(code, format string, args ...interface{}) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...), Retryable: true}
}

// WrapFault wraps a lower-level error under a stable code.
func WrapFault(code, message string, cause error) *Fault {
	return &Fault{Code: code, Message: message, cause: cause}
}

// AsFault extracts a *Fault from err, or wraps err as a transaction_failed
// fault so callers always have a coded error to surface.
func AsFault(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return WrapFault(CodeTransactionFailed, "internal error", err)
}

// IsCode reports whether err carries the given fault code.
func IsCode(err error, code string) bool {
	var f *Fault
	return errors.As(err, &f) && f.Code == code
}
