package types

import "errors"

// Error codes surfaced by connection and transfer operations.
const (
	// -----------------------------
	// CONNECTION
	// -----------------------------
	ErrNoProvider    = "NO_PROVIDER"
	ErrConfig        = "CONFIG_ERROR"
	ErrNetworkSwitch = "NETWORK_SWITCH_FAILED"
	ErrUserRejected  = "USER_REJECTED"
	ErrProviderBusy  = "PROVIDER_BUSY"

	// -----------------------------
	// TRANSFER VALIDATION
	// -----------------------------
	ErrInvalidAddress = "INVALID_ADDRESS"
	ErrInvalidAmount  = "INVALID_AMOUNT"
	ErrNoContract     = "NO_CONTRACT"
	ErrInFlight       = "TRANSFER_IN_FLIGHT"

	// -----------------------------
	// EXECUTION
	// -----------------------------
	ErrContractExecution = "CONTRACT_EXECUTION_FAILED"
	ErrTimeout           = "TIMEOUT"
)

// Error is the typed error carried by every failing tokenflow operation.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two tokenflow errors by code so callers can compare against
// sentinel values with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError builds a typed error with an optional wrapped cause.
func NewError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// CodeOf extracts the tokenflow error code from err, or "" if err carries none.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
