package types

import "errors"

// ChaiError carries a stable code alongside a human message.
type ChaiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *ChaiError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ChaiError) Unwrap() error {
	return e.Err
}

// Error codes
const (
	ErrAgentUnavailable    = "AGENT_UNAVAILABLE"
	ErrAuthorizationDenied = "AUTHORIZATION_DENIED"
	ErrValidation          = "VALIDATION_ERROR"
	ErrSubmissionRejected  = "SUBMISSION_REJECTED"
	ErrConfirmationFailed  = "CONFIRMATION_FAILED"
	ErrFetch               = "FETCH_ERROR"

	ErrContractUnbound    = "CONTRACT_UNBOUND"
	ErrSubmissionInFlight = "SUBMISSION_IN_FLIGHT"
	ErrConnectInFlight    = "CONNECT_IN_FLIGHT"
	ErrStaleResult        = "STALE_RESULT"
	ErrConfig             = "CONFIG_ERROR"
)

// NewError builds a ChaiError wrapping err, which may be nil.
func NewError(code, message string, err error) *ChaiError {
	return &ChaiError{Code: code, Message: message, Err: err}
}

// Code returns the code of the first ChaiError in err's chain, or "".
func Code(err error) string {
	var ce *ChaiError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && Code(err) == code
}
