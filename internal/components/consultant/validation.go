package consultant

import (
	"errors"
	"fmt"
)

// Reason codes carried by ValidationError.
const (
	ReasonMissingField          = "missing_field"
	ReasonInvalidUsername       = "invalid_username"
	ReasonTenantRequired        = "tenant_id_required"
	ReasonTenantMismatch        = "tenant_id_mismatch"
	ReasonSeatLimitExceeded     = "seat_limit_exceeded"
	ReasonMissingAbsenceMessage = "missing_absence_message_for_absent_user"
)

// ValidationError rejects a request before any external system is touched.
type ValidationError struct {
	ReasonCode string
	Message    string
	Err        error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.ReasonCode, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Invalid builds a ValidationError.
func Invalid(reason, format string, args ...any) *ValidationError {
	return &ValidationError{ReasonCode: reason, Message: fmt.Sprintf(format, args...)}
}

// AsValidationError extracts a *ValidationError from err.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
