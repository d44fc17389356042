package core

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedMessage     = errors.New("malformed openid message")
	ErrAssociationNotFound  = errors.New("association not found")
	ErrInvalidNonce         = errors.New("invalid response nonce")
	ErrReplayDetected       = errors.New("response nonce already consumed")
	ErrMissingSignedField   = errors.New("required field missing from signed list")
	ErrMacMismatch          = errors.New("response signature mismatch")
	ErrReturnURLMismatch    = errors.New("return_to does not match the original request")
	ErrUserCancelled        = errors.New("user cancelled authentication")
	ErrProviderFailure      = errors.New("provider reported failure")
	ErrInvalidToken         = errors.New("invalid session token")
	ErrStoreOperationFailed = errors.New("store operation failed")
)

// AssociationErrorReason classifies why association establishment failed.
type AssociationErrorReason string

const (
	AssociationTimeout          AssociationErrorReason = "timeout"
	AssociationUnreachable      AssociationErrorReason = "unreachable"
	AssociationProtocolMismatch AssociationErrorReason = "protocol_mismatch"
)

// AssociationError is returned when establishing a shared secret with a
// provider fails. The caller may retry with backoff; the core never
// retries on its own.
type AssociationError struct {
	Endpoint string
	Reason   AssociationErrorReason
	Err      error
}

func (e *AssociationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("association with %s failed (%s): %v", e.Endpoint, e.Reason, e.Err)
	}
	return fmt.Sprintf("association with %s failed (%s)", e.Endpoint, e.Reason)
}

func (e *AssociationError) Unwrap() error {
	return e.Err
}

// ReasonForError maps a verification-path error to its reject reason.
func ReasonForError(err error) RejectReason {
	switch {
	case errors.Is(err, ErrUserCancelled):
		return ReasonUserCancelled
	case errors.Is(err, ErrProviderFailure):
		return ReasonProviderFailure
	case errors.Is(err, ErrMalformedMessage):
		return ReasonMalformedMessage
	case errors.Is(err, ErrInvalidNonce):
		return ReasonInvalidNonce
	case errors.Is(err, ErrReplayDetected):
		return ReasonReplayDetected
	case errors.Is(err, ErrMissingSignedField):
		return ReasonMissingSignedField
	case errors.Is(err, ErrMacMismatch):
		return ReasonMacMismatch
	case errors.Is(err, ErrReturnURLMismatch):
		return ReasonReturnURLMismatch
	case errors.Is(err, ErrAssociationNotFound):
		return ReasonAssociationNotFound
	default:
		return ReasonProviderFailure
	}
}
