package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrRateUnavailable    = errors.New("exchange rate unavailable")
	ErrCodeAlreadyUsed    = errors.New("withdrawal code already used")
	ErrCredentialsMissing = errors.New("bookmaker credentials missing")
	ErrProviderCallFailed = errors.New("provider call failed")
	ErrAmountInvalid      = errors.New("amount invalid")
	ErrRequestNotFound    = errors.New("request not found")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

// ProviderError describes a failed call to an external bookmaker or casino API.
// It always matches ErrProviderCallFailed via errors.Is.
type ProviderError struct {
	Bookmaker string
	Op        string
	Message   string
	// Definite is true when the provider answered and refused the operation,
	// so no money moved. Transport failures and timeouts are never definite.
	Definite bool
	Err      error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s %s: %s", e.Bookmaker, e.Op, msg)
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProviderCallFailed}
	}
	return []error{ErrProviderCallFailed, e.Err}
}

// IsDefiniteRefusal reports whether err is a provider refusal where the
// provider confirmed nothing was executed.
func IsDefiniteRefusal(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Definite
}
