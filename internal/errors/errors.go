package errors

import (
	"errors"
)

// Sentinel errors shared across components.
var (
	// ErrDeliveryExhausted is returned by the gateway once every retry
	// attempt for a call has been spent.
	ErrDeliveryExhausted = errors.New("delivery retries exhausted")

	// ErrNoPrivileges maps the platform's missing-rights responses.
	ErrNoPrivileges = errors.New("no privileges")
)
