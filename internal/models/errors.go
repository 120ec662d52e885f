package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrAccessDenied     = errors.New("access denied")
	ErrTenantNotFound   = errors.New("tenant not found")
	ErrAlreadyProcessed = errors.New("external reference already processed")
	ErrSignatureInvalid = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed payment event")
	ErrStorage          = errors.New("storage failure")
	// ErrReferenceConflict marks an external reference already credited to a
	// different tenant.
	ErrReferenceConflict = errors.New("external reference belongs to another tenant")
	// ErrWebhookNotConfigured is returned instead of verifying against an
	// empty signing secret.
	ErrWebhookNotConfigured = errors.New("stripe webhook secret missing")
	// ErrContention marks a storage failure that is worth retrying.
	ErrContention = errors.New("transaction contention")
)

// ValidationError carries the offending field. It matches ErrValidation.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Message)
}

func (e ValidationError) Unwrap() error {
	return ErrValidation
}
