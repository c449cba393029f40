// Package common defines sentinel errors and shared constants used across the
// ingestion server, its transports and the client. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Service-level errors.
	ErrInternal          = errors.New("internal error")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrAccountInactive   = errors.New("account inactive")
	ErrKeyNotRetrievable = errors.New("api key is not retrievable")

	// Request authentication. Every HMAC failure collapses into this one.
	ErrAuthentication = errors.New("authentication failed")

	// Ingestion.
	ErrValidation    = errors.New("validation failed")
	ErrBatchTooLarge = errors.New("batch too large")

	// Rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// Session token errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
