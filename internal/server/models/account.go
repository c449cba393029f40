// Package models holds the persistent records of the ingestion core.
package models

import "time"

// Account is a reporting principal. KeyDigest is the only verifier of its
// API key; KeyCipher is an optional sealed copy and is nil when reversible
// storage is disabled or the key was revoked.
type Account struct {
	ID          string
	DisplayName string
	Salt        string
	KeyDigest   string
	KeyPrefix   string
	KeyCipher   []byte
	IsPrivate   bool
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
