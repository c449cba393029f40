// Package accounts persists Account records and their key material.
package accounts

import (
	"context"

	"github.com/dmitrijs2005/usageledger/internal/server/models"
)

// Repository stores accounts. Lookups return common.ErrNotFound when no row
// matches.
type Repository interface {
	// CreateIfAbsent inserts a. An existing row with the same id is kept as is.
	CreateIfAbsent(ctx context.Context, a *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByKeyDigest(ctx context.Context, digest string) (*models.Account, error)
	// ReplaceKey swaps the digest, display prefix and sealed copy of an
	// account in one statement.
	ReplaceKey(ctx context.Context, id, digest, prefix string, cipher []byte) error
}
