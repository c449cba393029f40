// Package sessions persists accepted session events. The unique constraint
// on fingerprint is the final arbiter of duplicates.
package sessions

import (
	"context"

	"github.com/dmitrijs2005/usageledger/internal/server/models"
)

type Repository interface {
	// ExistingFingerprints returns the subset of fingerprints already stored
	// for the account.
	ExistingFingerprints(ctx context.Context, accountID string, fingerprints []string) (map[string]struct{}, error)
	// InsertBatch writes sessions in one statement, skipping conflicting
	// fingerprints, and returns the fingerprints that were actually inserted.
	InsertBatch(ctx context.Context, sessions []models.Session) (map[string]struct{}, error)
	// InsertTokenUsage writes the per-session token detail rows.
	InsertTokenUsage(ctx context.Context, sessions []models.Session) error
}
