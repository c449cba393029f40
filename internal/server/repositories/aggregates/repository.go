// Package aggregates maintains per-account daily usage rollups.
package aggregates

import (
	"context"
	"time"

	"github.com/dmitrijs2005/usageledger/internal/server/models"
)

type Repository interface {
	// AddDeltas folds every delta into its (account, day) row with a single
	// insert-or-add statement. Deltas must be unique per (account, day).
	AddDeltas(ctx context.Context, deltas []models.DailyDelta) error
	// ListRange returns the rows for days in [from, to], oldest first.
	ListRange(ctx context.Context, accountID string, from, to time.Time) ([]models.DailyAggregate, error)
}
