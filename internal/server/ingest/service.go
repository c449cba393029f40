// Package ingest accepts batches of reported sessions for an authenticated
// account, keeps each physical event at most once and folds accepted events
// into daily aggregates.
//
// A batch runs in six steps: validate everything, fingerprint locally, mark
// in-batch repeats and stored duplicates with one lookup, insert the rest
// with ON CONFLICT DO NOTHING, add the grouped deltas to the daily rows
// with a single upsert, and report one outcome per input index. Steps four
// and five share a transaction.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/usageledger/internal/logging"
	"github.com/dmitrijs2005/usageledger/internal/server/dedup"
	"github.com/dmitrijs2005/usageledger/internal/server/models"
	"github.com/dmitrijs2005/usageledger/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/usageledger/internal/server/rollup"
	"github.com/google/uuid"
)

// Status is the per-item outcome.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusDuplicate Status = "duplicate"
	// StatusRejected is part of the response contract. Validation is
	// all-or-nothing today, so no item is rejected on its own.
	StatusRejected Status = "rejected"
)

// MaxUsageRange bounds DailyUsage queries.
const MaxUsageRange = 366 * 24 * time.Hour

type ItemResult struct {
	Index       int    `json:"index"`
	Status      Status `json:"status"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

type BatchResult struct {
	Items      []ItemResult `json:"results"`
	Processed  int          `json:"processed"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Duplicates int          `json:"duplicates"`
}

type Service struct {
	repos  repomanager.RepositoryManager
	logger logging.Logger
	limits Limits
	now    func() time.Time
	newID  func() string
}

func NewService(repos repomanager.RepositoryManager, logger logging.Logger, limits Limits) *Service {
	return &Service{
		repos:  repos,
		logger: logger.With("module", "ingest"),
		limits: limits,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// IngestOne is IngestBatch with a single event.
func (s *Service) IngestOne(ctx context.Context, account *models.Account, ev models.SessionEvent) (ItemResult, error) {
	res, err := s.IngestBatch(ctx, account, []models.SessionEvent{ev})
	if err != nil {
		return ItemResult{}, err
	}
	return res.Items[0], nil
}

// IngestBatch processes events for account. Validation errors are
// *ValidationError; anything else is a store failure. Duplicates are
// reported per item and are not errors.
func (s *Service) IngestBatch(ctx context.Context, account *models.Account, events []models.SessionEvent) (*BatchResult, error) {
	if err := ValidateBatch(events, s.limits, s.now()); err != nil {
		return nil, err
	}

	res := &BatchResult{Items: make([]ItemResult, len(events)), Processed: len(events)}
	if len(events) == 0 {
		return res, nil
	}

	fps := make([]string, len(events))
	for i, ev := range events {
		fps[i] = dedup.Fingerprint(account.ID, account.Salt, ev)
	}
	repeats, distinct := dedup.Partition(fps)

	stored, err := s.repos.Sessions().ExistingFingerprints(ctx, account.ID, distinct)
	if err != nil {
		return nil, fmt.Errorf("lookup fingerprints: %w", err)
	}

	var candidates []models.Session
	for i, ev := range events {
		if repeats[i] {
			continue
		}
		if _, dup := stored[fps[i]]; dup {
			continue
		}
		candidates = append(candidates, models.Session{
			ID:          s.newID(),
			AccountID:   account.ID,
			Fingerprint: fps[i],
			Event:       ev,
		})
	}

	// Concurrent overlapping batches must take unique-index locks in the
	// same order or they deadlock.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Fingerprint < candidates[j].Fingerprint
	})

	inserted := map[string]struct{}{}
	if len(candidates) > 0 {
		inserted, err = s.persist(ctx, candidates)
		if err != nil {
			return nil, err
		}
	}

	for i := range events {
		item := ItemResult{Index: i, Fingerprint: fps[i], Status: StatusDuplicate}
		if _, ok := inserted[fps[i]]; ok && !repeats[i] {
			item.Status = StatusAccepted
		}
		res.Items[i] = item

		switch item.Status {
		case StatusAccepted:
			res.Succeeded++
		case StatusDuplicate:
			res.Duplicates++
		case StatusRejected:
			res.Failed++
		}
	}

	s.logger.Info(ctx, "batch ingested",
		"account_id", account.ID,
		"processed", res.Processed,
		"accepted", res.Succeeded,
		"duplicates", res.Duplicates)

	return res, nil
}

// persist writes candidates and their aggregate deltas in one transaction.
// Rows that lose a race on the fingerprint constraint are left out of both.
func (s *Service) persist(ctx context.Context, candidates []models.Session) (map[string]struct{}, error) {
	var inserted map[string]struct{}

	err := s.repos.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		var err error
		inserted, err = r.Sessions().InsertBatch(ctx, candidates)
		if err != nil {
			return fmt.Errorf("insert sessions: %w", err)
		}

		accepted := make([]models.Session, 0, len(inserted))
		for _, c := range candidates {
			if _, ok := inserted[c.Fingerprint]; ok {
				accepted = append(accepted, c)
			}
		}
		if len(accepted) == 0 {
			return nil
		}

		if err := r.Sessions().InsertTokenUsage(ctx, accepted); err != nil {
			return fmt.Errorf("insert token usage: %w", err)
		}
		if err := r.Aggregates().AddDeltas(ctx, rollup.Group(accepted)); err != nil {
			return fmt.Errorf("add daily deltas: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// DailyUsage returns the aggregates of accountID for days in [from, to].
func (s *Service) DailyUsage(ctx context.Context, accountID string, from, to time.Time) ([]models.DailyAggregate, error) {
	ve := &ValidationError{}
	if to.Before(from) {
		ve.add("to", "must not be before from")
	} else if to.Sub(from) > MaxUsageRange {
		ve.add("to", "range is limited to 366 days")
	}
	if len(ve.Fields) > 0 {
		return nil, ve
	}

	rows, err := s.repos.Aggregates().ListRange(ctx, accountID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	return rows, nil
}
