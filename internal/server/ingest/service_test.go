package ingest

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/usageledger/internal/common"
	"github.com/dmitrijs2005/usageledger/internal/logging"
	"github.com/dmitrijs2005/usageledger/internal/server/dedup"
	"github.com/dmitrijs2005/usageledger/internal/server/models"
	"github.com/dmitrijs2005/usageledger/internal/server/repositories/memory"
	"github.com/dmitrijs2005/usageledger/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/usageledger/internal/server/repositories/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testAccount() *models.Account {
	return &models.Account{ID: "acc-1", Salt: "0011223344556677", Active: true}
}

func newTestService(repos repomanager.RepositoryManager) *Service {
	s := NewService(repos, logging.Nop{}, DefaultLimits())
	s.now = func() time.Time { return testNow }
	return s
}

func dailyOf(t *testing.T, s *Service, accountID string) []models.DailyAggregate {
	t.Helper()
	rows, err := s.DailyUsage(context.Background(), accountID, day, day)
	require.NoError(t, err)
	return rows
}

func TestIngestBatch_InBatchDuplicateCountedOnce(t *testing.T) {
	s := newTestService(memory.NewRepositoryManager())
	ev := validEvent()

	res, err := s.IngestBatch(context.Background(), testAccount(), []models.SessionEvent{ev, ev})
	require.NoError(t, err)

	require.Len(t, res.Items, 2)
	assert.Equal(t, StatusAccepted, res.Items[0].Status)
	assert.Equal(t, StatusDuplicate, res.Items[1].Status)
	assert.Equal(t, res.Items[0].Fingerprint, res.Items[1].Fingerprint)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 0, res.Failed)

	rows := dailyOf(t, s, "acc-1")
	require.Len(t, rows, 1)
	assert.Equal(t, models.Totals{InputTokens: 100, OutputTokens: 50, Sessions: 1}, rows[0].Totals)
	assert.Equal(t, models.Totals{InputTokens: 100, OutputTokens: 50, Sessions: 1}, rows[0].Tools[string(models.ToolClaudeCode)])
}

func TestIngestBatch_ResubmissionIsDuplicate(t *testing.T) {
	s := newTestService(memory.NewRepositoryManager())
	ctx := context.Background()

	first, err := s.IngestOne(ctx, testAccount(), validEvent())
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, first.Status)

	second, err := s.IngestOne(ctx, testAccount(), validEvent())
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, second.Status)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)

	rows := dailyOf(t, s, "acc-1")
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Sessions)
}

func TestIngestBatch_SameEventDifferentAccountsBothCount(t *testing.T) {
	s := newTestService(memory.NewRepositoryManager())
	ctx := context.Background()

	other := &models.Account{ID: "acc-2", Salt: "8899aabbccddeeff", Active: true}

	a, err := s.IngestOne(ctx, testAccount(), validEvent())
	require.NoError(t, err)
	b, err := s.IngestOne(ctx, other, validEvent())
	require.NoError(t, err)

	assert.Equal(t, StatusAccepted, a.Status)
	assert.Equal(t, StatusAccepted, b.Status)
	assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
}

func TestIngestBatch_MixedBatchAccumulates(t *testing.T) {
	s := newTestService(memory.NewRepositoryManager())

	e1 := validEvent()
	e2 := validEvent()
	e2.Tool = models.ToolCursor
	e2.InputTokens = 7
	e2.OutputTokens = 3
	e2.CacheReadTokens = 11

	res, err := s.IngestBatch(context.Background(), testAccount(), []models.SessionEvent{e1, e2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)

	rows := dailyOf(t, s, "acc-1")
	require.Len(t, rows, 1)
	assert.Equal(t, models.Totals{InputTokens: 107, OutputTokens: 53, CacheReadTokens: 11, Sessions: 2}, rows[0].Totals)
	assert.Len(t, rows[0].Tools, 2)
	assert.Equal(t, int64(11), rows[0].Tools[string(models.ToolCursor)].CacheReadTokens)
}

func TestIngestBatch_ConcurrentBatchesSumExactly(t *testing.T) {
	s := newTestService(memory.NewRepositoryManager())
	ctx := context.Background()

	const workers = 8
	const perBatch = 10

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			batch := make([]models.SessionEvent, perBatch)
			for i := range batch {
				ev := validEvent()
				ev.EndedAt = ev.EndedAt.Add(time.Duration(w*perBatch+i) * time.Second)
				ev.InputTokens = 1
				ev.OutputTokens = 2
				batch[i] = ev
			}
			if _, err := s.IngestBatch(ctx, testAccount(), batch); err != nil {
				errs <- err
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rows := dailyOf(t, s, "acc-1")
	require.Len(t, rows, 1)
	assert.Equal(t, int64(workers*perBatch), rows[0].Sessions)
	assert.Equal(t, int64(workers*perBatch), rows[0].InputTokens)
	assert.Equal(t, int64(2*workers*perBatch), rows[0].OutputTokens)
}

func TestIngestBatch_ConcurrentSameEventAcceptedOnce(t *testing.T) {
	s := newTestService(memory.NewRepositoryManager())
	ctx := context.Background()

	const workers = 10
	results := make([]ItemResult, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			r, err := s.IngestOne(ctx, testAccount(), validEvent())
			assert.NoError(t, err)
			results[w] = r
		}(w)
	}
	wg.Wait()

	accepted := 0
	for _, r := range results {
		if r.Status == StatusAccepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, int64(1), dailyOf(t, s, "acc-1")[0].Sessions)
}

func TestIngestBatch_OversizeBatchRejectedWhole(t *testing.T) {
	s := newTestService(memory.NewRepositoryManager())

	events := make([]models.SessionEvent, 101)
	for i := range events {
		events[i] = validEvent()
		events[i].EndedAt = events[i].EndedAt.Add(time.Duration(i) * time.Second)
	}

	res, err := s.IngestBatch(context.Background(), testAccount(), events)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, common.ErrBatchTooLarge)
	assert.Empty(t, dailyOf(t, s, "acc-1"))
}

func TestIngestBatch_InvalidItemRejectsWhole(t *testing.T) {
	s := newTestService(memory.NewRepositoryManager())

	bad := validEvent()
	bad.InputTokens = -1

	_, err := s.IngestBatch(context.Background(), testAccount(), []models.SessionEvent{validEvent(), bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Empty(t, dailyOf(t, s, "acc-1"))
}

func TestIngestBatch_Empty(t *testing.T) {
	s := newTestService(memory.NewRepositoryManager())

	res, err := s.IngestBatch(context.Background(), testAccount(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Empty(t, res.Items)
}

type failingSessions struct {
	sessions.Repository
	lookupErr error
	usageErr  error
}

func (f failingSessions) ExistingFingerprints(ctx context.Context, accountID string, fps []string) (map[string]struct{}, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.Repository.ExistingFingerprints(ctx, accountID, fps)
}

func (f failingSessions) InsertTokenUsage(ctx context.Context, batch []models.Session) error {
	if f.usageErr != nil {
		return f.usageErr
	}
	return f.Repository.InsertTokenUsage(ctx, batch)
}

// faultyManager injects failures into the sessions repository, both outside
// and inside transactions.
type faultyManager struct {
	*memory.RepositoryManager
	lookupErr error
	usageErr  error
}

func (f *faultyManager) Sessions() sessions.Repository {
	return failingSessions{Repository: f.RepositoryManager.Sessions(), lookupErr: f.lookupErr}
}

func (f *faultyManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos repomanager.Repositories) error) error {
	return f.RepositoryManager.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		return fn(ctx, faultyRepos{Repositories: r, usageErr: f.usageErr})
	})
}

type faultyRepos struct {
	repomanager.Repositories
	usageErr error
}

func (f faultyRepos) Sessions() sessions.Repository {
	return failingSessions{Repository: f.Repositories.Sessions(), usageErr: f.usageErr}
}

func TestIngestBatch_LookupFailure(t *testing.T) {
	boom := errors.New("connection reset")
	s := newTestService(&faultyManager{RepositoryManager: memory.NewRepositoryManager(), lookupErr: boom})

	_, err := s.IngestBatch(context.Background(), testAccount(), []models.SessionEvent{validEvent()})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestIngestBatch_FailureInsideTxLeavesNothing(t *testing.T) {
	boom := errors.New("disk full")
	mem := memory.NewRepositoryManager()
	s := newTestService(&faultyManager{RepositoryManager: mem, usageErr: boom})

	_, err := s.IngestBatch(context.Background(), testAccount(), []models.SessionEvent{validEvent()})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	// the session row was rolled back too, so a retry is accepted
	retry := newTestService(mem)
	r, err := retry.IngestOne(context.Background(), testAccount(), validEvent())
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, r.Status)
	assert.Equal(t, int64(1), dailyOf(t, retry, "acc-1")[0].Sessions)
}

func TestIngestBatch_PostgresStatementSequence(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	s := newTestService(repomanager.NewPostgresRepositoryManagerFromDB(db))

	stored := validEvent()
	stored.EndedAt = stored.EndedAt.Add(time.Minute)
	fresh := validEvent()

	storedFP := fingerprintOf(stored)
	freshFP := fingerprintOf(fresh)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT fingerprint FROM sessions WHERE account_id = $1 AND fingerprint IN ($2, $3)`)).
		WithArgs("acc-1", freshFP, storedFP).
		WillReturnRows(sqlmock.NewRows([]string{"fingerprint"}).AddRow(storedFP))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO sessions .* ON CONFLICT \(fingerprint\) DO NOTHING RETURNING fingerprint`).
		WillReturnRows(sqlmock.NewRows([]string{"fingerprint"}).AddRow(freshFP))
	mock.ExpectExec(`INSERT INTO session_token_usage`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO daily_aggregates .* ON CONFLICT \(account_id, day\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := s.IngestBatch(context.Background(), testAccount(), []models.SessionEvent{fresh, stored})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Items[0].Status)
	assert.Equal(t, StatusDuplicate, res.Items[1].Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestBatch_PostgresLostRaceSkipsDeltas(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	s := newTestService(repomanager.NewPostgresRepositoryManagerFromDB(db))

	mock.ExpectQuery(`SELECT fingerprint FROM sessions`).
		WillReturnRows(sqlmock.NewRows([]string{"fingerprint"}))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO sessions`).
		WillReturnRows(sqlmock.NewRows([]string{"fingerprint"}))
	mock.ExpectCommit()

	r, err := s.IngestOne(context.Background(), testAccount(), validEvent())
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, r.Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestBatch_PostgresInsertsInFingerprintOrder(t *testing.T) {
	a := validEvent()
	b := validEvent()
	b.EndedAt = b.EndedAt.Add(time.Minute)

	lo, hi := a, b
	if fingerprintOf(lo) > fingerprintOf(hi) {
		lo, hi = hi, lo
	}

	for name, input := range map[string][]models.SessionEvent{
		"sorted":   {lo, hi},
		"reversed": {hi, lo},
	} {
		t.Run(name, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
			require.NoError(t, err)
			defer db.Close()

			s := newTestService(repomanager.NewPostgresRepositoryManagerFromDB(db))

			var insertArgs []driver.Value
			for _, ev := range []models.SessionEvent{lo, hi} {
				insertArgs = append(insertArgs, sqlmock.AnyArg(), "acc-1", fingerprintOf(ev),
					sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg())
			}

			mock.ExpectQuery(`SELECT fingerprint FROM sessions`).
				WillReturnRows(sqlmock.NewRows([]string{"fingerprint"}))
			mock.ExpectBegin()
			mock.ExpectQuery(`INSERT INTO sessions`).
				WithArgs(insertArgs...).
				WillReturnRows(sqlmock.NewRows([]string{"fingerprint"}).
					AddRow(fingerprintOf(lo)).AddRow(fingerprintOf(hi)))
			mock.ExpectExec(`INSERT INTO session_token_usage`).
				WillReturnResult(sqlmock.NewResult(0, 2))
			mock.ExpectExec(`INSERT INTO daily_aggregates`).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			res, err := s.IngestBatch(context.Background(), testAccount(), input)
			require.NoError(t, err)
			assert.Equal(t, 2, res.Succeeded)
			assert.Equal(t, fingerprintOf(input[0]), res.Items[0].Fingerprint)
			assert.Equal(t, fingerprintOf(input[1]), res.Items[1].Fingerprint)

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDailyUsage_Range(t *testing.T) {
	s := newTestService(memory.NewRepositoryManager())
	ctx := context.Background()

	_, err := s.DailyUsage(ctx, "acc-1", day, day.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = s.DailyUsage(ctx, "acc-1", day, day.AddDate(0, 0, 367))
	assert.ErrorIs(t, err, common.ErrValidation)

	rows, err := s.DailyUsage(ctx, "acc-1", day, day.AddDate(0, 0, 366))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDailyUsage_OrderedByDay(t *testing.T) {
	s := newTestService(memory.NewRepositoryManager())
	ctx := context.Background()

	var batch []models.SessionEvent
	for i := 2; i >= 0; i-- {
		ev := validEvent()
		ev.StartedAt = ev.StartedAt.AddDate(0, 0, -i)
		ev.EndedAt = ev.EndedAt.AddDate(0, 0, -i)
		batch = append(batch, ev)
	}
	_, err := s.IngestBatch(ctx, testAccount(), batch)
	require.NoError(t, err)

	rows, err := s.DailyUsage(ctx, "acc-1", day.AddDate(0, 0, -5), day)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, r := range rows {
		assert.Equal(t, day.AddDate(0, 0, i-2), r.Day, fmt.Sprintf("row %d", i))
	}
}

func fingerprintOf(ev models.SessionEvent) string {
	a := testAccount()
	return dedup.Fingerprint(a.ID, a.Salt, ev)
}
