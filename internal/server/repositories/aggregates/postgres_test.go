package aggregates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/usageledger/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

func TestAddDeltas_SingleAdditiveUpsert(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	d1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)

	deltas := []models.DailyDelta{
		{AccountID: "acc-1", Day: d1, Totals: models.Totals{InputTokens: 100, OutputTokens: 50, Sessions: 1},
			Tools: models.ToolBreakdown{"codex": {InputTokens: 100, OutputTokens: 50, Sessions: 1}}},
		{AccountID: "acc-1", Day: d2, Totals: models.Totals{InputTokens: 7, Sessions: 1},
			Tools: models.ToolBreakdown{"amp": {InputTokens: 7, Sessions: 1}}},
	}

	q := `(?s)^INSERT\s+INTO\s+daily_aggregates\s+\(account_id,\s*day,.*tool_breakdown\)\s+VALUES\s+\(\$1,.*\$8\),\s*\(\$9,.*\$16\)\s+` +
		`ON\s+CONFLICT\s+\(account_id,\s*day\)\s+DO\s+UPDATE\s+SET\s+` +
		`input_tokens\s*=\s*daily_aggregates\.input_tokens\s*\+\s*EXCLUDED\.input_tokens,.*` +
		`sessions\s*=\s*daily_aggregates\.sessions\s*\+\s*EXCLUDED\.sessions,\s*` +
		`tool_breakdown\s*=\s*merge_tool_breakdown\(daily_aggregates\.tool_breakdown,\s*EXCLUDED\.tool_breakdown\),.*$`

	mock.ExpectExec(q).
		WithArgs(
			"acc-1", d1, int64(100), int64(50), int64(0), int64(0), int64(1), `{"codex":{"input_tokens":100,"output_tokens":50,"cache_creation_tokens":0,"cache_read_tokens":0,"sessions":1}}`,
			"acc-1", d2, int64(7), int64(0), int64(0), int64(0), int64(1), `{"amp":{"input_tokens":7,"output_tokens":0,"cache_creation_tokens":0,"cache_read_tokens":0,"sessions":1}}`,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.AddDeltas(context.Background(), deltas))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddDeltas_EmptyIsNoop(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	require.NoError(t, repo.AddDeltas(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddDeltas_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`INSERT\s+INTO\s+daily_aggregates`).WillReturnError(errors.New("deadlock"))

	err := repo.AddDeltas(context.Background(), []models.DailyDelta{{AccountID: "a", Day: time.Now()}})
	assert.Regexp(t, `db error: .*deadlock`, err.Error())
}

func TestListRange(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	from := time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"account_id", "day", "input_tokens", "output_tokens", "cache_creation_tokens", "cache_read_tokens", "sessions", "tool_breakdown", "updated_at"}).
		AddRow("acc-1", day, 100, 50, 1, 2, 1, []byte(`{"codex":{"input_tokens":100,"sessions":1}}`), day)

	mock.ExpectQuery(`(?s)^SELECT\s+account_id,\s*day,.*FROM\s+daily_aggregates\s+WHERE\s+account_id\s*=\s*\$1\s+AND\s+day\s+BETWEEN\s+\$2\s+AND\s+\$3\s+ORDER\s+BY\s+day$`).
		WithArgs("acc-1", day, to).
		WillReturnRows(rows)

	got, err := repo.ListRange(context.Background(), "acc-1", from, to)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.Totals{InputTokens: 100, OutputTokens: 50, CacheCreationTokens: 1, CacheReadTokens: 2, Sessions: 1}, got[0].Totals)
	assert.Equal(t, models.Totals{InputTokens: 100, Sessions: 1}, got[0].Tools["codex"])
	assert.Equal(t, day, got[0].Day)
}

func TestListRange_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`FROM\s+daily_aggregates`).WillReturnError(errors.New("gone"))

	_, err := repo.ListRange(context.Background(), "acc-1", time.Now(), time.Now())
	assert.Regexp(t, `db error: .*gone`, err.Error())
}
