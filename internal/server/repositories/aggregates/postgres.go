package aggregates

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/usageledger/internal/dbx"
	"github.com/dmitrijs2005/usageledger/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const upsertTail = `
ON CONFLICT (account_id, day) DO UPDATE SET
    input_tokens          = daily_aggregates.input_tokens + EXCLUDED.input_tokens,
    output_tokens         = daily_aggregates.output_tokens + EXCLUDED.output_tokens,
    cache_creation_tokens = daily_aggregates.cache_creation_tokens + EXCLUDED.cache_creation_tokens,
    cache_read_tokens     = daily_aggregates.cache_read_tokens + EXCLUDED.cache_read_tokens,
    sessions              = daily_aggregates.sessions + EXCLUDED.sessions,
    tool_breakdown        = merge_tool_breakdown(daily_aggregates.tool_breakdown, EXCLUDED.tool_breakdown),
    updated_at            = now()`

func (r *PostgresRepository) AddDeltas(ctx context.Context, deltas []models.DailyDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	const width = 8
	query := `INSERT INTO daily_aggregates (account_id, day, input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, sessions, tool_breakdown) VALUES ` +
		dbx.ValuesList(1, len(deltas), width) + upsertTail

	args := make([]any, 0, len(deltas)*width)
	for _, d := range deltas {
		t := d.Totals
		args = append(args, d.AccountID, models.DayOf(d.Day), t.InputTokens, t.OutputTokens,
			t.CacheCreationTokens, t.CacheReadTokens, t.Sessions, d.Tools)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListRange(ctx context.Context, accountID string, from, to time.Time) ([]models.DailyAggregate, error) {
	query :=
		`SELECT account_id, day, input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, sessions, tool_breakdown, updated_at
		 FROM daily_aggregates
		 WHERE account_id = $1 AND day BETWEEN $2 AND $3
		 ORDER BY day`

	rows, err := r.db.QueryContext(ctx, query, accountID, models.DayOf(from), models.DayOf(to))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.DailyAggregate
	for rows.Next() {
		var a models.DailyAggregate
		t := &a.Totals
		if err := rows.Scan(&a.AccountID, &a.Day, &t.InputTokens, &t.OutputTokens, &t.CacheCreationTokens,
			&t.CacheReadTokens, &t.Sessions, &a.Tools, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		a.Day = models.DayOf(a.Day)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
