package sessions

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/usageledger/internal/dbx"
	"github.com/dmitrijs2005/usageledger/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ExistingFingerprints(ctx context.Context, accountID string, fingerprints []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	if len(fingerprints) == 0 {
		return found, nil
	}

	query := `SELECT fingerprint FROM sessions WHERE account_id = $1 AND fingerprint IN (` +
		dbx.Placeholders(2, len(fingerprints)) + `)`

	args := make([]any, 0, len(fingerprints)+1)
	args = append(args, accountID)
	for _, fp := range fingerprints {
		args = append(args, fp)
	}

	return r.collect(ctx, query, args)
}

func (r *PostgresRepository) InsertBatch(ctx context.Context, sessions []models.Session) (map[string]struct{}, error) {
	if len(sessions) == 0 {
		return map[string]struct{}{}, nil
	}

	const width = 8
	query := `INSERT INTO sessions (id, account_id, fingerprint, tool, model, started_at, ended_at, metadata) VALUES ` +
		dbx.ValuesList(1, len(sessions), width) +
		` ON CONFLICT (fingerprint) DO NOTHING RETURNING fingerprint`

	args := make([]any, 0, len(sessions)*width)
	for _, s := range sessions {
		args = append(args, s.ID, s.AccountID, s.Fingerprint, string(s.Event.Tool), s.Event.Model,
			s.Event.StartedAt.UTC(), s.Event.EndedAt.UTC(), s.Event.Metadata)
	}

	return r.collect(ctx, query, args)
}

func (r *PostgresRepository) InsertTokenUsage(ctx context.Context, sessions []models.Session) error {
	if len(sessions) == 0 {
		return nil
	}

	const width = 7
	query := `INSERT INTO session_token_usage (session_id, account_id, day, input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens) VALUES ` +
		dbx.ValuesList(1, len(sessions), width)

	args := make([]any, 0, len(sessions)*width)
	for _, s := range sessions {
		ev := s.Event
		args = append(args, s.ID, s.AccountID, s.Day(), ev.InputTokens, ev.OutputTokens, ev.CacheCreationTokens, ev.CacheReadTokens)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) collect(ctx context.Context, query string, args []any) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out[fp] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
