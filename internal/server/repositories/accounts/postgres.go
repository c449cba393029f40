package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/usageledger/internal/common"
	"github.com/dmitrijs2005/usageledger/internal/dbx"
	"github.com/dmitrijs2005/usageledger/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, display_name, salt, key_digest, key_prefix, key_cipher, is_private, active, created_at, updated_at`

func (r *PostgresRepository) CreateIfAbsent(ctx context.Context, a *models.Account) error {
	query :=
		`INSERT INTO accounts (id, display_name, salt, key_digest, key_prefix, is_private)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query, a.ID, a.DisplayName, a.Salt, a.KeyDigest, a.KeyPrefix, a.IsPrivate)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByKeyDigest(ctx context.Context, digest string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE key_digest = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, digest))
}

func (r *PostgresRepository) ReplaceKey(ctx context.Context, id, digest, prefix string, cipher []byte) error {
	query :=
		`UPDATE accounts
		 SET key_digest = $2, key_prefix = $3, key_cipher = $4, updated_at = now()
		 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, digest, prefix, cipher)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(&a.ID, &a.DisplayName, &a.Salt, &a.KeyDigest, &a.KeyPrefix, &a.KeyCipher,
		&a.IsPrivate, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}
