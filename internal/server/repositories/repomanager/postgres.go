// Package repomanager wires the PostgreSQL repositories to one connection
// pool, runs embedded goose migrations and scopes repositories to
// transactions.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/usageledger/internal/dbx"
	"github.com/dmitrijs2005/usageledger/internal/server/migrations"
	"github.com/dmitrijs2005/usageledger/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/usageledger/internal/server/repositories/aggregates"
	"github.com/dmitrijs2005/usageledger/internal/server/repositories/sessions"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repositories.
type PostgresRepositoryManager struct {
	db *sql.DB
}

// boundRepositories binds repository constructors to one DBTX.
type boundRepositories struct {
	db dbx.DBTX
}

func (b boundRepositories) Accounts() accounts.Repository {
	return accounts.NewPostgresRepository(b.db)
}

func (b boundRepositories) Sessions() sessions.Repository {
	return sessions.NewPostgresRepository(b.db)
}

func (b boundRepositories) Aggregates() aggregates.Repository {
	return aggregates.NewPostgresRepository(b.db)
}

// NewPostgresRepositoryManager opens a pgx pool for dsn. The connection is
// established lazily; use Ping to check it.
func NewPostgresRepositoryManager(dsn string) (*PostgresRepositoryManager, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	return NewPostgresRepositoryManagerFromDB(db), nil
}

// NewPostgresRepositoryManagerFromDB wraps an existing pool.
func NewPostgresRepositoryManagerFromDB(db *sql.DB) *PostgresRepositoryManager {
	return &PostgresRepositoryManager{db: db}
}

func (m *PostgresRepositoryManager) Accounts() accounts.Repository {
	return boundRepositories{db: m.db}.Accounts()
}

func (m *PostgresRepositoryManager) Sessions() sessions.Repository {
	return boundRepositories{db: m.db}.Sessions()
}

func (m *PostgresRepositoryManager) Aggregates() aggregates.Repository {
	return boundRepositories{db: m.db}.Aggregates()
}

func (m *PostgresRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	return dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, boundRepositories{db: tx})
	})
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, m.db, ".")
}

func (m *PostgresRepositoryManager) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *PostgresRepositoryManager) Close() error {
	return m.db.Close()
}
