package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/usageledger/internal/server/models"
	"github.com/dmitrijs2005/usageledger/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/usageledger/internal/server/repositories/aggregates"
	"github.com/dmitrijs2005/usageledger/internal/server/repositories/sessions"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*PostgresRepositoryManager, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp), sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepositoryManagerFromDB(db), mock, db
}

func TestManager_SatisfiesInterface(t *testing.T) {
	m, _, _ := newManager(t)
	var _ RepositoryManager = m

	assert.IsType(t, &accounts.PostgresRepository{}, m.Accounts())
	assert.IsType(t, &sessions.PostgresRepository{}, m.Sessions())
	assert.IsType(t, &aggregates.PostgresRepository{}, m.Aggregates())
}

func TestWithTx_CommitsAndBindsTx(t *testing.T) {
	m, mock, _ := newManager(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT\s+INTO\s+session_token_usage`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := m.WithTx(context.Background(), func(ctx context.Context, repos Repositories) error {
		return repos.Sessions().InsertTokenUsage(ctx, []models.Session{{ID: "s1", AccountID: "acc-1"}})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	m, mock, _ := newManager(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := m.WithTx(context.Background(), func(ctx context.Context, repos Repositories) error {
		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPingAndClose(t *testing.T) {
	m, mock, _ := newManager(t)

	mock.ExpectPing()
	require.NoError(t, m.Ping(context.Background()))

	mock.ExpectClose()
	require.NoError(t, m.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_Success(t *testing.T) {
	m, _, _ := newManager(t)

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir != "." {
			return errors.New("unexpected dir")
		}
		return nil
	}
	defer func() { gooseUpContext = orig }()

	require.NoError(t, m.RunMigrations(context.Background()))
}

func TestRunMigrations_Error(t *testing.T) {
	m, _, _ := newManager(t)

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	defer func() { gooseUpContext = orig }()

	require.EqualError(t, m.RunMigrations(context.Background()), "boom")
}
