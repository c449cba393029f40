package repomanager

import (
	"context"

	"github.com/dmitrijs2005/usageledger/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/usageledger/internal/server/repositories/aggregates"
	"github.com/dmitrijs2005/usageledger/internal/server/repositories/sessions"
)

// Repositories is a set of repositories bound to one handle: the pool, or a
// single open transaction.
type Repositories interface {
	Accounts() accounts.Repository
	Sessions() sessions.Repository
	Aggregates() aggregates.Repository
}

// RepositoryManager vends repositories bound to the pool and runs functions
// against repositories bound to a transaction.
type RepositoryManager interface {
	Repositories

	// WithTx runs fn in one transaction: it commits when fn returns nil and
	// rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error

	RunMigrations(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
