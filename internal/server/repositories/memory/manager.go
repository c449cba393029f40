// Package memory is an in-process RepositoryManager with the same
// uniqueness and additive-upsert semantics as the PostgreSQL one. It serves
// tests and the "-d memory" development mode; it is not shared between
// processes.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/usageledger/internal/common"
	"github.com/dmitrijs2005/usageledger/internal/server/models"
	"github.com/dmitrijs2005/usageledger/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/usageledger/internal/server/repositories/aggregates"
	"github.com/dmitrijs2005/usageledger/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/usageledger/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/usageledger/internal/server/rollup"
)

type aggKey struct {
	account string
	day     string
}

type state struct {
	accounts   map[string]models.Account
	digests    map[string]string // key digest -> account id
	sessions   map[string]models.Session
	usage      map[string]models.Session
	aggregates map[aggKey]models.DailyAggregate
}

func (s *state) clone() *state {
	return &state{
		accounts:   maps.Clone(s.accounts),
		digests:    maps.Clone(s.digests),
		sessions:   maps.Clone(s.sessions),
		usage:      maps.Clone(s.usage),
		aggregates: maps.Clone(s.aggregates),
	}
}

// RepositoryManager serializes every write under one mutex. WithTx holds the
// mutex for the whole function and restores a snapshot when it fails.
type RepositoryManager struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

var _ repomanager.RepositoryManager = (*RepositoryManager)(nil)

func NewRepositoryManager() *RepositoryManager {
	return &RepositoryManager{
		st: &state{
			accounts:   map[string]models.Account{},
			digests:    map[string]string{},
			sessions:   map[string]models.Session{},
			usage:      map[string]models.Session{},
			aggregates: map[aggKey]models.DailyAggregate{},
		},
		now: time.Now,
	}
}

func (m *RepositoryManager) Accounts() accounts.Repository     { return &view{m: m} }
func (m *RepositoryManager) Sessions() sessions.Repository     { return &view{m: m} }
func (m *RepositoryManager) Aggregates() aggregates.Repository { return &view{m: m} }

func (m *RepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos repomanager.Repositories) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(ctx, txRepos{v: &view{m: m, inTx: true}}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *RepositoryManager) RunMigrations(context.Context) error { return nil }
func (m *RepositoryManager) Ping(context.Context) error          { return nil }
func (m *RepositoryManager) Close() error                        { return nil }

type txRepos struct{ v *view }

func (t txRepos) Accounts() accounts.Repository     { return t.v }
func (t txRepos) Sessions() sessions.Repository     { return t.v }
func (t txRepos) Aggregates() aggregates.Repository { return t.v }

// view implements all three repositories. Inside WithTx the mutex is
// already held.
type view struct {
	m    *RepositoryManager
	inTx bool
}

func (v *view) locked(fn func(st *state) error) error {
	if !v.inTx {
		v.m.mu.Lock()
		defer v.m.mu.Unlock()
	}
	return fn(v.m.st)
}

func (v *view) CreateIfAbsent(ctx context.Context, a *models.Account) error {
	return v.locked(func(st *state) error {
		if _, ok := st.accounts[a.ID]; ok {
			return nil
		}
		row := *a
		row.Active = true
		row.CreatedAt = v.m.now().UTC()
		row.UpdatedAt = row.CreatedAt
		st.accounts[a.ID] = row
		st.digests[a.KeyDigest] = a.ID
		return nil
	})
}

func (v *view) GetByID(ctx context.Context, id string) (*models.Account, error) {
	var out *models.Account
	err := v.locked(func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return common.ErrNotFound
		}
		out = &a
		return nil
	})
	return out, err
}

func (v *view) GetByKeyDigest(ctx context.Context, digest string) (*models.Account, error) {
	var out *models.Account
	err := v.locked(func(st *state) error {
		id, ok := st.digests[digest]
		if !ok {
			return common.ErrNotFound
		}
		a := st.accounts[id]
		out = &a
		return nil
	})
	return out, err
}

func (v *view) ReplaceKey(ctx context.Context, id, digest, prefix string, cipher []byte) error {
	return v.locked(func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return common.ErrNotFound
		}
		delete(st.digests, a.KeyDigest)
		a.KeyDigest = digest
		a.KeyPrefix = prefix
		a.KeyCipher = cipher
		a.UpdatedAt = v.m.now().UTC()
		st.accounts[id] = a
		st.digests[digest] = id
		return nil
	})
}

func (v *view) ExistingFingerprints(ctx context.Context, accountID string, fingerprints []string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	err := v.locked(func(st *state) error {
		for _, fp := range fingerprints {
			if s, ok := st.sessions[fp]; ok && s.AccountID == accountID {
				out[fp] = struct{}{}
			}
		}
		return nil
	})
	return out, err
}

func (v *view) InsertBatch(ctx context.Context, batch []models.Session) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	err := v.locked(func(st *state) error {
		for _, s := range batch {
			if _, ok := st.sessions[s.Fingerprint]; ok {
				continue
			}
			s.CreatedAt = v.m.now().UTC()
			st.sessions[s.Fingerprint] = s
			out[s.Fingerprint] = struct{}{}
		}
		return nil
	})
	return out, err
}

func (v *view) InsertTokenUsage(ctx context.Context, batch []models.Session) error {
	return v.locked(func(st *state) error {
		for _, s := range batch {
			st.usage[s.ID] = s
		}
		return nil
	})
}

func (v *view) AddDeltas(ctx context.Context, deltas []models.DailyDelta) error {
	return v.locked(func(st *state) error {
		for _, d := range deltas {
			k := aggKey{account: d.AccountID, day: d.Day.UTC().Format(models.DayLayout)}
			merged := rollup.Merge(st.aggregates[k], d)
			merged.UpdatedAt = v.m.now().UTC()
			st.aggregates[k] = merged
		}
		return nil
	})
}

func (v *view) ListRange(ctx context.Context, accountID string, from, to time.Time) ([]models.DailyAggregate, error) {
	lo, hi := models.DayOf(from), models.DayOf(to)
	var out []models.DailyAggregate
	err := v.locked(func(st *state) error {
		for k, a := range st.aggregates {
			if k.account != accountID || a.Day.Before(lo) || a.Day.After(hi) {
				continue
			}
			a.Tools = maps.Clone(a.Tools)
			out = append(out, a)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, err
}
