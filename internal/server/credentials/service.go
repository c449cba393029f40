// Package credentials owns the API key lifecycle: issue, verify, regenerate,
// revoke and the optional reveal of a sealed copy.
//
// Only the SHA-256 digest of a key is used for verification. The full key is
// returned once, by Issue or Regenerate. When a sealing secret is
// configured, a copy of the key is also stored encrypted under a key derived
// from that secret and the account salt, so it can be shown again by
// Reveal. The sealed copy is deprecated and disabled by default.
package credentials

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/usageledger/internal/common"
	"github.com/dmitrijs2005/usageledger/internal/cryptox"
	"github.com/dmitrijs2005/usageledger/internal/logging"
	"github.com/dmitrijs2005/usageledger/internal/server/audit"
	"github.com/dmitrijs2005/usageledger/internal/server/models"
	"github.com/dmitrijs2005/usageledger/internal/server/repositories/repomanager"
)

// IssuedKey is the result of issuing or regenerating a key. Key is the only
// place the plaintext secret ever appears.
type IssuedKey struct {
	Key     string
	Digest  string
	Prefix  string
	Cipher  []byte
	Account *models.Account
}

type Service struct {
	repos         repomanager.RepositoryManager
	auditor       audit.Auditor
	logger        logging.Logger
	sealingSecret []byte
}

// NewService builds the credential store. An empty sealingSecret disables
// the reversible copy.
func NewService(repos repomanager.RepositoryManager, auditor audit.Auditor, logger logging.Logger, sealingSecret string) *Service {
	s := &Service{
		repos:   repos,
		auditor: auditor,
		logger:  logger.With("module", "credentials"),
	}
	if sealingSecret != "" {
		s.sealingSecret = []byte(sealingSecret)
	}
	return s
}

// Issue creates the account on first use and gives it a fresh key, replacing
// any current one.
func (s *Service) Issue(ctx context.Context, accountID, displayName string) (*IssuedKey, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: empty account id", common.ErrValidation)
	}

	salt, err := common.MakeRandHexString(16)
	if err != nil {
		return nil, fmt.Errorf("entropy source: %w", err)
	}
	placeholder, err := cryptox.UnrecoverableDigest()
	if err != nil {
		return nil, err
	}

	var issued *IssuedKey
	err = s.repos.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		err := r.Accounts().CreateIfAbsent(ctx, &models.Account{
			ID:          accountID,
			DisplayName: displayName,
			Salt:        salt,
			KeyDigest:   placeholder,
			KeyPrefix:   common.RevokedKeyPrefix,
		})
		if err != nil {
			return err
		}
		issued, err = s.rotate(ctx, r, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.ActionKeyIssued, issued.Account.ID, issued.Prefix)
	return issued, nil
}

// Regenerate replaces the key of an existing account. The old key stops
// verifying as soon as this returns; there is no grace period.
func (s *Service) Regenerate(ctx context.Context, accountID string) (*IssuedKey, error) {
	var issued *IssuedKey
	err := s.repos.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		var err error
		issued, err = s.rotate(ctx, r, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.ActionKeyRegenerated, accountID, issued.Prefix)
	return issued, nil
}

func (s *Service) rotate(ctx context.Context, r repomanager.Repositories, accountID string) (*IssuedKey, error) {
	account, err := r.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, common.ErrAccountInactive
	}

	key, err := cryptox.GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	issued := &IssuedKey{
		Key:    key,
		Digest: cryptox.DigestKey(key),
		Prefix: cryptox.DisplayPrefix(key),
	}
	if s.sealingSecret != nil {
		issued.Cipher, err = s.seal(account.Salt, key)
		if err != nil {
			return nil, err
		}
	}

	if err := r.Accounts().ReplaceKey(ctx, accountID, issued.Digest, issued.Prefix, issued.Cipher); err != nil {
		return nil, err
	}

	account.KeyDigest = issued.Digest
	account.KeyPrefix = issued.Prefix
	account.KeyCipher = issued.Cipher
	issued.Account = account
	return issued, nil
}

// Verify resolves candidate to its account. A wrong, malformed, revoked or
// inactive key yields (nil, nil); only store failures are errors.
func (s *Service) Verify(ctx context.Context, candidate string) (*models.Account, error) {
	if !cryptox.LooksLikeAPIKey(candidate) {
		return nil, nil
	}
	digest := cryptox.DigestKey(candidate)

	account, err := s.repos.Accounts().GetByKeyDigest(ctx, digest)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(account.KeyDigest), []byte(digest)) != 1 {
		return nil, nil
	}
	if !account.Active || account.KeyPrefix == common.RevokedKeyPrefix {
		return nil, nil
	}
	return account, nil
}

// Revoke makes the current key permanently unverifiable, drops the sealed
// copy and replaces the display prefix with the revoked sentinel.
func (s *Service) Revoke(ctx context.Context, accountID string) error {
	digest, err := cryptox.UnrecoverableDigest()
	if err != nil {
		return err
	}
	if err := s.repos.Accounts().ReplaceKey(ctx, accountID, digest, common.RevokedKeyPrefix, nil); err != nil {
		return err
	}

	s.record(ctx, audit.ActionKeyRevoked, accountID, common.RevokedKeyPrefix)
	return nil
}

// Reveal decrypts the sealed copy of the current key.
//
// Deprecated: prefer show-once keys; Reveal only works when a sealing secret
// was configured at issue time.
func (s *Service) Reveal(ctx context.Context, accountID string) (string, error) {
	account, err := s.repos.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	if s.sealingSecret == nil || len(account.KeyCipher) == 0 {
		return "", common.ErrKeyNotRetrievable
	}

	sk, err := cryptox.DeriveSealingKey(s.sealingSecret, []byte(account.Salt))
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(sk)

	plain, err := cryptox.Open(sk, account.KeyCipher)
	if err != nil {
		s.logger.Error(ctx, "sealed key does not open", "account_id", accountID, "error", err)
		return "", common.ErrKeyNotRetrievable
	}

	s.record(ctx, audit.ActionKeyRevealed, accountID, account.KeyPrefix)
	return string(plain), nil
}

// Describe returns the account without any secret material.
func (s *Service) Describe(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.repos.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	account.KeyDigest = ""
	account.KeyCipher = nil
	return account, nil
}

func (s *Service) seal(salt, key string) ([]byte, error) {
	sk, err := cryptox.DeriveSealingKey(s.sealingSecret, []byte(salt))
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(sk)
	return cryptox.Seal(sk, []byte(key))
}

func (s *Service) record(ctx context.Context, action, accountID, prefix string) {
	audit.Record(ctx, s.auditor, s.logger, audit.Event{
		Action:    action,
		AccountID: accountID,
		Details:   map[string]string{"key_prefix": prefix},
	})
}
