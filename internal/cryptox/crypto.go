// Package cryptox holds the key material primitives behind API keys: secret
// generation, one-way digests, and the optional reversible copy sealed with
// AES-256-GCM under a per-account key.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/usageledger/internal/common"
	"golang.org/x/crypto/hkdf"
)

const (
	// keyEntropyBytes is the amount of randomness behind every API key.
	keyEntropyBytes = 32
	// displayHexChars is how many secret characters the display prefix reveals.
	displayHexChars = 8
	sealingKeyInfo  = "usageledger api key display"
)

// randRead is a seam for tests.
var randRead = rand.Read

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// GenerateAPIKey returns a fresh secret of the form "ulk_" + 64 hex chars.
// A failing entropy source is returned as an error and should be treated as
// fatal by the caller.
func GenerateAPIKey() (string, error) {
	b := make([]byte, keyEntropyBytes)
	if _, err := randRead(b); err != nil {
		return "", fmt.Errorf("entropy source: %w", err)
	}
	defer common.WipeByteArray(b)
	return common.APIKeyPrefix + hex.EncodeToString(b), nil
}

// LooksLikeAPIKey reports whether key has the issued shape. It is a cheap
// filter in front of the digest lookup, not a validity check.
func LooksLikeAPIKey(key string) bool {
	rest, ok := strings.CutPrefix(key, common.APIKeyPrefix)
	if !ok || len(rest) != keyEntropyBytes*2 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}

// DigestKey is the one-way digest stored in place of the key: lowercase hex
// SHA-256.
func DigestKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix is the non-secret part of key shown in UIs, e.g. "ulk_1a2b3c4d".
func DisplayPrefix(key string) string {
	n := len(common.APIKeyPrefix) + displayHexChars
	if len(key) < n {
		return key
	}
	return key[:n]
}

// UnrecoverableDigest returns the digest of random bytes that are discarded
// immediately, so no key can ever match it.
func UnrecoverableDigest() (string, error) {
	b := make([]byte, keyEntropyBytes)
	if _, err := randRead(b); err != nil {
		return "", fmt.Errorf("entropy source: %w", err)
	}
	sum := sha256.Sum256(b)
	common.WipeByteArray(b)
	return hex.EncodeToString(sum[:]), nil
}

// DeriveSealingKey derives the 32-byte AES key that protects one account's
// reversible key copy. salt is the account's random salt.
func DeriveSealingKey(secret, salt []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty sealing secret")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(sealingKeyInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts plaintext with AES-GCM and returns nonce||ciphertext.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := randRead(nonce); err != nil {
		return nil, fmt.Errorf("entropy source: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func Open(key, sealed []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrCiphertextTooShort
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ct, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
