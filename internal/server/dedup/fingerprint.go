// Package dedup derives the content fingerprint that identifies a physical
// usage event across retries and batches.
//
// The store's unique constraint on the fingerprint decides which write
// wins; the lookup done before inserting only saves needless writes.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/usageledger/internal/server/models"
)

const separator = "|"

// Fingerprint is hex SHA-256 over account id, account salt, the four token
// counts, the model and the end time (UTC, RFC 3339), in that order. The
// salt keeps fingerprints unguessable to anyone who lacks the account's
// data.
func Fingerprint(accountID, salt string, ev models.SessionEvent) string {
	parts := []string{
		accountID,
		salt,
		strconv.FormatInt(ev.InputTokens, 10),
		strconv.FormatInt(ev.OutputTokens, 10),
		strconv.FormatInt(ev.CacheCreationTokens, 10),
		strconv.FormatInt(ev.CacheReadTokens, 10),
		ev.Model,
		ev.EndedAt.UTC().Format(time.RFC3339Nano),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, separator)))
	return hex.EncodeToString(sum[:])
}

// Partition marks what is already known about a batch before any write.
// fps holds one fingerprint per input index. It returns, per index, whether
// the item repeats an earlier item of the same batch and the list of
// distinct fingerprints in first-seen order.
func Partition(fps []string) (repeats []bool, distinct []string) {
	seen := make(map[string]struct{}, len(fps))
	repeats = make([]bool, len(fps))
	for i, fp := range fps {
		if _, ok := seen[fp]; ok {
			repeats[i] = true
			continue
		}
		seen[fp] = struct{}{}
		distinct = append(distinct, fp)
	}
	return repeats, distinct
}
