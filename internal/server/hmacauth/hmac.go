// Package hmacauth proves that a request body was produced by the holder of
// an API key within a bounded time window.
//
// The signature is hex(HMAC-SHA256(key, "{timestamp}:{raw body}")), where
// timestamp is Unix seconds. Verification works on the raw body bytes and
// every failure is reported as the same common.ErrAuthentication.
package hmacauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/usageledger/internal/common"
)

// DefaultTolerance is how far a timestamp may drift from server time in
// either direction.
const DefaultTolerance = 300 * time.Second

// Sign returns the lowercase hex signature of body at timestamp.
func Sign(key string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{':'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier checks signatures against a clock.
type Verifier struct {
	Tolerance time.Duration
	Now       func() time.Time
}

// NewVerifier returns a Verifier using the wall clock. A non-positive
// tolerance selects DefaultTolerance.
func NewVerifier(tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{Tolerance: tolerance, Now: time.Now}
}

// CheckTimestamp parses a Unix-seconds header and checks it against the
// window. It is split from Verify so callers can reject stale requests
// before looking the key up.
func (v *Verifier) CheckTimestamp(header string) (int64, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, common.ErrAuthentication
	}
	ts, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return 0, common.ErrAuthentication
	}

	skew := v.Now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.Tolerance {
		return 0, common.ErrAuthentication
	}
	return ts, nil
}

// Verify checks every part of a signed request.
func (v *Verifier) Verify(key, timestampHeader string, body []byte, signature string) error {
	if key == "" || signature == "" {
		return common.ErrAuthentication
	}
	ts, err := v.CheckTimestamp(timestampHeader)
	if err != nil {
		return err
	}
	if !Equal(Sign(key, ts, body), signature) {
		return common.ErrAuthentication
	}
	return nil
}

// Equal compares two hex signatures in constant time. Malformed input never
// matches.
func Equal(expected, got string) bool {
	want, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	have, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(got)))
	if err != nil || len(have) != sha256.Size {
		return false
	}
	return hmac.Equal(want, have)
}
