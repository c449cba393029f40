// Package netx builds HMAC-signed HTTP requests for the ingest API.
package netx

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/usageledger/internal/common"
	"github.com/dmitrijs2005/usageledger/internal/server/hmacauth"
)

// SignatureHeaders returns the three authentication headers for body signed
// with key at timestamp (Unix seconds).
func SignatureHeaders(key string, timestamp int64, body []byte) http.Header {
	h := http.Header{}
	h.Set(common.APIKeyHeaderName, key)
	h.Set(common.TimestampHeaderName, strconv.FormatInt(timestamp, 10))
	h.Set(common.SignatureHeaderName, hmacauth.Sign(key, timestamp, body))
	return h
}

// NewSignedRequest creates a request carrying body and its signature. A
// non-empty body is sent as application/json.
func NewSignedRequest(ctx context.Context, method, url, key string, timestamp int64, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range SignatureHeaders(key, timestamp, body) {
		req.Header[k] = v
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
