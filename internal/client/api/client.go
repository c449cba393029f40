package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/usageledger/internal/common"
	"github.com/dmitrijs2005/usageledger/internal/netx"
	"github.com/dmitrijs2005/usageledger/internal/server/models"
)

// ItemResult is the outcome for one submitted session.
type ItemResult struct {
	Index       int    `json:"index"`
	Status      string `json:"status"`
	Fingerprint string `json:"fingerprint"`
}

// BatchResult is the response to a batch submission.
type BatchResult struct {
	Results    []ItemResult `json:"results"`
	Processed  int          `json:"processed"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Duplicates int          `json:"duplicates"`
}

// Account is what /v1/verify reports about the key's owner.
type Account struct {
	AccountID   string    `json:"account_id"`
	DisplayName string    `json:"display_name"`
	KeyPrefix   string    `json:"key_prefix"`
	IsPrivate   bool      `json:"is_private"`
	CreatedAt   time.Time `json:"created_at"`
}

type DailyRow struct {
	Day string `json:"day"`
	models.Totals
	Tools models.ToolBreakdown `json:"tools"`
}

type DailyUsage struct {
	AccountID string     `json:"account_id"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Days      []DailyRow `json:"days"`
}

// Error is a non-2xx response decoded from the server's error body.
type Error struct {
	StatusCode int                 `json:"-"`
	Code       string              `json:"code"`
	Message    string              `json:"message"`
	Fields     map[string][]string `json:"errors,omitempty"`
	RetryAfter time.Duration       `json:"-"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

// Unwrap maps the response status onto the shared sentinel errors.
func (e *Error) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return common.ErrAuthentication
	case e.StatusCode == http.StatusTooManyRequests:
		return common.ErrRateLimited
	case e.StatusCode == http.StatusBadRequest:
		return common.ErrValidation
	case e.StatusCode >= 500:
		return common.ErrInternal
	}
	return nil
}

// Client talks to one server with one API key.
type Client struct {
	baseURL string
	key     string
	http    *http.Client
	now     func() time.Time
}

// NewClient returns a client for baseURL. A nil hc selects a client with a
// 30 second timeout.
func NewClient(baseURL, key string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		http:    hc,
		now:     time.Now,
	}
}

// SubmitOne sends a single session.
func (c *Client) SubmitOne(ctx context.Context, ev models.SessionEvent) (*ItemResult, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return SubmitRaw[ItemResult](ctx, c, "/v1/sessions", body)
}

// SubmitBatch sends sessions as one all-or-nothing batch.
func (c *Client) SubmitBatch(ctx context.Context, events []models.SessionEvent) (*BatchResult, error) {
	body, err := json.Marshal(struct {
		Sessions []models.SessionEvent `json:"sessions"`
	}{Sessions: events})
	if err != nil {
		return nil, err
	}
	return SubmitRaw[BatchResult](ctx, c, "/v1/sessions/batch", body)
}

// SubmitRaw posts an already encoded body to path. The server sees exactly
// these bytes, so the signature covers them.
func SubmitRaw[T any](ctx context.Context, c *Client, path string, body []byte) (*T, error) {
	out := new(T)
	if err := c.do(ctx, http.MethodPost, path, body, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Verify checks the key and returns the account it belongs to.
func (c *Client) Verify(ctx context.Context) (*Account, error) {
	out := &Account{}
	if err := c.do(ctx, http.MethodGet, "/v1/verify", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DailyUsage returns aggregates for the inclusive day range.
func (c *Client) DailyUsage(ctx context.Context, from, to time.Time) (*DailyUsage, error) {
	q := url.Values{}
	q.Set("from", from.UTC().Format(models.DayLayout))
	q.Set("to", to.UTC().Format(models.DayLayout))

	out := &DailyUsage{}
	if err := c.do(ctx, http.MethodGet, "/v1/usage/daily?"+q.Encode(), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := netx.NewSignedRequest(ctx, method, c.baseURL+path, c.key, c.now().Unix(), body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	e := &Error{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, e); err != nil || e.Code == "" {
		e.Code = http.StatusText(resp.StatusCode)
		e.Message = strings.TrimSpace(string(raw))
	}
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}

// AsError unwraps a server error response.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
