package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/usageledger/internal/common"
	"github.com/dmitrijs2005/usageledger/internal/server/models"
	"github.com/dmitrijs2005/usageledger/internal/server/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

type ctxKey string

const accountKey ctxKey = "account"

func accountFrom(ctx context.Context) *models.Account {
	a, _ := ctx.Value(accountKey).(*models.Account)
	return a
}

// clientIP is the host part of the peer address. Forwarding headers are not
// trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// BodyLimit limits request bodies to maxBytes.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireJSON ensures Content-Type is application/json for POST endpoints.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if r.Method == http.MethodPost && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			WriteProblem(w, http.StatusUnsupportedMediaType, Problem{
				Code:    CodeUnsupportedMediaType,
				Message: "expected application/json",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		args := []any{
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		}
		if a := accountFrom(r.Context()); a != nil {
			args = append(args, "account_id", a.ID)
		}
		s.logger.Info(r.Context(), "http request", args...)
	})
}

// edgeLimit guards this instance per IP before any shared state is touched.
func (s *Server) edgeLimit() func(http.Handler) http.Handler {
	if s.opts.EdgeRateLimit <= 0 || s.opts.RateLimitWindow <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		s.opts.EdgeRateLimit,
		s.opts.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			reset := time.Now().Add(s.opts.RateLimitWindow)
			WriteProblem(w, http.StatusTooManyRequests, Problem{
				Code:    CodeRateLimited,
				Message: "rate limit exceeded",
				ResetAt: &reset,
			})
		}),
	)
}

func setRateHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Limit <= 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// limit applies l to the identity derived from each request. Backend errors
// are the limiter's business; a limiter that returns one fails closed here.
func (s *Server) limit(l ratelimit.Limiter, identity func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := l.Allow(r.Context(), identity(r))
			if err != nil {
				s.logger.Error(r.Context(), "rate limiter failed", "error", err)
				writeInternal(w)
				return
			}
			setRateHeaders(w, d)
			if !d.Allowed {
				now := s.now()
				w.Header().Set("Retry-After", strconv.FormatInt(int64(d.RetryAfter(now)/time.Second), 10))
				reset := d.ResetAt.UTC()
				WriteProblem(w, http.StatusTooManyRequests, Problem{
					Code:    CodeRateLimited,
					Message: "rate limit exceeded",
					ResetAt: &reset,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ipIdentity(r *http.Request) string { return "ip:" + clientIP(r) }

func accountIdentity(r *http.Request) string {
	if a := accountFrom(r.Context()); a != nil {
		return "account:" + a.ID
	}
	return ipIdentity(r)
}

// hmacAuth authenticates a signed request and stores the account in the
// context. The body is read once and handed on unchanged.
func (s *Server) hmacAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := r.Header.Get(common.APIKeyHeaderName)
		tsHeader := r.Header.Get(common.TimestampHeaderName)
		signature := r.Header.Get(common.SignatureHeaderName)

		if key == "" || tsHeader == "" || signature == "" {
			s.logger.Debug(ctx, "authentication failed", "reason", "missing headers")
			writeAuthFailed(w)
			return
		}
		if _, err := s.signatures.CheckTimestamp(tsHeader); err != nil {
			s.logger.Debug(ctx, "authentication failed", "reason", "timestamp outside window")
			writeAuthFailed(w)
			return
		}

		body, err := readBody(r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writePayloadTooLarge(w)
				return
			}
			writeMalformed(w, err)
			return
		}

		account, err := s.keys.Verify(ctx, key)
		if err != nil {
			s.logger.Error(ctx, "credential lookup failed", "error", err)
			writeInternal(w)
			return
		}
		if account == nil {
			s.logger.Debug(ctx, "authentication failed", "reason", "unknown or revoked key")
			writeAuthFailed(w)
			return
		}

		if err := s.signatures.Verify(key, tsHeader, body, signature); err != nil {
			s.logger.Debug(ctx, "authentication failed", "reason", "bad signature", "account_id", account.ID)
			writeAuthFailed(w)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, accountKey, account)))
	})
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return []byte{}, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
