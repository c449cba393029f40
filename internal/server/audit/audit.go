// Package audit records security-relevant events. The trail is diagnostic:
// exporting is best effort and a failing backend never fails the request
// that produced the event.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/usageledger/internal/logging"
	"github.com/google/uuid"
)

// Action names.
const (
	ActionKeyIssued      = "api_key.issued"
	ActionKeyRegenerated = "api_key.regenerated"
	ActionKeyRevoked     = "api_key.revoked"
	ActionKeyRevealed    = "api_key.revealed"
)

// Event is one audit record. Details must never contain secrets.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Time       time.Time         `json:"time"`
	Action     string            `json:"action"`
	AccountID  string            `json:"account_id"`
	Actor      string            `json:"actor,omitempty"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// Auditor exports events to a backend.
type Auditor interface {
	Export(ctx context.Context, ev Event) error
}

type nop struct{}

// NewNop returns an Auditor that drops everything.
func NewNop() Auditor { return nop{} }

func (nop) Export(context.Context, Event) error { return nil }

type multi []Auditor

// Multi fans an event out to every backend and joins their errors.
func Multi(backends ...Auditor) Auditor { return multi(backends) }

func (m multi) Export(ctx context.Context, ev Event) error {
	var errs []error
	for _, b := range m {
		if err := b.Export(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// exportTimeout bounds a single Export.
var exportTimeout = 5 * time.Second

// Record fills in the event id and time, exports it and logs a failure
// instead of returning it.
func Record(ctx context.Context, a Auditor, log logging.Logger, ev Event) {
	if a == nil {
		return
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if ev.RemoteAddr == "" {
		ev.RemoteAddr = RemoteAddrFrom(ctx)
	}
	if ev.Actor == "" {
		ev.Actor = ActorFrom(ctx)
	}

	exportCtx, cancel := context.WithTimeout(ctx, exportTimeout)
	defer cancel()
	if err := a.Export(exportCtx, ev); err != nil {
		log.Warn(ctx, "audit export failed", "action", ev.Action, "account_id", ev.AccountID, "error", err)
	}
}

type remoteAddrKey struct{}

// WithRemoteAddr attaches the caller address for later audit events.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

// RemoteAddrFrom returns the address stored by WithRemoteAddr, or "".
func RemoteAddrFrom(ctx context.Context) string {
	s, _ := ctx.Value(remoteAddrKey{}).(string)
	return s
}

type actorKey struct{}

// WithActor names who acts in ctx, for example "session:acc-1".
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) string {
	s, _ := ctx.Value(actorKey{}).(string)
	return s
}
