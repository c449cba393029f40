package audit

import (
	"context"

	"github.com/dmitrijs2005/usageledger/internal/logging"
)

type slogBackend struct {
	log logging.Logger
}

// NewSlog writes each event as one structured "audit_log" line.
func NewSlog(log logging.Logger) Auditor {
	return &slogBackend{log: log.With("module", "audit")}
}

func (b *slogBackend) Export(ctx context.Context, ev Event) error {
	args := []any{
		"id", ev.ID.String(),
		"event_time", ev.Time,
		"action", ev.Action,
		"account_id", ev.AccountID,
	}
	if ev.Actor != "" {
		args = append(args, "actor", ev.Actor)
	}
	if ev.RemoteAddr != "" {
		args = append(args, "remote_addr", ev.RemoteAddr)
	}
	for k, v := range ev.Details {
		args = append(args, "details."+k, v)
	}
	b.log.Info(ctx, "audit_log", args...)
	return nil
}
