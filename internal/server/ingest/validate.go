package ingest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dmitrijs2005/usageledger/internal/common"
	"github.com/dmitrijs2005/usageledger/internal/server/models"
)

// Bounds on a single reported event.
const (
	MaxTokens       = 1_000_000_000
	MaxModelLen     = 128
	MaxTurnCount    = 100_000
	MaxToolCallKeys = 64
	MaxToolNameLen  = 64
	MaxToolCalls    = 1_000_000
	MaxLines        = 10_000_000
	MaxFilesTouched = 100_000
)

// Limits are the batch-level knobs that come from configuration.
type Limits struct {
	MaxBatchSize int
	// ClockSkew is how far in the future an end time may lie.
	ClockSkew time.Duration
	// Earliest rejects timestamps before it.
	Earliest time.Time
}

func DefaultLimits() Limits {
	return Limits{
		MaxBatchSize: 100,
		ClockSkew:    5 * time.Minute,
		Earliest:     time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// ValidationError lists every problem found, keyed by field path such as
// "sessions[3].model".
type ValidationError struct {
	Fields   map[string][]string
	TooLarge bool
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], "; "))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() []error {
	if e.TooLarge {
		return []error{common.ErrValidation, common.ErrBatchTooLarge}
	}
	return []error{common.ErrValidation}
}

// AsValidationError extracts field details from err, if any.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// ValidateBatch checks the batch shape and every event. Any problem rejects
// the whole batch; nothing is written.
func ValidateBatch(events []models.SessionEvent, limits Limits, now time.Time) error {
	ve := &ValidationError{}

	if limits.MaxBatchSize > 0 && len(events) > limits.MaxBatchSize {
		ve.TooLarge = true
		ve.add("sessions", fmt.Sprintf("at most %d sessions per batch, got %d", limits.MaxBatchSize, len(events)))
		return ve
	}

	for i, ev := range events {
		validateEvent(ve, fmt.Sprintf("sessions[%d].", i), ev, limits, now)
	}

	if len(ve.Fields) > 0 {
		return ve
	}
	return nil
}

func validateEvent(ve *ValidationError, prefix string, ev models.SessionEvent, limits Limits, now time.Time) {
	if !ev.Tool.Valid() {
		ve.add(prefix+"tool", "unknown tool")
	}

	switch {
	case ev.Model == "":
		ve.add(prefix+"model", "is required")
	case utf8.RuneCountInString(ev.Model) > MaxModelLen:
		ve.add(prefix+"model", fmt.Sprintf("must be at most %d characters", MaxModelLen))
	case !printable(ev.Model):
		ve.add(prefix+"model", "must contain printable characters only")
	}

	tokenFields := []struct {
		name  string
		value int64
	}{
		{"input_tokens", ev.InputTokens},
		{"output_tokens", ev.OutputTokens},
		{"cache_creation_tokens", ev.CacheCreationTokens},
		{"cache_read_tokens", ev.CacheReadTokens},
	}
	for _, f := range tokenFields {
		checkRange(ve, prefix+f.name, f.value, MaxTokens)
	}

	if ev.StartedAt.IsZero() {
		ve.add(prefix+"started_at", "is required")
	} else if ev.StartedAt.Before(limits.Earliest) {
		ve.add(prefix+"started_at", "is too far in the past")
	}
	if ev.EndedAt.IsZero() {
		ve.add(prefix+"ended_at", "is required")
	} else {
		if !ev.StartedAt.IsZero() && ev.EndedAt.Before(ev.StartedAt) {
			ve.add(prefix+"ended_at", "must not be before started_at")
		}
		if ev.EndedAt.After(now.Add(limits.ClockSkew)) {
			ve.add(prefix+"ended_at", "is in the future")
		}
	}

	md := ev.Metadata
	checkRange(ve, prefix+"metadata.turn_count", md.TurnCount, MaxTurnCount)
	checkRange(ve, prefix+"metadata.lines_added", md.LinesAdded, MaxLines)
	checkRange(ve, prefix+"metadata.lines_deleted", md.LinesDeleted, MaxLines)
	checkRange(ve, prefix+"metadata.files_touched", md.FilesTouched, MaxFilesTouched)

	if len(md.ToolCalls) > MaxToolCallKeys {
		ve.add(prefix+"metadata.tool_calls", fmt.Sprintf("at most %d entries", MaxToolCallKeys))
		return
	}
	for name, n := range md.ToolCalls {
		if name == "" || utf8.RuneCountInString(name) > MaxToolNameLen || !printable(name) {
			ve.add(prefix+"metadata.tool_calls", "invalid tool name")
			continue
		}
		checkRange(ve, prefix+"metadata.tool_calls."+name, n, MaxToolCalls)
	}
}

func checkRange(ve *ValidationError, field string, v, max int64) {
	if v < 0 || v > max {
		ve.add(field, fmt.Sprintf("must be between 0 and %d", max))
	}
}

func printable(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
