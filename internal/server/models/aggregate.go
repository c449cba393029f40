package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// DayLayout is the wire and SQL form of a calendar day.
const DayLayout = "2006-01-02"

// Totals are additive counters. Every field only grows.
type Totals struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens"`
	Sessions            int64 `json:"sessions"`
}

// Add returns the field-wise sum of t and o.
func (t Totals) Add(o Totals) Totals {
	return Totals{
		InputTokens:         t.InputTokens + o.InputTokens,
		OutputTokens:        t.OutputTokens + o.OutputTokens,
		CacheCreationTokens: t.CacheCreationTokens + o.CacheCreationTokens,
		CacheReadTokens:     t.CacheReadTokens + o.CacheReadTokens,
		Sessions:            t.Sessions + o.Sessions,
	}
}

// TotalsOf is the contribution of a single event.
func TotalsOf(ev SessionEvent) Totals {
	return Totals{
		InputTokens:         ev.InputTokens,
		OutputTokens:        ev.OutputTokens,
		CacheCreationTokens: ev.CacheCreationTokens,
		CacheReadTokens:     ev.CacheReadTokens,
		Sessions:            1,
	}
}

// ToolBreakdown is persisted as a flat JSON object keyed by tool identifier,
// so new tools need no schema change.
type ToolBreakdown map[string]Totals

func (b ToolBreakdown) Value() (driver.Value, error) {
	if b == nil {
		return "{}", nil
	}
	out, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return string(out), nil
}

func (b *ToolBreakdown) Scan(src any) error {
	m := ToolBreakdown{}
	if err := scanJSON(src, &m); err != nil {
		return err
	}
	*b = m
	return nil
}

// DailyAggregate is the running sum of all accepted sessions of one account
// on one UTC day.
type DailyAggregate struct {
	AccountID string
	Day       time.Time
	Totals    Totals
	Tools     ToolBreakdown
	UpdatedAt time.Time
}

// DailyDelta is what one ingestion adds to one DailyAggregate.
type DailyDelta struct {
	AccountID string
	Day       time.Time
	Totals    Totals
	Tools     ToolBreakdown
}
