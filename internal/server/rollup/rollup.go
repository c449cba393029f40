// Package rollup turns accepted sessions into additive daily deltas and
// defines how a delta folds into a stored aggregate.
//
// The per-tool breakdown behaves as a map of grow-only counters: merging is
// per-key addition, so it is associative and commutative with the empty
// breakdown as identity. The SQL function merge_tool_breakdown implements
// the same merge inside the store.
package rollup

import (
	"sort"

	"github.com/dmitrijs2005/usageledger/internal/server/models"
)

type groupKey struct {
	account string
	day     int64
}

// Group sums sessions by (account, UTC day of end time). The result holds one
// delta per pair, ordered by account then day, so concurrent writers touch
// rows in the same order.
func Group(sessions []models.Session) []models.DailyDelta {
	idx := make(map[groupKey]int)
	var out []models.DailyDelta

	for _, s := range sessions {
		day := s.Day()
		k := groupKey{account: s.AccountID, day: day.Unix()}
		contribution := models.TotalsOf(s.Event)

		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, models.DailyDelta{AccountID: s.AccountID, Day: day, Tools: models.ToolBreakdown{}})
		}
		d := &out[i]
		d.Totals = d.Totals.Add(contribution)
		tool := string(s.Event.Tool)
		d.Tools[tool] = d.Tools[tool].Add(contribution)
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].AccountID != out[b].AccountID {
			return out[a].AccountID < out[b].AccountID
		}
		return out[a].Day.Before(out[b].Day)
	})
	return out
}

// MergeBreakdown adds b into a key by key and returns a new map.
func MergeBreakdown(a, b models.ToolBreakdown) models.ToolBreakdown {
	out := make(models.ToolBreakdown, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = out[k].Add(v)
	}
	return out
}

// Merge folds delta into existing. existing may be the zero value when no
// row exists yet for the day.
func Merge(existing models.DailyAggregate, delta models.DailyDelta) models.DailyAggregate {
	return models.DailyAggregate{
		AccountID: delta.AccountID,
		Day:       models.DayOf(delta.Day),
		Totals:    existing.Totals.Add(delta.Totals),
		Tools:     MergeBreakdown(existing.Tools, delta.Tools),
		UpdatedAt: existing.UpdatedAt,
	}
}
