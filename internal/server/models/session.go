package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Tool identifies the agent that produced a session.
type Tool string

const (
	ToolClaudeCode Tool = "claude_code"
	ToolCodex      Tool = "codex"
	ToolCursor     Tool = "cursor"
	ToolGeminiCLI  Tool = "gemini_cli"
	ToolCopilot    Tool = "copilot"
	ToolOpenCode   Tool = "opencode"
	ToolAmp        Tool = "amp"
	ToolQwenCode   Tool = "qwen_code"
	ToolOther      Tool = "other"
)

var knownTools = map[Tool]struct{}{
	ToolClaudeCode: {}, ToolCodex: {}, ToolCursor: {}, ToolGeminiCLI: {},
	ToolCopilot: {}, ToolOpenCode: {}, ToolAmp: {}, ToolQwenCode: {}, ToolOther: {},
}

// Valid reports whether t is one of the enumerated tools.
func (t Tool) Valid() bool {
	_, ok := knownTools[t]
	return ok
}

// SessionEvent is one usage interval as reported by a client. Cache token
// counts default to zero and Metadata to its zero value when omitted.
type SessionEvent struct {
	Tool                Tool            `json:"tool"`
	Model               string          `json:"model"`
	InputTokens         int64           `json:"input_tokens"`
	OutputTokens        int64           `json:"output_tokens"`
	CacheCreationTokens int64           `json:"cache_creation_tokens"`
	CacheReadTokens     int64           `json:"cache_read_tokens"`
	StartedAt           time.Time       `json:"started_at"`
	EndedAt             time.Time       `json:"ended_at"`
	Metadata            SessionMetadata `json:"metadata"`
}

// SessionMetadata is optional behavioral detail. ToolCalls maps a tool-call
// name to its invocation count.
type SessionMetadata struct {
	TurnCount    int64            `json:"turn_count,omitempty"`
	ToolCalls    map[string]int64 `json:"tool_calls,omitempty"`
	LinesAdded   int64            `json:"lines_added,omitempty"`
	LinesDeleted int64            `json:"lines_deleted,omitempty"`
	FilesTouched int64            `json:"files_touched,omitempty"`
}

func (m SessionMetadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *SessionMetadata) Scan(src any) error {
	return scanJSON(src, m)
}

// Session is a stored, immutable event.
type Session struct {
	ID          string
	AccountID   string
	Fingerprint string
	Event       SessionEvent
	CreatedAt   time.Time
}

// Day is the UTC calendar day the session counts toward.
func (s Session) Day() time.Time {
	return DayOf(s.Event.EndedAt)
}

// DayOf truncates t to midnight of its UTC calendar day.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return errors.New("unsupported json column type")
	}
}
