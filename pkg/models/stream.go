package models

// StreamCategory classifies a StreamEvent from the structured JSONL path.
type StreamCategory string

// Stream event categories.
const (
	CategoryText   StreamCategory = "text"
	CategoryTool   StreamCategory = "tool"
	CategoryHook   StreamCategory = "hook"
	CategoryResult StreamCategory = "result"
	CategorySystem StreamCategory = "system"
	CategoryError  StreamCategory = "error"
)

// ToolInfo describes a tool invocation carried by a StreamEvent.
type ToolInfo struct {
	Name   string         `json:"name"`
	Status string         `json:"status"`
	Input  map[string]any `json:"input,omitempty"`
}

// CostInfo carries the cost fields of a result record.
type CostInfo struct {
	TotalUSD     float64 `json:"total_usd"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	DurationMS   int64   `json:"duration_ms"`
}

// StreamEvent is the richer event schema produced by the JSONL tailer.
// OriginalType is the source record's type string, passed through opaquely.
type StreamEvent struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"session_id"`
	PaneID       string         `json:"pane_id"`
	Timestamp    string         `json:"timestamp"` // TimestampLayout
	OriginalType string         `json:"original_type"`
	Category     StreamCategory `json:"category"`
	Content      string         `json:"content"`
	Tool         *ToolInfo      `json:"tool,omitempty"`
	Cost         *CostInfo      `json:"cost,omitempty"`
	Model        string         `json:"model,omitempty"`
}

// TokenTotals is a pair of monotonically non-decreasing token counters.
type TokenTotals struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
}

// SessionMetadata aggregates per-pane session state from the stream path.
// Totals only ever increase; mutation happens exclusively in the tailer.
type SessionMetadata struct {
	SessionID   string      `json:"session_id"`
	PaneID      string      `json:"pane_id"`
	Model       string      `json:"model,omitempty"`
	Tools       []string    `json:"tools,omitempty"`
	CWD         string      `json:"cwd,omitempty"`
	StartedAt   string      `json:"started_at"` // TimestampLayout
	TotalCost   float64     `json:"total_cost"`
	TotalTokens TokenTotals `json:"total_tokens"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *SessionMetadata) Clone() *SessionMetadata {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Tools != nil {
		cp.Tools = append([]string(nil), s.Tools...)
	}
	return &cp
}
