package tailer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentdeck/agentdeck/pkg/models"
)

// rawRecord is the subset of a JSONL line this system understands. Unknown
// record types are dropped by the normalizer.
type rawRecord struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
	CWD       string `json:"cwd"`
	Timestamp string `json:"timestamp"`

	Tools []string `json:"tools"`

	// stream_event inner payload.
	Event *struct {
		Type         string `json:"type"`
		ContentBlock *struct {
			Type  string         `json:"type"`
			Name  string         `json:"name"`
			Input map[string]any `json:"input"`
		} `json:"content_block"`
		Delta *struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
	} `json:"event"`

	// result fields.
	TotalCostUSD float64 `json:"total_cost_usd"`
	DurationMS   int64   `json:"duration_ms"`
	Result       string  `json:"result"`
	Usage        *struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`

	// assistant message payload.
	Message *struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

// normalizeRecord translates one parsed JSONL line into a StreamEvent.
// Records that carry nothing the dashboard renders return (zero, false).
func normalizeRecord(rec *rawRecord, paneID string, readAt time.Time) (models.StreamEvent, bool) {
	evt := models.StreamEvent{
		ID:           models.NewEventID(readAt),
		SessionID:    rec.SessionID,
		PaneID:       paneID,
		Timestamp:    recordTimestamp(rec, readAt),
		OriginalType: originalType(rec),
		Model:        rec.Model,
	}

	switch rec.Type {
	case "system":
		switch rec.Subtype {
		case "init":
			evt.Category = models.CategorySystem
			evt.Content = fmt.Sprintf("Session initialized with model %s", rec.Model)
			return evt, true
		case "hook_started", "hook_response":
			evt.Category = models.CategoryHook
			evt.Content = rec.Subtype
			return evt, true
		}

	case "stream_event":
		if rec.Event == nil {
			return evt, false
		}
		switch rec.Event.Type {
		case "content_block_start":
			if rec.Event.ContentBlock != nil && rec.Event.ContentBlock.Type == "tool_use" {
				evt.Category = models.CategoryTool
				evt.Content = rec.Event.ContentBlock.Name
				evt.Tool = &models.ToolInfo{
					Name:   rec.Event.ContentBlock.Name,
					Status: "started",
					Input:  rec.Event.ContentBlock.Input,
				}
				return evt, true
			}
		case "content_block_delta":
			if rec.Event.Delta != nil && rec.Event.Delta.Type == "text_delta" {
				evt.Category = models.CategoryText
				evt.Content = rec.Event.Delta.Text
				return evt, true
			}
		}

	case "result":
		evt.Category = models.CategoryResult
		evt.Content = rec.Result
		cost := &models.CostInfo{
			TotalUSD:   rec.TotalCostUSD,
			DurationMS: rec.DurationMS,
		}
		if rec.Usage != nil {
			cost.InputTokens = rec.Usage.InputTokens
			cost.OutputTokens = rec.Usage.OutputTokens
		}
		evt.Cost = cost
		return evt, true

	case "assistant":
		if text := assistantText(rec); text != "" {
			evt.Category = models.CategoryText
			evt.Content = text
			return evt, true
		}
	}

	return evt, false
}

// originalType preserves the source record's type discriminator, including
// the subtype when present ("system/init").
func originalType(rec *rawRecord) string {
	if rec.Subtype != "" {
		return rec.Type + "/" + rec.Subtype
	}
	return rec.Type
}

// recordTimestamp prefers the record's own timestamp over the read time.
func recordTimestamp(rec *rawRecord, readAt time.Time) string {
	if rec.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, rec.Timestamp); err == nil {
			return models.FormatTimestamp(t)
		}
	}
	return models.FormatTimestamp(readAt)
}

// assistantText joins the text blocks of an assistant message.
func assistantText(rec *rawRecord) string {
	if rec.Message == nil {
		return ""
	}
	var parts []string
	for _, block := range rec.Message.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// parseLine unmarshals one complete JSONL line.
func parseLine(line []byte) (*rawRecord, error) {
	var rec rawRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, fmt.Errorf("parse JSONL record: %w", err)
	}
	return &rec, nil
}
