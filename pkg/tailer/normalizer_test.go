package tailer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/pkg/models"
)

var readAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func normalize(t *testing.T, line string) (models.StreamEvent, bool) {
	t.Helper()
	rec, err := parseLine([]byte(line))
	require.NoError(t, err)
	return normalizeRecord(rec, "%7", readAt)
}

func TestNormalize_SystemInit(t *testing.T) {
	evt, ok := normalize(t, `{"type":"system","subtype":"init","session_id":"s-1","model":"opus","cwd":"/work"}`)
	require.True(t, ok)
	assert.Equal(t, models.CategorySystem, evt.Category)
	assert.Equal(t, "Session initialized with model opus", evt.Content)
	assert.Equal(t, "s-1", evt.SessionID)
	assert.Equal(t, "opus", evt.Model)
	assert.Equal(t, "system/init", evt.OriginalType)
	assert.Equal(t, "%7", evt.PaneID)
}

func TestNormalize_Hooks(t *testing.T) {
	for _, subtype := range []string{"hook_started", "hook_response"} {
		evt, ok := normalize(t, `{"type":"system","subtype":"`+subtype+`"}`)
		require.True(t, ok, subtype)
		assert.Equal(t, models.CategoryHook, evt.Category)
	}
}

func TestNormalize_ToolUseStart(t *testing.T) {
	evt, ok := normalize(t, `{"type":"stream_event","event":{"type":"content_block_start","content_block":{"type":"tool_use","name":"Bash","input":{"command":"ls"}}}}`)
	require.True(t, ok)
	assert.Equal(t, models.CategoryTool, evt.Category)
	require.NotNil(t, evt.Tool)
	assert.Equal(t, "Bash", evt.Tool.Name)
	assert.Equal(t, "started", evt.Tool.Status)
	assert.Equal(t, "ls", evt.Tool.Input["command"])
}

func TestNormalize_TextDelta(t *testing.T) {
	evt, ok := normalize(t, `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"hello "}}}`)
	require.True(t, ok)
	assert.Equal(t, models.CategoryText, evt.Category)
	assert.Equal(t, "hello ", evt.Content)
}

func TestNormalize_Result(t *testing.T) {
	evt, ok := normalize(t, `{"type":"result","total_cost_usd":0.05,"duration_ms":1234,"usage":{"input_tokens":1000,"output_tokens":50}}`)
	require.True(t, ok)
	assert.Equal(t, models.CategoryResult, evt.Category)
	require.NotNil(t, evt.Cost)
	assert.Equal(t, 0.05, evt.Cost.TotalUSD)
	assert.Equal(t, int64(1000), evt.Cost.InputTokens)
	assert.Equal(t, int64(50), evt.Cost.OutputTokens)
	assert.Equal(t, int64(1234), evt.Cost.DurationMS)
}

func TestNormalize_AssistantText(t *testing.T) {
	evt, ok := normalize(t, `{"type":"assistant","message":{"content":[{"type":"text","text":"part one"},{"type":"tool_use"},{"type":"text","text":"part two"}]}}`)
	require.True(t, ok)
	assert.Equal(t, models.CategoryText, evt.Category)
	assert.Equal(t, "part one\npart two", evt.Content)
}

func TestNormalize_DroppedRecords(t *testing.T) {
	lines := []string{
		`{"type":"user"}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use"}]}}`,
		`{"type":"stream_event","event":{"type":"content_block_stop"}}`,
		`{"type":"stream_event","event":{"type":"content_block_start","content_block":{"type":"text"}}}`,
		`{"type":"system","subtype":"compact"}`,
	}
	for _, line := range lines {
		_, ok := normalize(t, line)
		assert.False(t, ok, line)
	}
}

func TestNormalize_TimestampPreference(t *testing.T) {
	evt, ok := normalize(t, `{"type":"result","timestamp":"2026-02-01T10:30:00.500Z"}`)
	require.True(t, ok)
	assert.Equal(t, "2026-02-01T10:30:00.500Z", evt.Timestamp)

	evt, ok = normalize(t, `{"type":"result"}`)
	require.True(t, ok)
	assert.Equal(t, models.FormatTimestamp(readAt), evt.Timestamp)
}

func TestPaneIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"/tmp/streams/events-%1.jsonl", "%1", true},
		{"events-pane-42.jsonl", "pane-42", true},
		{"other-%1.jsonl", "", false},
		{"events-.jsonl", "", false},
		{"events-%1.log", "", false},
	}
	for _, tt := range tests {
		got, ok := paneIDFromPath(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}
