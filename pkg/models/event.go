// Package models defines the wire-level data types shared by the ingestion
// pipeline, the durable store, and the broadcast hub.
package models

import (
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// EventKind classifies a TerminalEvent.
type EventKind string

// Terminal event kinds, in classifier priority order.
const (
	KindOutput   EventKind = "output"
	KindQuestion EventKind = "question"
	KindError    EventKind = "error"
	KindStatus   EventKind = "status"
)

// ValidKind reports whether s names a known event kind.
func ValidKind(s string) bool {
	switch EventKind(s) {
	case KindOutput, KindQuestion, KindError, KindStatus:
		return true
	}
	return false
}

// TimestampLayout renders timestamps as ISO-8601 with millisecond resolution,
// matching what dashboard clients parse.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// NormalizeTimestamp rewrites an ISO-8601 timestamp into the canonical UTC
// rendering, so client-supplied values with non-UTC offsets compare correctly
// against stored timestamps. Unparseable input is returned unchanged.
func NormalizeTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return FormatTimestamp(t)
}

// QuestionOption is a single selectable option inside an interactive prompt.
type QuestionOption struct {
	Number      int    `json:"number"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// QuestionMetadata is the structured form of an interactive prompt block.
// Present on a TerminalEvent only when kind is "question" and the block
// parsed successfully (non-empty header, at least one option).
type QuestionMetadata struct {
	Header   string           `json:"header"`
	Question string           `json:"question"`
	Options  []QuestionOption `json:"options"`
}

// Valid reports whether the metadata satisfies its structural invariant.
func (q *QuestionMetadata) Valid() bool {
	return q != nil && q.Header != "" && len(q.Options) > 0
}

// TerminalEvent is the primary output type of the pipeline: one classified,
// ANSI-stripped delta from a tracked pane.
type TerminalEvent struct {
	ID               string            `json:"id"`
	ProjectID        string            `json:"project_id"`
	PaneID           string            `json:"pane_id"`
	Kind             EventKind         `json:"kind"`
	Content          string            `json:"content"`
	Timestamp        string            `json:"timestamp"` // TimestampLayout
	QuestionMetadata *QuestionMetadata `json:"question_metadata,omitempty"`
}

const idRandChars = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewEventID returns an id of the form evt_<base36 millis>_<6 random base36>.
// IDs are unique within a process lifetime and sort roughly by creation time.
func NewEventID(t time.Time) string {
	var b strings.Builder
	b.WriteString("evt_")
	b.WriteString(strconv.FormatInt(t.UnixMilli(), 36))
	b.WriteByte('_')
	for i := 0; i < 6; i++ {
		b.WriteByte(idRandChars[rand.Intn(len(idRandChars))])
	}
	return b.String()
}
