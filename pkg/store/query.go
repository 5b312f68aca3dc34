package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentdeck/agentdeck/pkg/models"
)

// Query limits. Callers asking for more than MaxQueryLimit are clamped.
const (
	DefaultQueryLimit = 1000
	MaxQueryLimit     = 1000
)

// QueryFilter narrows a history query. Zero values mean "no filter".
type QueryFilter struct {
	ProjectID string
	PaneID    string
	Kind      string
	Since     string // exclusive lower bound on timestamp
	AfterID   string // resume strictly after this event id
	Limit     int
}

// QueryResult is one page of events plus pagination metadata.
type QueryResult struct {
	Events  []models.TerminalEvent `json:"events"`
	Total   int                    `json:"total"`
	HasMore bool                   `json:"hasMore"`
}

// Query returns events in ascending (timestamp, id) order matching the
// filter. AfterID resumes strictly after the named event's position, so a
// client can page through history without overlap.
func (s *Store) Query(ctx context.Context, filter QueryFilter) (*QueryResult, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	var conds []string
	var args []any
	if filter.ProjectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.PaneID != "" {
		conds = append(conds, "pane_id = ?")
		args = append(args, filter.PaneID)
	}
	if filter.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Since != "" {
		conds = append(conds, "timestamp > ?")
		args = append(args, models.NormalizeTimestamp(filter.Since))
	}
	if filter.AfterID != "" {
		pos, err := s.eventPosition(ctx, filter.AfterID)
		if err != nil {
			return nil, err
		}
		if pos != nil {
			conds = append(conds, "(timestamp > ? OR (timestamp = ? AND id > ?))")
			args = append(args, pos.timestamp, pos.timestamp, pos.id)
		}
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	countArgs := append([]any(nil), args...)
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events"+where, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count matching events: %w", err)
	}

	// Fetch one extra row to detect whether a further page exists.
	query := "SELECT id, project_id, pane_id, kind, content, timestamp, question_metadata FROM events" +
		where + " ORDER BY timestamp ASC, id ASC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, limit+1)...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	result := &QueryResult{Total: total}
	if len(events) > limit {
		result.HasMore = true
		events = events[:limit]
	}
	result.Events = events
	return result, nil
}

type eventPosition struct {
	timestamp string
	id        string
}

// eventPosition resolves an id to its (timestamp, id) sort key. An unknown
// id yields nil, which callers treat as "no lower bound".
func (s *Store) eventPosition(ctx context.Context, id string) (*eventPosition, error) {
	var pos eventPosition
	err := s.db.QueryRowContext(ctx,
		`SELECT timestamp, id FROM events WHERE id = ?`, id).Scan(&pos.timestamp, &pos.id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve event position %s: %w", id, err)
	}
	return &pos, nil
}

// LoadRecent returns the most recent n events in chronological order. Used
// at startup to rebuild the in-memory ring log.
func (s *Store) LoadRecent(ctx context.Context, n int) ([]models.TerminalEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, pane_id, kind, content, timestamp, question_metadata
		FROM events ORDER BY timestamp DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("load recent events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// Sessions returns the persisted session metadata for every pane.
func (s *Store) Sessions(ctx context.Context) ([]models.SessionMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pane_id, session_id, model, tools_json, cwd, started_at, total_cost, input_tokens, output_tokens
		FROM sessions ORDER BY pane_id`)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.SessionMetadata
	for rows.Next() {
		var session models.SessionMetadata
		var toolsJSON sql.NullString
		if err := rows.Scan(&session.PaneID, &session.SessionID, &session.Model,
			&toolsJSON, &session.CWD, &session.StartedAt, &session.TotalCost,
			&session.TotalTokens.Input, &session.TotalTokens.Output); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		if toolsJSON.Valid && toolsJSON.String != "" {
			if err := json.Unmarshal([]byte(toolsJSON.String), &session.Tools); err != nil {
				return nil, fmt.Errorf("decode session tools for %s: %w", session.PaneID, err)
			}
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]models.TerminalEvent, error) {
	var events []models.TerminalEvent
	for rows.Next() {
		var evt models.TerminalEvent
		var kind string
		var questionJSON sql.NullString
		if err := rows.Scan(&evt.ID, &evt.ProjectID, &evt.PaneID, &kind,
			&evt.Content, &evt.Timestamp, &questionJSON); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		evt.Kind = models.EventKind(kind)
		if questionJSON.Valid && questionJSON.String != "" {
			var q models.QuestionMetadata
			if err := json.Unmarshal([]byte(questionJSON.String), &q); err != nil {
				return nil, fmt.Errorf("decode question metadata for %s: %w", evt.ID, err)
			}
			evt.QuestionMetadata = &q
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}
