package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agentdeck/agentdeck/pkg/models"
)

// op is one queued write. Exactly one field is set.
type op struct {
	event    *models.TerminalEvent
	stream   *models.StreamEvent
	session  *models.SessionMetadata
	syncedID string
}

// writer drains queued operations on a single goroutine so that callers on
// the hot path never block on disk. The queue is unbounded; retention
// pruning keeps the table itself from growing without limit.
type writer struct {
	store *Store

	mu     sync.Mutex
	queue  []op
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

func newWriter(s *Store) *writer {
	return &writer{
		store: s,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (w *writer) start() {
	go w.run()
}

// stop drains everything already queued, then shuts the goroutine down.
func (w *writer) stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	w.mu.Unlock()
	w.signal()
	<-w.done
}

func (w *writer) enqueue(o op) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		slog.Warn("Write dropped, store is closing")
		return
	}
	w.queue = append(w.queue, o)
	w.mu.Unlock()
	w.signal()
}

func (w *writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *writer) pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

func (w *writer) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		batch := w.queue
		w.queue = nil
		closed := w.closed
		w.mu.Unlock()

		if len(batch) > 0 {
			if err := w.flush(batch); err != nil {
				slog.Error("Failed to persist batch", "count", len(batch), "error", err)
			}
		}
		if closed {
			w.mu.Lock()
			remaining := len(w.queue)
			w.mu.Unlock()
			if remaining == 0 {
				return
			}
			continue
		}
		<-w.wake
	}
}

// flush writes one batch inside a single transaction.
func (w *writer) flush(batch []op) error {
	ctx := context.Background()
	tx, err := w.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	events := 0
	for _, o := range batch {
		switch {
		case o.event != nil:
			if err := insertEvent(ctx, tx, o.event); err != nil {
				return err
			}
			events++
		case o.stream != nil:
			if err := insertStreamEvent(ctx, tx, o.stream); err != nil {
				return err
			}
		case o.session != nil:
			if err := upsertSession(ctx, tx, o.session); err != nil {
				return err
			}
		case o.syncedID != "":
			if err := markSynced(ctx, tx, o.syncedID); err != nil {
				return err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	if events > 0 {
		w.store.prune.schedule()
	}
	return nil
}

// InsertEvent queues a terminal event for persistence. Never blocks.
func (s *Store) InsertEvent(evt models.TerminalEvent) {
	s.writer.enqueue(op{event: &evt})
}

// InsertStreamEvent queues a structured stream event for persistence.
func (s *Store) InsertStreamEvent(evt models.StreamEvent) {
	s.writer.enqueue(op{stream: &evt})
}

// UpsertSession queues session metadata for persistence.
func (s *Store) UpsertSession(session models.SessionMetadata) {
	s.writer.enqueue(op{session: &session})
}

// MarkSynced queues a sync acknowledgement for an event id.
func (s *Store) MarkSynced(id string) {
	s.writer.enqueue(op{syncedID: id})
}

func insertEvent(ctx context.Context, tx *sql.Tx, evt *models.TerminalEvent) error {
	var questionJSON sql.NullString
	if evt.QuestionMetadata != nil {
		data, err := json.Marshal(evt.QuestionMetadata)
		if err != nil {
			return fmt.Errorf("marshal question metadata: %w", err)
		}
		questionJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO events
			(id, project_id, pane_id, kind, content, timestamp, synced, question_metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		evt.ID, evt.ProjectID, evt.PaneID, string(evt.Kind), evt.Content,
		evt.Timestamp, questionJSON, nowTimestamp())
	if err != nil {
		return fmt.Errorf("insert event %s: %w", evt.ID, err)
	}
	return nil
}

func insertStreamEvent(ctx context.Context, tx *sql.Tx, evt *models.StreamEvent) error {
	var toolJSON, costJSON sql.NullString
	if evt.Tool != nil {
		data, err := json.Marshal(evt.Tool)
		if err != nil {
			return fmt.Errorf("marshal tool info: %w", err)
		}
		toolJSON = sql.NullString{String: string(data), Valid: true}
	}
	if evt.Cost != nil {
		data, err := json.Marshal(evt.Cost)
		if err != nil {
			return fmt.Errorf("marshal cost info: %w", err)
		}
		costJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO stream_events
			(id, session_id, pane_id, timestamp, original_type, category, content, tool_json, cost_json, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.ID, evt.SessionID, evt.PaneID, evt.Timestamp, evt.OriginalType,
		string(evt.Category), evt.Content, toolJSON, costJSON, evt.Model, nowTimestamp())
	if err != nil {
		return fmt.Errorf("insert stream event %s: %w", evt.ID, err)
	}
	return nil
}

func upsertSession(ctx context.Context, tx *sql.Tx, session *models.SessionMetadata) error {
	toolsJSON, err := json.Marshal(session.Tools)
	if err != nil {
		return fmt.Errorf("marshal session tools: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions
			(pane_id, session_id, model, tools_json, cwd, started_at, total_cost, input_tokens, output_tokens, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.PaneID, session.SessionID, session.Model, string(toolsJSON),
		session.CWD, session.StartedAt, session.TotalCost,
		session.TotalTokens.Input, session.TotalTokens.Output, nowTimestamp())
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", session.PaneID, err)
	}
	return nil
}

func markSynced(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE events SET synced = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark event %s synced: %w", id, err)
	}
	return nil
}
