// Package recovery rebuilds in-memory state from the durable store at
// startup and guards the live pipeline against re-emitting events that were
// already persisted.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/pkg/models"
	"github.com/agentdeck/agentdeck/pkg/ringlog"
	"github.com/agentdeck/agentdeck/pkg/store"
)

// Seen-id set bounds. When the set grows past seenCapacity it is compacted
// to the most recently seen seenKeep ids.
const (
	seenCapacity = 2000
	seenKeep     = 1000
)

// maxLoad caps how many persisted events are replayed into the ring log.
const maxLoad = 1000

// Status values for a RecoveryResult.
const (
	StatusComplete   = "complete"
	StatusMemoryOnly = "memory_only"
)

// Result describes the outcome of startup recovery. It is served verbatim
// on the status endpoint.
type Result struct {
	Status            string `json:"status"`
	EventsLoaded      int    `json:"eventsLoaded"`
	DuplicatesSkipped int    `json:"duplicatesSkipped"`
	PanesDetected     int    `json:"panesDetected"`
	MemoryOnlyMode    bool   `json:"memoryOnlyMode"`
	Timestamp         string `json:"timestamp"`
	Error             string `json:"error,omitempty"`
}

// Manager owns the seen-id set and the recovery result.
type Manager struct {
	ring *ringlog.Log

	mu        sync.Mutex
	seen      map[string]struct{}
	seenOrder []string
	result    *Result
	skipped   int
}

// NewManager returns a manager that replays into ring.
func NewManager(ring *ringlog.Log) *Manager {
	return &Manager{
		ring: ring,
		seen: make(map[string]struct{}),
	}
}

// Run replays persisted events into the ring log and records the outcome.
// A nil store (persistence unavailable) yields a memory-only result carrying
// the open error; the pipeline keeps running either way.
func (m *Manager) Run(ctx context.Context, st *store.Store, openErr error) *Result {
	now := models.FormatTimestamp(time.Now())

	if st == nil {
		msg := "persistence unavailable"
		if openErr != nil {
			msg = openErr.Error()
		}
		result := &Result{
			Status:         StatusMemoryOnly,
			MemoryOnlyMode: true,
			Timestamp:      now,
			Error:          msg,
		}
		m.setResult(result)
		slog.Warn("Running in memory-only mode", "error", msg)
		return result
	}

	events, err := st.LoadRecent(ctx, maxLoad)
	if err != nil {
		result := &Result{
			Status:         StatusMemoryOnly,
			MemoryOnlyMode: true,
			Timestamp:      now,
			Error:          fmt.Errorf("load persisted events: %w", err).Error(),
		}
		m.setResult(result)
		slog.Warn("Recovery failed, running in memory-only mode", "error", err)
		return result
	}

	panes := make(map[string]struct{})
	m.mu.Lock()
	for _, evt := range events {
		m.markLocked(evt.ID)
		panes[evt.PaneID] = struct{}{}
	}
	m.mu.Unlock()
	m.ring.LoadBulk(events)

	result := &Result{
		Status:        StatusComplete,
		EventsLoaded:  len(events),
		PanesDetected: len(panes),
		Timestamp:     now,
	}
	m.setResult(result)
	slog.Info("Recovery complete", "events_loaded", len(events), "panes", len(panes))
	return result
}

// Admit reports whether an event id is new, recording it as seen. Events
// already seen (replayed from disk, or re-delivered by the pipeline) return
// false and bump the duplicate counter.
func (m *Manager) Admit(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.seen[id]; dup {
		m.skipped++
		if m.result != nil {
			m.result.DuplicatesSkipped = m.skipped
		}
		return false
	}
	m.markLocked(id)
	return true
}

func (m *Manager) markLocked(id string) {
	if _, ok := m.seen[id]; ok {
		// Only possible during the startup replay, and even then the store's
		// id primary key keeps LoadRecent duplicate-free; live duplicates are
		// counted in Admit.
		return
	}
	m.seen[id] = struct{}{}
	m.seenOrder = append(m.seenOrder, id)
	if len(m.seenOrder) > seenCapacity {
		keep := m.seenOrder[len(m.seenOrder)-seenKeep:]
		m.seenOrder = append([]string(nil), keep...)
		m.seen = make(map[string]struct{}, len(m.seenOrder))
		for _, kept := range m.seenOrder {
			m.seen[kept] = struct{}{}
		}
	}
}

// Result returns the recorded recovery outcome, or nil before Run.
func (m *Manager) Result() *Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.result == nil {
		return nil
	}
	cp := *m.result
	return &cp
}

// Complete reports whether recovery has run and succeeded.
func (m *Manager) Complete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result != nil && m.result.Status == StatusComplete
}

// MemoryOnly reports whether the process is running without persistence.
func (m *Manager) MemoryOnly() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result != nil && m.result.MemoryOnlyMode
}

func (m *Manager) setResult(r *Result) {
	m.mu.Lock()
	r.DuplicatesSkipped = m.skipped
	m.result = r
	m.mu.Unlock()
}
