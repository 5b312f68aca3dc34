// Package ringlog provides the bounded in-memory event log used for live
// fan-out and short-window resume after a client reconnect.
package ringlog

import (
	"sync"

	"github.com/agentdeck/agentdeck/pkg/models"
)

// DefaultCapacity is the number of recent events retained when no explicit
// capacity is configured.
const DefaultCapacity = 1000

// Log is a bounded FIFO of recent events, keyed by id and ordered by
// insertion. Writers are serialized; readers get consistent snapshot copies.
type Log struct {
	mu       sync.RWMutex
	events   []models.TerminalEvent
	byID     map[string]struct{}
	capacity int
}

// New creates a Log holding at most capacity events. Non-positive capacities
// fall back to DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		events:   make([]models.TerminalEvent, 0, capacity),
		byID:     make(map[string]struct{}, capacity),
		capacity: capacity,
	}
}

// Push appends an event, evicting from the head once capacity is exceeded.
func (l *Log) Push(event models.TerminalEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, event)
	l.byID[event.ID] = struct{}{}

	if len(l.events) > l.capacity {
		evicted := l.events[0]
		// Shift instead of re-slicing so the backing array doesn't leak
		// evicted events and never grows past capacity+1.
		copy(l.events, l.events[1:])
		l.events = l.events[:len(l.events)-1]
		delete(l.byID, evicted.ID)
	}
}

// GetAll returns a snapshot copy of the buffered events in insertion order.
func (l *Log) GetAll() []models.TerminalEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.TerminalEvent(nil), l.events...)
}

// GetSince returns all events strictly after lastEventID. If the id is not
// buffered (already evicted, or never seen) the full snapshot is returned;
// callers must dedupe against their own state by event id.
func (l *Log) GetSince(lastEventID string) []models.TerminalEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.byID[lastEventID]; !ok {
		return append([]models.TerminalEvent(nil), l.events...)
	}
	for i, evt := range l.events {
		if evt.ID == lastEventID {
			return append([]models.TerminalEvent(nil), l.events[i+1:]...)
		}
	}
	// byID said present but the scan missed it — can only happen if the two
	// structures are out of sync, which Push/LoadBulk prevent.
	return append([]models.TerminalEvent(nil), l.events...)
}

// GetRecent returns events whose timestamp is strictly after since. The
// bound is normalized to UTC first; stored timestamps are already canonical
// UTC renderings, so lexical comparison is then chronological.
func (l *Log) GetRecent(since string) []models.TerminalEvent {
	since = models.NormalizeTimestamp(since)

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.TerminalEvent, 0)
	for _, evt := range l.events {
		if evt.Timestamp > since {
			out = append(out, evt)
		}
	}
	return out
}

// LoadBulk replaces the log's contents with the tail of events (at most
// capacity entries), preserving order. Used by startup recovery.
func (l *Log) LoadBulk(events []models.TerminalEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(events) > l.capacity {
		events = events[len(events)-l.capacity:]
	}
	l.events = append(l.events[:0], events...)
	l.byID = make(map[string]struct{}, len(events))
	for _, evt := range events {
		l.byID[evt.ID] = struct{}{}
	}
}

// HasEvent reports whether an event with the given id is buffered.
func (l *Log) HasEvent(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.byID[id]
	return ok
}

// Size returns the number of buffered events.
func (l *Log) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Capacity returns the configured maximum number of buffered events.
func (l *Log) Capacity() int {
	return l.capacity
}
