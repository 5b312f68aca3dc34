// Package detector turns raw per-pane screen snapshots into classified,
// ANSI-stripped, deduplicated terminal events with stable ids.
package detector

import (
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/pkg/models"
)

const (
	// deltaHashCapacity bounds the per-pane set of already-emitted delta
	// hashes; on overflow the set is compacted to deltaHashKeep most
	// recent entries.
	deltaHashCapacity = 1000
	deltaHashKeep     = 500
)

// paneState is the per-pane dedup state. Owned exclusively by the Detector.
type paneState struct {
	lastSnapshot     string
	lastSnapshotHash uint32
	lastLineCount    int
	deltaHashes      *hashSet
}

// hashSet is a bounded insertion-ordered set of 32-bit hashes.
type hashSet struct {
	order  []uint32
	member map[uint32]struct{}
}

func newHashSet() *hashSet {
	return &hashSet{member: make(map[uint32]struct{}, deltaHashCapacity)}
}

func (s *hashSet) contains(h uint32) bool {
	_, ok := s.member[h]
	return ok
}

func (s *hashSet) add(h uint32) {
	if s.contains(h) {
		return
	}
	s.order = append(s.order, h)
	s.member[h] = struct{}{}

	if len(s.order) > deltaHashCapacity {
		keep := s.order[len(s.order)-deltaHashKeep:]
		s.order = append([]uint32(nil), keep...)
		s.member = make(map[uint32]struct{}, deltaHashCapacity)
		for _, k := range s.order {
			s.member[k] = struct{}{}
		}
	}
}

// Detector holds per-pane snapshot state and produces TerminalEvents.
// ProcessSnapshot may be called concurrently for different panes.
type Detector struct {
	projectID string

	mu    sync.Mutex
	panes map[string]*paneState
}

// New creates a Detector tagging emitted events with projectID.
func New(projectID string) *Detector {
	return &Detector{
		projectID: projectID,
		panes:     make(map[string]*paneState),
	}
}

// ProcessSnapshot diffs content against the pane's previous snapshot and
// returns the resulting events (zero or one per snapshot). takenAt is the
// moment the snapshot was produced and becomes the event timestamp.
func (d *Detector) ProcessSnapshot(paneID, content string, takenAt time.Time) []models.TerminalEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.panes[paneID]
	if !ok {
		state = &paneState{deltaHashes: newHashSet()}
		d.panes[paneID] = state
	}

	snapshotHash := hash32(content)
	if state.lastSnapshot != "" && snapshotHash == state.lastSnapshotHash {
		// Identical re-fetch; nothing new.
		return nil
	}

	delta := extractDelta(content, state.lastSnapshot)

	state.lastSnapshot = content
	state.lastSnapshotHash = snapshotHash
	state.lastLineCount = strings.Count(content, "\n") + 1

	// Trailing newlines are an artifact of line splitting, not content.
	stripped := strings.TrimRight(StripANSI(delta), "\n")
	if strings.TrimSpace(stripped) == "" {
		return nil
	}

	deltaHash := hash32(stripped)
	if state.deltaHashes.contains(deltaHash) {
		slog.Debug("Suppressing already-emitted delta", "pane_id", paneID, "hash", deltaHash)
		return nil
	}
	state.deltaHashes.add(deltaHash)

	kind := Classify(stripped)
	event := models.TerminalEvent{
		ID:        models.NewEventID(takenAt),
		ProjectID: d.projectID,
		PaneID:    paneID,
		Kind:      kind,
		Content:   stripped,
		Timestamp: models.FormatTimestamp(takenAt),
	}
	if kind == models.KindQuestion {
		event.QuestionMetadata = ParseAskUserQuestion(stripped)
	}

	return []models.TerminalEvent{event}
}

// DropPane discards all state for a pane that left the system.
func (d *Detector) DropPane(paneID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.panes, paneID)
}

// TrackedPanes returns the pane ids with live detector state.
func (d *Detector) TrackedPanes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.panes))
	for id := range d.panes {
		ids = append(ids, id)
	}
	return ids
}

// hash32 is the 32-bit FNV-1a hash used for snapshot and delta dedup.
func hash32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
