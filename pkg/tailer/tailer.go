// Package tailer ingests structured events from append-only JSON-lines
// files, one file per pane, and emits a normalized stream plus per-pane
// session metadata updates.
package tailer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentdeck/agentdeck/pkg/models"
)

// filePattern matches tailed file names and captures the pane id:
// events-<paneId>.jsonl.
var filePattern = regexp.MustCompile(`^events-(.+)\.jsonl$`)

// Session notification kinds delivered to session subscribers.
const (
	SessionStart  = "session_start"
	SessionUpdate = "session_update"
)

// EventFunc receives each normalized stream event.
type EventFunc func(models.StreamEvent)

// SessionFunc receives session lifecycle notifications: kind is
// SessionStart on first file discovery and SessionUpdate after every
// result record. The metadata is a private copy.
type SessionFunc func(kind string, session *models.SessionMetadata)

// ErrorFunc receives transient read/parse failures with the offending path.
type ErrorFunc func(path string, err error)

// trackedFile is the per-file tail state: the byte offset of the next read
// and the residual of an incomplete trailing line held back for it.
type trackedFile struct {
	path     string
	paneID   string
	offset   int64
	residual []byte
}

// Tailer watches a directory for events-*.jsonl files and tails each from
// its last read offset. Malformed lines are reported and skipped without
// being re-read.
type Tailer struct {
	dir string

	mu       sync.Mutex
	files    map[string]*trackedFile
	sessions map[string]*models.SessionMetadata // keyed by pane id

	subMu       sync.Mutex
	eventSubs   map[int]EventFunc
	sessionSubs map[int]SessionFunc
	errorSubs   map[int]ErrorFunc
	nextSub     int

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Tailer for the given directory.
func New(dir string) *Tailer {
	return &Tailer{
		dir:         dir,
		files:       make(map[string]*trackedFile),
		sessions:    make(map[string]*models.SessionMetadata),
		eventSubs:   make(map[int]EventFunc),
		sessionSubs: make(map[int]SessionFunc),
		errorSubs:   make(map[int]ErrorFunc),
	}
}

// SubscribeEvents registers fn for normalized stream events.
func (t *Tailer) SubscribeEvents(fn EventFunc) int {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	t.nextSub++
	t.eventSubs[t.nextSub] = fn
	return t.nextSub
}

// SubscribeSessions registers fn for session lifecycle notifications.
func (t *Tailer) SubscribeSessions(fn SessionFunc) int {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	t.nextSub++
	t.sessionSubs[t.nextSub] = fn
	return t.nextSub
}

// SubscribeErrors registers fn for transient failures.
func (t *Tailer) SubscribeErrors(fn ErrorFunc) int {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	t.nextSub++
	t.errorSubs[t.nextSub] = fn
	return t.nextSub
}

// Unsubscribe removes a subscription of any kind by its handle.
func (t *Tailer) Unsubscribe(id int) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	delete(t.eventSubs, id)
	delete(t.sessionSubs, id)
	delete(t.errorSubs, id)
}

// Session returns a copy of the aggregated metadata for a pane, or nil.
func (t *Tailer) Session(paneID string) *models.SessionMetadata {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[paneID].Clone()
}

// Start scans the directory for existing files, reads them to end, and
// begins watching for new files and appends.
func (t *Tailer) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(t.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch stream directory %s: %w", t.dir, err)
	}
	t.fsw = fsw

	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	// Discover files already present before the watch began.
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		_ = fsw.Close()
		return fmt.Errorf("scan stream directory %s: %w", t.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		t.maybeTrack(filepath.Join(t.dir, entry.Name()))
	}

	go func() {
		defer close(t.done)
		t.run(loopCtx)
	}()
	slog.Info("JSONL tailer started", "dir", t.dir)
	return nil
}

// Stop ends the watch loop and releases the fsnotify watcher.
func (t *Tailer) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	if t.done != nil {
		<-t.done
	}
	if t.fsw != nil {
		_ = t.fsw.Close()
	}
	slog.Info("JSONL tailer stopped")
}

func (t *Tailer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-t.fsw.Events:
			if !ok {
				return
			}
			switch {
			case event.Op&fsnotify.Create != 0:
				t.maybeTrack(event.Name)
			case event.Op&fsnotify.Write != 0:
				t.mu.Lock()
				tf := t.files[event.Name]
				t.mu.Unlock()
				if tf != nil {
					t.readNew(tf)
				}
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				t.mu.Lock()
				delete(t.files, event.Name)
				t.mu.Unlock()
			}

		case err, ok := <-t.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("Tailer fsnotify error", "error", err)
		}
	}
}

// maybeTrack registers a newly discovered file if its name matches the tail
// pattern, announces the session, and reads existing content from offset 0.
func (t *Tailer) maybeTrack(path string) {
	paneID, ok := paneIDFromPath(path)
	if !ok {
		return
	}

	t.mu.Lock()
	if _, exists := t.files[path]; exists {
		t.mu.Unlock()
		return
	}
	tf := &trackedFile{path: path, paneID: paneID}
	t.files[path] = tf

	session, isNew := t.sessions[paneID], false
	if session == nil {
		session = &models.SessionMetadata{
			PaneID:    paneID,
			StartedAt: models.FormatTimestamp(time.Now()),
		}
		t.sessions[paneID] = session
		isNew = true
	}
	announced := session.Clone()
	t.mu.Unlock()

	slog.Info("Tailing stream file", "path", path, "pane_id", paneID)
	if isNew {
		t.notifySession(SessionStart, announced)
	}
	t.readNew(tf)
}

// readNew reads from the file's current offset to its current size, splits
// complete lines, and holds back any unterminated trailing residual.
func (t *Tailer) readNew(tf *trackedFile) {
	f, err := os.Open(tf.path)
	if err != nil {
		t.notifyError(tf.path, err)
		return
	}
	defer f.Close()

	if _, err := f.Seek(tf.offset, io.SeekStart); err != nil {
		t.notifyError(tf.path, err)
		return
	}
	data, err := io.ReadAll(f)
	if err != nil {
		t.notifyError(tf.path, err)
		return
	}
	if len(data) == 0 {
		return
	}
	tf.offset += int64(len(data))
	readAt := time.Now()

	buf := append(tf.residual, data...)
	tf.residual = nil

	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			// Incomplete trailing line: hold it back for the next read.
			if len(buf) > 0 {
				tf.residual = append([]byte(nil), buf...)
			}
			return
		}
		line := bytes.TrimSpace(buf[:idx])
		buf = buf[idx+1:]
		if len(line) == 0 {
			continue
		}
		t.processLine(tf, line, readAt)
	}
}

// processLine parses and normalizes one complete line, updating session
// aggregation and notifying subscribers.
func (t *Tailer) processLine(tf *trackedFile, line []byte, readAt time.Time) {
	rec, err := parseLine(line)
	if err != nil {
		slog.Warn("Skipping malformed JSONL line", "path", tf.path, "error", err)
		t.notifyError(tf.path, err)
		return
	}

	evt, ok := normalizeRecord(rec, tf.paneID, readAt)
	if !ok {
		return
	}

	sessionUpdated := t.aggregate(tf.paneID, rec, &evt)

	t.subMu.Lock()
	eventSubs := make([]EventFunc, 0, len(t.eventSubs))
	for _, fn := range t.eventSubs {
		eventSubs = append(eventSubs, fn)
	}
	t.subMu.Unlock()
	for _, fn := range eventSubs {
		fn(evt)
	}

	if sessionUpdated != nil {
		t.notifySession(SessionUpdate, sessionUpdated)
	}
}

// aggregate folds a record into the pane's SessionMetadata. Returns a copy
// of the metadata when a subscriber-visible update happened, else nil.
func (t *Tailer) aggregate(paneID string, rec *rawRecord, evt *models.StreamEvent) *models.SessionMetadata {
	t.mu.Lock()
	defer t.mu.Unlock()

	session := t.sessions[paneID]
	if session == nil {
		return nil
	}

	switch {
	case rec.Type == "system" && rec.Subtype == "init":
		session.SessionID = rec.SessionID
		session.Model = rec.Model
		session.CWD = rec.CWD
		if len(rec.Tools) > 0 {
			session.Tools = append([]string(nil), rec.Tools...)
		}
		return session.Clone()

	case rec.Type == "result":
		if evt.Cost != nil {
			session.TotalCost += evt.Cost.TotalUSD
			session.TotalTokens.Input += evt.Cost.InputTokens
			session.TotalTokens.Output += evt.Cost.OutputTokens
		}
		return session.Clone()
	}
	return nil
}

func (t *Tailer) notifySession(kind string, session *models.SessionMetadata) {
	t.subMu.Lock()
	subs := make([]SessionFunc, 0, len(t.sessionSubs))
	for _, fn := range t.sessionSubs {
		subs = append(subs, fn)
	}
	t.subMu.Unlock()
	for _, fn := range subs {
		fn(kind, session)
	}
}

func (t *Tailer) notifyError(path string, err error) {
	slog.Warn("Tailer error", "path", path, "error", err)
	t.subMu.Lock()
	subs := make([]ErrorFunc, 0, len(t.errorSubs))
	for _, fn := range t.errorSubs {
		subs = append(subs, fn)
	}
	t.subMu.Unlock()
	for _, fn := range subs {
		fn(path, err)
	}
}

// paneIDFromPath extracts the pane id from an events-<paneId>.jsonl name.
func paneIDFromPath(path string) (string, bool) {
	m := filePattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return "", false
	}
	return m[1], true
}
