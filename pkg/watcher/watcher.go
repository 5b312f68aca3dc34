// Package watcher maintains the canonical set of active pane ids by watching
// an external JSON state document and diffing its pane membership on change.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// debounceWindow coalesces rapid writes to the state document into a
	// single re-read.
	debounceWindow = 100 * time.Millisecond
	// quietWindow is the settle delay after the debounce fires, letting a
	// writer finish a non-atomic write before the document is parsed.
	quietWindow = 50 * time.Millisecond
)

// ChangeFunc receives pane membership diffs. Both slices are sorted; at
// least one of them is non-empty on every invocation.
type ChangeFunc func(added, removed []string)

// stateDoc is the subset of the external state document this system reads.
type stateDoc struct {
	CurrentSession struct {
		CurrentAgent struct {
			PaneID *string `json:"pane_id"`
		} `json:"current_agent"`
	} `json:"current_session"`
	Panes []string `json:"panes"`
}

// Watcher observes the state document and notifies subscribers when the
// active pane set changes. Parse and read errors never tear it down.
type Watcher struct {
	path string

	mu      sync.Mutex
	current map[string]struct{}
	subs    map[int]ChangeFunc
	nextSub int

	fsw     *fsnotify.Watcher
	signals chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Watcher for the state document at path.
func New(path string) *Watcher {
	return &Watcher{
		path:    path,
		current: make(map[string]struct{}),
		subs:    make(map[int]ChangeFunc),
		signals: make(chan struct{}, 1),
	}
}

// Subscribe registers fn for membership diffs and returns a handle for
// Unsubscribe.
func (w *Watcher) Subscribe(fn ChangeFunc) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextSub++
	w.subs[w.nextSub] = fn
	return w.nextSub
}

// Unsubscribe removes a subscription by its handle.
func (w *Watcher) Unsubscribe(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.subs, id)
}

// ActivePanes returns the currently observed pane set, sorted.
func (w *Watcher) ActivePanes() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return sortedKeys(w.current)
}

// Start begins watching. The document's directory must exist; the document
// itself may not yet — the watcher starts empty and waits for creation.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch state directory %s: %w", dir, err)
	}
	w.fsw = fsw

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	// Initial read: a missing document just means an empty pane set.
	w.reload(false)

	go func() {
		defer close(w.done)
		w.run(loopCtx)
	}()
	slog.Info("State watcher started", "path", w.path)
	return nil
}

// Stop ends the watch loop and releases the fsnotify watcher.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.done != nil {
		<-w.done
	}
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	slog.Info("State watcher stopped")
}

func (w *Watcher) run(ctx context.Context) {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.AfterFunc(debounceWindow, func() {
					select {
					case w.signals <- struct{}{}:
					default:
					}
				})
			} else {
				debounce.Reset(debounceWindow)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("State watcher fsnotify error", "error", err)

		case <-w.signals:
			// Settle window: let a non-atomic writer finish before parsing.
			select {
			case <-ctx.Done():
				return
			case <-time.After(quietWindow):
			}
			w.reload(true)
		}
	}
}

// reload re-reads the document, diffs the pane set, and notifies subscribers
// when the symmetric difference is non-empty. A removed document empties the
// set; malformed JSON leaves state unchanged.
func (w *Watcher) reload(notify bool) {
	next, err := w.readPaneSet()
	if err != nil {
		slog.Warn("State document unreadable, keeping previous pane set",
			"path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	var added, removed []string
	for id := range next {
		if _, ok := w.current[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range w.current {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	w.current = next

	var subs []ChangeFunc
	if notify && (len(added) > 0 || len(removed) > 0) {
		subs = make([]ChangeFunc, 0, len(w.subs))
		for _, fn := range w.subs {
			subs = append(subs, fn)
		}
	}
	w.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	sort.Strings(added)
	sort.Strings(removed)
	slog.Info("Pane membership changed", "added", added, "removed", removed)
	for _, fn := range subs {
		fn(added, removed)
	}
}

// readPaneSet parses the document into the active pane-id set: the current
// agent's pane plus any panes[] entries. A missing file is an empty set.
func (w *Watcher) readPaneSet() (map[string]struct{}, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]struct{}), nil
		}
		return nil, err
	}

	var doc stateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse state document: %w", err)
	}

	set := make(map[string]struct{}, len(doc.Panes)+1)
	if doc.CurrentSession.CurrentAgent.PaneID != nil && *doc.CurrentSession.CurrentAgent.PaneID != "" {
		set[*doc.CurrentSession.CurrentAgent.PaneID] = struct{}{}
	}
	for _, id := range doc.Panes {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set, nil
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
