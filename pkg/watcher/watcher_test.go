package watcher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// diffRecorder collects OnChange invocations.
type diffRecorder struct {
	mu    sync.Mutex
	diffs [][2][]string
}

func (r *diffRecorder) record(added, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diffs = append(r.diffs, [2][]string{added, removed})
}

func (r *diffRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.diffs)
}

func (r *diffRecorder) last() [2][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.diffs[len(r.diffs)-1]
}

func writeState(t *testing.T, path string, currentPane string, panes []string) {
	t.Helper()
	doc := map[string]any{
		"current_session": map[string]any{
			"current_agent": map[string]any{"pane_id": nil},
		},
	}
	if currentPane != "" {
		doc["current_session"].(map[string]any)["current_agent"].(map[string]any)["pane_id"] = currentPane
	}
	if panes != nil {
		doc["panes"] = panes
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func startWatcher(t *testing.T, path string) (*Watcher, *diffRecorder) {
	t.Helper()
	w := New(path)
	rec := &diffRecorder{}
	w.Subscribe(rec.record)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w, rec
}

func TestWatcher_InitialReadWithoutNotification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	writeState(t, path, "%1", []string{"%2"})

	w, rec := startWatcher(t, path)

	assert.Equal(t, []string{"%1", "%2"}, w.ActivePanes())
	assert.Equal(t, 0, rec.count(), "initial load does not notify")
}

func TestWatcher_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	w, rec := startWatcher(t, path)

	assert.Empty(t, w.ActivePanes())

	// Creation of the document triggers an added diff.
	writeState(t, path, "%1", nil)
	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"%1"}, rec.last()[0])
	assert.Empty(t, rec.last()[1])
}

func TestWatcher_DiffOnMembershipChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	writeState(t, path, "%1", []string{"%2"})
	w, rec := startWatcher(t, path)

	writeState(t, path, "%1", []string{"%3"})
	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	diff := rec.last()
	assert.Equal(t, []string{"%3"}, diff[0])
	assert.Equal(t, []string{"%2"}, diff[1])
	assert.Equal(t, []string{"%1", "%3"}, w.ActivePanes())
}

func TestWatcher_NoNotificationWhenSetUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	writeState(t, path, "%1", nil)
	_, rec := startWatcher(t, path)

	// Rewrite with identical membership; symmetric difference is empty.
	writeState(t, path, "%1", nil)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}

func TestWatcher_MalformedJSONKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	writeState(t, path, "%1", nil)
	w, rec := startWatcher(t, path)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, []string{"%1"}, w.ActivePanes(), "parse errors leave state unchanged")
	assert.Equal(t, 0, rec.count())
}

func TestWatcher_RemovalEmptiesSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	writeState(t, path, "%1", []string{"%2"})
	w, rec := startWatcher(t, path)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	diff := rec.last()
	assert.Empty(t, diff[0])
	assert.Equal(t, []string{"%1", "%2"}, diff[1])
	assert.Empty(t, w.ActivePanes())
}

func TestWatcher_Unsubscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	w := New(path)
	rec := &diffRecorder{}
	id := w.Subscribe(rec.record)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	w.Unsubscribe(id)
	writeState(t, path, "%1", nil)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}
