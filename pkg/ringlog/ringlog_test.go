package ringlog

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/pkg/models"
)

func testEvent(id string, offset time.Duration) models.TerminalEvent {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.TerminalEvent{
		ID:        id,
		ProjectID: "proj",
		PaneID:    "%1",
		Kind:      models.KindOutput,
		Content:   "content-" + id,
		Timestamp: models.FormatTimestamp(base.Add(offset)),
	}
}

func TestLog_PushAndGetAll(t *testing.T) {
	log := New(10)
	for i := 0; i < 3; i++ {
		log.Push(testEvent(fmt.Sprintf("e%d", i), time.Duration(i)*time.Second))
	}

	all := log.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, "e0", all[0].ID)
	assert.Equal(t, "e2", all[2].ID)
	assert.Equal(t, 3, log.Size())
}

func TestLog_EvictsOldestAtCapacity(t *testing.T) {
	log := New(3)
	for i := 1; i <= 4; i++ {
		log.Push(testEvent(fmt.Sprintf("e%d", i), time.Duration(i)*time.Second))
	}

	all := log.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, "e2", all[0].ID)
	assert.Equal(t, "e4", all[2].ID)
	assert.False(t, log.HasEvent("e1"))
	assert.Equal(t, 3, log.Size())
	assert.Equal(t, 3, log.Capacity())
}

func TestLog_GetSince(t *testing.T) {
	log := New(3)
	for i := 1; i <= 4; i++ {
		log.Push(testEvent(fmt.Sprintf("e%d", i), time.Duration(i)*time.Second))
	}

	// Known id → strictly-after suffix.
	since := log.GetSince("e2")
	require.Len(t, since, 2)
	assert.Equal(t, "e3", since[0].ID)
	assert.Equal(t, "e4", since[1].ID)

	// Latest id → empty.
	assert.Empty(t, log.GetSince("e4"))

	// Evicted id → full snapshot (client dedupes by id).
	evicted := log.GetSince("e1")
	require.Len(t, evicted, 3)
	assert.Equal(t, "e2", evicted[0].ID)

	// Unknown id → full snapshot.
	unknown := log.GetSince("e0")
	assert.Len(t, unknown, 3)
}

func TestLog_GetRecent(t *testing.T) {
	log := New(10)
	for i := 0; i < 4; i++ {
		log.Push(testEvent(fmt.Sprintf("e%d", i), time.Duration(i)*time.Minute))
	}

	cutoff := models.FormatTimestamp(time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC))
	recent := log.GetRecent(cutoff)
	require.Len(t, recent, 2)
	assert.Equal(t, "e2", recent[0].ID)
	assert.Equal(t, "e3", recent[1].ID)

	// The same instant expressed with a non-UTC offset selects the same
	// events, even though it lexically sorts after every stored timestamp.
	plus2 := time.FixedZone("UTC+2", 2*60*60)
	offsetCutoff := time.Date(2026, 3, 1, 14, 1, 0, 0, plus2).Format(models.TimestampLayout)
	assert.Equal(t, recent, log.GetRecent(offsetCutoff))
}

func TestLog_LoadBulk(t *testing.T) {
	log := New(3)
	log.Push(testEvent("stale", 0))

	loaded := []models.TerminalEvent{
		testEvent("e1", 1*time.Second),
		testEvent("e2", 2*time.Second),
		testEvent("e3", 3*time.Second),
		testEvent("e4", 4*time.Second),
	}
	log.LoadBulk(loaded)

	// Over-capacity load keeps the tail, drops the head.
	all := log.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, "e2", all[0].ID)
	assert.Equal(t, "e4", all[2].ID)
	assert.False(t, log.HasEvent("stale"))
	assert.False(t, log.HasEvent("e1"))
	assert.True(t, log.HasEvent("e3"))
}

func TestLog_SnapshotIsCopy(t *testing.T) {
	log := New(10)
	log.Push(testEvent("e1", 0))

	snapshot := log.GetAll()
	snapshot[0].Content = "mutated"

	assert.Equal(t, "content-e1", log.GetAll()[0].Content)
}

func TestLog_ConcurrentPushAndRead(t *testing.T) {
	log := New(100)
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				log.Push(testEvent(fmt.Sprintf("w%d-e%d", w, i), time.Duration(i)*time.Millisecond))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = log.GetAll()
				_ = log.Size()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, log.Size())
}
