package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentdeck/agentdeck/pkg/models"
)

// pruner enforces retention in the background. A schedule call during an
// active prune is a no-op, so bursts of inserts trigger at most one pass.
type pruner struct {
	store   *Store
	running atomic.Bool
	wg      sync.WaitGroup
}

func newPruner(s *Store) *pruner {
	return &pruner{store: s}
}

func (p *pruner) schedule() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.running.Store(false)
		if err := p.store.pruneOnce(context.Background()); err != nil {
			slog.Error("Retention prune failed", "error", err)
		}
	}()
}

func (p *pruner) wait() {
	p.wg.Wait()
}

// Prune applies retention rules immediately: delete events older than the
// age limit, then delete oldest rows beyond the count limit.
func (s *Store) Prune(ctx context.Context) error {
	return s.pruneOnce(ctx)
}

func (s *Store) pruneOnce(ctx context.Context) error {
	cutoff := models.FormatTimestamp(time.Now().AddDate(0, 0, -s.cfg.MaxAgeDays))
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("prune by age: %w", err)
	}
	byAge, _ := res.RowsAffected()

	// Keep only the newest MaxEvents rows.
	res, err = s.db.ExecContext(ctx, `
		DELETE FROM events WHERE id IN (
			SELECT id FROM events ORDER BY timestamp ASC, id ASC
			LIMIT max(0, (SELECT COUNT(*) FROM events) - ?)
		)`, s.cfg.MaxEvents)
	if err != nil {
		return fmt.Errorf("prune by count: %w", err)
	}
	byCount, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM stream_events WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("prune stream events: %w", err)
	}

	if byAge > 0 || byCount > 0 {
		slog.Info("Pruned events", "by_age", byAge, "by_count", byCount)
	}
	return nil
}
