package otlp

import (
	"sync"

	"github.com/agentdeck/agentdeck/pkg/models"
)

// Update pairs a batch's per-pane metric with the pane's running totals.
// One Update becomes one cost_update broadcast.
type Update struct {
	PaneID string            `json:"paneId"`
	Metric models.CostMetric `json:"metric"`
	Totals models.CostTotals `json:"totals"`
}

// Aggregator keeps running per-pane cost totals across batches.
type Aggregator struct {
	mu     sync.Mutex
	totals map[string]*models.CostTotals
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{totals: make(map[string]*models.CostTotals)}
}

func recognizedMetric(name string) bool {
	switch name {
	case metricCostUsage, metricTokenInput, metricTokenOutput, metricTokenCacheRead, metricTokenCacheWrite:
		return true
	}
	return false
}

// Ingest folds one batch's points into the running totals, returning one
// Update per pane present in the batch. Points without a pane id are
// attributed to the empty pane.
func (a *Aggregator) Ingest(points []point) []Update {
	if len(points) == 0 {
		return nil
	}

	metrics := make(map[string]*models.CostMetric)
	var order []string
	for _, p := range points {
		if !recognizedMetric(p.metricName) {
			continue
		}
		paneID := p.stringAttr("pane.id")
		m, ok := metrics[paneID]
		if !ok {
			m = &models.CostMetric{PaneID: paneID}
			metrics[paneID] = m
			order = append(order, paneID)
		}
		switch p.metricName {
		case metricCostUsage:
			m.CostUSD += p.value
		case metricTokenInput:
			m.Tokens.Input += int64(p.value)
		case metricTokenOutput:
			m.Tokens.Output += int64(p.value)
		case metricTokenCacheRead:
			m.Tokens.CacheRead += int64(p.value)
		case metricTokenCacheWrite:
			m.Tokens.CacheWrite += int64(p.value)
		}
		if p.timestamp > m.Timestamp {
			m.Timestamp = p.timestamp
		}
		if m.SessionID == "" {
			m.SessionID = p.stringAttr("session.id")
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	updates := make([]Update, 0, len(order))
	for _, paneID := range order {
		m := metrics[paneID]
		totals, ok := a.totals[paneID]
		if !ok {
			totals = &models.CostTotals{PaneID: paneID, FirstTimestamp: m.Timestamp}
			a.totals[paneID] = totals
		}
		totals.TotalCostUSD += m.CostUSD
		totals.TotalTokens.Add(m.Tokens)
		totals.MetricCount++
		totals.LastTimestamp = m.Timestamp

		updates = append(updates, Update{PaneID: paneID, Metric: *m, Totals: *totals})
	}
	return updates
}

// Totals returns a copy of the running totals for one pane, if any.
func (a *Aggregator) Totals(paneID string) (models.CostTotals, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	totals, ok := a.totals[paneID]
	if !ok {
		return models.CostTotals{}, false
	}
	return *totals, true
}

// AllTotals returns a copy of every pane's running totals.
func (a *Aggregator) AllTotals() map[string]models.CostTotals {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]models.CostTotals, len(a.totals))
	for paneID, totals := range a.totals {
		out[paneID] = *totals
	}
	return out
}
