package models

// TokenCounts holds the four token counters tracked per pane.
type TokenCounts struct {
	Input      int64 `json:"input"`
	Output     int64 `json:"output"`
	CacheRead  int64 `json:"cacheRead"`
	CacheWrite int64 `json:"cacheWrite"`
}

// Add accumulates other into t.
func (t *TokenCounts) Add(other TokenCounts) {
	t.Input += other.Input
	t.Output += other.Output
	t.CacheRead += other.CacheRead
	t.CacheWrite += other.CacheWrite
}

// CostMetric is a single aggregated cost sample for one pane, summed over
// every matching data point in one OTLP batch.
type CostMetric struct {
	PaneID    string      `json:"paneId"`
	SessionID string      `json:"sessionId,omitempty"`
	CostUSD   float64     `json:"costUsd"`
	Tokens    TokenCounts `json:"tokens"`
	Timestamp string      `json:"timestamp"` // latest point in the batch, TimestampLayout
}

// CostTotals is the running per-pane sum over all received CostMetrics.
type CostTotals struct {
	PaneID         string      `json:"paneId"`
	TotalCostUSD   float64     `json:"totalCostUsd"`
	TotalTokens    TokenCounts `json:"totalTokens"`
	MetricCount    int64       `json:"metricCount"`
	FirstTimestamp string      `json:"firstTimestamp,omitempty"`
	LastTimestamp  string      `json:"lastTimestamp,omitempty"`
}
