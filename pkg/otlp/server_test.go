package otlp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelopeRecorder struct {
	mu        sync.Mutex
	envelopes []Update
	types     []string
}

func (r *envelopeRecorder) BroadcastEnvelope(msgType string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, msgType)
	if update, ok := payload.(Update); ok {
		r.envelopes = append(r.envelopes, update)
	}
}

func (r *envelopeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.types)
}

func (r *envelopeRecorder) updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.envelopes...)
}

func newTestServer(t *testing.T) (*httptest.Server, *envelopeRecorder, *Aggregator) {
	t.Helper()
	rec := &envelopeRecorder{}
	agg := NewAggregator()
	srv := NewServer(DefaultAddr, agg, rec)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, rec, agg
}

// batchJSON builds a single-metric batch for one pane.
func batchJSON(pane string, cost float64, inputTokens int) string {
	point := func(name, value string) string {
		return fmt.Sprintf(`{
			"name": %q,
			"sum": {"dataPoints": [{
				"attributes": [
					{"key": "pane.id", "value": {"stringValue": %q}},
					{"key": "session.id", "value": {"stringValue": "s-1"}}
				],
				"timeUnixNano": "1767225600000000000",
				%s
			}]}
		}`, name, pane, value)
	}
	return fmt.Sprintf(`{"resourceMetrics": [{"scopeMetrics": [{"metrics": [%s, %s]}]}]}`,
		point("claude_code.cost.usage", fmt.Sprintf(`"asDouble": %g`, cost)),
		point("claude_code.token.input", fmt.Sprintf(`"asInt": "%d"`, inputTokens)))
}

func postMetrics(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/metrics", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func jsonDecode(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func TestServer_RequestMatrix(t *testing.T) {
	ts, _, _ := newTestServer(t)

	tests := []struct {
		method      string
		path        string
		contentType string
		body        string
		wantStatus  int
	}{
		{http.MethodPost, "/v1/metrics", "application/json", `{"resourceMetrics":[]}`, http.StatusOK},
		{http.MethodOptions, "/v1/metrics", "", "", http.StatusNoContent},
		{http.MethodGet, "/v1/metrics", "", "", http.StatusMethodNotAllowed},
		{http.MethodPost, "/v1/traces", "application/json", "{}", http.StatusNotFound},
		{http.MethodGet, "/", "", "", http.StatusOK},
		{http.MethodPost, "/v1/metrics", "application/json", "{broken", http.StatusBadRequest},
		{http.MethodPost, "/v1/metrics", "application/x-protobuf", "", http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		req, err := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
		require.NoError(t, err)
		if tt.contentType != "" {
			req.Header.Set("Content-Type", tt.contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tt.wantStatus, resp.StatusCode, "%s %s", tt.method, tt.path)
	}
}

func TestServer_PartialSuccessBody(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := postMetrics(t, ts, `{"resourceMetrics":[]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, jsonDecode(resp, &body))
	assert.Contains(t, body, "partialSuccess")
}

func TestServer_AggregatesAcrossBatches(t *testing.T) {
	ts, rec, agg := newTestServer(t)

	postMetrics(t, ts, batchJSON("%0", 0.05, 1000))
	postMetrics(t, ts, batchJSON("%0", 0.03, 500))

	totals, ok := agg.Totals("%0")
	require.True(t, ok)
	assert.InDelta(t, 0.08, totals.TotalCostUSD, 1e-9)
	assert.Equal(t, int64(1500), totals.TotalTokens.Input)
	assert.Equal(t, int64(2), totals.MetricCount)

	require.Equal(t, 2, rec.count())
	updates := rec.updates()
	assert.Equal(t, "%0", updates[0].PaneID)
	assert.InDelta(t, 0.05, updates[0].Metric.CostUSD, 1e-9)
	assert.Equal(t, "s-1", updates[0].Metric.SessionID)
	assert.InDelta(t, 0.08, updates[1].Totals.TotalCostUSD, 1e-9)
}

func TestServer_NonClaudeMetricsProduceNoBroadcasts(t *testing.T) {
	ts, rec, _ := newTestServer(t)

	body := `{"resourceMetrics": [{"scopeMetrics": [{"metrics": [
		{"name": "http.server.duration", "sum": {"dataPoints": [{"asDouble": 12.5}]}}
	]}]}]}`
	resp := postMetrics(t, ts, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, rec.count())
}

func TestServer_PaneIDFromResourceAttributes(t *testing.T) {
	ts, rec, _ := newTestServer(t)

	body := `{"resourceMetrics": [{
		"resource": {"attributes": [{"key": "pane.id", "value": {"stringValue": "%9"}}]},
		"scopeMetrics": [{"metrics": [
			{"name": "claude_code.cost.usage", "gauge": {"dataPoints": [{"asDouble": 0.01}]}}
		]}]
	}]}`
	resp := postMetrics(t, ts, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, 1, rec.count())
	assert.Equal(t, "%9", rec.updates()[0].PaneID)
}

func TestServer_MultiplePanesInOneBatch(t *testing.T) {
	ts, rec, agg := newTestServer(t)

	body := `{"resourceMetrics": [{"scopeMetrics": [{"metrics": [
		{"name": "claude_code.cost.usage", "sum": {"dataPoints": [
			{"attributes": [{"key": "pane.id", "value": {"stringValue": "%1"}}], "asDouble": 0.02},
			{"attributes": [{"key": "pane.id", "value": {"stringValue": "%2"}}], "asDouble": 0.04}
		]}}
	]}]}]}`
	postMetrics(t, ts, body)

	assert.Equal(t, 2, rec.count())
	t1, _ := agg.Totals("%1")
	t2, _ := agg.Totals("%2")
	assert.InDelta(t, 0.02, t1.TotalCostUSD, 1e-9)
	assert.InDelta(t, 0.04, t2.TotalCostUSD, 1e-9)
}

func TestAggregator_TokenCounters(t *testing.T) {
	agg := NewAggregator()
	attrs := map[string]any{"pane.id": "%3"}
	updates := agg.Ingest([]point{
		{metricName: metricTokenInput, value: 100, attrs: attrs, timestamp: "2026-03-01T12:00:00.000Z"},
		{metricName: metricTokenOutput, value: 20, attrs: attrs, timestamp: "2026-03-01T12:00:01.000Z"},
		{metricName: metricTokenCacheRead, value: 5, attrs: attrs, timestamp: "2026-03-01T12:00:02.000Z"},
		{metricName: metricTokenCacheWrite, value: 3, attrs: attrs, timestamp: "2026-03-01T12:00:03.000Z"},
	})

	require.Len(t, updates, 1)
	metric := updates[0].Metric
	assert.Equal(t, int64(100), metric.Tokens.Input)
	assert.Equal(t, int64(20), metric.Tokens.Output)
	assert.Equal(t, int64(5), metric.Tokens.CacheRead)
	assert.Equal(t, int64(3), metric.Tokens.CacheWrite)
	// Latest point timestamp wins.
	assert.Equal(t, "2026-03-01T12:00:03.000Z", metric.Timestamp)
	assert.Equal(t, int64(1), updates[0].Totals.MetricCount)
}
