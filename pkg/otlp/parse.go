// Package otlp receives OTLP/HTTP JSON metric batches, extracts the
// Claude-specific cost and token counters, and aggregates running per-pane
// totals for broadcast.
package otlp

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/agentdeck/agentdeck/pkg/models"
)

// Metric names recognized by the receiver. Everything else is dropped.
const (
	metricCostUsage       = "claude_code.cost.usage"
	metricTokenInput      = "claude_code.token.input"
	metricTokenOutput     = "claude_code.token.output"
	metricTokenCacheRead  = "claude_code.token.cache_read"
	metricTokenCacheWrite = "claude_code.token.cache_write"
)

const claudeMetricPrefix = "claude_code."

// exportRequest mirrors the OTLP/HTTP JSON request shape, limited to the
// fields this receiver reads. Per the OTLP JSON encoding, 64-bit integers
// arrive as strings; json.Number covers both spellings.
type exportRequest struct {
	ResourceMetrics []struct {
		Resource struct {
			Attributes []keyValue `json:"attributes"`
		} `json:"resource"`
		ScopeMetrics []struct {
			Metrics []metric `json:"metrics"`
		} `json:"scopeMetrics"`
	} `json:"resourceMetrics"`
}

type metric struct {
	Name  string `json:"name"`
	Sum   *struct {
		DataPoints []dataPoint `json:"dataPoints"`
	} `json:"sum"`
	Gauge *struct {
		DataPoints []dataPoint `json:"dataPoints"`
	} `json:"gauge"`
}

type dataPoint struct {
	Attributes   []keyValue   `json:"attributes"`
	TimeUnixNano json.Number  `json:"timeUnixNano"`
	AsDouble     *float64     `json:"asDouble"`
	AsInt        *json.Number `json:"asInt"`
}

type keyValue struct {
	Key   string    `json:"key"`
	Value attrValue `json:"value"`
}

type attrValue struct {
	StringValue *string      `json:"stringValue"`
	BoolValue   *bool        `json:"boolValue"`
	IntValue    *json.Number `json:"intValue"`
	DoubleValue *float64     `json:"doubleValue"`
}

// point is one extracted Claude data point with attributes flattened and
// resource attributes merged in as fallbacks.
type point struct {
	metricName string
	value      float64
	timestamp  string
	attrs      map[string]any
}

func (p point) stringAttr(key string) string {
	if v, ok := p.attrs[key].(string); ok {
		return v
	}
	return ""
}

// extractPoints pulls every claude_code.* data point out of a decoded batch.
func extractPoints(req *exportRequest) []point {
	var points []point
	for _, rm := range req.ResourceMetrics {
		resourceAttrs := decodeAttributes(rm.Resource.Attributes)
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				if !strings.HasPrefix(m.Name, claudeMetricPrefix) {
					continue
				}
				var dps []dataPoint
				switch {
				case m.Sum != nil:
					dps = m.Sum.DataPoints
				case m.Gauge != nil:
					dps = m.Gauge.DataPoints
				}
				for _, dp := range dps {
					attrs := make(map[string]any, len(resourceAttrs)+len(dp.Attributes))
					for k, v := range resourceAttrs {
						attrs[k] = v
					}
					for k, v := range decodeAttributes(dp.Attributes) {
						attrs[k] = v
					}
					points = append(points, point{
						metricName: m.Name,
						value:      pointValue(dp),
						timestamp:  pointTimestamp(dp),
						attrs:      attrs,
					})
				}
			}
		}
	}
	return points
}

func decodeAttributes(kvs []keyValue) map[string]any {
	if len(kvs) == 0 {
		return nil
	}
	out := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		switch {
		case kv.Value.StringValue != nil:
			out[kv.Key] = *kv.Value.StringValue
		case kv.Value.BoolValue != nil:
			out[kv.Key] = *kv.Value.BoolValue
		case kv.Value.IntValue != nil:
			if n, err := kv.Value.IntValue.Int64(); err == nil {
				out[kv.Key] = n
			}
		case kv.Value.DoubleValue != nil:
			out[kv.Key] = *kv.Value.DoubleValue
		}
	}
	return out
}

func pointValue(dp dataPoint) float64 {
	if dp.AsDouble != nil {
		return *dp.AsDouble
	}
	if dp.AsInt != nil {
		if n, err := dp.AsInt.Int64(); err == nil {
			return float64(n)
		}
	}
	return 0
}

// pointTimestamp converts timeUnixNano to an ISO-8601 millisecond timestamp.
// A missing or unparsable value falls back to the receive time.
func pointTimestamp(dp dataPoint) string {
	if s := dp.TimeUnixNano.String(); s != "" {
		if ns, err := strconv.ParseInt(s, 10, 64); err == nil && ns > 0 {
			return models.FormatTimestamp(time.Unix(0, ns))
		}
	}
	return models.FormatTimestamp(time.Now())
}
