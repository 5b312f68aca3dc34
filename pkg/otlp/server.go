package otlp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentdeck/agentdeck/pkg/hub"
)

// DefaultAddr is the conventional OTLP/HTTP listen address.
const DefaultAddr = ":4318"

// Broadcaster is the hub-facing surface the receiver needs.
type Broadcaster interface {
	BroadcastEnvelope(msgType string, payload any)
}

// Server is the OTLP/HTTP JSON metrics receiver.
type Server struct {
	aggregator *Aggregator
	broadcast  Broadcaster
	httpServer *http.Server
}

// NewServer builds a receiver listening on addr that emits cost updates
// through b.
func NewServer(addr string, aggregator *Aggregator, b Broadcaster) *Server {
	s := &Server{
		aggregator: aggregator,
		broadcast:  b,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.HandleMethodNotAllowed = true

	r.POST("/v1/metrics", s.handleMetrics)
	r.OPTIONS("/v1/metrics", handlePreflight)
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})
	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			handlePreflight(c)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}

func handlePreflight(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type")
	c.Status(http.StatusNoContent)
}

func (s *Server) handleMetrics(c *gin.Context) {
	contentType := c.GetHeader("Content-Type")
	if strings.Contains(contentType, "protobuf") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "protobuf payloads are not supported, send JSON"})
		return
	}

	var req exportRequest
	decoder := json.NewDecoder(c.Request.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}

	points := extractPoints(&req)
	updates := s.aggregator.Ingest(points)
	for _, update := range updates {
		slog.Debug("Cost update",
			"pane_id", update.PaneID,
			"cost_usd", update.Metric.CostUSD,
			"total_cost_usd", update.Totals.TotalCostUSD)
		if s.broadcast != nil {
			s.broadcast.BroadcastEnvelope(hub.TypeCostUpdate, update)
		}
	}

	c.Header("Access-Control-Allow-Origin", "*")
	c.JSON(http.StatusOK, gin.H{"partialSuccess": gin.H{}})
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("OTLP receiver listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("OTLP receiver failed", "error", err)
		}
	}()
}

// Shutdown stops the HTTP server, letting in-flight requests drain.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown OTLP receiver: %w", err)
	}
	return nil
}
