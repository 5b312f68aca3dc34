// Package api serves the dashboard HTTP surface: status, event history,
// health, and the WebSocket upgrade endpoint.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/agentdeck/agentdeck/pkg/hub"
	"github.com/agentdeck/agentdeck/pkg/models"
	"github.com/agentdeck/agentdeck/pkg/poller"
	"github.com/agentdeck/agentdeck/pkg/recovery"
	"github.com/agentdeck/agentdeck/pkg/ringlog"
	"github.com/agentdeck/agentdeck/pkg/store"
	"github.com/agentdeck/agentdeck/pkg/version"
)

// historyLimit caps one history page.
const historyLimit = 1000

// PaneSource reports the currently tracked poll sources.
type PaneSource func() []poller.TrackedSource

// Server wires the HTTP handlers to the pipeline's shared state. The store
// is nil in memory-only mode; handlers fall back to the ring log.
type Server struct {
	ring       *ringlog.Log
	store      *store.Store
	recovery   *recovery.Manager
	hub        *hub.Hub
	paneSource PaneSource
	httpServer *http.Server
}

// NewServer builds the API server listening on addr.
func NewServer(addr string, ring *ringlog.Log, st *store.Store, rm *recovery.Manager, h *hub.Hub) *Server {
	s := &Server{
		ring:     ring,
		store:    st,
		recovery: rm,
		hub:      h,
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
	r.Use(gin.Recovery(), securityHeaders())

	r.GET("/healthz", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.GET("/events/history", s.handleHistory)
	r.GET("/ws", s.handleWebSocket)
	return r
}

// securityHeaders sets conservative response headers on every route.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// SetPaneSource wires the tracked-pane provider. Called once during startup.
func (s *Server) SetPaneSource(src PaneSource) {
	s.paneSource = src
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleStatus(c *gin.Context) {
	result := s.recovery.Result()
	sources := []poller.TrackedSource{}
	if s.paneSource != nil {
		sources = s.paneSource()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"version":   version.Full(),
		"timestamp": models.FormatTimestamp(time.Now()),
		"recovery": gin.H{
			"complete":       s.recovery.Complete(),
			"memoryOnlyMode": s.recovery.MemoryOnly(),
			"result":         result,
		},
		"persistence": gin.H{
			"enabled": s.store != nil,
		},
		"buffer": gin.H{
			"size":     s.ring.Size(),
			"capacity": s.ring.Capacity(),
		},
		"clients": s.hub.ClientCount(),
		"panes": gin.H{
			"tracked": len(sources),
			"sources": sources,
		},
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := historyLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > historyLimit {
		limit = historyLimit
	}

	// Unknown kinds are ignored rather than rejected.
	kind := c.Query("type")
	if kind != "" && !models.ValidKind(kind) {
		kind = ""
	}
	descending := c.Query("order") == "desc"

	if s.store == nil {
		events := s.filterBuffer(c.Query("project_id"), c.Query("pane_id"), kind, c.Query("since"), c.Query("after_id"))
		if len(events) > limit {
			events = events[len(events)-limit:]
		}
		if descending {
			reverseEvents(events)
		}
		c.JSON(http.StatusOK, gin.H{
			"events":  events,
			"total":   len(events),
			"hasMore": false,
			"source":  "buffer",
		})
		return
	}

	result, err := s.store.Query(c.Request.Context(), store.QueryFilter{
		ProjectID: c.Query("project_id"),
		PaneID:    c.Query("pane_id"),
		Kind:      kind,
		Since:     c.Query("since"),
		AfterID:   c.Query("after_id"),
		Limit:     limit,
	})
	if err != nil {
		slog.Error("History query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
		return
	}
	events := result.Events
	if events == nil {
		events = []models.TerminalEvent{}
	}
	if descending {
		reverseEvents(events)
	}
	c.JSON(http.StatusOK, gin.H{
		"events":  events,
		"total":   result.Total,
		"hasMore": result.HasMore,
		"source":  "sqlite",
	})
}

// filterBuffer applies the history filters against a ring log snapshot.
// since is an exclusive lower bound, matching the store query.
func (s *Server) filterBuffer(projectID, paneID, kind, since, afterID string) []models.TerminalEvent {
	var events []models.TerminalEvent
	if afterID != "" {
		events = s.ring.GetSince(afterID)
	} else {
		events = s.ring.GetAll()
	}
	since = models.NormalizeTimestamp(since)

	out := events[:0]
	for _, evt := range events {
		if projectID != "" && evt.ProjectID != projectID {
			continue
		}
		if paneID != "" && evt.PaneID != paneID {
			continue
		}
		if kind != "" && string(evt.Kind) != kind {
			continue
		}
		if since != "" && evt.Timestamp <= since {
			continue
		}
		out = append(out, evt)
	}
	return out
}

func reverseEvents(events []models.TerminalEvent) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("WebSocket accept failed", "error", err)
		return
	}
	s.hub.HandleConnection(c.Request.Context(), conn)
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("API server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("API server failed", "error", err)
		}
	}()
}

// Shutdown stops the HTTP server, letting in-flight requests drain.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown API server: %w", err)
	}
	return nil
}
