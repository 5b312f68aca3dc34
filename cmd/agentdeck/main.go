// agentdeck event backbone — watches tracked panes, normalizes terminal and
// stream output into events, persists them, and fans them out to dashboard
// clients over WebSocket.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentdeck/agentdeck/pkg/api"
	"github.com/agentdeck/agentdeck/pkg/config"
	"github.com/agentdeck/agentdeck/pkg/detector"
	"github.com/agentdeck/agentdeck/pkg/hub"
	"github.com/agentdeck/agentdeck/pkg/models"
	"github.com/agentdeck/agentdeck/pkg/otlp"
	"github.com/agentdeck/agentdeck/pkg/poller"
	"github.com/agentdeck/agentdeck/pkg/recovery"
	"github.com/agentdeck/agentdeck/pkg/ringlog"
	"github.com/agentdeck/agentdeck/pkg/store"
	"github.com/agentdeck/agentdeck/pkg/tailer"
	"github.com/agentdeck/agentdeck/pkg/version"
	"github.com/agentdeck/agentdeck/pkg/watcher"
)

// recoveryWarningDelay gives early clients a moment to connect before the
// memory-only warning goes out.
const recoveryWarningDelay = time.Second

func main() {
	envPath := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envPath, "error", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting agentdeck",
		"version", version.Full(),
		"project_id", cfg.ProjectID,
		"http_addr", cfg.HTTPAddr,
		"otlp_addr", cfg.OTLPAddr,
		"persistence", cfg.PersistenceEnabled())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Open the durable store. Failure is survivable: the pipeline runs in
	// memory-only mode and clients get a recovery_warning.
	var st *store.Store
	var openErr error
	if cfg.PersistenceEnabled() {
		st, openErr = store.Open(ctx, store.Config{
			Path:       cfg.DatabasePath,
			MaxAgeDays: cfg.MaxAgeDays,
			MaxEvents:  cfg.MaxEvents,
		})
		if openErr != nil {
			slog.Error("Failed to open durable store", "error", openErr)
			st = nil
		}
	}
	defer func() {
		if st != nil {
			if err := st.Close(); err != nil {
				slog.Error("Error closing durable store", "error", err)
			}
		}
	}()

	// 2. Rebuild the ring log from disk and arm duplicate suppression.
	ring := ringlog.New(cfg.RingCapacity)
	rm := recovery.NewManager(ring)
	result := rm.Run(ctx, st, openErr)

	// 3. Broadcast hub.
	h := hub.New(ring, hub.Options{BacklogOnConnect: cfg.BacklogOnConnect})

	if result.MemoryOnlyMode {
		time.AfterFunc(recoveryWarningDelay, func() {
			h.BroadcastEnvelope(hub.TypeRecoveryWarning, hub.RecoveryWarningPayload{
				Mode:    hub.RecoveryModeMemoryOnly,
				Message: "events are not being persisted",
				Details: result.Error,
			})
		})
	}

	// emit is the single funnel for terminal events: duplicate gate, ring,
	// store, broadcast.
	emit := func(evt models.TerminalEvent) {
		if !rm.Admit(evt.ID) {
			return
		}
		ring.Push(evt)
		if st != nil {
			st.InsertEvent(evt)
		}
		h.Broadcast(evt)
	}

	// 4. Terminal pipeline: poller feeds the delta detector, the watcher
	// keeps the poller's source set in sync with the state document.
	det := detector.New(cfg.ProjectID)
	p := poller.New(
		poller.NewCLIFetcher(cfg.TerminalCommand),
		func(paneID, content string, takenAt time.Time) {
			for _, evt := range det.ProcessSnapshot(paneID, content, takenAt) {
				emit(evt)
			}
		},
		poller.Options{Interval: cfg.PollInterval},
	)

	w := watcher.New(cfg.StatePath)
	w.Subscribe(func(added, removed []string) {
		for _, paneID := range added {
			p.AddSource(paneID, "")
		}
		for _, paneID := range removed {
			p.RemoveSource(paneID)
			det.DropPane(paneID)
		}
	})
	if err := w.Start(ctx); err != nil {
		slog.Error("Failed to start state watcher", "error", err)
		os.Exit(1)
	}
	defer w.Stop()
	for _, paneID := range w.ActivePanes() {
		p.AddSource(paneID, "")
	}
	p.Start(ctx)
	defer p.Stop()

	// 5. Structured stream pipeline.
	tl := tailer.New(cfg.StreamDir)
	tl.SubscribeEvents(func(evt models.StreamEvent) {
		h.BroadcastEnvelope(hub.TypeStreamEvent, map[string]any{"event": evt})
		if st != nil {
			st.InsertStreamEvent(evt)
		}
	})
	tl.SubscribeSessions(func(kind string, session *models.SessionMetadata) {
		msgType := hub.TypeSessionUpdate
		if kind == tailer.SessionStart {
			msgType = hub.TypeSessionStart
		}
		h.BroadcastEnvelope(msgType, map[string]any{
			"paneId":  session.PaneID,
			"session": session,
		})
		if st != nil {
			st.UpsertSession(*session)
		}
	})
	tl.SubscribeErrors(func(path string, err error) {
		h.BroadcastEnvelope(hub.TypeStreamError, map[string]any{
			"paneId":  "",
			"message": path + ": " + err.Error(),
		})
	})
	if err := tl.Start(ctx); err != nil {
		slog.Error("Failed to start stream tailer", "error", err)
		os.Exit(1)
	}
	defer tl.Stop()

	// 6. OTLP cost receiver.
	otlpServer := otlp.NewServer(cfg.OTLPAddr, otlp.NewAggregator(), h)
	otlpServer.Start()

	// 7. Dashboard API.
	apiServer := api.NewServer(cfg.HTTPAddr, ring, st, rm, h)
	apiServer.SetPaneSource(p.Tracked)
	apiServer.Start()

	slog.Info("agentdeck started",
		"panes", len(w.ActivePanes()),
		"events_recovered", result.EventsLoaded)

	// 8. Wait for a shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("Shutdown signal received", "signal", sig)

	// 9. Graceful teardown: stop accepting HTTP first, then ingestion, then
	// let the deferred closes drain the store.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown error", "error", err)
	}
	if err := otlpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("OTLP receiver shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
