package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvail/porterd/internal/agent"
	"github.com/dvail/porterd/internal/config"
	"github.com/dvail/porterd/internal/gitutil"
	"github.com/dvail/porterd/internal/httpapi"
	"github.com/dvail/porterd/internal/job"
	"github.com/dvail/porterd/internal/observability"
	"github.com/dvail/porterd/internal/orchestrator"
	"github.com/dvail/porterd/internal/session"
	"github.com/dvail/porterd/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := job.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("job store init failed: %v", err)
	}
	defer store.Close()

	if err := os.MkdirAll(cfg.WorkspaceDir, 0o755); err != nil {
		log.Fatalf("workspace dir init failed: %v", err)
	}

	launcher, err := agent.NewLauncher(agent.Config{
		Mode:    cfg.AgentMode,
		CLIPath: cfg.AgentCLIPath,
	})
	if err != nil {
		log.Fatalf("agent launcher init failed: %v", err)
	}

	sessions := session.NewManager(launcher)
	streams := stream.NewBroadcaster(cfg.EventHistoryLimit)

	orch := orchestrator.New(store, sessions, streams, gitutil.NewGitCloner(cfg.CloneDepth), metrics, orchestrator.Options{
		TextFlushInterval:  cfg.TextFlushInterval,
		LogPreviewInterval: cfg.LogPreviewInterval,
		CloneTimeout:       cfg.CloneTimeout,
		TurnTimeout:        cfg.TurnTimeout,
	})

	api := httpapi.New(cfg, store, orch, streams, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	sessions.CleanupAll()
	log.Printf("shutdown complete")
}
