package cmd

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tmarchini/personaforge/internal/config"
	"github.com/tmarchini/personaforge/internal/httpapi"
	"github.com/tmarchini/personaforge/internal/inference"
	"github.com/tmarchini/personaforge/internal/observability"
	"github.com/tmarchini/personaforge/internal/persona"
	"github.com/tmarchini/personaforge/internal/profile"
	"github.com/tmarchini/personaforge/internal/prompt"
	"github.com/tmarchini/personaforge/internal/reliability"
	"github.com/tmarchini/personaforge/internal/session"
	"github.com/tmarchini/personaforge/internal/transcript"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket chat service",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// stack holds the wired service components shared by serve and chat.
type stack struct {
	cfg      config.Config
	personas *persona.Registry
	store    transcript.Store
	client   inference.Client
	sessions *session.Manager
	runner   *session.Runner
}

func buildStack(ctx context.Context, cfg config.Config) (*stack, error) {
	personas, err := persona.NewRegistry(cfg.PersonaDir)
	if err != nil {
		return nil, err
	}

	store, err := transcript.NewStore(ctx, cfg.StorageURL)
	if err != nil {
		return nil, err
	}
	if cfg.RedactPII {
		store = transcript.NewRedactingStore(store)
	}

	client, err := inference.NewClient(inference.Config{
		Mode:           cfg.InferenceMode,
		BackendURL:     cfg.BackendURL,
		APIKey:         cfg.APIKey,
		RequestTimeout: cfg.RequestTimeout,
		Retry: reliability.Policy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	runner := session.NewRunner(sessions, personas, store, client, prompt.Assembler{TokenBudget: cfg.PromptTokenBudget})
	runner.Model = cfg.Model
	runner.HistoryLimit = cfg.HistoryLimit

	return &stack{
		cfg:      cfg,
		personas: personas,
		store:    store,
		client:   client,
		sessions: sessions,
		runner:   runner,
	}, nil
}

func runServe() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()
	st, err := buildStack(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer st.store.Close()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	latency := observability.NewLatencyWindow(512)

	st.sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(st.sessions.ActiveCount()))
	})
	st.runner.Observer = metrics.ObserveTurn
	st.runner.StageObserver = latency.Observe

	analyzer := profile.NewAnalyzer(st.client)
	analyzer.Model = cfg.Model

	api := httpapi.New(cfg, st.sessions, st.runner, st.personas, analyzer, metrics, latency)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	st.sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s (personas: %d)", cfg.BindAddr, len(st.personas.List()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
