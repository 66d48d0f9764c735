package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/obsidianstack/microclimate/pkg/types"
	"github.com/obsidianstack/microclimate/server/internal/alerts"
	"github.com/obsidianstack/microclimate/server/internal/api"
	"github.com/obsidianstack/microclimate/server/internal/auth"
	"github.com/obsidianstack/microclimate/server/internal/config"
	"github.com/obsidianstack/microclimate/server/internal/fetch"
	"github.com/obsidianstack/microclimate/server/internal/health"
	"github.com/obsidianstack/microclimate/server/internal/ingest"
	"github.com/obsidianstack/microclimate/server/internal/metrics"
	"github.com/obsidianstack/microclimate/server/internal/registry"
	"github.com/obsidianstack/microclimate/server/internal/store"
	"github.com/obsidianstack/microclimate/server/internal/ws"
)

// shutdownTimeout bounds HTTP server drain on exit.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion loop, REST API, WebSocket stream and gRPC health",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("microclimate starting",
		"config", configPath,
		"http_port", cfg.Server.HTTPPort,
		"grpc_port", cfg.Server.GRPCPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"sources", cfg.Ingest.SourcesPath,
		"interval", cfg.Ingest.Interval,
	)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics.Register()

	// Result store: durable when Redis answers, in-process otherwise.
	st := store.New(store.Options{URL: cfg.Store.RedisURL, DialTimeout: cfg.Store.DialTimeout})
	st.Connect(ctx)
	defer st.Close() //nolint:errcheck

	hub := ws.New(ws.Options{SendTimeout: cfg.Hub.SendTimeout, BufferSize: cfg.Hub.BufferSize})
	reg := registry.NewFile(cfg.Ingest.SourcesPath)

	alertEngine, err := alerts.New(cfg.Alerts)
	if err != nil {
		return err
	}
	defer alertEngine.Wait()

	sched, err := ingest.New(ingest.Deps{
		Registry: reg,
		Fetcher:  fetch.New(cfg.Ingest.FetchTimeout),
		Store:    st,
		Hub:      hub,
		OnResult: alertEngine.Evaluate,
	}, ingest.Options{
		Interval:     cfg.Ingest.Interval,
		FetchTimeout: cfg.Ingest.FetchTimeout,
		Concurrency:  cfg.Ingest.Concurrency,
		StopTimeout:  cfg.Ingest.StopTimeout,
		ResultTTL:    cfg.Store.ResultTTL,
	})
	if err != nil {
		return err
	}

	policy := auth.Policy{
		Mode:   cfg.Server.Auth.Mode,
		Header: cfg.Server.Auth.EffectiveHeader(),
		Key:    cfg.Server.Auth.Key(),
	}
	if cfg.Server.Auth.Mode == "apikey" && policy.Key == "" {
		slog.Warn("auth: apikey mode but key env is empty, auth disabled", "key_env", cfg.Server.Auth.KeyEnv)
	}

	// gRPC health.
	healthSrv := health.New(policy)
	healthSrv.SetStore(st.Mode())
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen grpc port %d: %w", cfg.Server.GRPCPort, err)
	}
	go func() {
		slog.Info("gRPC health listening", "port", cfg.Server.GRPCPort)
		if err := healthSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	// Early notice of source edits; the scheduler still reloads every cycle.
	go func() {
		err := registry.Watch(ctx, cfg.Ingest.SourcesPath, func(srcs []types.Source) {
			metrics.SetSourcesConfigured(len(srcs))
		})
		if err != nil {
			slog.Warn("registry: watch disabled", "path", cfg.Ingest.SourcesPath, "err", err)
		}
	}()

	if err := sched.Start(ctx); err != nil {
		return err
	}
	healthSrv.TrackIngest(ctx, sched.Done())

	httpSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: newHTTPHandler(cfg, policy, api.Deps{
			Registry:  reg,
			Store:     st,
			Scheduler: sched,
			Hub:       hub,
			Alerts:    alertEngine,
		}, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("microclimate shutting down")

	sched.Stop()
	hub.Shutdown()
	healthSrv.Stop()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	return httpSrv.Shutdown(shutdownCtx)
}

// newHTTPHandler mounts the REST API, the WebSocket stream and /metrics
// behind API-key auth and CORS. /metrics is exempt from auth.
func newHTTPHandler(cfg *config.Config, policy auth.Policy, deps api.Deps, stream http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", api.New(deps, api.Options{StaleAfter: 3 * cfg.Ingest.Interval}))
	mux.Handle("/ws", stream)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"message":"Urban Micro-Climate Map API","status":"running"}`)
	})

	return api.CORS(cfg.Server.Origins(), auth.APIKeyMiddleware(policy, mux, "/metrics", "/"))
}
