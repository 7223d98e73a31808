package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SnippetVault/internal/cache"
	"SnippetVault/internal/config"
	"SnippetVault/internal/console"
	"SnippetVault/internal/live"
	"SnippetVault/internal/mentor"
	"SnippetVault/internal/store"
	"SnippetVault/internal/telemetry"

	"golang.org/x/sync/errgroup"
)

const service = "snippetvault"

func main() {
	cfg := config.Load()

	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for log, trace and metric files")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flag.StringVar(&cfg.Mentor.URL, "mentor-url", cfg.Mentor.URL, "Vault Mentor streaming endpoint")
	flag.StringVar(&cfg.Mentor.APIKey, "mentor-key", cfg.Mentor.APIKey, "Bearer token for the mentor endpoint")
	flag.DurationVar(&cfg.Mentor.TurnTimeout, "turn-timeout", cfg.Mentor.TurnTimeout, "Upper bound for one mentor reply")
	flag.DurationVar(&cfg.Mentor.IdleTimeout, "idle-timeout", cfg.Mentor.IdleTimeout, "Abort a reply after this long without data")
	flag.StringVar(&cfg.Live.ListenAddr, "listen", cfg.Live.ListenAddr, "Serve the live websocket API on this address instead of the console")

	flag.Parse()

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, service, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir, service)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdown()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer st.Close()

	if cfg.Debug {
		logger.Info("debug mode enabled")
	}

	client := mentor.NewHTTPClient(cfg.Mentor.URL, cfg.Mentor.APIKey, logger)
	sessions := cache.NewSessions(cfg.Mentor.SessionTTL, func(snippetID string) *mentor.Controller {
		return mentor.NewController(snippetID, st, client,
			mentor.WithLogger(logger),
			mentor.WithTelemetry(providers),
			mentor.WithTimeouts(cfg.Mentor.TurnTimeout, cfg.Mentor.IdleTimeout),
		)
	}, logger)

	if cfg.Live.ListenAddr != "" {
		fmt.Printf("Serving live API on %s\n", cfg.Live.ListenAddr)
		return serve(ctx, cfg.Live.ListenAddr, live.NewServer(st, sessions, logger).Handler(), logger)
	}

	logger.Info("console started", "db", cfg.DBPath, "mentor_url", cfg.Mentor.URL)
	return console.New(st, sessions, os.Stdin, os.Stdout, logger).Run(ctx)
}

// serve runs an HTTP server until ctx is canceled, then shuts it down gracefully
func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("live server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("live server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
