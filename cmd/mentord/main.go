package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SnippetVault/internal/backend"
	"SnippetVault/internal/config"
	"SnippetVault/internal/relay"
	"SnippetVault/internal/telemetry"

	"golang.org/x/sync/errgroup"
)

const service = "mentord"

func main() {
	cfg := config.Load()
	rc := &cfg.Relay

	flag.StringVar(&rc.Addr, "addr", rc.Addr, "Listen address")
	flag.StringVar(&rc.APIKey, "api-key", rc.APIKey, "Bearer token clients must present (empty disables auth)")
	flag.StringVar(&rc.Backend, "backend", rc.Backend, "Upstream backend (ollama|grok|openai)")
	flag.StringVar(&rc.Model, "model", rc.Model, "Upstream model")
	flag.StringVar(&rc.UpstreamURL, "upstream-url", rc.UpstreamURL, "Override the backend's base URL")
	flag.DurationVar(&rc.KeepAlive, "keepalive", rc.KeepAlive, "Interval of keep-alive comments while streaming")
	flag.IntVar(&rc.MaxTokens, "max-tokens", rc.MaxTokens, "Upper bound for reply tokens")
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for log, trace and metric files")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")

	flag.Parse()

	// Key and default model follow a backend chosen on the command line.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["backend"] {
		rc.UpstreamKey = config.UpstreamKey(rc.Backend)
		if !set["model"] && os.Getenv("MENTORD_MODEL") == "" {
			rc.Model = config.DefaultModel(rc.Backend)
		}
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	rc := cfg.Relay
	if !config.ValidBackend(rc.Backend) {
		return fmt.Errorf("unknown backend: %s", rc.Backend)
	}

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

	upstream, err := backend.LookupUpstream(rc.Backend, rc.UpstreamURL)
	if err != nil {
		return err
	}
	llm, err := relay.NewOpenAICompatible(upstream, rc.UpstreamKey, rc.Model, rc.MaxTokens, nil)
	if err != nil {
		return fmt.Errorf("failed to create upstream client: %w", err)
	}

	srv := &http.Server{
		Addr:              rc.Addr,
		Handler:           relay.NewServer(rc, llm, logger, providers).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("mentord starting", "addr", rc.Addr, "backend", upstream.Name, "base_url", upstream.BaseURL, "model", rc.Model, "auth", rc.APIKey != "")
	fmt.Printf("mentord listening on %s (%s, %s)\n", rc.Addr, upstream.Name, rc.Model)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("mentord shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
