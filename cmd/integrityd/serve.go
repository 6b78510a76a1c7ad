package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/api"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/auth"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/config"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/controlplane"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/observability"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Port, "port", cfg.Port, "listen port")
	fs.StringVar(&cfg.PolicyPath, "policy", cfg.PolicyPath, "policy document (YAML)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	setupLogging(cfg, stderr)
	if err := serve(ctx, cfg); err != nil {
		slog.Error("integrityd exited", "error", err)
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func loadKeySet(cfg *config.Config) (*auth.InMemoryKeySet, error) {
	if cfg.AuthSigningSeed != "" {
		return auth.NewKeySetFromSeed(cfg.AuthSigningSeed)
	}
	slog.Warn("AUTH_SIGNING_SEED not set: generated an ephemeral signing key, tokens will not survive a restart")
	return auth.NewInMemoryKeySet()
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	otelCfg := observability.DefaultConfig()
	otelCfg.ServiceVersion = version
	otelCfg.Enabled = cfg.OTelEnabled
	otelCfg.OTLPEndpoint = cfg.OTLPEndpoint
	otelCfg.Insecure = cfg.OTLPInsecure
	telemetry, err := observability.New(ctx, otelCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	metrics, err := observability.NewAuditMetrics(telemetry.Meter())
	if err != nil {
		return fmt.Errorf("init audit metrics: %w", err)
	}
	metrics.Attach(rt.audit)

	svc, err := controlplane.New(rt.policy, rt.log, rt.states)
	if err != nil {
		return err
	}

	ks, err := loadKeySet(cfg)
	if err != nil {
		return err
	}

	var tp *observability.Provider
	if cfg.OTelEnabled {
		tp = telemetry
	}
	handler := api.NewServer(svc, auth.NewJWTValidator(ks), api.Options{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Telemetry:      tp,
	}).Handler()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("integrityd listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
