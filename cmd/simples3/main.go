package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/eteran/simples3/internal/config"
	"github.com/eteran/simples3/internal/core"
	"github.com/eteran/simples3/internal/metrics"
	"github.com/eteran/simples3/internal/tracing"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func Run(ctx context.Context) error {

	fs := flag.NewFlagSet("simples3", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	printConfig := fs.Bool("print-config", false, "print the effective configuration and exit")
	config.RegisterFlags(fs)

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		return err
	}

	if *printConfig {
		return cfg.Dump(os.Stdout)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := cfg.Level()
	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           level,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))

	// Ensure data directory is absolute for easier debugging.
	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}

	maxObjectSize, _ := cfg.MaxObjectBytes()

	shutdownTracing, err := tracing.Init(ctx, tracing.Options{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Protocol:    cfg.Tracing.Protocol,
		SampleRatio: cfg.Tracing.SampleRatio,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("Shutdown tracing", "err", err)
		}
	}()

	m := metrics.New()

	server, err := core.NewServer(core.NewConfig(
		core.WithDataDir(absDataDir),
		core.WithBucket(cfg.Bucket),
		core.WithRegion(cfg.Region),
		core.WithCredentials(cfg.AccessKey, cfg.SecretKey),
		core.WithMaxObjectSize(maxObjectSize),
		core.WithStorageObserver(metrics.NewStorageMetrics(m.Registry())),
		core.WithAuthObserver(m),
		core.WithMiddleware(m.Middleware, tracing.Middleware),
	))
	if err != nil {
		return fmt.Errorf("failed to create simples3 server: %w", err)
	}

	router := server.Handler()

	// Uploads can be large, so only the header read is bounded.
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	httpsServer := &http.Server{
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		Addr:              cfg.TLSAddr(),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	metricsServer := &http.Server{
		Addr:              cfg.MetricsListen,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return errors.Join(
			httpServer.Shutdown(shutdownCtx),
			httpsServer.Shutdown(shutdownCtx),
			metricsServer.Shutdown(shutdownCtx),
		)
	})

	eg.Go(func() error {
		if !cfg.TLSEnabled() {
			slog.Debug("Skipping HTTPS service because no certificate was provided")
			return nil
		}

		slog.Info("Starting SimpleS3 HTTPS server", "addr", httpsServer.Addr)
		err := httpsServer.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	eg.Go(func() error {
		if cfg.MetricsListen == "" {
			slog.Debug("Skipping metrics listener because none was configured")
			return nil
		}

		slog.Info("Starting metrics server", "addr", metricsServer.Addr)
		err := metricsServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	eg.Go(func() error {
		slog.Info("Starting SimpleS3 HTTP server", "addr", httpServer.Addr, "bucket", server.Bucket(), "data_dir", absDataDir)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	slog.Info("SimpleS3 Started")
	return eg.Wait()

}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		slog.Error("SimpleS3 exited with error", "error", err)
		os.Exit(1)
	}
}
