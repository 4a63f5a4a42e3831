package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pushbridge/pushbridge/internal/api"
	"github.com/pushbridge/pushbridge/internal/apps"
	"github.com/pushbridge/pushbridge/internal/config"
	"github.com/pushbridge/pushbridge/internal/dispatch"
	"github.com/pushbridge/pushbridge/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logOut := io.Writer(os.Stdout)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = io.MultiWriter(os.Stdout, f)
	}
	slog.SetDefault(slog.New(cfg.SlogHandler(logOut)))

	slog.Info("starting pushbridge",
		"host", cfg.Host,
		"port", cfg.Port,
		"apps_config", cfg.AppsConfigFile,
		"return_async", cfg.ReturnAsync,
	)

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	st, err := store.Open(appCtx, store.Config{
		PostgresDSN:   cfg.PostgresDSN,
		ContactPoints: cfg.CassandraContactPoints,
		Keyspace:      cfg.CassandraKeyspace,
		Table:         cfg.CassandraTable,
		SpoolDir:      cfg.SpoolDir,
	})
	if err != nil {
		slog.Error("failed to open token store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	registry, err := apps.NewRegistry(appCtx, cfg.AppsConfigFile, cfg.CredentialsFolder, cfg.ConfigFile)
	if err != nil {
		slog.Error("failed to build app registry", "error", err)
		os.Exit(1)
	}
	go registry.Watch(appCtx)

	dispatcher := dispatch.New(registry, st)

	handler := api.NewServer(cfg, registry, st, dispatcher)

	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     handler,
		ReadTimeout: 10 * time.Second,
		// Synchronous pushes hold the response open across the whole
		// retry budget, so writes are not bounded here.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLSCertificate != "" {
			// The certificate file carries both the chain and the key.
			slog.Info("https server listening", "addr", srv.Addr)
			err = srv.ListenAndServeTLS(cfg.TLSCertificate, cfg.TLSCertificate)
		} else {
			slog.Info("http server listening", "addr", srv.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down server")
	appCancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("pushbridge stopped")
}
