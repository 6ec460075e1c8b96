// Sealbox - session coordinator daemon for the desktop mail client
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/ashureev/sealbox/internal/api"
	"github.com/ashureev/sealbox/internal/config"
	"github.com/ashureev/sealbox/internal/coordinator"
	"github.com/ashureev/sealbox/internal/credential"
	"github.com/ashureev/sealbox/internal/executor"
	"github.com/ashureev/sealbox/internal/localengine"
)

// busyLog stands in for the platform activity indicator.
type busyLog struct{ logger *slog.Logger }

func (b busyLog) SetBusy(busy bool) { b.logger.Debug("[DEVICE] Activity indicator", "busy", busy) }

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting sealbox", "addr", cfg.ListenAddr, "data_dir", cfg.DataDir, "dev", cfg.IsDevelopment())

	if err := run(cfg, logger); err != nil {
		slog.Error("Sealbox stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Sealbox stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	creds, err := credential.NewFileStore(filepath.Join(cfg.DataDir, "keychain"))
	if err != nil {
		return err
	}

	eng, err := localengine.New(localengine.Options{
		DataDir:           cfg.DataDir,
		MaxAttachmentSize: cfg.MaxAttachmentSize,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := eng.Close(); closeErr != nil {
			slog.Error("Failed to close engine", "error", closeErr)
		}
	}()

	loop := executor.NewLoop(logger)
	coord := coordinator.New(coordinator.Options{
		Executor:              loop,
		Engine:                eng,
		Credentials:           creds,
		Device:                busyLog{logger: logger},
		DataDir:               cfg.DataDir,
		SyncStaleness:         cfg.SyncStaleness,
		PushUnregisterTimeout: cfg.PushUnregisterTimeout,
		Strict:                cfg.IsDevelopment(),
		Logger:                logger,
	})

	// Restore the session of the last signed-in account.
	loop.Post(func() {
		coord.EnsureSession(func(address string, err error) {
			if err != nil {
				if errors.Is(err, coordinator.ErrNoCredentials) {
					slog.Info("No stored account, waiting for sign-in")
				} else {
					slog.Warn("Failed to restore session", "error", err)
				}
				return
			}
			slog.Info("Session restored", "address", address)
			coord.SyncIfNecessary()
		})
	})

	token, err := api.LoadOrCreateToken(cfg.DataDir)
	if err != nil {
		return err
	}
	bridge := api.NewServer(api.Options{
		Loop:           loop,
		Coordinator:    coord,
		Token:          token,
		AllowedOrigins: cfg.AllowedOrigins,
		Dev:            cfg.IsDevelopment(),
		Logger:         logger,
	})

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	if cfg.IsDevelopment() {
		r.Use(chiMiddleware.Logger)
	}
	r.Mount("/", bridge.Routes())

	// WriteTimeout stays zero for the websocket stream and long-running
	// requests such as waited syncs.
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord.StartRefreshWorker(ctx, cfg.SyncRefreshInterval)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr, "token_file", filepath.Join(cfg.DataDir, api.TokenFileName))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bridge.Hub().Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := loop.Do(shutdownCtx, coord.CloseSession); err != nil {
		slog.Error("Failed to close session", "error", err)
	}
	return loop.Close()
}
