package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"wslogin/internal/config"
	"wslogin/internal/microservices/admin"
	"wslogin/internal/microservices/websocket"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	logger := newLogger(os.Stdout, cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server_error", "error", err.Error())
		os.Exit(1)
	}
}

// run blocks until a listener fails to bind or the process is signalled
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := websocket.NewServer(cfg.BindAddr(),
		websocket.WithLogger(logger),
		websocket.WithMaxConnections(cfg.MaxConnections),
		websocket.WithRateLimit(cfg.MessageRateLimit, cfg.MessageRateBurst),
	)

	logger.Info("starting_login_server",
		"ws_addr", cfg.BindAddr(),
		"admin_addr", cfg.AdminAddr(),
		"max_connections", cfg.MaxConnections,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := server.Start()
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	})

	var adminServer *admin.Server
	if addr := cfg.AdminAddr(); addr != "" {
		adminServer = admin.NewServer(addr, server.Manager, logger)
		g.Go(adminServer.Start)
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("received_shutdown_signal")
		if err := server.Close(); err != nil {
			logger.Error("websocket_server_close_failed", "error", err.Error())
		}
		if adminServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := adminServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("admin_server_shutdown_failed", "error", err.Error())
			}
		}
		return nil
	})

	return g.Wait()
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
