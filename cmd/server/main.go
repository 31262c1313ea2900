package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"piano/internal/api"
	"piano/internal/config"
	"piano/internal/history"
	"piano/internal/identity"
	"piano/internal/metrics"
	"piano/internal/ws"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// A missing .env is fine; explicit config wins over it.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	})))
	slog.Info("starting server", "environment", cfg.Server.Environment)

	m := metrics.New(prometheus.DefaultRegisterer)

	store, err := history.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open chat history store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("chat history store opened", "path", cfg.Database.Path)

	registry := ws.NewRegistry(store, m)

	tickerCtx, tickerCancel := context.WithCancel(context.Background())
	go ws.NewQuotaTicker(registry).Start(tickerCtx)

	ids := identity.NewService(cfg.Server.Environment, cfg.Server.Salt1, cfg.Server.Salt2)

	server, err := api.NewServer(cfg, registry, store, ids, m)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	addr := cfg.Addr()
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server,
	}

	go func() {
		slog.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")

	tickerCancel()
	server.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
