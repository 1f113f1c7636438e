package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lawfirm/internal/api"
	"lawfirm/internal/config"
	"lawfirm/internal/game"
	"lawfirm/internal/pubsub"
	"lawfirm/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	st, closeStore, err := store.Open(ctx, cfg.DB, logger)
	if err != nil {
		logger.Error("store open failed", "dialect", cfg.DB.Dialect, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	events, closeEvents, err := openEvents(cfg.NATS, logger)
	if err != nil {
		logger.Error("event bus init failed", "err", err)
		os.Exit(1)
	}
	defer closeEvents()
	go logEvents(ctx, events, logger)

	opts := []game.Option{game.WithPublisher(events)}
	if cfg.RandSeed != 0 {
		opts = append(opts, game.WithRand(game.NewRand(cfg.RandSeed)))
	}
	gameSvc := game.NewService(st, logger, opts...)

	if cfg.SeedProjects {
		if _, err := gameSvc.SeedDefaults(ctx); err != nil {
			logger.Error("seed defaults failed", "err", err)
			os.Exit(1)
		}
	}

	server := api.New(cfg, logger, gameSvc)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("lawfirm api listening", "addr", cfg.Addr, "dialect", cfg.DB.Dialect)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func openEvents(cfg config.NATSConfig, logger *slog.Logger) (*pubsub.PubSub, func(), error) {
	if cfg.URL == "" {
		return pubsub.New(logger), func() {}, nil
	}
	upstream, err := pubsub.NewNATS(cfg.URL, cfg.Subject, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("publishing events to nats", "subject", cfg.Subject)
	return pubsub.NewWithUpstream(upstream, logger), upstream.Close, nil
}

func logEvents(ctx context.Context, events *pubsub.PubSub, logger *slog.Logger) {
	ch := events.Subscribe()
	defer events.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			logger.Debug("game event", "type", ev.Type, "payload", ev.Payload)
		}
	}
}
