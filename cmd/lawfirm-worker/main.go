package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lawfirm/internal/config"
	"lawfirm/internal/game"
	"lawfirm/internal/pubsub"
	"lawfirm/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
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

	opts := []game.Option{}
	if cfg.NATS.URL != "" {
		upstream, err := pubsub.NewNATS(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			logger.Error("nats connect failed", "err", err)
			os.Exit(1)
		}
		defer upstream.Close()
		opts = append(opts, game.WithPublisher(upstream))
	}
	if cfg.RandSeed != 0 {
		opts = append(opts, game.WithRand(game.NewRand(cfg.RandSeed)))
	}
	svc := game.NewService(st, logger, opts...)

	if cfg.RunOnce {
		if _, err := tick(ctx, svc, logger); err != nil {
			logger.Error("tick failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.AdvanceEvery)
	defer ticker.Stop()

	logger.Info("worker started", "advance_every", cfg.AdvanceEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			done, err := tick(ctx, svc, logger)
			if err != nil {
				logger.Error("auto advance failed", "err", err)
				continue
			}
			if done {
				logger.Info("game finished, worker exiting")
				return
			}
		}
	}
}

// tick advances one round when every set-up team is ready. done is true once
// the game has reached its final round.
func tick(ctx context.Context, svc *game.Service, logger *slog.Logger) (done bool, err error) {
	ready, err := svc.AllReady(ctx)
	if err != nil {
		return false, err
	}
	if !ready {
		logger.Debug("waiting for teams")
		return false, nil
	}
	report, err := svc.AdvanceRound(ctx, false)
	switch {
	case errors.Is(err, game.ErrGameOver):
		return true, nil
	case errors.Is(err, game.ErrTeamsNotReady), errors.Is(err, game.ErrRoundConflict):
		logger.Info("advance skipped", "reason", err.Error())
		return false, nil
	case err != nil:
		return false, err
	}
	logger.Info("auto advanced", "from_round", report.FromRound, "to_round", report.ToRound)
	return false, nil
}
