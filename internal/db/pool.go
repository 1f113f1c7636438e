package db

import (
	"context"
	"fmt"
	"strconv"

	"lawfirm/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a Postgres pool sized by cfg.Pool and pings it.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	pcfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// poolConfig parses the URL and applies pool limits. Settings already in the
// URL (pool_max_conns and friends) win over zero-valued limits.
func poolConfig(cfg config.DBConfig) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	p := cfg.Pool
	if p.MaxConns > 0 {
		pcfg.MaxConns = p.MaxConns
	}
	if p.MinConns > 0 {
		pcfg.MinConns = p.MinConns
	}
	if p.MaxConnLifetime > 0 {
		pcfg.MaxConnLifetime = p.MaxConnLifetime
	}
	if p.MaxConnIdleTime > 0 {
		pcfg.MaxConnIdleTime = p.MaxConnIdleTime
	}
	rp := pcfg.ConnConfig.RuntimeParams
	if _, ok := rp["application_name"]; !ok {
		rp["application_name"] = "lawfirm"
	}
	if p.StatementTimeout > 0 {
		rp["statement_timeout"] = strconv.FormatInt(p.StatementTimeout.Milliseconds(), 10)
	}
	return pcfg, nil
}
