package store

import (
	"context"
	"fmt"
	"log/slog"

	"lawfirm/internal/config"
	"lawfirm/internal/db"
	"lawfirm/internal/game"
)

// Open builds the backend named by cfg.Dialect and applies its schema. The
// returned close func releases the underlying connection pool.
func Open(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (game.Store, func(), error) {
	switch cfg.Dialect {
	case config.DialectMemory:
		return NewMemory(), func() {}, nil
	case config.DialectSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		s := NewSQLite(conn)
		if err := s.Migrate(ctx); err != nil {
			conn.Close()
			return nil, nil, err
		}
		return s, func() { _ = conn.Close() }, nil
	case config.DialectPostgres:
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		s := NewPostgres(pool, logger)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown dialect %q", cfg.Dialect)
	}
}
