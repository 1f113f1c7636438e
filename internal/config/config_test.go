package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LAWFIRM_CONFIG_PATH", "LAWFIRM_API_ADDR", "LAWFIRM_DB_DIALECT", "LAWFIRM_SQLITE_PATH",
		"DATABASE_URL", "LAWFIRM_ADMIN_TOKEN", "LAWFIRM_ADMIN_TOKEN_HASH", "LAWFIRM_NATS_URL", "LAWFIRM_NATS_SUBJECT",
		"LAWFIRM_LOG_LEVEL", "LAWFIRM_SEED_PROJECTS", "LAWFIRM_RAND_SEED",
		"LAWFIRM_AUTO_ADVANCE_EVERY", "LAWFIRM_WORKER_RUN_ONCE", "LAWFIRM_API_BASE_URL",
		"LAWFIRM_PG_MAX_CONNS", "LAWFIRM_PG_MIN_CONNS", "LAWFIRM_PG_MAX_CONN_LIFETIME",
		"LAWFIRM_PG_MAX_CONN_IDLE_TIME", "LAWFIRM_PG_STATEMENT_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadAPIDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("LAWFIRM_ADMIN_TOKEN", "secret")

	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, DialectSQLite, cfg.DB.Dialect)
	require.Equal(t, "lawfirm.db", cfg.DB.SQLitePath)
	require.Equal(t, "lawfirm.events", cfg.NATS.Subject)
	require.True(t, cfg.SeedProjects)
	require.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadAPIRequiresAdminToken(t *testing.T) {
	clearEnv(t)
	_, err := LoadAPIFromEnv()
	require.Error(t, err)

	t.Setenv("LAWFIRM_DB_DIALECT", "memory")
	_, err = LoadAPIFromEnv()
	require.NoError(t, err)

	t.Setenv("LAWFIRM_DB_DIALECT", "sqlite")
	t.Setenv("LAWFIRM_ADMIN_TOKEN_HASH", "$2a$10$abcdefghijklmnopqrstuu")
	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	require.Empty(t, cfg.AdminToken)
}

func TestLoadAPIPostgresNeedsURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("LAWFIRM_ADMIN_TOKEN", "secret")
	t.Setenv("LAWFIRM_DB_DIALECT", "postgres")
	_, err := LoadAPIFromEnv()
	require.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("LAWFIRM_DB_DIALECT", "oracle")
	_, err = LoadAPIFromEnv()
	require.ErrorContains(t, err, "unknown")
}

func TestLoadAPIPostgresPool(t *testing.T) {
	clearEnv(t)
	t.Setenv("LAWFIRM_ADMIN_TOKEN", "secret")
	t.Setenv("LAWFIRM_DB_DIALECT", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/lawfirm")

	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	require.Equal(t, int32(10), cfg.DB.Pool.MaxConns)
	require.Equal(t, int32(1), cfg.DB.Pool.MinConns)
	require.Equal(t, 15*time.Second, cfg.DB.Pool.StatementTimeout)

	t.Setenv("LAWFIRM_PG_MAX_CONNS", "25")
	t.Setenv("LAWFIRM_PG_MIN_CONNS", "5")
	t.Setenv("LAWFIRM_PG_MAX_CONN_IDLE_TIME", "2m")
	cfg, err = LoadAPIFromEnv()
	require.NoError(t, err)
	require.Equal(t, int32(25), cfg.DB.Pool.MaxConns)
	require.Equal(t, int32(5), cfg.DB.Pool.MinConns)
	require.Equal(t, 2*time.Minute, cfg.DB.Pool.MaxConnIdleTime)

	t.Setenv("LAWFIRM_PG_MIN_CONNS", "30")
	_, err = LoadAPIFromEnv()
	require.ErrorContains(t, err, "LAWFIRM_PG_MIN_CONNS")

	t.Setenv("LAWFIRM_PG_MIN_CONNS", "")
	t.Setenv("LAWFIRM_PG_MAX_CONNS", "many")
	_, err = LoadAPIFromEnv()
	require.ErrorContains(t, err, "invalid LAWFIRM_PG_MAX_CONNS")
}

func TestLoadAPIFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "lawfirm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9000"
admin_token: from-file
log_level: debug
rand_seed: 7
db:
  dialect: memory
nats:
  url: nats://localhost:4222
`), 0o600))
	t.Setenv("LAWFIRM_CONFIG_PATH", path)
	t.Setenv("PORT", "7070")

	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.Addr, "PORT overrides the file")
	require.Equal(t, "from-file", cfg.AdminToken)
	require.Equal(t, DialectMemory, cfg.DB.Dialect)
	require.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	require.Equal(t, "lawfirm.events", cfg.NATS.Subject)
	require.EqualValues(t, 7, cfg.RandSeed)
	require.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadAPIBadSeed(t *testing.T) {
	clearEnv(t)
	t.Setenv("LAWFIRM_DB_DIALECT", "memory")
	t.Setenv("LAWFIRM_RAND_SEED", "abc")
	_, err := LoadAPIFromEnv()
	require.ErrorContains(t, err, "LAWFIRM_RAND_SEED")
}

func TestLoadWorker(t *testing.T) {
	clearEnv(t)
	t.Setenv("LAWFIRM_DB_DIALECT", "memory")
	cfg, err := LoadWorkerFromEnv()
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.AdvanceEvery)
	require.False(t, cfg.RunOnce)

	t.Setenv("LAWFIRM_AUTO_ADVANCE_EVERY", "2m")
	t.Setenv("LAWFIRM_WORKER_RUN_ONCE", "true")
	cfg, err = LoadWorkerFromEnv()
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, cfg.AdvanceEvery)
	require.True(t, cfg.RunOnce)
}

func TestLoadCLI(t *testing.T) {
	clearEnv(t)
	require.Equal(t, "http://localhost:8080", LoadCLIFromEnv().APIBaseURL)
	t.Setenv("LAWFIRM_API_BASE_URL", "https://firm.example.com/")
	require.Equal(t, "https://firm.example.com", LoadCLIFromEnv().APIBaseURL)
}
