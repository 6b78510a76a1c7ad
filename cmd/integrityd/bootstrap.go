package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/audit"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/config"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/emergency"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/store"
)

// runtime is the process-wide wiring shared by every subcommand.
type runtime struct {
	cfg     *config.Config
	policy  *config.Policy
	db      *sql.DB
	audit   *store.AuditStore
	log     *audit.Log
	states  emergency.StateStore
	closers []func() error
}

func setupLogging(cfg *config.Config, w io.Writer) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// openDatabase connects to Postgres when DATABASE_URL is set and otherwise
// opens the lite-mode SQLite file under DATA_DIR.
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, store.Dialect, error) {
	if !cfg.LiteMode() {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, "", fmt.Errorf("postgres ping failed: %w", err)
		}
		return db, store.DialectPostgres, nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, "", fmt.Errorf("failed to create data dir: %w", err)
	}
	path := filepath.Join(cfg.DataDir, "integrity.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	slog.Info("lite mode: using sqlite", "path", path)
	return db, store.DialectSQLite, nil
}

func bootstrap(ctx context.Context, cfg *config.Config) (*runtime, error) {
	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, policy: policy.WithOperators(cfg.OperatorIDs)}

	db, dialect, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.db = db
	rt.closers = append(rt.closers, db.Close)

	backend := store.NewSQLBackend(db, dialect)
	if err := backend.Init(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	rt.audit = store.NewAuditStore(store.WithBackend(backend))
	if err := rt.audit.Restore(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	rt.log = audit.NewLog(rt.audit)

	if cfg.RedisAddr != "" {
		rs := emergency.NewRedisStateStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			rt.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		rt.states = rs
		rt.closers = append(rt.closers, rs.Close)
	} else {
		rt.states = emergency.NewMemoryStateStore()
	}
	if _, err := emergency.SeedFromAudit(ctx, rt.states, rt.log); err != nil {
		rt.Close()
		return nil, fmt.Errorf("restore kill switch state: %w", err)
	}

	slog.Info("integrity runtime ready",
		"lite_mode", cfg.LiteMode(),
		"audit_entries", rt.audit.Size(),
		"operators", strings.Join(rt.policy.Operators.IDs, ","),
		"shared_kill_switch", cfg.RedisAddr != "",
	)
	return rt, nil
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
	rt.closers = nil
}
