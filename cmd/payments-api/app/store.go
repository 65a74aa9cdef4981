package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/configs"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/repo"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// Store bundles the order store and audit sink of one driver.
type Store struct {
	Orders usecase.OrderStore
	Audit  usecase.AuditSink
	Exec   repo.Execer // nil for memory
	Ping   func(ctx context.Context) error
	Close  func()
}

// OpenStore connects the configured driver. sealer may be nil.
func OpenStore(ctx context.Context, cfg configs.Config, sealer repo.PayloadSealer) (*Store, error) {
	switch cfg.Store.Driver {
	case "mysql":
		return openMySQL(ctx, cfg, sealer)
	case "postgres":
		return openPostgres(ctx, cfg, sealer)
	case "memory":
		return &Store{
			Orders: repo.NewMemoryOrderRepo(),
			Audit:  repo.NewMemoryAuditRepo(),
			Ping:   func(context.Context) error { return nil },
			Close:  func() {},
		}, nil
	default:
		return nil, fmt.Errorf("store.driver %q not supported", cfg.Store.Driver)
	}
}

func openMySQL(ctx context.Context, cfg configs.Config, sealer repo.PayloadSealer) (*Store, error) {
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		return nil, err
	}
	lifetime := cfg.MySQL.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	db.SetConnMaxLifetime(lifetime)
	db.SetMaxOpenConns(orDefault(cfg.MySQL.MaxOpenConns, 16))
	db.SetMaxIdleConns(orDefault(cfg.MySQL.MaxIdleConns, 16))

	// init context
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql ping: %w", err)
	}

	return &Store{
		Orders: repo.NewMySQLOrderRepo(db),
		Audit:  repo.NewMySQLAuditRepo(db, sealer),
		Exec: func(ctx context.Context, stmt string) error {
			_, err := db.ExecContext(ctx, stmt)
			return err
		},
		Ping:  db.PingContext,
		Close: func() { _ = db.Close() },
	}, nil
}

func openPostgres(ctx context.Context, cfg configs.Config, sealer repo.PayloadSealer) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	if cfg.Postgres.MaxConns > 0 {
		pcfg.MaxConns = cfg.Postgres.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	return &Store{
		Orders: repo.NewPostgresOrderRepo(pool),
		Audit:  repo.NewPostgresAuditRepo(pool, sealer),
		Exec: func(ctx context.Context, stmt string) error {
			_, err := pool.Exec(ctx, stmt)
			return err
		},
		Ping:  pool.Ping,
		Close: pool.Close,
	}, nil
}

func orDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
