package persistence

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/spec-kit/meter-service/internal/config"
)

// Postgres owns the database handle and the fixed-size connection pool built on it.
type Postgres struct {
	DB   *sql.DB
	Pool *ConnPool
}

// OpenPostgres connects to Postgres, optionally applies migrations and then
// checks out the configured number of pool connections.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	// Leave one spare connection for migrations and readiness checks of db itself.
	db.SetMaxOpenConns(cfg.PoolSize + 1)
	db.SetMaxIdleConns(cfg.PoolSize + 1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	if cfg.RunMigrations {
		if err := RunMigrations(ctx, db, logger); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	pool, err := NewConnPool(ctx, cfg.PoolSize, SQLOpener(db))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("connection pool ready", zap.Int("capacity", cfg.PoolSize))

	return &Postgres{DB: db, Pool: pool}, nil
}

// Close releases pool resources.
func (p *Postgres) Close() {
	if p == nil {
		return
	}
	if p.Pool != nil {
		_ = p.Pool.Close()
	}
	if p.DB != nil {
		_ = p.DB.Close()
	}
}

// Ping verifies a pooled connection is usable.
func (p *Postgres) Ping(ctx context.Context) error {
	if p == nil {
		return fmt.Errorf("postgres not configured")
	}
	return p.Pool.Ping(ctx)
}

// PoolHandle returns the connection pool.
func (p *Postgres) PoolHandle() *ConnPool {
	if p == nil {
		return nil
	}
	return p.Pool
}
