package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool builds a pgxpool.Pool from cfg, pins every connection's
// search_path to cfg.SchemaName via AfterConnect, and validates
// connectivity before returning.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URI())
	if err != nil {
		return nil, ValidationError{Msg: fmt.Sprintf("parse pool config: %v", err)}
	}

	if cfg.MaxPoolSize > 0 {
		pcfg.MaxConns = cfg.MaxPoolSize
	}
	if cfg.MinPoolSize >= 0 {
		pcfg.MinConns = cfg.MinPoolSize
	}

	schema := cfg.SchemaName
	if schema != "" {
		ident := pgx.Identifier{schema}.Sanitize()
		pcfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("set search_path to %s, public", ident))
			return err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, ConnectionError{Msg: "build connection pool", Err: err}
	}

	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if err := PingPool(ctx, pool, timeout); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingPool verifies a connection can be acquired within timeout.
func PingPool(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return PoolError{Msg: "acquire connection", Err: err}
	}
	conn.Release()
	return nil
}
