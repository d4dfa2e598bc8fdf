package lock

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool создаёт пул соединений к PostgreSQL и проверяет его ping'ом.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// PGLocker сериализует деплои сервиса между хостами через
// advisory lock PostgreSQL.
//
// Advisory lock сессионный: на время lock'а соединение удерживается
// из пула и возвращается только при Unlock.
type PGLocker struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGLocker создаёт новый PGLocker.
func NewPGLocker(pool *pgxpool.Pool, logger *slog.Logger) *PGLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGLocker{
		pool:   pool,
		logger: logger,
	}
}

// Acquire пытается взять lock сервиса name без ожидания.
func (l *PGLocker) Acquire(ctx context.Context, name string) (Unlock, error) {
	key := AdvisoryKey(name)

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, fmt.Errorf("%w: service %q is being deployed elsewhere", ErrLocked, name)
	}

	l.logger.Debug("advisory lock acquired", "name", name, "key", key)

	return func() error {
		defer conn.Release()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := conn.Exec(ctx, "select pg_advisory_unlock($1)", key); err != nil {
			return fmt.Errorf("advisory unlock: %w", err)
		}
		l.logger.Debug("advisory lock released", "name", name)
		return nil
	}, nil
}

// AdvisoryKey возвращает ключ advisory lock'а для сервиса name.
func AdvisoryKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte("redeploy:" + name))
	return int64(h.Sum64())
}
