package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/redeploy/internal/domain"
	"github.com/shaiso/redeploy/internal/history"
	"github.com/shaiso/redeploy/internal/lock"
	"github.com/shaiso/redeploy/internal/mq"
	"github.com/shaiso/redeploy/internal/orchestrator"
	"github.com/shaiso/redeploy/internal/shell"
	"github.com/shaiso/redeploy/internal/supervisor"
	"github.com/shaiso/redeploy/internal/telemetry"
)

// pushTimeout ограничивает отправку метрик в Pushgateway.
const pushTimeout = 10 * time.Second

// Settings — инфраструктурные параметры из переменных окружения.
type Settings struct {
	// DBURL — PostgreSQL для advisory lock между хостами (DB_URL).
	DBURL string

	// RabbitMQURL — брокер для событий (RABBITMQ_URL).
	RabbitMQURL string

	// PushgatewayURL — Pushgateway для метрик разовых команд (PUSHGATEWAY_URL).
	PushgatewayURL string

	// PM2Bin — путь к pm2 (PM2_BIN).
	PM2Bin string

	// Port — порт HTTP-сервера watch (REDEPLOY_PORT).
	Port string
}

// SettingsFromEnv читает Settings из окружения процесса.
func SettingsFromEnv() Settings {
	return Settings{
		DBURL:          os.Getenv("DB_URL"),
		RabbitMQURL:    os.Getenv("RABBITMQ_URL"),
		PushgatewayURL: os.Getenv("PUSHGATEWAY_URL"),
		PM2Bin:         os.Getenv("PM2_BIN"),
		Port:           os.Getenv("REDEPLOY_PORT"),
	}
}

// Runtime — собранные зависимости одной команды.
type Runtime struct {
	Settings  Settings
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
	Executor  *shell.Executor
	Processes *supervisor.PM2

	pool      *pgxpool.Pool
	history   *history.Store
	conn      *mq.Connection
	publisher *mq.Publisher
}

// RuntimeConfig — конфигурация Runtime.
type RuntimeConfig struct {
	Settings Settings

	// Reconnect — восстанавливать соединение с RabbitMQ (для watch).
	Reconnect bool

	// Logger
	Logger *slog.Logger
}

// NewRuntime собирает зависимости.
//
// Ошибка подключения к PostgreSQL фатальна: без lock'а деплоить нельзя.
// RabbitMQ опционален: при ошибке события просто не публикуются.
func NewRuntime(ctx context.Context, cfg RuntimeConfig) (*Runtime, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	executor := shell.New(shell.Config{Logger: logger})

	rt := &Runtime{
		Settings: cfg.Settings,
		Logger:   logger,
		Metrics:  telemetry.NewMetrics(),
		Executor: executor,
		Processes: supervisor.New(supervisor.Config{
			Bin:      cfg.Settings.PM2Bin,
			Executor: executor,
			Logger:   logger,
		}),
	}

	if cfg.Settings.DBURL != "" {
		pool, err := lock.NewPool(ctx, cfg.Settings.DBURL)
		if err != nil {
			return nil, err
		}
		rt.pool = pool
		logger.Debug("connected to database")

		store := history.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Warn("deployment history disabled", "error", err)
		} else {
			rt.history = store
		}
	}

	if cfg.Settings.RabbitMQURL != "" {
		conn, err := mq.NewConnection(mq.ConnectionConfig{
			URL:       cfg.Settings.RabbitMQURL,
			Reconnect: cfg.Reconnect,
			Logger:    logger,
		})
		if err != nil {
			logger.Warn("rabbitmq unavailable, events disabled", "error", err)
		} else if err := mq.SetupTopology(ctx, conn); err != nil {
			logger.Warn("failed to setup rabbitmq topology, events disabled", "error", err)
			conn.Close()
		} else {
			rt.conn = conn
			rt.publisher = mq.NewPublisher(conn, logger)
		}
	}

	return rt, nil
}

// Orchestrator создаёт оркестратор на зависимостях Runtime.
func (r *Runtime) Orchestrator() *orchestrator.Orchestrator {
	cfg := orchestrator.Config{
		Executor:  r.Executor,
		Processes: r.Processes,
		Metrics:   r.Metrics,
		Logger:    r.Logger,
	}

	var sinks outcomeSinks
	if r.publisher != nil {
		sinks = append(sinks, r.publisher)
	}
	if r.history != nil {
		sinks = append(sinks, r.history)
	}
	if len(sinks) > 0 {
		cfg.Publisher = sinks
	}
	return orchestrator.New(cfg)
}

// History возвращает хранилище истории или nil без DB_URL.
func (r *Runtime) History() *history.Store {
	return r.history
}

// outcomeSinks рассылает итог всем получателям: брокеру и истории.
type outcomeSinks []orchestrator.Publisher

func (s outcomeSinks) PublishOutcome(ctx context.Context, outcome domain.Outcome) error {
	var errs []error
	for _, p := range s {
		if err := p.PublishOutcome(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Lock берёт lock директории проекта и, при заданном DB_URL, lock сервиса.
func (r *Runtime) Lock(ctx context.Context, opts domain.Options, wait time.Duration) (lock.Unlock, error) {
	locks := []lock.Keyed{{
		Locker: lock.NewFileLocker(lock.FileConfig{Wait: wait, Logger: r.Logger}),
		Key:    opts.Dir(),
	}}
	if r.pool != nil {
		locks = append(locks, lock.Keyed{
			Locker: lock.NewPGLocker(r.pool, r.Logger),
			Key:    opts.Name(),
		})
	}
	return lock.AcquireAll(ctx, locks...)
}

// Push отправляет метрики в Pushgateway, если он настроен.
func (r *Runtime) Push(ctx context.Context, name string) {
	if r.Settings.PushgatewayURL == "" {
		return
	}

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()

	if err := telemetry.Push(pushCtx, r.Settings.PushgatewayURL, name, r.Metrics); err != nil {
		r.Logger.Warn("failed to push metrics", "error", err)
	}
}

// Connection возвращает соединение с RabbitMQ или nil.
func (r *Runtime) Connection() *mq.Connection {
	return r.conn
}

// Close освобождает соединения.
func (r *Runtime) Close() error {
	var errs []error
	if r.conn != nil {
		errs = append(errs, r.conn.Close())
	}
	if r.pool != nil {
		r.pool.Close()
	}
	return errors.Join(errs...)
}
