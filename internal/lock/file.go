package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/danjacques/gofslock/fslock"
)

// FileName — имя lock-файла внутри .git проекта.
const FileName = "redeploy.lock"

const defaultPollInterval = 250 * time.Millisecond

// FileLocker сериализует деплои одной директории между процессами.
//
// Lock-файл лежит в <dir>/.git/redeploy.lock (или <dir>/.redeploy.lock,
// если .git не директория), поэтому в рабочее дерево не попадает.
type FileLocker struct {
	wait         time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// FileConfig — конфигурация FileLocker.
type FileConfig struct {
	// Wait — сколько ждать освобождения lock'а (0 — не ждать).
	Wait time.Duration

	// PollInterval — интервал повторных попыток при ожидании.
	PollInterval time.Duration

	// Logger
	Logger *slog.Logger
}

// NewFileLocker создаёт новый FileLocker.
func NewFileLocker(cfg FileConfig) *FileLocker {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &FileLocker{
		wait:         cfg.Wait,
		pollInterval: poll,
		logger:       logger,
	}
}

// Acquire берёт эксклюзивный lock директории dir.
//
// Если lock держит другой процесс и ожидание не настроено (или истекло) → ErrLocked.
func (l *FileLocker) Acquire(ctx context.Context, dir string) (Unlock, error) {
	path := LockPath(dir)

	var (
		handle fslock.Handle
		err    error
	)
	if l.wait > 0 {
		handle, err = fslock.LockBlocking(path, l.blocker(ctx))
	} else {
		handle, err = fslock.Lock(path)
	}
	if err != nil {
		if errors.Is(err, fslock.ErrLockHeld) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	l.logger.Debug("directory lock acquired", "path", path)

	return func() error {
		if err := handle.Unlock(); err != nil {
			return fmt.Errorf("unlock %s: %w", path, err)
		}
		l.logger.Debug("directory lock released", "path", path)
		return nil
	}, nil
}

// blocker ждёт pollInterval между попытками, пока не истечёт wait или ctx.
func (l *FileLocker) blocker(ctx context.Context) fslock.Blocker {
	deadline := time.Now().Add(l.wait)

	return func() error {
		if time.Now().After(deadline) {
			return fslock.ErrLockHeld
		}

		l.logger.Debug("directory lock is held, retrying", "delay", l.pollInterval)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.pollInterval):
			return nil
		}
	}
}

// LockPath возвращает путь lock-файла для директории проекта.
func LockPath(dir string) string {
	gitDir := filepath.Join(dir, ".git")
	if fi, err := os.Stat(gitDir); err == nil && fi.IsDir() {
		return filepath.Join(gitDir, FileName)
	}
	return filepath.Join(dir, "."+FileName)
}
