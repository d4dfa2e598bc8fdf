// Package lock сериализует попытки деплоя.
//
// FileLocker — lock директории проекта между процессами одного хоста (gofslock).
// PGLocker — lock сервиса между хостами (advisory lock PostgreSQL), включается
// при заданном DB_URL.
package lock

import (
	"context"
	"errors"
)

// ErrLocked — lock уже удерживается другим деплоем.
var ErrLocked = errors.New("deployment lock is held")

// Unlock освобождает lock.
type Unlock func() error

// Locker берёт lock по ключу (директория или имя сервиса).
type Locker interface {
	Acquire(ctx context.Context, key string) (Unlock, error)
}

// Keyed — Locker с заранее выбранным ключом.
type Keyed struct {
	Locker Locker
	Key    string
}

// AcquireAll берёт lock'и по порядку. Если какой-то не удался, уже взятые
// освобождаются в обратном порядке. Возвращённый Unlock освобождает все.
func AcquireAll(ctx context.Context, locks ...Keyed) (Unlock, error) {
	var held []Unlock

	release := func() error {
		var errs []error
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i](); err != nil {
				errs = append(errs, err)
			}
		}
		held = nil
		return errors.Join(errs...)
	}

	for _, l := range locks {
		if l.Locker == nil {
			continue
		}
		unlock, err := l.Locker.Acquire(ctx, l.Key)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, unlock)
	}

	return release, nil
}
