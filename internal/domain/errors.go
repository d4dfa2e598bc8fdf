package domain

import (
	"errors"
	"fmt"
)

// Общие ошибки деплоя.
var (
	// ErrNoKnownGood — не удалось определить последнюю рабочую ревизию для отката.
	ErrNoKnownGood = errors.New("no known-good revision")

	// ErrSequenceActive — экземпляр оркестратора уже выполняет deploy или rollback.
	ErrSequenceActive = errors.New("deployment sequence already active")
)

// InvalidOptionsError — ошибка валидации Options при создании.
// Никогда не ретраится и не приводит к откату.
type InvalidOptionsError struct {
	Field  string
	Reason string
	Err    error
}

func (e *InvalidOptionsError) Error() string {
	msg := fmt.Sprintf("invalid options: %s", e.Field)
	if e.Reason != "" {
		msg += " " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidOptionsError) Unwrap() error { return e.Err }

// SynchronizationError — fetch или переключение ветки завершились ошибкой.
type SynchronizationError struct {
	Branch string
	Err    error
}

func (e *SynchronizationError) Error() string {
	return fmt.Sprintf("synchronize branch %q: %v", e.Branch, e.Err)
}

func (e *SynchronizationError) Unwrap() error { return e.Err }

// NoCommitsError — у ветки нет достижимой истории.
type NoCommitsError struct {
	Branch string
}

func (e *NoCommitsError) Error() string {
	return fmt.Sprintf("no commits found on branch %q", e.Branch)
}

// CheckoutError — ревизия не найдена или checkout не удался.
type CheckoutError struct {
	Revision string
	Err      error
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("checkout %q: %v", e.Revision, e.Err)
}

func (e *CheckoutError) Unwrap() error { return e.Err }

// RollbackError — ошибка во время отката. Всегда фатальна.
//
// Err — что сломалось в самом откате, Cause — исходная ошибка деплоя
// (nil, если rollback вызван напрямую).
type RollbackError struct {
	Err   error
	Cause error
}

func (e *RollbackError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rollback failed: %v (deploy error: %v)", e.Err, e.Cause)
	}
	return fmt.Sprintf("rollback failed: %v", e.Err)
}

// Unwrap даёт errors.Is/As доступ и к ошибке отката, и к исходной причине.
func (e *RollbackError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// StepError привязывает ошибку к состоянию, на котором она произошла.
type StepError struct {
	State State
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.State.Step(), e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// FailedState возвращает состояние, на котором упал шаг, или пустую строку.
func FailedState(err error) State {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.State
	}
	return ""
}
