package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrInvalidTransition — переход не разрешён машиной состояний.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotConfigured — не задан обязательный компонент (executor или супервизор).
	ErrNotConfigured = errors.New("orchestrator not configured")
)
