package cli

import (
	"errors"
	"fmt"
)

var (
	// ErrRolledBack — деплой не удался, сервис возвращён на рабочую ревизию.
	ErrRolledBack = errors.New("deploy rolled back")

	// ErrEventsDisabled — команда events без RABBITMQ_URL.
	ErrEventsDisabled = errors.New("RABBITMQ_URL is not set")

	// ErrHistoryDisabled — команда history без DB_URL.
	ErrHistoryDisabled = errors.New("DB_URL is not set")
)

// Коды выхода redeploy.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitRolledBack = 2
)

// ExitCode возвращает код выхода процесса для ошибки команды.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrRolledBack):
		return ExitRolledBack
	default:
		return ExitFailure
	}
}

func invalidEnvFlag(v string) error {
	return fmt.Errorf("invalid --env %q: expected KEY=VALUE", v)
}
