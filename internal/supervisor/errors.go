package supervisor

import "errors"

// Ошибки супервизора.
var (
	// ErrProcessNotFound — процесс не зарегистрирован в pm2.
	// Stop трактует её как успех.
	ErrProcessNotFound = errors.New("process not found")

	// ErrInvalidOutput — вывод pm2 не удалось разобрать.
	ErrInvalidOutput = errors.New("invalid pm2 output")
)
