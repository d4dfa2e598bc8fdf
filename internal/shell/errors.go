package shell

import (
	"fmt"
	"strings"
)

// ExecutionError — команда завершилась с ненулевым кодом.
//
// Единственная форма ошибки, которую пробрасывают шаги деплоя.
// ExitCode = -1, если процесс не удалось запустить или он был убит.
type ExecutionError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + truncate(stderr, 500)
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
