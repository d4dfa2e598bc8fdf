package domain

import (
	"time"

	"github.com/google/uuid"
)

// Commit — ревизия в истории ветки.
type Commit struct {
	// ID — полный hash коммита.
	ID string `json:"id"`

	// Message — сообщение коммита.
	Message string `json:"message"`

	// Author — имя автора.
	Author string `json:"author,omitempty"`

	// When — время коммита.
	When time.Time `json:"when,omitempty"`
}

// ShortID возвращает первые 7 символов hash.
func (c Commit) ShortID() string {
	if len(c.ID) <= 7 {
		return c.ID
	}
	return c.ID[:7]
}

// ProcessInfo — информация о запущенном экземпляре процесса от супервизора.
type ProcessInfo struct {
	Name   string `json:"name"`
	ID     int    `json:"pm_id"`
	PID    int    `json:"pid"`
	Status string `json:"status"`
}

// Result — результат успешной попытки деплоя или отката.
//
// Если основной деплой упал, а откат прошёл, RolledBack=true,
// а Cause содержит исходную ошибку.
type Result struct {
	// AttemptID — идентификатор попытки (для корреляции логов и событий).
	AttemptID uuid.UUID `json:"attempt_id"`

	// Name — имя сервиса в супервизоре.
	Name string `json:"name"`

	// Branch — ветка деплоя.
	Branch string `json:"branch"`

	// Commit — ревизия, которая сейчас запущена.
	Commit Commit `json:"commit"`

	// RolledBack — true, если результат получен через откат.
	RolledBack bool `json:"rolled_back"`

	// Cause — ошибка, из-за которой был выполнен откат.
	Cause error `json:"-"`

	// Instances — запрошенное количество экземпляров.
	Instances int `json:"instances"`

	// Processes — экземпляры по данным супервизора (best-effort).
	Processes []ProcessInfo `json:"processes,omitempty"`

	// Transitions — пройденные переходы машины состояний.
	Transitions []Transition `json:"transitions,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration возвращает продолжительность попытки.
func (r *Result) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// CauseMessage возвращает текст Cause или пустую строку.
func (r *Result) CauseMessage() string {
	if r.Cause == nil {
		return ""
	}
	return r.Cause.Error()
}

// OutcomeStatus — итог попытки деплоя для событий и метрик.
type OutcomeStatus string

const (
	// OutcomeSucceeded — новая ревизия развёрнута.
	OutcomeSucceeded OutcomeStatus = "succeeded"

	// OutcomeRolledBack — деплой упал, откат прошёл успешно.
	OutcomeRolledBack OutcomeStatus = "rolled_back"

	// OutcomeFailed — деплой и откат (или откат сам по себе) не удались.
	OutcomeFailed OutcomeStatus = "failed"
)

// Outcome — итог попытки, публикуемый наружу.
type Outcome struct {
	AttemptID uuid.UUID     `json:"attempt_id"`
	Name      string        `json:"name"`
	Branch    string        `json:"branch"`
	Status    OutcomeStatus `json:"status"`
	CommitID  string        `json:"commit_id,omitempty"`
	Error     string        `json:"error,omitempty"`
	Cause     string        `json:"cause,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}
