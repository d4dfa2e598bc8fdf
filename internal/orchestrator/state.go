package orchestrator

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/redeploy/internal/domain"
	"github.com/shaiso/redeploy/internal/telemetry"
)

// transitions — допустимые переходы машины состояний.
//
// INSTALLING, STOPPING и STARTING общие для основного пути и отката:
// в основном пути ошибка ведёт в FAILED, в откате — в ROLLBACK_FAILED.
var transitions = map[domain.State][]domain.State{
	domain.StateIdle:         {domain.StateSyncing, domain.StateRollingBack},
	domain.StateSyncing:      {domain.StateInstalling, domain.StateFailed},
	domain.StateInstalling:   {domain.StateStopping, domain.StateFailed, domain.StateRollbackFailed},
	domain.StateStopping:     {domain.StateStarting, domain.StateFailed, domain.StateRollbackFailed},
	domain.StateStarting:     {domain.StateSucceeded, domain.StateFailed, domain.StateRollbackFailed},
	domain.StateFailed:       {domain.StateRollingBack},
	domain.StateRollingBack:  {domain.StateCheckoutLast},
	domain.StateCheckoutLast: {domain.StateInstalling, domain.StateRollbackFailed},
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to domain.State) bool {
	return slices.Contains(transitions[from], to)
}

// Sequence — состояние одной попытки деплоя в памяти.
//
// Создаётся в начале Deploy или Rollback и живёт до их возврата.
// Каждый переход записывается, логируется и учитывается в метриках.
type Sequence struct {
	// AttemptID — идентификатор попытки.
	AttemptID uuid.UUID

	// Name и Branch — сервис и ветка попытки.
	Name   string
	Branch string

	// StartedAt — время начала попытки.
	StartedAt time.Time

	// KnownGood — цель отката, зафиксированная до синхронизации.
	KnownGood string

	mu          sync.RWMutex
	state       domain.State
	rollingBack bool
	ended       bool
	history     []domain.Transition

	logger  *slog.Logger
	metrics *telemetry.Metrics
}

func newSequence(opts domain.Options, now time.Time, logger *slog.Logger, metrics *telemetry.Metrics) *Sequence {
	id := uuid.New()

	return &Sequence{
		AttemptID: id,
		Name:      opts.Name(),
		Branch:    opts.Branch(),
		StartedAt: now,
		state:     domain.StateIdle,
		logger:    telemetry.WithAttemptID(telemetry.WithService(logger, opts.Name(), opts.Branch()), id.String()),
		metrics:   metrics,
	}
}

// To переводит машину в состояние next.
func (s *Sequence) To(next domain.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return fmt.Errorf("%w: attempt already ended in %s", ErrInvalidTransition, s.state)
	}
	if !CanTransition(s.state, next) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, s.state, next)
	}

	s.history = append(s.history, domain.Transition{From: s.state, To: next})
	if next == domain.StateRollingBack {
		s.rollingBack = true
	}

	s.logger.Info("state transition", "from", s.state, "to", next)
	s.metrics.ObserveTransition(next)

	s.state = next
	return nil
}

// Fail переводит машину в FAILED или ROLLBACK_FAILED, в зависимости от пути.
func (s *Sequence) Fail() error {
	if s.RollingBack() {
		return s.To(domain.StateRollbackFailed)
	}
	return s.To(domain.StateFailed)
}

// State возвращает текущее состояние.
func (s *Sequence) State() domain.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// RollingBack возвращает true после входа в ROLLING_BACK.
func (s *Sequence) RollingBack() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rollingBack
}

// End отмечает попытку завершённой. После End переходы невозможны.
func (s *Sequence) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

// Ended возвращает true после End.
//
// Попытка может закончиться в FAILED без отката (пустая ветка, репозиторий
// не открылся): State().IsTerminal() для неё false, Ended — true.
func (s *Sequence) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended || s.state.IsTerminal()
}

// Transitions возвращает копию пройденных переходов.
func (s *Sequence) Transitions() []domain.Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}

// Logger возвращает логгер попытки (attempt_id, name, branch).
func (s *Sequence) Logger() *slog.Logger {
	return s.logger
}
