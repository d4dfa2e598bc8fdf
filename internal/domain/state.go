package domain

import "strings"

// State — состояние машины деплоя.
//
// Основной путь:
//
//	IDLE → SYNCING → INSTALLING → STOPPING → STARTING → SUCCEEDED
//
// При ошибке любого шага:
//
//	FAILED → ROLLING_BACK → CHECKOUT_LAST → INSTALLING → STOPPING → STARTING → SUCCEEDED
//	                                                                          ↘ ROLLBACK_FAILED
type State string

const (
	StateIdle           State = "IDLE"
	StateSyncing        State = "SYNCING"
	StateInstalling     State = "INSTALLING"
	StateStopping       State = "STOPPING"
	StateStarting       State = "STARTING"
	StateSucceeded      State = "SUCCEEDED"
	StateFailed         State = "FAILED"
	StateRollingBack    State = "ROLLING_BACK"
	StateCheckoutLast   State = "CHECKOUT_LAST"
	StateRollbackFailed State = "ROLLBACK_FAILED"
)

// IsTerminal возвращает true для финальных состояний.
//
// FAILED не финальное: обычно за ним следует откат. Попытку, завершённую
// в FAILED без отката, отмечает orchestrator (Sequence.Ended).
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateRollbackFailed:
		return true
	default:
		return false
	}
}

// Step возвращает имя шага в нижнем регистре (для логов и меток метрик).
func (s State) Step() string {
	return strings.ToLower(string(s))
}

func (s State) String() string {
	return string(s)
}

// Transition — один переход машины состояний.
type Transition struct {
	From State `json:"from"`
	To   State `json:"to"`
}
