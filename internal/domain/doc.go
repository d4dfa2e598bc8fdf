// Package domain содержит модели redeploy.
//
// Включает:
//   - Options — провалидированные параметры деплоя
//   - Commit, ProcessInfo, Result, Outcome — результаты попыток
//   - State — состояния машины деплоя
//   - типизированные ошибки (InvalidOptionsError, CheckoutError, RollbackError, ...)
package domain
