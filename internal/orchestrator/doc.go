// Package orchestrator управляет деплоем и откатом сервиса.
//
// Orchestrator отвечает за:
//   - Фиксацию последней рабочей ревизии до синхронизации
//   - Синхронизацию ветки и checkout самого нового коммита
//   - Установку зависимостей, остановку и запуск сервиса
//   - Автоматический откат на рабочую ревизию при ошибке любого шага
//   - Публикацию итога попытки (метрики, события)
//
// Основной путь:
//
//	IDLE → SYNCING → INSTALLING → STOPPING → STARTING → SUCCEEDED
//
// Откат:
//
//	FAILED → ROLLING_BACK → CHECKOUT_LAST → INSTALLING → STOPPING → STARTING → SUCCEEDED | ROLLBACK_FAILED
//
// Ошибка в откате фатальна: второго уровня восстановления нет.
//
// Начатый шаг не прерывается отменой ctx. Отмена замечается перед следующим
// шагом основного пути и запускает откат, которому отведён свой бюджет
// (Config.RollbackTimeout).
package orchestrator
