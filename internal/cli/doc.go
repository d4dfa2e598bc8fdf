// Package cli реализует команды redeploy.
//
// # Команды
//
//   - deploy   — деплой самого нового коммита ветки с автоматическим откатом
//   - rollback — возврат на последнюю рабочую ревизию
//   - watch    — деплой по расписанию при изменении ветки, /healthz и /metrics
//   - status   — текущая ревизия, known-good и процессы pm2
//   - events   — поток итогов деплоев из RabbitMQ
//   - history  — история попыток из PostgreSQL (DB_URL)
//
// Параметры сервиса берутся из YAML-файла (--config) и флагов; флаги
// перекрывают файл. Инфраструктура настраивается переменными окружения
// (см. Settings): DB_URL, RABBITMQ_URL, PUSHGATEWAY_URL, PM2_BIN, REDEPLOY_PORT.
//
// # Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Warn/Error) и логи — в stderr.
// Это позволяет использовать pipe: redeploy status --json | jq .
//
// # Коды выхода
//
// 0 — успех, 1 — ошибка, 2 — деплой не удался, но откат прошёл (см. ExitCode).
//
// Каждая команда создаётся фабричной функцией (NewDeployCmd и т.д.),
// принимающей outputFn — замыкание для ленивого создания Output после
// парсинга PersistentFlags.
package cli
