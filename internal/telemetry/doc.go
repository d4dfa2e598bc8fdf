// Package telemetry обеспечивает наблюдаемость деплоя.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики попыток деплоя и переходов состояний
//   - push.go — отправка метрик в Pushgateway для разовых команд
//
// В режиме watch метрики отдаются на /metrics.
package telemetry
