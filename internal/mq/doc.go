// Package mq публикует события деплоя в RabbitMQ.
//
// Структура:
//   - connection.go — соединение с каналом в режиме publisher confirms (reconnect для watch)
//   - topology.go   — обменник redeploy.events, очередь итогов, routing keys
//   - publisher.go  — публикация итогов попыток деплоя
//   - consumer.go   — чтение событий (команда events)
//
// Routing keys:
//   - deploy.succeeded   — новая ревизия развёрнута
//   - deploy.rolled_back — деплой упал, откат прошёл
//   - deploy.failed      — деплой или откат не удались
package mq
