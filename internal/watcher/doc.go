// Package watcher запускает деплой по расписанию и по запросу.
//
// На каждом тике cron Watcher читает вершину удалённой ветки (без fetch)
// и сравнивает её с последней рабочей ревизией сервиса. Если они
// расходятся, вызывается Deployer. Пока идёт деплой, следующие тики
// пропускаются. Вершина, деплой которой закончился откатом, повторно не
// деплоится, пока ветка не сдвинется или не придёт POST /trigger.
//
// Структура:
//   - watcher.go — Check, Tick, Run
//   - cron.go    — разбор расписания и адаптер логгера cron
//   - server.go  — /healthz, /status, /trigger и /metrics для watch-режима
//   - middleware.go — логирование запросов и восстановление после паники
//
// Использование:
//
//	w, err := watcher.New(watcher.Config{
//	    Deployer: orch,
//	    Options:  opts,
//	    Schedule: "*/5 * * * *",
//	    Logger:   logger,
//	})
//	go srv.ListenAndServe()
//	err = w.Run(ctx)
package watcher
