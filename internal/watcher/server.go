package watcher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultPort — порт HTTP-сервера watch-режима по умолчанию.
const DefaultPort = "8090"

// errorResponse — тело ответа с ошибкой.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler возвращает маршруты watch-режима:
//
//	GET  /healthz  — liveness
//	GET  /status   — Status в JSON
//	POST /trigger  — внеочередная проверка (например, из git webhook)
//	GET  /metrics  — Prometheus
func (w *Watcher) Handler(metrics http.Handler) http.Handler {
	started := w.now()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		fmt.Fprintf(rw, "ok %s", w.now().Sub(started).Round(time.Second))
	})

	mux.HandleFunc("GET /status", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, w.Status())
	})

	mux.HandleFunc("POST /trigger", func(rw http.ResponseWriter, _ *http.Request) {
		if !w.Trigger() {
			writeError(rw, http.StatusConflict, "ALREADY_QUEUED", "a check is already queued")
			return
		}
		writeJSON(rw, http.StatusAccepted, map[string]bool{"queued": true})
	})

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	return Chain(Recovery(w.logger), Logging(w.logger))(mux)
}

// NewServer создаёт HTTP-сервер на порту port (по умолчанию DefaultPort).
func NewServer(port string, handler http.Handler, logger *slog.Logger) *http.Server {
	if port == "" {
		port = DefaultPort
	}
	return &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorDetail{Code: code, Message: message}})
}
