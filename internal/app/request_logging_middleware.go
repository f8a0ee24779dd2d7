package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/agentplatform/logging"
)

func requestLoggingMiddleware(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			logWriter := &statusCapturingWriter{ResponseWriter: w}

			next.ServeHTTP(logWriter, r)

			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", logWriter.statusCode(),
				"bytes", logWriter.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if id := executionIDFromPath(r.URL.Path); id != "" {
				args = append(args, "execution_id", id)
			}

			logger.Info("http.request", args...)
		})
	}
}

type statusCapturingWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusCapturingWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusCapturingWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func (w *statusCapturingWriter) statusCode() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func executionIDFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 5 || parts[0] != "api" || parts[1] != "v1" || parts[2] != "agent" || parts[3] != "execution" {
		return ""
	}
	return parts[4]
}
