package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// LogFormatter plugs zerolog into chi's middleware.RequestLogger.
type LogFormatter struct {
	Logger zerolog.Logger
}

func NewLogFormatter(logger zerolog.Logger) *LogFormatter {
	return &LogFormatter{Logger: logger}
}

func (f *LogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	logger := f.Logger.With().
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("remote_addr", r.RemoteAddr).
		Logger()
	return &logEntry{logger: logger}
}

type logEntry struct {
	logger zerolog.Logger
}

func (e *logEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	if status == 0 {
		status = http.StatusOK
	}
	event := e.logger.Info()
	if status >= http.StatusInternalServerError {
		event = e.logger.Error()
	}
	event.
		Int("status", status).
		Int("bytes", bytes).
		Dur("duration", elapsed).
		Msg("HTTP request")
}

// Panic вызывается из middleware.Recoverer
func (e *logEntry) Panic(v interface{}, stack []byte) {
	e.logger.Error().
		Interface("panic", v).
		Bytes("stack", stack).
		Msg("HTTP handler panicked")
}
