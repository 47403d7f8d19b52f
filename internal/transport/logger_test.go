package transport_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/transport"
)

func TestLogFormatter(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		wantCode  int
		wantLevel string
		wantMsg   string
	}{
		{
			name:      "ok",
			handler:   func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("OK")) },
			wantCode:  http.StatusOK,
			wantLevel: "info",
			wantMsg:   "HTTP request",
		},
		{
			name: "server_error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusBadGateway)
			},
			wantCode:  http.StatusBadGateway,
			wantLevel: "error",
			wantMsg:   "HTTP request",
		},
		{
			name:      "panic",
			handler:   func(w http.ResponseWriter, r *http.Request) { panic("boom") },
			wantCode:  http.StatusInternalServerError,
			wantLevel: "error",
			wantMsg:   "HTTP handler panicked",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			r := chi.NewRouter()
			r.Use(middleware.RequestID)
			r.Use(middleware.RequestLogger(transport.NewLogFormatter(zerolog.New(&buf))))
			r.Use(middleware.Recoverer)
			r.Get("/items", tc.handler)

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/items", nil))
			assert.Equal(t, tc.wantCode, rr.Code)

			// первая строка лога: итог запроса или паника
			line, err := buf.ReadBytes('\n')
			require.NoError(t, err)
			var entry map[string]interface{}
			require.NoError(t, json.Unmarshal(line, &entry))

			assert.Equal(t, tc.wantLevel, entry["level"])
			assert.Equal(t, tc.wantMsg, entry["message"])
			assert.Equal(t, http.MethodGet, entry["method"])
			assert.Equal(t, "/items", entry["path"])
			assert.NotEmpty(t, entry["request_id"])
			if tc.name != "panic" {
				assert.EqualValues(t, tc.wantCode, entry["status"])
			}
		})
	}
}
