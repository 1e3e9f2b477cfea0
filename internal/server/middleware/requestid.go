package middleware

import (
	"net/http"

	"github.com/imMewtable/wakatime-bot/internal/logging"
)

// RequestIDHeader carries the correlation ID in both directions.
const RequestIDHeader = "X-Request-ID"

// GetOrGenerateRequestID returns the client's X-Request-ID or a new one.
func GetOrGenerateRequestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" {
		return id
	}
	return logging.GenerateRequestID()
}

// RequestID stores the request ID in the context and echoes it back.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetOrGenerateRequestID(r)
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}
