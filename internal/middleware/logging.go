// Package middleware contains HTTP middleware shared by every route.
//
// HOW THE WRAPPING WORKS:
// Each middleware takes the next http.Handler and returns a new one. chi
// stacks them in the order they are registered with r.Use, so a request to
// POST /report passes through the access logger before it reaches the rate
// limiter and then the issue handler:
//
//	Logger(RateLimiter(HandleReport))
//	   |        |          |
//	   |        |          +-- writes the 303 redirect
//	   |        +-- may answer 429 itself and never call next
//	   +-- times the whole chain and logs the final status
//
// Work done before next.ServeHTTP sees the request. Work done after it sees
// the response.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/civic-issues/internal/auth"
)

// responseWriter captures the status code and body size for the access log.
//
// http.ResponseWriter has no getter for the status once WriteHeader has run,
// so the wrapper records it on the way through. A handler that never calls
// WriteHeader implicitly sends 200, which is the initial value.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Logger writes one structured line per request. Server errors log at
// error level, client errors at warn.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
			}
			if id := chimw.GetReqID(r.Context()); id != "" {
				attrs = append(attrs, slog.String("requestID", id))
			}
			if actor := auth.ActorFromContext(r.Context()); actor != nil {
				attrs = append(attrs, slog.String("userID", actor.UserID))
			}

			level := slog.LevelInfo
			switch {
			case wrapped.statusCode >= 500:
				level = slog.LevelError
			case wrapped.statusCode >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "request completed", attrs...)
		})
	}
}
