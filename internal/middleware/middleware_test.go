package middleware

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/civic-issues/internal/auth"
	"github.com/sakif/civic-issues/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

type countingRecorder struct{ n int }

func (c *countingRecorder) RateLimited(string) { c.n++ }

func post(h http.Handler, remoteAddr string, actor *model.Actor) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/report", nil)
	req.RemoteAddr = remoteAddr
	if actor != nil {
		req = req.WithContext(auth.WithActor(req.Context(), actor))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_BurstThenReject(t *testing.T) {
	rec := &countingRecorder{}
	rl := NewRateLimiter(1, 2, rec, discardLogger())
	h := rl.Handler(okHandler)

	assert.Equal(t, http.StatusOK, post(h, "10.0.0.1:1234", nil).Code)
	assert.Equal(t, http.StatusOK, post(h, "10.0.0.1:5678", nil).Code)

	res := post(h, "10.0.0.1:9999", nil)
	assert.Equal(t, http.StatusTooManyRequests, res.Code)
	assert.Equal(t, "60", res.Header().Get("Retry-After"))
	assert.Contains(t, res.Body.String(), `"success":false`)
	assert.Equal(t, 1, rec.n)
}

// brokenWriter accepts headers but fails every body write, like a client
// that hung up.
type brokenWriter struct {
	*httptest.ResponseRecorder
}

func (brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

func TestRateLimiter_RejectionWriteFailureIsLogged(t *testing.T) {
	var logs bytes.Buffer
	rl := NewRateLimiter(1, 1, nil, slog.New(slog.NewTextHandler(&logs, nil)))
	h := rl.Handler(okHandler)

	assert.Equal(t, http.StatusOK, post(h, "10.0.0.1:1234", nil).Code)

	req := httptest.NewRequest(http.MethodPost, "/report", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w := brokenWriter{httptest.NewRecorder()}
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, logs.String(), "failed to encode JSON response")
	assert.Contains(t, logs.String(), "connection reset by peer")
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil, discardLogger())
	h := rl.Handler(okHandler)

	asha := &model.Actor{UserID: "asha"}
	ravi := &model.Actor{UserID: "ravi"}

	// same IP, different users
	assert.Equal(t, http.StatusOK, post(h, "10.0.0.1:1", asha).Code)
	assert.Equal(t, http.StatusOK, post(h, "10.0.0.1:1", ravi).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(h, "10.0.0.1:1", asha).Code)

	// anonymous callers keyed by IP
	assert.Equal(t, http.StatusOK, post(h, "10.0.0.2:1", nil).Code)
	assert.Equal(t, http.StatusOK, post(h, "10.0.0.3:1", nil).Code)
	assert.Equal(t, 4, rl.Len())
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(60, 1, nil, discardLogger())
	rl.now = func() time.Time { return now }
	h := rl.Handler(okHandler)

	assert.Equal(t, http.StatusOK, post(h, "10.0.0.1:1", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(h, "10.0.0.1:1", nil).Code)

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, post(h, "10.0.0.1:1", nil).Code)
}

func TestRateLimiter_CleanupForgetsIdleKeys(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(10, 5, nil, discardLogger())
	rl.now = func() time.Time { return now }
	h := rl.Handler(okHandler)

	post(h, "10.0.0.1:1", nil)
	now = now.Add(30 * time.Minute)
	post(h, "10.0.0.2:1", nil)

	assert.Equal(t, 1, rl.Cleanup(10*time.Minute))
	assert.Equal(t, 1, rl.Len())
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/issue/x", nil)
	req = req.WithContext(auth.WithActor(req.Context(), &model.Actor{UserID: "asha"}))
	h.ServeHTTP(httptest.NewRecorder(), req)

	line := buf.String()
	require.NotEmpty(t, line)
	assert.True(t, strings.Contains(line, "level=WARN"), line)
	assert.Contains(t, line, "status=404")
	assert.Contains(t, line, "bytes=7")
	assert.Contains(t, line, "userID=asha")
}
