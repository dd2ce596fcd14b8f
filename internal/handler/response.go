package handler

// RESPONSE HELPERS:
// Every handler answers in one of three ways:
//   writeJSON(w, status, view)        → a JSON view model (pages, AJAX)
//   redirect(w, r, "/issue/abc")      → 303 See Other after a form POST
//   writeError / writeActionError     → an error mapped from the apperror taxonomy
//
// Page actions never render an error body. They set a flash message and
// redirect, and the next JSON view carries the message under "messages".

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/civic-issues/internal/apperror"
)

// ErrorResponse is the error body for JSON endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // machine-readable type, e.g. "not_found"
	Message string `json:"message"` // human-readable description
	Field   string `json:"field,omitempty"`
}

// ActionResponse is the body returned by AJAX-style actions such as upvote.
type ActionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Upvotes *int   `json:"upvotes,omitempty"`
}

// writeJSON sends data as JSON with the given status code. Headers and
// status must be written before the body.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// headers are already sent, all we can do is log
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps an error to an HTTP status and a machine-readable type.
// errors.Is walks the wrap chain, so a service error like
// fmt.Errorf("adding comment: %w", apperror.NotFound(...)) still maps to 404.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// publicMessage returns the message safe to show to the client. Anything
// that is not an *AppError may carry SQL or file paths and is replaced.
func publicMessage(err error) (msg, field string) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message, appErr.Field
	}
	return "An internal error occurred", ""
}

// writeError sends an ErrorResponse for err.
func writeError(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	msg, field := publicMessage(err)
	writeJSON(w, status, ErrorResponse{Error: kind, Message: msg, Field: field})
}

// writeActionError sends {"success": false, "error": ...} for AJAX actions.
func writeActionError(w http.ResponseWriter, err error) {
	status, _ := statusFor(err)
	msg, _ := publicMessage(err)
	writeJSON(w, status, ActionResponse{Success: false, Error: msg})
}

// redirect answers a form POST with 303 so a browser refresh does not
// resubmit the form.
func redirect(w http.ResponseWriter, r *http.Request, url string) {
	http.Redirect(w, r, url, http.StatusSeeOther)
}

// === Flash messages ===

const flashCookie = "flash"

// Flash is a one-shot message shown on the next view.
type Flash struct {
	Category string `json:"category"` // "success", "error" or "warning"
	Message  string `json:"message"`
}

// setFlash queues a message for the next request. The cookie lives for a
// minute, enough to survive one redirect.
func setFlash(w http.ResponseWriter, category, message string) {
	raw, err := json.Marshal([]Flash{{Category: category, Message: message}})
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    base64.RawURLEncoding.EncodeToString(raw),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlashes returns the pending messages and clears the cookie. It always
// returns a non-nil slice so views encode "messages": [].
func popFlashes(w http.ResponseWriter, r *http.Request) []Flash {
	out := []Flash{}
	c, err := r.Cookie(flashCookie)
	if err != nil || c.Value == "" {
		return out
	}

	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return out
	}
	var msgs []Flash
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return out
	}
	return append(out, msgs...)
}

// failPage turns a service error on a page action into a flash and a
// redirect. Authentication problems go to the login page, missing or
// forbidden resources to the home page, and validation problems back to
// the form at back.
func failPage(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, back string) {
	msg, _ := publicMessage(err)

	switch {
	case errors.Is(err, apperror.ErrUnauthenticated):
		setFlash(w, "error", msg)
		redirect(w, r, "/login")
	case errors.Is(err, apperror.ErrForbidden), errors.Is(err, apperror.ErrNotFound):
		setFlash(w, "error", msg)
		redirect(w, r, "/")
	case errors.Is(err, apperror.ErrValidation), errors.Is(err, apperror.ErrConflict):
		setFlash(w, "error", msg)
		redirect(w, r, back)
	default:
		logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		setFlash(w, "error", "Something went wrong, please try again.")
		redirect(w, r, back)
	}
}
