package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/civic-issues/internal/apperror"
	"github.com/sakif/civic-issues/internal/model"
)

// contextKey is private so only this package can read or write the actor.
type contextKey string

const actorKey contextKey = "actor"

// ActorResolver maps a session subject (user ID) to the current Actor.
// The admin flag is re-read on every request.
type ActorResolver interface {
	ActorForUser(ctx context.Context, userID string) (*model.Actor, error)
}

// LoadActor reads the session cookie and, when it is valid and the user
// still exists, stores the Actor in the request context.
//
// It never blocks a request. Anonymous visitors and stale sessions pass
// through with no actor; handlers decide what an anonymous caller may do.
// A stale cookie is cleared so the browser stops sending it.
func LoadActor(tokens *TokenService, users ActorResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookie)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := tokens.Validate(cookie.Value)
			if err != nil {
				logger.Debug("discarding invalid session", slog.String("error", err.Error()))
				ClearSession(w)
				next.ServeHTTP(w, r)
				return
			}

			actor, err := users.ActorForUser(r.Context(), userID)
			if err != nil {
				if !errors.Is(err, apperror.ErrNotFound) {
					logger.Error("resolving session user",
						slog.String("userID", userID),
						slog.String("error", err.Error()),
					)
				}
				ClearSession(w)
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// WithActor returns a copy of ctx carrying actor.
func WithActor(ctx context.Context, actor *model.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the signed-in actor, or nil for anonymous requests.
func ActorFromContext(ctx context.Context) *model.Actor {
	actor, _ := ctx.Value(actorKey).(*model.Actor)
	return actor
}
