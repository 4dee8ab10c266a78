package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	ory "github.com/ory/client-go"

	"otp-signin/delivery"
)

// A private type for the context key to prevent collisions.
type contextKey string

// sessionContextKey is the key used to store the session in the request context.
const sessionContextKey contextKey = "session"

// SessionVerifier resolves and revokes session tokens.
type SessionVerifier interface {
	Whoami(ctx context.Context, token string) (*ory.Session, error)
	Revoke(ctx context.Context, token string) error
}

// sessionToken reads the session token from the Authorization header or,
// for browsers, from the session cookie.
func sessionToken(r *http.Request) (token string, bearer bool) {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer "), true
	}
	if c, err := r.Cookie(delivery.SessionCookieName); err == nil {
		return c.Value, false
	}
	return "", false
}

// SessionMiddleware validates the user's session by checking against the Ory Kratos API.
// If the session is valid, it's added to the request context for downstream handlers.
// Browsers without a session are sent to the sign-in page; API callers get a JSON 401.
func (a *App) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, bearer := sessionToken(r)

		var session *ory.Session
		var err error
		if token != "" {
			session, err = a.sessions.Whoami(r.Context(), token)
		}

		if token == "" || err != nil {
			if err != nil {
				a.logger.InfoContext(r.Context(), "session rejected", "error", err)
			}
			if !bearer {
				http.Redirect(w, r, "/sign-in?redirect="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(ErrorResponse{
				Error: ErrorDetail{
					Code:      "UNAUTHORIZED",
					Message:   "Session Expired",
					ErrorType: "AUTH_ERROR",
				},
			})
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetSessionFromContext is a helper function to safely retrieve the session
// from the request context. This can be used by any handler.
func (a *App) GetSessionFromContext(ctx context.Context) (*ory.Session, bool) {
	session, ok := ctx.Value(sessionContextKey).(*ory.Session)
	return session, ok
}

// RevokeSession logs the session behind token out of Kratos.
func (a *App) RevokeSession(ctx context.Context, token string) error {
	return a.sessions.Revoke(ctx, token)
}
