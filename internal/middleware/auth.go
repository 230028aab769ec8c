package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mealtime/server/internal/auth"
	"github.com/mealtime/server/internal/i18n"
	"github.com/mealtime/server/internal/model"
)

type contextKey string

const userKey contextKey = "user"

// Authenticator resolves a session token into a user
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (model.User, error)
}

// Authenticate attaches the user of a valid session token to the request context.
// Requests without a token continue anonymously; so do requests with a bad token,
// but RequireUser rejects them.
func Authenticate(authenticator Authenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				if !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, auth.ErrUnauthorized) {
					logger.Error("authenticate request", zap.Error(err))
					respondWithError(w, r, http.StatusInternalServerError, "INTERNAL")
					return
				}
				logger.Debug("rejected session token", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, &user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects requests that Authenticate did not resolve to a user
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetUser(r.Context()); !ok {
			respondWithError(w, r, http.StatusUnauthorized, auth.CodeUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BearerToken reads the session token from the Authorization header.
// Both "Bearer <token>" and a bare token are accepted.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	if scheme, rest, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(rest)
	}
	return header
}

// GetUser returns the user attached to the request context (set by Authenticate)
func GetUser(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

// respondWithError sends a JSON error response with a localized message
func respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{
		"error":   code,
		"message": i18n.Message(r.Context(), code),
	}
	_ = json.NewEncoder(w).Encode(response)
}
