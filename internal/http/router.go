package http

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mealtime/server/internal/http/handlers"
	"github.com/mealtime/server/internal/i18n"
	"github.com/mealtime/server/internal/middleware"
)

// RouterDeps are the handlers and collaborators the router wires together
type RouterDeps struct {
	Users          *handlers.UserHandler
	Health         *handlers.HealthHandler
	Authenticator  middleware.Authenticator
	Logger         *zap.Logger
	RequestTimeout time.Duration
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(i18n.Middleware)
	r.Use(middleware.Timeout(deps.RequestTimeout))

	r.Get("/health", deps.Health.ServeHTTP)

	r.Route("/user", func(r chi.Router) {
		r.Use(middleware.Authenticate(deps.Authenticator, deps.Logger))

		r.Post("/exist", deps.Users.HandleExist)
		r.Post("/verify", deps.Users.HandleVerify)
		r.Post("/sign-up", deps.Users.HandleSignUp)
		r.Post("/sign-in", deps.Users.HandleSignIn)
		r.Post("/forgot/code", deps.Users.HandleForgotCode)
		r.Post("/forgot", deps.Users.HandleForgot)

		// Protected routes (require a valid session)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Get("/me", deps.Users.HandleMe)
		})
	})

	return r
}
