package delivery

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the handlers to the application dependencies.
func NewRouter(deps AppDependencies) http.Handler {
	r := chi.NewRouter()

	h := &HTTPEndpoint{
		app: deps,
	}

	// --- Global Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(deps.TenantMiddleware)

	// --- Public Routes ---
	r.Get("/", h.homeHandler)
	r.Get("/error", h.errorHandler)
	r.Get("/healthz", h.healthzHandler)
	r.Handle("/metrics", deps.MetricsHandler())

	// --- Sign-in Routes ---
	r.Route("/sign-in", func(r chi.Router) {
		r.Get("/", h.signInHandler)
		r.Post("/captcha", h.captchaHandler)
		r.Post("/email", h.emailHandler)
		r.Post("/otp", h.otpHandler)
		r.Post("/back", h.backHandler)
	})
	r.Get("/logout", h.logoutHandler)

	r.Route("/api/sign-in", func(r chi.Router) {
		r.Post("/flows", h.startFlowAPIHandler)
		r.Post("/email", h.submitEmailAPIHandler)
		r.Post("/otp", h.submitOtpAPIHandler)
	})

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(deps.SessionMiddleware)
		r.Get("/dashboard", h.dashboardHandler)
		r.Get("/api/whoami", h.whoamiHandler)
	})

	return r
}
