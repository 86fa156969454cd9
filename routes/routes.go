package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/authflow/app"
	"github.com/upb/authflow/models"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", chimw.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/signup", http.StatusSeeOther)
	})

	// Forms
	r.Get("/signup", deps.FormHandler.HandleSignUpForm)
	r.Post("/signup", deps.FormHandler.HandleSignUp)
	r.Get("/signin", deps.FormHandler.HandleSignInForm)
	r.Post("/signin", deps.FormHandler.HandleSignIn)
	r.Post("/signout", deps.FormHandler.HandleSignOut)

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", deps.SessionHandler.HandleSession)
		r.Post("/signup", deps.AuthAPIHandler.HandleSignUp)
		r.Post("/signin", deps.AuthAPIHandler.HandleSignIn)
		r.Post("/signout", deps.AuthAPIHandler.HandleSignOut)
	})

	r.Group(func(r chi.Router) {
		r.Use(deps.RoleMiddleware.RequireRole(models.RoleAdmin.String()))
		r.Get("/admin", deps.SessionHandler.HandleAdmin)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
