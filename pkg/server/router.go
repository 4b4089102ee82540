package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Router builds the HTTP surface: the websocket terminal channel plus the
// token handoff and account routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/ws", s.handleWS)
	r.Get("/confirm_login/{token}", s.handleConfirmLogin)
	r.Get("/dashboard", s.handleDashboard)
	r.Post("/withdraw", s.handleWithdraw)
	r.Post("/add_user", s.handleAddUser)
	r.Post("/logout", s.handleLogout)
	r.Get("/health", s.handleHealth)

	return r
}
