package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ntkwan/csc13114-auth-with-jwt/internal/middleware"
)

// Routes registers the public and protected endpoints on the router.
func (h *AuthHandlers) Routes(router *mux.Router, authMiddleware *middleware.AuthMiddleware) {
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	user := router.PathPrefix("/user").Subrouter()
	user.HandleFunc("/register", h.Register).Methods("POST", "OPTIONS")

	auth := router.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", h.Login).Methods("POST", "OPTIONS")
	auth.HandleFunc("/refresh", h.Refresh).Methods("POST", "OPTIONS")

	protected := router.PathPrefix("/auth").Subrouter()
	protected.Use(authMiddleware.RequireAuth)
	protected.HandleFunc("/logout", h.Logout).Methods("POST", "OPTIONS")
	protected.HandleFunc("/profile", h.Profile).Methods("POST", "OPTIONS")
}
