package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// NewRouter configures the admin API and the webhook endpoint.
func NewRouter(handler *Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", handler.Health).Methods("GET")
	r.HandleFunc("/telegram/webhook", handler.Webhook).Methods("POST")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(handler.requireToken)
	api.HandleFunc("/queue", handler.Queue).Methods("GET")
	api.HandleFunc("/jobs/{id}", handler.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}", handler.CancelJob).Methods("DELETE")
	api.HandleFunc("/users/{id:[0-9]+}/format", handler.GetFormat).Methods("GET")
	api.HandleFunc("/users/{id:[0-9]+}/format", handler.SetFormat).Methods("PUT")
	return r
}

// WithCORS wraps the router for browser clients of the admin API.
func WithCORS(h http.Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(h)
}
