package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS returns middleware that applies the API's allowed origin policy.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", IdempotencyHeader, RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader, "Idempotent-Replayed"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler
}
