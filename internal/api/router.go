/**
 * @description
 * This file sets up the HTTP router for the payment-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PaymentRoutes creates and returns a new router for the payment service.
func PaymentRoutes(h *PaymentHandlers, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/", h.InitiatePaymentHandler)
		r.Get("/", h.ListPaymentsHandler)
		r.Get("/{id}", h.GetPaymentHandler)
		r.Post("/{id}/cancel", h.CancelPaymentHandler)
		r.Post("/{id}/refund", h.RefundPaymentHandler)
	})

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.ListNotificationsHandler)
		r.Get("/unread-count", h.UnreadNotificationCountHandler)
		r.Post("/read-all", h.MarkAllNotificationsReadHandler)
		r.Post("/{id}/read", h.MarkNotificationReadHandler)
	})

	// Server-to-server surface for gateways that call back over HTTP instead of
	// publishing to the broker.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))
		r.Post("/internal/payments/{id}/outcome", h.ReportOutcomeHandler)
	})

	return r
}
