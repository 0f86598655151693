/**
 * @description
 * This file contains the HTTP handlers for the payment-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the lifecycle engine, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For engine logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dir-sai/scale-r-pms-sub000/internal/app"
	"github.com/dir-sai/scale-r-pms-sub000/internal/domain"
	"github.com/dir-sai/scale-r-pms-sub000/internal/store"
)

// PaymentHandlers holds the lifecycle engine that handlers will use.
type PaymentHandlers struct {
	service            *app.Service
	limiter            *app.RedisInitiationRateLimiter
	initiateRatePerMin int
}

// NewPaymentHandlers creates a new instance of PaymentHandlers.
func NewPaymentHandlers(service *app.Service, limiter *app.RedisInitiationRateLimiter, initiateRatePerMin int) *PaymentHandlers {
	return &PaymentHandlers{
		service:            service,
		limiter:            limiter,
		initiateRatePerMin: initiateRatePerMin,
	}
}

// paymentResponse mirrors the structure the mobile client expects: amounts are
// rendered back to decimal strings so the frontend never handles minor units.
type paymentResponse struct {
	TransactionID  string               `json:"transaction_id"`
	Channel        domain.Channel       `json:"channel"`
	Reference      string               `json:"reference"`
	Amount         string               `json:"amount"`
	Currency       string               `json:"currency"`
	Description    string               `json:"description,omitempty"`
	Status         domain.PaymentStatus `json:"status"`
	GatewayRef     *string              `json:"gateway_ref,omitempty"`
	FailureReason  *string              `json:"failure_reason,omitempty"`
	RefundedAmount string               `json:"refunded_amount,omitempty"`
	RetriesUsed    int                  `json:"retries_used"`
	MaxRetries     int                  `json:"max_retries"`
	NextRetryAt    *time.Time           `json:"next_retry_at,omitempty"`
	ExpiresAt      *time.Time           `json:"expires_at,omitempty"`
	Splits         []splitResponse      `json:"splits,omitempty"`
	Schedule       *scheduleResponse    `json:"schedule,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

type splitResponse struct {
	RecipientID string `json:"recipient_id"`
	Amount      string `json:"amount"`
}

type scheduleResponse struct {
	ID                string           `json:"id"`
	Frequency         domain.Frequency `json:"frequency"`
	NextPaymentDate   time.Time        `json:"next_payment_date"`
	CompletedPayments int              `json:"completed_payments"`
	TotalPayments     int              `json:"total_payments,omitempty"`
	EndDate           *time.Time       `json:"end_date,omitempty"`
	IsActive          bool             `json:"is_active"`
}

type paymentListResponse struct {
	Payments []paymentResponse `json:"payments"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

type refundRequest struct {
	RefundID string  `json:"refund_id"`
	Amount   *string `json:"amount,omitempty"`
}

type outcomeRequest struct {
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	GatewayRef string `json:"gateway_ref,omitempty"`
}

func formatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

func buildPaymentResponse(record *domain.PaymentRecord) paymentResponse {
	resp := paymentResponse{
		TransactionID: record.ID.String(),
		Channel:       record.Channel,
		Reference:     record.Reference,
		Amount:        formatAmount(record.Amount),
		Currency:      record.Currency,
		Description:   record.Description,
		Status:        record.Status,
		GatewayRef:    record.GatewayRef,
		FailureReason: record.FailureReason,
		RetriesUsed:   record.RetriesUsed,
		MaxRetries:    record.MaxRetries,
		NextRetryAt:   record.NextRetryAt,
		ExpiresAt:     record.ExpiresAt,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
	if record.RefundedAmount > 0 {
		resp.RefundedAmount = formatAmount(record.RefundedAmount)
	}
	for _, split := range record.Splits {
		resp.Splits = append(resp.Splits, splitResponse{
			RecipientID: split.RecipientID,
			Amount:      formatAmount(split.Amount),
		})
	}
	if record.Schedule != nil {
		resp.Schedule = &scheduleResponse{
			ID:                record.Schedule.ID.String(),
			Frequency:         record.Schedule.Frequency,
			NextPaymentDate:   record.Schedule.NextPaymentDate,
			CompletedPayments: record.Schedule.CompletedPayments,
			TotalPayments:     record.Schedule.TotalPayments,
			EndDate:           record.Schedule.EndDate,
			IsActive:          record.Schedule.IsActive,
		}
	}
	return resp
}

// InitiatePaymentHandler handles requests to admit a new payment instruction.
func (h *PaymentHandlers) InitiatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var instr domain.PaymentInstruction
	if err := json.NewDecoder(r.Body).Decode(&instr); err != nil {
		log.Printf("level=warn component=api endpoint=initiate_payment outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if h.limiter != nil && h.initiateRatePerMin > 0 {
		subject := rateLimitSubject(r, instr)
		decision, err := h.limiter.Allow(r.Context(), "initiate", subject, h.initiateRatePerMin, time.Minute)
		if err != nil {
			log.Printf("level=warn component=api endpoint=initiate_payment msg=\"rate limiter unavailable; allowing request\" err=%v", err)
		} else if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter/time.Second)))
			h.writeError(w, http.StatusTooManyRequests, "Too many payment attempts. Please try again shortly.")
			return
		}
	}

	record, err := h.service.Admit(r.Context(), instr)
	if err != nil {
		h.handleEngineError(w, "initiate_payment", err)
		return
	}

	log.Printf("level=info component=api endpoint=initiate_payment outcome=accepted payment_id=%s channel=%s reference=%s", record.ID, record.Channel, record.Reference)
	h.writeJSON(w, http.StatusCreated, buildPaymentResponse(record))
}

// rateLimitSubject picks the limiter subject: customer phone when supplied,
// otherwise the caller's address.
func rateLimitSubject(r *http.Request, instr domain.PaymentInstruction) string {
	if phone := strings.TrimSpace(instr.CustomerPhone); phone != "" {
		return phone
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// GetPaymentHandler returns one payment by its transaction id.
func (h *PaymentHandlers) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parsePaymentID(w, r)
	if !ok {
		return
	}

	record, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		h.handleEngineError(w, "get_payment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, buildPaymentResponse(record))
}

// ListPaymentsHandler returns a filtered, paginated page of payment history.
func (h *PaymentHandlers) ListPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	filters, err := parsePaymentFilters(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	records, total, err := h.service.ListPayments(r.Context(), filters, page, pageSize)
	if err != nil {
		h.handleEngineError(w, "list_payments", err)
		return
	}

	resp := paymentListResponse{
		Payments: make([]paymentResponse, 0, len(records)),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}
	for i := range records {
		resp.Payments = append(resp.Payments, buildPaymentResponse(&records[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func parsePaymentFilters(r *http.Request) (domain.PaymentFilters, error) {
	var filters domain.PaymentFilters
	q := r.URL.Query()

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := domain.PaymentStatus(raw)
		filters.Status = &status
	}
	if raw := strings.TrimSpace(q.Get("channel")); raw != "" {
		channel := domain.Channel(raw)
		filters.Channel = &channel
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, fmt.Errorf("invalid 'from' timestamp: %v", err)
		}
		filters.From = &from
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, fmt.Errorf("invalid 'to' timestamp: %v", err)
		}
		filters.To = &to
	}
	return filters, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// CancelPaymentHandler requests cancellation of an in-flight payment.
func (h *PaymentHandlers) CancelPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parsePaymentID(w, r)
	if !ok {
		return
	}

	record, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		h.handleEngineError(w, "cancel_payment", err)
		return
	}

	log.Printf("level=info component=api endpoint=cancel_payment outcome=accepted payment_id=%s", record.ID)
	h.writeJSON(w, http.StatusOK, buildPaymentResponse(record))
}

// RefundPaymentHandler applies a refund against a succeeded payment.
func (h *PaymentHandlers) RefundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parsePaymentID(w, r)
	if !ok {
		return
	}

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	record, err := h.service.Refund(r.Context(), id, req.RefundID, req.Amount)
	if err != nil {
		h.handleEngineError(w, "refund_payment", err)
		return
	}

	log.Printf("level=info component=api endpoint=refund_payment outcome=accepted payment_id=%s refund_id=%s", record.ID, req.RefundID)
	h.writeJSON(w, http.StatusOK, buildPaymentResponse(record))
}

// ReportOutcomeHandler applies a settlement outcome delivered over HTTP. It is
// the internal-only counterpart of the broker consumer, used by gateways that
// call back synchronously.
func (h *PaymentHandlers) ReportOutcomeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parsePaymentID(w, r)
	if !ok {
		return
	}

	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	status, valid := app.NormalizeOutcomeStatus(req.Status)
	if !valid {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown settlement status %q", req.Status))
		return
	}

	record, err := h.service.ReportOutcome(r.Context(), id, app.Outcome{
		Status:     status,
		Reason:     strings.TrimSpace(req.Reason),
		GatewayRef: strings.TrimSpace(req.GatewayRef),
	})
	if err != nil {
		var exhausted *domain.RetryExhaustedError
		if errors.As(err, &exhausted) && record != nil {
			// The failure was applied; report the final state with the exhaustion flag.
			h.writeJSON(w, http.StatusOK, buildPaymentResponse(record))
			return
		}
		h.handleEngineError(w, "report_outcome", err)
		return
	}

	h.writeJSON(w, http.StatusOK, buildPaymentResponse(record))
}

func (h *PaymentHandlers) parsePaymentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payment id")
		return uuid.Nil, false
	}
	return id, true
}

// handleEngineError maps the engine's typed errors onto HTTP statuses.
func (h *PaymentHandlers) handleEngineError(w http.ResponseWriter, endpoint string, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": validationErr.Error(),
			"field": validationErr.Field,
		})
		return
	}
	var duplicateErr *domain.DuplicateReferenceError
	if errors.As(err, &duplicateErr) {
		h.writeError(w, http.StatusConflict, duplicateErr.Error())
		return
	}
	var transitionErr *domain.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		h.writeError(w, http.StatusConflict, transitionErr.Error())
		return
	}
	var exhaustedErr *domain.RetryExhaustedError
	if errors.As(err, &exhaustedErr) {
		h.writeError(w, http.StatusUnprocessableEntity, exhaustedErr.Error())
		return
	}
	if errors.Is(err, store.ErrPaymentNotFound) {
		h.writeError(w, http.StatusNotFound, "Payment not found")
		return
	}

	log.Printf("level=error component=api endpoint=%s msg=\"unhandled engine error\" err=%v", endpoint, err)
	h.writeError(w, http.StatusInternalServerError, "Internal server error")
}

// writeJSON is a helper for writing JSON responses.
func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PaymentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
