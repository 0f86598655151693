package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dir-sai/scale-r-pms-sub000/internal/domain"
	"github.com/dir-sai/scale-r-pms-sub000/internal/store"
)

// SettlementStatusConsumer applies asynchronous settlement outcomes from the
// gateway callback pipeline to the lifecycle engine.
type SettlementStatusConsumer struct {
	engine *Service
}

func NewSettlementStatusConsumer(engine *Service) *SettlementStatusConsumer {
	return &SettlementStatusConsumer{engine: engine}
}

// HandleMessage processes one settlement event. Returning true acknowledges the
// delivery; false requeues it. Malformed or unresolvable events are acknowledged
// so they do not poison the queue.
func (c *SettlementStatusConsumer) HandleMessage(body []byte) bool {
	var event domain.SettlementStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("settlement-consumer: failed to unmarshal payload: %v", err)
		return true
	}

	if event.TransactionID == "" {
		log.Printf("settlement-consumer: missing transaction id in event %+v", event)
		return true
	}

	id, err := uuid.Parse(event.TransactionID)
	if err != nil {
		log.Printf("settlement-consumer: invalid transaction id %q; acknowledging", event.TransactionID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processEvent(ctx, id, event); err != nil {
		log.Printf("settlement-consumer: processing error for payment %s: %v", id, err)
		return false
	}

	return true
}

func (c *SettlementStatusConsumer) processEvent(ctx context.Context, id uuid.UUID, event domain.SettlementStatusEvent) error {
	status, ok := NormalizeOutcomeStatus(event.Status)
	if !ok {
		log.Printf("settlement-consumer: unknown status %q for payment %s; acknowledging", event.Status, id)
		return nil
	}

	outcome := Outcome{
		Status:     status,
		Reason:     strings.TrimSpace(event.Reason),
		GatewayRef: strings.TrimSpace(event.GatewayRef),
	}

	_, err := c.engine.ReportOutcome(ctx, id, outcome)
	if err == nil {
		return nil
	}

	// Replays and late deliveries resolve to acks, not requeues.
	if errors.Is(err, store.ErrPaymentNotFound) {
		log.Printf("settlement-consumer: no payment found for %s; acknowledging", id)
		return nil
	}
	var transitionErr *domain.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		log.Printf("settlement-consumer: payment %s already %s; acknowledging %s outcome", id, transitionErr.From, status)
		return nil
	}
	var exhaustedErr *domain.RetryExhaustedError
	if errors.As(err, &exhaustedErr) {
		// The failure itself was applied; exhaustion is informational here.
		log.Printf("settlement-consumer: payment %s has exhausted its retries", id)
		return nil
	}
	return fmt.Errorf("report outcome: %w", err)
}

// NormalizeOutcomeStatus maps the gateway's status vocabulary onto the
// lifecycle states ReportOutcome accepts.
func NormalizeOutcomeStatus(status string) (domain.PaymentStatus, bool) {
	switch strings.TrimSpace(strings.ToLower(status)) {
	case "successful", "success", "succeeded", "completed":
		return domain.StatusSucceeded, true
	case "failed", "failure", "declined":
		return domain.StatusFailed, true
	case "initiated", "processing", "pending":
		return domain.StatusProcessing, true
	case "expired", "timeout", "timed_out":
		return domain.StatusExpired, true
	default:
		return "", false
	}
}
