/**
 * @description
 * This file defines the core domain models for the payment-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - `PaymentInstruction` is the caller-supplied, unvalidated description of a desired
 *   payment. It is a tagged union keyed by `Channel`: exactly one channel payload
 *   pointer must be populated, and all channel dispatch is an exhaustive switch.
 * - `PaymentRecord` is the durable, validated projection created at admission time.
 *   It is mutated only by the lifecycle engine.
 * - Amounts on instructions are decimal strings (validated to at most two fraction
 *   digits); amounts on records are stored as `int64` in the smallest currency unit
 *   (pesewas), which avoids floating-point inaccuracies with financial data.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Channel identifies the payment rail an instruction travels on.
// The set is closed: validation and lifecycle code switch exhaustively over it.
type Channel string

const (
	ChannelMobileMoney  Channel = "mobile_money"
	ChannelBankTransfer Channel = "bank_transfer"
	ChannelCard         Channel = "card"
	ChannelQRCode       Channel = "qr_code"
	ChannelUSSD         Channel = "ussd"
)

// Channels lists every supported channel. Used by filters and tests.
func Channels() []Channel {
	return []Channel{ChannelMobileMoney, ChannelBankTransfer, ChannelCard, ChannelQRCode, ChannelUSSD}
}

// PaymentStatus is the lifecycle state of an admitted payment.
type PaymentStatus string

const (
	StatusPending           PaymentStatus = "pending"
	StatusProcessing        PaymentStatus = "processing"
	StatusSucceeded         PaymentStatus = "succeeded"
	StatusFailed            PaymentStatus = "failed"
	StatusCancelled         PaymentStatus = "cancelled"
	StatusExpired           PaymentStatus = "expired"
	StatusRefunded          PaymentStatus = "refunded"
	StatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// IsTerminal reports whether no further settlement outcome may be applied.
// `succeeded` and `partially_refunded` still accept the explicit refund paths.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case StatusFailed, StatusCancelled, StatusExpired, StatusRefunded:
		return true
	default:
		return false
	}
}

// IsCancellable reports whether Cancel is legal in this state.
func (s PaymentStatus) IsCancellable() bool {
	return s == StatusPending || s == StatusProcessing
}

// IsRefundable reports whether a refund may be applied in this state.
func (s PaymentStatus) IsRefundable() bool {
	return s == StatusSucceeded || s == StatusPartiallyRefunded
}

// MobileMoneyDetails is the channel payload for mobile money payments.
type MobileMoneyDetails struct {
	Network     string `json:"network"` // registry key, e.g. "mtn"
	PhoneNumber string `json:"phone_number"`
	AccountName string `json:"account_name"`
	VoucherCode string `json:"voucher_code,omitempty"` // network sub-type, where applicable
}

// BankTransferDetails is the channel payload for direct bank transfers.
type BankTransferDetails struct {
	BankCode      string `json:"bank_code"` // closed bank registry key
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// CardDetails is the channel payload for card payments.
type CardDetails struct {
	PAN            string          `json:"pan"`
	ExpiryMonth    int             `json:"expiry_month"`
	ExpiryYear     int             `json:"expiry_year"`
	CVV            string          `json:"cvv"`
	SaveForLater   bool            `json:"save_for_later,omitempty"`
	BillingAddress *BillingAddress `json:"billing_address,omitempty"`
}

// BillingAddress is the optional card billing address.
type BillingAddress struct {
	Line1      string `json:"line1"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

// QRCodeDetails is the channel payload for QR code payments.
type QRCodeDetails struct {
	MerchantID string `json:"merchant_id"`
	TerminalID string `json:"terminal_id,omitempty"`
	ExpiresIn  int    `json:"expires_in,omitempty"` // seconds; zero means no settlement window
}

// USSDDetails is the channel payload for USSD payments.
type USSDDetails struct {
	BankCode  string `json:"bank_code"`
	DialCode  string `json:"dial_code"` // e.g. "*713*44#"
	SessionID string `json:"session_id,omitempty"`
	ExpiresIn int    `json:"expires_in,omitempty"` // seconds; zero means no settlement window
}

// Frequency enumerates the recurring schedule cadences.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
	FrequencyYearly   Frequency = "yearly"
	FrequencyCustom   Frequency = "custom"
)

// RecurrenceRequest is the optional recurrence descriptor on an instruction.
type RecurrenceRequest struct {
	Frequency          Frequency  `json:"frequency"`
	CustomIntervalDays int        `json:"custom_interval_days,omitempty"` // required when frequency is custom
	StartDate          *time.Time `json:"start_date,omitempty"`
	TotalPayments      int        `json:"total_payments,omitempty"` // 0 means open-ended
	EndDate            *time.Time `json:"end_date,omitempty"`
}

// SplitInstruction is one recipient share on an incoming instruction.
// Amount is a decimal string subject to the general amount rule.
type SplitInstruction struct {
	RecipientID string `json:"recipient_id"`
	Amount      string `json:"amount"`
}

// Split is the admitted, minor-unit form of a split entry.
type Split struct {
	RecipientID string `json:"recipient_id"`
	Amount      int64  `json:"amount"` // pesewas
}

// PaymentInstruction is the unvalidated, caller-supplied payment request.
type PaymentInstruction struct {
	Amount      string  `json:"amount"` // decimal string, e.g. "50.00"
	Currency    string  `json:"currency"`
	Description string  `json:"description"`
	Reference   string  `json:"reference"` // idempotency token per (channel, reference)
	Channel     Channel `json:"channel"`

	MobileMoney  *MobileMoneyDetails  `json:"mobile_money,omitempty"`
	BankTransfer *BankTransferDetails `json:"bank_transfer,omitempty"`
	Card         *CardDetails         `json:"card,omitempty"`
	QRCode       *QRCodeDetails       `json:"qr_code,omitempty"`
	USSD         *USSDDetails         `json:"ussd,omitempty"`

	Recurrence *RecurrenceRequest `json:"recurrence,omitempty"`
	Splits     []SplitInstruction `json:"splits,omitempty"`

	CustomerName  string `json:"customer_name,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`
}

// RecurringSchedule tracks the cadence state owned by exactly one PaymentRecord.
type RecurringSchedule struct {
	ID                 uuid.UUID  `json:"id"`
	PaymentID          uuid.UUID  `json:"payment_id"`
	Frequency          Frequency  `json:"frequency"`
	CustomIntervalDays int        `json:"custom_interval_days,omitempty"`
	NextPaymentDate    time.Time  `json:"next_payment_date"`
	CompletedPayments  int        `json:"completed_payments"`
	TotalPayments      int        `json:"total_payments"` // 0 means open-ended
	EndDate            *time.Time `json:"end_date,omitempty"`
	PauseUntil         *time.Time `json:"pause_until,omitempty"`
	IsActive           bool       `json:"is_active"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsPaused reports whether the schedule is paused at the given instant.
func (s *RecurringSchedule) IsPaused(now time.Time) bool {
	return s.PauseUntil != nil && s.PauseUntil.After(now)
}

// PaymentRecord is the durable ledger entry for an admitted payment.
// It maps directly to the `payments` table.
type PaymentRecord struct {
	ID          uuid.UUID     `json:"id"` // transaction id, assigned on admission
	Channel     Channel       `json:"channel"`
	Reference   string        `json:"reference"`
	Amount      int64         `json:"amount"` // pesewas
	Currency    string        `json:"currency"`
	Description string        `json:"description"`
	Status      PaymentStatus `json:"status"`

	MobileMoney  *MobileMoneyDetails  `json:"mobile_money,omitempty"`
	BankTransfer *BankTransferDetails `json:"bank_transfer,omitempty"`
	Card         *CardDetails         `json:"card,omitempty"`
	QRCode       *QRCodeDetails       `json:"qr_code,omitempty"`
	USSD         *USSDDetails         `json:"ussd,omitempty"`

	Splits   []Split            `json:"splits,omitempty"`
	Schedule *RecurringSchedule `json:"schedule,omitempty"`

	CustomerName  string `json:"customer_name,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`

	PayloadHash    string     `json:"payload_hash"` // idempotency comparison of the admitted payload
	GatewayRef     *string    `json:"gateway_ref,omitempty"`
	FailureReason  *string    `json:"failure_reason,omitempty"`
	RefundedAmount int64      `json:"refunded_amount"`
	RetriesUsed    int        `json:"retries_used"`
	MaxRetries     int        `json:"max_retries"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"` // QR/USSD settlement window

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RemainingRefundable returns the amount still eligible for refund, in pesewas.
func (p *PaymentRecord) RemainingRefundable() int64 {
	return p.Amount - p.RefundedAmount
}

// Refund is one applied refund against a payment. RefundID is the caller-supplied
// idempotency key for the refund itself.
type Refund struct {
	RefundID  string    `json:"refund_id"`
	PaymentID uuid.UUID `json:"payment_id"`
	Amount    int64     `json:"amount"` // pesewas
	CreatedAt time.Time `json:"created_at"`
}

// PaymentFilters narrow a history listing.
type PaymentFilters struct {
	From    *time.Time
	To      *time.Time
	Status  *PaymentStatus
	Channel *Channel
}
