/**
 * @description
 * The validation rule set for payment instructions. A Ruleset bundles the regex
 * rule tables and registries for every channel; Validate dispatches exhaustively
 * on the instruction's channel tag and returns the first violated rule as a
 * domain.ValidationError.
 *
 * @notes
 * - Validation is pure: no persistence, no network, no clock reads. The caller
 *   supplies the validation instant (card expiry is judged against it).
 * - Rules live in the Ruleset as data so registries can be revised without
 *   touching validation logic.
 */

package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dir-sai/scale-r-pms-sub000/internal/domain"
)

const (
	// MaxDescriptionLength bounds the free-text description.
	MaxDescriptionLength = 240

	// DefaultMaxSplitRecipients caps the split list length unless configured.
	DefaultMaxSplitRecipients = 10
)

var (
	amountPattern    = regexp.MustCompile(`^\d{1,13}(\.\d{1,2})?$`)
	referencePattern = regexp.MustCompile(`^[A-Za-z0-9-]{6,50}$`)
	namePattern      = regexp.MustCompile(`^[A-Za-z][A-Za-z' -]{1,49}$`)
	cvvPattern       = regexp.MustCompile(`^\d{3,4}$`)
	merchantPattern  = regexp.MustCompile(`^[A-Z0-9]{6,20}$`)
	terminalPattern  = regexp.MustCompile(`^[A-Z0-9]{4,12}$`)
	ussdDialPattern  = regexp.MustCompile(`^\*\d{2,4}(\*\d{1,10})*#$`)
)

// Ruleset holds every rule table the validators consult.
type Ruleset struct {
	Currency           string
	Networks           NetworkRegistry
	Banks              *BankRegistry
	CardBrands         []CardBrand
	MaxSplitRecipients int
}

// NewDefaultRuleset returns the production rule tables.
func NewDefaultRuleset() *Ruleset {
	return &Ruleset{
		Currency:           "GHS",
		Networks:           DefaultNetworkRegistry(),
		Banks:              DefaultBankRegistry(),
		CardBrands:         DefaultCardBrands(),
		MaxSplitRecipients: DefaultMaxSplitRecipients,
	}
}

// ParseAmount converts a validated decimal string into minor units (pesewas).
func ParseAmount(amount string) (int64, error) {
	if !amountPattern.MatchString(amount) {
		return 0, fmt.Errorf("amount %q is not a valid decimal", amount)
	}
	whole, fraction, _ := strings.Cut(amount, ".")
	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q overflows: %w", amount, err)
	}
	minor := int64(0)
	if fraction != "" {
		if len(fraction) == 1 {
			fraction += "0"
		}
		minor, err = strconv.ParseInt(fraction, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("amount %q has invalid fraction: %w", amount, err)
		}
	}
	return major*100 + minor, nil
}

// Validate checks an instruction against every applicable rule. It returns nil on
// success or the first violation as a *domain.ValidationError. now is the
// validation instant used for time-sensitive rules (card expiry).
func (r *Ruleset) Validate(instr domain.PaymentInstruction, now time.Time) error {
	if err := r.validateAmountField("amount", instr.Amount); err != nil {
		return err
	}
	if instr.Currency != r.Currency {
		return &domain.ValidationError{Field: "currency", Reason: fmt.Sprintf("currency must be %s", r.Currency)}
	}
	desc := strings.TrimSpace(instr.Description)
	if desc == "" {
		return &domain.ValidationError{Field: "description", Reason: "description is required"}
	}
	if len(desc) > MaxDescriptionLength {
		return &domain.ValidationError{Field: "description", Reason: fmt.Sprintf("description exceeds %d characters", MaxDescriptionLength)}
	}
	if !referencePattern.MatchString(instr.Reference) {
		return &domain.ValidationError{Field: "reference", Reason: "reference must be 6-50 alphanumeric or hyphen characters"}
	}

	if err := r.validateChannelPayload(instr, now); err != nil {
		return err
	}
	if err := r.validateRecurrence(instr.Recurrence); err != nil {
		return err
	}
	return r.validateSplits(instr)
}

func (r *Ruleset) validateAmountField(field, amount string) error {
	if !amountPattern.MatchString(amount) {
		return &domain.ValidationError{Field: field, Reason: "amount must be a positive decimal with at most 2 fraction digits"}
	}
	minor, err := ParseAmount(amount)
	if err != nil {
		return &domain.ValidationError{Field: field, Reason: "amount is out of range"}
	}
	if minor <= 0 {
		return &domain.ValidationError{Field: field, Reason: "amount must be greater than zero"}
	}
	return nil
}

// validateChannelPayload enforces the tagged-union invariant (exactly one payload
// populated, matching the channel tag) and runs the channel's sub-validator.
// The channel set is closed: an unrecognized tag fails, never falls through.
func (r *Ruleset) validateChannelPayload(instr domain.PaymentInstruction, now time.Time) error {
	populated := 0
	if instr.MobileMoney != nil {
		populated++
	}
	if instr.BankTransfer != nil {
		populated++
	}
	if instr.Card != nil {
		populated++
	}
	if instr.QRCode != nil {
		populated++
	}
	if instr.USSD != nil {
		populated++
	}
	if populated != 1 {
		return &domain.ValidationError{Field: "channel", Reason: "exactly one channel payload must be provided"}
	}

	switch instr.Channel {
	case domain.ChannelMobileMoney:
		if instr.MobileMoney == nil {
			return &domain.ValidationError{Field: "mobile_money", Reason: "mobile_money payload is required for this channel"}
		}
		return r.validateMobileMoney(instr.MobileMoney)
	case domain.ChannelBankTransfer:
		if instr.BankTransfer == nil {
			return &domain.ValidationError{Field: "bank_transfer", Reason: "bank_transfer payload is required for this channel"}
		}
		return r.validateBankTransfer(instr.BankTransfer)
	case domain.ChannelCard:
		if instr.Card == nil {
			return &domain.ValidationError{Field: "card", Reason: "card payload is required for this channel"}
		}
		return r.validateCard(instr.Card, now)
	case domain.ChannelQRCode:
		if instr.QRCode == nil {
			return &domain.ValidationError{Field: "qr_code", Reason: "qr_code payload is required for this channel"}
		}
		return r.validateQRCode(instr.QRCode)
	case domain.ChannelUSSD:
		if instr.USSD == nil {
			return &domain.ValidationError{Field: "ussd", Reason: "ussd payload is required for this channel"}
		}
		return r.validateUSSD(instr.USSD)
	default:
		return &domain.ValidationError{Field: "channel", Reason: fmt.Sprintf("unsupported channel %q", instr.Channel)}
	}
}

func (r *Ruleset) validateMobileMoney(details *domain.MobileMoneyDetails) error {
	pattern, ok := r.Networks[details.Network]
	if !ok {
		return &domain.ValidationError{Field: "network", Reason: fmt.Sprintf("unknown mobile money network %q", details.Network)}
	}
	if !pattern.MatchString(details.PhoneNumber) {
		return &domain.ValidationError{Field: "phoneNumber", Reason: fmt.Sprintf("phone number does not match the %s numbering plan", details.Network)}
	}
	if !namePattern.MatchString(details.AccountName) {
		return &domain.ValidationError{Field: "accountName", Reason: "account name must be 2-50 letters, spaces, hyphens or apostrophes"}
	}
	return nil
}

func (r *Ruleset) validateBankTransfer(details *domain.BankTransferDetails) error {
	pattern, ok := r.Banks.Lookup(details.BankCode)
	if !ok {
		return &domain.ValidationError{Field: "bankCode", Reason: fmt.Sprintf("unknown bank code %q", details.BankCode)}
	}
	if !pattern.MatchString(details.AccountNumber) {
		return &domain.ValidationError{Field: "accountNumber", Reason: fmt.Sprintf("account number does not match the %s format", details.BankCode)}
	}
	if !namePattern.MatchString(details.AccountName) {
		return &domain.ValidationError{Field: "accountName", Reason: "account name must be 2-50 letters, spaces, hyphens or apostrophes"}
	}
	return nil
}

func (r *Ruleset) validateCard(details *domain.CardDetails, now time.Time) error {
	pan := strings.ReplaceAll(details.PAN, " ", "")
	matched := false
	for _, brand := range r.CardBrands {
		if brand.Pattern.MatchString(pan) {
			matched = true
			break
		}
	}
	if !matched {
		return &domain.ValidationError{Field: "pan", Reason: "card number does not match any recognized brand"}
	}
	if !cvvPattern.MatchString(details.CVV) {
		return &domain.ValidationError{Field: "cvv", Reason: "cvv must be 3 or 4 digits"}
	}
	if details.ExpiryMonth < 1 || details.ExpiryMonth > 12 {
		return &domain.ValidationError{Field: "expiryMonth", Reason: "expiry month must be between 1 and 12"}
	}
	if details.ExpiryYear < 1000 {
		return &domain.ValidationError{Field: "expiryYear", Reason: "expiry year must be four digits"}
	}
	endOfExpiry := time.Date(details.ExpiryYear, time.Month(details.ExpiryMonth), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	if !endOfExpiry.After(now) {
		return &domain.ValidationError{Field: "expiry", Reason: "card expiry is in the past"}
	}
	return nil
}

func (r *Ruleset) validateQRCode(details *domain.QRCodeDetails) error {
	if !merchantPattern.MatchString(details.MerchantID) {
		return &domain.ValidationError{Field: "merchantId", Reason: "merchant id must be 6-20 uppercase alphanumeric characters"}
	}
	if details.TerminalID != "" && !terminalPattern.MatchString(details.TerminalID) {
		return &domain.ValidationError{Field: "terminalId", Reason: "terminal id must be 4-12 uppercase alphanumeric characters"}
	}
	if details.ExpiresIn < 0 {
		return &domain.ValidationError{Field: "expiresIn", Reason: "expiry window cannot be negative"}
	}
	return nil
}

func (r *Ruleset) validateUSSD(details *domain.USSDDetails) error {
	if _, ok := r.Banks.Lookup(details.BankCode); !ok {
		return &domain.ValidationError{Field: "bankCode", Reason: fmt.Sprintf("unknown bank code %q", details.BankCode)}
	}
	if !ussdDialPattern.MatchString(details.DialCode) {
		return &domain.ValidationError{Field: "dialCode", Reason: "ussd code must look like *NNN...#"}
	}
	if details.ExpiresIn < 0 {
		return &domain.ValidationError{Field: "expiresIn", Reason: "expiry window cannot be negative"}
	}
	return nil
}

func (r *Ruleset) validateRecurrence(rec *domain.RecurrenceRequest) error {
	if rec == nil {
		return nil
	}
	switch rec.Frequency {
	case domain.FrequencyDaily, domain.FrequencyWeekly, domain.FrequencyBiweekly,
		domain.FrequencyMonthly, domain.FrequencyYearly:
	case domain.FrequencyCustom:
		if rec.CustomIntervalDays <= 0 {
			return &domain.ValidationError{Field: "customIntervalDays", Reason: "custom frequency requires a positive interval in days"}
		}
	default:
		return &domain.ValidationError{Field: "frequency", Reason: fmt.Sprintf("unsupported frequency %q", rec.Frequency)}
	}
	if rec.TotalPayments < 0 {
		return &domain.ValidationError{Field: "totalPayments", Reason: "total payments cannot be negative"}
	}
	return nil
}

func (r *Ruleset) validateSplits(instr domain.PaymentInstruction) error {
	if len(instr.Splits) == 0 {
		return nil
	}
	maxRecipients := r.MaxSplitRecipients
	if maxRecipients <= 0 {
		maxRecipients = DefaultMaxSplitRecipients
	}
	if len(instr.Splits) > maxRecipients {
		return &domain.ValidationError{Field: "splits", Reason: fmt.Sprintf("split list exceeds the maximum of %d recipients", maxRecipients)}
	}

	total, err := ParseAmount(instr.Amount)
	if err != nil {
		return &domain.ValidationError{Field: "amount", Reason: "amount is out of range"}
	}

	var sum int64
	for i, split := range instr.Splits {
		field := fmt.Sprintf("splits[%d].amount", i)
		if strings.TrimSpace(split.RecipientID) == "" {
			return &domain.ValidationError{Field: fmt.Sprintf("splits[%d].recipientId", i), Reason: "recipient id is required"}
		}
		if err := r.validateAmountField(field, split.Amount); err != nil {
			return err
		}
		minor, err := ParseAmount(split.Amount)
		if err != nil {
			return &domain.ValidationError{Field: field, Reason: "amount is out of range"}
		}
		sum += minor
	}
	if sum > total {
		return &domain.ValidationError{Field: "splits", Reason: "sum of split amounts exceeds the payment amount"}
	}
	return nil
}
