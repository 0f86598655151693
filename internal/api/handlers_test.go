package api

import (
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dir-sai/scale-r-pms-sub000/internal/domain"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		minor int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{5000, "50.00"},
		{123456, "1234.56"},
	}
	for _, tt := range tests {
		if got := formatAmount(tt.minor); got != tt.want {
			t.Fatalf("formatAmount(%d) = %q, want %q", tt.minor, got, tt.want)
		}
	}
}

func TestParsePaymentFilters(t *testing.T) {
	r := httptest.NewRequest("GET", "/payments?status=succeeded&channel=card&from=2026-01-01T00:00:00Z&to=2026-02-01T00:00:00Z", nil)
	filters, err := parsePaymentFilters(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filters.Status == nil || *filters.Status != domain.StatusSucceeded {
		t.Fatal("expected status filter")
	}
	if filters.Channel == nil || *filters.Channel != domain.ChannelCard {
		t.Fatal("expected channel filter")
	}
	if filters.From == nil || !filters.From.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("expected from filter")
	}
	if filters.To == nil {
		t.Fatal("expected to filter")
	}
}

func TestParsePaymentFilters_RejectsBadTimestamps(t *testing.T) {
	r := httptest.NewRequest("GET", "/payments?from=yesterday", nil)
	if _, err := parsePaymentFilters(r); err == nil {
		t.Fatal("expected an error for an unparseable timestamp")
	}
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest("GET", "/payments?page=3&page_size=oops", nil)
	if got := queryInt(r, "page", 1); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := queryInt(r, "page_size", 20); got != 20 {
		t.Fatalf("expected fallback 20, got %d", got)
	}
	if got := queryInt(r, "missing", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestRateLimitSubject(t *testing.T) {
	r := httptest.NewRequest("POST", "/payments", nil)
	r.RemoteAddr = "203.0.113.9:51234"

	instr := domain.PaymentInstruction{CustomerPhone: "0241234567"}
	if got := rateLimitSubject(r, instr); got != "0241234567" {
		t.Fatalf("expected the customer phone as subject, got %q", got)
	}

	instr.CustomerPhone = " "
	if got := rateLimitSubject(r, instr); got != "203.0.113.9" {
		t.Fatalf("expected the caller host as subject, got %q", got)
	}
}

func TestBuildPaymentResponse(t *testing.T) {
	gatewayRef := "gw-7"
	record := &domain.PaymentRecord{
		ID:             uuid.New(),
		Channel:        domain.ChannelMobileMoney,
		Reference:      "RENT-2026-000200",
		Amount:         5000,
		Currency:       "GHS",
		Status:         domain.StatusPartiallyRefunded,
		GatewayRef:     &gatewayRef,
		RefundedAmount: 1250,
		Splits: []domain.Split{
			{RecipientID: "landlord", Amount: 4000},
			{RecipientID: "agency", Amount: 1000},
		},
		Schedule: &domain.RecurringSchedule{
			ID:              uuid.New(),
			Frequency:       domain.FrequencyMonthly,
			NextPaymentDate: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			IsActive:        true,
		},
	}

	resp := buildPaymentResponse(record)
	if resp.Amount != "50.00" {
		t.Fatalf("expected amount 50.00, got %q", resp.Amount)
	}
	if resp.RefundedAmount != "12.50" {
		t.Fatalf("expected refunded amount 12.50, got %q", resp.RefundedAmount)
	}
	if len(resp.Splits) != 2 || resp.Splits[0].Amount != "40.00" {
		t.Fatalf("expected split amounts in major units, got %+v", resp.Splits)
	}
	if resp.Schedule == nil || resp.Schedule.Frequency != domain.FrequencyMonthly {
		t.Fatal("expected the schedule to be projected")
	}
	if resp.GatewayRef == nil || *resp.GatewayRef != "gw-7" {
		t.Fatal("expected the gateway reference to be projected")
	}
}

func TestPaymentListURLRoundTrip(t *testing.T) {
	// Guards the filter names the mobile client sends.
	raw := "/payments?" + url.Values{
		"status":  {"failed"},
		"channel": {"ussd"},
		"page":    {"2"},
	}.Encode()
	r := httptest.NewRequest("GET", raw, nil)
	filters, err := parsePaymentFilters(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filters.Status == nil || *filters.Status != domain.StatusFailed {
		t.Fatal("expected failed status filter")
	}
	if filters.Channel == nil || *filters.Channel != domain.ChannelUSSD {
		t.Fatal("expected ussd channel filter")
	}
	if queryInt(r, "page", 1) != 2 {
		t.Fatal("expected page 2")
	}
}
