package gateway

import (
	"errors"
	"testing"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

func TestTranslateIsExhaustive(t *testing.T) {
	cases := map[string]enums.PaymentStatus{
		"PENDING":   enums.PaymentStatusPending,
		"PAID":      enums.PaymentStatusPaid,
		"SETTLED":   enums.PaymentStatusPaid,
		"EXPIRED":   enums.PaymentStatusExpired,
		"FAILED":    enums.PaymentStatusFailed,
		" settled ": enums.PaymentStatusPaid,
	}
	for raw, want := range cases {
		got, err := Translate(raw)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", raw, err)
		}
		if got != want {
			t.Fatalf("%q: expected %s got %s", raw, want, got)
		}
	}
	if len(statusTable) != 5 {
		t.Fatalf("translation table changed size; update tests")
	}
}

func TestTranslateRejectsUnknown(t *testing.T) {
	for _, raw := range []string{"", "VOIDED", "REFUNDED", "paid!"} {
		if _, err := Translate(raw); !errors.Is(err, ErrUnknownStatus) {
			t.Fatalf("%q: expected ErrUnknownStatus, got %v", raw, err)
		}
	}
}
