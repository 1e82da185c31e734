package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// ErrUnknownStatus is returned for gateway statuses outside the translation table.
var ErrUnknownStatus = errors.New("unknown gateway status")

// Status is the gateway's own invoice status vocabulary.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusSettled Status = "SETTLED"
	StatusExpired Status = "EXPIRED"
	StatusFailed  Status = "FAILED"
)

// statusTable is the complete mapping into internal payment statuses. Anything
// absent is rejected rather than guessed.
var statusTable = map[Status]enums.PaymentStatus{
	StatusPending: enums.PaymentStatusPending,
	StatusPaid:    enums.PaymentStatusPaid,
	StatusSettled: enums.PaymentStatusPaid,
	StatusExpired: enums.PaymentStatusExpired,
	StatusFailed:  enums.PaymentStatusFailed,
}

// Translate maps a raw gateway status to the internal enum.
func Translate(raw string) (enums.PaymentStatus, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if mapped, ok := statusTable[status]; ok {
		return mapped, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}
