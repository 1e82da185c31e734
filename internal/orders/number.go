package orders

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const suffixLen = 10

// NumberGenerator builds human-readable order numbers such as
// ORD-20260301-01J9ZK4M7Q. Uniqueness is checked by the caller and enforced
// by ux_orders_order_number.
type NumberGenerator struct {
	prefix  string
	entropy io.Reader
}

func NewNumberGenerator(prefix string, entropy io.Reader) *NumberGenerator {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "ORD"
	}
	if entropy == nil {
		entropy = rand.Reader
	}
	return &NumberGenerator{prefix: prefix, entropy: entropy}
}

// Next returns a candidate number stamped with the UTC day of now.
func (g *NumberGenerator) Next(now time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now), g.entropy)
	if err != nil {
		return "", fmt.Errorf("generate order number: %w", err)
	}
	s := id.String()
	return fmt.Sprintf("%s-%s-%s", g.prefix, now.UTC().Format("20060102"), s[len(s)-suffixLen:]), nil
}
