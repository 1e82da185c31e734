package notifications

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

// Email is one outgoing message. Addresses are resolved by the mail
// provider from the user id.
type Email struct {
	UserID  uuid.UUID
	Subject string
	Body    string
	Link    string
}

// Mailer delivers emails. Delivery is best effort.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// LogMailer writes emails to the structured log instead of sending them.
type LogMailer struct {
	logg *logger.Logger
}

func NewLogMailer(logg *logger.Logger) *LogMailer {
	if logg == nil {
		logg = logger.Nop()
	}
	return &LogMailer{logg: logg}
}

func (m *LogMailer) Send(ctx context.Context, email Email) error {
	m.logg.Info(m.logg.WithFields(ctx, map[string]any{
		"user_id": email.UserID.String(),
		"subject": strings.TrimSpace(email.Subject),
		"link":    email.Link,
	}), "email dispatched")
	return nil
}
