package notification

import (
	"fmt"
	"time"

	"github.com/bounty-escrow-ledger/internal/domain/escrow"
	"github.com/bounty-escrow-ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Notification is one inbox entry. (EventID, RecipientID) is unique, so a
// redelivered event never produces a second entry for the same user.
type Notification struct {
	EventID     string           `bson:"event_id" json:"event_id"`
	RecipientID string           `bson:"recipient_id" json:"recipient_id"`
	BountyID    string           `bson:"bounty_id" json:"bounty_id"`
	EventType   shared.EventType `bson:"event_type" json:"event_type"`
	Title       string           `bson:"title" json:"title"`
	Body        string           `bson:"body" json:"body"`
	Amount      int64            `bson:"amount" json:"amount"`
	Currency    string           `bson:"currency" json:"currency"`
	CreatedAt   time.Time        `bson:"created_at" json:"created_at"`
	ReadAt      *time.Time       `bson:"read_at,omitempty" json:"read_at,omitempty"`
}

// Compose builds the inbox entries for an escrow event, one per recipient.
// Events that users do not need to see return nil.
func Compose(eventID uuid.UUID, eventType shared.EventType, payload escrow.EventPayload, at time.Time) []*Notification {
	title, body, ok := describe(eventType, payload)
	if !ok {
		return nil
	}

	recipients := payload.Recipients()
	out := make([]*Notification, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, &Notification{
			EventID:     eventID.String(),
			RecipientID: r.String(),
			BountyID:    payload.BountyID.String(),
			EventType:   eventType,
			Title:       title,
			Body:        body,
			Amount:      payload.Amount,
			Currency:    payload.Currency,
			CreatedAt:   at,
		})
	}
	return out
}

func describe(eventType shared.EventType, p escrow.EventPayload) (string, string, bool) {
	switch eventType {
	case shared.EventEscrowCreated:
		return "Bounty funded", fmt.Sprintf("%s is held in escrow for this bounty.", money(p.Amount, p.Currency)), true
	case shared.EventEscrowReleased:
		return "Payment released", fmt.Sprintf("%s was paid out (platform fee %s).", money(p.PayeeAmount, p.Currency), money(p.PlatformFee, p.Currency)), true
	case shared.EventEscrowRefunded:
		return "Escrow refunded", fmt.Sprintf("%s was returned to the poster.", money(p.Amount, p.Currency)), true
	case shared.EventHonorTransitioned:
		return "Bounty updated", fmt.Sprintf("This bounty is now %s.", p.BountyStatus), true
	}
	return "", "", false
}

func money(minor int64, currency string) string {
	return decimal.New(minor, -2).StringFixed(2) + " " + currency
}
