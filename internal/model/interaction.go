// internal/model/interaction.go
package model

import "time"

// Interaction kinds. Replies and reactions count as engagement for the
// follow-up window; delivery and read acks are status bookkeeping only.
const (
	InteractionReply       = "reply"
	InteractionReaction    = "reaction"
	InteractionDeliveryAck = "delivery_ack"
	InteractionReadAck     = "read_ack"
)

// Interaction is an append-only audit record of an inbound provider event.
type Interaction struct {
	ID          int       `db:"id" json:"id"`
	CampaignID  int       `db:"campaign_id" json:"campaign_id"`
	RecipientID int       `db:"recipient_id" json:"recipient_id"`
	MessageID   *int      `db:"message_id" json:"message_id,omitempty"`
	Kind        string    `db:"kind" json:"kind"`
	Payload     string    `db:"payload" json:"payload"`
	OccurredAt  time.Time `db:"occurred_at" json:"occurred_at"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
