// internal/webhook/event.go
package webhook

import "time"

// Event types after normalization.
const (
	EventStatus   = "status"
	EventReply    = "reply"
	EventReaction = "reaction"
)

// Event is the normalized shape of an inbound provider notification. The HTTP
// layer translates each provider's payload into this before anything else
// looks at it.
type Event struct {
	Type              string    `json:"type"`
	Status            string    `json:"status,omitempty"` // delivered|read, status events only
	RecipientPhone    string    `json:"recipient_phone,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	Payload           string    `json:"payload,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}
