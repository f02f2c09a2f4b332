// internal/model/message.go
package model

import "time"

// Message stages. A campaign sends one initial message per recipient, and at
// most one follow-up if the recipient engages within the reply window.
const (
	StageInitial  = "initial"
	StageFollowUp = "follow_up"
)

// Message statuses.
const (
	StatusPending       = "pending"
	StatusSent          = "sent"
	StatusDelivered     = "delivered"
	StatusRead          = "read"
	StatusFailed        = "failed"
	StatusNoInteraction = "no_interaction"
)

// statusRank orders the delivery progression so status updates from out-of-order
// webhook events can never move a message backwards. Terminal statuses are not
// ranked; they are guarded explicitly.
var statusRank = map[string]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// StatusAdvances reports whether moving from to next is a forward step on the
// pending→sent→delivered→read track.
func StatusAdvances(from, next string) bool {
	f, okF := statusRank[from]
	n, okN := statusRank[next]
	return okF && okN && n > f
}

// IsTerminalStatus reports whether a message can no longer transition except
// through a manual retry re-queue.
func IsTerminalStatus(status string) bool {
	return status == StatusFailed || status == StatusNoInteraction
}

type Message struct {
	ID                int        `db:"id" json:"id"`
	CampaignID        int        `db:"campaign_id" json:"campaign_id"`
	RecipientID       int        `db:"recipient_id" json:"recipient_id"`
	Stage             string     `db:"stage" json:"stage"`
	Status            string     `db:"status" json:"status"`
	RenderedContent   string     `db:"rendered_content" json:"rendered_content"`
	ProviderMessageID *string    `db:"provider_message_id" json:"provider_message_id,omitempty"`
	LastError         *string    `db:"last_error" json:"last_error,omitempty"`
	RetryCount        int        `db:"retry_count" json:"retry_count"`
	NextAttemptAt     *time.Time `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
	SentAt            *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}
