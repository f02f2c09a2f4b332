// internal/model/campaign.go
package model

import "time"

// Campaign statuses.
const (
	CampaignDraft     = "draft"
	CampaignSending   = "sending"
	CampaignCompleted = "completed"
	CampaignFailed    = "failed"
)

type Campaign struct {
	ID                 int        `db:"id" json:"id"`
	Name               string     `db:"name" json:"name"`
	Channel            string     `db:"channel" json:"channel"`
	Status             string     `db:"status" json:"status"`
	BaseTemplate       string     `db:"base_template" json:"base_template"`
	FollowUpTemplate   string     `db:"follow_up_template" json:"follow_up_template"`
	PendingCount       int        `db:"pending_count" json:"pending_count"`
	SentCount          int        `db:"sent_count" json:"sent_count"`
	FailedCount        int        `db:"failed_count" json:"failed_count"`
	NoInteractionCount int        `db:"no_interaction_count" json:"no_interaction_count"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          *time.Time `db:"updated_at" json:"updated_at,omitempty"`
	CompletedAt        *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
