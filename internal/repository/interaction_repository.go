package repository

import (
	"database/sql"

	"github.com/lib/pq"

	"github.com/komi12345/ChatbotFrance-sub000/internal/model"
)

type InteractionRepositoryInterface interface {
	Create(i *model.Interaction) error
	// HasEngagement reports whether the recipient replied or reacted within
	// the campaign. Delivery/read acks do not count.
	HasEngagement(campaignID, recipientID int) (bool, error)
}

type InteractionRepository struct {
	DB *sql.DB
}

func (r *InteractionRepository) Create(i *model.Interaction) error {
	query := `
        INSERT INTO interactions (campaign_id, recipient_id, message_id, kind, payload, occurred_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())
        RETURNING id, created_at
    `
	return r.DB.QueryRow(query,
		i.CampaignID, i.RecipientID, i.MessageID, i.Kind, i.Payload, i.OccurredAt,
	).Scan(&i.ID, &i.CreatedAt)
}

func (r *InteractionRepository) HasEngagement(campaignID, recipientID int) (bool, error) {
	var exists bool
	query := `
        SELECT EXISTS(
            SELECT 1 FROM interactions
            WHERE campaign_id=$1 AND recipient_id=$2 AND kind = ANY($3)
        )
    `
	err := r.DB.QueryRow(query, campaignID, recipientID, pq.Array([]string{
		model.InteractionReply, model.InteractionReaction,
	})).Scan(&exists)
	return exists, err
}

var _ InteractionRepositoryInterface = (*InteractionRepository)(nil)
