package repository

import (
	"database/sql"
	"fmt"
	"time"

	appErrors "github.com/komi12345/ChatbotFrance-sub000/internal/errors"
	"github.com/komi12345/ChatbotFrance-sub000/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	GetByID(id int) (*model.Campaign, error)
	ListCampaigns(offset, limit int, channel, status string) ([]*model.Campaign, int, error)
	UpdateStatus(campaignID int, status string) error
	// UpdateCompletion persists the recomputed status, aggregate counts and,
	// when the campaign just finished, the completion timestamp (set once).
	UpdateCompletion(campaignID int, status string, counts model.Campaign, completed bool) error
	ListSendingCreatedBefore(cutoff time.Time) ([]*model.Campaign, error)
	// ListSendingStalled returns ids of sending campaigns with no pending
	// message and no message activity since the cutoff.
	ListSendingStalled(cutoff time.Time) ([]int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, channel, status, base_template, follow_up_template,
        pending_count, sent_count, failed_count, no_interaction_count,
        created_at, updated_at, completed_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.Name, &c.Channel, &c.Status, &c.BaseTemplate, &c.FollowUpTemplate,
		&c.PendingCount, &c.SentCount, &c.FailedCount, &c.NoInteractionCount,
		&c.CreatedAt, &c.UpdatedAt, &c.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) Create(c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	query := `
        INSERT INTO campaigns (name, channel, status, base_template, follow_up_template, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id
    `
	return r.DB.QueryRow(query, c.Name, c.Channel, c.Status, c.BaseTemplate, c.FollowUpTemplate, c.CreatedAt).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, err
}

func (r *CampaignRepository) ListCampaigns(offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []any{}
	argPos := 1

	if channel != "" {
		query += fmt.Sprintf(" AND channel=$%d", argPos)
		args = append(args, channel)
		argPos++
	}
	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	countArgs := []any{}
	argPos = 1
	if channel != "" {
		countQuery += fmt.Sprintf(" AND channel=$%d", argPos)
		countArgs = append(countArgs, channel)
		argPos++
	}
	if status != "" {
		countQuery += fmt.Sprintf(" AND status=$%d", argPos)
		countArgs = append(countArgs, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

func (r *CampaignRepository) UpdateStatus(campaignID int, status string) error {
	query := `UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, status, campaignID)
	return err
}

func (r *CampaignRepository) UpdateCompletion(campaignID int, status string, counts model.Campaign, completed bool) error {
	query := `
        UPDATE campaigns
        SET status=$1,
            pending_count=$2, sent_count=$3, failed_count=$4, no_interaction_count=$5,
            completed_at = CASE WHEN $6 THEN COALESCE(completed_at, NOW()) ELSE completed_at END,
            updated_at=NOW()
        WHERE id=$7
    `
	_, err := r.DB.Exec(query, status,
		counts.PendingCount, counts.SentCount, counts.FailedCount, counts.NoInteractionCount,
		completed, campaignID)
	return err
}

func (r *CampaignRepository) ListSendingCreatedBefore(cutoff time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status=$1 AND created_at < $2`
	rows, err := r.DB.Query(query, model.CampaignSending, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *CampaignRepository) ListSendingStalled(cutoff time.Time) ([]int, error) {
	query := `
        SELECT c.id
        FROM campaigns c
        WHERE c.status = $1
          AND NOT EXISTS (
              SELECT 1 FROM messages m
              WHERE m.campaign_id = c.id AND m.status = $2
          )
          AND COALESCE(
              (SELECT MAX(m.updated_at) FROM messages m WHERE m.campaign_id = c.id),
              c.created_at
          ) < $3
    `
	rows, err := r.DB.Query(query, model.CampaignSending, model.StatusPending, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
