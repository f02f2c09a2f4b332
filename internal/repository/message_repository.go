package repository

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/komi12345/ChatbotFrance-sub000/internal/errors"
	"github.com/komi12345/ChatbotFrance-sub000/internal/model"
)

type MessageRepositoryInterface interface {
	// CreateIfAbsent inserts a message unless one already exists for the same
	// (campaign, recipient, stage). Returns created=false when the row was
	// already there; the existing row is returned in that case.
	CreateIfAbsent(campaignID, recipientID int, stage, content string) (msg *model.Message, created bool, err error)
	GetByID(id int) (*model.Message, error)
	GetByProviderID(providerMessageID string) (*model.Message, error)
	// MarkSent transitions to sent and records the provider id. sent_at is
	// only written on the first successful send.
	MarkSent(id int, providerMessageID string, sentAt time.Time) error
	MarkFailed(id int, reason string) error
	// ScheduleRetry keeps the message pending, bumps retry_count and records
	// when the next attempt may run.
	ScheduleRetry(id int, reason string, nextAttempt time.Time) error
	// Requeue resets a failed message to pending for a manual retry.
	Requeue(id int) error
	// AdvanceStatus moves the message forward on the delivery track only if
	// its current status is one of allowedFrom. Returns whether a row changed.
	AdvanceStatus(id int, status string, allowedFrom []string) (bool, error)
	// MarkNoInteraction closes an initial-stage message that got no reply
	// within the window. Only valid from sent/delivered/read.
	MarkNoInteraction(id int) (bool, error)
	FailPendingByCampaign(campaignID int, reason string) (int64, error)
	CountByStatus(campaignID int) (map[string]int, error)
	CountByStageStatus(campaignID int) (map[string]map[string]int, error)
	// LatestQualifyingInitial finds the most recent initial message to the
	// recipient that was sent after the cutoff and has progressed past pending.
	LatestQualifyingInitial(recipientID int, sentAfter time.Time) (*model.Message, error)
	// LatestInitial finds the recipient's most recent initial message in any
	// status, for attributing engagement that arrived after the reply window
	// was swept.
	LatestInitial(recipientID int) (*model.Message, error)
	FollowUpExists(campaignID, recipientID int) (bool, error)
	ListExpiredInitial(sentBefore time.Time) ([]*model.Message, error)
	ListIDsByStatus(campaignID int, status string) ([]int, error)
}

type MessageRepository struct {
	DB *sql.DB
}

const messageColumns = `id, campaign_id, recipient_id, stage, status, rendered_content,
        provider_message_id, last_error, retry_count, next_attempt_at, sent_at,
        created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (*model.Message, error) {
	var m model.Message
	err := row.Scan(
		&m.ID, &m.CampaignID, &m.RecipientID, &m.Stage, &m.Status, &m.RenderedContent,
		&m.ProviderMessageID, &m.LastError, &m.RetryCount, &m.NextAttemptAt, &m.SentAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MessageRepository) CreateIfAbsent(campaignID, recipientID int, stage, content string) (*model.Message, bool, error) {
	query := `
        INSERT INTO messages (campaign_id, recipient_id, stage, status, rendered_content, created_at, updated_at)
        VALUES ($1, $2, $3, 'pending', $4, NOW(), NOW())
        ON CONFLICT (campaign_id, recipient_id, stage) DO NOTHING
        RETURNING ` + messageColumns

	msg, err := scanMessage(r.DB.QueryRow(query, campaignID, recipientID, stage, content))
	if err == nil {
		return msg, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, err
	}

	// Lost the race or the row predates this call; fetch the existing one.
	existing := `SELECT ` + messageColumns + ` FROM messages
        WHERE campaign_id=$1 AND recipient_id=$2 AND stage=$3`
	msg, err = scanMessage(r.DB.QueryRow(existing, campaignID, recipientID, stage))
	if err != nil {
		return nil, false, err
	}
	return msg, false, nil
}

func (r *MessageRepository) GetByID(id int) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id=$1`
	msg, err := scanMessage(r.DB.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewMessageNotFound(id)
	}
	return msg, err
}

func (r *MessageRepository) GetByProviderID(providerMessageID string) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE provider_message_id=$1`
	msg, err := scanMessage(r.DB.QueryRow(query, providerMessageID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

func (r *MessageRepository) MarkSent(id int, providerMessageID string, sentAt time.Time) error {
	query := `
        UPDATE messages
        SET status='sent', provider_message_id=$1, last_error=NULL,
            next_attempt_at=NULL, sent_at=COALESCE(sent_at, $2), updated_at=NOW()
        WHERE id=$3
    `
	_, err := r.DB.Exec(query, providerMessageID, sentAt, id)
	return err
}

func (r *MessageRepository) MarkFailed(id int, reason string) error {
	query := `
        UPDATE messages
        SET status='failed', last_error=$1, next_attempt_at=NULL, updated_at=NOW()
        WHERE id=$2
    `
	_, err := r.DB.Exec(query, reason, id)
	return err
}

func (r *MessageRepository) ScheduleRetry(id int, reason string, nextAttempt time.Time) error {
	query := `
        UPDATE messages
        SET status='pending', last_error=$1, retry_count=retry_count+1,
            next_attempt_at=$2, updated_at=NOW()
        WHERE id=$3
    `
	_, err := r.DB.Exec(query, reason, nextAttempt, id)
	return err
}

func (r *MessageRepository) Requeue(id int) error {
	query := `
        UPDATE messages
        SET status='pending', retry_count=retry_count+1, next_attempt_at=NULL, updated_at=NOW()
        WHERE id=$1 AND status='failed'
    `
	_, err := r.DB.Exec(query, id)
	return err
}

func (r *MessageRepository) AdvanceStatus(id int, status string, allowedFrom []string) (bool, error) {
	query := `
        UPDATE messages
        SET status=$1, updated_at=NOW()
        WHERE id=$2 AND status = ANY($3)
    `
	res, err := r.DB.Exec(query, status, id, pq.Array(allowedFrom))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *MessageRepository) MarkNoInteraction(id int) (bool, error) {
	query := `
        UPDATE messages
        SET status='no_interaction', updated_at=NOW()
        WHERE id=$1 AND stage='initial' AND status = ANY($2)
    `
	res, err := r.DB.Exec(query, id, pq.Array([]string{
		model.StatusSent, model.StatusDelivered, model.StatusRead,
	}))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *MessageRepository) FailPendingByCampaign(campaignID int, reason string) (int64, error) {
	query := `
        UPDATE messages
        SET status='failed', last_error=$1, next_attempt_at=NULL, updated_at=NOW()
        WHERE campaign_id=$2 AND status='pending'
    `
	res, err := r.DB.Exec(query, reason, campaignID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *MessageRepository) CountByStatus(campaignID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM messages WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *MessageRepository) CountByStageStatus(campaignID int) (map[string]map[string]int, error) {
	query := `SELECT stage, status, COUNT(*) FROM messages WHERE campaign_id=$1 GROUP BY stage, status`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]map[string]int{}
	for rows.Next() {
		var stage, status string
		var n int
		if err := rows.Scan(&stage, &status, &n); err != nil {
			return nil, err
		}
		if counts[stage] == nil {
			counts[stage] = map[string]int{}
		}
		counts[stage][status] = n
	}
	return counts, rows.Err()
}

func (r *MessageRepository) LatestQualifyingInitial(recipientID int, sentAfter time.Time) (*model.Message, error) {
	query := `
        SELECT ` + messageColumns + `
        FROM messages
        WHERE recipient_id=$1 AND stage='initial'
          AND status = ANY($2)
          AND sent_at IS NOT NULL AND sent_at >= $3
        ORDER BY sent_at DESC
        LIMIT 1
    `
	msg, err := scanMessage(r.DB.QueryRow(query, recipientID, pq.Array([]string{
		model.StatusSent, model.StatusDelivered, model.StatusRead,
	}), sentAfter))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

func (r *MessageRepository) LatestInitial(recipientID int) (*model.Message, error) {
	query := `
        SELECT ` + messageColumns + `
        FROM messages
        WHERE recipient_id=$1 AND stage='initial'
        ORDER BY id DESC
        LIMIT 1
    `
	msg, err := scanMessage(r.DB.QueryRow(query, recipientID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

func (r *MessageRepository) FollowUpExists(campaignID, recipientID int) (bool, error) {
	var exists bool
	query := `
        SELECT EXISTS(
            SELECT 1 FROM messages
            WHERE campaign_id=$1 AND recipient_id=$2 AND stage='follow_up'
        )
    `
	err := r.DB.QueryRow(query, campaignID, recipientID).Scan(&exists)
	return exists, err
}

func (r *MessageRepository) ListExpiredInitial(sentBefore time.Time) ([]*model.Message, error) {
	query := `
        SELECT ` + messageColumns + `
        FROM messages
        WHERE stage='initial' AND status = ANY($1) AND sent_at < $2
    `
	rows, err := r.DB.Query(query, pq.Array([]string{
		model.StatusSent, model.StatusDelivered, model.StatusRead,
	}), sentBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []*model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *MessageRepository) ListIDsByStatus(campaignID int, status string) ([]int, error) {
	rows, err := r.DB.Query(
		`SELECT id FROM messages WHERE campaign_id=$1 AND status=$2 ORDER BY id`,
		campaignID, status)
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

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
