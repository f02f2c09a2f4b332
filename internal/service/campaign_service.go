// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/komi12345/ChatbotFrance-sub000/internal/errors"
	"github.com/komi12345/ChatbotFrance-sub000/internal/model"
	"github.com/komi12345/ChatbotFrance-sub000/internal/queue"
	"github.com/komi12345/ChatbotFrance-sub000/internal/quota"
	"github.com/komi12345/ChatbotFrance-sub000/internal/repository"
)

// CampaignService owns the campaign state machine: fan-out on start, the
// idempotent completion recomputation, and the control-surface operations.
type CampaignService struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	MessageRepo   repository.MessageRepositoryInterface
	Queue         queue.Queue
	Quota         *quota.Tracker
	SendTopic     string
	Log           zerolog.Logger
}

// StartCampaignResult reports what the fan-out did.
type StartCampaignResult struct {
	CampaignID     int    `json:"campaign_id"`
	MessagesQueued int    `json:"messages_queued"`
	Status         string `json:"status"`
	MessageIDs     []int  `json:"message_ids"`
}

type CampaignDetails struct {
	ID               int            `json:"id"`
	Name             string         `json:"name"`
	Channel          string         `json:"channel"`
	Status           string         `json:"status"`
	BaseTemplate     string         `json:"base_template"`
	FollowUpTemplate string         `json:"follow_up_template"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        *time.Time     `json:"updated_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	Stats            map[string]int `json:"stats"`
	FollowUpStats    map[string]int `json:"follow_up_stats"`
}

func (s *CampaignService) CreateCampaign(name, channel, baseTemplate, followUpTemplate string) (*model.Campaign, error) {
	if strings.TrimSpace(baseTemplate) == "" {
		return nil, fmt.Errorf("base template cannot be empty")
	}
	c := &model.Campaign{
		Name:             name,
		Channel:          channel,
		BaseTemplate:     baseTemplate,
		FollowUpTemplate: followUpTemplate,
		Status:           model.CampaignDraft,
	}
	if err := s.CampaignRepo.Create(c); err != nil {
		return nil, err
	}
	return c, nil
}

// StartCampaign transitions draft → sending: one pending initial message per
// active recipient, deduplicated, each enqueued for the delivery workers.
// A failure on one recipient never aborts creation for the rest.
func (s *CampaignService) StartCampaign(ctx context.Context, campaignID int) (*StartCampaignResult, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignDraft && campaign.Status != model.CampaignSending {
		return nil, appErrors.NewInvalidCampaignState(campaignID, campaign.Status)
	}

	recipients, err := s.RecipientRepo.ListActive()
	if err != nil {
		return nil, err
	}

	if _, err := s.Quota.Reserve(ctx, len(recipients)); err != nil {
		return nil, err
	}

	result := &StartCampaignResult{
		CampaignID: campaignID,
		Status:     model.CampaignSending,
		MessageIDs: []int{},
	}

	for i := range recipients {
		recipient := &recipients[i]
		content := RenderTemplate(campaign.BaseTemplate, recipient)

		msg, created, err := s.MessageRepo.CreateIfAbsent(campaignID, recipient.ID, model.StageInitial, content)
		if err != nil {
			s.Log.Warn().Err(err).
				Int("campaign_id", campaignID).
				Int("recipient_id", recipient.ID).
				Msg("failed to create initial message, continuing")
			continue
		}
		if !created && msg.Status != model.StatusPending {
			// Already processed on a previous run; nothing to enqueue.
			continue
		}

		if err := s.Queue.Publish(s.SendTopic, queue.SendJob{MessageID: msg.ID}); err != nil {
			s.Log.Warn().Err(err).Int("message_id", msg.ID).Msg("failed to enqueue message")
			continue
		}
		result.MessageIDs = append(result.MessageIDs, msg.ID)
		result.MessagesQueued++
	}

	if campaign.Status != model.CampaignSending {
		if err := s.CampaignRepo.UpdateStatus(campaignID, model.CampaignSending); err != nil {
			return result, err
		}
	}
	return result, nil
}

// StopCampaign force-fails every message still pending and recomputes the
// campaign status. Already-dispatched messages are unaffected; a send in
// flight cannot be recalled from the channel.
func (s *CampaignService) StopCampaign(campaignID int) (int64, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return 0, err
	}
	if campaign.Status != model.CampaignSending {
		return 0, appErrors.NewInvalidCampaignState(campaignID, campaign.Status)
	}

	n, err := s.MessageRepo.FailPendingByCampaign(campaignID, "campaign stopped by operator")
	if err != nil {
		return 0, err
	}
	if _, err := s.RecomputeCompletion(campaignID); err != nil {
		return n, err
	}
	return n, nil
}

// RetryFailedMessages re-queues every failed message of the campaign. Each
// reset goes back to pending with its retry counter bumped.
func (s *CampaignService) RetryFailedMessages(campaignID int) (int, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return 0, err
	}

	ids, err := s.MessageRepo.ListIDsByStatus(campaignID, model.StatusFailed)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, id := range ids {
		if err := s.MessageRepo.Requeue(id); err != nil {
			s.Log.Warn().Err(err).Int("message_id", id).Msg("failed to requeue message")
			continue
		}
		if err := s.Queue.Publish(s.SendTopic, queue.SendJob{MessageID: id}); err != nil {
			s.Log.Warn().Err(err).Int("message_id", id).Msg("failed to enqueue requeued message")
			continue
		}
		requeued++
	}

	if requeued > 0 && campaign.Status != model.CampaignSending {
		if err := s.CampaignRepo.UpdateStatus(campaignID, model.CampaignSending); err != nil {
			return requeued, err
		}
	}
	return requeued, nil
}

// RecomputeCompletion re-derives the campaign status and aggregate counts from
// its messages. Idempotent: running it twice yields the same result. Returns
// the resulting status.
func (s *CampaignService) RecomputeCompletion(campaignID int) (string, error) {
	counts, err := s.MessageRepo.CountByStatus(campaignID)
	if err != nil {
		return "", err
	}

	pending := counts[model.StatusPending]
	delivered := counts[model.StatusSent] + counts[model.StatusDelivered] + counts[model.StatusRead]
	noInteraction := counts[model.StatusNoInteraction]
	failed := counts[model.StatusFailed]
	total := pending + delivered + noInteraction + failed

	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return "", err
	}

	status := campaign.Status
	completed := false
	if total > 0 && pending == 0 {
		if delivered+noInteraction > 0 {
			status = model.CampaignCompleted
		} else {
			status = model.CampaignFailed
		}
		completed = true
	}

	agg := model.Campaign{
		PendingCount:       pending,
		SentCount:          delivered,
		FailedCount:        failed,
		NoInteractionCount: noInteraction,
	}
	if err := s.CampaignRepo.UpdateCompletion(campaignID, status, agg, completed); err != nil {
		return "", err
	}
	return status, nil
}

// GetCampaignStats returns per-status counts split by stage.
func (s *CampaignService) GetCampaignStats(campaignID int) (map[string]map[string]int, error) {
	if _, err := s.CampaignRepo.GetByID(campaignID); err != nil {
		return nil, err
	}
	return s.MessageRepo.CountByStageStatus(campaignID)
}

func (s *CampaignService) ListCampaigns(page, pageSize int, channel, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(offset, pageSize, channel, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(campaignID int) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}

	byStage, err := s.MessageRepo.CountByStageStatus(campaignID)
	if err != nil {
		return nil, err
	}

	stats := map[string]int{
		"total": 0, "pending": 0, "sent": 0, "delivered": 0,
		"read": 0, "failed": 0, "no_interaction": 0,
	}
	for status, n := range byStage[model.StageInitial] {
		stats[status] = n
		stats["total"] += n
	}
	followUp := map[string]int{}
	for status, n := range byStage[model.StageFollowUp] {
		followUp[status] = n
	}

	return &CampaignDetails{
		ID:               campaign.ID,
		Name:             campaign.Name,
		Channel:          campaign.Channel,
		Status:           campaign.Status,
		BaseTemplate:     campaign.BaseTemplate,
		FollowUpTemplate: campaign.FollowUpTemplate,
		CreatedAt:        campaign.CreatedAt,
		UpdatedAt:        campaign.UpdatedAt,
		CompletedAt:      campaign.CompletedAt,
		Stats:            stats,
		FollowUpStats:    followUp,
	}, nil
}

// RenderPreview renders the initial-stage template for one recipient, with an
// optional override template for dashboard experimentation.
func (s *CampaignService) RenderPreview(campaignID, recipientID int, overrideTemplate *string) (string, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return "", err
	}

	recipient, err := s.RecipientRepo.GetByID(recipientID)
	if err != nil {
		return "", err
	}
	if recipient == nil {
		return "", appErrors.NewRecipientNotFound(recipientID)
	}

	template := campaign.BaseTemplate
	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		template = *overrideTemplate
	}
	if strings.TrimSpace(template) == "" {
		return "", fmt.Errorf("template cannot be empty")
	}
	return RenderTemplate(template, recipient), nil
}
