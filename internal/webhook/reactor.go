// internal/webhook/reactor.go
package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/komi12345/ChatbotFrance-sub000/internal/model"
	"github.com/komi12345/ChatbotFrance-sub000/internal/queue"
	"github.com/komi12345/ChatbotFrance-sub000/internal/repository"
	"github.com/komi12345/ChatbotFrance-sub000/internal/service"
)

// Reactor consumes normalized inbound events: it advances message delivery
// statuses, appends the interaction audit trail, and triggers the follow-up
// message when a recipient engages within the reply window.
//
// The at-most-once follow-up guarantee has two independent layers: the
// create-if-absent insert (partial unique index on campaign+recipient for the
// follow-up stage) and the delivery worker's send lock. Concurrent events for
// the same recipient can both reach the insert; only one row ever lands.
type Reactor struct {
	CampaignRepo    repository.CampaignRepositoryInterface
	MessageRepo     repository.MessageRepositoryInterface
	RecipientRepo   repository.RecipientRepositoryInterface
	InteractionRepo repository.InteractionRepositoryInterface
	Queue           queue.Queue

	SendTopic     string
	FollowUpDelay time.Duration
	Window        time.Duration
	Log           zerolog.Logger

	// Now is swappable in tests.
	Now func() time.Time
}

func (r *Reactor) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Handle processes one event. Errors are for the async processor to log and
// retry; they are never surfaced to the provider.
func (r *Reactor) Handle(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventStatus:
		return r.handleStatus(ev)
	case EventReply, EventReaction:
		return r.handleEngagement(ev)
	default:
		r.Log.Warn().Str("type", ev.Type).Msg("ignoring unknown event type")
		return nil
	}
}

func (r *Reactor) handleStatus(ev Event) error {
	msg, err := r.MessageRepo.GetByProviderID(ev.ProviderMessageID)
	if err != nil {
		return err
	}
	if msg == nil {
		r.Log.Debug().Str("provider_message_id", ev.ProviderMessageID).Msg("status event for unknown message")
		return nil
	}

	var newStatus, kind string
	switch ev.Status {
	case model.StatusDelivered:
		newStatus, kind = model.StatusDelivered, model.InteractionDeliveryAck
	case model.StatusRead:
		// A read ack implies delivery; advancing straight to read covers both.
		newStatus, kind = model.StatusRead, model.InteractionReadAck
	default:
		r.Log.Warn().Str("status", ev.Status).Msg("ignoring unknown status value")
		return nil
	}

	// Monotonic: never step backwards, never touch terminal statuses.
	advanced := false
	if !model.IsTerminalStatus(msg.Status) {
		allowed := allowedPredecessors(newStatus)
		if advanced, err = r.MessageRepo.AdvanceStatus(msg.ID, newStatus, allowed); err != nil {
			return err
		}
	}
	if !advanced {
		r.Log.Debug().Int("message_id", msg.ID).Str("status", newStatus).Msg("status event arrived out of order, no-op")
	}

	return r.InteractionRepo.Create(&model.Interaction{
		CampaignID:  msg.CampaignID,
		RecipientID: msg.RecipientID,
		MessageID:   &msg.ID,
		Kind:        kind,
		Payload:     ev.Payload,
		OccurredAt:  eventTime(ev, r.now()),
	})
}

func (r *Reactor) handleEngagement(ev Event) error {
	recipient, err := r.RecipientRepo.GetByPhone(ev.RecipientPhone)
	if err != nil {
		return err
	}
	if recipient == nil {
		r.Log.Debug().Str("phone", ev.RecipientPhone).Msg("engagement from unknown recipient")
		return nil
	}

	now := r.now()
	qualifying, err := r.MessageRepo.LatestQualifyingInitial(recipient.ID, now.Add(-r.Window))
	if err != nil {
		return err
	}

	kind := model.InteractionReply
	if ev.Type == EventReaction {
		kind = model.InteractionReaction
	}

	if qualifying == nil {
		// Outside the window or nothing sent; the event is still recorded
		// when we can attribute a campaign to it.
		r.recordUnattributed(recipient, kind, ev)
		return nil
	}

	if err := r.InteractionRepo.Create(&model.Interaction{
		CampaignID:  qualifying.CampaignID,
		RecipientID: recipient.ID,
		MessageID:   &qualifying.ID,
		Kind:        kind,
		Payload:     ev.Payload,
		OccurredAt:  eventTime(ev, now),
	}); err != nil {
		return err
	}

	return r.triggerFollowUp(qualifying, recipient)
}

// triggerFollowUp creates the second-stage message if none exists yet for the
// (campaign, recipient) pair, and enqueues it with a short pacing delay.
func (r *Reactor) triggerFollowUp(initial *model.Message, recipient *model.Recipient) error {
	exists, err := r.MessageRepo.FollowUpExists(initial.CampaignID, recipient.ID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	campaign, err := r.CampaignRepo.GetByID(initial.CampaignID)
	if err != nil {
		return err
	}
	if campaign.FollowUpTemplate == "" {
		r.Log.Debug().Int("campaign_id", campaign.ID).Msg("campaign has no follow-up template")
		return nil
	}

	content := service.RenderTemplate(campaign.FollowUpTemplate, recipient)
	msg, created, err := r.MessageRepo.CreateIfAbsent(campaign.ID, recipient.ID, model.StageFollowUp, content)
	if err != nil {
		return fmt.Errorf("create follow-up: %w", err)
	}
	if !created {
		// Lost the race against a concurrent event. The winner enqueued it.
		return nil
	}

	r.Log.Info().
		Int("campaign_id", campaign.ID).
		Int("recipient_id", recipient.ID).
		Int("message_id", msg.ID).
		Msg("follow-up triggered")
	return r.Queue.PublishDelayed(r.SendTopic, queue.SendJob{MessageID: msg.ID}, r.FollowUpDelay)
}

// recordUnattributed keeps the audit trail for engagement that arrived too
// late to qualify, attributed to the recipient's most recent campaign contact.
// The lookup ignores message status: the sweep may already have closed the
// initial message as no_interaction.
func (r *Reactor) recordUnattributed(recipient *model.Recipient, kind string, ev Event) {
	latest, err := r.MessageRepo.LatestInitial(recipient.ID)
	if err != nil || latest == nil {
		r.Log.Debug().Int("recipient_id", recipient.ID).Msg("engagement with no campaign to attribute")
		return
	}
	if err := r.InteractionRepo.Create(&model.Interaction{
		CampaignID:  latest.CampaignID,
		RecipientID: recipient.ID,
		MessageID:   &latest.ID,
		Kind:        kind,
		Payload:     ev.Payload,
		OccurredAt:  eventTime(ev, r.now()),
	}); err != nil {
		r.Log.Warn().Err(err).Int("recipient_id", recipient.ID).Msg("failed to record late interaction")
	}
}

// allowedPredecessors lists the statuses a message may hold for the advance to
// count as a forward step. Pending is excluded: an ack for a message we never
// marked sent must not skip the send bookkeeping.
func allowedPredecessors(status string) []string {
	var out []string
	for _, from := range []string{model.StatusSent, model.StatusDelivered} {
		if model.StatusAdvances(from, status) {
			out = append(out, from)
		}
	}
	return out
}

func eventTime(ev Event, fallback time.Time) time.Time {
	if !ev.Timestamp.IsZero() {
		return ev.Timestamp
	}
	return fallback
}
