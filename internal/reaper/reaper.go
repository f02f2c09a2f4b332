// internal/reaper/reaper.go
package reaper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/komi12345/ChatbotFrance-sub000/internal/model"
	"github.com/komi12345/ChatbotFrance-sub000/internal/quota"
	"github.com/komi12345/ChatbotFrance-sub000/internal/repository"
)

// Recomputer is the slice of the campaign service the sweeps need.
type Recomputer interface {
	RecomputeCompletion(campaignID int) (string, error)
}

// KVJanitor is the slice of the kv store the housekeeping job needs.
type KVJanitor interface {
	DeleteExpired(ctx context.Context) (int64, error)
	DeletePrefixOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error)
}

// Reaper runs the periodic reconciliation sweeps that close out what live
// traffic missed. Every sweep is idempotent and safe to run concurrently with
// the workers or with an overlapping schedule.
type Reaper struct {
	CampaignRepo    repository.CampaignRepositoryInterface
	MessageRepo     repository.MessageRepositoryInterface
	InteractionRepo repository.InteractionRepositoryInterface
	Campaigns       Recomputer
	KV              KVJanitor

	Window     time.Duration // reply window, default 24h
	CloseAfter time.Duration // hard campaign bound, default 48h
	StallIdle  time.Duration // no-activity threshold for recovery
	Log        zerolog.Logger

	// Now is swappable in tests.
	Now func() time.Time
}

func (r *Reaper) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Schedule registers all sweeps on the given cron runner.
func (r *Reaper) Schedule(c *cron.Cron) error {
	jobs := []struct {
		spec string
		name string
		run  func(context.Context) error
	}{
		{"@hourly", "expire_unanswered", r.ExpireUnanswered},
		{"@every 3h", "force_close_stuck", r.ForceCloseStuck},
		{"@every 5m", "recover_stalled", r.RecoverStalled},
		{"@daily", "housekeeping", r.Housekeep},
	}
	for _, job := range jobs {
		job := job
		if _, err := c.AddFunc(job.spec, func() {
			if err := job.run(context.Background()); err != nil {
				r.Log.Error().Err(err).Str("job", job.name).Msg("reaper job failed")
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

// ExpireUnanswered closes initial-stage messages whose reply window elapsed
// without engagement: no follow-up was created and no reply or reaction was
// recorded. Those transition to no_interaction.
func (r *Reaper) ExpireUnanswered(ctx context.Context) error {
	cutoff := r.now().Add(-r.Window)
	msgs, err := r.MessageRepo.ListExpiredInitial(cutoff)
	if err != nil {
		return err
	}

	touched := map[int]bool{}
	for _, msg := range msgs {
		exists, err := r.MessageRepo.FollowUpExists(msg.CampaignID, msg.RecipientID)
		if err != nil {
			r.Log.Warn().Err(err).Int("message_id", msg.ID).Msg("follow-up lookup failed")
			continue
		}
		if exists {
			continue
		}
		engaged, err := r.InteractionRepo.HasEngagement(msg.CampaignID, msg.RecipientID)
		if err != nil {
			r.Log.Warn().Err(err).Int("message_id", msg.ID).Msg("engagement lookup failed")
			continue
		}
		if engaged {
			continue
		}

		closed, err := r.MessageRepo.MarkNoInteraction(msg.ID)
		if err != nil {
			r.Log.Warn().Err(err).Int("message_id", msg.ID).Msg("no_interaction transition failed")
			continue
		}
		if closed {
			touched[msg.CampaignID] = true
		}
	}

	for campaignID := range touched {
		if _, err := r.Campaigns.RecomputeCompletion(campaignID); err != nil {
			r.Log.Warn().Err(err).Int("campaign_id", campaignID).Msg("completion recompute failed")
		}
	}
	if len(msgs) > 0 {
		r.Log.Info().Int("scanned", len(msgs)).Int("campaigns", len(touched)).Msg("reply window sweep done")
	}
	return nil
}

// ForceCloseStuck is the hard upper bound: campaigns still sending past the
// close deadline get their remaining pending messages failed with an explicit
// timeout reason, then their status recomputed. Supersedes any pending retry.
func (r *Reaper) ForceCloseStuck(ctx context.Context) error {
	cutoff := r.now().Add(-r.CloseAfter)
	campaigns, err := r.CampaignRepo.ListSendingCreatedBefore(cutoff)
	if err != nil {
		return err
	}

	for _, campaign := range campaigns {
		n, err := r.MessageRepo.FailPendingByCampaign(campaign.ID, "send window expired: campaign closed after 48h")
		if err != nil {
			r.Log.Warn().Err(err).Int("campaign_id", campaign.ID).Msg("force-fail failed")
			continue
		}
		status, err := r.Campaigns.RecomputeCompletion(campaign.ID)
		if err != nil {
			r.Log.Warn().Err(err).Int("campaign_id", campaign.ID).Msg("completion recompute failed")
			continue
		}
		if status == model.CampaignSending {
			// Campaign with no messages at all; nothing left that could ever
			// complete it.
			if err := r.CampaignRepo.UpdateStatus(campaign.ID, model.CampaignFailed); err != nil {
				r.Log.Warn().Err(err).Int("campaign_id", campaign.ID).Msg("status update failed")
				continue
			}
			status = model.CampaignFailed
		}
		r.Log.Info().
			Int("campaign_id", campaign.ID).
			Int64("failed_pending", n).
			Str("status", status).
			Msg("campaign force-closed")
	}
	return nil
}

// RecoverStalled heals campaigns whose worker crashed between the last send
// and the completion check: still sending, zero pending, no recent activity.
func (r *Reaper) RecoverStalled(ctx context.Context) error {
	cutoff := r.now().Add(-r.StallIdle)
	ids, err := r.CampaignRepo.ListSendingStalled(cutoff)
	if err != nil {
		return err
	}
	for _, id := range ids {
		status, err := r.Campaigns.RecomputeCompletion(id)
		if err != nil {
			r.Log.Warn().Err(err).Int("campaign_id", id).Msg("recovery recompute failed")
			continue
		}
		r.Log.Info().Int("campaign_id", id).Str("status", status).Msg("stalled campaign recomputed")
	}
	return nil
}

// Housekeep prunes expired locks and quota counters from days past. The day
// boundary itself needs no action: counters are keyed by date.
func (r *Reaper) Housekeep(ctx context.Context) error {
	if r.KV == nil {
		return nil
	}
	locks, err := r.KV.DeleteExpired(ctx)
	if err != nil {
		return err
	}
	counters, err := r.KV.DeletePrefixOlderThan(ctx, quota.KeyPrefix(), r.now().AddDate(0, 0, -7))
	if err != nil {
		return err
	}
	r.Log.Info().Int64("expired_locks", locks).Int64("old_counters", counters).Msg("kv housekeeping done")
	return nil
}
