// internal/service/delivery_worker.go
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/komi12345/ChatbotFrance-sub000/internal/dispatch"
	"github.com/komi12345/ChatbotFrance-sub000/internal/lock"
	"github.com/komi12345/ChatbotFrance-sub000/internal/model"
	"github.com/komi12345/ChatbotFrance-sub000/internal/queue"
	"github.com/komi12345/ChatbotFrance-sub000/internal/quota"
	"github.com/komi12345/ChatbotFrance-sub000/internal/repository"
)

// Outcome of a single send attempt.
type Outcome string

const (
	OutcomeSent     Outcome = "sent"     // dispatched, message is sent
	OutcomeSkipped  Outcome = "skipped"  // benign no-op (lock held, not pending)
	OutcomeDeferred Outcome = "deferred" // re-enqueued without consuming an attempt
	OutcomeRetrying Outcome = "retrying" // failed, retry scheduled with backoff
	OutcomeFailed   Outcome = "failed"   // terminal failure
)

const sendLockOp = "send"

// DeliveryWorker executes send jobs from the queue: idempotency lock, quota
// check, pacing, dispatch, then the message and campaign state transitions.
type DeliveryWorker struct {
	MessageRepo   repository.MessageRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	Campaigns     *CampaignService
	Dispatch      dispatch.Client
	Locks         *lock.Guard
	Quota         *quota.Tracker
	Queue         queue.Queue
	Pacer         *Pacer

	SendTopic      string
	MaxAttempts    int
	RetryBaseDelay time.Duration
	SendTimeout    time.Duration
	Log            zerolog.Logger

	// Now is swappable in tests.
	Now func() time.Time
}

func (w *DeliveryWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Process handles one send job. Errors are returned only for infrastructure
// failures the caller may want to surface; delivery failures are absorbed into
// the message state.
func (w *DeliveryWorker) Process(ctx context.Context, job queue.SendJob) (Outcome, error) {
	msg, err := w.MessageRepo.GetByID(job.MessageID)
	if err != nil {
		w.Log.Warn().Err(err).Int("message_id", job.MessageID).Msg("send job for unknown message")
		return OutcomeSkipped, nil
	}
	if msg.Status != model.StatusPending {
		return OutcomeSkipped, nil
	}

	// Honor a scheduled backoff that has not elapsed yet (e.g. the job was
	// re-enqueued by the recovery sweep ahead of time).
	if msg.NextAttemptAt != nil {
		if wait := msg.NextAttemptAt.Sub(w.now()); wait > 0 {
			if err := w.Queue.PublishDelayed(w.SendTopic, job, wait); err != nil {
				return OutcomeDeferred, err
			}
			return OutcomeDeferred, nil
		}
	}

	lease, ok, err := w.Locks.Acquire(ctx, sendLockOp, msg.ID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if !ok {
		// Another worker is on it. Benign.
		w.Log.Debug().Int("message_id", msg.ID).Msg("send already in progress")
		return OutcomeSkipped, nil
	}
	defer w.Locks.Release(ctx, lease)

	// Re-read under the lock. The pre-lock check can race a duplicate job
	// whose worker completed the send and released the lock in between.
	msg, err = w.MessageRepo.GetByID(job.MessageID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if msg.Status != model.StatusPending {
		return OutcomeSkipped, nil
	}

	if !w.Quota.CanSendOne(ctx) {
		// Message stays pending until the next quota window.
		w.Log.Warn().Int("message_id", msg.ID).Msg("daily quota exhausted, deferring send")
		if err := w.Queue.PublishDelayed(w.SendTopic, job, w.RetryBaseDelay); err != nil {
			return OutcomeDeferred, err
		}
		return OutcomeDeferred, nil
	}

	if w.Pacer != nil {
		if err := w.Pacer.Wait(ctx, msg.CampaignID); err != nil {
			// Interrupted mid-wait (shutdown). The consumer acks the job
			// either way, so put it back on the queue first.
			if pubErr := w.Queue.PublishDelayed(w.SendTopic, job, w.RetryBaseDelay); pubErr != nil {
				return OutcomeDeferred, pubErr
			}
			return OutcomeDeferred, err
		}
	}

	recipient, err := w.RecipientRepo.GetByID(msg.RecipientID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if recipient == nil {
		if err := w.MessageRepo.MarkFailed(msg.ID, "recipient no longer exists"); err != nil {
			return OutcomeFailed, err
		}
		_, err := w.Campaigns.RecomputeCompletion(msg.CampaignID)
		return OutcomeFailed, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.SendTimeout)
	providerID, sendErr := w.Dispatch.Send(sendCtx, recipient.Phone, msg.RenderedContent)
	cancel()

	if sendErr == nil {
		if err := w.MessageRepo.MarkSent(msg.ID, providerID, w.now()); err != nil {
			return OutcomeSent, err
		}
		if _, err := w.Quota.IncrementOnSuccess(ctx); err != nil {
			w.Log.Warn().Err(err).Msg("quota increment failed after send")
		}
		if _, err := w.Campaigns.RecomputeCompletion(msg.CampaignID); err != nil {
			w.Log.Warn().Err(err).Int("campaign_id", msg.CampaignID).Msg("completion recompute failed")
		}
		w.Log.Info().
			Int("message_id", msg.ID).
			Int("campaign_id", msg.CampaignID).
			Str("provider_message_id", providerID).
			Msg("message sent")
		return OutcomeSent, nil
	}

	return w.handleSendFailure(ctx, msg, job, sendErr)
}

func (w *DeliveryWorker) handleSendFailure(ctx context.Context, msg *model.Message, job queue.SendJob, sendErr error) (Outcome, error) {
	de := dispatch.Classify(sendErr)
	failures := msg.RetryCount + 1
	attemptsLeft := de.Retryable() && failures < w.MaxAttempts

	if !attemptsLeft {
		if err := w.MessageRepo.MarkFailed(msg.ID, de.Error()); err != nil {
			return OutcomeFailed, err
		}
		if _, err := w.Campaigns.RecomputeCompletion(msg.CampaignID); err != nil {
			w.Log.Warn().Err(err).Int("campaign_id", msg.CampaignID).Msg("completion recompute failed")
		}
		w.Log.Error().
			Int("message_id", msg.ID).
			Str("kind", string(de.Kind)).
			Int("attempts", failures).
			Msg("message permanently failed")
		return OutcomeFailed, nil
	}

	// Backoff before attempt n is base × 2^(n-1): base after the first
	// failure, doubled after each further one.
	delay := w.RetryBaseDelay << (failures - 1)
	nextAttempt := w.now().Add(delay)

	if err := w.MessageRepo.ScheduleRetry(msg.ID, de.Error(), nextAttempt); err != nil {
		return OutcomeRetrying, err
	}
	if err := w.Queue.PublishDelayed(w.SendTopic, job, delay); err != nil {
		return OutcomeRetrying, err
	}
	w.Log.Warn().
		Int("message_id", msg.ID).
		Str("kind", string(de.Kind)).
		Dur("retry_in", delay).
		Int("attempt", failures).
		Msg("send failed, retry scheduled")
	return OutcomeRetrying, nil
}

// Run subscribes the worker to the send queue and processes jobs until the
// queue closes. Used by cmd/worker and by in-memory tests alike.
func (w *DeliveryWorker) Run(ctx context.Context) error {
	return w.Queue.Subscribe(w.SendTopic, func(job queue.SendJob) error {
		_, err := w.Process(ctx, job)
		return err
	})
}
