package reaper_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/komi12345/ChatbotFrance-sub000/internal/model"
	"github.com/komi12345/ChatbotFrance-sub000/internal/queue"
	"github.com/komi12345/ChatbotFrance-sub000/internal/quota"
	"github.com/komi12345/ChatbotFrance-sub000/internal/reaper"
	"github.com/komi12345/ChatbotFrance-sub000/internal/repository/memory"
	"github.com/komi12345/ChatbotFrance-sub000/internal/service"
)

type dropQueue struct {
	mu   sync.Mutex
	jobs []queue.SendJob
}

func (q *dropQueue) Publish(topic string, job queue.SendJob) error {
	return q.PublishDelayed(topic, job, 0)
}

func (q *dropQueue) PublishDelayed(topic string, job queue.SendJob, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *dropQueue) Subscribe(topic string, handler func(job queue.SendJob) error) error {
	return nil
}

type reaperFixture struct {
	reaper       *reaper.Reaper
	campaigns    *memory.CampaignRepo
	messages     *memory.MessageRepo
	interactions *memory.InteractionRepo
	kv           *memory.KV
	now          time.Time
}

func newReaperFixture(t *testing.T) *reaperFixture {
	t.Helper()

	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	campaignRepo := memory.NewCampaignRepo()
	messageRepo := memory.NewMessageRepo()
	campaignRepo.SetMessages(messageRepo)
	interactionRepo := memory.NewInteractionRepo()
	kv := memory.NewKV()
	kv.SetNow(func() time.Time { return now })

	svc := &service.CampaignService{
		CampaignRepo:  campaignRepo,
		RecipientRepo: memory.NewRecipientRepo(),
		MessageRepo:   messageRepo,
		Queue:         &dropQueue{},
		Quota:         quota.NewTracker(kv, 1000, zerolog.Nop()),
		SendTopic:     "campaign_sends",
		Log:           zerolog.Nop(),
	}

	return &reaperFixture{
		reaper: &reaper.Reaper{
			CampaignRepo:    campaignRepo,
			MessageRepo:     messageRepo,
			InteractionRepo: interactionRepo,
			Campaigns:       svc,
			KV:              kv,
			Window:          24 * time.Hour,
			CloseAfter:      48 * time.Hour,
			StallIdle:       10 * time.Minute,
			Log:             zerolog.Nop(),
			Now:             func() time.Time { return now },
		},
		campaigns:    campaignRepo,
		messages:     messageRepo,
		interactions: interactionRepo,
		kv:           kv,
		now:          now,
	}
}

func (f *reaperFixture) newCampaign(t *testing.T, createdAgo time.Duration) *model.Campaign {
	t.Helper()
	c := &model.Campaign{
		Name:         "promo",
		Channel:      "whatsapp",
		Status:       model.CampaignSending,
		BaseTemplate: "Hi {first_name}",
		CreatedAt:    f.now.Add(-createdAgo),
	}
	if err := f.campaigns.Create(c); err != nil {
		t.Fatal(err)
	}
	return c
}

// sentMessage creates an initial-stage message marked sent at now-sentAgo.
func (f *reaperFixture) sentMessage(t *testing.T, campaignID, recipientID int, sentAgo time.Duration) *model.Message {
	t.Helper()
	msg, _, err := f.messages.CreateIfAbsent(campaignID, recipientID, model.StageInitial, "Hi")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.messages.MarkSent(msg.ID, "prov", f.now.Add(-sentAgo)); err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestExpireUnanswered(t *testing.T) {
	f := newReaperFixture(t)
	c := f.newCampaign(t, 30*time.Hour)

	// Recipient 1: window elapsed, nothing heard back.
	unanswered := f.sentMessage(t, c.ID, 1, 25*time.Hour)

	// Recipient 2: engaged, follow-up already exists.
	followedUp := f.sentMessage(t, c.ID, 2, 25*time.Hour)
	if _, _, err := f.messages.CreateIfAbsent(c.ID, 2, model.StageFollowUp, "Thanks"); err != nil {
		t.Fatal(err)
	}

	// Recipient 3: replied but the follow-up was never created (no template).
	replied := f.sentMessage(t, c.ID, 3, 25*time.Hour)
	f.interactions.Create(&model.Interaction{
		CampaignID: c.ID, RecipientID: 3, Kind: model.InteractionReply, OccurredAt: f.now.Add(-20 * time.Hour),
	})

	// Recipient 4: still within the window.
	recent := f.sentMessage(t, c.ID, 4, time.Hour)

	if err := f.reaper.ExpireUnanswered(context.Background()); err != nil {
		t.Fatal(err)
	}

	assertStatus := func(id int, want string) {
		t.Helper()
		msg, _ := f.messages.GetByID(id)
		if msg.Status != want {
			t.Errorf("message %d: expected %s, got %s", id, want, msg.Status)
		}
	}
	assertStatus(unanswered.ID, model.StatusNoInteraction)
	assertStatus(followedUp.ID, model.StatusSent)
	assertStatus(replied.ID, model.StatusSent)
	assertStatus(recent.ID, model.StatusSent)

	// Running the sweep again changes nothing.
	if err := f.reaper.ExpireUnanswered(context.Background()); err != nil {
		t.Fatal(err)
	}
	assertStatus(unanswered.ID, model.StatusNoInteraction)
}

func TestExpireUnansweredCompletesCampaign(t *testing.T) {
	f := newReaperFixture(t)
	c := f.newCampaign(t, 30*time.Hour)
	f.sentMessage(t, c.ID, 1, 25*time.Hour)
	f.sentMessage(t, c.ID, 2, 25*time.Hour)

	if err := f.reaper.ExpireUnanswered(context.Background()); err != nil {
		t.Fatal(err)
	}

	got, _ := f.campaigns.GetByID(c.ID)
	if got.Status != model.CampaignCompleted {
		t.Fatalf("expected completed once every message reached a terminal state, got %s", got.Status)
	}
	if got.NoInteractionCount != 2 {
		t.Errorf("expected no_interaction count 2, got %d", got.NoInteractionCount)
	}
}

func TestForceCloseStuck(t *testing.T) {
	f := newReaperFixture(t)

	// Over the deadline with messages stuck pending.
	stuck := f.newCampaign(t, 49*time.Hour)
	pending, _, err := f.messages.CreateIfAbsent(stuck.ID, 1, model.StageInitial, "Hi")
	if err != nil {
		t.Fatal(err)
	}
	f.sentMessage(t, stuck.ID, 2, 30*time.Hour)

	// Under the deadline; must not be touched.
	young := f.newCampaign(t, 10*time.Hour)
	youngPending, _, _ := f.messages.CreateIfAbsent(young.ID, 1, model.StageInitial, "Hi")

	if err := f.reaper.ForceCloseStuck(context.Background()); err != nil {
		t.Fatal(err)
	}

	msg, _ := f.messages.GetByID(pending.ID)
	if msg.Status != model.StatusFailed {
		t.Errorf("expected stuck pending message failed, got %s", msg.Status)
	}
	got, _ := f.campaigns.GetByID(stuck.ID)
	if got.Status != model.CampaignCompleted {
		t.Errorf("one send succeeded, expected completed, got %s", got.Status)
	}

	msg, _ = f.messages.GetByID(youngPending.ID)
	if msg.Status != model.StatusPending {
		t.Errorf("young campaign message must stay pending, got %s", msg.Status)
	}
	gotYoung, _ := f.campaigns.GetByID(young.ID)
	if gotYoung.Status != model.CampaignSending {
		t.Errorf("young campaign must stay sending, got %s", gotYoung.Status)
	}
}

func TestForceCloseStuckEmptyCampaign(t *testing.T) {
	f := newReaperFixture(t)
	empty := f.newCampaign(t, 49*time.Hour)

	if err := f.reaper.ForceCloseStuck(context.Background()); err != nil {
		t.Fatal(err)
	}

	got, _ := f.campaigns.GetByID(empty.ID)
	if got.Status != model.CampaignFailed {
		t.Fatalf("campaign with no messages must be forced to failed, got %s", got.Status)
	}
}

func TestRecoverStalled(t *testing.T) {
	f := newReaperFixture(t)
	c := f.newCampaign(t, 2*time.Hour)

	// All sends finished but the completion check never ran; last activity is
	// well past the stall threshold.
	f.messages.SetNow(func() time.Time { return f.now.Add(-30 * time.Minute) })
	f.sentMessage(t, c.ID, 1, time.Hour)
	f.sentMessage(t, c.ID, 2, time.Hour)
	f.messages.SetNow(func() time.Time { return f.now })

	if err := f.reaper.RecoverStalled(context.Background()); err != nil {
		t.Fatal(err)
	}

	got, _ := f.campaigns.GetByID(c.ID)
	if got.Status != model.CampaignCompleted {
		t.Fatalf("expected stalled campaign recomputed to completed, got %s", got.Status)
	}
}

func TestRecoverStalledLeavesActiveAlone(t *testing.T) {
	f := newReaperFixture(t)
	c := f.newCampaign(t, 2*time.Hour)

	// Pending work left; not stalled, just slow.
	if _, _, err := f.messages.CreateIfAbsent(c.ID, 1, model.StageInitial, "Hi"); err != nil {
		t.Fatal(err)
	}

	if err := f.reaper.RecoverStalled(context.Background()); err != nil {
		t.Fatal(err)
	}

	got, _ := f.campaigns.GetByID(c.ID)
	if got.Status != model.CampaignSending {
		t.Fatalf("campaign with pending work must stay sending, got %s", got.Status)
	}
}

func TestHousekeep(t *testing.T) {
	f := newReaperFixture(t)
	ctx := context.Background()

	// An expired lock, a live lock, a stale counter and today's counter.
	f.kv.SetNow(func() time.Time { return f.now.Add(-2 * time.Hour) })
	f.kv.SetNX(ctx, "lock:send:1", "tok-1", time.Minute)
	f.kv.SetNow(func() time.Time { return f.now.Add(-10 * 24 * time.Hour) })
	f.kv.IncrBy(ctx, "quota:sent:2026-03-31", 40)
	f.kv.SetNow(func() time.Time { return f.now })
	f.kv.SetNX(ctx, "lock:send:2", "tok-2", time.Hour)
	f.kv.IncrBy(ctx, "quota:sent:2026-04-10", 3)

	if err := f.reaper.Housekeep(ctx); err != nil {
		t.Fatal(err)
	}

	if v, _ := f.kv.GetInt(ctx, "quota:sent:2026-03-31"); v != 0 {
		t.Error("stale quota counter should be pruned")
	}
	if v, _ := f.kv.GetInt(ctx, "quota:sent:2026-04-10"); v != 3 {
		t.Errorf("current counter must survive housekeeping, got %d", v)
	}
	if ok, _ := f.kv.SetNX(ctx, "lock:send:1", "tok-new", time.Minute); !ok {
		t.Error("expired lock should be pruned")
	}
	if ok, _ := f.kv.SetNX(ctx, "lock:send:2", "tok-new", time.Minute); ok {
		t.Error("live lock must survive housekeeping")
	}
}
