package webhook_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/komi12345/ChatbotFrance-sub000/internal/model"
	"github.com/komi12345/ChatbotFrance-sub000/internal/queue"
	"github.com/komi12345/ChatbotFrance-sub000/internal/repository/memory"
	"github.com/komi12345/ChatbotFrance-sub000/internal/webhook"
)

type recordingQueue struct {
	mu     sync.Mutex
	jobs   []queue.SendJob
	delays []time.Duration
}

func (q *recordingQueue) Publish(topic string, job queue.SendJob) error {
	return q.PublishDelayed(topic, job, 0)
}

func (q *recordingQueue) PublishDelayed(topic string, job queue.SendJob, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	q.delays = append(q.delays, delay)
	return nil
}

func (q *recordingQueue) Subscribe(topic string, handler func(job queue.SendJob) error) error {
	return nil
}

func (q *recordingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type reactorFixture struct {
	reactor      *webhook.Reactor
	campaigns    *memory.CampaignRepo
	messages     *memory.MessageRepo
	interactions *memory.InteractionRepo
	queue        *recordingQueue
	campaign     *model.Campaign
	recipient    model.Recipient
	initialID    int
	now          time.Time
}

// newReactorFixture builds a campaign with one initial message already sent to
// the recipient, sentAgo before the fixture's fixed clock.
func newReactorFixture(t *testing.T, sentAgo time.Duration, followUpTemplate string) *reactorFixture {
	t.Helper()

	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	campaignRepo := memory.NewCampaignRepo()
	messageRepo := memory.NewMessageRepo()
	campaignRepo.SetMessages(messageRepo)
	interactionRepo := memory.NewInteractionRepo()
	q := &recordingQueue{}

	recipient := model.Recipient{
		ID: 1, Phone: "+33611111111", FirstName: "Alice",
		Location: "Paris", PreferredProduct: "Sneakers", Active: true,
	}

	campaign := &model.Campaign{
		Name:             "promo",
		Channel:          "whatsapp",
		Status:           model.CampaignSending,
		BaseTemplate:     "Hi {first_name}",
		FollowUpTemplate: followUpTemplate,
	}
	if err := campaignRepo.Create(campaign); err != nil {
		t.Fatal(err)
	}

	msg, _, err := messageRepo.CreateIfAbsent(campaign.ID, recipient.ID, model.StageInitial, "Hi Alice")
	if err != nil {
		t.Fatal(err)
	}
	if err := messageRepo.MarkSent(msg.ID, "prov-1", now.Add(-sentAgo)); err != nil {
		t.Fatal(err)
	}

	return &reactorFixture{
		reactor: &webhook.Reactor{
			CampaignRepo:    campaignRepo,
			MessageRepo:     messageRepo,
			RecipientRepo:   memory.NewRecipientRepo(recipient),
			InteractionRepo: interactionRepo,
			Queue:           q,
			SendTopic:       "campaign_sends",
			FollowUpDelay:   2 * time.Second,
			Window:          24 * time.Hour,
			Log:             zerolog.Nop(),
			Now:             func() time.Time { return now },
		},
		campaigns:    campaignRepo,
		messages:     messageRepo,
		interactions: interactionRepo,
		queue:        q,
		campaign:     campaign,
		recipient:    recipient,
		initialID:    msg.ID,
		now:          now,
	}
}

func (f *reactorFixture) reply(payload string) webhook.Event {
	return webhook.Event{
		Type:           webhook.EventReply,
		RecipientPhone: f.recipient.Phone,
		Payload:        payload,
		Timestamp:      f.now,
	}
}

func (f *reactorFixture) followUpCount(t *testing.T) int {
	t.Helper()
	byStage, err := f.messages.CountByStageStatus(f.campaign.ID)
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, n := range byStage[model.StageFollowUp] {
		total += n
	}
	return total
}

func TestReplyTriggersFollowUp(t *testing.T) {
	f := newReactorFixture(t, time.Hour, "Thanks {first_name}!")
	ctx := context.Background()

	if err := f.reactor.Handle(ctx, f.reply("yes please")); err != nil {
		t.Fatal(err)
	}

	if got := f.followUpCount(t); got != 1 {
		t.Fatalf("expected 1 follow-up message, got %d", got)
	}
	if f.queue.len() != 1 {
		t.Fatalf("expected 1 queued job, got %d", f.queue.len())
	}
	f.queue.mu.Lock()
	delay := f.queue.delays[0]
	f.queue.mu.Unlock()
	if delay != 2*time.Second {
		t.Errorf("expected pacing delay 2s, got %s", delay)
	}

	// Follow-up content is rendered from the follow-up template.
	fuID := f.queue.jobs[0].MessageID
	fu, _ := f.messages.GetByID(fuID)
	if fu.RenderedContent != "Thanks Alice!" {
		t.Errorf("unexpected follow-up content %q", fu.RenderedContent)
	}
	if fu.Stage != model.StageFollowUp || fu.Status != model.StatusPending {
		t.Errorf("expected pending follow-up, got %s/%s", fu.Stage, fu.Status)
	}

	// Reply lands in the audit trail.
	all := f.interactions.All()
	if len(all) != 1 || all[0].Kind != model.InteractionReply {
		t.Fatalf("expected one reply interaction, got %+v", all)
	}
}

func TestFollowUpAtMostOnce(t *testing.T) {
	f := newReactorFixture(t, time.Hour, "Thanks {first_name}!")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := f.reactor.Handle(ctx, f.reply("again")); err != nil {
			t.Fatal(err)
		}
	}

	if got := f.followUpCount(t); got != 1 {
		t.Fatalf("repeated replies must yield exactly 1 follow-up, got %d", got)
	}
	if f.queue.len() != 1 {
		t.Fatalf("expected exactly 1 queued follow-up job, got %d", f.queue.len())
	}
	// Every engagement is still recorded.
	if got := len(f.interactions.All()); got != 5 {
		t.Errorf("expected 5 interactions, got %d", got)
	}
}

func TestFollowUpAtMostOnceConcurrent(t *testing.T) {
	f := newReactorFixture(t, time.Hour, "Thanks {first_name}!")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.reactor.Handle(ctx, f.reply("race")); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if got := f.followUpCount(t); got != 1 {
		t.Fatalf("concurrent replies must yield exactly 1 follow-up, got %d", got)
	}
	if f.queue.len() != 1 {
		t.Fatalf("expected exactly 1 queued follow-up job, got %d", f.queue.len())
	}
}

func TestReplyOutsideWindowDoesNotTrigger(t *testing.T) {
	f := newReactorFixture(t, 24*time.Hour+time.Minute, "Thanks {first_name}!")
	ctx := context.Background()

	if err := f.reactor.Handle(ctx, f.reply("too late")); err != nil {
		t.Fatal(err)
	}

	if got := f.followUpCount(t); got != 0 {
		t.Fatalf("reply after the window must not trigger a follow-up, got %d", got)
	}
	if f.queue.len() != 0 {
		t.Error("nothing should be queued for a late reply")
	}
	// The late engagement is still kept for the audit trail.
	if got := len(f.interactions.All()); got != 1 {
		t.Errorf("expected late reply recorded, got %d interactions", got)
	}
}

func TestLateReplyAfterSweepIsStillRecorded(t *testing.T) {
	f := newReactorFixture(t, 25*time.Hour, "Thanks {first_name}!")
	ctx := context.Background()

	// The hourly sweep already closed the initial message.
	if _, err := f.messages.MarkNoInteraction(f.initialID); err != nil {
		t.Fatal(err)
	}

	if err := f.reactor.Handle(ctx, f.reply("sorry, was away")); err != nil {
		t.Fatal(err)
	}

	all := f.interactions.All()
	if len(all) != 1 {
		t.Fatalf("late reply must land in the audit trail, got %d interactions", len(all))
	}
	if all[0].CampaignID != f.campaign.ID || all[0].MessageID == nil || *all[0].MessageID != f.initialID {
		t.Errorf("late reply attributed wrongly: %+v", all[0])
	}
	if got := f.followUpCount(t); got != 0 {
		t.Fatalf("the closed window must not reopen, got %d follow-ups", got)
	}
	if f.queue.len() != 0 {
		t.Error("nothing should be queued for a late reply")
	}
}

func TestReplyJustInsideWindowTriggers(t *testing.T) {
	f := newReactorFixture(t, 23*time.Hour+59*time.Minute, "Thanks {first_name}!")
	ctx := context.Background()

	if err := f.reactor.Handle(ctx, f.reply("just in time")); err != nil {
		t.Fatal(err)
	}
	if got := f.followUpCount(t); got != 1 {
		t.Fatalf("reply just inside the window must trigger, got %d follow-ups", got)
	}
}

func TestReactionTriggersFollowUp(t *testing.T) {
	f := newReactorFixture(t, time.Hour, "Thanks {first_name}!")
	ctx := context.Background()

	ev := webhook.Event{
		Type:           webhook.EventReaction,
		RecipientPhone: f.recipient.Phone,
		Payload:        "👍",
		Timestamp:      f.now,
	}
	if err := f.reactor.Handle(ctx, ev); err != nil {
		t.Fatal(err)
	}

	if got := f.followUpCount(t); got != 1 {
		t.Fatalf("a reaction counts as engagement, got %d follow-ups", got)
	}
	all := f.interactions.All()
	if len(all) != 1 || all[0].Kind != model.InteractionReaction {
		t.Fatalf("expected one reaction interaction, got %+v", all)
	}
}

func TestNoFollowUpWithoutTemplate(t *testing.T) {
	f := newReactorFixture(t, time.Hour, "")
	ctx := context.Background()

	if err := f.reactor.Handle(ctx, f.reply("hello")); err != nil {
		t.Fatal(err)
	}
	if got := f.followUpCount(t); got != 0 {
		t.Fatalf("no follow-up template means no follow-up, got %d", got)
	}
	// The reply itself is still recorded.
	if got := len(f.interactions.All()); got != 1 {
		t.Errorf("expected 1 interaction, got %d", got)
	}
}

func TestStatusAdvancesMonotonically(t *testing.T) {
	f := newReactorFixture(t, time.Hour, "")
	ctx := context.Background()

	statusEvent := func(status string) webhook.Event {
		return webhook.Event{
			Type:              webhook.EventStatus,
			Status:            status,
			ProviderMessageID: "prov-1",
			Timestamp:         f.now,
		}
	}

	if err := f.reactor.Handle(ctx, statusEvent(model.StatusRead)); err != nil {
		t.Fatal(err)
	}
	msg, _ := f.messages.GetByID(f.initialID)
	if msg.Status != model.StatusRead {
		t.Fatalf("expected read (implies delivered), got %s", msg.Status)
	}

	// A late delivered ack must not downgrade read.
	if err := f.reactor.Handle(ctx, statusEvent(model.StatusDelivered)); err != nil {
		t.Fatal(err)
	}
	msg, _ = f.messages.GetByID(f.initialID)
	if msg.Status != model.StatusRead {
		t.Fatalf("out-of-order delivered ack downgraded status to %s", msg.Status)
	}

	// Both acks are kept in the audit trail regardless of ordering.
	all := f.interactions.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 ack interactions, got %d", len(all))
	}
	if all[0].Kind != model.InteractionReadAck || all[1].Kind != model.InteractionDeliveryAck {
		t.Errorf("unexpected interaction kinds %s, %s", all[0].Kind, all[1].Kind)
	}
}

func TestUnknownEventSourcesAreIgnored(t *testing.T) {
	f := newReactorFixture(t, time.Hour, "Thanks {first_name}!")
	ctx := context.Background()

	// Status ack for a provider id we never issued.
	err := f.reactor.Handle(ctx, webhook.Event{
		Type: webhook.EventStatus, Status: model.StatusDelivered, ProviderMessageID: "prov-unknown",
	})
	if err != nil {
		t.Fatalf("unknown provider id should be a no-op, got %v", err)
	}

	// Reply from a phone we never contacted.
	err = f.reactor.Handle(ctx, webhook.Event{
		Type: webhook.EventReply, RecipientPhone: "+33700000000", Payload: "who dis",
	})
	if err != nil {
		t.Fatalf("unknown phone should be a no-op, got %v", err)
	}

	if f.queue.len() != 0 || len(f.interactions.All()) != 0 {
		t.Error("unknown sources must not create state")
	}
}
