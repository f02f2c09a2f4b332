// Package memory provides in-memory implementations of the repository
// interfaces and of the shared kv store. They back the test suites and the
// standalone dev mode, mirroring the SQL implementations' semantics
// (including the create-if-absent uniqueness guarantees).
package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	appErrors "github.com/komi12345/ChatbotFrance-sub000/internal/errors"
	"github.com/komi12345/ChatbotFrance-sub000/internal/model"
	"github.com/komi12345/ChatbotFrance-sub000/internal/repository"
)

var (
	_ repository.CampaignRepositoryInterface    = (*CampaignRepo)(nil)
	_ repository.MessageRepositoryInterface     = (*MessageRepo)(nil)
	_ repository.RecipientRepositoryInterface   = (*RecipientRepo)(nil)
	_ repository.InteractionRepositoryInterface = (*InteractionRepo)(nil)
)

// CampaignRepo is an in-memory CampaignRepositoryInterface.
type CampaignRepo struct {
	mu       sync.Mutex
	nextID   int
	rows     map[int]*model.Campaign
	messages *MessageRepo
}

func NewCampaignRepo() *CampaignRepo {
	return &CampaignRepo{nextID: 1, rows: map[int]*model.Campaign{}}
}

func (r *CampaignRepo) Create(c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = r.nextID
	r.nextID++
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	cp := *c
	r.rows[c.ID] = &cp
	return nil
}

func (r *CampaignRepo) GetByID(id int) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (r *CampaignRepo) ListCampaigns(offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.rows))
	for id, c := range r.rows {
		if channel != "" && c.Channel != channel {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	total := len(ids)

	out := []*model.Campaign{}
	for i := offset; i < len(ids) && i < offset+limit; i++ {
		cp := *r.rows[ids[i]]
		out = append(out, &cp)
	}
	return out, total, nil
}

func (r *CampaignRepo) UpdateStatus(campaignID int, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.rows[campaignID]; ok {
		c.Status = status
		now := time.Now()
		c.UpdatedAt = &now
	}
	return nil
}

func (r *CampaignRepo) UpdateCompletion(campaignID int, status string, counts model.Campaign, completed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[campaignID]
	if !ok {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	c.Status = status
	c.PendingCount = counts.PendingCount
	c.SentCount = counts.SentCount
	c.FailedCount = counts.FailedCount
	c.NoInteractionCount = counts.NoInteractionCount
	now := time.Now()
	c.UpdatedAt = &now
	if completed && c.CompletedAt == nil {
		c.CompletedAt = &now
	}
	return nil
}

func (r *CampaignRepo) ListSendingCreatedBefore(cutoff time.Time) ([]*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range r.rows {
		if c.Status == model.CampaignSending && c.CreatedAt.Before(cutoff) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListSendingStalled is driven by the message repo in production SQL; the
// in-memory variant is wired through SetMessages for the reaper tests.
func (r *CampaignRepo) ListSendingStalled(cutoff time.Time) ([]int, error) {
	r.mu.Lock()
	messages := r.messages
	defer r.mu.Unlock()

	ids := []int{}
	for _, c := range r.rows {
		if c.Status != model.CampaignSending {
			continue
		}
		if messages == nil {
			continue
		}
		pending, lastActivity := messages.campaignActivity(c.ID)
		if lastActivity.IsZero() {
			lastActivity = c.CreatedAt
		}
		if pending == 0 && lastActivity.Before(cutoff) {
			ids = append(ids, c.ID)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// SetMessages links the campaign repo to a message repo so stall detection
// can see message activity, like the SQL join does.
func (r *CampaignRepo) SetMessages(m *MessageRepo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = m
}

// MessageRepo is an in-memory MessageRepositoryInterface.
type MessageRepo struct {
	mu     sync.Mutex
	nextID int
	rows   map[int]*model.Message
	now    func() time.Time
}

func NewMessageRepo() *MessageRepo {
	return &MessageRepo{nextID: 1, rows: map[int]*model.Message{}, now: time.Now}
}

// SetNow overrides the clock used for updated_at stamps.
func (r *MessageRepo) SetNow(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *MessageRepo) campaignActivity(campaignID int) (pending int, last time.Time) {
	for _, m := range r.rows {
		if m.CampaignID != campaignID {
			continue
		}
		if m.Status == model.StatusPending {
			pending++
		}
		if m.UpdatedAt.After(last) {
			last = m.UpdatedAt
		}
	}
	return pending, last
}

func (r *MessageRepo) CreateIfAbsent(campaignID, recipientID int, stage, content string) (*model.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rows {
		if m.CampaignID == campaignID && m.RecipientID == recipientID && m.Stage == stage {
			cp := *m
			return &cp, false, nil
		}
	}
	now := r.now()
	m := &model.Message{
		ID:              r.nextID,
		CampaignID:      campaignID,
		RecipientID:     recipientID,
		Stage:           stage,
		Status:          model.StatusPending,
		RenderedContent: content,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.nextID++
	r.rows[m.ID] = m
	cp := *m
	return &cp, true, nil
}

func (r *MessageRepo) GetByID(id int) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return nil, appErrors.NewMessageNotFound(id)
	}
	cp := *m
	return &cp, nil
}

func (r *MessageRepo) GetByProviderID(providerMessageID string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rows {
		if m.ProviderMessageID != nil && *m.ProviderMessageID == providerMessageID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MessageRepo) MarkSent(id int, providerMessageID string, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return appErrors.NewMessageNotFound(id)
	}
	m.Status = model.StatusSent
	m.ProviderMessageID = &providerMessageID
	m.LastError = nil
	m.NextAttemptAt = nil
	if m.SentAt == nil {
		t := sentAt
		m.SentAt = &t
	}
	m.UpdatedAt = r.now()
	return nil
}

func (r *MessageRepo) MarkFailed(id int, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return appErrors.NewMessageNotFound(id)
	}
	m.Status = model.StatusFailed
	m.LastError = &reason
	m.NextAttemptAt = nil
	m.UpdatedAt = r.now()
	return nil
}

func (r *MessageRepo) ScheduleRetry(id int, reason string, nextAttempt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return appErrors.NewMessageNotFound(id)
	}
	m.Status = model.StatusPending
	m.LastError = &reason
	m.RetryCount++
	t := nextAttempt
	m.NextAttemptAt = &t
	m.UpdatedAt = r.now()
	return nil
}

func (r *MessageRepo) Requeue(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok || m.Status != model.StatusFailed {
		return nil
	}
	m.Status = model.StatusPending
	m.RetryCount++
	m.NextAttemptAt = nil
	m.UpdatedAt = r.now()
	return nil
}

func (r *MessageRepo) AdvanceStatus(id int, status string, allowedFrom []string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return false, nil
	}
	for _, from := range allowedFrom {
		if m.Status == from {
			m.Status = status
			m.UpdatedAt = r.now()
			return true, nil
		}
	}
	return false, nil
}

func (r *MessageRepo) MarkNoInteraction(id int) (bool, error) {
	return r.AdvanceStatus(id, model.StatusNoInteraction, []string{
		model.StatusSent, model.StatusDelivered, model.StatusRead,
	})
}

func (r *MessageRepo) FailPendingByCampaign(campaignID int, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.rows {
		if m.CampaignID == campaignID && m.Status == model.StatusPending {
			m.Status = model.StatusFailed
			re := reason
			m.LastError = &re
			m.NextAttemptAt = nil
			m.UpdatedAt = r.now()
			n++
		}
	}
	return n, nil
}

func (r *MessageRepo) CountByStatus(campaignID int) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[string]int{}
	for _, m := range r.rows {
		if m.CampaignID == campaignID {
			counts[m.Status]++
		}
	}
	return counts, nil
}

func (r *MessageRepo) CountByStageStatus(campaignID int) (map[string]map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[string]map[string]int{}
	for _, m := range r.rows {
		if m.CampaignID != campaignID {
			continue
		}
		if counts[m.Stage] == nil {
			counts[m.Stage] = map[string]int{}
		}
		counts[m.Stage][m.Status]++
	}
	return counts, nil
}

func (r *MessageRepo) LatestQualifyingInitial(recipientID int, sentAfter time.Time) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.Message
	for _, m := range r.rows {
		if m.RecipientID != recipientID || m.Stage != model.StageInitial {
			continue
		}
		if m.Status != model.StatusSent && m.Status != model.StatusDelivered && m.Status != model.StatusRead {
			continue
		}
		if m.SentAt == nil || m.SentAt.Before(sentAfter) {
			continue
		}
		if best == nil || m.SentAt.After(*best.SentAt) {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r *MessageRepo) LatestInitial(recipientID int) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.Message
	for _, m := range r.rows {
		if m.RecipientID != recipientID || m.Stage != model.StageInitial {
			continue
		}
		if best == nil || m.ID > best.ID {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r *MessageRepo) FollowUpExists(campaignID, recipientID int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rows {
		if m.CampaignID == campaignID && m.RecipientID == recipientID && m.Stage == model.StageFollowUp {
			return true, nil
		}
	}
	return false, nil
}

func (r *MessageRepo) ListExpiredInitial(sentBefore time.Time) ([]*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Message{}
	for _, m := range r.rows {
		if m.Stage != model.StageInitial || m.SentAt == nil || !m.SentAt.Before(sentBefore) {
			continue
		}
		if m.Status == model.StatusSent || m.Status == model.StatusDelivered || m.Status == model.StatusRead {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MessageRepo) ListIDsByStatus(campaignID int, status string) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := []int{}
	for _, m := range r.rows {
		if m.CampaignID == campaignID && m.Status == status {
			ids = append(ids, m.ID)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// RecipientRepo is an in-memory RecipientRepositoryInterface.
type RecipientRepo struct {
	mu   sync.Mutex
	rows map[int]*model.Recipient
}

func NewRecipientRepo(recipients ...model.Recipient) *RecipientRepo {
	r := &RecipientRepo{rows: map[int]*model.Recipient{}}
	for i := range recipients {
		rec := recipients[i]
		r.rows[rec.ID] = &rec
	}
	return r
}

func (r *RecipientRepo) GetByID(id int) (*model.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *RecipientRepo) GetByPhone(phone string) (*model.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.rows {
		if rec.Phone == phone {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *RecipientRepo) ListActive() ([]model.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.rows))
	for id := range r.rows {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := []model.Recipient{}
	for _, id := range ids {
		if r.rows[id].Active {
			out = append(out, *r.rows[id])
		}
	}
	return out, nil
}

// InteractionRepo is an in-memory InteractionRepositoryInterface.
type InteractionRepo struct {
	mu     sync.Mutex
	nextID int
	rows   []model.Interaction
}

func NewInteractionRepo() *InteractionRepo {
	return &InteractionRepo{nextID: 1}
}

func (r *InteractionRepo) Create(i *model.Interaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i.ID = r.nextID
	i.CreatedAt = time.Now()
	r.nextID++
	r.rows = append(r.rows, *i)
	return nil
}

func (r *InteractionRepo) HasEngagement(campaignID, recipientID int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.rows {
		if i.CampaignID == campaignID && i.RecipientID == recipientID &&
			(i.Kind == model.InteractionReply || i.Kind == model.InteractionReaction) {
			return true, nil
		}
	}
	return false, nil
}

// All returns a snapshot of the audit trail.
func (r *InteractionRepo) All() []model.Interaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Interaction(nil), r.rows...)
}

// KV is an in-memory kv store satisfying the lock, quota and janitor
// interfaces.
type KV struct {
	mu      sync.Mutex
	values  map[string]string
	expires map[string]time.Time
	created map[string]time.Time
	// Err, when set, makes every operation fail. Simulates store outage.
	Err error
	now func() time.Time
}

func NewKV() *KV {
	return &KV{
		values:  map[string]string{},
		expires: map[string]time.Time{},
		created: map[string]time.Time{},
		now:     time.Now,
	}
}

func (s *KV) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *KV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	if exp, ok := s.expires[key]; ok && s.now().After(exp) {
		delete(s.values, key)
		delete(s.expires, key)
	}
	if _, exists := s.values[key]; exists {
		return false, nil
	}
	s.values[key] = value
	s.created[key] = s.now()
	if ttl > 0 {
		s.expires[key] = s.now().Add(ttl)
	}
	return true, nil
}

func (s *KV) DeleteIfValue(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.values[key] == value {
		delete(s.values, key)
		delete(s.expires, key)
		delete(s.created, key)
	}
	return nil
}

func (s *KV) IncrBy(ctx context.Context, key string, n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	current, _ := strconv.Atoi(s.values[key])
	if _, exists := s.values[key]; !exists {
		s.created[key] = s.now()
	}
	current += n
	s.values[key] = strconv.Itoa(current)
	return current, nil
}

func (s *KV) GetInt(ctx context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	v, _ := strconv.Atoi(s.values[key])
	return v, nil
}

func (s *KV) DeleteExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for key, exp := range s.expires {
		if s.now().After(exp) {
			delete(s.values, key)
			delete(s.expires, key)
			delete(s.created, key)
			n++
		}
	}
	return n, nil
}

func (s *KV) DeletePrefixOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for key := range s.values {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if s.created[key].Before(cutoff) {
			delete(s.values, key)
			delete(s.expires, key)
			delete(s.created, key)
			n++
		}
	}
	return n, nil
}
