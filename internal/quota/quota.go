// internal/quota/quota.go
package quota

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/komi12345/ChatbotFrance-sub000/internal/errors"
)

// Namespace for quota keys in the shared kv store, disjoint from "lock:".
const keyPrefix = "quota:sent:"

// Alert levels derived from current/limit.
const (
	LevelOK        = "ok"        // <= 75%
	LevelAttention = "attention" // 76-90%
	LevelDanger    = "danger"    // 91-100%
	LevelBlocked   = "blocked"   // > 100%
)

// Store is the subset of the kv store the tracker needs.
type Store interface {
	IncrBy(ctx context.Context, key string, n int) (int, error)
	GetInt(ctx context.Context, key string) (int, error)
}

// Tracker counts messages sent per day against a global ceiling. Counters are
// keyed by date, so a new day starts at zero without an explicit reset. Reads
// fail open (availability over strict enforcement); the increment is a single
// atomic upsert and is only issued after a confirmed successful send.
type Tracker struct {
	store Store
	limit int
	log   zerolog.Logger

	// now is swappable in tests.
	now func() time.Time
}

func NewTracker(store Store, limit int, log zerolog.Logger) *Tracker {
	return &Tracker{store: store, limit: limit, log: log, now: time.Now}
}

// Reserve checks whether n more sends fit under today's ceiling and returns
// the remaining headroom. It never mutates the counter; the per-send
// CanSendOne check plus IncrementOnSuccess close the race it leaves open.
func (t *Tracker) Reserve(ctx context.Context, n int) (int, error) {
	current, err := t.store.GetInt(ctx, t.todayKey())
	if err != nil {
		t.log.Warn().Err(err).Msg("quota store unreachable, allowing reservation")
		return t.limit, nil
	}
	if current+n > t.limit {
		return 0, appErrors.NewQuotaExhausted(current, t.limit)
	}
	return t.limit - current - n, nil
}

// CanSendOne is the cheap read-only check the worker runs right before each
// individual send.
func (t *Tracker) CanSendOne(ctx context.Context) bool {
	current, err := t.store.GetInt(ctx, t.todayKey())
	if err != nil {
		t.log.Warn().Err(err).Msg("quota store unreachable, allowing send")
		return true
	}
	return current < t.limit
}

// IncrementOnSuccess records one confirmed send and returns the new total.
func (t *Tracker) IncrementOnSuccess(ctx context.Context) (int, error) {
	return t.store.IncrBy(ctx, t.todayKey(), 1)
}

// Usage returns today's count and the configured limit.
func (t *Tracker) Usage(ctx context.Context) (current, limit int, err error) {
	current, err = t.store.GetInt(ctx, t.todayKey())
	return current, t.limit, err
}

// Level projects current usage onto the alert scale.
func (t *Tracker) Level(ctx context.Context) string {
	current, err := t.store.GetInt(ctx, t.todayKey())
	if err != nil {
		t.log.Warn().Err(err).Msg("quota store unreachable, reporting ok")
		return LevelOK
	}
	return LevelFor(current, t.limit)
}

// LevelFor maps a count/limit pair onto the alert scale.
func LevelFor(current, limit int) string {
	if limit <= 0 {
		return LevelBlocked
	}
	pct := current * 100 / limit
	switch {
	case current > limit:
		return LevelBlocked
	case pct > 90:
		return LevelDanger
	case pct > 75:
		return LevelAttention
	default:
		return LevelOK
	}
}

// KeyPrefix exposes the namespace for the reaper's counter pruning.
func KeyPrefix() string { return keyPrefix }

func (t *Tracker) todayKey() string {
	return keyPrefix + t.now().UTC().Format("2006-01-02")
}
