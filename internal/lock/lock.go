// internal/lock/lock.go
package lock

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Namespace for lock keys in the shared kv store. Must stay disjoint from the
// quota namespace.
const keyPrefix = "lock:"

// Store is the subset of the kv store the guard needs.
type Store interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	DeleteIfValue(ctx context.Context, key, value string) error
}

// Guard hands out short-lived distributed locks keyed by (operation, id).
// If the backing store is unreachable the guard fails closed: the caller is
// told the lock was not acquired, which at worst delays a send until the TTL
// window passes. Duplicate sends are the failure mode we refuse.
type Guard struct {
	store Store
	ttl   time.Duration
	log   zerolog.Logger
}

func NewGuard(store Store, ttl time.Duration, log zerolog.Logger) *Guard {
	return &Guard{store: store, ttl: ttl, log: log}
}

// Lease identifies an acquired lock so only its owner can release it.
type Lease struct {
	key   string
	token string
}

// Acquire attempts to take the lock for op on the given id. ok=false with a
// nil error means another holder has it, which callers treat as a benign skip.
func (g *Guard) Acquire(ctx context.Context, op string, id int) (*Lease, bool, error) {
	key := lockKey(op, id)
	token := uuid.NewString()

	ok, err := g.store.SetNX(ctx, key, token, g.ttl)
	if err != nil {
		g.log.Warn().Err(err).Str("key", key).Msg("lock store unreachable, failing closed")
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{key: key, token: token}, true, nil
}

// Release frees the lease. Safe to call on every exit path; release failures
// are logged and left to TTL expiry.
func (g *Guard) Release(ctx context.Context, l *Lease) {
	if l == nil {
		return
	}
	if err := g.store.DeleteIfValue(ctx, l.key, l.token); err != nil {
		g.log.Warn().Err(err).Str("key", l.key).Msg("lock release failed, waiting on TTL")
	}
}

func lockKey(op string, id int) string {
	return keyPrefix + op + ":" + strconv.Itoa(id)
}
