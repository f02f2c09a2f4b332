// internal/service/pacer.go
package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces out sends belonging to the same campaign: a minimum inter-send
// delay via a per-campaign rate limiter, plus a longer pause after every
// fixed-size batch, so the external channel never sees a burst it would
// throttle or block.
type Pacer struct {
	interval   time.Duration
	batchSize  int
	batchPause time.Duration

	mu       sync.Mutex
	limiters map[int]*rate.Limiter
	counts   map[int]int
}

func NewPacer(interval time.Duration, batchSize int, batchPause time.Duration) *Pacer {
	return &Pacer{
		interval:   interval,
		batchSize:  batchSize,
		batchPause: batchPause,
		limiters:   map[int]*rate.Limiter{},
		counts:     map[int]int{},
	}
}

// Wait blocks until the next send for the campaign may go out.
func (p *Pacer) Wait(ctx context.Context, campaignID int) error {
	p.mu.Lock()
	lim, ok := p.limiters[campaignID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(p.interval), 1)
		p.limiters[campaignID] = lim
	}
	p.counts[campaignID]++
	count := p.counts[campaignID]
	p.mu.Unlock()

	if p.batchSize > 0 && count%p.batchSize == 0 {
		select {
		case <-time.After(p.batchPause):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lim.Wait(ctx)
}
