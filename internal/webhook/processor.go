// internal/webhook/processor.go
package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Processor decouples the HTTP acknowledgement from event handling: the
// endpoint drops the normalized event into a buffered channel and returns;
// a small pool of goroutines drains it. Handling errors are logged and
// retried internally, never surfaced to the provider.
type Processor struct {
	reactor *Reactor
	events  chan Event
	log     zerolog.Logger

	retries    int
	retryDelay time.Duration

	wg sync.WaitGroup
}

func NewProcessor(reactor *Reactor, bufferLen, workers int, log zerolog.Logger) *Processor {
	if bufferLen <= 0 {
		bufferLen = 256
	}
	if workers <= 0 {
		workers = 4
	}
	p := &Processor{
		reactor:    reactor,
		events:     make(chan Event, bufferLen),
		log:        log,
		retries:    3,
		retryDelay: time.Second,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

// Enqueue hands the event to the processing pool. Blocks only when the buffer
// is full, which backpressures the webhook endpoint instead of dropping.
func (p *Processor) Enqueue(ev Event) {
	p.events <- ev
}

// Close drains the pool. No new events may be enqueued afterwards.
func (p *Processor) Close() {
	close(p.events)
	p.wg.Wait()
}

func (p *Processor) run() {
	defer p.wg.Done()
	for ev := range p.events {
		p.process(ev)
	}
}

func (p *Processor) process(ev Event) {
	var err error
	for attempt := 1; attempt <= p.retries; attempt++ {
		if err = p.reactor.Handle(context.Background(), ev); err == nil {
			return
		}
		p.log.Warn().Err(err).
			Str("type", ev.Type).
			Int("attempt", attempt).
			Msg("webhook event processing failed")
		time.Sleep(p.retryDelay)
	}
	p.log.Error().Err(err).Str("type", ev.Type).Msg("webhook event dropped after retries")
}
