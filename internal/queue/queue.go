// internal/queue/queue.go
package queue

import (
	"fmt"
	"sync"
	"time"
)

// SendJob is the unit of work flowing through the send queue: the id of a
// pending message the delivery worker should attempt.
type SendJob struct {
	MessageID int `json:"message_id"`
}

// Queue is the transport between the orchestrator and the delivery workers.
// Production uses RabbitMQ; tests use the in-memory implementation.
type Queue interface {
	Publish(topic string, job SendJob) error
	// PublishDelayed enqueues the job after the given delay, used for retry
	// backoff and follow-up pacing.
	PublishDelayed(topic string, job SendJob, delay time.Duration) error
	Subscribe(topic string, handler func(job SendJob) error) error
}

// InMemoryQueue dispatches jobs to subscribers on goroutines. Handler errors
// are swallowed; retry semantics belong to the delivery worker, not the queue.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(job SendJob) error
	wg       sync.WaitGroup
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[string][]func(job SendJob) error),
	}
}

func (q *InMemoryQueue) Publish(topic string, job SendJob) error {
	q.mu.Lock()
	handlers := append([]func(job SendJob) error(nil), q.handlers[topic]...)
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		h := handler
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			_ = h(job)
		}()
	}
	return nil
}

func (q *InMemoryQueue) PublishDelayed(topic string, job SendJob, delay time.Duration) error {
	q.wg.Add(1)
	time.AfterFunc(delay, func() {
		defer q.wg.Done()
		_ = q.Publish(topic, job)
	})
	return nil
}

func (q *InMemoryQueue) Subscribe(topic string, handler func(job SendJob) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until all in-flight jobs have been handled. Test helper.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}
