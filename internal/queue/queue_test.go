package queue_test

import (
	"sync"
	"testing"
	"time"

	"github.com/komi12345/ChatbotFrance-sub000/internal/queue"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	q := queue.NewInMemoryQueue()

	var mu sync.Mutex
	var got []int
	q.Subscribe("sends", func(job queue.SendJob) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, job.MessageID)
		return nil
	})

	for i := 1; i <= 3; i++ {
		if err := q.Publish("sends", queue.SendJob{MessageID: i}); err != nil {
			t.Fatal(err)
		}
	}
	q.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(got))
	}
}

func TestPublishWithoutSubscriberFails(t *testing.T) {
	q := queue.NewInMemoryQueue()
	if err := q.Publish("nowhere", queue.SendJob{MessageID: 1}); err == nil {
		t.Fatal("publish without subscribers should fail")
	}
}

func TestPublishDelayed(t *testing.T) {
	q := queue.NewInMemoryQueue()

	done := make(chan time.Time, 1)
	q.Subscribe("sends", func(job queue.SendJob) error {
		done <- time.Now()
		return nil
	})

	start := time.Now()
	if err := q.PublishDelayed("sends", queue.SendJob{MessageID: 7}, 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	select {
	case at := <-done:
		if at.Sub(start) < 20*time.Millisecond {
			t.Errorf("job delivered after %s, before the delay elapsed", at.Sub(start))
		}
	case <-time.After(time.Second):
		t.Fatal("delayed job never delivered")
	}
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	q := queue.NewInMemoryQueue()

	var mu sync.Mutex
	counts := map[string]int{}
	for _, name := range []string{"a", "b"} {
		name := name
		q.Subscribe("sends", func(job queue.SendJob) error {
			mu.Lock()
			defer mu.Unlock()
			counts[name]++
			return nil
		})
	}

	if err := q.Publish("sends", queue.SendJob{MessageID: 1}); err != nil {
		t.Fatal(err)
	}
	q.Wait()

	mu.Lock()
	defer mu.Unlock()
	if counts["a"] != 1 || counts["b"] != 1 {
		t.Fatalf("expected each subscriber to receive the job once, got %v", counts)
	}
}
