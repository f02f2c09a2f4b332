// internal/queue/amqp.go
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// AMQPQueue backs the send queue with RabbitMQ. Queues are declared durable
// on first use so publisher and consumer can start in any order.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  zerolog.Logger
}

func DialAMQP(url string, log zerolog.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	return &AMQPQueue{conn: conn, ch: ch, log: log}, nil
}

func (q *AMQPQueue) Close() {
	q.ch.Close()
	q.conn.Close()
}

func (q *AMQPQueue) declare(topic string) (amqp.Queue, error) {
	return q.ch.QueueDeclare(topic, true, false, false, false, nil)
}

func (q *AMQPQueue) Publish(topic string, job SendJob) error {
	if _, err := q.declare(topic); err != nil {
		return err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// PublishDelayed schedules the publish from a timer goroutine. A publisher
// crash during the delay loses the timer; the message stays pending until the
// force-close sweep fails it with an explicit reason.
func (q *AMQPQueue) PublishDelayed(topic string, job SendJob, delay time.Duration) error {
	if delay <= 0 {
		return q.Publish(topic, job)
	}
	time.AfterFunc(delay, func() {
		if err := q.Publish(topic, job); err != nil {
			q.log.Error().Err(err).Int("message_id", job.MessageID).Msg("delayed publish failed")
		}
	})
	return nil
}

// Subscribe consumes jobs until the channel closes. Handler errors are logged
// and the delivery acked anyway: the worker records failure state on the
// message itself and schedules its own retries.
func (q *AMQPQueue) Subscribe(topic string, handler func(job SendJob) error) error {
	queue, err := q.declare(topic)
	if err != nil {
		return err
	}
	deliveries, err := q.ch.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range deliveries {
			var job SendJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				q.log.Warn().Err(err).Msg("dropping malformed job")
				d.Nack(false, false)
				continue
			}
			if err := handler(job); err != nil {
				q.log.Error().Err(err).Int("message_id", job.MessageID).Msg("job handler failed")
			}
			d.Ack(false)
		}
	}()
	return nil
}
