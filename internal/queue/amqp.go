package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/leadflow-backend/internal/metrics"
)

const retryHeader = "x-retry-count"

// AMQPQueue carries tasks over RabbitMQ. Each topic is a durable queue on
// the default exchange; deliveries are acked manually and a failed task is
// republished with an incremented retry header. Every subscription runs
// workers consumer goroutines over its delivery channel.
type AMQPQueue struct {
	conn       *amqp.Connection
	pubCh      *amqp.Channel
	maxRetries int
	workers    int
	prefetch   int
	logger     *zap.SugaredLogger

	mu       sync.Mutex
	declared map[string]bool
	consumer []*amqp.Channel

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewAMQPQueue(url string, maxRetries, workers, prefetch int, logger *zap.SugaredLogger) (*AMQPQueue, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if workers <= 0 {
		workers = 1
	}
	if prefetch <= 0 {
		prefetch = 10
	}
	if prefetch < workers {
		prefetch = workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &AMQPQueue{
		conn:       conn,
		pubCh:      ch,
		maxRetries: maxRetries,
		workers:    workers,
		prefetch:   prefetch,
		logger:     logger,
		declared:   make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

func declare(ch *amqp.Channel, topic string) error {
	_, err := ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	return err
}

func (q *AMQPQueue) Publish(ctx context.Context, topic string, body []byte) error {
	return q.publish(ctx, topic, body, nil)
}

func (q *AMQPQueue) publish(ctx context.Context, topic string, body []byte, headers amqp.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.declared[topic] {
		if err := declare(q.pubCh, topic); err != nil {
			return fmt.Errorf("declare queue %s: %w", topic, err)
		}
		q.declared[topic] = true
	}

	err := q.pubCh.Publish(
		"",
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Headers:      headers,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	metrics.TasksPublished.WithLabelValues(topic).Inc()
	return nil
}

// Subscribe opens a consumer channel for topic and starts the worker
// goroutines that drain it.
func (q *AMQPQueue) Subscribe(topic string, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	if err := declare(ch, topic); err != nil {
		ch.Close()
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		ch.Close()
		return err
	}
	msgs, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("register consumer: %w", err)
	}

	q.mu.Lock()
	q.consumer = append(q.consumer, ch)
	q.mu.Unlock()

	q.consume(topic, handler, msgs)
	return nil
}

func (q *AMQPQueue) consume(topic string, handler Handler, msgs <-chan amqp.Delivery) {
	q.logger.Infow("consumer_started", "queue", topic, "workers", q.workers)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-q.ctx.Done():
					return
				case d, ok := <-msgs:
					if !ok {
						q.logger.Warnw("consumer_channel_closed", "queue", topic)
						return
					}
					q.handle(topic, handler, d)
				}
			}
		}()
	}
}

func (q *AMQPQueue) handle(topic string, handler Handler, d amqp.Delivery) {
	retries := headerRetries(d.Headers)
	err := q.invoke(withAttempt(q.ctx, retries+1, retries >= q.maxRetries), handler, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}
	if IsPermanent(err) {
		q.logger.Warnw("task_rejected", "queue", topic, "error", err)
		metrics.TasksDropped.WithLabelValues(topic).Inc()
		_ = d.Ack(false)
		return
	}

	if retries >= q.maxRetries {
		q.logger.Errorw("task_dropped_after_retries", "queue", topic, "retries", retries, "error", err)
		metrics.TasksDropped.WithLabelValues(topic).Inc()
		_ = d.Ack(false)
		return
	}

	headers := copyHeaders(d.Headers)
	setHeaderRetries(headers, retries+1)
	metrics.TaskRetries.WithLabelValues(topic).Inc()
	q.logger.Warnw("task_retry", "queue", topic, "attempt", retries+1, "error", err)
	if pubErr := q.publish(q.ctx, topic, d.Body, headers); pubErr != nil {
		q.logger.Errorw("retry_publish_error", "queue", topic, "error", pubErr)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func (q *AMQPQueue) invoke(ctx context.Context, handler Handler, body []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return handler(ctx, body)
}

func (q *AMQPQueue) Close() error {
	q.cancel()
	q.mu.Lock()
	for _, ch := range q.consumer {
		_ = ch.Close()
	}
	_ = q.pubCh.Close()
	q.mu.Unlock()
	q.wg.Wait()
	return q.conn.Close()
}

func headerRetries(h amqp.Table) int {
	if h == nil {
		return 0
	}
	switch t := h[retryHeader].(type) {
	case int32:
		return int(t)
	case int64:
		return int(t)
	case int:
		return t
	case int16:
		return int(t)
	case uint8:
		return int(t)
	}
	return 0
}

func setHeaderRetries(h amqp.Table, n int) {
	h[retryHeader] = int32(n)
}

func copyHeaders(h amqp.Table) amqp.Table {
	out := amqp.Table{}
	for k, v := range h {
		out[k] = v
	}
	return out
}

var _ Queue = (*AMQPQueue)(nil)
