package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/leadflow-backend/internal/metrics"
)

// Handler processes one task body. A nil error acks the task; an error
// retries it until MaxRetries, unless it was wrapped with Permanent.
type Handler func(ctx context.Context, body []byte) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, body []byte) error
	Subscribe(topic string, handler Handler) error
	Close() error
}

var ErrClosed = errors.New("queue closed")

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type attemptKey struct{}

// Attempt describes the delivery a handler is running under. Number starts
// at 1; Final is set when a retryable error will not be retried again.
type Attempt struct {
	Number int
	Final  bool
}

func withAttempt(ctx context.Context, number int, final bool) context.Context {
	return context.WithValue(ctx, attemptKey{}, Attempt{Number: number, Final: final})
}

func AttemptFrom(ctx context.Context) (Attempt, bool) {
	a, ok := ctx.Value(attemptKey{}).(Attempt)
	return a, ok
}

// IsFinalAttempt reports whether a failing handler is about to be dropped.
// Handlers use it to record the failure before the task is lost.
func IsFinalAttempt(ctx context.Context) bool {
	a, ok := AttemptFrom(ctx)
	return ok && a.Final
}

// Options tune the in-memory worker pool.
type Options struct {
	Workers    int
	Buffer     int
	MaxRetries int
	// Backoff is multiplied by the attempt number before each retry.
	Backoff time.Duration
}

// task wraps a message body with retry info
type task struct {
	topic      string
	body       []byte
	retryCount int
}

// InMemoryQueue runs subscribers on a fixed pool of goroutines fed by a
// bounded channel. Publish blocks while the buffer is full.
type InMemoryQueue struct {
	opts   Options
	logger *zap.SugaredLogger

	handlersMu sync.RWMutex
	handlers   map[string][]Handler

	// closeMu orders Publish against Close so no send hits a closed channel.
	closeMu sync.RWMutex
	closed  bool

	tasks  chan task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewInMemoryQueue(opts Options, logger *zap.SugaredLogger) *InMemoryQueue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Buffer < 0 {
		opts.Buffer = 0
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff == 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &InMemoryQueue{
		opts:     opts,
		logger:   logger,
		handlers: make(map[string][]Handler),
		tasks:    make(chan task, opts.Buffer),
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	q.handlersMu.Lock()
	defer q.handlersMu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Publish hands body to the pool. It returns once the task is buffered,
// not when it has been processed.
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, body []byte) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()

	if q.closed {
		return ErrClosed
	}
	if !q.hasHandlers(topic) {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	select {
	case q.tasks <- task{topic: topic, body: body}:
		metrics.TasksPublished.WithLabelValues(topic).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks, drains the buffer and waits for the workers,
// including any task sleeping before a retry.
func (q *InMemoryQueue) Close() error {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	q.closeMu.Unlock()

	q.wg.Wait()
	q.cancel()
	return nil
}

func (q *InMemoryQueue) hasHandlers(topic string) bool {
	q.handlersMu.RLock()
	defer q.handlersMu.RUnlock()
	return len(q.handlers[topic]) > 0
}

func (q *InMemoryQueue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.handlersMu.RLock()
		handlers := append([]Handler(nil), q.handlers[t.topic]...)
		q.handlersMu.RUnlock()

		for _, h := range handlers {
			q.process(h, t)
		}
	}
}

// process handles retries and errors
func (q *InMemoryQueue) process(handler Handler, t task) {
	for {
		err := q.invoke(handler, t)
		if err == nil {
			return // ACK
		}
		if IsPermanent(err) {
			q.logger.Warnw("task_rejected", "topic", t.topic, "error", err)
			metrics.TasksDropped.WithLabelValues(t.topic).Inc()
			return
		}

		t.retryCount++
		if t.retryCount > q.opts.MaxRetries {
			q.logger.Errorw("task_dropped_after_retries", "topic", t.topic, "retries", q.opts.MaxRetries, "error", err)
			metrics.TasksDropped.WithLabelValues(t.topic).Inc()
			return // No requeue
		}

		q.logger.Warnw("task_retry", "topic", t.topic, "attempt", t.retryCount, "max_retries", q.opts.MaxRetries, "error", err)
		metrics.TaskRetries.WithLabelValues(t.topic).Inc()

		time.Sleep(time.Duration(t.retryCount) * q.opts.Backoff)
	}
}

// invoke shields the pool from a panicking handler.
func (q *InMemoryQueue) invoke(handler Handler, t task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return handler(withAttempt(q.ctx, t.retryCount+1, t.retryCount >= q.opts.MaxRetries), t.body)
}

var _ Queue = (*InMemoryQueue)(nil)
