package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

func newTestQueue(maxRetries int) *InMemoryQueue {
	return NewInMemoryQueue(Options{Workers: 2, Buffer: 8, MaxRetries: maxRetries, Backoff: time.Millisecond}, nil)
}

func TestInMemoryQueue_Processes(t *testing.T) {
	q := newTestQueue(3)

	var mu sync.Mutex
	got := []string{}
	if err := q.Subscribe("upload_runs", func(ctx context.Context, body []byte) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(body))
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	for _, b := range []string{"a", "b", "c"} {
		if err := q.Publish(context.Background(), "upload_runs", []byte(b)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	q.Close()

	if len(got) != 3 {
		t.Fatalf("expected 3 processed tasks, got %d", len(got))
	}
}

func TestInMemoryQueue_RetriesThenSucceeds(t *testing.T) {
	q := newTestQueue(3)
	var calls int32
	q.Subscribe("t", func(ctx context.Context, body []byte) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	q.Publish(context.Background(), "t", nil)
	q.Close()

	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestInMemoryQueue_GivesUpAfterMaxRetries(t *testing.T) {
	q := newTestQueue(2)
	var calls int32
	q.Subscribe("t", func(ctx context.Context, body []byte) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("always")
	})

	q.Publish(context.Background(), "t", nil)
	q.Close()

	if calls != 3 {
		t.Errorf("expected 1 attempt + 2 retries, got %d", calls)
	}
}

func TestInMemoryQueue_MarksFinalAttempt(t *testing.T) {
	q := newTestQueue(2)
	var mu sync.Mutex
	var seen []Attempt
	q.Subscribe("t", func(ctx context.Context, body []byte) error {
		a, ok := AttemptFrom(ctx)
		if !ok {
			t.Error("handler context carries no attempt")
		}
		mu.Lock()
		seen = append(seen, a)
		mu.Unlock()
		return errors.New("always")
	})

	q.Publish(context.Background(), "t", nil)
	q.Close()

	want := []Attempt{{Number: 1}, {Number: 2}, {Number: 3, Final: true}}
	if len(seen) != len(want) {
		t.Fatalf("expected %d attempts, got %v", len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("attempt %d = %+v, want %+v", i, seen[i], want[i])
		}
	}
}

func TestInMemoryQueue_CloseWaitsForPendingRetry(t *testing.T) {
	q := NewInMemoryQueue(Options{Workers: 1, Buffer: 1, MaxRetries: 1, Backoff: 30 * time.Millisecond}, nil)
	var calls int32
	q.Subscribe("t", func(ctx context.Context, body []byte) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("transient")
		}
		return nil
	})

	q.Publish(context.Background(), "t", nil)
	q.Close()

	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected the retry to run before Close returned, got %d calls", calls)
	}
}

func TestInMemoryQueue_PermanentIsNotRetried(t *testing.T) {
	q := newTestQueue(3)
	var calls int32
	q.Subscribe("t", func(ctx context.Context, body []byte) error {
		atomic.AddInt32(&calls, 1)
		return Permanent(errors.New("bad payload"))
	})

	q.Publish(context.Background(), "t", nil)
	q.Close()

	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestInMemoryQueue_PanicIsContained(t *testing.T) {
	q := newTestQueue(0)
	q.Subscribe("t", func(ctx context.Context, body []byte) error { panic("boom") })

	q.Publish(context.Background(), "t", nil)
	q.Close()
}

func TestInMemoryQueue_NoSubscriber(t *testing.T) {
	q := newTestQueue(0)
	defer q.Close()

	if err := q.Publish(context.Background(), "nobody", nil); err == nil {
		t.Fatal("expected error for topic without subscribers")
	}
}

func TestInMemoryQueue_PublishAfterClose(t *testing.T) {
	q := newTestQueue(0)
	q.Subscribe("t", func(ctx context.Context, body []byte) error { return nil })
	q.Close()

	if err := q.Publish(context.Background(), "t", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestHeaderRetries(t *testing.T) {
	cases := []struct {
		h    amqp.Table
		want int
	}{
		{nil, 0},
		{amqp.Table{}, 0},
		{amqp.Table{retryHeader: int32(2)}, 2},
		{amqp.Table{retryHeader: int64(4)}, 4},
		{amqp.Table{retryHeader: "x"}, 0},
	}
	for _, c := range cases {
		if got := headerRetries(c.h); got != c.want {
			t.Errorf("headerRetries(%v) = %d, want %d", c.h, got, c.want)
		}
	}
}

func TestCopyHeadersLeavesOriginal(t *testing.T) {
	orig := amqp.Table{retryHeader: int32(1), "trace": "abc"}
	cp := copyHeaders(orig)
	setHeaderRetries(cp, 2)

	if headerRetries(orig) != 1 || headerRetries(cp) != 2 || cp["trace"] != "abc" {
		t.Fatalf("unexpected headers: orig=%v copy=%v", orig, cp)
	}
}

type fakeAck struct {
	mu    sync.Mutex
	acked int
}

func (f *fakeAck) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked++
	return nil
}

func (f *fakeAck) Nack(tag uint64, multiple, requeue bool) error { return nil }
func (f *fakeAck) Reject(tag uint64, requeue bool) error         { return nil }

func newConsumerQueue(workers, maxRetries int) *AMQPQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &AMQPQueue{
		workers:    workers,
		maxRetries: maxRetries,
		logger:     zap.NewNop().Sugar(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func TestAMQPQueue_ConsumesConcurrently(t *testing.T) {
	const workers = 3
	q := newConsumerQueue(workers, 0)
	ack := &fakeAck{}
	msgs := make(chan amqp.Delivery, workers)

	var arrived sync.WaitGroup
	arrived.Add(workers)
	release := make(chan struct{})
	q.consume("upload_runs", func(ctx context.Context, body []byte) error {
		arrived.Done()
		<-release
		return nil
	}, msgs)

	for i := 0; i < workers; i++ {
		msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: uint64(i + 1)}
	}

	done := make(chan struct{})
	go func() {
		arrived.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deliveries were not handled concurrently")
	}
	close(release)
	close(msgs)
	q.wg.Wait()

	if ack.acked != workers {
		t.Errorf("expected %d acks, got %d", workers, ack.acked)
	}
}

func TestAMQPQueue_FinalAttemptIsDropped(t *testing.T) {
	q := newConsumerQueue(1, 2)
	ack := &fakeAck{}
	var final bool

	q.handle("t", func(ctx context.Context, body []byte) error {
		final = IsFinalAttempt(ctx)
		return errors.New("store down")
	}, amqp.Delivery{Acknowledger: ack, Headers: amqp.Table{retryHeader: int32(2)}})

	if !final {
		t.Error("expected the handler to see its final attempt")
	}
	if ack.acked != 1 {
		t.Errorf("expected the dropped delivery to be acked, got %d", ack.acked)
	}
}
