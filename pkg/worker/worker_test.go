package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finflow/alertpipe/pkg/alert"
	"github.com/finflow/alertpipe/pkg/alertqueue"
	"github.com/finflow/alertpipe/pkg/dedup"
	"github.com/finflow/alertpipe/pkg/mailer"
	"github.com/finflow/alertpipe/pkg/notification"
	"github.com/finflow/alertpipe/pkg/ratelimit"
	"github.com/finflow/alertpipe/pkg/realtime"
	"github.com/finflow/alertpipe/pkg/worker"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() worker.Config {
	return worker.Config{
		DequeueTimeout:   50 * time.Millisecond,
		TriggerTTL:       time.Minute,
		LockTTL:          time.Minute,
		UnhealthyBackoff: 10 * time.Millisecond,
	}
}

func toastJob(alertID, userID string) *alert.Job {
	return &alert.Job{
		AlertID:  alertID,
		UserID:   userID,
		Category: alert.CategoryInvoice,
		Priority: alert.PriorityWarning,
		Title:    "Invoice overdue",
		Message:  "Invoice 42 is overdue.",
		Channels: []alert.Channel{alert.ChannelToast},
	}
}

type fakeSender struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (s *fakeSender) Send(ctx context.Context, msg mailer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type staticRecipients map[string]string

func (r staticRecipients) EmailAddress(ctx context.Context, userID string) (string, error) {
	addr, ok := r[userID]
	if !ok {
		return "", errors.New("unknown user")
	}
	return addr, nil
}

type failingStorage struct {
	notification.Storage
}

func (failingStorage) Create(ctx context.Context, notif *notification.Notification) error {
	return errors.New("storage down")
}

func drainEvents(sub realtime.Subscription, wait time.Duration) []realtime.Event {
	var events []realtime.Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-time.After(wait):
			return events
		}
	}
}

func TestProcessDeliversToast(t *testing.T) {
	ctx := context.Background()
	storage := notification.NewMemoryStorage()
	gate := dedup.NewMemoryGate()
	fanout := realtime.NewMemoryFanout(8)
	defer fanout.Close()

	sub, err := fanout.Subscribe(ctx, "user-1")
	require.NoError(t, err)
	defer sub.Close()

	w := worker.New(alertqueue.NewMemoryQueue(1), gate, storage, testConfig(),
		worker.WithLogger(quietLogger()),
		worker.WithFanout(fanout, ratelimit.NewToastLimiter(ratelimit.NewMemoryStore())),
	)

	job := toastJob("invoice:42:v1", "user-1")
	require.NoError(t, w.Process(job))

	// Durable row persisted with the alert id as dedup source id.
	list, err := storage.List(ctx, "user-1", notification.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "invoice:42:v1", list[0].SourceID)
	assert.Equal(t, notification.TypeWarning, list[0].Type)

	// Live toast published.
	events := drainEvents(sub, 100*time.Millisecond)
	require.Len(t, events, 1)
	assert.Equal(t, realtime.TypeNew, events[0].Type)
	assert.Equal(t, list[0].ID, events[0].NotificationID)

	// Marker set: a redelivered job is a no-op.
	triggered, err := gate.IsTriggered(ctx, job.AlertID)
	require.NoError(t, err)
	assert.True(t, triggered)
}

func TestProcessSkipsTriggeredAlert(t *testing.T) {
	ctx := context.Background()
	storage := notification.NewMemoryStorage()
	gate := dedup.NewMemoryGate()

	require.NoError(t, gate.MarkTriggered(ctx, "invoice:42:v1", time.Minute))

	w := worker.New(alertqueue.NewMemoryQueue(1), gate, storage, testConfig(),
		worker.WithLogger(quietLogger()))

	require.NoError(t, w.Process(toastJob("invoice:42:v1", "user-1")))

	list, err := storage.List(ctx, "user-1", notification.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list, "an alert inside its trigger window must not be redelivered")
}

func TestProcessConcurrentWorkersDeliverOnce(t *testing.T) {
	ctx := context.Background()
	storage := notification.NewMemoryStorage()
	gate := dedup.NewMemoryGate()
	fanout := realtime.NewMemoryFanout(16)
	defer fanout.Close()

	sub, err := fanout.Subscribe(ctx, "user-1")
	require.NoError(t, err)
	defer sub.Close()

	// Two independent worker processes share the queue's backing store.
	// Whichever wins the lock delivers; the other sees the lock or the
	// marker and skips.
	store := ratelimit.NewMemoryStore()
	newWorker := func() *worker.Worker {
		return worker.New(alertqueue.NewMemoryQueue(1), gate, storage, testConfig(),
			worker.WithLogger(quietLogger()),
			worker.WithFanout(fanout, ratelimit.NewToastLimiter(store)),
		)
	}
	w1, w2 := newWorker(), newWorker()

	var wg sync.WaitGroup
	for _, w := range []*worker.Worker{w1, w2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Process(toastJob("invoice:42:v1", "user-1")))
		}()
	}
	wg.Wait()

	events := drainEvents(sub, 100*time.Millisecond)
	assert.Len(t, events, 1, "exactly one worker must deliver the toast")

	list, err := storage.List(ctx, "user-1", notification.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestProcessPersistFailureLeavesAlertRetryable(t *testing.T) {
	ctx := context.Background()
	gate := dedup.NewMemoryGate()
	storage := failingStorage{notification.NewMemoryStorage()}

	w := worker.New(alertqueue.NewMemoryQueue(1), gate, storage, testConfig(),
		worker.WithLogger(quietLogger()))

	job := toastJob("invoice:42:v1", "user-1")
	require.Error(t, w.Process(job))

	// The marker stays unset and the lock is released, so the producer's
	// next evaluation cycle can re-enqueue and succeed.
	triggered, err := gate.IsTriggered(ctx, job.AlertID)
	require.NoError(t, err)
	assert.False(t, triggered)

	locked, err := gate.TryLock(ctx, job.AlertID, time.Minute)
	require.NoError(t, err)
	assert.True(t, locked, "lock must be free after a failed delivery")
}

func TestProcessToastRateLimit(t *testing.T) {
	ctx := context.Background()
	storage := notification.NewMemoryStorage()
	gate := dedup.NewMemoryGate()
	fanout := realtime.NewMemoryFanout(16)
	defer fanout.Close()

	sub, err := fanout.Subscribe(ctx, "user-1")
	require.NoError(t, err)
	defer sub.Close()

	limiter := ratelimit.New(ratelimit.NewMemoryStore(), "ratelimit:toast",
		ratelimit.Config{Max: 2, Window: 50 * time.Millisecond})
	w := worker.New(alertqueue.NewMemoryQueue(1), gate, storage, testConfig(),
		worker.WithLogger(quietLogger()),
		worker.WithFanout(fanout, limiter),
	)

	// Three distinct alerts in one window: all three persist, only the
	// first two push a live toast.
	require.NoError(t, w.Process(toastJob("invoice:1:v1", "user-1")))
	require.NoError(t, w.Process(toastJob("invoice:2:v1", "user-1")))
	require.NoError(t, w.Process(toastJob("invoice:3:v1", "user-1")))

	list, err := storage.List(ctx, "user-1", notification.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 3, "the suppressed alert must still be persisted and listable")

	events := drainEvents(sub, 100*time.Millisecond)
	assert.Len(t, events, 2)

	// After the window expires, pushes resume.
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, w.Process(toastJob("invoice:4:v1", "user-1")))

	events = drainEvents(sub, 100*time.Millisecond)
	assert.Len(t, events, 1)
}

func TestProcessDeliversEmail(t *testing.T) {
	storage := notification.NewMemoryStorage()
	gate := dedup.NewMemoryGate()
	sender := &fakeSender{}

	w := worker.New(alertqueue.NewMemoryQueue(1), gate, storage, testConfig(),
		worker.WithLogger(quietLogger()),
		worker.WithMailer(sender, staticRecipients{"user-1": "user@example.com"},
			ratelimit.NewEmailLimiter(ratelimit.NewMemoryStore())),
	)

	job := toastJob("invoice:42:v1", "user-1")
	job.Channels = []alert.Channel{alert.ChannelEmail}
	require.NoError(t, w.Process(job))

	require.Equal(t, 1, sender.count())
	assert.Equal(t, "user@example.com", sender.sent[0].To)
	assert.Contains(t, sender.sent[0].Subject, "Invoice overdue")
}

func TestProcessEmailFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	storage := notification.NewMemoryStorage()
	gate := dedup.NewMemoryGate()
	sender := &fakeSender{err: errors.New("smtp down")}
	emailLimit := ratelimit.NewEmailLimiter(ratelimit.NewMemoryStore())

	w := worker.New(alertqueue.NewMemoryQueue(1), gate, storage, testConfig(),
		worker.WithLogger(quietLogger()),
		worker.WithMailer(sender, staticRecipients{"user-1": "user@example.com"}, emailLimit),
	)

	job := toastJob("invoice:42:v1", "user-1")
	job.Channels = []alert.Channel{alert.ChannelEmail}
	require.NoError(t, w.Process(job), "a failed email must not abort the delivery")

	// The durable row and the marker are still written.
	list, err := storage.List(ctx, "user-1", notification.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	triggered, err := gate.IsTriggered(ctx, job.AlertID)
	require.NoError(t, err)
	assert.True(t, triggered)

	// A send that never went through does not consume the email window.
	allowed, err := emailLimit.Allow(ctx, "user-1", string(alert.CategoryInvoice))
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestWorkerLifecycle(t *testing.T) {
	ctx := context.Background()
	storage := notification.NewMemoryStorage()
	gate := dedup.NewMemoryGate()
	queue := alertqueue.NewMemoryQueue(10)
	fanout := realtime.NewMemoryFanout(8)
	defer fanout.Close()

	sub, err := fanout.Subscribe(ctx, "user-1")
	require.NoError(t, err)
	defer sub.Close()

	w := worker.New(queue, gate, storage, testConfig(),
		worker.WithLogger(quietLogger()),
		worker.WithFanout(fanout, ratelimit.NewToastLimiter(ratelimit.NewMemoryStore())),
	)

	require.NoError(t, w.Start(ctx))
	assert.ErrorIs(t, w.Start(ctx), worker.ErrAlreadyStarted)

	require.NoError(t, queue.Enqueue(ctx, *toastJob("invoice:42:v1", "user-1")))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, realtime.TypeNew, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not deliver the enqueued job")
	}

	require.NoError(t, w.Stop())
	assert.ErrorIs(t, w.Stop(), worker.ErrNotStarted)
}

func TestWorkerBacksOffWhenUnhealthy(t *testing.T) {
	ctx := context.Background()
	storage := notification.NewMemoryStorage()
	gate := dedup.NewMemoryGate()
	queue := alertqueue.NewMemoryQueue(10)

	var mu sync.Mutex
	healthy := false
	w := worker.New(queue, gate, storage, testConfig(),
		worker.WithLogger(quietLogger()),
		worker.WithHealthcheck(func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			if !healthy {
				return errors.New("store unavailable")
			}
			return nil
		}),
	)

	require.NoError(t, w.Start(ctx))
	defer func() { require.NoError(t, w.Stop()) }()

	require.NoError(t, queue.Enqueue(ctx, *toastJob("invoice:42:v1", "user-1")))

	// While unhealthy nothing is consumed.
	time.Sleep(50 * time.Millisecond)
	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mu.Lock()
	healthy = true
	mu.Unlock()

	require.Eventually(t, func() bool {
		list, err := storage.List(ctx, "user-1", notification.ListOptions{})
		return err == nil && len(list) == 1
	}, 2*time.Second, 10*time.Millisecond, "worker should resume once the store recovers")
}
