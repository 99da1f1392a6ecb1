// Package worker runs the alert delivery consumer loop: dequeue a job,
// take the processing lock, persist the notification, fan out to the
// live and email channels, mark the alert triggered, release the lock.
//
// Any number of worker processes may run against the same queue.
// Correctness (at most one active processing per alert id) comes from
// the dedup gate's lock, not from queue semantics. Distinct alert ids
// process fully in parallel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/finflow/alertpipe/pkg/alert"
	"github.com/finflow/alertpipe/pkg/alertqueue"
	"github.com/finflow/alertpipe/pkg/dedup"
	"github.com/finflow/alertpipe/pkg/logger"
	"github.com/finflow/alertpipe/pkg/mailer"
	"github.com/finflow/alertpipe/pkg/notification"
	"github.com/finflow/alertpipe/pkg/ratelimit"
	"github.com/finflow/alertpipe/pkg/realtime"
)

var (
	ErrAlreadyStarted = errors.New("worker: already started")
	ErrNotStarted     = errors.New("worker: not started")
)

// RecipientResolver looks up the email address for a user. It is a
// collaborator boundary; the pipeline never reads user records itself.
type RecipientResolver interface {
	EmailAddress(ctx context.Context, userID string) (string, error)
}

// Config holds worker loop settings.
type Config struct {
	DequeueTimeout   time.Duration `env:"WORKER_DEQUEUE_TIMEOUT" envDefault:"5s"`
	TriggerTTL       time.Duration `env:"WORKER_TRIGGER_TTL" envDefault:"24h"`
	LockTTL          time.Duration `env:"WORKER_LOCK_TTL" envDefault:"5m"`
	UnhealthyBackoff time.Duration `env:"WORKER_UNHEALTHY_BACKOFF" envDefault:"5s"`
}

// Worker consumes alert jobs and delivers them.
type Worker struct {
	queue       alertqueue.Queue
	gate        dedup.Gate
	storage     notification.Storage
	fanout      realtime.Fanout
	mail        mailer.Sender
	recipients  RecipientResolver
	toastLimit  *ratelimit.Limiter
	emailLimit  *ratelimit.Limiter
	healthcheck func(context.Context) error

	cfg      Config
	workerID uuid.UUID
	log      *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopping atomic.Bool
	mu       sync.Mutex
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the worker's logger.
func WithLogger(log *slog.Logger) Option {
	return func(w *Worker) {
		if log != nil {
			w.log = log
		}
	}
}

// WithMailer enables the email channel.
func WithMailer(mail mailer.Sender, recipients RecipientResolver, limit *ratelimit.Limiter) Option {
	return func(w *Worker) {
		w.mail = mail
		w.recipients = recipients
		w.emailLimit = limit
	}
}

// WithFanout enables the live toast channel.
func WithFanout(fanout realtime.Fanout, limit *ratelimit.Limiter) Option {
	return func(w *Worker) {
		w.fanout = fanout
		w.toastLimit = limit
	}
}

// WithHealthcheck gates each loop iteration on the shared store being
// reachable. When it fails the worker backs off instead of hammering a
// down dependency.
func WithHealthcheck(check func(context.Context) error) Option {
	return func(w *Worker) {
		w.healthcheck = check
	}
}

// New creates a worker. Queue, gate and storage are mandatory; delivery
// channels are optional.
func New(queue alertqueue.Queue, gate dedup.Gate, storage notification.Storage, cfg Config, opts ...Option) *Worker {
	w := &Worker{
		queue:    queue,
		gate:     gate,
		storage:  storage,
		cfg:      cfg,
		workerID: uuid.New(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins consuming jobs in the background.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return ErrAlreadyStarted
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.stopping.Store(false)

	w.wg.Add(1)
	go w.run()

	w.log.InfoContext(ctx, "alert worker started",
		slog.String("worker_id", w.workerID.String()))
	return nil
}

// Stop shuts the worker down gracefully: it stops pulling new jobs and
// lets any in-flight locked job finish. The lock TTL bounds exposure if
// shutdown is not graceful.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return ErrNotStarted
	}
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	w.stopping.Store(true)
	cancel()
	w.wg.Wait()

	w.log.Info("alert worker stopped",
		slog.String("worker_id", w.workerID.String()))
	return nil
}

// Run starts the worker and returns a function suitable for errgroup.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return w.Stop()
	}
}

// run is the consumer loop. The blocking dequeue is its only suspension
// point; everything after a dequeue is short store round trips.
func (w *Worker) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		if w.healthcheck != nil {
			if err := w.healthcheck(w.ctx); err != nil {
				w.log.LogAttrs(w.ctx, slog.LevelWarn, "shared store unavailable, backing off",
					slog.String("worker_id", w.workerID.String()),
					logger.Error(err),
				)
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(w.cfg.UnhealthyBackoff):
				}
				continue
			}
		}

		job, err := w.queue.Dequeue(w.ctx, w.cfg.DequeueTimeout)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			w.log.LogAttrs(w.ctx, slog.LevelError, "failed to dequeue alert job",
				slog.String("worker_id", w.workerID.String()),
				logger.Error(err),
			)
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(w.cfg.UnhealthyBackoff):
			}
			continue
		}
		if job == nil {
			// Timed out with an empty queue; loop to stay responsive to
			// shutdown.
			continue
		}

		if err := w.Process(job); err != nil {
			w.log.LogAttrs(w.ctx, slog.LevelError, "alert job aborted",
				slog.String("worker_id", w.workerID.String()),
				logger.AlertID(job.AlertID),
				logger.UserID(job.UserID),
				logger.Error(err),
			)
		}
	}
}

// Process delivers one job. The processing context is detached from the
// worker's lifecycle so graceful shutdown lets an in-flight job finish;
// the lock TTL caps its runtime.
//
// On persistence failure the lock is released and the triggered marker
// stays unset, so the producer's next evaluation cycle can retry the
// condition. The queue itself never requeues a dequeued job.
func (w *Worker) Process(job *alert.Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.LockTTL)
	defer cancel()

	triggered, err := w.gate.IsTriggered(ctx, job.AlertID)
	if err != nil {
		return fmt.Errorf("check triggered: %w", err)
	}
	if triggered {
		w.log.LogAttrs(ctx, slog.LevelDebug, "alert already delivered within window, skipping",
			logger.AlertID(job.AlertID))
		return nil
	}

	locked, err := w.gate.TryLock(ctx, job.AlertID, w.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		w.log.LogAttrs(ctx, slog.LevelDebug, "alert locked by another worker, skipping",
			logger.AlertID(job.AlertID))
		return nil
	}
	// Scoped release on every exit path, success or failure. A crashed
	// process is covered by the lock TTL instead.
	defer func() {
		if err := w.gate.Unlock(context.WithoutCancel(ctx), job.AlertID); err != nil {
			w.log.LogAttrs(ctx, slog.LevelError, "failed to release processing lock",
				logger.AlertID(job.AlertID),
				logger.Error(err),
			)
		}
	}()

	notif, err := w.persist(ctx, job)
	if err != nil {
		return fmt.Errorf("persist alert notification: %w", err)
	}

	w.fanOut(ctx, job, notif)

	if err := w.gate.MarkTriggered(ctx, job.AlertID, w.cfg.TriggerTTL); err != nil {
		return fmt.Errorf("mark triggered: %w", err)
	}

	w.log.LogAttrs(ctx, slog.LevelInfo, "alert delivered",
		slog.String("worker_id", w.workerID.String()),
		logger.AlertID(job.AlertID),
		logger.UserID(job.UserID),
	)
	return nil
}

// persist writes the durable notification row. A duplicate is not a
// failure: another path already persisted the same logical alert.
func (w *Worker) persist(ctx context.Context, job *alert.Job) (*notification.Notification, error) {
	notif := &notification.Notification{
		UserID:   job.UserID,
		Type:     typeForPriority(job.Priority),
		Title:    job.Title,
		Message:  job.Message,
		Source:   string(job.Category),
		SourceID: job.AlertID,
	}

	if err := w.storage.Create(ctx, notif); err != nil {
		if errors.Is(err, notification.ErrDuplicate) {
			w.log.LogAttrs(ctx, slog.LevelDebug, "notification row already exists",
				logger.AlertID(job.AlertID))
			return notif, nil
		}
		return nil, err
	}
	return notif, nil
}

// fanOut pushes the alert to its side channels. Both channels are
// best-effort: failures are logged and never block marking the alert
// triggered.
func (w *Worker) fanOut(ctx context.Context, job *alert.Job, notif *notification.Notification) {
	if w.fanout != nil && job.HasChannel(alert.ChannelToast) {
		w.deliverToast(ctx, job, notif)
	}
	if w.mail != nil && job.HasChannel(alert.ChannelEmail) {
		w.deliverEmail(ctx, job)
	}
}

func (w *Worker) deliverToast(ctx context.Context, job *alert.Job, notif *notification.Notification) {
	allowed, err := w.toastLimit.Allow(ctx, job.UserID)
	if err != nil {
		w.log.LogAttrs(ctx, slog.LevelWarn, "toast rate check failed, skipping push",
			logger.AlertID(job.AlertID), logger.Error(err))
		return
	}
	if !allowed {
		// The row is persisted and listable; only the live nudge is
		// suppressed for the rest of the window.
		w.log.LogAttrs(ctx, slog.LevelDebug, "toast rate limit reached, skipping push",
			logger.UserID(job.UserID), logger.Channel("toast"))
		return
	}

	ev := realtime.Event{
		UserID:         job.UserID,
		NotificationID: notif.ID,
		Type:           realtime.TypeNew,
		Source:         string(job.Category),
		Timestamp:      time.Now(),
	}
	if err := w.fanout.Publish(ctx, job.UserID, ev); err != nil {
		w.log.LogAttrs(ctx, slog.LevelWarn, "failed to publish toast event",
			logger.AlertID(job.AlertID), logger.Error(err))
		return
	}
	if err := w.toastLimit.Record(ctx, job.UserID); err != nil {
		w.log.LogAttrs(ctx, slog.LevelWarn, "failed to record toast delivery",
			logger.UserID(job.UserID), logger.Error(err))
	}
}

func (w *Worker) deliverEmail(ctx context.Context, job *alert.Job) {
	allowed, err := w.emailLimit.Allow(ctx, job.UserID, string(job.Category))
	if err != nil {
		w.log.LogAttrs(ctx, slog.LevelWarn, "email rate check failed, skipping email",
			logger.AlertID(job.AlertID), logger.Error(err))
		return
	}
	if !allowed {
		w.log.LogAttrs(ctx, slog.LevelDebug, "email rate limit reached, skipping email",
			logger.UserID(job.UserID), logger.Channel("email"))
		return
	}

	to, err := w.recipients.EmailAddress(ctx, job.UserID)
	if err != nil {
		w.log.LogAttrs(ctx, slog.LevelWarn, "failed to resolve email recipient",
			logger.UserID(job.UserID), logger.Error(err))
		return
	}

	msg := renderEmail(job, to)
	if err := w.mail.Send(ctx, msg); err != nil {
		w.log.LogAttrs(ctx, slog.LevelWarn, "failed to send alert email",
			logger.AlertID(job.AlertID), logger.UserID(job.UserID), logger.Error(err))
		return
	}

	// Count only sends that went through, so a failing address does not
	// eat the user's window.
	if err := w.emailLimit.Record(ctx, job.UserID, string(job.Category)); err != nil {
		w.log.LogAttrs(ctx, slog.LevelWarn, "failed to record email delivery",
			logger.UserID(job.UserID), logger.Error(err))
	}
}

func typeForPriority(p alert.Priority) notification.Type {
	switch p {
	case alert.PriorityCritical:
		return notification.TypeError
	case alert.PriorityWarning:
		return notification.TypeWarning
	default:
		return notification.TypeInfo
	}
}
