package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/fieldcheck/servicereport-backend/internal/realtime"
	"github.com/fieldcheck/servicereport-backend/pkg/config"
	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
	dbtypes "github.com/fieldcheck/servicereport-backend/pkg/db/types"
	"github.com/fieldcheck/servicereport-backend/pkg/logger"
	"github.com/fieldcheck/servicereport-backend/pkg/metrics"
)

// Store is the persistence half of a delivery attempt.
type Store interface {
	CreateIfAbsent(ctx context.Context, notification *models.Notification) error
}

// Publisher is the live half of a delivery attempt.
type Publisher interface {
	Publish(ctx context.Context, recipientID uuid.UUID, event realtime.Event) (int64, error)
}

// DispatcherOptions tunes attempts and pacing.
type DispatcherOptions struct {
	MaxAttempts    int
	RetryBaseDelay time.Duration
	AttemptTimeout time.Duration
	SweepBatchSize int
	Concurrency    int
}

// DispatcherOptionsFromConfig maps the notifications config section.
func DispatcherOptionsFromConfig(cfg config.NotificationsConfig) DispatcherOptions {
	return DispatcherOptions{
		MaxAttempts:    cfg.MaxAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay(),
		AttemptTimeout: cfg.AttemptTimeout(),
		SweepBatchSize: cfg.SweepBatchSize,
	}
}

// SweepResult summarizes one RetryFailed pass.
type SweepResult struct {
	Attempted    int
	Delivered    int
	Rescheduled  int
	DeadLettered int
	// Skipped counts items another sweeper claimed first and attempts
	// handed back because the sweep was cancelled.
	Skipped   int
	Remaining int
}

// Dispatcher turns messages into persisted, published notifications. A failed
// attempt is parked in the retry queue and never reported as a failure of the
// business operation that triggered it.
type Dispatcher struct {
	store     Store
	publisher Publisher
	queue     RetryQueue
	logg      *logger.Logger
	metrics   *metrics.NotificationMetrics
	opts      DispatcherOptions
	now       func() time.Time

	sweepMu sync.Mutex
}

func NewDispatcher(store Store, publisher Publisher, queue RetryQueue, logg *logger.Logger, m *metrics.NotificationMetrics, opts DispatcherOptions) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("notification store required")
	}
	if publisher == nil {
		return nil, errors.New("notification publisher required")
	}
	if queue == nil {
		return nil, errors.New("retry queue required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 5 * time.Second
	}
	if opts.SweepBatchSize <= 0 {
		opts.SweepBatchSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		queue:     queue,
		logg:      logg,
		metrics:   m,
		opts:      opts,
		now:       time.Now,
	}, nil
}

// Notify delivers msg to one recipient. It returns once the first attempt has
// finished; it never waits for the recipient to read the push.
func (d *Dispatcher) Notify(ctx context.Context, recipientID uuid.UUID, msg Message) Result {
	result := Result{RecipientID: recipientID}
	if recipientID == uuid.Nil {
		result.Err = errors.New("recipient id required")
		return result
	}
	msg, err := msg.normalize()
	if err != nil {
		result.Err = err
		return result
	}
	data, err := dbtypes.NewJSON(msg.Data)
	if err != nil {
		result.Err = fmt.Errorf("encode notification data: %w", err)
		return result
	}

	now := d.now().UTC()
	n := models.Notification{
		ID:          uuid.New(),
		RecipientID: recipientID,
		Type:        msg.Type,
		Priority:    msg.Priority,
		Title:       msg.Title,
		Message:     msg.Message,
		Data:        data,
		CreatedAt:   now,
	}
	result.NotificationID = n.ID

	logCtx := d.logg.WithFields(ctx, map[string]any{
		"recipient_id":    recipientID.String(),
		"notification_id": n.ID.String(),
	})

	attemptErr := d.attempt(ctx, n)
	if attemptErr == nil {
		d.metrics.IncDelivered(1)
		result.Delivered = true
		return result
	}
	result.Err = attemptErr

	item := RetryItem{
		Notification:  n,
		Attempts:      1,
		LastError:     attemptErr.Error(),
		NextAttemptAt: now.Add(d.backoff(1)),
	}
	if item.Attempts >= d.opts.MaxAttempts {
		d.deadLetter(logCtx, item, now)
		return result
	}
	// The retry bookkeeping outlives the caller's context.
	if err := d.queue.Enqueue(context.WithoutCancel(ctx), item); err != nil {
		d.metrics.IncFailed(metrics.StageEnqueue)
		d.logg.Error(logCtx, "notification.enqueue_failed", err)
		result.Err = multierr.Append(attemptErr, err)
		return result
	}
	result.Queued = true
	d.logg.Warn(d.logg.WithField(logCtx, "error", attemptErr.Error()), "notification.delivery_failed")
	return result
}

// NotifyMany sends msg to every distinct recipient independently. One
// recipient's failure never affects another's delivery.
func (d *Dispatcher) NotifyMany(ctx context.Context, recipientIDs []uuid.UUID, msg Message) BulkResult {
	seen := make(map[uuid.UUID]struct{}, len(recipientIDs))
	unique := make([]uuid.UUID, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	results := make([]Result, len(unique))
	var g errgroup.Group
	g.SetLimit(d.opts.Concurrency)
	for i, id := range unique {
		g.Go(func() error {
			results[i] = d.Notify(ctx, id, msg)
			return nil
		})
	}
	_ = g.Wait()

	bulk := BulkResult{Results: results}
	if failed := bulk.Failed(); failed > 0 {
		d.logg.Warn(d.logg.WithFields(ctx, map[string]any{
			"recipients": len(unique),
			"failed":     failed,
		}), "notification.bulk_partial_failure")
	}
	return bulk
}

// RetryFailed re-attempts every due item once. Sweeps in one process are
// serialized; across processes each item is claimed before its attempt, so a
// shared durable queue never sees the same attempt twice. It is safe to call
// concurrently with Notify.
func (d *Dispatcher) RetryFailed(ctx context.Context) (SweepResult, error) {
	d.sweepMu.Lock()
	defer d.sweepMu.Unlock()

	started := d.now()
	defer func() { d.metrics.ObserveSweep(d.now().Sub(started)) }()

	var res SweepResult
	now := started.UTC()
	items, err := d.queue.Due(ctx, now, d.opts.SweepBatchSize)
	if err != nil {
		return res, fmt.Errorf("load due retries: %w", err)
	}

	var errs error
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		at := d.now().UTC()
		logCtx := d.logg.WithFields(ctx, map[string]any{
			"recipient_id":    item.Notification.RecipientID.String(),
			"notification_id": item.NotificationID().String(),
		})

		// A sweeper stopped mid-attempt leaves the count at the limit.
		if item.Attempts >= d.opts.MaxAttempts {
			item.claimed = true
			if item.LastError == "" {
				item.LastError = "attempt interrupted"
			}
			if err := d.deadLetter(logCtx, item, at); err != nil {
				if errors.Is(err, ErrClaimLost) {
					res.Skipped++
					continue
				}
				errs = multierr.Append(errs, err)
				continue
			}
			res.DeadLettered++
			continue
		}

		claimed, ok, err := d.queue.Claim(ctx, item, at, at.Add(d.claimLease()))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("claim retry %s: %w", item.NotificationID(), err))
			continue
		}
		if !ok {
			res.Skipped++
			d.logg.Info(logCtx, "notification.claimed_elsewhere")
			continue
		}
		item = claimed
		res.Attempted++
		logCtx = d.logg.WithField(logCtx, "attempt", item.Attempts)

		attemptErr := d.attempt(ctx, item.Notification)
		if attemptErr == nil {
			d.metrics.IncDelivered(item.Attempts)
			if err := d.queue.Remove(ctx, item.NotificationID()); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("remove retry %s: %w", item.NotificationID(), err))
			}
			res.Delivered++
			d.logg.Info(logCtx, "notification.redelivered")
			continue
		}

		if ctx.Err() != nil && errors.Is(attemptErr, context.Canceled) {
			if err := d.queue.Release(context.WithoutCancel(ctx), item, at); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("release retry %s: %w", item.NotificationID(), err))
			}
			res.Skipped++
			d.logg.Info(logCtx, "notification.attempt_interrupted")
			break
		}

		item.LastError = attemptErr.Error()
		if item.Attempts >= d.opts.MaxAttempts {
			if err := d.deadLetter(logCtx, item, at); err != nil {
				if errors.Is(err, ErrClaimLost) {
					res.Skipped++
					continue
				}
				errs = multierr.Append(errs, err)
				continue
			}
			res.DeadLettered++
			continue
		}

		item.NextAttemptAt = at.Add(d.backoff(item.Attempts))
		if err := d.queue.Reschedule(ctx, item); err != nil {
			if errors.Is(err, ErrClaimLost) {
				res.Skipped++
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("reschedule retry %s: %w", item.NotificationID(), err))
			continue
		}
		res.Rescheduled++
		d.logg.Warn(d.logg.WithField(logCtx, "error", attemptErr.Error()), "notification.retry_failed")
	}

	depth, err := d.queue.Len(ctx)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("retry queue depth: %w", err))
	} else {
		res.Remaining = depth
		d.metrics.SetQueueDepth(depth)
	}
	return res, errs
}

// claimLease outlives the attempt it covers.
func (d *Dispatcher) claimLease() time.Duration {
	return 2 * d.opts.AttemptTimeout
}

// Run sweeps on every tick until ctx ends.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logg.Info(d.logg.WithField(ctx, "interval", interval.String()), "notification.sweeper_started")
	for {
		select {
		case <-ctx.Done():
			d.logg.Info(ctx, "notification.sweeper_stopped")
			return nil
		case <-ticker.C:
			res, err := d.RetryFailed(ctx)
			if err != nil && ctx.Err() == nil {
				d.logg.Error(ctx, "notification.sweep_failed", err)
			}
			if res.Attempted > 0 {
				d.logg.Info(d.logg.WithFields(ctx, map[string]any{
					"attempted":     res.Attempted,
					"delivered":     res.Delivered,
					"rescheduled":   res.Rescheduled,
					"dead_lettered": res.DeadLettered,
					"remaining":     res.Remaining,
				}), "notification.sweep_completed")
			}
		}
	}
}

// attempt persists then publishes n under the per-attempt timeout. A timeout
// counts as a failure.
func (d *Dispatcher) attempt(ctx context.Context, n models.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.AttemptTimeout)
	defer cancel()

	if err := d.store.CreateIfAbsent(ctx, &n); err != nil {
		d.metrics.IncFailed(metrics.StagePersist)
		return fmt.Errorf("persist notification: %w", err)
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if _, err := d.publisher.Publish(ctx, n.RecipientID, realtime.Event{
		ID:      n.ID,
		Kind:    realtime.EventNotification,
		Payload: payload,
	}); err != nil {
		d.metrics.IncFailed(metrics.StagePublish)
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (d *Dispatcher) deadLetter(ctx context.Context, item RetryItem, now time.Time) error {
	if err := d.queue.Bury(context.WithoutCancel(ctx), item, now); err != nil {
		if errors.Is(err, ErrClaimLost) {
			return err
		}
		d.logg.Error(ctx, "notification.dead_letter_failed", err)
		return fmt.Errorf("dead letter %s: %w", item.NotificationID(), err)
	}
	d.metrics.IncDeadLettered()
	d.logg.Error(d.logg.WithFields(ctx, map[string]any{
		"attempts": item.Attempts,
		"title":    item.Notification.Title,
	}), "notification.permanent_failure", errors.New(item.LastError))
	return nil
}

// backoff doubles the base delay per attempt already made.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	if d.opts.RetryBaseDelay <= 0 || attempts < 1 {
		return 0
	}
	delay := d.opts.RetryBaseDelay
	for i := 1; i < attempts && delay < time.Hour; i++ {
		delay *= 2
	}
	return delay
}
