package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcheck/servicereport-backend/internal/realtime"
	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
	"github.com/fieldcheck/servicereport-backend/pkg/logger"
	"github.com/fieldcheck/servicereport-backend/pkg/metrics"
)

type fakeStore struct {
	mu      sync.Mutex
	saved   map[uuid.UUID]models.Notification
	inserts int
	failFn  func(ctx context.Context, n *models.Notification) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[uuid.UUID]models.Notification)}
}

func (s *fakeStore) CreateIfAbsent(ctx context.Context, n *models.Notification) error {
	if s.failFn != nil {
		if err := s.failFn(ctx, n); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.saved[n.ID]; !ok {
		s.saved[n.ID] = *n
		s.inserts++
	}
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type fakePublisher struct {
	mu        sync.Mutex
	calls     int
	failTimes int
	failFor   map[uuid.UUID]bool
	events    []realtime.Event
}

func (p *fakePublisher) Publish(_ context.Context, recipientID uuid.UUID, ev realtime.Event) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failFor[recipientID] {
		return 0, errors.New("channel unavailable")
	}
	if p.failTimes > 0 {
		p.failTimes--
		return 0, errors.New("channel unavailable")
	}
	ev.RecipientID = recipientID
	p.events = append(p.events, ev)
	return 1, nil
}

func (p *fakePublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type dispatcherFixture struct {
	d         *Dispatcher
	store     *fakeStore
	publisher *fakePublisher
	queue     *MemoryQueue
	reg       *prometheus.Registry
}

func newDispatcherFixture(t *testing.T) dispatcherFixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	f := dispatcherFixture{
		store:     newFakeStore(),
		publisher: &fakePublisher{failFor: map[uuid.UUID]bool{}},
		queue:     NewMemoryQueue(),
		reg:       reg,
	}
	d, err := NewDispatcher(f.store, f.publisher, f.queue, logger.Nop(), metrics.NewNotificationMetrics(reg), DispatcherOptions{
		MaxAttempts:    3,
		AttemptTimeout: time.Second,
	})
	require.NoError(t, err)
	f.d = d
	return f
}

func warning() Message {
	return Message{
		Type:     enums.NotificationTypeWarning,
		Priority: enums.NotificationPriorityHigh,
		Title:    "Report rejected",
		Message:  "Your service report was rejected: missing thermistor reading",
		Data:     map[string]any{"report_id": "r-1"},
	}
}

func TestNotifyDelivers(t *testing.T) {
	f := newDispatcherFixture(t)
	recipient := uuid.New()

	res := f.d.Notify(context.Background(), recipient, warning())
	require.NoError(t, res.Err)
	assert.True(t, res.Delivered)
	assert.False(t, res.Queued)

	saved := f.store.saved[res.NotificationID]
	assert.Equal(t, recipient, saved.RecipientID)
	assert.Equal(t, enums.NotificationTypeWarning, saved.Type)
	assert.JSONEq(t, `{"report_id":"r-1"}`, string(saved.Data))

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, res.NotificationID, f.publisher.events[0].ID)
	assert.Equal(t, realtime.EventNotification, f.publisher.events[0].Kind)
}

func TestNotifyValidation(t *testing.T) {
	f := newDispatcherFixture(t)

	res := f.d.Notify(context.Background(), uuid.Nil, warning())
	assert.Error(t, res.Err)

	bad := warning()
	bad.Type = "alert"
	res = f.d.Notify(context.Background(), uuid.New(), bad)
	assert.Error(t, res.Err)
	assert.False(t, res.Queued)

	noPriority := warning()
	noPriority.Priority = ""
	res = f.d.Notify(context.Background(), uuid.New(), noPriority)
	require.NoError(t, res.Err)
	assert.Equal(t, enums.NotificationPriorityMedium, f.store.saved[res.NotificationID].Priority)
}

func TestNotifyQueuesOnFailure(t *testing.T) {
	f := newDispatcherFixture(t)
	f.publisher.failTimes = 1

	res := f.d.Notify(context.Background(), uuid.New(), warning())
	assert.False(t, res.Delivered)
	assert.True(t, res.Queued)
	assert.Error(t, res.Err)

	n, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRetryDeliversOnThirdAttempt(t *testing.T) {
	f := newDispatcherFixture(t)
	f.publisher.failTimes = 2
	ctx := context.Background()

	res := f.d.Notify(ctx, uuid.New(), warning())
	require.True(t, res.Queued)

	sweep, err := f.d.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Attempted: 1, Rescheduled: 1, Remaining: 1}, sweep)

	sweep, err = f.d.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Attempted: 1, Delivered: 1, Remaining: 0}, sweep)

	assert.Equal(t, 1, f.store.count(), "redelivery must not duplicate the record")
	assert.Equal(t, 1, f.store.inserts)
	assert.Empty(t, f.queue.DeadLetters())
	assert.Equal(t, float64(1), counterValue(t, f.reg, "notifications_delivered_total", "later"))
}

func TestRetryDeadLettersAfterThreeAttempts(t *testing.T) {
	f := newDispatcherFixture(t)
	recipient := uuid.New()
	f.publisher.failFor[recipient] = true
	ctx := context.Background()

	res := f.d.Notify(ctx, recipient, warning())
	require.True(t, res.Queued)

	_, err := f.d.RetryFailed(ctx)
	require.NoError(t, err)
	sweep, err := f.d.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.DeadLettered)
	assert.Equal(t, 0, sweep.Remaining)

	dead := f.queue.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.Equal(t, res.NotificationID, dead[0].NotificationID())
	assert.Contains(t, dead[0].LastError, "channel unavailable")

	callsBefore := f.publisher.callCount()
	sweep, err = f.d.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Zero(t, sweep.Attempted)
	assert.Equal(t, callsBefore, f.publisher.callCount(), "no fourth attempt")

	assert.Equal(t, float64(3), counterValue(t, f.reg, "notifications_failed_total", metrics.StagePublish))
	assert.Equal(t, float64(1), counterValue(t, f.reg, "notifications_dead_lettered_total", ""))
}

func TestRetryRespectsBackoff(t *testing.T) {
	f := newDispatcherFixture(t)
	f.d.opts.RetryBaseDelay = time.Minute
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	f.d.now = func() time.Time { return now }
	f.publisher.failTimes = 1
	ctx := context.Background()

	f.d.Notify(ctx, uuid.New(), warning())

	sweep, err := f.d.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Zero(t, sweep.Attempted, "not due yet")

	now = now.Add(time.Minute)
	sweep, err = f.d.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Delivered)
}

func lastAttemptItem() RetryItem {
	return RetryItem{
		Notification: models.Notification{
			ID:          uuid.New(),
			RecipientID: uuid.New(),
			Type:        enums.NotificationTypeWarning,
			Title:       "Report rejected",
			Message:     "missing thermistor reading",
		},
		Attempts:      2,
		LastError:     "publish notification: channel unavailable",
		NextAttemptAt: time.Now().Add(-time.Minute),
	}
}

func TestCancelledSweepLeavesItemsUntouched(t *testing.T) {
	f := newDispatcherFixture(t)
	item := lastAttemptItem()
	require.NoError(t, f.queue.Enqueue(context.Background(), item))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sweep, _ := f.d.RetryFailed(ctx)
	assert.Zero(t, sweep.Attempted)
	assert.Zero(t, sweep.DeadLettered)
	assert.Zero(t, f.publisher.callCount())
	assert.Empty(t, f.queue.DeadLetters())

	items, err := f.queue.Due(context.Background(), time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Attempts)
}

func TestCancellationMidAttemptIsNotCounted(t *testing.T) {
	f := newDispatcherFixture(t)
	item := lastAttemptItem()
	require.NoError(t, f.queue.Enqueue(context.Background(), item))

	ctx, cancel := context.WithCancel(context.Background())
	f.store.failFn = func(actx context.Context, _ *models.Notification) error {
		cancel()
		<-actx.Done()
		return actx.Err()
	}
	sweep, _ := f.d.RetryFailed(ctx)
	assert.Equal(t, 1, sweep.Attempted)
	assert.Equal(t, 1, sweep.Skipped)
	assert.Zero(t, sweep.DeadLettered)
	assert.Empty(t, f.queue.DeadLetters(), "shutdown is not a delivery failure")

	items, err := f.queue.Due(context.Background(), time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Attempts)

	f.store.failFn = nil
	sweep, err = f.d.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Delivered)
}

func TestPersistFailureIsQueued(t *testing.T) {
	f := newDispatcherFixture(t)
	calls := 0
	f.store.failFn = func(context.Context, *models.Notification) error {
		calls++
		if calls == 1 {
			return errors.New("db timeout")
		}
		return nil
	}
	ctx := context.Background()

	res := f.d.Notify(ctx, uuid.New(), warning())
	require.True(t, res.Queued)
	assert.Contains(t, res.Err.Error(), "persist notification")
	assert.Zero(t, f.publisher.callCount(), "nothing published before the record exists")

	sweep, err := f.d.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Delivered)
}

func TestAttemptTimeoutCountsAsFailure(t *testing.T) {
	f := newDispatcherFixture(t)
	f.d.opts.AttemptTimeout = 10 * time.Millisecond
	f.store.failFn = func(ctx context.Context, _ *models.Notification) error {
		<-ctx.Done()
		return ctx.Err()
	}

	res := f.d.Notify(context.Background(), uuid.New(), warning())
	assert.False(t, res.Delivered)
	assert.True(t, res.Queued)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestNotifyManyIsolatesFailures(t *testing.T) {
	f := newDispatcherFixture(t)
	ok1, bad, ok2 := uuid.New(), uuid.New(), uuid.New()
	f.publisher.failFor[bad] = true

	bulk := f.d.NotifyMany(context.Background(), []uuid.UUID{ok1, bad, ok2, ok1}, warning())
	require.Len(t, bulk.Results, 3, "duplicate recipients collapse")
	assert.Equal(t, 2, bulk.Delivered())
	assert.Equal(t, 1, bulk.Failed())

	assert.Equal(t, ok1, bulk.Results[0].RecipientID)
	assert.True(t, bulk.Results[0].Delivered)
	assert.Equal(t, bad, bulk.Results[1].RecipientID)
	assert.True(t, bulk.Results[1].Queued)
	assert.True(t, bulk.Results[2].Delivered)
	assert.Equal(t, 3, f.store.count(), "successes are kept alongside the failure")
}

func TestSweepConcurrentWithNotify(t *testing.T) {
	f := newDispatcherFixture(t)
	f.publisher.failTimes = 20
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.d.Notify(ctx, uuid.New(), warning())
		}()
		go func() {
			defer wg.Done()
			_, _ = f.d.RetryFailed(ctx)
		}()
	}
	wg.Wait()

	for i := 0; i < 3; i++ {
		_, err := f.d.RetryFailed(ctx)
		require.NoError(t, err)
	}
	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 20, f.store.count())
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newDispatcherFixture(t)
	f.publisher.failTimes = 1
	ctx, cancel := context.WithCancel(context.Background())

	f.d.Notify(ctx, uuid.New(), warning())

	done := make(chan error, 1)
	go func() { done <- f.d.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool {
		n, _ := f.queue.Len(context.Background())
		return n == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}

	assert.Error(t, f.d.Run(context.Background(), 0))
}

// counterValue reads a counter sample. label matches the first label value;
// empty matches an unlabeled counter.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			labels := m.GetLabel()
			if label == "" && len(labels) == 0 {
				return m.GetCounter().GetValue()
			}
			if len(labels) > 0 && labels[0].GetValue() == label {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
