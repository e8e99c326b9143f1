package notifications

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
)

// RetryItem is one notification waiting for redelivery. Attempts counts
// every attempt made so far, including the first.
type RetryItem struct {
	Notification  models.Notification
	Attempts      int
	LastError     string
	NextAttemptAt time.Time

	// claimed is set by Claim. Follow-up writes on a claimed item only apply
	// while the stored attempt count still matches Attempts.
	claimed bool
}

// ErrClaimLost reports that another sweeper changed a claimed item first.
var ErrClaimLost = errors.New("retry claim lost")

func (i RetryItem) NotificationID() uuid.UUID {
	return i.Notification.ID
}

// RetryQueue stores failed notifications between sweeps. Implementations must
// be safe for concurrent use.
type RetryQueue interface {
	Enqueue(ctx context.Context, item RetryItem) error
	Due(ctx context.Context, now time.Time, limit int) ([]RetryItem, error)
	// Claim takes item for one attempt: it counts the attempt and hides the
	// item from Due until leaseUntil. ok is false when the item is no longer
	// due or its attempt count moved since it was read.
	Claim(ctx context.Context, item RetryItem, now, leaseUntil time.Time) (RetryItem, bool, error)
	// Release hands a claimed item back without counting the attempt.
	Release(ctx context.Context, item RetryItem, at time.Time) error
	Reschedule(ctx context.Context, item RetryItem) error
	Remove(ctx context.Context, notificationID uuid.UUID) error
	// Bury removes the item and records it as a dead letter.
	Bury(ctx context.Context, item RetryItem, failedAt time.Time) error
	Len(ctx context.Context) (int, error)
}

// MemoryQueue keeps retries in process memory. Pending items are lost on
// restart, so it only suits single-process deployments and tests.
type MemoryQueue struct {
	mu    sync.Mutex
	items map[uuid.UUID]RetryItem
	dead  []RetryItem
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{items: make(map[uuid.UUID]RetryItem)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, item RetryItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[item.NotificationID()] = item
	return nil
}

func (q *MemoryQueue) Due(_ context.Context, now time.Time, limit int) ([]RetryItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []RetryItem
	for _, item := range q.items {
		if !item.NextAttemptAt.After(now) {
			due = append(due, item)
		}
	}
	slices.SortFunc(due, func(a, b RetryItem) int {
		return a.NextAttemptAt.Compare(b.NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (q *MemoryQueue) Claim(_ context.Context, item RetryItem, now, leaseUntil time.Time) (RetryItem, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur, ok := q.items[item.NotificationID()]
	if !ok || cur.Attempts != item.Attempts || cur.NextAttemptAt.After(now) {
		return item, false, nil
	}
	cur.Attempts++
	cur.NextAttemptAt = leaseUntil
	q.items[item.NotificationID()] = cur
	cur.claimed = true
	return cur, true, nil
}

func (q *MemoryQueue) Release(_ context.Context, item RetryItem, at time.Time) error {
	if !item.claimed {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	cur, ok := q.items[item.NotificationID()]
	if !ok || cur.Attempts != item.Attempts {
		return ErrClaimLost
	}
	cur.Attempts--
	cur.NextAttemptAt = at
	q.items[item.NotificationID()] = cur
	return nil
}

func (q *MemoryQueue) Reschedule(_ context.Context, item RetryItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur, ok := q.items[item.NotificationID()]
	if item.claimed && (!ok || cur.Attempts != item.Attempts) {
		return ErrClaimLost
	}
	if ok {
		item.claimed = false
		q.items[item.NotificationID()] = item
	}
	return nil
}

func (q *MemoryQueue) Remove(_ context.Context, notificationID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, notificationID)
	return nil
}

func (q *MemoryQueue) Bury(_ context.Context, item RetryItem, _ time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur, ok := q.items[item.NotificationID()]
	if item.claimed && (!ok || cur.Attempts != item.Attempts) {
		return ErrClaimLost
	}
	delete(q.items, item.NotificationID())
	item.claimed = false
	q.dead = append(q.dead, item)
	return nil
}

func (q *MemoryQueue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// DeadLetters returns a copy of every buried item.
func (q *MemoryQueue) DeadLetters() []RetryItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.dead)
}
