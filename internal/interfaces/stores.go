package interfaces

import (
	"context"
	"time"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

// LedgerStore is the fast store behind the inventory ledger. Every method is
// a single indivisible operation relative to the others on the same sale.
type LedgerStore interface {
	InitSale(ctx context.Context, saleID string, total int) (bool, error)
	// Reserve refuses when the user's live plus confirmed quantity would exceed
	// limit. A limit of zero disables the cap.
	Reserve(ctx context.Context, saleID, userID string, qty, limit int, now, expiresAt time.Time) (*models.ReserveResult, error)
	Confirm(ctx context.Context, saleID, userID string) (bool, error)
	Release(ctx context.Context, saleID, userID string) (bool, int, error)
	GetReservation(ctx context.Context, saleID, userID string) (*models.Reservation, error)
	Snapshot(ctx context.Context, saleID string) (*models.LedgerSnapshot, error)
	// Reconcile purges reservations that expired before purgeBefore, restores
	// the given holds when missing and not settled since, raises per-user cap
	// counts to the durable figures and recomputes remaining as
	// total - confirmed - sum(reservations).
	Reconcile(ctx context.Context, saleID string, confirmed map[string]int, holds []models.Reservation, purgeBefore time.Time) (*models.LedgerSnapshot, error)
	Adjust(ctx context.Context, saleID string, delta int) (*models.LedgerSnapshot, error)
}

// QueueStore holds the ordered admission list of each sale
type QueueStore interface {
	// Join inserts a waiting entry unless a non-terminal one exists, in which
	// case the existing entry is returned unchanged and created is false.
	Join(ctx context.Context, saleID, userID string, now time.Time) (entry *models.QueueEntry, created bool, err error)
	Get(ctx context.Context, saleID, userID string) (*models.QueueEntry, error)
	// Rank returns the number of waiting entries ahead of the user and the
	// number of waiting entries in total. ahead is -1 when the user is not waiting.
	Rank(ctx context.Context, saleID, userID string) (ahead int, total int, err error)
	Touch(ctx context.Context, saleID, userID string, now time.Time) error
	SetStatus(ctx context.Context, saleID, userID string, status models.QueueStatus, now time.Time) (bool, error)
	WaitingCount(ctx context.Context, saleID string) (int, error)
	EvictIdle(ctx context.Context, saleID string, idleBefore, now time.Time) (int, error)
	RecordAdmission(ctx context.Context, saleID, userID string, at time.Time) error
	CountAdmissionsSince(ctx context.Context, saleID string, since time.Time) (int, error)
}

// Lease grants one process at a time the right to run a named background task
type Lease interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
}

// EventPublisher ships order lifecycle events to downstream consumers
type EventPublisher interface {
	Publish(ctx context.Context, event models.OrderEvent) error
	Close() error
}
