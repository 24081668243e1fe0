package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/clock"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/interfaces"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/metrics"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

const (
	defaultHoldWindow     = 5 * time.Minute
	defaultReconcileGrace = time.Minute
)

// LedgerServiceImpl implements interfaces.LedgerService. Every mutation is a
// single store call; the service adds the hold window, metrics and the
// durable inputs reconciliation needs.
type LedgerServiceImpl struct {
	store          interfaces.LedgerStore
	db             interfaces.DatabaseInterface
	clock          clock.Clock
	holdWindow     time.Duration
	reconcileGrace time.Duration
}

// LedgerOption configures a LedgerServiceImpl
type LedgerOption func(*LedgerServiceImpl)

// WithHoldWindow sets how long a reservation lives
func WithHoldWindow(d time.Duration) LedgerOption {
	return func(l *LedgerServiceImpl) {
		if d > 0 {
			l.holdWindow = d
		}
	}
}

// WithReconcileGrace sets how long past expiry a reservation survives reconciliation
func WithReconcileGrace(d time.Duration) LedgerOption {
	return func(l *LedgerServiceImpl) {
		if d >= 0 {
			l.reconcileGrace = d
		}
	}
}

// NewLedgerService creates a new ledger service
func NewLedgerService(store interfaces.LedgerStore, db interfaces.DatabaseInterface, clk clock.Clock, opts ...LedgerOption) *LedgerServiceImpl {
	l := &LedgerServiceImpl{
		store:          store,
		db:             db,
		clock:          clk,
		holdWindow:     defaultHoldWindow,
		reconcileGrace: defaultReconcileGrace,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// HoldWindow returns the reservation lifetime
func (l *LedgerServiceImpl) HoldWindow() time.Duration {
	return l.holdWindow
}

func (l *LedgerServiceImpl) InitSale(ctx context.Context, saleID string, total int) error {
	if total < 0 {
		return fmt.Errorf("%w: total must not be negative", models.ErrInvalidQuantity)
	}

	created, err := l.store.InitSale(ctx, saleID, total)
	if err != nil {
		return err
	}
	if created {
		log.Ctx(ctx).Info().Str("sale_id", saleID).Int("total", total).Msg("Initialized inventory ledger")
	}
	return nil
}

// Reserve takes qty units for the user if stock allows, the user holds no
// reservation yet and the user's held plus confirmed quantity stays within
// limit (zero means no cap). A refusal is reported in the result, not as an error.
func (l *LedgerServiceImpl) Reserve(ctx context.Context, saleID, userID string, qty, limit int) (*models.ReserveResult, error) {
	ctx, span := tracer.Start(ctx, "ledger.Reserve")
	defer span.End()
	span.SetAttributes(attribute.String("sale.id", saleID), attribute.Int("quantity", qty))

	if qty <= 0 {
		return nil, models.ErrInvalidQuantity
	}

	now := l.clock.Now()
	res, err := l.store.Reserve(ctx, saleID, userID, qty, limit, now, now.Add(l.holdWindow))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve failed")
		metrics.Reservations.WithLabelValues("error").Inc()
		return nil, err
	}

	span.SetAttributes(attribute.String("ledger.outcome", string(res.Outcome)), attribute.Int("ledger.remaining", res.Remaining))
	metrics.Reservations.WithLabelValues(string(res.Outcome)).Inc()
	return res, nil
}

// Confirm turns the reservation into a sale. Stock was already taken at reserve time.
func (l *LedgerServiceImpl) Confirm(ctx context.Context, saleID, userID string) (bool, error) {
	return l.store.Confirm(ctx, saleID, userID)
}

// Release returns the reserved quantity to stock
func (l *LedgerServiceImpl) Release(ctx context.Context, saleID, userID string) (bool, error) {
	released, _, err := l.store.Release(ctx, saleID, userID)
	if err != nil {
		return false, err
	}
	if released {
		metrics.Releases.Inc()
	}
	return released, nil
}

func (l *LedgerServiceImpl) Stats(ctx context.Context, saleID string) (*models.LedgerStats, error) {
	snap, err := l.store.Snapshot(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if !snap.Initialized {
		return nil, models.ErrLedgerNotInitialized
	}
	return statsFromSnapshot(saleID, snap), nil
}

func statsFromSnapshot(saleID string, snap *models.LedgerSnapshot) *models.LedgerStats {
	stats := &models.LedgerStats{
		SaleID:       saleID,
		Total:        snap.Total,
		Remaining:    snap.Remaining,
		Reserved:     snap.Reserved,
		Reservations: snap.Reservations,
	}
	stats.Sold = snap.Total - snap.Remaining - snap.Reserved
	if stats.Sold < 0 {
		stats.Sold = 0
	}
	if snap.Total > 0 {
		stats.Utilization = float64(snap.Total-snap.Remaining) / float64(snap.Total)
	}
	return stats
}

// Reconcile recomputes remaining stock from the durable order ledger:
// remaining = total - confirmed - reserved, clamped to [0, total].
// Reservations expired for longer than the grace period are purged and holds
// of open orders missing from the fast store are restored first.
func (l *LedgerServiceImpl) Reconcile(ctx context.Context, saleID string) (*models.LedgerStats, error) {
	ctx, span := tracer.Start(ctx, "ledger.Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("sale.id", saleID))

	before, err := l.store.Snapshot(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if !before.Initialized {
		return nil, models.ErrLedgerNotInitialized
	}

	// Holds are read before the confirmed sums. A hold confirmed or released in
	// between is settled in the store and is not restored.
	open, err := l.db.ListOpenOrdersBySale(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load open orders: %w", err)
	}
	holds := make([]models.Reservation, 0, len(open))
	for _, o := range open {
		holds = append(holds, models.Reservation{
			SaleID:    saleID,
			UserID:    o.UserID,
			Quantity:  o.Quantity,
			CreatedAt: o.CreatedAt,
			ExpiresAt: o.ReservationExpiresAt,
		})
	}

	bought, err := l.db.ConfirmedQuantityByUser(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum confirmed orders: %w", err)
	}
	confirmed := 0
	for _, qty := range bought {
		confirmed += qty
	}

	now := l.clock.Now()
	snap, err := l.store.Reconcile(ctx, saleID, bought, holds, now.Add(-l.reconcileGrace))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		return nil, err
	}
	if !snap.Initialized {
		return nil, models.ErrLedgerNotInitialized
	}

	drift := snap.Remaining - before.Remaining
	if drift < 0 {
		drift = -drift
	}
	metrics.ReconcileDrift.Observe(float64(drift))

	if drift != 0 || snap.Purged > 0 {
		log.Ctx(ctx).Warn().
			Str("sale_id", saleID).
			Int("remaining_before", before.Remaining).
			Int("remaining_after", snap.Remaining).
			Int("confirmed", confirmed).
			Int("purged", snap.Purged).
			Msg("Ledger drift corrected")
	}

	return statsFromSnapshot(saleID, snap), nil
}

// Adjust applies a signed delta to total and remaining
func (l *LedgerServiceImpl) Adjust(ctx context.Context, saleID string, delta int) (*models.LedgerStats, error) {
	if _, err := l.store.Adjust(ctx, saleID, delta); err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("sale_id", saleID).Int("delta", delta).Msg("Inventory adjusted")
	return l.Stats(ctx, saleID)
}
