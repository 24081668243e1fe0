package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/clock"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/config"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/interfaces"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/metrics"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

// QueueServiceImpl implements interfaces.QueueService
type QueueServiceImpl struct {
	store interfaces.QueueStore
	db    interfaces.DatabaseInterface
	clock clock.Clock
	cfg   config.QueueConfig
}

// NewQueueService creates a new queue service
func NewQueueService(store interfaces.QueueStore, db interfaces.DatabaseInterface, clk clock.Clock, cfg config.QueueConfig) *QueueServiceImpl {
	return &QueueServiceImpl{store: store, db: db, clock: clk, cfg: cfg}
}

// Join places the user at the back of the sale queue, or returns the user's
// current place when already queued.
func (q *QueueServiceImpl) Join(ctx context.Context, saleID, userID string) (*models.QueuePosition, error) {
	sale, err := q.db.GetSaleByID(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, models.ErrSaleNotFound
	}
	if sale.Status.IsTerminal() {
		return nil, models.ErrSaleNotActive
	}

	if q.cfg.RejectPendingOrderOnJoin {
		open, err := q.db.GetOpenOrder(ctx, userID, saleID)
		if err != nil {
			return nil, err
		}
		if open != nil {
			metrics.QueueJoins.WithLabelValues("pending_order").Inc()
			return nil, models.ErrDuplicatePendingOrder
		}
	}

	now := q.clock.Now()
	entry, created, err := q.store.Join(ctx, saleID, userID, now)
	if err != nil {
		metrics.QueueJoins.WithLabelValues("error").Inc()
		return nil, err
	}

	if created {
		metrics.QueueJoins.WithLabelValues("joined").Inc()
	} else {
		metrics.QueueJoins.WithLabelValues("existing").Inc()
	}

	return q.position(ctx, entry, now)
}

// Position reports the user's place and refreshes their liveness
func (q *QueueServiceImpl) Position(ctx context.Context, saleID, userID string) (*models.QueuePosition, error) {
	entry, err := q.store.Get(ctx, saleID, userID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, models.ErrNotInQueue
	}

	now := q.clock.Now()
	if entry.Status == models.QueueStatusWaiting {
		if err := q.store.Touch(ctx, saleID, userID, now); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("sale_id", saleID).Msg("Failed to refresh queue liveness")
		}
	}

	return q.position(ctx, entry, now)
}

func (q *QueueServiceImpl) position(ctx context.Context, entry *models.QueueEntry, now time.Time) (*models.QueuePosition, error) {
	pos := &models.QueuePosition{
		SaleID:   entry.SaleID,
		UserID:   entry.UserID,
		Status:   entry.Status,
		JoinedAt: entry.JoinedAt,
	}
	if entry.Status != models.QueueStatusWaiting {
		return pos, nil
	}

	ahead, total, err := q.store.Rank(ctx, entry.SaleID, entry.UserID)
	if err != nil {
		return nil, err
	}
	if ahead < 0 {
		// evicted between the read and the rank
		pos.Status = models.QueueStatusDropped
		return pos, nil
	}

	rate, err := q.admissionRate(ctx, entry.SaleID, now)
	if err != nil {
		return nil, err
	}

	pos.Position = ahead + 1
	pos.TotalAhead = ahead
	pos.TotalBehind = total - ahead - 1
	pos.TotalInQueue = total
	pos.EstimatedWaitMinutes = estimateWait(ahead, rate)
	pos.Eligible = ahead < q.cfg.AdmissionBatch
	return pos, nil
}

// admissionRate returns admissions per minute over the trailing window
func (q *QueueServiceImpl) admissionRate(ctx context.Context, saleID string, now time.Time) (float64, error) {
	n, err := q.store.CountAdmissionsSince(ctx, saleID, now.Add(-q.cfg.RateWindow))
	if err != nil {
		return 0, err
	}
	return float64(n) / q.cfg.RateWindow.Minutes(), nil
}

// estimateWait is 0 with nobody waiting and -1 while no admission has been observed
func estimateWait(waiting int, ratePerMinute float64) float64 {
	if waiting <= 0 {
		return 0
	}
	if ratePerMinute <= 0 {
		return -1
	}
	return float64(waiting) / ratePerMinute
}

// Leave cancels a waiting entry. Entries already admitted are kept.
func (q *QueueServiceImpl) Leave(ctx context.Context, saleID, userID string) (bool, error) {
	entry, err := q.store.Get(ctx, saleID, userID)
	if err != nil {
		return false, err
	}
	if entry == nil || entry.Status != models.QueueStatusWaiting {
		return false, nil
	}
	return q.store.SetStatus(ctx, saleID, userID, models.QueueStatusCancelled, q.clock.Now())
}

func (q *QueueServiceImpl) Stats(ctx context.Context, saleID string) (*models.QueueStats, error) {
	waiting, err := q.store.WaitingCount(ctx, saleID)
	if err != nil {
		return nil, err
	}
	rate, err := q.admissionRate(ctx, saleID, q.clock.Now())
	if err != nil {
		return nil, err
	}
	return &models.QueueStats{
		SaleID:               saleID,
		TotalWaiting:         waiting,
		EstimatedWaitMinutes: estimateWait(waiting, rate),
		AdmissionRate:        rate,
	}, nil
}

// IsEligible reports whether the user is waiting within the admission batch
func (q *QueueServiceImpl) IsEligible(ctx context.Context, saleID, userID string) (bool, error) {
	ahead, _, err := q.store.Rank(ctx, saleID, userID)
	if err != nil {
		return false, err
	}
	return ahead >= 0 && ahead < q.cfg.AdmissionBatch, nil
}

// MarkStatus records a checkout outcome on the user's entry. Moving to
// reserved counts as an admission for the rate estimate.
func (q *QueueServiceImpl) MarkStatus(ctx context.Context, saleID, userID string, status models.QueueStatus) (bool, error) {
	now := q.clock.Now()
	ok, err := q.store.SetStatus(ctx, saleID, userID, status, now)
	if err != nil || !ok {
		return ok, err
	}
	if status == models.QueueStatusReserved {
		if err := q.store.RecordAdmission(ctx, saleID, userID, now); err != nil {
			return true, err
		}
	}
	return true, nil
}

// EvictIdle drops waiting entries not seen within the idle timeout
func (q *QueueServiceImpl) EvictIdle(ctx context.Context, saleID string) (int, error) {
	now := q.clock.Now()
	n, err := q.store.EvictIdle(ctx, saleID, now.Add(-q.cfg.IdleTimeout), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.QueueEvictions.Add(float64(n))
		log.Ctx(ctx).Info().Str("sale_id", saleID).Int("evicted", n).Msg("Dropped idle queue entries")
	}
	return n, nil
}
