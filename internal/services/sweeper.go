package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/clock"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/config"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/interfaces"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/metrics"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

const (
	taskLifecycle = "lifecycle"
	taskEviction  = "eviction"
	taskExpiry    = "expiry"
	taskReconcile = "reconcile"
)

// Sweeper runs the recurring background passes: sale lifecycle, idle queue
// eviction, overdue order expiry and ledger reconciliation. Every pass is
// idempotent, so overlapping runs across processes only waste work; the
// lease keeps that to one process per task.
type Sweeper struct {
	db       interfaces.DatabaseInterface
	sales    interfaces.SaleService
	checkout interfaces.CheckoutService
	queue    interfaces.QueueService
	ledger   interfaces.LedgerService
	lease    interfaces.Lease
	clock    clock.Clock
	cfg      config.SweeperConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewSweeper creates a new background sweeper
func NewSweeper(
	db interfaces.DatabaseInterface,
	sales interfaces.SaleService,
	checkout interfaces.CheckoutService,
	queue interfaces.QueueService,
	ledger interfaces.LedgerService,
	lease interfaces.Lease,
	clk clock.Clock,
	cfg config.SweeperConfig,
) *Sweeper {
	return &Sweeper{
		db:       db,
		sales:    sales,
		checkout: checkout,
		queue:    queue,
		ledger:   ledger,
		lease:    lease,
		clock:    clk,
		cfg:      cfg,
	}
}

// Start launches one loop per task. It returns immediately.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.group != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	s.cancel = cancel
	s.group = g

	log.Info().Msg("Starting expiry sweeper")

	s.loop(ctx, g, taskLifecycle, s.cfg.LifecycleInterval, func(ctx context.Context) error {
		_, err := s.RunLifecycle(ctx)
		return err
	})
	s.loop(ctx, g, taskEviction, s.cfg.EvictionInterval, func(ctx context.Context) error {
		_, err := s.EvictIdle(ctx)
		return err
	})
	s.loop(ctx, g, taskExpiry, s.cfg.ExpiryInterval, func(ctx context.Context) error {
		_, err := s.ExpireOverdue(ctx)
		return err
	})
	s.loop(ctx, g, taskReconcile, s.cfg.ReconcileInterval, func(ctx context.Context) error {
		_, err := s.Reconcile(ctx)
		return err
	})
}

// Stop cancels all loops and waits for the running passes to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, g := s.cancel, s.group
	s.cancel, s.group = nil, nil
	s.mu.Unlock()

	if g == nil {
		return
	}
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Sweeper stopped with error")
	}
	log.Info().Msg("Stopped expiry sweeper")
}

// loop runs pass once immediately and then on every tick. Pass failures are
// logged and retried on the next tick; only cancellation ends the loop.
func (s *Sweeper) loop(ctx context.Context, g *errgroup.Group, task string, interval time.Duration, pass func(context.Context) error) {
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			s.runLeased(ctx, task, interval, pass)

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

func (s *Sweeper) runLeased(ctx context.Context, task string, ttl time.Duration, pass func(context.Context) error) {
	logger := log.With().Str("task", task).Logger()
	ctx = logger.WithContext(ctx)

	ok, err := s.lease.Acquire(ctx, "sweeper:"+task, ttl)
	if err != nil {
		metrics.SweeperRuns.WithLabelValues(task, "error").Inc()
		logger.Warn().Err(err).Msg("Failed to acquire sweeper lease")
		return
	}
	if !ok {
		metrics.SweeperRuns.WithLabelValues(task, "skipped").Inc()
		return
	}

	if err := pass(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.SweeperRuns.WithLabelValues(task, "error").Inc()
		logger.Error().Err(err).Msg("Sweeper pass failed")
		return
	}
	metrics.SweeperRuns.WithLabelValues(task, "ok").Inc()
}

// RunOnce runs every pass a single time in order, without leases
func (s *Sweeper) RunOnce(ctx context.Context) error {
	var errs []error
	if _, err := s.RunLifecycle(ctx); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", taskLifecycle, err))
	}
	if _, err := s.EvictIdle(ctx); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", taskEviction, err))
	}
	if _, err := s.ExpireOverdue(ctx); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", taskExpiry, err))
	}
	if _, err := s.Reconcile(ctx); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", taskReconcile, err))
	}
	return errors.Join(errs...)
}

// RunLifecycle advances sale statuses along their schedule
func (s *Sweeper) RunLifecycle(ctx context.Context) (int, error) {
	return s.sales.AdvanceLifecycle(ctx)
}

// EvictIdle drops idle waiting entries from the queues of all live sales
func (s *Sweeper) EvictIdle(ctx context.Context) (int, error) {
	sales, err := s.db.ListSales(ctx, models.SaleStatusUpcoming, models.SaleStatusActive, models.SaleStatusPaused)
	if err != nil {
		return 0, fmt.Errorf("failed to list sales: %w", err)
	}

	evicted := 0
	var errs []error
	for _, sale := range sales {
		n, err := s.queue.EvictIdle(ctx, sale.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("sale %s: %w", sale.ID, err))
			continue
		}
		evicted += n
	}
	return evicted, errors.Join(errs...)
}

// ExpireOverdue cancels pending orders whose reservation deadline has
// passed. It covers expiry timers lost with a restarted process.
func (s *Sweeper) ExpireOverdue(ctx context.Context) (int, error) {
	orders, err := s.db.ListOverdueOrders(ctx, s.clock.Now(), s.cfg.ExpiryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue orders: %w", err)
	}

	expired := 0
	var errs []error
	for _, order := range orders {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.checkout.ExpireOrder(ctx, order.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		if ok {
			expired++
		}
	}

	if expired > 0 {
		metrics.SweeperExpired.Add(float64(expired))
		log.Ctx(ctx).Info().Int("expired", expired).Int("overdue", len(orders)).Msg("Expired overdue orders")
	}
	return expired, errors.Join(errs...)
}

// Reconcile heals the ledger of every active or paused sale from the
// durable order records and writes the healed figures back to the sale row.
// A ledger lost with the fast store is initialised again first.
func (s *Sweeper) Reconcile(ctx context.Context) (int, error) {
	sales, err := s.db.ListSales(ctx, models.SaleStatusActive, models.SaleStatusPaused)
	if err != nil {
		return 0, fmt.Errorf("failed to list sales: %w", err)
	}

	reconciled := 0
	var errs []error
	for _, sale := range sales {
		stats, err := s.ledger.Reconcile(ctx, sale.ID)
		if errors.Is(err, models.ErrLedgerNotInitialized) {
			log.Ctx(ctx).Warn().Str("sale_id", sale.ID).Msg("Ledger missing for live sale, rebuilding")
			if err = s.ledger.InitSale(ctx, sale.ID, sale.TotalQuantity); err == nil {
				stats, err = s.ledger.Reconcile(ctx, sale.ID)
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("sale %s: %w", sale.ID, err))
			continue
		}

		if stats.Total != sale.TotalQuantity || stats.Remaining != sale.RemainingQuantity {
			if err := s.db.UpdateSaleInventory(ctx, sale.ID, stats.Total, stats.Remaining); err != nil {
				errs = append(errs, fmt.Errorf("sale %s: %w", sale.ID, err))
				continue
			}
		}
		reconciled++
	}
	return reconciled, errors.Join(errs...)
}
