package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/clock"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/config"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/database"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/interfaces"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// recordingPublisher keeps every published event in memory
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	cfg         *config.Config
	clock       *clock.Manual
	db          *database.MemoryDB
	ledgerStore interfaces.LedgerStore
	queueStore  interfaces.QueueStore
	ledger      *LedgerServiceImpl
	queue       *QueueServiceImpl
	checkout    *CheckoutServiceImpl
	sales       *SaleServiceImpl
	sweeper     *Sweeper
	events      *recordingPublisher
}

// newHarness wires every service over the in-memory backends and a manual clock
func newHarness(t *testing.T, tweak ...func(*config.Config)) *harness {
	t.Helper()

	cfg := config.Default()
	for _, fn := range tweak {
		fn(cfg)
	}

	h := &harness{
		cfg:         cfg,
		clock:       clock.NewManual(testStart),
		db:          database.NewMemoryDB(),
		ledgerStore: database.NewMemoryLedger(),
		queueStore:  database.NewMemoryQueue(),
		events:      &recordingPublisher{},
	}
	h.wire(t)
	return h
}

// wire (re)builds the services over the harness stores, as a restarted process would
func (h *harness) wire(t *testing.T) {
	t.Helper()

	catalog, err := NewCatalogService(h.cfg.Catalog.Products)
	require.NoError(t, err)

	h.ledger = NewLedgerService(h.ledgerStore, h.db, h.clock,
		WithHoldWindow(h.cfg.Checkout.HoldWindow),
		WithReconcileGrace(h.cfg.Sweeper.ReconcileGrace),
	)
	h.queue = NewQueueService(h.queueStore, h.db, h.clock, h.cfg.Queue)
	h.checkout = NewCheckoutService(h.db, h.ledger, h.queue, h.events, h.clock, h.cfg.Checkout)
	h.sales = NewSaleService(h.db, h.ledger, h.checkout, catalog, h.clock)
	h.sweeper = NewSweeper(h.db, h.sales, h.checkout, h.queue, h.ledger, database.MemoryLease{}, h.clock, h.cfg.Sweeper)

	t.Cleanup(h.checkout.Shutdown)
}

// liveSale creates a sale whose window is already open
func (h *harness) liveSale(t *testing.T, total, maxPerUser int) *models.Sale {
	t.Helper()

	sale, err := h.sales.CreateSale(context.Background(), interfaces.CreateSaleInput{
		ProductID:     "prod-headphones",
		Price:         "99.99",
		TotalQuantity: total,
		MaxPerUser:    maxPerUser,
		StartTime:     h.clock.Now().Add(-time.Minute),
		EndTime:       h.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, models.SaleStatusActive, sale.Status)
	return sale
}

func (h *harness) buy(t *testing.T, saleID, userID string, qty int) (*models.CheckoutSession, error) {
	t.Helper()
	return h.checkout.InitiateCheckout(context.Background(), models.CheckoutRequest{
		UserID:   userID,
		SaleID:   saleID,
		Quantity: qty,
	})
}

func (h *harness) stats(t *testing.T, saleID string) *models.LedgerStats {
	t.Helper()
	stats, err := h.ledger.Stats(context.Background(), saleID)
	require.NoError(t, err)
	return stats
}
