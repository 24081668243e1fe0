package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/interfaces"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

func upcomingSale(t *testing.T, h *harness, total int) *models.Sale {
	t.Helper()
	sale, err := h.sales.CreateSale(context.Background(), interfaces.CreateSaleInput{
		ProductID:     "prod-watch",
		Price:         "149.00",
		TotalQuantity: total,
		MaxPerUser:    1,
		StartTime:     h.clock.Now().Add(time.Hour),
		EndTime:       h.clock.Now().Add(2 * time.Hour),
	})
	require.NoError(t, err)
	return sale
}

func TestSaleService_CreateSale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sale := upcomingSale(t, h, 50)
	assert.Equal(t, models.SaleStatusUpcoming, sale.Status)
	assert.Equal(t, "Smart Watch", sale.ProductName)
	assert.Equal(t, "249.00", sale.OriginalPrice.StringFixed(2))
	assert.Equal(t, 50, h.stats(t, sale.ID).Remaining, "ledger is ready before the sale opens")

	_, err := h.sales.CreateSale(ctx, interfaces.CreateSaleInput{
		ProductID: "prod-unknown", Price: "1", TotalQuantity: 1, MaxPerUser: 1,
		StartTime: testStart, EndTime: testStart.Add(time.Hour),
	})
	assert.ErrorIs(t, err, models.ErrProductNotFound)

	_, err = h.sales.CreateSale(ctx, interfaces.CreateSaleInput{
		ProductID: "prod-watch", Price: "1", TotalQuantity: 1, MaxPerUser: 1,
		StartTime: testStart, EndTime: testStart,
	})
	assert.ErrorIs(t, err, models.ErrInvalidSchedule)

	_, err = h.sales.CreateSale(ctx, interfaces.CreateSaleInput{
		ProductID: "prod-watch", Price: "free", TotalQuantity: 1, MaxPerUser: 1,
		StartTime: testStart, EndTime: testStart.Add(time.Hour),
	})
	assert.Error(t, err)

	_, err = h.sales.CreateSale(ctx, interfaces.CreateSaleInput{
		ProductID: "prod-watch", Price: "1", TotalQuantity: 0, MaxPerUser: 1,
		StartTime: testStart, EndTime: testStart.Add(time.Hour),
	})
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)
}

func TestSaleService_StatusTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sale := upcomingSale(t, h, 10)

	assert.ErrorIs(t, h.sales.Pause(ctx, sale.ID), models.ErrInvalidSaleTransition)
	assert.ErrorIs(t, h.sales.Resume(ctx, sale.ID), models.ErrInvalidSaleTransition)

	require.NoError(t, h.sales.Activate(ctx, sale.ID))
	assert.ErrorIs(t, h.sales.Activate(ctx, sale.ID), models.ErrInvalidSaleTransition)

	require.NoError(t, h.sales.Pause(ctx, sale.ID))
	require.NoError(t, h.sales.Resume(ctx, sale.ID))

	got, err := h.sales.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusActive, got.Status)

	assert.ErrorIs(t, h.sales.Activate(ctx, "missing"), models.ErrSaleNotFound)
}

func TestSaleService_EmergencyStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sale := h.liveSale(t, 10, 2)

	_, err := h.buy(t, sale.ID, "alice", 2)
	require.NoError(t, err)
	_, err = h.buy(t, sale.ID, "bob", 1)
	require.NoError(t, err)
	assert.Equal(t, 7, h.stats(t, sale.ID).Remaining)

	cancelled, err := h.sales.EmergencyStop(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, cancelled)
	assert.Equal(t, 10, h.stats(t, sale.ID).Remaining)
	assert.Equal(t, 0, h.checkout.PendingTimers())

	_, err = h.buy(t, sale.ID, "carol", 1)
	assert.ErrorIs(t, err, models.ErrSaleNotActive)

	_, err = h.sales.EmergencyStop(ctx, sale.ID)
	assert.ErrorIs(t, err, models.ErrInvalidSaleTransition)
}

func TestSaleService_AdjustInventory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sale := h.liveSale(t, 5, 1)

	stats, err := h.sales.AdjustInventory(ctx, sale.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, 10, stats.Remaining)

	got, err := h.sales.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.TotalQuantity)

	_, err = h.sales.AdjustInventory(ctx, sale.ID, -11)
	assert.ErrorIs(t, err, models.ErrInvalidAdjustment)

	got, stats, err = h.sales.GetSaleStatus(ctx, sale.ID)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 10, got.RemainingQuantity)
}

func TestSaleService_Schedule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sale := upcomingSale(t, h, 10)

	start := testStart.Add(3 * time.Hour)
	require.NoError(t, h.sales.Schedule(ctx, sale.ID, start, start.Add(time.Hour)))

	got, err := h.sales.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, start, got.StartTime)

	assert.ErrorIs(t, h.sales.Schedule(ctx, sale.ID, start, start), models.ErrInvalidSchedule)
}

func TestSaleService_AdvanceLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sale := upcomingSale(t, h, 10)

	moved, err := h.sales.AdvanceLifecycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, moved)

	h.clock.Advance(time.Hour)
	moved, err = h.sales.AdvanceLifecycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	got, err := h.sales.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusActive, got.Status)

	h.clock.Advance(time.Hour)
	moved, err = h.sales.AdvanceLifecycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	got, err = h.sales.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusCompleted, got.Status)

	assert.ErrorIs(t, h.sales.Schedule(ctx, sale.ID, testStart, testStart.Add(time.Hour)), models.ErrInvalidSaleTransition)
}
