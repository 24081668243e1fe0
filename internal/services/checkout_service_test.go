package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/config"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/database"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/interfaces"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

// failingOrderWrites is a durable store whose order inserts always fail
type failingOrderWrites struct {
	interfaces.DatabaseInterface
}

func (failingOrderWrites) CreateOrder(context.Context, *models.Order, *models.OrderHistory) error {
	return errors.New("disk full")
}

// checkoutBackends runs the same flow over the memory and the Redis fast store
func checkoutBackends(t *testing.T, tweak ...func(*config.Config)) map[string]*harness {
	mem := newHarness(t, tweak...)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rc := database.WrapRedisClient(client)

	red := newHarness(t, tweak...)
	red.ledgerStore = database.NewRedisLedger(rc)
	red.queueStore = database.NewRedisQueue(rc)
	red.wire(t)

	return map[string]*harness{"memory": mem, "redis": red}
}

func TestCheckout_LastUnitTwoBuyersThenExpiry(t *testing.T) {
	for name, h := range checkoutBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sale := h.liveSale(t, 1, 1)

			first, err := h.buy(t, sale.ID, "alice", 1)
			require.NoError(t, err)
			assert.Equal(t, 0, first.RemainingStock)
			assert.Equal(t, models.OrderStatusPending, first.Order.Status)
			assert.Equal(t, testStart.Add(h.cfg.Checkout.HoldWindow), first.ReservationExpiresAt)
			assert.Equal(t, "99.99", first.Order.TotalAmount.StringFixed(2))

			_, err = h.buy(t, sale.ID, "bob", 1)
			assert.ErrorIs(t, err, models.ErrOutOfStock)

			h.clock.Advance(h.cfg.Checkout.HoldWindow + time.Second)
			expired, err := h.sweeper.ExpireOverdue(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, expired)

			order, err := h.checkout.GetOrderByID(ctx, first.Order.ID, "alice")
			require.NoError(t, err)
			assert.Equal(t, models.OrderStatusCancelled, order.Status)
			assert.Equal(t, reasonExpired, order.CancelReason)

			third, err := h.buy(t, sale.ID, "carol", 1)
			require.NoError(t, err)
			assert.Equal(t, 0, third.RemainingStock)
		})
	}
}

func TestCheckout_NoOversellUnderConcurrency(t *testing.T) {
	for name, h := range checkoutBackends(t) {
		t.Run(name, func(t *testing.T) {
			sale := h.liveSale(t, 10, 1)

			const buyers = 50
			results := make(chan error, buyers)
			var wg sync.WaitGroup
			for i := 0; i < buyers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := h.buy(t, sale.ID, fmt.Sprintf("user-%d", i), 1)
					results <- err
				}(i)
			}
			wg.Wait()
			close(results)

			succeeded := 0
			for err := range results {
				if err == nil {
					succeeded++
					continue
				}
				assert.ErrorIs(t, err, models.ErrOutOfStock)
			}
			assert.Equal(t, 10, succeeded)

			stats := h.stats(t, sale.ID)
			assert.Equal(t, 0, stats.Remaining)
			assert.Equal(t, 10, stats.Reserved)
		})
	}
}

func TestCheckout_PerUserCapSpansOrders(t *testing.T) {
	for name, h := range checkoutBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sale := h.liveSale(t, 10, 2)

			first, err := h.buy(t, sale.ID, "alice", 1)
			require.NoError(t, err)
			_, err = h.checkout.ConfirmOrder(ctx, first.Order.ID, "alice", "pay-1")
			require.NoError(t, err)

			_, err = h.buy(t, sale.ID, "alice", 2)
			assert.ErrorIs(t, err, models.ErrPurchaseLimitExceeded)

			second, err := h.buy(t, sale.ID, "alice", 1)
			require.NoError(t, err)
			_, err = h.checkout.ConfirmOrder(ctx, second.Order.ID, "alice", "pay-2")
			require.NoError(t, err)

			_, err = h.buy(t, sale.ID, "alice", 1)
			assert.ErrorIs(t, err, models.ErrPurchaseLimitExceeded)

			stats := h.stats(t, sale.ID)
			assert.Equal(t, 2, stats.Sold)
			assert.Equal(t, 8, stats.Remaining)
		})
	}
}

func TestCheckout_CancelledOrdersFreeTheCap(t *testing.T) {
	for name, h := range checkoutBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sale := h.liveSale(t, 10, 1)

			session, err := h.buy(t, sale.ID, "alice", 1)
			require.NoError(t, err)
			_, err = h.checkout.CancelOrder(ctx, session.Order.ID, "alice", "", false)
			require.NoError(t, err)

			session, err = h.buy(t, sale.ID, "alice", 1)
			require.NoError(t, err)
			h.clock.Advance(h.cfg.Checkout.HoldWindow + time.Second)
			_, err = h.sweeper.ExpireOverdue(ctx)
			require.NoError(t, err)

			_, err = h.buy(t, sale.ID, "alice", 1)
			assert.NoError(t, err)
		})
	}
}

func TestCheckout_FailedOrderWriteReleasesStock(t *testing.T) {
	for name, h := range checkoutBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sale := h.liveSale(t, 5, 1)

			broken := NewCheckoutService(failingOrderWrites{h.db}, h.ledger, h.queue, h.events, h.clock, h.cfg.Checkout)
			t.Cleanup(broken.Shutdown)

			_, err := broken.InitiateCheckout(ctx, models.CheckoutRequest{UserID: "alice", SaleID: sale.ID, Quantity: 1})
			require.Error(t, err)
			assert.NotErrorIs(t, err, models.ErrOutOfStock)
			assert.Contains(t, err.Error(), "disk full")

			stats := h.stats(t, sale.ID)
			assert.Equal(t, 5, stats.Remaining)
			assert.Equal(t, 0, stats.Reserved)
			assert.Equal(t, 0, stats.Reservations)
			assert.Equal(t, 0, broken.PendingTimers())
			assert.Empty(t, h.events.types())

			// the released hold no longer counts against the cap
			_, err = h.buy(t, sale.ID, "alice", 1)
			assert.NoError(t, err)
		})
	}
}

func TestCheckout_SinglePendingOrderPerUser(t *testing.T) {
	h := newHarness(t)
	sale := h.liveSale(t, 10, 2)

	const attempts = 10
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.buy(t, sale.ID, "alice", 1)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, models.ErrDuplicatePendingOrder)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 9, h.stats(t, sale.ID).Remaining)
}

func TestCheckout_Validation(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Checkout.MaxQuantity = 3 })
	ctx := context.Background()
	sale := h.liveSale(t, 10, 5)

	_, err := h.buy(t, sale.ID, "alice", 0)
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)

	_, err = h.buy(t, sale.ID, "alice", 4)
	assert.ErrorIs(t, err, models.ErrInvalidQuantity, "global cap is lower than the sale cap")

	_, err = h.buy(t, "missing", "alice", 1)
	assert.ErrorIs(t, err, models.ErrSaleNotFound)

	_, err = h.checkout.InitiateCheckout(ctx, models.CheckoutRequest{
		UserID: "alice", SaleID: sale.ID, ProductID: "prod-watch", Quantity: 1,
	})
	assert.ErrorIs(t, err, models.ErrProductMismatch)

	require.NoError(t, h.sales.Pause(ctx, sale.ID))
	_, err = h.buy(t, sale.ID, "alice", 1)
	assert.ErrorIs(t, err, models.ErrSaleNotActive)

	assert.Equal(t, 10, h.stats(t, sale.ID).Remaining, "refused checkouts hold nothing")
}

func TestCheckout_ConfirmFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sale := h.liveSale(t, 5, 3)

	session, err := h.buy(t, sale.ID, "alice", 2)
	require.NoError(t, err)

	_, err = h.checkout.ConfirmOrder(ctx, session.Order.ID, "mallory", "pay-1")
	assert.ErrorIs(t, err, models.ErrOrderNotFound, "other users cannot see the order")

	order, err := h.checkout.ConfirmOrder(ctx, session.Order.ID, "alice", "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, order.Status)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	require.NotNil(t, order.CompletedAt)

	again, err := h.checkout.ConfirmOrder(ctx, session.Order.ID, "alice", "pay-1")
	require.NoError(t, err, "confirm is idempotent for the same payment")
	assert.Equal(t, models.OrderStatusCompleted, again.Status)

	stats := h.stats(t, sale.ID)
	assert.Equal(t, 3, stats.Remaining)
	assert.Equal(t, 0, stats.Reserved)
	assert.Equal(t, 2, stats.Sold)

	history, err := h.checkout.GetOrderHistory(ctx, session.Order.ID, "alice")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.OrderStatusPending, history[0].NewStatus)
	assert.Equal(t, models.OrderStatusCompleted, history[1].NewStatus)
	assert.Equal(t, "user:alice", history[1].Actor)

	assert.Equal(t, []string{models.EventOrderCreated, models.EventOrderCompleted}, h.events.types())
	assert.Equal(t, 0, h.checkout.PendingTimers())
	assert.Equal(t, "199.98", order.TotalAmount.StringFixed(2))
}

func TestCheckout_ConfirmAfterExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sale := h.liveSale(t, 5, 1)

	session, err := h.buy(t, sale.ID, "alice", 1)
	require.NoError(t, err)

	h.clock.Advance(h.cfg.Checkout.HoldWindow)

	_, err = h.checkout.ConfirmOrder(ctx, session.Order.ID, "alice", "pay-1")
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)

	order, err := h.checkout.GetOrderByID(ctx, session.Order.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	assert.Equal(t, reasonExpired, order.CancelReason)
	assert.Equal(t, 5, h.stats(t, sale.ID).Remaining)
}

func TestCheckout_CancelFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sale := h.liveSale(t, 5, 3)

	session, err := h.buy(t, sale.ID, "alice", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, h.stats(t, sale.ID).Remaining)

	cancelled, err := h.checkout.CancelOrder(ctx, session.Order.ID, "alice", "", false)
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Equal(t, 5, h.stats(t, sale.ID).Remaining)

	cancelled, err = h.checkout.CancelOrder(ctx, session.Order.ID, "alice", "", false)
	require.NoError(t, err)
	assert.False(t, cancelled, "cancelling twice is a no-op")

	_, err = h.checkout.ConfirmOrder(ctx, session.Order.ID, "alice", "pay-1")
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)

	session, err = h.buy(t, sale.ID, "alice", 1)
	require.NoError(t, err, "a cancelled order frees the user to buy again")

	_, err = h.checkout.ConfirmOrder(ctx, session.Order.ID, "alice", "pay-2")
	require.NoError(t, err)
	_, err = h.checkout.CancelOrder(ctx, session.Order.ID, "alice", "", false)
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)

	cancelled, err = h.checkout.CancelOrder(ctx, session.Order.ID, "", "cleanup", true)
	require.NoError(t, err)
	assert.False(t, cancelled, "system cancel of a settled order is ignored")
}

func TestCheckout_ConfirmCancelRace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sale := h.liveSale(t, 100, 1)

	for i := 0; i < 20; i++ {
		user := fmt.Sprintf("user-%d", i)
		session, err := h.buy(t, sale.ID, user, 1)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = h.checkout.ConfirmOrder(ctx, session.Order.ID, user, "pay-"+user)
		}()
		go func() {
			defer wg.Done()
			_, _ = h.checkout.CancelOrder(ctx, session.Order.ID, user, "", false)
		}()
		wg.Wait()

		order, err := h.checkout.GetOrderByID(ctx, session.Order.ID, user)
		require.NoError(t, err)
		assert.Contains(t, []models.OrderStatus{models.OrderStatusCompleted, models.OrderStatusCancelled}, order.Status)

		history, err := h.checkout.GetOrderHistory(ctx, session.Order.ID, user)
		require.NoError(t, err)
		assert.Len(t, history, 2, "exactly one transition wins")
	}

	stats := h.stats(t, sale.ID)
	bought, err := h.db.ConfirmedQuantityByUser(ctx, sale.ID)
	require.NoError(t, err)
	confirmed := 0
	for _, qty := range bought {
		confirmed += qty
	}
	assert.Equal(t, 0, stats.Reserved)
	assert.Equal(t, 100-confirmed, stats.Remaining)
}

func TestCheckout_PaymentWebhooks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sale := h.liveSale(t, 5, 1)

	paid, err := h.buy(t, sale.ID, "alice", 1)
	require.NoError(t, err)

	order, err := h.checkout.PaymentSucceeded(ctx, paid.Order.ID, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "pay-1", order.PaymentID)

	_, err = h.checkout.PaymentSucceeded(ctx, paid.Order.ID, "pay-1")
	assert.NoError(t, err, "redelivery is answered with the completed order")

	_, err = h.checkout.PaymentSucceeded(ctx, paid.Order.ID, "pay-other")
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)

	changed, err := h.checkout.PaymentFailed(ctx, paid.Order.ID, "card declined")
	require.NoError(t, err)
	assert.False(t, changed)

	failed, err := h.buy(t, sale.ID, "bob", 1)
	require.NoError(t, err)

	changed, err = h.checkout.PaymentFailed(ctx, failed.Order.ID, "card declined")
	require.NoError(t, err)
	assert.True(t, changed)

	order, err = h.checkout.GetOrderByID(ctx, failed.Order.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, order.PaymentStatus)
	assert.Equal(t, "payment failed: card declined", order.CancelReason)
	assert.Equal(t, 4, h.stats(t, sale.ID).Remaining)

	_, err = h.checkout.PaymentSucceeded(ctx, "missing", "pay-1")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestCheckout_ExpiryTimer(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Checkout.HoldWindow = 200 * time.Millisecond })
	ctx := context.Background()
	sale := h.liveSale(t, 1, 1)

	session, err := h.buy(t, sale.ID, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, h.checkout.PendingTimers())

	h.clock.Advance(time.Second)

	assert.Eventually(t, func() bool {
		order, err := h.checkout.GetOrderByID(ctx, session.Order.ID, "alice")
		return err == nil && order.Status == models.OrderStatusCancelled
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, h.checkout.PendingTimers())
	assert.Equal(t, 1, h.stats(t, sale.ID).Remaining)
}

func TestCheckout_RequireQueueAdmission(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Checkout.RequireQueueAdmission = true
		c.Queue.AdmissionBatch = 1
	})
	ctx := context.Background()
	sale := h.liveSale(t, 10, 1)

	_, err := h.buy(t, sale.ID, "alice", 1)
	assert.ErrorIs(t, err, models.ErrNotAdmitted)

	_, err = h.queue.Join(ctx, sale.ID, "alice")
	require.NoError(t, err)
	h.clock.Advance(time.Millisecond)
	_, err = h.queue.Join(ctx, sale.ID, "bob")
	require.NoError(t, err)

	_, err = h.buy(t, sale.ID, "bob", 1)
	assert.ErrorIs(t, err, models.ErrNotAdmitted)

	_, err = h.buy(t, sale.ID, "alice", 1)
	require.NoError(t, err)

	_, err = h.buy(t, sale.ID, "bob", 1)
	assert.NoError(t, err, "bob moves into the batch once alice is admitted")
}

func TestCheckout_UserOrdersPaging(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sale := h.liveSale(t, 5, 1)
		_, err := h.buy(t, sale.ID, "alice", 1)
		require.NoError(t, err)
		h.clock.Advance(time.Second)
	}

	orders, err := h.checkout.GetUserOrders(ctx, "alice", 0, 0)
	require.NoError(t, err)
	assert.Len(t, orders, 3)
	assert.True(t, orders[0].CreatedAt.After(orders[2].CreatedAt), "newest first")

	orders, err = h.checkout.GetUserOrders(ctx, "alice", 2, 2)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}
