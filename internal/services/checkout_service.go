package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/clock"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/config"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/interfaces"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/metrics"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

var tracer = otel.Tracer("flash-sale/services")

const (
	reasonCheckout       = "checkout initiated"
	reasonConfirmed      = "payment confirmed"
	reasonExpired        = "reservation expired"
	reasonPaymentFailed  = "payment failed"
	reasonSaleStopped    = "sale stopped"
	expiryTimeout        = 10 * time.Second
	defaultOrdersPerPage = 20
	maxOrdersPerPage     = 100
)

// CheckoutServiceImpl implements interfaces.CheckoutService.
//
// The conditional order update in the durable store decides every race
// between confirm, cancel and expiry; the ledger is only touched by the
// winner of that update.
type CheckoutServiceImpl struct {
	db     interfaces.DatabaseInterface
	ledger interfaces.LedgerService
	queue  interfaces.QueueService
	events interfaces.EventPublisher
	clock  clock.Clock
	cfg    config.CheckoutConfig

	timersMu sync.Mutex
	timers   map[string]*time.Timer
	closed   bool
}

// NewCheckoutService creates a new checkout orchestrator
func NewCheckoutService(
	db interfaces.DatabaseInterface,
	ledger interfaces.LedgerService,
	queue interfaces.QueueService,
	events interfaces.EventPublisher,
	clk clock.Clock,
	cfg config.CheckoutConfig,
) *CheckoutServiceImpl {
	return &CheckoutServiceImpl{
		db:     db,
		ledger: ledger,
		queue:  queue,
		events: events,
		clock:  clk,
		cfg:    cfg,
		timers: make(map[string]*time.Timer),
	}
}

// InitiateCheckout reserves stock and opens a pending order that must be
// confirmed before its reservation expires.
func (s *CheckoutServiceImpl) InitiateCheckout(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutSession, error) {
	start := time.Now()
	defer func() { metrics.CheckoutDuration.Observe(time.Since(start).Seconds()) }()

	ctx, span := tracer.Start(ctx, "checkout.InitiateCheckout")
	defer span.End()
	span.SetAttributes(
		attribute.String("sale.id", req.SaleID),
		attribute.String("user.id", req.UserID),
		attribute.Int("quantity", req.Quantity),
	)

	session, err := s.initiate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", session.Order.ID))
	return session, nil
}

func (s *CheckoutServiceImpl) initiate(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutSession, error) {
	logger := log.Ctx(ctx).With().Str("sale_id", req.SaleID).Str("user_id", req.UserID).Logger()

	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", models.ErrInvalidQuantity)
	}

	sale, err := s.db.GetSaleByID(ctx, req.SaleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sale: %w", err)
	}
	if sale == nil {
		return nil, models.ErrSaleNotFound
	}

	now := s.clock.Now()
	if !sale.AcceptsCheckout(now) {
		return nil, models.ErrSaleNotActive
	}
	if req.ProductID != "" && req.ProductID != sale.ProductID {
		return nil, models.ErrProductMismatch
	}

	limit := sale.MaxPerUser
	if s.cfg.MaxQuantity > 0 && s.cfg.MaxQuantity < limit {
		limit = s.cfg.MaxQuantity
	}
	if req.Quantity > limit {
		return nil, fmt.Errorf("%w: at most %d per customer", models.ErrInvalidQuantity, limit)
	}

	if s.cfg.RequireQueueAdmission {
		eligible, err := s.queue.IsEligible(ctx, sale.ID, req.UserID)
		if err != nil {
			return nil, err
		}
		if !eligible {
			return nil, models.ErrNotAdmitted
		}
	}

	existing, err := s.db.GetOpenOrder(ctx, req.UserID, sale.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check open orders: %w", err)
	}
	if existing != nil {
		return nil, models.ErrDuplicatePendingOrder
	}

	res, err := s.ledger.Reserve(ctx, sale.ID, req.UserID, req.Quantity, sale.MaxPerUser)
	if err != nil {
		return nil, err
	}
	switch res.Outcome {
	case models.ReserveOK:
	case models.ReserveOutOfStock:
		return nil, models.ErrOutOfStock
	case models.ReserveDuplicate:
		return nil, models.ErrDuplicatePendingOrder
	case models.ReserveLimitExceeded:
		return nil, models.ErrPurchaseLimitExceeded
	case models.ReserveSaleNotInitialized:
		return nil, models.NewTransientStoreError("checkout reserve", models.ErrLedgerNotInitialized)
	default:
		return nil, fmt.Errorf("unexpected reserve outcome %q", res.Outcome)
	}

	order := &models.Order{
		ID:                   newID(),
		OrderNumber:          newOrderNumber(now),
		UserID:               req.UserID,
		SaleID:               sale.ID,
		ProductID:            sale.ProductID,
		Quantity:             req.Quantity,
		UnitPrice:            sale.Price,
		TotalAmount:          sale.Price.Mul(decimal.NewFromInt(int64(req.Quantity))),
		Status:               models.OrderStatusPending,
		PaymentStatus:        models.PaymentStatusAwaiting,
		ReservationExpiresAt: res.Reservation.ExpiresAt,
		CreatedAt:            now,
	}
	entry := &models.OrderHistory{
		OrderID:   order.ID,
		NewStatus: models.OrderStatusPending,
		Reason:    reasonCheckout,
		Actor:     userActor(req.UserID),
		CreatedAt: now,
	}

	if err := s.db.CreateOrder(ctx, order, entry); err != nil {
		// compensate the reservation; a failure here is healed by reconciliation
		if _, relErr := s.ledger.Release(context.WithoutCancel(ctx), sale.ID, req.UserID); relErr != nil {
			logger.Error().Err(relErr).Msg("Failed to release reservation after order write failed")
		}
		if errors.Is(err, models.ErrDuplicatePendingOrder) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.scheduleExpiry(order.ID, order.ReservationExpiresAt)
	metrics.OrderTransitions.WithLabelValues(string(models.OrderStatusPending), "user").Inc()

	if _, err := s.queue.MarkStatus(ctx, sale.ID, req.UserID, models.QueueStatusReserved); err != nil {
		logger.Warn().Err(err).Msg("Failed to mark queue entry reserved")
	}
	s.publish(ctx, models.EventOrderCreated, order, "")

	logger.Info().
		Str("order_id", order.ID).
		Str("order_number", order.OrderNumber).
		Int("quantity", order.Quantity).
		Time("expires_at", order.ReservationExpiresAt).
		Msg("Checkout initiated")

	return &models.CheckoutSession{
		Order:                order,
		ReservationExpiresAt: order.ReservationExpiresAt,
		ExpiresIn:            order.ReservationExpiresAt.Sub(s.clock.Now()),
		RemainingStock:       res.Remaining,
	}, nil
}

// ConfirmOrder completes a pending order owned by userID
func (s *CheckoutServiceImpl) ConfirmOrder(ctx context.Context, orderID, userID, paymentID string) (*models.Order, error) {
	order, err := s.ownedOrder(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	return s.confirm(ctx, order, paymentID, userActor(userID))
}

// PaymentSucceeded confirms the order on behalf of the payment provider.
// Redelivery of the same payment is answered with the completed order.
func (s *CheckoutServiceImpl) PaymentSucceeded(ctx context.Context, orderID, paymentID string) (*models.Order, error) {
	order, err := s.ownedOrder(ctx, orderID, "")
	if err != nil {
		return nil, err
	}
	return s.confirm(ctx, order, paymentID, actorPayment)
}

func (s *CheckoutServiceImpl) confirm(ctx context.Context, order *models.Order, paymentID, actor string) (*models.Order, error) {
	ctx, span := tracer.Start(ctx, "checkout.ConfirmOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("actor", actor))

	logger := log.Ctx(ctx).With().Str("order_id", order.ID).Str("sale_id", order.SaleID).Logger()

	switch order.Status {
	case models.OrderStatusPending:
	case models.OrderStatusCompleted:
		if paymentID == "" || paymentID == order.PaymentID {
			return order, nil
		}
		return nil, fmt.Errorf("%w: order already completed with another payment", models.ErrInvalidStateTransition)
	default:
		return nil, fmt.Errorf("%w: order is %s", models.ErrInvalidStateTransition, order.Status)
	}

	now := s.clock.Now()
	if !order.ReservationExpiresAt.After(now) {
		if _, err := s.expire(ctx, order); err != nil {
			logger.Warn().Err(err).Msg("Failed to expire order on late confirm")
		}
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidStateTransition, reasonExpired)
	}

	ok, err := s.db.TransitionOrder(ctx, models.OrderTransition{
		OrderID:       order.ID,
		From:          models.OrderStatusPending,
		To:            models.OrderStatusCompleted,
		PaymentStatus: models.PaymentStatusPaid,
		PaymentID:     paymentID,
		Reason:        reasonConfirmed,
		Actor:         actor,
		At:            now,
		ValidAt:       now,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to confirm order: %w", err)
	}
	if !ok {
		// lost a race; report what won
		current, err := s.db.GetOrderByID(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload order: %w", err)
		}
		if current != nil && current.Status == models.OrderStatusCompleted &&
			(paymentID == "" || current.PaymentID == paymentID) {
			return current, nil
		}
		return nil, models.ErrInvalidStateTransition
	}

	s.cancelExpiry(order.ID)

	confirmed, err := s.ledger.Confirm(ctx, order.SaleID, order.UserID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to confirm reservation, reconciliation will settle it")
	} else if !confirmed {
		logger.Warn().Msg("Reservation missing on confirm")
	}

	if _, err := s.queue.MarkStatus(ctx, order.SaleID, order.UserID, models.QueueStatusPurchased); err != nil {
		logger.Warn().Err(err).Msg("Failed to mark queue entry purchased")
	}

	order.Status = models.OrderStatusCompleted
	order.PaymentStatus = models.PaymentStatusPaid
	if paymentID != "" {
		order.PaymentID = paymentID
	}
	order.UpdatedAt = now
	order.CompletedAt = &now

	metrics.OrderTransitions.WithLabelValues(string(models.OrderStatusCompleted), actorKind(actor)).Inc()
	s.publish(ctx, models.EventOrderCompleted, order, "")

	logger.Info().Str("order_number", order.OrderNumber).Str("actor", actor).Msg("Order completed")
	return order, nil
}

// CancelOrder cancels a pending order and returns its stock. System
// cancellations of orders that are no longer pending are no-ops.
func (s *CheckoutServiceImpl) CancelOrder(ctx context.Context, orderID, userID, reason string, isSystem bool) (bool, error) {
	owner := userID
	actor := userActor(userID)
	if isSystem {
		owner = ""
		actor = actorSystem
	}

	order, err := s.ownedOrder(ctx, orderID, owner)
	if err != nil {
		return false, err
	}

	if order.Status != models.OrderStatusPending {
		if isSystem || order.Status == models.OrderStatusCancelled {
			return false, nil
		}
		return false, fmt.Errorf("%w: order is %s", models.ErrInvalidStateTransition, order.Status)
	}

	if reason == "" {
		reason = "cancelled by customer"
	}
	return s.cancel(ctx, order, reason, actor, models.PaymentStatusVoid)
}

// ExpireOrder cancels the order once its reservation deadline has passed
func (s *CheckoutServiceImpl) ExpireOrder(ctx context.Context, orderID string) (bool, error) {
	order, err := s.db.GetOrderByID(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to load order: %w", err)
	}
	if order == nil {
		return false, models.ErrOrderNotFound
	}
	return s.expire(ctx, order)
}

func (s *CheckoutServiceImpl) expire(ctx context.Context, order *models.Order) (bool, error) {
	if order.Status != models.OrderStatusPending {
		return false, nil
	}
	if order.ReservationExpiresAt.After(s.clock.Now()) {
		return false, nil
	}
	return s.cancel(ctx, order, reasonExpired, actorSystem, models.PaymentStatusVoid)
}

// PaymentFailed cancels the order. Redelivery for a settled order is a no-op.
func (s *CheckoutServiceImpl) PaymentFailed(ctx context.Context, orderID, reason string) (bool, error) {
	order, err := s.ownedOrder(ctx, orderID, "")
	if err != nil {
		return false, err
	}
	if order.Status != models.OrderStatusPending {
		return false, nil
	}

	full := reasonPaymentFailed
	if reason != "" {
		full = reasonPaymentFailed + ": " + reason
	}
	return s.cancel(ctx, order, full, actorPayment, models.PaymentStatusFailed)
}

func (s *CheckoutServiceImpl) cancel(ctx context.Context, order *models.Order, reason, actor string, payment models.PaymentStatus) (bool, error) {
	ctx, span := tracer.Start(ctx, "checkout.CancelOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("reason", reason))

	logger := log.Ctx(ctx).With().Str("order_id", order.ID).Str("sale_id", order.SaleID).Logger()

	now := s.clock.Now()
	ok, err := s.db.TransitionOrder(ctx, models.OrderTransition{
		OrderID:       order.ID,
		From:          models.OrderStatusPending,
		To:            models.OrderStatusCancelled,
		PaymentStatus: payment,
		Reason:        reason,
		Actor:         actor,
		At:            now,
	})
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to cancel order: %w", err)
	}
	if !ok {
		return false, nil
	}

	s.cancelExpiry(order.ID)

	if _, err := s.ledger.Release(ctx, order.SaleID, order.UserID); err != nil {
		logger.Error().Err(err).Msg("Failed to release reservation, reconciliation will settle it")
	}

	if _, err := s.queue.MarkStatus(ctx, order.SaleID, order.UserID, models.QueueStatusDropped); err != nil {
		logger.Warn().Err(err).Msg("Failed to mark queue entry dropped")
	}

	order.Status = models.OrderStatusCancelled
	order.PaymentStatus = payment
	order.CancelReason = reason
	order.UpdatedAt = now
	order.CancelledAt = &now

	metrics.OrderTransitions.WithLabelValues(string(models.OrderStatusCancelled), actorKind(actor)).Inc()
	s.publish(ctx, models.EventOrderCancelled, order, reason)

	logger.Info().Str("reason", reason).Str("actor", actor).Msg("Order cancelled")
	return true, nil
}

// ownedOrder loads the order and hides it from anyone but its owner.
// An empty userID skips the ownership check.
func (s *CheckoutServiceImpl) ownedOrder(ctx context.Context, orderID, userID string) (*models.Order, error) {
	order, err := s.db.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if order == nil || (userID != "" && order.UserID != userID) {
		return nil, models.ErrOrderNotFound
	}
	return order, nil
}

func (s *CheckoutServiceImpl) GetOrderByID(ctx context.Context, orderID, userID string) (*models.Order, error) {
	return s.ownedOrder(ctx, orderID, userID)
}

func (s *CheckoutServiceImpl) GetUserOrders(ctx context.Context, userID string, limit, offset int) ([]models.Order, error) {
	if limit <= 0 {
		limit = defaultOrdersPerPage
	}
	if limit > maxOrdersPerPage {
		limit = maxOrdersPerPage
	}
	if offset < 0 {
		offset = 0
	}
	return s.db.ListUserOrders(ctx, userID, limit, offset)
}

func (s *CheckoutServiceImpl) GetOrderHistory(ctx context.Context, orderID, userID string) ([]models.OrderHistory, error) {
	if _, err := s.ownedOrder(ctx, orderID, userID); err != nil {
		return nil, err
	}
	return s.db.GetOrderHistory(ctx, orderID)
}

// CancelOpenOrders cancels every open order of a sale and returns how many
// were cancelled.
func (s *CheckoutServiceImpl) CancelOpenOrders(ctx context.Context, saleID, reason string) (int, error) {
	orders, err := s.db.ListOpenOrdersBySale(ctx, saleID)
	if err != nil {
		return 0, fmt.Errorf("failed to list open orders: %w", err)
	}

	cancelled := 0
	for i := range orders {
		if orders[i].Status != models.OrderStatusPending {
			continue
		}
		ok, err := s.cancel(ctx, &orders[i], reason, actorAdmin, models.PaymentStatusVoid)
		if err != nil {
			return cancelled, err
		}
		if ok {
			cancelled++
		}
	}
	return cancelled, nil
}

// scheduleExpiry arms a process-local timer at the reservation deadline. The
// sweeper covers orders whose timer was lost with the process.
func (s *CheckoutServiceImpl) scheduleExpiry(orderID string, at time.Time) {
	delay := at.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}

	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	if s.closed {
		return
	}
	s.timers[orderID] = time.AfterFunc(delay, func() {
		s.timersMu.Lock()
		delete(s.timers, orderID)
		s.timersMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), expiryTimeout)
		defer cancel()

		if _, err := s.ExpireOrder(ctx, orderID); err != nil {
			log.Warn().Err(err).Str("order_id", orderID).Msg("Expiry timer failed, sweeper will retry")
		}
	})
}

func (s *CheckoutServiceImpl) cancelExpiry(orderID string) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	if t, ok := s.timers[orderID]; ok {
		t.Stop()
		delete(s.timers, orderID)
	}
}

// PendingTimers returns the number of armed expiry timers
func (s *CheckoutServiceImpl) PendingTimers() int {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	return len(s.timers)
}

// Shutdown stops all expiry timers. Orders they covered are left to the sweeper.
func (s *CheckoutServiceImpl) Shutdown() {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *CheckoutServiceImpl) publish(ctx context.Context, eventType string, order *models.Order, reason string) {
	event := models.OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		SaleID:      order.SaleID,
		UserID:      order.UserID,
		Quantity:    order.Quantity,
		TotalAmount: order.TotalAmount,
		Status:      order.Status,
		Reason:      reason,
		OccurredAt:  s.clock.Now(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		metrics.EventsPublished.WithLabelValues(eventType, "error").Inc()
		log.Ctx(ctx).Warn().Err(err).Str("order_id", order.ID).Str("event", eventType).Msg("Failed to publish order event")
		return
	}
	metrics.EventsPublished.WithLabelValues(eventType, "ok").Inc()
}

func actorKind(actor string) string {
	switch actor {
	case actorSystem, actorPayment, actorAdmin:
		return actor
	}
	return "user"
}
