package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/interfaces"
)

const (
	paymentSucceeded = "payment.succeeded"
	paymentFailed    = "payment.failed"
)

// OrderHandler handles order confirmation, cancellation, lookups and the
// payment provider callback.
type OrderHandler struct {
	checkout interfaces.CheckoutService
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(checkout interfaces.CheckoutService) *OrderHandler {
	return &OrderHandler{checkout: checkout}
}

// ConfirmRequest represents the confirm request structure
type ConfirmRequest struct {
	PaymentID string `json:"payment_id"`
}

// CancelRequest represents the cancel request structure
type CancelRequest struct {
	Reason string `json:"reason"`
}

// PaymentWebhookRequest is the payment provider callback body
type PaymentWebhookRequest struct {
	Event     string `json:"event"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason,omitempty"`
}

// HandleConfirm processes POST /api/orders/{orderId}/confirm
func (oh *OrderHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		sendErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req ConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.PaymentID) > 100 {
		sendErrorResponse(w, http.StatusBadRequest, "invalid payment_id format")
		return
	}

	order, err := oh.checkout.ConfirmOrder(r.Context(), pathVar(r, "orderId"), user, req.PaymentID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, order, "Order completed")
}

// HandleCancel processes POST /api/orders/{orderId}/cancel
func (oh *OrderHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		sendErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req CancelRequest
	if err := decodeJSON(r, &req); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	cancelled, err := oh.checkout.CancelOrder(r.Context(), pathVar(r, "orderId"), user, req.Reason, false)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled}, "")
}

// HandleGet processes GET /api/orders/{orderId}
func (oh *OrderHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		sendErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}

	order, err := oh.checkout.GetOrderByID(r.Context(), pathVar(r, "orderId"), user)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, order, "")
}

// HandleList processes GET /api/orders?limit=&offset=
func (oh *OrderHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		sendErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	orders, err := oh.checkout.GetUserOrders(r.Context(), user, limit, offset)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, orders, "")
}

// HandleHistory processes GET /api/orders/{orderId}/history
func (oh *OrderHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		sendErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}

	history, err := oh.checkout.GetOrderHistory(r.Context(), pathVar(r, "orderId"), user)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, history, "")
}

// HandlePaymentWebhook processes POST /api/payments/webhook. Redeliveries
// are acknowledged with 200 so the provider stops retrying.
func (oh *OrderHandler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req PaymentWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateWebhook(&req); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	logger := log.Ctx(r.Context()).With().Str("order_id", req.OrderID).Str("event", req.Event).Logger()

	switch req.Event {
	case paymentSucceeded:
		order, err := oh.checkout.PaymentSucceeded(r.Context(), req.OrderID, req.PaymentID)
		if err != nil {
			logger.Warn().Err(err).Msg("Payment success could not be applied")
			sendServiceError(w, r, err)
			return
		}
		sendJSON(w, http.StatusOK, order, "Payment applied")

	case paymentFailed:
		changed, err := oh.checkout.PaymentFailed(r.Context(), req.OrderID, req.Reason)
		if err != nil {
			sendServiceError(w, r, err)
			return
		}
		sendJSON(w, http.StatusOK, map[string]bool{"cancelled": changed}, "")
	}
}

func validateWebhook(req *PaymentWebhookRequest) error {
	if req.OrderID == "" {
		return fmt.Errorf("order_id is required")
	}
	switch req.Event {
	case paymentSucceeded:
		if req.PaymentID == "" {
			return fmt.Errorf("payment_id is required")
		}
	case paymentFailed:
	default:
		return fmt.Errorf("unknown event %q", req.Event)
	}
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
