package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/interfaces"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

// CheckoutHandler handles checkout-related HTTP requests
type CheckoutHandler struct {
	checkout interfaces.CheckoutService
	catalog  interfaces.CatalogService
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(checkout interfaces.CheckoutService, catalog interfaces.CatalogService) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		catalog:  catalog,
	}
}

// CheckoutRequest represents the checkout request structure
type CheckoutRequest struct {
	SaleID    string `json:"sale_id"`
	ProductID string `json:"product_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

// CheckoutResponse represents the checkout response payload
type CheckoutResponse struct {
	OrderID              string        `json:"order_id"`
	OrderNumber          string        `json:"order_number"`
	Order                *models.Order `json:"order"`
	ReservationExpiresAt time.Time     `json:"reservation_expires_at"`
	ExpiresInSeconds     int           `json:"expires_in_seconds"`
	RemainingStock       int           `json:"remaining_stock"`
}

// HandleCheckout processes POST /api/checkout requests
func (ch *CheckoutHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		sendErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	if err := ch.validateCheckoutRequest(&req); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := ch.checkout.InitiateCheckout(r.Context(), models.CheckoutRequest{
		UserID:    user,
		SaleID:    req.SaleID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		sendServiceError(w, r, err)
		return
	}

	sendJSON(w, http.StatusCreated, CheckoutResponse{
		OrderID:              session.Order.ID,
		OrderNumber:          session.Order.OrderNumber,
		Order:                session.Order,
		ReservationExpiresAt: session.ReservationExpiresAt,
		ExpiresInSeconds:     int(session.ExpiresIn.Seconds()),
		RemainingStock:       session.RemainingStock,
	}, "Items reserved, complete payment before the reservation expires")
}

// validateCheckoutRequest validates the checkout request parameters
func (ch *CheckoutHandler) validateCheckoutRequest(req *CheckoutRequest) error {
	if req.SaleID == "" {
		return fmt.Errorf("sale_id is required")
	}

	if req.Quantity < 0 {
		return fmt.Errorf("quantity must be positive")
	}

	if req.ProductID != "" {
		if err := ch.catalog.ValidateProductID(req.ProductID); err != nil {
			return fmt.Errorf("invalid product_id: %w", err)
		}
	}

	return nil
}
