package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers bundles every HTTP handler the router serves
type Handlers struct {
	Health   *HealthHandler
	Queue    *QueueHandler
	Checkout *CheckoutHandler
	Orders   *OrderHandler
	Admin    *AdminHandler
}

// NewRouter registers all routes
func NewRouter(h Handlers) *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestLogger)

	router.HandleFunc("/health", h.Health.HandleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/sales/{saleId}/queue", h.Queue.HandleJoin).Methods(http.MethodPost)
	api.HandleFunc("/sales/{saleId}/queue", h.Queue.HandleLeave).Methods(http.MethodDelete)
	api.HandleFunc("/sales/{saleId}/queue/position", h.Queue.HandlePosition).Methods(http.MethodGet)
	api.HandleFunc("/sales/{saleId}/queue/stats", h.Queue.HandleStats).Methods(http.MethodGet)
	api.HandleFunc("/sales/{saleId}/queue/stream", h.Queue.HandleStream).Methods(http.MethodGet)

	api.HandleFunc("/checkout", h.Checkout.HandleCheckout).Methods(http.MethodPost)

	api.HandleFunc("/orders", h.Orders.HandleList).Methods(http.MethodGet)
	api.HandleFunc("/orders/{orderId}", h.Orders.HandleGet).Methods(http.MethodGet)
	api.HandleFunc("/orders/{orderId}/history", h.Orders.HandleHistory).Methods(http.MethodGet)
	api.HandleFunc("/orders/{orderId}/confirm", h.Orders.HandleConfirm).Methods(http.MethodPost)
	api.HandleFunc("/orders/{orderId}/cancel", h.Orders.HandleCancel).Methods(http.MethodPost)
	api.HandleFunc("/payments/webhook", h.Orders.HandlePaymentWebhook).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/sales", h.Admin.HandleCreateSale).Methods(http.MethodPost)
	admin.HandleFunc("/sales", h.Admin.HandleListSales).Methods(http.MethodGet)
	admin.HandleFunc("/sales/{saleId}", h.Admin.HandleGetSale).Methods(http.MethodGet)
	admin.HandleFunc("/sales/{saleId}/inventory", h.Admin.HandleAdjustInventory).Methods(http.MethodPost)
	admin.HandleFunc("/sales/{saleId}/schedule", h.Admin.HandleSchedule).Methods(http.MethodPost)
	admin.HandleFunc("/sales/{saleId}/{action:activate|pause|resume|stop}", h.Admin.HandleAction).Methods(http.MethodPost)

	return router
}
