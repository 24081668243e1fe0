package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/clock"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/config"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/database"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/events"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/interfaces"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/services"
)

type testServer struct {
	router *mux.Router
	clock  *clock.Manual
	sales  *services.SaleServiceImpl
}

type healthyStore struct{ status string }

func (h healthyStore) HealthCheck(context.Context) map[string]interface{} {
	return map[string]interface{}{"status": h.status}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Queue.StreamInterval = 20 * time.Millisecond
	clk := clock.NewManual(time.Now().UTC())
	db := database.NewMemoryDB()

	catalog, err := services.NewCatalogService(cfg.Catalog.Products)
	require.NoError(t, err)
	ledger := services.NewLedgerService(database.NewMemoryLedger(), db, clk)
	queue := services.NewQueueService(database.NewMemoryQueue(), db, clk, cfg.Queue)
	checkout := services.NewCheckoutService(db, ledger, queue, events.NoopPublisher{}, clk, cfg.Checkout)
	sales := services.NewSaleService(db, ledger, checkout, catalog, clk)
	t.Cleanup(checkout.Shutdown)

	router := NewRouter(Handlers{
		Health:   NewHealthHandler("flash-sale-server", "test", map[string]HealthChecker{"store": healthyStore{"healthy"}}),
		Queue:    NewQueueHandler(queue, cfg.Queue.StreamInterval),
		Checkout: NewCheckoutHandler(checkout, catalog),
		Orders:   NewOrderHandler(checkout),
		Admin:    NewAdminHandler(sales),
	})

	return &testServer{router: router, clock: clk, sales: sales}
}

func (s *testServer) liveSale(t *testing.T, total int) *models.Sale {
	t.Helper()
	sale, err := s.sales.CreateSale(context.Background(), interfaces.CreateSaleInput{
		ProductID:     "prod-keyboard",
		Price:         "79.00",
		TotalQuantity: total,
		MaxPerUser:    2,
		StartTime:     s.clock.Now().Add(-time.Minute),
		EndTime:       s.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return sale
}

func (s *testServer) do(t *testing.T, method, path, user string, body interface{}) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(userIDHeader, user)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp APIResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func dataMap(t *testing.T, resp APIResponse) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "unexpected payload %#v", resp.Data)
	return m
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Contains(t, health.Dependencies, "store")
}

func TestHealth_Degraded(t *testing.T) {
	h := NewHealthHandler("svc", "v", map[string]HealthChecker{"redis": healthyStore{"unhealthy"}})

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCheckoutAndConfirm(t *testing.T) {
	s := newTestServer(t)
	sale := s.liveSale(t, 1)

	rec, resp := s.do(t, http.MethodPost, "/api/checkout", "", CheckoutRequest{SaleID: sale.ID})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, resp.Success)

	rec, resp = s.do(t, http.MethodPost, "/api/checkout", "alice", CheckoutRequest{SaleID: sale.ID, Quantity: 1})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	orderID := dataMap(t, resp)["order_id"].(string)
	assert.EqualValues(t, 0, dataMap(t, resp)["remaining_stock"])
	assert.EqualValues(t, 300, dataMap(t, resp)["expires_in_seconds"], "countdown follows the service clock")

	rec, resp = s.do(t, http.MethodPost, "/api/checkout", "bob", CheckoutRequest{SaleID: sale.ID, Quantity: 1})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, models.ErrOutOfStock.Error(), resp.Error)

	rec, _ = s.do(t, http.MethodGet, "/api/orders/"+orderID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "orders are private to their owner")

	rec, resp = s.do(t, http.MethodPost, "/api/orders/"+orderID+"/confirm", "alice", ConfirmRequest{PaymentID: "pay-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(models.OrderStatusCompleted), dataMap(t, resp)["status"])

	rec, resp = s.do(t, http.MethodGet, "/api/orders/"+orderID+"/history", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data, 2)

	rec, resp = s.do(t, http.MethodGet, "/api/orders?limit=10", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data, 1)

	rec, _ = s.do(t, http.MethodGet, "/api/orders?limit=abc", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutValidation(t *testing.T) {
	s := newTestServer(t)
	sale := s.liveSale(t, 5)

	rec, resp := s.do(t, http.MethodPost, "/api/checkout", "alice", CheckoutRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "sale_id is required", resp.Error)

	rec, _ = s.do(t, http.MethodPost, "/api/checkout", "alice", CheckoutRequest{SaleID: sale.ID, ProductID: "bad id!"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/checkout", "alice", CheckoutRequest{SaleID: sale.ID, Quantity: 3})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "over the per-user cap")

	rec, _ = s.do(t, http.MethodPost, "/api/checkout", "alice", CheckoutRequest{SaleID: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader("{not json"))
	req.Header.Set(userIDHeader, "alice")
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCancelAndDuplicate(t *testing.T) {
	s := newTestServer(t)
	sale := s.liveSale(t, 5)

	_, resp := s.do(t, http.MethodPost, "/api/checkout", "alice", CheckoutRequest{SaleID: sale.ID})
	orderID := dataMap(t, resp)["order_id"].(string)

	rec, resp := s.do(t, http.MethodPost, "/api/checkout", "alice", CheckoutRequest{SaleID: sale.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, models.ErrDuplicatePendingOrder.Error(), resp.Error)

	rec, resp = s.do(t, http.MethodPost, "/api/orders/"+orderID+"/cancel", "alice", CancelRequest{Reason: "changed my mind"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, dataMap(t, resp)["cancelled"])

	rec, _ = s.do(t, http.MethodPost, "/api/orders/"+orderID+"/confirm", "alice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPaymentWebhook(t *testing.T) {
	s := newTestServer(t)
	sale := s.liveSale(t, 5)

	_, resp := s.do(t, http.MethodPost, "/api/checkout", "alice", CheckoutRequest{SaleID: sale.ID})
	orderID := dataMap(t, resp)["order_id"].(string)

	rec, _ := s.do(t, http.MethodPost, "/api/payments/webhook", "", PaymentWebhookRequest{Event: "payment.refunded", OrderID: orderID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/payments/webhook", "", PaymentWebhookRequest{Event: paymentSucceeded, OrderID: orderID})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "payment_id is required")

	for i := 0; i < 2; i++ {
		rec, resp = s.do(t, http.MethodPost, "/api/payments/webhook", "", PaymentWebhookRequest{
			Event: paymentSucceeded, OrderID: orderID, PaymentID: "pay-1",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, string(models.OrderStatusCompleted), dataMap(t, resp)["status"])
	}

	rec, resp = s.do(t, http.MethodPost, "/api/payments/webhook", "", PaymentWebhookRequest{
		Event: paymentFailed, OrderID: orderID, Reason: "late decline",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, dataMap(t, resp)["cancelled"])
}

func TestQueueEndpoints(t *testing.T) {
	s := newTestServer(t)
	sale := s.liveSale(t, 5)
	base := "/api/sales/" + sale.ID + "/queue"

	rec, resp := s.do(t, http.MethodPost, base, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, dataMap(t, resp)["position"])

	s.clock.Advance(time.Millisecond)
	rec, resp = s.do(t, http.MethodPost, base, "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, dataMap(t, resp)["total_ahead"])

	rec, resp = s.do(t, http.MethodGet, base+"/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, dataMap(t, resp)["total_waiting"])

	rec, _ = s.do(t, http.MethodGet, base+"/position", "carol", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp = s.do(t, http.MethodDelete, base, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, dataMap(t, resp)["left"])

	rec, resp = s.do(t, http.MethodGet, base+"/position", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, dataMap(t, resp)["position"])
}

func TestQueueStream(t *testing.T) {
	s := newTestServer(t)
	sale := s.liveSale(t, 5)

	_, _ = s.do(t, http.MethodPost, "/api/sales/"+sale.ID+"/queue", "alice", nil)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sales/" + sale.ID + "/queue/stream?user_id=alice"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var pos models.QueuePosition
	require.NoError(t, conn.ReadJSON(&pos))
	assert.Equal(t, 1, pos.Position)
	assert.True(t, pos.Eligible)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "stream ends once the user is eligible")

	_, resp, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(srv.URL, "http")+"/api/sales/"+sale.ID+"/queue/stream?user_id=nobody", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminEndpoints(t *testing.T) {
	s := newTestServer(t)
	now := s.clock.Now()

	rec, resp := s.do(t, http.MethodPost, "/api/admin/sales", "", CreateSaleRequest{
		ProductID:     "prod-watch",
		Price:         "199.00",
		TotalQuantity: 20,
		StartTime:     now.Add(time.Hour),
		EndTime:       now.Add(2 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saleID := dataMap(t, resp)["id"].(string)
	assert.Equal(t, string(models.SaleStatusUpcoming), dataMap(t, resp)["status"])

	rec, _ = s.do(t, http.MethodPost, "/api/admin/sales", "", CreateSaleRequest{ProductID: "prod-watch"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/admin/sales/"+saleID+"/pause", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/admin/sales/"+saleID+"/activate", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp = s.do(t, http.MethodPost, "/api/admin/sales/"+saleID+"/inventory", "", AdjustInventoryRequest{Delta: -5})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 15, dataMap(t, resp)["remaining"])

	rec, _ = s.do(t, http.MethodPost, "/api/admin/sales/"+saleID+"/inventory", "", AdjustInventoryRequest{Delta: -50})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = s.do(t, http.MethodGet, "/api/admin/sales/"+saleID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	inventory := dataMap(t, resp)["inventory"].(map[string]interface{})
	assert.EqualValues(t, 15, inventory["total"])

	rec, _ = s.do(t, http.MethodPost, "/api/admin/sales/"+saleID+"/schedule", "", ScheduleRequest{
		StartTime: now.Add(2 * time.Hour), EndTime: now.Add(time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = s.do(t, http.MethodPost, "/api/admin/sales/"+saleID+"/stop", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, dataMap(t, resp)["cancelled_orders"])

	rec, resp = s.do(t, http.MethodGet, "/api/admin/sales?status=cancelled", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data, 1)

	rec, _ = s.do(t, http.MethodPost, "/api/admin/sales/"+saleID+"/explode", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusForError(models.ErrOutOfStock))
	assert.Equal(t, http.StatusConflict, statusForError(models.ErrPurchaseLimitExceeded))
	assert.Equal(t, http.StatusForbidden, statusForError(models.ErrNotAdmitted))
	assert.Equal(t, http.StatusNotFound, statusForError(models.ErrNotInQueue))
	assert.Equal(t, http.StatusInternalServerError, statusForError(assert.AnError))

	rec := httptest.NewRecorder()
	sendServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil),
		models.NewTransientStoreError("reserve", assert.AnError))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, retryAfterSeconds, rec.Header().Get("Retry-After"))
}
