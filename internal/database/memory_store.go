package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

// MemoryDB implements DatabaseInterface in process with the same conditional
// update and uniqueness rules as the Postgres schema.
type MemoryDB struct {
	mu        sync.RWMutex
	sales     map[string]models.Sale
	orders    map[string]models.Order
	history   map[string][]models.OrderHistory
	historyID int64
}

// NewMemoryDB creates an empty in-memory durable store
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		sales:   make(map[string]models.Sale),
		orders:  make(map[string]models.Order),
		history: make(map[string][]models.OrderHistory),
	}
}

func (m *MemoryDB) Close() error                 { return nil }
func (m *MemoryDB) Ping(_ context.Context) error { return nil }

func (m *MemoryDB) CreateSale(_ context.Context, sale *models.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sales[sale.ID] = *sale
	return nil
}

func (m *MemoryDB) GetSaleByID(_ context.Context, id string) (*models.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sale, ok := m.sales[id]
	if !ok {
		return nil, nil
	}
	return &sale, nil
}

func (m *MemoryDB) ListSales(_ context.Context, statuses ...models.SaleStatus) ([]models.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sales := []models.Sale{}
	for _, sale := range m.sales {
		if len(statuses) == 0 || containsSaleStatus(statuses, sale.Status) {
			sales = append(sales, sale)
		}
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].StartTime.Before(sales[j].StartTime) })
	return sales, nil
}

func containsSaleStatus(statuses []models.SaleStatus, s models.SaleStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func (m *MemoryDB) UpdateSaleStatus(_ context.Context, id string, from []models.SaleStatus, to models.SaleStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sale, ok := m.sales[id]
	if !ok || !containsSaleStatus(from, sale.Status) {
		return false, nil
	}
	sale.Status = to
	sale.UpdatedAt = time.Now().UTC()
	m.sales[id] = sale
	return true, nil
}

func (m *MemoryDB) UpdateSaleSchedule(_ context.Context, id string, start, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sale, ok := m.sales[id]
	if !ok {
		return models.ErrSaleNotFound
	}
	sale.StartTime = start
	sale.EndTime = end
	sale.UpdatedAt = time.Now().UTC()
	m.sales[id] = sale
	return nil
}

func (m *MemoryDB) UpdateSaleInventory(_ context.Context, id string, total, remaining int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sale, ok := m.sales[id]
	if !ok {
		return models.ErrSaleNotFound
	}
	sale.TotalQuantity = total
	sale.RemainingQuantity = remaining
	sale.UpdatedAt = time.Now().UTC()
	m.sales[id] = sale
	return nil
}

func (m *MemoryDB) CreateOrder(_ context.Context, order *models.Order, entry *models.OrderHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.orders {
		if existing.UserID == order.UserID && existing.SaleID == order.SaleID && existing.Status.IsOpen() {
			return models.ErrDuplicatePendingOrder
		}
	}

	order.UpdatedAt = order.CreatedAt
	m.orders[order.ID] = *order
	if entry != nil {
		m.appendHistory(entry)
	}
	return nil
}

func (m *MemoryDB) appendHistory(entry *models.OrderHistory) {
	m.historyID++
	entry.ID = m.historyID
	m.history[entry.OrderID] = append(m.history[entry.OrderID], *entry)
}

func (m *MemoryDB) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	return &order, nil
}

func (m *MemoryDB) GetOpenOrder(_ context.Context, userID, saleID string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, order := range m.orders {
		if order.UserID == userID && order.SaleID == saleID && order.Status.IsOpen() {
			o := order
			return &o, nil
		}
	}
	return nil, nil
}

func (m *MemoryDB) ListUserOrders(_ context.Context, userID string, limit, offset int) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := []models.Order{}
	for _, order := range m.orders {
		if order.UserID == userID {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })

	if offset >= len(orders) {
		return []models.Order{}, nil
	}
	orders = orders[offset:]
	if limit > 0 && limit < len(orders) {
		orders = orders[:limit]
	}
	return orders, nil
}

func (m *MemoryDB) ListOverdueOrders(_ context.Context, now time.Time, limit int) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := []models.Order{}
	for _, order := range m.orders {
		if order.Status == models.OrderStatusPending && order.ReservationExpiresAt.Before(now) {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].ReservationExpiresAt.Before(orders[j].ReservationExpiresAt)
	})
	if limit > 0 && limit < len(orders) {
		orders = orders[:limit]
	}
	return orders, nil
}

func (m *MemoryDB) ListOpenOrdersBySale(_ context.Context, saleID string) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := []models.Order{}
	for _, order := range m.orders {
		if order.SaleID == saleID && order.Status.IsOpen() {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (m *MemoryDB) TransitionOrder(_ context.Context, t models.OrderTransition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[t.OrderID]
	if !ok || order.Status != t.From {
		return false, nil
	}
	if !t.ValidAt.IsZero() && !order.ReservationExpiresAt.After(t.ValidAt) {
		return false, nil
	}

	order.Status = t.To
	order.UpdatedAt = t.At
	if t.PaymentStatus != "" {
		order.PaymentStatus = t.PaymentStatus
	}
	if t.PaymentID != "" {
		order.PaymentID = t.PaymentID
	}
	switch t.To {
	case models.OrderStatusCompleted:
		at := t.At
		order.CompletedAt = &at
	case models.OrderStatusCancelled:
		at := t.At
		order.CancelledAt = &at
		if t.Reason != "" {
			order.CancelReason = t.Reason
		}
	}
	m.orders[t.OrderID] = order

	m.appendHistory(&models.OrderHistory{
		OrderID:   t.OrderID,
		OldStatus: t.From,
		NewStatus: t.To,
		Reason:    t.Reason,
		Actor:     t.Actor,
		CreatedAt: t.At,
	})
	return true, nil
}

func (m *MemoryDB) ConfirmedQuantityByUser(_ context.Context, saleID string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bought := make(map[string]int)
	for _, order := range m.orders {
		if order.SaleID == saleID && order.Status == models.OrderStatusCompleted {
			bought[order.UserID] += order.Quantity
		}
	}
	return bought, nil
}

func (m *MemoryDB) GetOrderHistory(_ context.Context, orderID string) ([]models.OrderHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := make([]models.OrderHistory, len(m.history[orderID]))
	copy(history, m.history[orderID])
	return history, nil
}
