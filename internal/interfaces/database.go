package interfaces

import (
	"context"
	"time"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

// DatabaseInterface defines the contract for the durable store.
// Lookups return (nil, nil) when the row does not exist.
type DatabaseInterface interface {
	// Connection management
	Close() error
	Ping(ctx context.Context) error

	// Sale operations
	CreateSale(ctx context.Context, sale *models.Sale) error
	GetSaleByID(ctx context.Context, id string) (*models.Sale, error)
	ListSales(ctx context.Context, statuses ...models.SaleStatus) ([]models.Sale, error)
	UpdateSaleStatus(ctx context.Context, id string, from []models.SaleStatus, to models.SaleStatus) (bool, error)
	UpdateSaleSchedule(ctx context.Context, id string, start, end time.Time) error
	UpdateSaleInventory(ctx context.Context, id string, total, remaining int) error

	// Order operations
	CreateOrder(ctx context.Context, order *models.Order, entry *models.OrderHistory) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOpenOrder(ctx context.Context, userID, saleID string) (*models.Order, error)
	ListUserOrders(ctx context.Context, userID string, limit, offset int) ([]models.Order, error)
	ListOverdueOrders(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
	ListOpenOrdersBySale(ctx context.Context, saleID string) ([]models.Order, error)
	TransitionOrder(ctx context.Context, t models.OrderTransition) (bool, error)
	ConfirmedQuantityByUser(ctx context.Context, saleID string) (map[string]int, error)

	// Audit log
	GetOrderHistory(ctx context.Context, orderID string) ([]models.OrderHistory, error)
}
