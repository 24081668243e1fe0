package interfaces

import (
	"context"
	"time"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

// LedgerService defines the inventory ledger contract
type LedgerService interface {
	InitSale(ctx context.Context, saleID string, total int) error
	Reserve(ctx context.Context, saleID, userID string, qty, limit int) (*models.ReserveResult, error)
	Confirm(ctx context.Context, saleID, userID string) (bool, error)
	Release(ctx context.Context, saleID, userID string) (bool, error)
	Stats(ctx context.Context, saleID string) (*models.LedgerStats, error)
	Reconcile(ctx context.Context, saleID string) (*models.LedgerStats, error)
	Adjust(ctx context.Context, saleID string, delta int) (*models.LedgerStats, error)
}

// QueueService defines the fair admission queue contract
type QueueService interface {
	Join(ctx context.Context, saleID, userID string) (*models.QueuePosition, error)
	Position(ctx context.Context, saleID, userID string) (*models.QueuePosition, error)
	Leave(ctx context.Context, saleID, userID string) (bool, error)
	Stats(ctx context.Context, saleID string) (*models.QueueStats, error)
	IsEligible(ctx context.Context, saleID, userID string) (bool, error)
	MarkStatus(ctx context.Context, saleID, userID string, status models.QueueStatus) (bool, error)
	EvictIdle(ctx context.Context, saleID string) (int, error)
}

// CheckoutService defines the order state machine contract
type CheckoutService interface {
	InitiateCheckout(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutSession, error)
	ConfirmOrder(ctx context.Context, orderID, userID, paymentID string) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID, userID, reason string, isSystem bool) (bool, error)
	ExpireOrder(ctx context.Context, orderID string) (bool, error)
	PaymentSucceeded(ctx context.Context, orderID, paymentID string) (*models.Order, error)
	PaymentFailed(ctx context.Context, orderID, reason string) (bool, error)
	GetOrderByID(ctx context.Context, orderID, userID string) (*models.Order, error)
	GetUserOrders(ctx context.Context, userID string, limit, offset int) ([]models.Order, error)
	GetOrderHistory(ctx context.Context, orderID, userID string) ([]models.OrderHistory, error)
}

// CreateSaleInput is the admin payload for a new sale
type CreateSaleInput struct {
	ProductID     string
	Price         string
	TotalQuantity int
	MaxPerUser    int
	StartTime     time.Time
	EndTime       time.Time
}

// SaleService defines the sale lifecycle and admin control contract
type SaleService interface {
	CreateSale(ctx context.Context, in CreateSaleInput) (*models.Sale, error)
	GetSale(ctx context.Context, saleID string) (*models.Sale, error)
	ListSales(ctx context.Context, statuses ...models.SaleStatus) ([]models.Sale, error)
	GetSaleStatus(ctx context.Context, saleID string) (*models.Sale, *models.LedgerStats, error)
	Activate(ctx context.Context, saleID string) error
	Pause(ctx context.Context, saleID string) error
	Resume(ctx context.Context, saleID string) error
	EmergencyStop(ctx context.Context, saleID string) (int, error)
	AdjustInventory(ctx context.Context, saleID string, delta int) (*models.LedgerStats, error)
	Schedule(ctx context.Context, saleID string, start, end time.Time) error
	AdvanceLifecycle(ctx context.Context) (int, error)
}

// CatalogService is the read-only view of the external product catalog
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	ValidateProductID(productID string) error
}
