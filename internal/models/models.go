package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleStatus is the lifecycle state of a flash sale
type SaleStatus string

const (
	SaleStatusUpcoming  SaleStatus = "upcoming"
	SaleStatusActive    SaleStatus = "active"
	SaleStatusPaused    SaleStatus = "paused"
	SaleStatusCompleted SaleStatus = "completed"
	SaleStatusCancelled SaleStatus = "cancelled"
)

// IsTerminal reports whether no further lifecycle transition is possible
func (s SaleStatus) IsTerminal() bool {
	return s == SaleStatusCompleted || s == SaleStatusCancelled
}

// Sale represents one time-boxed flash sale offer
type Sale struct {
	ID                string          `json:"id"`
	ProductID         string          `json:"product_id"`
	ProductName       string          `json:"product_name"`
	Price             decimal.Decimal `json:"price"`
	OriginalPrice     decimal.Decimal `json:"original_price"`
	TotalQuantity     int             `json:"total_quantity"`
	RemainingQuantity int             `json:"remaining_quantity"`
	MaxPerUser        int             `json:"max_per_user"`
	StartTime         time.Time       `json:"start_time"`
	EndTime           time.Time       `json:"end_time"`
	Status            SaleStatus      `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// InWindow reports whether now falls inside [StartTime, EndTime)
func (s *Sale) InWindow(now time.Time) bool {
	return !now.Before(s.StartTime) && now.Before(s.EndTime)
}

// AcceptsCheckout reports whether a checkout may be started at now
func (s *Sale) AcceptsCheckout(now time.Time) bool {
	return s.Status == SaleStatusActive && s.InWindow(now)
}

// Reservation is an ephemeral inventory claim held by one user
type Reservation struct {
	SaleID    string    `json:"sale_id"`
	UserID    string    `json:"user_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ReserveOutcome is the reason code returned by the ledger reserve script
type ReserveOutcome string

const (
	ReserveOK                 ReserveOutcome = "ok"
	ReserveOutOfStock         ReserveOutcome = "out_of_stock"
	ReserveDuplicate          ReserveOutcome = "duplicate_reservation"
	ReserveLimitExceeded      ReserveOutcome = "limit_exceeded"
	ReserveSaleNotInitialized ReserveOutcome = "sale_not_initialized"
)

// ReserveResult represents the result of a ledger reserve operation
type ReserveResult struct {
	Success     bool           `json:"success"`
	Remaining   int            `json:"remaining"`
	Outcome     ReserveOutcome `json:"outcome"`
	Reservation *Reservation   `json:"reservation,omitempty"`
}

// LedgerSnapshot is the raw state of one sale in the fast store
type LedgerSnapshot struct {
	Initialized  bool `json:"initialized"`
	Total        int  `json:"total"`
	Remaining    int  `json:"remaining"`
	Reserved     int  `json:"reserved"`
	Reservations int  `json:"reservations"`
	Purged       int  `json:"purged,omitempty"`
}

// LedgerStats is the read-only view of a sale's inventory
type LedgerStats struct {
	SaleID       string  `json:"sale_id"`
	Total        int     `json:"total"`
	Remaining    int     `json:"remaining"`
	Reserved     int     `json:"reserved"`
	Sold         int     `json:"sold"`
	Utilization  float64 `json:"utilization"`
	Reservations int     `json:"active_reservations"`
}

// QueueStatus is the state of a user's place in a sale queue
type QueueStatus string

const (
	QueueStatusWaiting   QueueStatus = "waiting"
	QueueStatusReserved  QueueStatus = "reserved"
	QueueStatusPurchased QueueStatus = "purchased"
	QueueStatusCancelled QueueStatus = "cancelled"
	QueueStatusDropped   QueueStatus = "dropped"
)

// IsTerminal reports whether the entry can be replaced by a fresh join
func (s QueueStatus) IsTerminal() bool {
	return s == QueueStatusCancelled || s == QueueStatusDropped
}

// QueueEntry is one user's admission record for a sale
type QueueEntry struct {
	SaleID     string      `json:"sale_id"`
	UserID     string      `json:"user_id"`
	JoinedAt   time.Time   `json:"joined_at"`
	Sequence   int64       `json:"sequence"`
	LastSeenAt time.Time   `json:"last_seen_at"`
	Status     QueueStatus `json:"status"`
}

// QueuePosition is the caller-facing view of a queue entry
type QueuePosition struct {
	SaleID               string      `json:"sale_id"`
	UserID               string      `json:"user_id"`
	Status               QueueStatus `json:"status"`
	Position             int         `json:"position"`
	TotalAhead           int         `json:"total_ahead"`
	TotalBehind          int         `json:"total_behind"`
	TotalInQueue         int         `json:"total_in_queue"`
	EstimatedWaitMinutes float64     `json:"estimated_wait_minutes"`
	Eligible             bool        `json:"eligible"`
	JoinedAt             time.Time   `json:"joined_at"`
}

// QueueStats summarises a sale queue
type QueueStats struct {
	SaleID               string  `json:"sale_id"`
	TotalWaiting         int     `json:"total_waiting"`
	EstimatedWaitMinutes float64 `json:"estimated_wait_minutes"`
	AdmissionRate        float64 `json:"admission_rate_per_minute"`
}

// OrderStatus is the state of an order in the checkout state machine
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// IsOpen reports whether the order still holds (or may still hold) stock
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusPending || s == OrderStatusProcessing
}

// PaymentStatus tracks the payment side of an order
type PaymentStatus string

const (
	PaymentStatusAwaiting PaymentStatus = "awaiting"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusVoid     PaymentStatus = "void"
)

// Order represents a checkout tied to a reservation
type Order struct {
	ID                   string          `json:"id"`
	OrderNumber          string          `json:"order_number"`
	UserID               string          `json:"user_id"`
	SaleID               string          `json:"sale_id"`
	ProductID            string          `json:"product_id"`
	Quantity             int             `json:"quantity"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	Status               OrderStatus     `json:"status"`
	PaymentStatus        PaymentStatus   `json:"payment_status"`
	PaymentID            string          `json:"payment_id,omitempty"`
	ReservationExpiresAt time.Time       `json:"reservation_expires_at"`
	CancelReason         string          `json:"cancel_reason,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	CancelledAt          *time.Time      `json:"cancelled_at,omitempty"`
}

// OrderHistory is one append-only audit row of an order status change
type OrderHistory struct {
	ID        int64       `json:"id"`
	OrderID   string      `json:"order_id"`
	OldStatus OrderStatus `json:"old_status,omitempty"`
	NewStatus OrderStatus `json:"new_status"`
	Reason    string      `json:"reason,omitempty"`
	Actor     string      `json:"actor"`
	CreatedAt time.Time   `json:"created_at"`
}

// OrderTransition describes a conditional single-row order update.
// The update applies only while the order is in From, and, when ValidAt is
// set, only while ReservationExpiresAt is after ValidAt.
type OrderTransition struct {
	OrderID       string
	From          OrderStatus
	To            OrderStatus
	PaymentStatus PaymentStatus
	PaymentID     string
	Reason        string
	Actor         string
	At            time.Time
	ValidAt       time.Time
}

// CheckoutRequest is the input of InitiateCheckout
type CheckoutRequest struct {
	UserID    string `json:"user_id"`
	SaleID    string `json:"sale_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CheckoutSession is returned to the client after a successful reservation
type CheckoutSession struct {
	Order                *Order        `json:"order"`
	ReservationExpiresAt time.Time     `json:"reservation_expires_at"`
	ExpiresIn            time.Duration `json:"-"` // on the service clock
	RemainingStock       int           `json:"remaining_stock"`
}

// Product is the catalog view used when creating a sale
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	BasePrice   decimal.Decimal `json:"base_price"`
}

// OrderEvent is published on every order state change
type OrderEvent struct {
	Type        string          `json:"type"`
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	SaleID      string          `json:"sale_id"`
	UserID      string          `json:"user_id"`
	Quantity    int             `json:"quantity"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      OrderStatus     `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

const (
	EventOrderCreated   = "order.created"
	EventOrderCompleted = "order.completed"
	EventOrderCancelled = "order.cancelled"
)

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}
