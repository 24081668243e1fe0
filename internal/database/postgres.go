package database

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const saleColumns = `id, product_id, product_name, price, original_price, total_quantity,
	remaining_quantity, max_per_user, start_time, end_time, status, created_at, updated_at`

const orderColumns = `id, order_number, user_id, sale_id, product_id, quantity, unit_price,
	total_amount, status, payment_status, payment_id, reservation_expires_at, cancel_reason,
	created_at, updated_at, completed_at, cancelled_at`

// PostgresDB implements DatabaseInterface
type PostgresDB struct {
	db *sql.DB

	// Prepared statements for the checkout hot path
	getSaleStmt         *sql.Stmt
	getOrderStmt        *sql.Stmt
	getOpenOrderStmt    *sql.Stmt
	insertOrderStmt     *sql.Stmt
	insertHistoryStmt   *sql.Stmt
	transitionOrderStmt *sql.Stmt
}

// NewPostgresDB creates a new PostgreSQL database connection, applies the
// schema and prepares statements.
func NewPostgresDB(connectionString string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for high performance
	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(15 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pgDB := &PostgresDB{db: db}

	if err := pgDB.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := pgDB.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return pgDB, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (p *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (p *PostgresDB) prepareStatements(ctx context.Context) error {
	var err error

	p.getSaleStmt, err = p.db.PrepareContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`)
	if err != nil {
		return fmt.Errorf("failed to prepare getSale statement: %w", err)
	}

	p.getOrderStmt, err = p.db.PrepareContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`)
	if err != nil {
		return fmt.Errorf("failed to prepare getOrder statement: %w", err)
	}

	p.getOpenOrderStmt, err = p.db.PrepareContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1 AND sale_id = $2 AND status IN ('pending', 'processing')
		LIMIT 1`)
	if err != nil {
		return fmt.Errorf("failed to prepare getOpenOrder statement: %w", err)
	}

	p.insertOrderStmt, err = p.db.PrepareContext(ctx, `
		INSERT INTO orders (id, order_number, user_id, sale_id, product_id, quantity, unit_price,
			total_amount, status, payment_status, reservation_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insertOrder statement: %w", err)
	}

	p.insertHistoryStmt, err = p.db.PrepareContext(ctx, `
		INSERT INTO order_history (order_id, old_status, new_status, reason, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`)
	if err != nil {
		return fmt.Errorf("failed to prepare insertHistory statement: %w", err)
	}

	// Conditional update: applies only while the order is still in the
	// expected state and, when $10 is set, its reservation is still live.
	p.transitionOrderStmt, err = p.db.PrepareContext(ctx, `
		UPDATE orders
		SET status = $2::text,
			payment_status = COALESCE(NULLIF($3::text, ''), payment_status),
			payment_id = COALESCE(NULLIF($4::text, ''), payment_id),
			cancel_reason = COALESCE(NULLIF($5::text, ''), cancel_reason),
			updated_at = $6,
			completed_at = COALESCE($7, completed_at),
			cancelled_at = COALESCE($8, cancelled_at)
		WHERE id = $1 AND status = $9::text
			AND ($10::timestamptz IS NULL OR reservation_expires_at > $10::timestamptz)`)
	if err != nil {
		return fmt.Errorf("failed to prepare transitionOrder statement: %w", err)
	}

	return nil
}

// Connection management
func (p *PostgresDB) Close() error {
	for _, stmt := range []*sql.Stmt{
		p.getSaleStmt, p.getOrderStmt, p.getOpenOrderStmt,
		p.insertOrderStmt, p.insertHistoryStmt, p.transitionOrderStmt,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}

	return p.db.Close()
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresDB) Stats() sql.DBStats {
	return p.db.Stats()
}

// withTx runs fn inside a transaction, rolling back on error
func (p *PostgresDB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// isUUID reports whether id can be bound to a uuid column. Client supplied ids
// that cannot are treated as missing rows instead of query errors.
func isUUID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSale(row rowScanner) (*models.Sale, error) {
	sale := &models.Sale{}
	var status string
	err := row.Scan(&sale.ID, &sale.ProductID, &sale.ProductName, &sale.Price, &sale.OriginalPrice,
		&sale.TotalQuantity, &sale.RemainingQuantity, &sale.MaxPerUser, &sale.StartTime,
		&sale.EndTime, &status, &sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sale.Status = models.SaleStatus(status)
	return sale, nil
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var status, paymentStatus string
	var completedAt, cancelledAt sql.NullTime
	err := row.Scan(&order.ID, &order.OrderNumber, &order.UserID, &order.SaleID, &order.ProductID,
		&order.Quantity, &order.UnitPrice, &order.TotalAmount, &status, &paymentStatus,
		&order.PaymentID, &order.ReservationExpiresAt, &order.CancelReason,
		&order.CreatedAt, &order.UpdatedAt, &completedAt, &cancelledAt)
	if err != nil {
		return nil, err
	}
	order.Status = models.OrderStatus(status)
	order.PaymentStatus = models.PaymentStatus(paymentStatus)
	if completedAt.Valid {
		t := completedAt.Time
		order.CompletedAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		order.CancelledAt = &t
	}
	return order, nil
}

func scanOrders(rows *sql.Rows) ([]models.Order, error) {
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	return orders, nil
}

// Sale operations
func (p *PostgresDB) CreateSale(ctx context.Context, sale *models.Sale) error {
	query := `
		INSERT INTO sales (` + saleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := p.db.ExecContext(ctx, query,
		sale.ID, sale.ProductID, sale.ProductName, sale.Price, sale.OriginalPrice,
		sale.TotalQuantity, sale.RemainingQuantity, sale.MaxPerUser, sale.StartTime,
		sale.EndTime, string(sale.Status), sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sale: %w", err)
	}

	return nil
}

func (p *PostgresDB) GetSaleByID(ctx context.Context, id string) (*models.Sale, error) {
	if !isUUID(id) {
		return nil, nil
	}
	sale, err := scanSale(p.getSaleStmt.QueryRowContext(ctx, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Sale not found
		}
		return nil, fmt.Errorf("failed to get sale by ID: %w", err)
	}

	return sale, nil
}

func (p *PostgresDB) ListSales(ctx context.Context, statuses ...models.SaleStatus) ([]models.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales`
	var args []interface{}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, pq.Array(names))
	}
	query += ` ORDER BY start_time`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	defer rows.Close()

	sales := []models.Sale{}
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sales: %w", err)
	}

	return sales, nil
}

func (p *PostgresDB) UpdateSaleStatus(ctx context.Context, id string, from []models.SaleStatus, to models.SaleStatus) (bool, error) {
	if !isUUID(id) {
		return false, nil
	}
	names := make([]string, len(from))
	for i, s := range from {
		names[i] = string(s)
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE sales SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`,
		id, string(to), pq.Array(names))
	if err != nil {
		return false, fmt.Errorf("failed to update sale status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

func (p *PostgresDB) UpdateSaleSchedule(ctx context.Context, id string, start, end time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE sales SET start_time = $2, end_time = $3, updated_at = NOW()
		WHERE id = $1`, id, start, end)
	if err != nil {
		return fmt.Errorf("failed to update sale schedule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return models.ErrSaleNotFound
	}

	return nil
}

func (p *PostgresDB) UpdateSaleInventory(ctx context.Context, id string, total, remaining int) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE sales SET total_quantity = $2, remaining_quantity = $3, updated_at = NOW()
		WHERE id = $1`, id, total, remaining)
	if err != nil {
		return fmt.Errorf("failed to update sale inventory: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return models.ErrSaleNotFound
	}

	return nil
}

// Order operations

// CreateOrder inserts the order and its first history row in one transaction.
// A second open order for the same user and sale fails with ErrDuplicatePendingOrder.
func (p *PostgresDB) CreateOrder(ctx context.Context, order *models.Order, entry *models.OrderHistory) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.StmtContext(ctx, p.insertOrderStmt).ExecContext(ctx,
			order.ID, order.OrderNumber, order.UserID, order.SaleID, order.ProductID,
			order.Quantity, order.UnitPrice, order.TotalAmount, string(order.Status),
			string(order.PaymentStatus), order.ReservationExpiresAt, order.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return models.ErrDuplicatePendingOrder
			}
			return fmt.Errorf("failed to create order: %w", err)
		}
		order.UpdatedAt = order.CreatedAt

		if entry != nil {
			if err := insertHistory(ctx, tx.StmtContext(ctx, p.insertHistoryStmt), entry); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertHistory(ctx context.Context, stmt *sql.Stmt, entry *models.OrderHistory) error {
	err := stmt.QueryRowContext(ctx, entry.OrderID, string(entry.OldStatus), string(entry.NewStatus),
		entry.Reason, entry.Actor, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append order history: %w", err)
	}
	return nil
}

func (p *PostgresDB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	if !isUUID(id) {
		return nil, nil
	}
	order, err := scanOrder(p.getOrderStmt.QueryRowContext(ctx, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Order not found
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return order, nil
}

func (p *PostgresDB) GetOpenOrder(ctx context.Context, userID, saleID string) (*models.Order, error) {
	if !isUUID(saleID) {
		return nil, nil
	}
	order, err := scanOrder(p.getOpenOrderStmt.QueryRowContext(ctx, userID, saleID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get open order: %w", err)
	}

	return order, nil
}

func (p *PostgresDB) ListUserOrders(ctx context.Context, userID string, limit, offset int) ([]models.Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list user orders: %w", err)
	}

	return scanOrders(rows)
}

func (p *PostgresDB) ListOverdueOrders(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'pending' AND reservation_expires_at < $1
		ORDER BY reservation_expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue orders: %w", err)
	}

	return scanOrders(rows)
}

func (p *PostgresDB) ListOpenOrdersBySale(ctx context.Context, saleID string) ([]models.Order, error) {
	if !isUUID(saleID) {
		return []models.Order{}, nil
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE sale_id = $1 AND status IN ('pending', 'processing')`, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}

	return scanOrders(rows)
}

// TransitionOrder applies t as a single conditional update plus a history
// row. It reports false when the order was not in t.From (or its
// reservation had lapsed) and nothing was written.
func (p *PostgresDB) TransitionOrder(ctx context.Context, t models.OrderTransition) (bool, error) {
	var completedAt, cancelledAt, validAt interface{}
	switch t.To {
	case models.OrderStatusCompleted:
		completedAt = t.At
	case models.OrderStatusCancelled:
		cancelledAt = t.At
	}
	if !t.ValidAt.IsZero() {
		validAt = t.ValidAt
	}

	var cancelReason string
	if t.To == models.OrderStatusCancelled {
		cancelReason = t.Reason
	}

	applied := false
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.StmtContext(ctx, p.transitionOrderStmt).ExecContext(ctx,
			t.OrderID, string(t.To), string(t.PaymentStatus), t.PaymentID, cancelReason,
			t.At, completedAt, cancelledAt, string(t.From), validAt)
		if err != nil {
			return fmt.Errorf("failed to transition order: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return nil
		}

		applied = true
		return insertHistory(ctx, tx.StmtContext(ctx, p.insertHistoryStmt), &models.OrderHistory{
			OrderID:   t.OrderID,
			OldStatus: t.From,
			NewStatus: t.To,
			Reason:    t.Reason,
			Actor:     t.Actor,
			CreatedAt: t.At,
		})
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

// ConfirmedQuantityByUser returns the completed quantity of a sale per buyer
func (p *PostgresDB) ConfirmedQuantityByUser(ctx context.Context, saleID string) (map[string]int, error) {
	bought := make(map[string]int)
	if !isUUID(saleID) {
		return bought, nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, SUM(quantity)
		FROM orders
		WHERE sale_id = $1 AND status = 'completed'
		GROUP BY user_id`, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum confirmed quantity: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		var qty int
		if err := rows.Scan(&userID, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan confirmed quantity: %w", err)
		}
		bought[userID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate confirmed quantity: %w", err)
	}

	return bought, nil
}

// Audit log
func (p *PostgresDB) GetOrderHistory(ctx context.Context, orderID string) ([]models.OrderHistory, error) {
	if !isUUID(orderID) {
		return []models.OrderHistory{}, nil
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, order_id, old_status, new_status, reason, actor, created_at
		FROM order_history
		WHERE order_id = $1
		ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}
	defer rows.Close()

	history := []models.OrderHistory{}
	for rows.Next() {
		var h models.OrderHistory
		var oldStatus, newStatus string
		if err := rows.Scan(&h.ID, &h.OrderID, &oldStatus, &newStatus, &h.Reason, &h.Actor, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order history: %w", err)
		}
		h.OldStatus = models.OrderStatus(oldStatus)
		h.NewStatus = models.OrderStatus(newStatus)
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order history: %w", err)
	}

	return history, nil
}

// HealthCheck reports connectivity and pool usage
func (p *PostgresDB) HealthCheck(ctx context.Context) map[string]interface{} {
	health := make(map[string]interface{})
	if err := p.db.PingContext(ctx); err != nil {
		health["status"] = "unhealthy"
		health["error"] = err.Error()
		return health
	}

	stats := p.db.Stats()
	health["status"] = "healthy"
	health["open_connections"] = stats.OpenConnections
	health["in_use"] = stats.InUse
	health["idle"] = stats.Idle
	return health
}
