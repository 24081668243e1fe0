package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/clock"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/interfaces"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

// SaleServiceImpl implements interfaces.SaleService
type SaleServiceImpl struct {
	db       interfaces.DatabaseInterface
	ledger   interfaces.LedgerService
	checkout *CheckoutServiceImpl
	catalog  interfaces.CatalogService
	clock    clock.Clock
}

// NewSaleService creates a new sale service
func NewSaleService(
	db interfaces.DatabaseInterface,
	ledger interfaces.LedgerService,
	checkout *CheckoutServiceImpl,
	catalog interfaces.CatalogService,
	clk clock.Clock,
) *SaleServiceImpl {
	return &SaleServiceImpl{
		db:       db,
		ledger:   ledger,
		checkout: checkout,
		catalog:  catalog,
		clock:    clk,
	}
}

// CreateSale creates an upcoming sale for a catalog product. A sale whose
// window has already opened is activated straight away.
func (s *SaleServiceImpl) CreateSale(ctx context.Context, in interfaces.CreateSaleInput) (*models.Sale, error) {
	if in.TotalQuantity <= 0 {
		return nil, fmt.Errorf("%w: total quantity must be positive", models.ErrInvalidQuantity)
	}
	if in.MaxPerUser <= 0 {
		return nil, fmt.Errorf("%w: max per user must be positive", models.ErrInvalidQuantity)
	}
	if !in.StartTime.Before(in.EndTime) {
		return nil, models.ErrInvalidSchedule
	}

	product, err := s.catalog.GetProduct(ctx, in.ProductID)
	if err != nil {
		return nil, err
	}

	price, err := decimal.NewFromString(in.Price)
	if err != nil || !price.IsPositive() {
		return nil, fmt.Errorf("invalid sale price %q", in.Price)
	}

	now := s.clock.Now()
	sale := &models.Sale{
		ID:                newID(),
		ProductID:         product.ID,
		ProductName:       product.Name,
		Price:             price,
		OriginalPrice:     product.BasePrice,
		TotalQuantity:     in.TotalQuantity,
		RemainingQuantity: in.TotalQuantity,
		MaxPerUser:        in.MaxPerUser,
		StartTime:         in.StartTime.UTC(),
		EndTime:           in.EndTime.UTC(),
		Status:            models.SaleStatusUpcoming,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.db.CreateSale(ctx, sale); err != nil {
		return nil, fmt.Errorf("failed to create sale in database: %w", err)
	}

	// activation and the reconcile pass both initialise the ledger again
	if err := s.ledger.InitSale(ctx, sale.ID, sale.TotalQuantity); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("sale_id", sale.ID).Msg("Failed to initialize ledger for new sale")
	}

	log.Ctx(ctx).Info().
		Str("sale_id", sale.ID).
		Str("product_id", sale.ProductID).
		Int("total", sale.TotalQuantity).
		Time("start_time", sale.StartTime).
		Time("end_time", sale.EndTime).
		Msg("Created flash sale")

	if sale.InWindow(now) {
		if err := s.Activate(ctx, sale.ID); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("sale_id", sale.ID).Msg("Failed to activate sale on creation")
		} else {
			sale.Status = models.SaleStatusActive
		}
	}

	return sale, nil
}

func (s *SaleServiceImpl) GetSale(ctx context.Context, saleID string) (*models.Sale, error) {
	sale, err := s.db.GetSaleByID(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sale from database: %w", err)
	}
	if sale == nil {
		return nil, models.ErrSaleNotFound
	}
	return sale, nil
}

func (s *SaleServiceImpl) ListSales(ctx context.Context, statuses ...models.SaleStatus) ([]models.Sale, error) {
	return s.db.ListSales(ctx, statuses...)
}

// GetSaleStatus returns the sale together with live ledger figures. The
// sale row is reported alone while the ledger is unavailable.
func (s *SaleServiceImpl) GetSaleStatus(ctx context.Context, saleID string) (*models.Sale, *models.LedgerStats, error) {
	sale, err := s.GetSale(ctx, saleID)
	if err != nil {
		return nil, nil, err
	}

	stats, err := s.ledger.Stats(ctx, saleID)
	if err != nil {
		if !errors.Is(err, models.ErrLedgerNotInitialized) {
			log.Ctx(ctx).Warn().Err(err).Str("sale_id", saleID).Msg("Failed to get ledger stats, using database values")
		}
		return sale, nil, nil
	}
	sale.RemainingQuantity = stats.Remaining
	return sale, stats, nil
}

// Activate opens an upcoming sale for checkout
func (s *SaleServiceImpl) Activate(ctx context.Context, saleID string) error {
	sale, err := s.GetSale(ctx, saleID)
	if err != nil {
		return err
	}

	if err := s.ledger.InitSale(ctx, sale.ID, sale.TotalQuantity); err != nil {
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}

	return s.transition(ctx, saleID, []models.SaleStatus{models.SaleStatusUpcoming}, models.SaleStatusActive)
}

func (s *SaleServiceImpl) Pause(ctx context.Context, saleID string) error {
	return s.transition(ctx, saleID, []models.SaleStatus{models.SaleStatusActive}, models.SaleStatusPaused)
}

func (s *SaleServiceImpl) Resume(ctx context.Context, saleID string) error {
	return s.transition(ctx, saleID, []models.SaleStatus{models.SaleStatusPaused}, models.SaleStatusActive)
}

// EmergencyStop cancels the sale and every order still holding stock. It
// returns the number of cancelled orders.
func (s *SaleServiceImpl) EmergencyStop(ctx context.Context, saleID string) (int, error) {
	from := []models.SaleStatus{models.SaleStatusUpcoming, models.SaleStatusActive, models.SaleStatusPaused}
	if err := s.transition(ctx, saleID, from, models.SaleStatusCancelled); err != nil {
		return 0, err
	}

	cancelled, err := s.checkout.CancelOpenOrders(ctx, saleID, reasonSaleStopped)
	if err != nil {
		return cancelled, fmt.Errorf("sale stopped but cancelling orders failed: %w", err)
	}

	log.Ctx(ctx).Warn().Str("sale_id", saleID).Int("cancelled_orders", cancelled).Msg("Sale emergency stopped")
	return cancelled, nil
}

// AdjustInventory applies a signed delta to the sale's stock and records the
// new figures on the sale row.
func (s *SaleServiceImpl) AdjustInventory(ctx context.Context, saleID string, delta int) (*models.LedgerStats, error) {
	sale, err := s.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Status.IsTerminal() {
		return nil, models.ErrSaleNotActive
	}

	stats, err := s.ledger.Adjust(ctx, saleID, delta)
	if err != nil {
		return nil, err
	}

	if err := s.db.UpdateSaleInventory(ctx, saleID, stats.Total, stats.Remaining); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("sale_id", saleID).Msg("Failed to record adjusted inventory on sale")
	}
	return stats, nil
}

// Schedule moves the sale window. Finished sales cannot be rescheduled.
func (s *SaleServiceImpl) Schedule(ctx context.Context, saleID string, start, end time.Time) error {
	if !start.Before(end) {
		return models.ErrInvalidSchedule
	}

	sale, err := s.GetSale(ctx, saleID)
	if err != nil {
		return err
	}
	if sale.Status.IsTerminal() {
		return fmt.Errorf("%w: sale is %s", models.ErrInvalidSaleTransition, sale.Status)
	}

	if err := s.db.UpdateSaleSchedule(ctx, saleID, start.UTC(), end.UTC()); err != nil {
		return fmt.Errorf("failed to update sale schedule: %w", err)
	}

	log.Ctx(ctx).Info().Str("sale_id", saleID).Time("start_time", start).Time("end_time", end).Msg("Sale rescheduled")
	return nil
}

// AdvanceLifecycle opens upcoming sales whose window has started and closes
// sales whose window has ended. It returns the number of sales moved.
func (s *SaleServiceImpl) AdvanceLifecycle(ctx context.Context) (int, error) {
	sales, err := s.db.ListSales(ctx, models.SaleStatusUpcoming, models.SaleStatusActive, models.SaleStatusPaused)
	if err != nil {
		return 0, fmt.Errorf("failed to list sales: %w", err)
	}

	now := s.clock.Now()
	moved := 0
	var errs []error

	for _, sale := range sales {
		var err error
		switch {
		case !now.Before(sale.EndTime):
			err = s.transition(ctx, sale.ID, []models.SaleStatus{sale.Status}, models.SaleStatusCompleted)
		case sale.Status == models.SaleStatusUpcoming && !now.Before(sale.StartTime):
			err = s.Activate(ctx, sale.ID)
		default:
			continue
		}

		if err != nil {
			errs = append(errs, fmt.Errorf("sale %s: %w", sale.ID, err))
			continue
		}
		moved++
	}

	return moved, errors.Join(errs...)
}

func (s *SaleServiceImpl) transition(ctx context.Context, saleID string, from []models.SaleStatus, to models.SaleStatus) error {
	ok, err := s.db.UpdateSaleStatus(ctx, saleID, from, to)
	if err != nil {
		return fmt.Errorf("failed to update sale status: %w", err)
	}
	if !ok {
		sale, err := s.GetSale(ctx, saleID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s to %s", models.ErrInvalidSaleTransition, sale.Status, to)
	}

	log.Ctx(ctx).Info().Str("sale_id", saleID).Str("status", string(to)).Msg("Sale status changed")
	return nil
}
