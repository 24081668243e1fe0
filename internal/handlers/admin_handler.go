package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/interfaces"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

// AdminHandler exposes sale lifecycle controls. Authorization happens upstream.
type AdminHandler struct {
	sales interfaces.SaleService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(sales interfaces.SaleService) *AdminHandler {
	return &AdminHandler{sales: sales}
}

// CreateSaleRequest represents the create sale request structure
type CreateSaleRequest struct {
	ProductID     string    `json:"product_id"`
	Price         string    `json:"price"`
	TotalQuantity int       `json:"total_quantity"`
	MaxPerUser    int       `json:"max_per_user"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
}

// AdjustInventoryRequest carries a signed stock delta
type AdjustInventoryRequest struct {
	Delta int `json:"delta"`
}

// ScheduleRequest moves a sale window
type ScheduleRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// SaleStatusResponse pairs a sale with its live inventory figures
type SaleStatusResponse struct {
	Sale      *models.Sale        `json:"sale"`
	Inventory *models.LedgerStats `json:"inventory,omitempty"`
}

// HandleCreateSale processes POST /api/admin/sales
func (ah *AdminHandler) HandleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateCreateSale(&req); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	sale, err := ah.sales.CreateSale(r.Context(), interfaces.CreateSaleInput{
		ProductID:     req.ProductID,
		Price:         req.Price,
		TotalQuantity: req.TotalQuantity,
		MaxPerUser:    req.MaxPerUser,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
	})
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, sale, "Sale created")
}

func validateCreateSale(req *CreateSaleRequest) error {
	if req.ProductID == "" {
		return fmt.Errorf("product_id is required")
	}
	if req.Price == "" {
		return fmt.Errorf("price is required")
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		return fmt.Errorf("start_time and end_time are required")
	}
	if req.MaxPerUser == 0 {
		req.MaxPerUser = 1
	}
	return nil
}

// HandleListSales processes GET /api/admin/sales?status=
func (ah *AdminHandler) HandleListSales(w http.ResponseWriter, r *http.Request) {
	var statuses []models.SaleStatus
	for _, s := range r.URL.Query()["status"] {
		statuses = append(statuses, models.SaleStatus(s))
	}

	sales, err := ah.sales.ListSales(r.Context(), statuses...)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, sales, "")
}

// HandleGetSale processes GET /api/admin/sales/{saleId}
func (ah *AdminHandler) HandleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, stats, err := ah.sales.GetSaleStatus(r.Context(), pathVar(r, "saleId"))
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, SaleStatusResponse{Sale: sale, Inventory: stats}, "")
}

// HandleAction processes POST /api/admin/sales/{saleId}/{action}
func (ah *AdminHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	saleID := pathVar(r, "saleId")
	action := pathVar(r, "action")
	ctx := r.Context()

	var err error
	var data interface{}
	switch action {
	case "activate":
		err = ah.sales.Activate(ctx, saleID)
	case "pause":
		err = ah.sales.Pause(ctx, saleID)
	case "resume":
		err = ah.sales.Resume(ctx, saleID)
	case "stop":
		var cancelled int
		cancelled, err = ah.sales.EmergencyStop(ctx, saleID)
		data = map[string]int{"cancelled_orders": cancelled}
	default:
		sendErrorResponse(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", action))
		return
	}
	if err != nil {
		sendServiceError(w, r, err)
		return
	}

	log.Ctx(ctx).Info().Str("sale_id", saleID).Str("action", action).Msg("Admin action applied")
	sendJSON(w, http.StatusOK, data, "Sale "+action+" applied")
}

// HandleAdjustInventory processes POST /api/admin/sales/{saleId}/inventory
func (ah *AdminHandler) HandleAdjustInventory(w http.ResponseWriter, r *http.Request) {
	var req AdjustInventoryRequest
	if err := decodeJSON(r, &req); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Delta == 0 {
		sendErrorResponse(w, http.StatusBadRequest, "delta must not be zero")
		return
	}

	stats, err := ah.sales.AdjustInventory(r.Context(), pathVar(r, "saleId"), req.Delta)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, stats, "Inventory adjusted")
}

// HandleSchedule processes POST /api/admin/sales/{saleId}/schedule
func (ah *AdminHandler) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		sendErrorResponse(w, http.StatusBadRequest, "start_time and end_time are required")
		return
	}

	if err := ah.sales.Schedule(r.Context(), pathVar(r, "saleId"), req.StartTime, req.EndTime); err != nil {
		sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, nil, "Sale rescheduled")
}
