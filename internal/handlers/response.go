package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

const (
	userIDHeader      = "X-User-ID"
	maxUserIDLength   = 100
	retryAfterSeconds = "1"
)

// APIResponse is the envelope of every JSON response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func sendJSON(w http.ResponseWriter, statusCode int, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// sendErrorResponse sends a standardized error response
func sendErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}

// sendServiceError maps a service error to its HTTP status. Transient store
// failures ask the client to retry; unknown errors are logged and hidden.
func sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if models.IsTransient(err) {
		log.Ctx(r.Context()).Warn().Err(err).Msg("Transient store failure")
		w.Header().Set("Retry-After", retryAfterSeconds)
		sendErrorResponse(w, http.StatusServiceUnavailable, "Service temporarily unavailable, please retry")
		return
	}

	status := statusForError(err)
	if status == http.StatusInternalServerError {
		log.Ctx(r.Context()).Error().Err(err).Msg("Request failed")
		sendErrorResponse(w, status, "Unable to process request at this time")
		return
	}
	sendErrorResponse(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrSaleNotFound),
		errors.Is(err, models.ErrOrderNotFound),
		errors.Is(err, models.ErrProductNotFound),
		errors.Is(err, models.ErrReservationNotFound),
		errors.Is(err, models.ErrNotInQueue):
		return http.StatusNotFound

	case errors.Is(err, models.ErrOutOfStock),
		errors.Is(err, models.ErrDuplicatePendingOrder),
		errors.Is(err, models.ErrPurchaseLimitExceeded),
		errors.Is(err, models.ErrInvalidStateTransition),
		errors.Is(err, models.ErrInvalidSaleTransition),
		errors.Is(err, models.ErrSaleNotActive):
		return http.StatusConflict

	case errors.Is(err, models.ErrNotAdmitted):
		return http.StatusForbidden

	case errors.Is(err, models.ErrInvalidQuantity),
		errors.Is(err, models.ErrInvalidAdjustment),
		errors.Is(err, models.ErrInvalidSchedule),
		errors.Is(err, models.ErrProductMismatch):
		return http.StatusBadRequest

	case errors.Is(err, models.ErrLedgerNotInitialized):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// userID returns the caller identity set by the upstream authenticator
func userID(r *http.Request) (string, error) {
	id := r.Header.Get(userIDHeader)
	if id == "" {
		return "", fmt.Errorf("%s header is required", userIDHeader)
	}
	if len(id) > maxUserIDLength {
		return "", fmt.Errorf("user id must be between 1 and %d characters", maxUserIDLength)
	}
	return id, nil
}

// decodeJSON reads the request body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("Invalid JSON format")
	}
	return nil
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}
