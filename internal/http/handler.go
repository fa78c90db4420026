package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/getachewzemene/minalesh-amplify-sub009/internal/domain"
	"github.com/getachewzemene/minalesh-amplify-sub009/internal/service"
	"github.com/getachewzemene/minalesh-amplify-sub009/internal/store"
)

// ReservationAPI is the slice of the lifecycle manager the handler needs.
type ReservationAPI interface {
	Reserve(ctx context.Context, key domain.StockKey, qty int32, holder domain.Holder) (*domain.Reservation, int32, error)
	Release(ctx context.Context, reservationID string) (*domain.Reservation, error)
	Consume(ctx context.Context, reservationID string) (*domain.Reservation, error)
	GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error)
	GetAvailableStock(ctx context.Context, key domain.StockKey) (int32, error)
	SetStock(ctx context.Context, key domain.StockKey, quantity int32) error
}

// CleanupRunner is implemented by the sweeper.
type CleanupRunner interface {
	Run(ctx context.Context) (int, error)
}

type ReservationHandler struct {
	service ReservationAPI
	sweeper CleanupRunner
	logger  *zap.Logger
}

func NewReservationHandler(svc ReservationAPI, sw CleanupRunner, logger *zap.Logger) *ReservationHandler {
	return &ReservationHandler{
		service: svc,
		sweeper: sw,
		logger:  logger,
	}
}

// Routes mounts the reservation API. The cleanup endpoint sits outside
// /api/v1 and is gated by the operator shared secret.
func (h *ReservationHandler) Routes(cleanupSecret string) chi.Router {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", h.Reserve)
			r.Get("/{id}", h.GetReservation)
			r.Delete("/{id}", h.Release)
			r.Post("/{id}/consume", h.Consume)
		})
		r.Route("/stock/{productID}", func(r chi.Router) {
			r.Get("/availability", h.GetAvailability)
			r.With(SharedSecretMiddleware(cleanupSecret)).Put("/", h.SetStock)
		})
	})
	r.With(SharedSecretMiddleware(cleanupSecret)).Post("/internal/cleanup", h.Cleanup)
	return r
}

type ReserveRequestDTO struct {
	ProductID int64  `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int32  `json:"quantity"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type ReserveResponseDTO struct {
	ReservationID  string `json:"reservation_id"`
	ExpiresAt      string `json:"expires_at"`
	AvailableStock int32  `json:"available_stock"`
}

type ReservationDTO struct {
	ID         string `json:"id"`
	ProductID  int64  `json:"product_id"`
	VariantID  string `json:"variant_id,omitempty"`
	Quantity   int32  `json:"quantity"`
	HolderKind string `json:"holder_kind"`
	HolderID   string `json:"holder_id"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	ExpiresAt  string `json:"expires_at"`
}

type AvailabilityResponseDTO struct {
	ProductID      int64  `json:"product_id"`
	VariantID      string `json:"variant_id,omitempty"`
	AvailableStock int32  `json:"available_stock"`
}

type SetStockRequestDTO struct {
	VariantID      string `json:"variant_id,omitempty"`
	QuantityOnHand int32  `json:"quantity_on_hand"`
}

type CleanupResponseDTO struct {
	CleanedCount int `json:"cleaned_count"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// POST /api/v1/reservations
func (h *ReservationHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product", "product_id must be greater than 0")
		return
	}

	holder, ok := resolveHolder(req.UserID, req.SessionID)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_holder",
			"exactly one of user_id or session_id is required")
		return
	}

	key := domain.StockKey{ProductID: req.ProductID, VariantID: req.VariantID}
	reservation, available, err := h.service.Reserve(r.Context(), key, req.Quantity, holder)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, ReserveResponseDTO{
		ReservationID:  reservation.ID,
		ExpiresAt:      reservation.ExpiresAt.Format(time.RFC3339),
		AvailableStock: available,
	})
}

// DELETE /api/v1/reservations/{id}
func (h *ReservationHandler) Release(w http.ResponseWriter, r *http.Request) {
	reservation, err := h.service.Release(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toReservationDTO(reservation))
}

// POST /api/v1/reservations/{id}/consume
func (h *ReservationHandler) Consume(w http.ResponseWriter, r *http.Request) {
	reservation, err := h.service.Consume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toReservationDTO(reservation))
}

// GET /api/v1/reservations/{id}
func (h *ReservationHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	reservation, err := h.service.GetReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toReservationDTO(reservation))
}

// GET /api/v1/stock/{productID}/availability?variant_id=...
func (h *ReservationHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product", "productID must be a positive integer")
		return
	}

	key := domain.StockKey{ProductID: productID, VariantID: r.URL.Query().Get("variant_id")}
	available, err := h.service.GetAvailableStock(r.Context(), key)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, AvailabilityResponseDTO{
		ProductID:      key.ProductID,
		VariantID:      key.VariantID,
		AvailableStock: available,
	})
}

// PUT /api/v1/stock/{productID}
func (h *ReservationHandler) SetStock(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product", "productID must be a positive integer")
		return
	}

	var req SetStockRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	key := domain.StockKey{ProductID: productID, VariantID: req.VariantID}
	if err := h.service.SetStock(r.Context(), key, req.QuantityOnHand); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// POST /internal/cleanup
func (h *ReservationHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	count, err := h.sweeper.Run(r.Context())
	if err != nil {
		h.logger.Error("cleanup run failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "cleanup_failed", "cleanup run failed")
		return
	}
	respondJSON(w, http.StatusOK, CleanupResponseDTO{CleanedCount: count})
}

// resolveHolder enforces the either/or holder identity: exactly one of
// user_id or session_id.
func resolveHolder(userID, sessionID string) (domain.Holder, bool) {
	switch {
	case userID != "" && sessionID == "":
		return domain.UserHolder(userID), true
	case sessionID != "" && userID == "":
		return domain.SessionHolder(sessionID), true
	default:
		return domain.Holder{}, false
	}
}

func toReservationDTO(r *domain.Reservation) ReservationDTO {
	return ReservationDTO{
		ID:         r.ID,
		ProductID:  r.ProductID,
		VariantID:  r.VariantID,
		Quantity:   r.Quantity,
		HolderKind: string(r.Holder.Kind),
		HolderID:   r.Holder.ID,
		Status:     string(r.Status),
		CreatedAt:  r.CreatedAt.Format(time.RFC3339),
		ExpiresAt:  r.ExpiresAt.Format(time.RFC3339),
	}
}

func (h *ReservationHandler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, domain.ErrInvalidHolder):
		respondError(w, http.StatusBadRequest, "invalid_holder", err.Error())
	case errors.Is(err, store.ErrNegativeStock):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, store.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", "product not found")
	case errors.Is(err, store.ErrReservationNotFound):
		respondError(w, http.StatusNotFound, "reservation_not_found", "reservation not found")
	case errors.Is(err, store.ErrInsufficientStock):
		// expected business outcome: UIs offer to reduce quantity
		respondError(w, http.StatusConflict, "insufficient_stock", "not enough stock available")
	case errors.Is(err, store.ErrAlreadyTerminal):
		respondError(w, http.StatusConflict, "already_terminal", "reservation is already in a terminal state")
	case errors.Is(err, store.ErrInsufficientOnHand):
		respondError(w, http.StatusConflict, "stock_conflict", "on-hand stock is below the reserved quantity")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, "try_again", "operation timed out, retry with backoff")
	default:
		h.logger.Error("unhandled service error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// headers already sent, nothing left to do
		return
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
