package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/ecommerce-orders/internal/order-service/adapters/mappers"
	"github.com/jcmexdev/ecommerce-orders/internal/order-service/core/ports"
	"github.com/jcmexdev/ecommerce-orders/internal/order-service/domain"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/cache"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/interceptors/constants"
)

const createOrderOperation = "create-order"

// Handler serves the order endpoints.
type Handler struct {
	orderService   ports.OrderService
	idempotency    cache.Cache // nil-safe: idempotency keys are ignored if nil
	idempotencyTTL time.Duration
}

// NewHandler wires the handler. idem may be nil.
func NewHandler(os ports.OrderService, idem cache.Cache, idempotencyTTL time.Duration) *Handler {
	return &Handler{
		orderService:   os,
		idempotency:    idem,
		idempotencyTTL: idempotencyTTL,
	}
}

// CreateOrder places an order. With an idempotency key, a repeated request
// returns the order created by the first one.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	idempKey, _ := r.Context().Value(constants.ContextKeyIdempotencyKey).(string)
	requestID, _ := r.Context().Value(constants.ContextKeyRequestID).(string)

	if rec, ok := h.replay(r.Context(), idempKey); ok {
		slog.InfoContext(r.Context(), "replaying idempotent create",
			"request_id", requestID, "order_id", rec.ID)
		writeJSON(w, http.StatusOK, rec)
		return
	}

	order, err := h.orderService.PlaceOrder(r.Context(), req.CustomerID, req.ProductID, req.Quantity)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	rec := mappers.OrderToRecord(order)
	h.remember(r.Context(), idempKey, rec)
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orderService.ListOrders(r.Context())
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, mappers.OrdersToRecords(orders))
}

func (h *Handler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderService.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, mappers.OrderToRecord(order))
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	order, err := h.orderService.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, mappers.OrderToRecord(order))
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orderService.DeleteOrder(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// replay looks up a previous response for key. Cache failures count as a miss.
func (h *Handler) replay(ctx context.Context, key string) (mappers.OrderRecord, bool) {
	var rec mappers.OrderRecord
	if h.idempotency == nil || key == "" {
		return rec, false
	}
	cached, err := h.idempotency.Get(ctx, h.idempotency.GenerateKey(createOrderOperation, key))
	if err != nil {
		slog.WarnContext(ctx, "idempotency lookup failed", "error", err)
		return rec, false
	}
	if cached == "" {
		return rec, false
	}
	if err := json.Unmarshal([]byte(cached), &rec); err != nil {
		slog.WarnContext(ctx, "ignoring unreadable idempotency entry", "error", err)
		return rec, false
	}
	return rec, true
}

func (h *Handler) remember(ctx context.Context, key string, rec mappers.OrderRecord) {
	if h.idempotency == nil || key == "" {
		return
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	// The order is committed; a failed write only disables replay for this key.
	if err := h.idempotency.Set(ctx, h.idempotency.GenerateKey(createOrderOperation, key), string(b), h.idempotencyTTL); err != nil {
		slog.WarnContext(ctx, "idempotency store failed", "order_id", rec.ID, "error", err)
	}
}

// writeDomainError maps the domain taxonomy onto HTTP statuses. Unknown
// errors become a generic 500 so internals never leak.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	var stock *domain.InsufficientStockError
	switch {
	case errors.As(err, &stock):
		available := stock.Available
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:     "insufficient_stock",
			Message:   err.Error(),
			Available: &available,
		})
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "concurrency_conflict", err.Error())
	case errors.Is(err, domain.ErrUpstream):
		slog.ErrorContext(ctx, "upstream dependency failed", "error", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "a backing service is unavailable")
	default:
		slog.ErrorContext(ctx, "unhandled error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
