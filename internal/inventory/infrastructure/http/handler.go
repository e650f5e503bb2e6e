package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/marketsys/checkout-core/internal/inventory/application"
	"github.com/marketsys/checkout-core/internal/inventory/domain"
	"github.com/marketsys/checkout-core/internal/inventory/infrastructure/postgres"
)

// Handler exposes the ledger to the catalog/cart service layer: create SKUs,
// check availability, reserve and release stock synchronously.
type Handler struct {
	log     *slog.Logger
	service *application.Service
	repo    *postgres.Repository
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service, repo *postgres.Repository) *Handler {
	return &Handler{
		log:     log,
		service: service,
		repo:    repo,
		tracer:  otel.Tracer("inventory-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Put("/skus/{id}", h.upsertSKU)
	r.Get("/skus/{id}/availability", h.availability)
	r.Post("/skus/{id}/reservations", h.reserve)
	r.Delete("/reservations/{id}", h.release)
	r.Post("/reservations/{id}/extend", h.extend)
	return r
}

type upsertSKUReq struct {
	StockQuantity int `json:"stock_quantity"`
}

func (h *Handler) upsertSKU(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpsertSKU")
	defer span.End()

	var req upsertSKUReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.repo.CreateSKU(ctx, chi.URLParam(r, "id"), req.StockQuantity); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Availability")
	defer span.End()

	av, err := h.repo.Availability(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sku_id":    av.SKUID,
		"stock":     av.Stock,
		"reserved":  av.Reserved,
		"available": av.Available,
	})
}

type reserveReq struct {
	Quantity   int    `json:"quantity"`
	CartID     string `json:"cart_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	TTLMinutes int    `json:"ttl_minutes,omitempty"`
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ReserveStock")
	defer span.End()

	var req reserveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	claimant := domain.Claimant{CartID: req.CartID, SessionID: req.SessionID}
	ttl := time.Duration(req.TTLMinutes) * time.Minute

	res, err := h.service.Reserve(ctx, chi.URLParam(r, "id"), req.Quantity, claimant, ttl, "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"reservation_id": res.ID,
		"sku_id":         res.SKUID,
		"quantity":       res.Quantity,
		"expires_at":     res.ExpiresAt,
	})
}

type releaseReq struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ReleaseReservation")
	defer span.End()

	var req releaseReq
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := h.service.Release(ctx, chi.URLParam(r, "id"), req.Reason, ""); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type extendReq struct {
	Minutes int `json:"minutes"`
}

func (h *Handler) extend(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ExtendReservation")
	defer span.End()

	var req extendReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.service.Extend(ctx, chi.URLParam(r, "id"), req.Minutes); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	var insufficient *domain.InsufficientStockError
	var invalidOp *domain.InvalidOperationError
	var invalidArg *domain.InvalidArgumentError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &insufficient):
		status = http.StatusConflict
	case errors.As(err, &invalidOp):
		status = http.StatusConflict
	case errors.As(err, &invalidArg):
		status = http.StatusBadRequest
	case errors.Is(err, postgres.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
