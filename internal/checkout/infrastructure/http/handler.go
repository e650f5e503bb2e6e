package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/marketsys/checkout-core/internal/checkout/application"
	"github.com/marketsys/checkout-core/internal/checkout/domain"
	"github.com/marketsys/checkout-core/internal/checkout/infrastructure/postgres"
)

// Handler is the order service's entry point into the saga: submit a
// checkout, inspect it, or abort it.
type Handler struct {
	log    *slog.Logger
	orch   *application.Orchestrator
	tracer trace.Tracer
}

func NewHandler(log *slog.Logger, orch *application.Orchestrator) *Handler {
	return &Handler{
		log:    log,
		orch:   orch,
		tracer: otel.Tracer("checkout-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/checkouts", h.start)
	r.Get("/checkouts/{correlationID}", h.get)
	r.Post("/checkouts/{correlationID}/cancel", h.cancel)
	return r
}

type startReq struct {
	OrderID     string            `json:"order_id"`
	UserID      string            `json:"user_id"`
	CartID      string            `json:"cart_id"`
	AmountCents int64             `json:"amount_cents"`
	Items       []domain.CartItem `json:"items"`
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "StartCheckout")
	defer span.End()

	var req startReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	c, err := h.orch.Start(ctx, req.OrderID, req.UserID, req.CartID, req.AmountCents, req.Items)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, checkoutResponse(c))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetCheckout")
	defer span.End()

	c, err := h.orch.Get(ctx, chi.URLParam(r, "correlationID"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, postgres.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse(c))
}

type cancelReq struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelCheckout")
	defer span.End()

	var req cancelReq
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := h.orch.Cancel(ctx, chi.URLParam(r, "correlationID"), req.Reason); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, application.ErrUnknownCheckout) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func checkoutResponse(c *domain.Checkout) map[string]any {
	resp := map[string]any{
		"correlation_id": c.CorrelationID,
		"order_id":       c.OrderID,
		"state":          string(c.State),
		"started_at":     c.StartedAt,
	}
	if c.ReservationID != "" {
		resp["reservation_id"] = c.ReservationID
	}
	if c.TransactionID != "" {
		resp["transaction_id"] = c.TransactionID
	}
	if c.ErrorMessage != "" {
		resp["error_message"] = c.ErrorMessage
	}
	if c.CompletedAt != nil {
		resp["completed_at"] = c.CompletedAt
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
