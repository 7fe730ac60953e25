package commission

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Handler exposes commission resolution over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the commission handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers commission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/resolve", h.handleResolve)
}

type resolveRequest struct {
	Product         string `json:"product" validate:"required"`
	Quantity        string `json:"quantity" validate:"required"`
	UnitPrice       string `json:"unit_price" validate:"required"`
	Distributor     string `json:"distributor"`
	DistributorTier string `json:"distributor_tier"`
}

type resolveResponse struct {
	Amount   string `json:"amount"`
	RuleID   string `json:"rule_id,omitempty"`
	RuleName string `json:"rule_name,omitempty"`
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		http.Error(w, "invalid quantity", http.StatusBadRequest)
		return
	}
	price, err := decimal.NewFromString(req.UnitPrice)
	if err != nil {
		http.Error(w, "invalid unit_price", http.StatusBadRequest)
		return
	}

	result, err := h.service.Resolve(r.Context(), Sale{
		Product:         req.Product,
		Quantity:        qty,
		UnitPrice:       price,
		Distributor:     req.Distributor,
		DistributorTier: req.DistributorTier,
	})
	if err != nil {
		h.logger.Error("resolve commission", slog.String("product", req.Product), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := resolveResponse{Amount: result.Amount.String()}
	if result.Rule != nil {
		resp.RuleID = result.Rule.ID
		resp.RuleName = result.Rule.Name
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
