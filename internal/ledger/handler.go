package ledger

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/forgeline-erp/forgeline-erp/internal/shared"
	"github.com/forgeline-erp/forgeline-erp/internal/view"
)

// Handler wires the JSON endpoints of the ledger core. Rendering, sessions
// and authentication belong to the excluded UI layer; this surface only
// translates HTTP to coordinator calls.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	money     view.MoneyFormatter
	rateLimit func(http.Handler) http.Handler
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service, money view.MoneyFormatter) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
		money:     money,
		rateLimit: httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/payments", h.handleRecordPayment)
	r.Post("/returns", h.handleProcessReturn)
	r.Post("/production/{id}/complete", h.handleCompleteProduction)
	r.Post("/invoices", h.handleIssueInvoice)
	r.Get("/invoices/{id}", h.handleGetInvoice)
	r.Get("/purchase-orders/{id}", h.handleGetPurchaseOrder)
	r.Get("/inventory/{product}", h.handleGetInventory)
	r.Get("/history/{product}", h.handleGetHistory)
	r.Group(func(r chi.Router) {
		r.Use(h.rateLimit)
		r.Get("/history/{product}/export.csv", h.handleExportHistory)
	})
}

type paymentRequest struct {
	TargetType  string `json:"target_type" validate:"required,oneof=INVOICE PURCHASE_ORDER"`
	TargetID    string `json:"target_id" validate:"required"`
	Amount      string `json:"amount" validate:"required"`
	OperationID string `json:"operation_id" validate:"required"`
}

type lineItemRequest struct {
	Product   string `json:"product" validate:"required"`
	Quantity  string `json:"quantity" validate:"required"`
	UnitPrice string `json:"unit_price" validate:"required"`
}

type returnRequest struct {
	InvoiceID   string            `json:"invoice_id" validate:"required"`
	Items       []lineItemRequest `json:"items" validate:"required,min=1,dive"`
	Reason      string            `json:"reason"`
	OperationID string            `json:"operation_id" validate:"required"`
}

type completeProductionRequest struct {
	OperationID string `json:"operation_id" validate:"required"`
}

type invoiceRequest struct {
	ID              string            `json:"id" validate:"required"`
	Customer        string            `json:"customer" validate:"required"`
	Distributor     string            `json:"distributor"`
	DistributorTier string            `json:"distributor_tier"`
	Items           []lineItemRequest `json:"items" validate:"required,min=1,dive"`
	DueAt           string            `json:"due_at"`
	OperationID     string            `json:"operation_id" validate:"required"`
}

func (h *Handler) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.respondError(w, ErrInvalidAmount)
		return
	}
	result, err := h.service.RecordPayment(r.Context(), PaymentInput{
		Target:      PaymentTarget(req.TargetType),
		TargetID:    req.TargetID,
		Amount:      amount,
		OperationID: req.OperationID,
	})
	if err != nil {
		h.logger.Warn("record payment rejected", slog.String("target", req.TargetID), slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, map[string]any{
		"invoice":        result.Invoice,
		"purchase_order": result.PurchaseOrder,
		"entry":          result.Entry,
		"duplicate":      result.Duplicate,
	})
}

func (h *Handler) handleProcessReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if !h.decode(w, r, &req) {
		return
	}
	items, err := parseItems(req.Items)
	if err != nil {
		h.respondError(w, err)
		return
	}
	result, err := h.service.ProcessReturn(r.Context(), ReturnInput{
		InvoiceID:   req.InvoiceID,
		Items:       items,
		Reason:      req.Reason,
		OperationID: req.OperationID,
	})
	if err != nil {
		h.logger.Warn("process return rejected", slog.String("invoice", req.InvoiceID), slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, map[string]any{
		"invoice":   result.Invoice,
		"return":    result.Return,
		"duplicate": result.Duplicate,
	})
}

func (h *Handler) handleCompleteProduction(w http.ResponseWriter, r *http.Request) {
	var req completeProductionRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.CompleteProduction(r.Context(), CompleteProductionInput{
		OrderID:     chi.URLParam(r, "id"),
		OperationID: req.OperationID,
	})
	if err != nil {
		h.logger.Warn("complete production rejected", slog.String("order", chi.URLParam(r, "id")), slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *Handler) handleIssueInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	items, err := parseItems(req.Items)
	if err != nil {
		h.respondError(w, err)
		return
	}
	var dueAt time.Time
	if req.DueAt != "" {
		dueAt, err = time.Parse("2006-01-02", req.DueAt)
		if err != nil {
			http.Error(w, "invalid due_at", http.StatusBadRequest)
			return
		}
	}
	inv, err := h.service.IssueInvoice(r.Context(), InvoiceInput{
		ID:              req.ID,
		Customer:        req.Customer,
		Distributor:     req.Distributor,
		DistributorTier: req.DistributorTier,
		Items:           items,
		DueAt:           dueAt,
		OperationID:     req.OperationID,
	})
	if err != nil {
		h.logger.Warn("issue invoice rejected", slog.String("invoice", req.ID), slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, inv)
}

func (h *Handler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, inv)
}

func (h *Handler) handleGetPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	po, err := h.service.GetPurchaseOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, po)
}

func (h *Handler) handleGetInventory(w http.ResponseWriter, r *http.Request) {
	product := chi.URLParam(r, "product")
	level, err := h.service.GetInventory(r.Context(), product)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"product": product, "quantity": level})
}

func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	product := chi.URLParam(r, "product")
	entries, err := h.service.GetHistory(r.Context(), product)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"product": product, "entries": entries})
}

func (h *Handler) handleExportHistory(w http.ResponseWriter, r *http.Request) {
	product := chi.URLParam(r, "product")
	entries, err := h.service.GetHistory(r.Context(), product)
	if err != nil {
		h.respondError(w, err)
		return
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	_ = writer.Write([]string{"Kind", "Record", "Quantity", "Unit Price", "Occurred At"})
	for _, entry := range entries {
		_ = writer.Write([]string{
			string(entry.Kind),
			entry.RecordID,
			entry.Quantity.String(),
			h.money.Format(entry.UnitPrice),
			entry.OccurredAt.Format(time.RFC3339),
		})
	}
	writer.Flush()
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=ledger_history.csv")
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func parseItems(items []lineItemRequest) ([]LineItem, error) {
	parsed := make([]LineItem, 0, len(items))
	for _, item := range items {
		qty, err := decimal.NewFromString(item.Quantity)
		if err != nil {
			return nil, ErrInvalidAmount
		}
		price, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			return nil, ErrInvalidAmount
		}
		parsed = append(parsed, LineItem{Product: item.Product, Quantity: qty, UnitPrice: price})
	}
	return parsed, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// ErrorKind names the failure class for the UI layer, which is expected to
// surface the kind plus a human-readable message.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "INVALID_AMOUNT"
	case errors.Is(err, ErrOverpayment):
		return "OVERPAYMENT"
	case errors.Is(err, ErrInsufficientInventory):
		return "INSUFFICIENT_INVENTORY"
	case errors.Is(err, ErrReturnExceedsInvoice):
		return "RETURN_EXCEEDS_INVOICE"
	case errors.Is(err, ErrConcurrencyExhausted):
		return "CONCURRENCY_EXHAUSTED"
	case errors.Is(err, ErrRecordCancelled):
		return "RECORD_CANCELLED"
	case errors.Is(err, ErrAlreadyCompleted):
		return "ALREADY_COMPLETED"
	case errors.Is(err, shared.ErrNotFound):
		return "NOT_FOUND"
	default:
		return "INTERNAL"
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	kind := ErrorKind(err)
	status := http.StatusConflict
	switch kind {
	case "NOT_FOUND":
		status = http.StatusNotFound
	case "INVALID_AMOUNT":
		status = http.StatusBadRequest
	case "CONCURRENCY_EXHAUSTED":
		status = http.StatusServiceUnavailable
	case "INTERNAL":
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, map[string]string{"error": kind, "message": err.Error()})
}
