package ledger

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/forgeline-erp/forgeline-erp/internal/view"
)

func newTestRouter(t *testing.T) (*chi.Mux, *memoryRepo) {
	t.Helper()
	svc, repo, _, _ := newTestService(t)
	money, err := view.NewMoneyFormatter("USD")
	require.NoError(t, err)
	handler := NewHandler(slog.Default(), svc, money)
	router := chi.NewRouter()
	router.Route("/api/ledger", handler.MountRoutes)
	return router, repo
}

func TestHandlerRecordPayment(t *testing.T) {
	router, repo := newTestRouter(t)
	seedInvoice(repo, testInvoice(1000))

	body := `{"target_type":"INVOICE","target_id":"INV-010","amount":"400","operation_id":"op-http-1"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ledger/payments", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var payload struct {
		Duplicate bool `json:"duplicate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.False(t, payload.Duplicate)

	// Replaying the same operation id reports a duplicate with 200.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ledger/payments", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.True(t, payload.Duplicate)
}

func TestHandlerRecordPaymentErrors(t *testing.T) {
	router, repo := newTestRouter(t)
	seedInvoice(repo, testInvoice(1000))

	cases := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{
			name:   "overpayment",
			body:   `{"target_type":"INVOICE","target_id":"INV-010","amount":"1200","operation_id":"op-http-over"}`,
			status: http.StatusConflict,
			kind:   "OVERPAYMENT",
		},
		{
			name:   "invalid amount",
			body:   `{"target_type":"INVOICE","target_id":"INV-010","amount":"-5","operation_id":"op-http-neg"}`,
			status: http.StatusBadRequest,
			kind:   "INVALID_AMOUNT",
		},
		{
			name:   "unknown target",
			body:   `{"target_type":"INVOICE","target_id":"INV-404","amount":"10","operation_id":"op-http-404"}`,
			status: http.StatusNotFound,
			kind:   "NOT_FOUND",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ledger/payments", strings.NewReader(tc.body)))
			require.Equal(t, tc.status, rec.Code)
			var payload struct {
				Error string `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
			require.Equal(t, tc.kind, payload.Error)
		})
	}
}

func TestHandlerRejectsMalformedBody(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ledger/payments", strings.NewReader("{not json")))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing operation_id fails validation.
	body := `{"target_type":"INVOICE","target_id":"INV-010","amount":"10"}`
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ledger/payments", strings.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerInventoryAndHistory(t *testing.T) {
	router, repo := newTestRouter(t)
	repo.productionOrders["PRD-010"] = ProductionOrder{
		ID: "PRD-010", Product: "Widget", Quantity: d(40),
		Status: ProductionStatusCompleted, Version: 2,
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ledger/inventory/Widget", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var inventory struct {
		Product  string `json:"product"`
		Quantity string `json:"quantity"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inventory))
	require.Equal(t, "Widget", inventory.Product)
	require.Equal(t, "40", inventory.Quantity)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ledger/history/Widget/export.csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "PRD-010")
}
