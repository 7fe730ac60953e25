package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

// memoryRepo is a transactional in-memory store. WithTx serializes the whole
// commit under one lock, matching the all-or-nothing visibility the SQL
// repository gets from serializable transactions. Conditional updates still
// enforce the version check so the retry path stays honest.
type memoryRepo struct {
	mu               sync.Mutex
	invoices         map[string]SalesInvoice
	purchaseOrders   map[string]PurchaseOrder
	productionOrders map[string]ProductionOrder
	payments         []PaymentEntry
	returns          []SalesReturn

	// conflicts forces the next N commits to fail with a version conflict.
	conflicts int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		invoices:         make(map[string]SalesInvoice),
		purchaseOrders:   make(map[string]PurchaseOrder),
		productionOrders: make(map[string]ProductionOrder),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflicts > 0 {
		r.conflicts--
		return ErrVersionConflict
	}
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetInvoice(ctx context.Context, id string) (SalesInvoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getInvoice(id)
}

func (r *memoryRepo) GetPurchaseOrder(ctx context.Context, id string) (PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getPurchaseOrder(id)
}

func (r *memoryRepo) GetProductionOrder(ctx context.Context, id string) (ProductionOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getProductionOrder(id)
}

func (r *memoryRepo) ListInvoices(ctx context.Context) ([]SalesInvoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SalesInvoice, 0, len(r.invoices))
	for _, inv := range r.invoices {
		out = append(out, inv)
	}
	return out, nil
}

func (r *memoryRepo) ListPurchaseOrders(ctx context.Context) ([]PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PurchaseOrder, 0, len(r.purchaseOrders))
	for _, po := range r.purchaseOrders {
		out = append(out, po)
	}
	return out, nil
}

func (r *memoryRepo) ListPayments(ctx context.Context, target PaymentTarget, targetID string) ([]PaymentEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PaymentEntry
	for _, entry := range r.payments {
		if entry.Target == target && entry.TargetID == targetID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListProducts(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	for _, po := range r.productionOrders {
		seen[po.Product] = true
	}
	for _, inv := range r.invoices {
		for _, item := range inv.Items {
			seen[item.Product] = true
		}
	}
	out := make([]string, 0, len(seen))
	for product := range seen {
		out = append(out, product)
	}
	return out, nil
}

func (r *memoryRepo) ProductEvents(ctx context.Context, product string) ([]LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.productEvents(product), nil
}

func (r *memoryRepo) getInvoice(id string) (SalesInvoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return SalesInvoice{}, shared.ErrNotFound
	}
	return inv, nil
}

func (r *memoryRepo) getPurchaseOrder(id string) (PurchaseOrder, error) {
	po, ok := r.purchaseOrders[id]
	if !ok {
		return PurchaseOrder{}, shared.ErrNotFound
	}
	return po, nil
}

func (r *memoryRepo) getProductionOrder(id string) (ProductionOrder, error) {
	po, ok := r.productionOrders[id]
	if !ok {
		return ProductionOrder{}, shared.ErrNotFound
	}
	return po, nil
}

func (r *memoryRepo) productEvents(product string) []LedgerEntry {
	var out []LedgerEntry
	for _, po := range r.productionOrders {
		if po.Product == product && po.Status == ProductionStatusCompleted {
			out = append(out, LedgerEntry{Kind: EntryProduction, RecordID: po.ID, Product: po.Product, Quantity: po.Quantity, OccurredAt: po.CompletedAt})
		}
	}
	for _, inv := range r.invoices {
		if inv.Status == InvoiceStatusCancelled {
			continue
		}
		for _, item := range inv.Items {
			if item.Product == product {
				out = append(out, LedgerEntry{Kind: EntrySale, RecordID: inv.ID, Product: product, Quantity: item.Quantity, UnitPrice: item.UnitPrice, OccurredAt: inv.IssuedAt})
			}
		}
	}
	for _, ret := range r.returns {
		for _, item := range ret.Items {
			if item.Product == product {
				out = append(out, LedgerEntry{Kind: EntryReturn, RecordID: ret.ID, Product: product, Quantity: item.Quantity, UnitPrice: item.UnitPrice, OccurredAt: ret.CreatedAt})
			}
		}
	}
	return out
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) GetInvoice(ctx context.Context, id string) (SalesInvoice, error) {
	return t.repo.getInvoice(id)
}

func (t *memoryTx) GetPurchaseOrder(ctx context.Context, id string) (PurchaseOrder, error) {
	return t.repo.getPurchaseOrder(id)
}

func (t *memoryTx) GetProductionOrder(ctx context.Context, id string) (ProductionOrder, error) {
	return t.repo.getProductionOrder(id)
}

func (t *memoryTx) InsertInvoice(ctx context.Context, inv SalesInvoice) error {
	if _, exists := t.repo.invoices[inv.ID]; exists {
		return fmt.Errorf("ledger: invoice %s exists", inv.ID)
	}
	t.repo.invoices[inv.ID] = inv
	return nil
}

func (t *memoryTx) UpdateInvoice(ctx context.Context, inv SalesInvoice) error {
	cur, ok := t.repo.invoices[inv.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if cur.Version != inv.Version {
		return ErrVersionConflict
	}
	inv.Version++
	t.repo.invoices[inv.ID] = inv
	return nil
}

func (t *memoryTx) UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) error {
	cur, ok := t.repo.purchaseOrders[po.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if cur.Version != po.Version {
		return ErrVersionConflict
	}
	po.Version++
	t.repo.purchaseOrders[po.ID] = po
	return nil
}

func (t *memoryTx) UpdateProductionOrder(ctx context.Context, po ProductionOrder) error {
	cur, ok := t.repo.productionOrders[po.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if cur.Version != po.Version {
		return ErrVersionConflict
	}
	po.Version++
	t.repo.productionOrders[po.ID] = po
	return nil
}

func (t *memoryTx) InsertPayment(ctx context.Context, entry PaymentEntry) error {
	t.repo.payments = append(t.repo.payments, entry)
	return nil
}

func (t *memoryTx) InsertReturn(ctx context.Context, ret SalesReturn) error {
	t.repo.returns = append(t.repo.returns, ret)
	return nil
}

func (t *memoryTx) ProductEvents(ctx context.Context, product string) ([]LedgerEntry, error) {
	return t.repo.productEvents(product), nil
}

type memoryOps struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemoryOps() *memoryOps {
	return &memoryOps{seen: make(map[string]bool)}
}

func (o *memoryOps) CheckAndInsert(ctx context.Context, opID, kind string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seen[opID] {
		return shared.ErrDuplicateOperation
	}
	o.seen[opID] = true
	return nil
}

func (o *memoryOps) Release(ctx context.Context, opID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.seen, opID)
	return nil
}

func (o *memoryOps) claimed(opID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.seen[opID]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []CommitEvent
}

func (n *recordingNotifier) PublishCommit(ctx context.Context, event CommitEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) operations() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ops := make([]string, 0, len(n.events))
	for _, event := range n.events {
		ops = append(ops, event.Operation)
	}
	return ops
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *memoryOps, *recordingNotifier) {
	t.Helper()
	repo := newMemoryRepo()
	ops := newMemoryOps()
	notifier := &recordingNotifier{}
	svc := NewService(repo, ops, notifier, nil, slog.Default())
	return svc, repo, ops, notifier
}

func seedInvoice(repo *memoryRepo, inv SalesInvoice) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.invoices[inv.ID] = inv
}

func TestRecordPaymentAgainstInvoice(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, notifier := newTestService(t)
	seedInvoice(repo, testInvoice(1000))

	result, err := svc.RecordPayment(ctx, PaymentInput{
		Target:      TargetInvoice,
		TargetID:    "INV-010",
		Amount:      d(400),
		OperationID: "op-pay-1",
	})
	require.NoError(t, err)
	require.False(t, result.Duplicate)
	require.NotNil(t, result.Invoice)
	require.Equal(t, "600", result.Invoice.Due.String())
	require.Equal(t, InvoiceStatusPartiallyPaid, result.Invoice.Status)
	require.EqualValues(t, 2, result.Invoice.Version)

	entries, err := svc.GetPayments(ctx, TargetInvoice, "INV-010")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "400", entries[0].Amount.String())

	require.Equal(t, []string{OpRecordPayment}, notifier.operations())
}

func TestRecordPaymentOverpaymentLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	svc, repo, ops, _ := newTestService(t)
	seedInvoice(repo, testInvoice(1000))

	_, err := svc.RecordPayment(ctx, PaymentInput{
		Target:      TargetInvoice,
		TargetID:    "INV-010",
		Amount:      d(1200),
		OperationID: "op-pay-over",
	})
	require.ErrorIs(t, err, ErrOverpayment)

	inv, err := svc.GetInvoice(ctx, "INV-010")
	require.NoError(t, err)
	require.Equal(t, "1000", inv.Due.String())
	require.EqualValues(t, 1, inv.Version)

	entries, err := svc.GetPayments(ctx, TargetInvoice, "INV-010")
	require.NoError(t, err)
	require.Empty(t, entries)

	// The failed operation id is released so the client can retry with it.
	require.False(t, ops.claimed("op-pay-over"))
}

func TestRecordPaymentIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, _ := newTestService(t)
	seedInvoice(repo, testInvoice(1000))

	input := PaymentInput{Target: TargetInvoice, TargetID: "INV-010", Amount: d(400), OperationID: "op-pay-dup"}
	first, err := svc.RecordPayment(ctx, input)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := svc.RecordPayment(ctx, input)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.NotNil(t, second.Invoice)
	require.Equal(t, "600", second.Invoice.Due.String())

	entries, err := svc.GetPayments(ctx, TargetInvoice, "INV-010")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRecordPaymentAgainstPurchaseOrder(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, _ := newTestService(t)
	repo.purchaseOrders["PO-003"] = PurchaseOrder{
		ID: "PO-003", Supplier: "Steelworks", Amount: d(500), Due: d(500),
		Status: PurchaseStatusPending, Version: 1,
	}

	result, err := svc.RecordPayment(ctx, PaymentInput{
		Target:      TargetPurchaseOrder,
		TargetID:    "PO-003",
		Amount:      d(500),
		OperationID: "op-pay-po",
	})
	require.NoError(t, err)
	require.NotNil(t, result.PurchaseOrder)
	require.True(t, result.PurchaseOrder.Due.IsZero())
	require.Equal(t, PurchaseStatusCompleted, result.PurchaseOrder.Status)
}

func TestRecordPaymentConcurrent(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, _ := newTestService(t)
	seedInvoice(repo, testInvoice(1000))

	var eg errgroup.Group
	for i := 0; i < 10; i++ {
		opID := fmt.Sprintf("op-concurrent-%d", i)
		eg.Go(func() error {
			_, err := svc.RecordPayment(ctx, PaymentInput{
				Target:      TargetInvoice,
				TargetID:    "INV-010",
				Amount:      d(50),
				OperationID: opID,
			})
			return err
		})
	}
	require.NoError(t, eg.Wait())

	inv, err := svc.GetInvoice(ctx, "INV-010")
	require.NoError(t, err)
	require.Equal(t, "500", inv.Due.String())
	require.EqualValues(t, 11, inv.Version)

	entries, err := svc.GetPayments(ctx, TargetInvoice, "INV-010")
	require.NoError(t, err)
	require.Len(t, entries, 10)
}

func TestRecordPaymentRetriesTransientConflicts(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, _ := newTestService(t)
	seedInvoice(repo, testInvoice(1000))
	repo.conflicts = 2

	result, err := svc.RecordPayment(ctx, PaymentInput{
		Target:      TargetInvoice,
		TargetID:    "INV-010",
		Amount:      d(100),
		OperationID: "op-pay-retry",
	})
	require.NoError(t, err)
	require.Equal(t, "900", result.Invoice.Due.String())
}

func TestRecordPaymentConcurrencyExhausted(t *testing.T) {
	ctx := context.Background()
	svc, repo, ops, _ := newTestService(t)
	seedInvoice(repo, testInvoice(1000))
	repo.conflicts = 100

	_, err := svc.RecordPayment(ctx, PaymentInput{
		Target:      TargetInvoice,
		TargetID:    "INV-010",
		Amount:      d(100),
		OperationID: "op-pay-exhausted",
	})
	require.ErrorIs(t, err, ErrConcurrencyExhausted)
	require.False(t, ops.claimed("op-pay-exhausted"))
}

func TestWidgetProductionSaleReturnFlow(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, notifier := newTestService(t)
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := base
	svc.WithNow(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	})
	repo.productionOrders["PRD-001"] = ProductionOrder{
		ID: "PRD-001", Product: "Widget", Quantity: d(100),
		Status: ProductionStatusInProgress, Version: 1,
	}

	order, err := svc.CompleteProduction(ctx, CompleteProductionInput{OrderID: "PRD-001", OperationID: "op-prod-1"})
	require.NoError(t, err)
	require.Equal(t, ProductionStatusCompleted, order.Status)

	level, err := svc.GetInventory(ctx, "Widget")
	require.NoError(t, err)
	require.Equal(t, "100", level.String())

	inv, err := svc.IssueInvoice(ctx, InvoiceInput{
		ID:          "INV-100",
		Customer:    "Acme Fabrication",
		Items:       []LineItem{{Product: "Widget", Quantity: d(30), UnitPrice: d(25)}},
		DueAt:       base.AddDate(0, 1, 0),
		OperationID: "op-inv-1",
	})
	require.NoError(t, err)
	require.Equal(t, "750", inv.Total.String())
	require.Equal(t, "750", inv.Due.String())
	require.Equal(t, InvoiceStatusUnpaid, inv.Status)

	level, err = svc.GetInventory(ctx, "Widget")
	require.NoError(t, err)
	require.Equal(t, "70", level.String())

	result, err := svc.ProcessReturn(ctx, ReturnInput{
		InvoiceID:   "INV-100",
		Items:       []LineItem{{Product: "Widget", Quantity: d(10), UnitPrice: d(25)}},
		Reason:      "damaged in transit",
		OperationID: "op-ret-1",
	})
	require.NoError(t, err)
	require.Equal(t, "250", result.Return.TotalValue.String())
	require.Equal(t, "500", result.Invoice.Total.String())
	require.Equal(t, "500", result.Invoice.Due.String())

	level, err = svc.GetInventory(ctx, "Widget")
	require.NoError(t, err)
	require.Equal(t, "80", level.String())

	history, err := svc.GetHistory(ctx, "Widget")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, EntryReturn, history[0].Kind)
	require.Equal(t, EntrySale, history[1].Kind)
	require.Equal(t, EntryProduction, history[2].Kind)

	require.Equal(t, []string{OpCompleteProduction, OpIssueInvoice, OpProcessReturn}, notifier.operations())
}

func TestIssueInvoiceInsufficientInventory(t *testing.T) {
	ctx := context.Background()
	svc, repo, ops, _ := newTestService(t)
	repo.productionOrders["PRD-002"] = ProductionOrder{
		ID: "PRD-002", Product: "Widget", Quantity: d(20),
		Status: ProductionStatusCompleted, CompletedAt: time.Now(), Version: 2,
	}

	_, err := svc.IssueInvoice(ctx, InvoiceInput{
		ID:          "INV-200",
		Customer:    "Acme Fabrication",
		Items:       []LineItem{{Product: "Widget", Quantity: d(21), UnitPrice: d(25)}},
		OperationID: "op-inv-short",
	})
	require.ErrorIs(t, err, ErrInsufficientInventory)
	require.False(t, ops.claimed("op-inv-short"))

	_, err = svc.GetInvoice(ctx, "INV-200")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCompleteProductionTwice(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, _ := newTestService(t)
	repo.productionOrders["PRD-003"] = ProductionOrder{
		ID: "PRD-003", Product: "Gearbox", Quantity: d(5),
		Status: ProductionStatusPlanned, Version: 1,
	}

	_, err := svc.CompleteProduction(ctx, CompleteProductionInput{OrderID: "PRD-003", OperationID: "op-prod-a"})
	require.NoError(t, err)

	_, err = svc.CompleteProduction(ctx, CompleteProductionInput{OrderID: "PRD-003", OperationID: "op-prod-b"})
	require.ErrorIs(t, err, ErrAlreadyCompleted)

	// Replaying the original operation id returns the completed order.
	order, err := svc.CompleteProduction(ctx, CompleteProductionInput{OrderID: "PRD-003", OperationID: "op-prod-a"})
	require.NoError(t, err)
	require.Equal(t, ProductionStatusCompleted, order.Status)
}

func TestProcessReturnAgainstUnknownInvoice(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	_, err := svc.ProcessReturn(ctx, ReturnInput{
		InvoiceID:   "INV-MISSING",
		Items:       []LineItem{{Product: "Widget", Quantity: d(1), UnitPrice: d(25)}},
		OperationID: "op-ret-missing",
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}
