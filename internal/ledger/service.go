package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

// maxCommitAttempts bounds the optimistic retry loop per operation.
const maxCommitAttempts = 5

// OperationLog deduplicates client-supplied operation ids.
type OperationLog interface {
	CheckAndInsert(ctx context.Context, opID, kind string) error
	Release(ctx context.Context, opID string) error
}

// MetricsPort records coordinator outcomes.
type MetricsPort interface {
	CommitApplied(op string)
	CommitConflict(op string)
}

// Service is the transaction coordinator: it applies one business operation
// as a single atomic unit, validating through the invariant functions before
// commit and retrying on optimistic-concurrency conflicts.
type Service struct {
	repo     RepositoryPort
	ops      OperationLog
	notifier Notifier
	metrics  MetricsPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, ops OperationLog, notifier Notifier, metrics MetricsPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ops: ops, notifier: notifier, metrics: metrics, logger: logger, now: time.Now}
}

// WithNow overrides the service clock for testing.
func (s *Service) WithNow(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// PaymentInput describes a payment against an invoice or purchase order.
type PaymentInput struct {
	Target      PaymentTarget
	TargetID    string
	Amount      decimal.Decimal
	OperationID string
}

// PaymentResult carries the updated record and the appended payment entry.
// Duplicate is set when the operation id was already applied; the result then
// reflects current state and nothing was written.
type PaymentResult struct {
	Invoice       *SalesInvoice
	PurchaseOrder *PurchaseOrder
	Entry         PaymentEntry
	Duplicate     bool
}

// RecordPayment applies a payment to its target record and appends an
// immutable payment entry, atomically.
func (s *Service) RecordPayment(ctx context.Context, input PaymentInput) (PaymentResult, error) {
	if input.Target != TargetInvoice && input.Target != TargetPurchaseOrder {
		return PaymentResult{}, fmt.Errorf("ledger: unknown payment target %q", input.Target)
	}
	if input.TargetID == "" {
		return PaymentResult{}, errors.New("ledger: target id required")
	}
	if dup, err := s.claimOperation(ctx, input.OperationID, "ledger.payment"); err != nil {
		return PaymentResult{}, err
	} else if dup {
		return s.currentPaymentState(ctx, input)
	}

	entry := PaymentEntry{
		ID:         uuid.NewString(),
		Target:     input.Target,
		TargetID:   input.TargetID,
		Amount:     input.Amount,
		ReceivedAt: s.now(),
	}
	var result PaymentResult
	err := s.commitWithRetry(ctx, OpRecordPayment, input.OperationID, func(ctx context.Context, tx TxRepository) error {
		switch input.Target {
		case TargetInvoice:
			inv, err := tx.GetInvoice(ctx, input.TargetID)
			if err != nil {
				return err
			}
			updated, err := ApplyInvoicePayment(inv, input.Amount, s.now())
			if err != nil {
				return err
			}
			if err := tx.UpdateInvoice(ctx, updated); err != nil {
				return err
			}
			updated.Version = inv.Version + 1
			result.Invoice = &updated
		case TargetPurchaseOrder:
			po, err := tx.GetPurchaseOrder(ctx, input.TargetID)
			if err != nil {
				return err
			}
			updated, err := ApplyPurchasePayment(po, input.Amount)
			if err != nil {
				return err
			}
			if err := tx.UpdatePurchaseOrder(ctx, updated); err != nil {
				return err
			}
			updated.Version = po.Version + 1
			result.PurchaseOrder = &updated
		}
		return tx.InsertPayment(ctx, entry)
	})
	if err != nil {
		return PaymentResult{}, err
	}
	result.Entry = entry
	s.publish(ctx, CommitEvent{Operation: OpRecordPayment, RecordID: input.TargetID, CommitAt: s.now()})
	return result, nil
}

// ReturnInput describes a sales return against an invoice.
type ReturnInput struct {
	InvoiceID   string
	Items       []LineItem
	Reason      string
	OperationID string
}

// ReturnResult carries the updated invoice and the created return record.
type ReturnResult struct {
	Invoice   SalesInvoice
	Return    SalesReturn
	Duplicate bool
}

// ProcessReturn creates a sales return: inventory rises by the returned
// quantities and the originating invoice's due amount falls by the return
// value, in one transaction spanning exactly those two records.
func (s *Service) ProcessReturn(ctx context.Context, input ReturnInput) (ReturnResult, error) {
	if input.InvoiceID == "" {
		return ReturnResult{}, errors.New("ledger: invoice id required")
	}
	if dup, err := s.claimOperation(ctx, input.OperationID, "ledger.return"); err != nil {
		return ReturnResult{}, err
	} else if dup {
		inv, err := s.repo.GetInvoice(ctx, input.InvoiceID)
		if err != nil {
			return ReturnResult{}, err
		}
		return ReturnResult{Invoice: inv, Duplicate: true}, nil
	}

	ret := SalesReturn{
		ID:        uuid.NewString(),
		InvoiceID: input.InvoiceID,
		Items:     input.Items,
		Reason:    input.Reason,
		CreatedAt: s.now(),
	}
	var result ReturnResult
	err := s.commitWithRetry(ctx, OpProcessReturn, input.OperationID, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoice(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		updated, value, err := ApplyReturn(inv, input.Items, s.now())
		if err != nil {
			return err
		}
		ret.TotalValue = value
		if err := tx.UpdateInvoice(ctx, updated); err != nil {
			return err
		}
		if err := tx.InsertReturn(ctx, ret); err != nil {
			return err
		}
		updated.Version = inv.Version + 1
		result.Invoice = updated
		return nil
	})
	if err != nil {
		return ReturnResult{}, err
	}
	result.Return = ret
	product := ""
	if len(input.Items) > 0 {
		product = input.Items[0].Product
	}
	s.publish(ctx, CommitEvent{Operation: OpProcessReturn, RecordID: ret.ID, Product: product, CommitAt: s.now()})
	return result, nil
}

// CompleteProductionInput identifies the order to complete.
type CompleteProductionInput struct {
	OrderID     string
	OperationID string
}

// CompleteProduction transitions a production order to Completed, adding its
// quantity to finished-goods inventory permanently.
func (s *Service) CompleteProduction(ctx context.Context, input CompleteProductionInput) (ProductionOrder, error) {
	if input.OrderID == "" {
		return ProductionOrder{}, errors.New("ledger: production order id required")
	}
	if dup, err := s.claimOperation(ctx, input.OperationID, "ledger.production"); err != nil {
		return ProductionOrder{}, err
	} else if dup {
		return s.repo.GetProductionOrder(ctx, input.OrderID)
	}

	var result ProductionOrder
	err := s.commitWithRetry(ctx, OpCompleteProduction, input.OperationID, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetProductionOrder(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if po.Status == ProductionStatusCompleted {
			return ErrAlreadyCompleted
		}
		updated := po
		updated.Status = ProductionStatusCompleted
		updated.CompletedAt = s.now()
		if err := tx.UpdateProductionOrder(ctx, updated); err != nil {
			return err
		}
		updated.Version = po.Version + 1
		result = updated
		return nil
	})
	if err != nil {
		return ProductionOrder{}, err
	}
	s.publish(ctx, CommitEvent{Operation: OpCompleteProduction, RecordID: result.ID, Product: result.Product, CommitAt: s.now()})
	return result, nil
}

// InvoiceInput describes a new sales invoice.
type InvoiceInput struct {
	ID              string
	Customer        string
	Distributor     string
	DistributorTier string
	Items           []LineItem
	DueAt           time.Time
	OperationID     string
}

// IssueInvoice creates an invoice with its full amount due, rejecting any
// line that would drive the product's inventory negative. The check runs at
// commit time against the transaction's snapshot.
func (s *Service) IssueInvoice(ctx context.Context, input InvoiceInput) (SalesInvoice, error) {
	if input.ID == "" {
		return SalesInvoice{}, errors.New("ledger: invoice id required")
	}
	if len(input.Items) == 0 {
		return SalesInvoice{}, errors.New("ledger: invoice requires at least one line item")
	}
	for _, item := range input.Items {
		if !item.Quantity.IsPositive() || item.UnitPrice.IsNegative() {
			return SalesInvoice{}, ErrInvalidAmount
		}
	}
	if dup, err := s.claimOperation(ctx, input.OperationID, "ledger.invoice"); err != nil {
		return SalesInvoice{}, err
	} else if dup {
		return s.repo.GetInvoice(ctx, input.ID)
	}

	var result SalesInvoice
	err := s.commitWithRetry(ctx, OpIssueInvoice, input.OperationID, func(ctx context.Context, tx TxRepository) error {
		for product, qty := range quantityByProduct(input.Items) {
			events, err := tx.ProductEvents(ctx, product)
			if err != nil {
				return err
			}
			if InventoryLevel(events).LessThan(qty) {
				return ErrInsufficientInventory
			}
		}
		total := LineValue(input.Items)
		inv := SalesInvoice{
			ID:              input.ID,
			Customer:        input.Customer,
			Distributor:     input.Distributor,
			DistributorTier: input.DistributorTier,
			Items:           input.Items,
			Total:           total,
			Due:             total,
			IssuedAt:        s.now(),
			DueAt:           input.DueAt,
			Version:         1,
		}
		inv.Status = DeriveInvoiceStatus(inv, s.now())
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		result = inv
		return nil
	})
	if err != nil {
		return SalesInvoice{}, err
	}
	s.publish(ctx, CommitEvent{Operation: OpIssueInvoice, RecordID: result.ID, CommitAt: s.now()})
	return result, nil
}

// GetInventory returns the current finished-goods level for a product.
func (s *Service) GetInventory(ctx context.Context, product string) (decimal.Decimal, error) {
	events, err := s.repo.ProductEvents(ctx, product)
	if err != nil {
		return decimal.Zero, err
	}
	return InventoryLevel(events), nil
}

// GetHistory returns the composed per-product ledger view, most recent first.
func (s *Service) GetHistory(ctx context.Context, product string) ([]LedgerEntry, error) {
	events, err := s.repo.ProductEvents(ctx, product)
	if err != nil {
		return nil, err
	}
	return ComposeHistory(events), nil
}

// GetInvoice returns one invoice.
func (s *Service) GetInvoice(ctx context.Context, id string) (SalesInvoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// GetPurchaseOrder returns one purchase order.
func (s *Service) GetPurchaseOrder(ctx context.Context, id string) (PurchaseOrder, error) {
	return s.repo.GetPurchaseOrder(ctx, id)
}

// GetPayments returns the payment log for a record.
func (s *Service) GetPayments(ctx context.Context, target PaymentTarget, targetID string) ([]PaymentEntry, error) {
	return s.repo.ListPayments(ctx, target, targetID)
}

func (s *Service) claimOperation(ctx context.Context, opID, kind string) (duplicate bool, err error) {
	if opID == "" {
		return false, errors.New("ledger: operation id required")
	}
	if s.ops == nil {
		return false, nil
	}
	if err := s.ops.CheckAndInsert(ctx, opID, kind); err != nil {
		if errors.Is(err, shared.ErrDuplicateOperation) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// commitWithRetry restarts the whole operation from Begin on version
// conflicts, up to maxCommitAttempts, releasing the operation id when the
// operation ultimately fails so the caller may retry with the same id.
func (s *Service) commitWithRetry(ctx context.Context, op, opID string, fn func(context.Context, TxRepository) error) error {
	var err error
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		err = s.repo.WithTx(ctx, fn)
		if errors.Is(err, ErrVersionConflict) {
			if s.metrics != nil {
				s.metrics.CommitConflict(op)
			}
			continue
		}
		if err != nil {
			s.releaseOperation(ctx, opID)
			return err
		}
		if s.metrics != nil {
			s.metrics.CommitApplied(op)
		}
		return nil
	}
	s.releaseOperation(ctx, opID)
	return ErrConcurrencyExhausted
}

func (s *Service) releaseOperation(ctx context.Context, opID string) {
	if s.ops == nil || opID == "" {
		return
	}
	if err := s.ops.Release(ctx, opID); err != nil {
		s.logger.Warn("release operation id", slog.String("op_id", opID), slog.Any("error", err))
	}
}

func (s *Service) publish(ctx context.Context, event CommitEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishCommit(ctx, event); err != nil {
		s.logger.Warn("publish commit event", slog.String("operation", event.Operation), slog.Any("error", err))
	}
}

func (s *Service) currentPaymentState(ctx context.Context, input PaymentInput) (PaymentResult, error) {
	result := PaymentResult{Duplicate: true}
	switch input.Target {
	case TargetInvoice:
		inv, err := s.repo.GetInvoice(ctx, input.TargetID)
		if err != nil {
			return PaymentResult{}, err
		}
		result.Invoice = &inv
	case TargetPurchaseOrder:
		po, err := s.repo.GetPurchaseOrder(ctx, input.TargetID)
		if err != nil {
			return PaymentResult{}, err
		}
		result.PurchaseOrder = &po
	}
	return result, nil
}

func quantityByProduct(items []LineItem) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal, len(items))
	for _, item := range items {
		totals[item.Product] = totals[item.Product].Add(item.Quantity)
	}
	return totals
}
