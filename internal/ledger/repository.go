package ledger

import "context"

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id string) (SalesInvoice, error)
	GetPurchaseOrder(ctx context.Context, id string) (PurchaseOrder, error)
	GetProductionOrder(ctx context.Context, id string) (ProductionOrder, error)
	ListInvoices(ctx context.Context) ([]SalesInvoice, error)
	ListPurchaseOrders(ctx context.Context) ([]PurchaseOrder, error)
	ListPayments(ctx context.Context, target PaymentTarget, targetID string) ([]PaymentEntry, error)
	ListProducts(ctx context.Context) ([]string, error)
	ProductEvents(ctx context.Context, product string) ([]LedgerEntry, error)
}

// TxRepository exposes the transactional operations used by the coordinator.
// Update methods are conditional writes: they match on the record's version
// as read, bump it by one, and report ErrVersionConflict when the row moved.
type TxRepository interface {
	GetInvoice(ctx context.Context, id string) (SalesInvoice, error)
	GetPurchaseOrder(ctx context.Context, id string) (PurchaseOrder, error)
	GetProductionOrder(ctx context.Context, id string) (ProductionOrder, error)
	InsertInvoice(ctx context.Context, inv SalesInvoice) error
	UpdateInvoice(ctx context.Context, inv SalesInvoice) error
	UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) error
	UpdateProductionOrder(ctx context.Context, po ProductionOrder) error
	InsertPayment(ctx context.Context, entry PaymentEntry) error
	InsertReturn(ctx context.Context, ret SalesReturn) error
	ProductEvents(ctx context.Context, product string) ([]LedgerEntry, error)
}
