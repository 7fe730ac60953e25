package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/forgeline-erp/forgeline-erp/internal/platform/db"
	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

// Repository persists ledger records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a serializable transaction. Inventory
// checks sum over event rows, so the weaker isolation levels would let two
// concurrent sales both pass the same stock level. A serialization failure
// surfaces as ErrVersionConflict and goes through the coordinator retry loop.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, pgx.Serializable, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	return mapSerializationFailure(err)
}

func mapSerializationFailure(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "40001" {
		return ErrVersionConflict
	}
	return err
}

const invoiceColumns = `id, customer, distributor, distributor_tier, total::text, due::text, status, issued_at, due_at, version`

func (r *Repository) GetInvoice(ctx context.Context, id string) (SalesInvoice, error) {
	return scanInvoice(ctx, r.pool, id)
}

func (r *Repository) GetPurchaseOrder(ctx context.Context, id string) (PurchaseOrder, error) {
	return scanPurchaseOrder(ctx, r.pool, id)
}

func (r *Repository) GetProductionOrder(ctx context.Context, id string) (ProductionOrder, error) {
	return scanProductionOrder(ctx, r.pool, id)
}

// ListInvoices returns all invoices with their line items.
func (r *Repository) ListInvoices(ctx context.Context) ([]SalesInvoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM sales_invoices ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	invoices := []SalesInvoice{}
	for rows.Next() {
		inv, err := invoiceFromRow(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range invoices {
		items, err := invoiceItems(ctx, r.pool, invoices[i].ID)
		if err != nil {
			return nil, err
		}
		invoices[i].Items = items
	}
	return invoices, nil
}

func (r *Repository) ListPurchaseOrders(ctx context.Context) ([]PurchaseOrder, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, supplier, amount::text, due::text, status, ordered_at, version FROM purchase_orders ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	orders := []PurchaseOrder{}
	for rows.Next() {
		po, err := purchaseOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, po)
	}
	return orders, rows.Err()
}

// ListPayments returns the append-only payment log for one record.
func (r *Repository) ListPayments(ctx context.Context, target PaymentTarget, targetID string) ([]PaymentEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, target_type, target_id, amount::text, received_at
FROM ledger_payments WHERE target_type=$1 AND target_id=$2 ORDER BY received_at ASC, id ASC`, string(target), targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []PaymentEntry{}
	for rows.Next() {
		var entry PaymentEntry
		var amount string
		if err := rows.Scan(&entry.ID, &entry.Target, &entry.TargetID, &amount, &entry.ReceivedAt); err != nil {
			return nil, err
		}
		if entry.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListProducts returns every product name the ledger has seen.
func (r *Repository) ListProducts(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT product FROM production_orders
UNION SELECT product FROM invoice_items
UNION SELECT product FROM sales_return_items
ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		products = append(products, name)
	}
	return products, rows.Err()
}

// ProductEvents reads a snapshot of all inventory-affecting events for one
// product. Cancelled invoices are excluded from the sale legs.
func (r *Repository) ProductEvents(ctx context.Context, product string) ([]LedgerEntry, error) {
	return productEvents(ctx, r.pool, product)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const productEventsSQL = `SELECT 'PRODUCTION', id, product, qty::text, '0', completed_at
FROM production_orders WHERE product=$1 AND status='COMPLETED'
UNION ALL
SELECT 'SALE', i.id, it.product, it.qty::text, it.unit_price::text, i.issued_at
FROM invoice_items it JOIN sales_invoices i ON i.id = it.invoice_id
WHERE it.product=$1 AND i.status <> 'CANCELLED'
UNION ALL
SELECT 'RETURN', sr.id, ri.product, ri.qty::text, ri.unit_price::text, sr.created_at
FROM sales_return_items ri JOIN sales_returns sr ON sr.id = ri.return_id
WHERE ri.product=$1`

func productEvents(ctx context.Context, q querier, product string) ([]LedgerEntry, error) {
	rows, err := q.Query(ctx, productEventsSQL, product)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []LedgerEntry{}
	for rows.Next() {
		var entry LedgerEntry
		var qty, price string
		if err := rows.Scan(&entry.Kind, &entry.RecordID, &entry.Product, &qty, &price, &entry.OccurredAt); err != nil {
			return nil, err
		}
		if entry.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if entry.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *txRepository) GetInvoice(ctx context.Context, id string) (SalesInvoice, error) {
	return scanInvoice(ctx, r.tx, id)
}

func (r *txRepository) GetPurchaseOrder(ctx context.Context, id string) (PurchaseOrder, error) {
	return scanPurchaseOrder(ctx, r.tx, id)
}

func (r *txRepository) GetProductionOrder(ctx context.Context, id string) (ProductionOrder, error) {
	return scanProductionOrder(ctx, r.tx, id)
}

func (r *txRepository) InsertInvoice(ctx context.Context, inv SalesInvoice) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO sales_invoices (id, customer, distributor, distributor_tier, total, due, status, issued_at, due_at, version, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,1,NOW())`,
		inv.ID, inv.Customer, inv.Distributor, inv.DistributorTier, inv.Total.String(), inv.Due.String(), string(inv.Status), inv.IssuedAt, nullTime(inv.DueAt))
	if err != nil {
		return err
	}
	for i, item := range inv.Items {
		if _, err := r.tx.Exec(ctx, `INSERT INTO invoice_items (invoice_id, line_no, product, qty, unit_price)
VALUES ($1,$2,$3,$4,$5)`, inv.ID, i+1, item.Product, item.Quantity.String(), item.UnitPrice.String()); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) UpdateInvoice(ctx context.Context, inv SalesInvoice) error {
	tag, err := r.tx.Exec(ctx, `UPDATE sales_invoices
SET total=$2, due=$3, status=$4, version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$5`, inv.ID, inv.Total.String(), inv.Due.String(), string(inv.Status), inv.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r *txRepository) UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_orders
SET due=$2, status=$3, version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$4`, po.ID, po.Due.String(), string(po.Status), po.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r *txRepository) UpdateProductionOrder(ctx context.Context, po ProductionOrder) error {
	tag, err := r.tx.Exec(ctx, `UPDATE production_orders
SET status=$2, completed_at=$3, version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$4`, po.ID, string(po.Status), nullTime(po.CompletedAt), po.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r *txRepository) InsertPayment(ctx context.Context, entry PaymentEntry) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO ledger_payments (id, target_type, target_id, amount, received_at)
VALUES ($1,$2,$3,$4,$5)`, entry.ID, string(entry.Target), entry.TargetID, entry.Amount.String(), entry.ReceivedAt)
	return err
}

func (r *txRepository) InsertReturn(ctx context.Context, ret SalesReturn) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO sales_returns (id, invoice_id, total_value, reason, created_at)
VALUES ($1,$2,$3,$4,$5)`, ret.ID, ret.InvoiceID, ret.TotalValue.String(), ret.Reason, ret.CreatedAt)
	if err != nil {
		return err
	}
	for i, item := range ret.Items {
		if _, err := r.tx.Exec(ctx, `INSERT INTO sales_return_items (return_id, line_no, product, qty, unit_price)
VALUES ($1,$2,$3,$4,$5)`, ret.ID, i+1, item.Product, item.Quantity.String(), item.UnitPrice.String()); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) ProductEvents(ctx context.Context, product string) ([]LedgerEntry, error) {
	return productEvents(ctx, r.tx, product)
}

func scanInvoice(ctx context.Context, q querier, id string) (SalesInvoice, error) {
	row := q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM sales_invoices WHERE id=$1`, id)
	inv, err := invoiceFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SalesInvoice{}, shared.ErrNotFound
		}
		return SalesInvoice{}, err
	}
	items, err := invoiceItems(ctx, q, id)
	if err != nil {
		return SalesInvoice{}, err
	}
	inv.Items = items
	return inv, nil
}

func invoiceFromRow(row pgx.Row) (SalesInvoice, error) {
	var inv SalesInvoice
	var total, due string
	var dueAt *time.Time
	if err := row.Scan(&inv.ID, &inv.Customer, &inv.Distributor, &inv.DistributorTier, &total, &due, &inv.Status, &inv.IssuedAt, &dueAt, &inv.Version); err != nil {
		return SalesInvoice{}, err
	}
	var err error
	if inv.Total, err = decimal.NewFromString(total); err != nil {
		return SalesInvoice{}, err
	}
	if inv.Due, err = decimal.NewFromString(due); err != nil {
		return SalesInvoice{}, err
	}
	if dueAt != nil {
		inv.DueAt = *dueAt
	}
	return inv, nil
}

func invoiceItems(ctx context.Context, q querier, invoiceID string) ([]LineItem, error) {
	rows, err := q.Query(ctx, `SELECT product, qty::text, unit_price::text FROM invoice_items WHERE invoice_id=$1 ORDER BY line_no`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []LineItem{}
	for rows.Next() {
		var item LineItem
		var qty, price string
		if err := rows.Scan(&item.Product, &qty, &price); err != nil {
			return nil, err
		}
		if item.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if item.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanPurchaseOrder(ctx context.Context, q querier, id string) (PurchaseOrder, error) {
	row := q.QueryRow(ctx, `SELECT id, supplier, amount::text, due::text, status, ordered_at, version FROM purchase_orders WHERE id=$1`, id)
	po, err := purchaseOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, shared.ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	return po, nil
}

func purchaseOrderFromRow(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var amount, due string
	if err := row.Scan(&po.ID, &po.Supplier, &amount, &due, &po.Status, &po.OrderedAt, &po.Version); err != nil {
		return PurchaseOrder{}, err
	}
	var err error
	if po.Amount, err = decimal.NewFromString(amount); err != nil {
		return PurchaseOrder{}, err
	}
	if po.Due, err = decimal.NewFromString(due); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

func scanProductionOrder(ctx context.Context, q querier, id string) (ProductionOrder, error) {
	var po ProductionOrder
	var qty string
	var completedAt *time.Time
	err := q.QueryRow(ctx, `SELECT id, product, qty::text, status, completed_at, version FROM production_orders WHERE id=$1`, id).
		Scan(&po.ID, &po.Product, &qty, &po.Status, &completedAt, &po.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductionOrder{}, shared.ErrNotFound
		}
		return ProductionOrder{}, err
	}
	if po.Quantity, err = decimal.NewFromString(qty); err != nil {
		return ProductionOrder{}, err
	}
	if completedAt != nil {
		po.CompletedAt = *completedAt
	}
	return po, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
