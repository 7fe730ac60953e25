package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// The functions in this file are the invariant engine: pure, side-effect free,
// and the single authority on whether a ledger state is valid. The coordinator
// calls them inside a transaction before committing anything.

// LineValue sums quantity times unit price over items.
func LineValue(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Quantity.Mul(item.UnitPrice))
	}
	return total
}

// ApplyInvoicePayment returns the invoice with the payment applied.
func ApplyInvoicePayment(inv SalesInvoice, amount decimal.Decimal, now time.Time) (SalesInvoice, error) {
	if inv.Status == InvoiceStatusCancelled {
		return inv, ErrRecordCancelled
	}
	if !amount.IsPositive() {
		return inv, ErrInvalidAmount
	}
	if amount.GreaterThan(inv.Due) {
		return inv, ErrOverpayment
	}
	inv.Due = inv.Due.Sub(amount)
	inv.Status = DeriveInvoiceStatus(inv, now)
	return inv, nil
}

// ApplyPurchasePayment returns the purchase order with the payment applied.
// A purchase order whose due amount reaches zero transitions to Completed.
func ApplyPurchasePayment(po PurchaseOrder, amount decimal.Decimal) (PurchaseOrder, error) {
	if po.Status == PurchaseStatusCancelled {
		return po, ErrRecordCancelled
	}
	if !amount.IsPositive() {
		return po, ErrInvalidAmount
	}
	if amount.GreaterThan(po.Due) {
		return po, ErrOverpayment
	}
	po.Due = po.Due.Sub(amount)
	if po.Due.IsZero() {
		po.Status = PurchaseStatusCompleted
	}
	return po, nil
}

// ApplyReturn reduces the invoice's effective total by the return value and
// recomputes the due amount. A return that would push the effective total
// below payments already received is rejected: this model credits remaining
// dues only and never creates a refund obligation.
func ApplyReturn(inv SalesInvoice, items []LineItem, now time.Time) (SalesInvoice, decimal.Decimal, error) {
	if inv.Status == InvoiceStatusCancelled {
		return inv, decimal.Zero, ErrRecordCancelled
	}
	if len(items) == 0 {
		return inv, decimal.Zero, ErrInvalidAmount
	}
	for _, item := range items {
		if !item.Quantity.IsPositive() || item.UnitPrice.IsNegative() {
			return inv, decimal.Zero, ErrInvalidAmount
		}
	}
	value := LineValue(items)
	paid := inv.Total.Sub(inv.Due)
	newTotal := inv.Total.Sub(value)
	if newTotal.LessThan(paid) {
		return inv, value, ErrReturnExceedsInvoice
	}
	inv.Total = newTotal
	inv.Due = newTotal.Sub(paid)
	if inv.Due.IsNegative() {
		inv.Due = decimal.Zero
	}
	inv.Status = DeriveInvoiceStatus(inv, now)
	return inv, value, nil
}

// DeriveInvoiceStatus recomputes an invoice status from its due amount.
// Cancelled is frozen and never derived away.
func DeriveInvoiceStatus(inv SalesInvoice, now time.Time) InvoiceStatus {
	if inv.Status == InvoiceStatusCancelled {
		return InvoiceStatusCancelled
	}
	switch {
	case inv.Due.IsZero():
		return InvoiceStatusPaid
	case inv.Due.LessThan(inv.Total):
		return InvoiceStatusPartiallyPaid
	case !inv.DueAt.IsZero() && inv.DueAt.Before(now):
		return InvoiceStatusOverdue
	default:
		return InvoiceStatusUnpaid
	}
}

// EntryDelta returns the signed inventory contribution of a ledger entry:
// completed production and returns add stock, sales remove it.
func EntryDelta(entry LedgerEntry) decimal.Decimal {
	if entry.Kind == EntrySale {
		return entry.Quantity.Neg()
	}
	return entry.Quantity
}

// InventoryLevel folds entry deltas into the current stock level for the
// product the entries belong to.
func InventoryLevel(entries []LedgerEntry) decimal.Decimal {
	level := decimal.Zero
	for _, entry := range entries {
		level = level.Add(EntryDelta(entry))
	}
	return level
}
