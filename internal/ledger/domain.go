package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus enumerates sales invoice statuses.
type InvoiceStatus string

const (
	InvoiceStatusUnpaid        InvoiceStatus = "UNPAID"
	InvoiceStatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusOverdue       InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled     InvoiceStatus = "CANCELLED"
)

// PurchaseOrderStatus enumerates purchase order statuses.
type PurchaseOrderStatus string

const (
	PurchaseStatusPending   PurchaseOrderStatus = "PENDING"
	PurchaseStatusCompleted PurchaseOrderStatus = "COMPLETED"
	PurchaseStatusCancelled PurchaseOrderStatus = "CANCELLED"
)

// ProductionStatus enumerates production order statuses. Completion is a
// one-way transition; a completed order's quantity is counted permanently.
type ProductionStatus string

const (
	ProductionStatusPlanned    ProductionStatus = "PLANNED"
	ProductionStatusInProgress ProductionStatus = "IN_PROGRESS"
	ProductionStatusCompleted  ProductionStatus = "COMPLETED"
)

// PaymentTarget identifies which record kind a payment applies to.
type PaymentTarget string

const (
	TargetInvoice       PaymentTarget = "INVOICE"
	TargetPurchaseOrder PaymentTarget = "PURCHASE_ORDER"
)

// LineItem is one product line on an invoice or return.
type LineItem struct {
	Product   string          `json:"product"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// SalesInvoice models a customer invoice. Total is the effective total:
// return credits reduce it, so Due = Total - payments received always holds.
type SalesInvoice struct {
	ID              string          `json:"id"`
	Customer        string          `json:"customer"`
	Distributor     string          `json:"distributor,omitempty"`
	DistributorTier string          `json:"distributor_tier,omitempty"`
	Items           []LineItem      `json:"items,omitempty"`
	Total           decimal.Decimal `json:"total"`
	Due             decimal.Decimal `json:"due"`
	Status          InvoiceStatus   `json:"status"`
	IssuedAt        time.Time       `json:"issued_at"`
	DueAt           time.Time       `json:"due_at,omitzero"`
	Version         int64           `json:"version"`
}

// PurchaseOrder models a supplier order carrying an outstanding balance.
type PurchaseOrder struct {
	ID        string              `json:"id"`
	Supplier  string              `json:"supplier"`
	Amount    decimal.Decimal     `json:"amount"`
	Due       decimal.Decimal     `json:"due"`
	Status    PurchaseOrderStatus `json:"status"`
	OrderedAt time.Time           `json:"ordered_at"`
	Version   int64               `json:"version"`
}

// ProductionOrder models a manufacturing run for a single product.
type ProductionOrder struct {
	ID          string           `json:"id"`
	Product     string           `json:"product"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Status      ProductionStatus `json:"status"`
	CompletedAt time.Time        `json:"completed_at,omitzero"`
	Version     int64            `json:"version"`
}

// SalesReturn records goods returned against an invoice. Creation is atomic:
// inventory increases and the originating invoice's effective total shrinks
// in the same transaction.
type SalesReturn struct {
	ID         string          `json:"id"`
	InvoiceID  string          `json:"invoice_id"`
	Items      []LineItem      `json:"items"`
	TotalValue decimal.Decimal `json:"total_value"`
	Reason     string          `json:"reason,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// PaymentEntry is one immutable row in the append-only payment log.
type PaymentEntry struct {
	ID         string          `json:"id"`
	Target     PaymentTarget   `json:"target_type"`
	TargetID   string          `json:"target_id"`
	Amount     decimal.Decimal `json:"amount"`
	ReceivedAt time.Time       `json:"received_at"`
}

// EntryKind classifies ledger history events.
type EntryKind string

const (
	EntryProduction EntryKind = "PRODUCTION"
	EntrySale       EntryKind = "SALE"
	EntryReturn     EntryKind = "RETURN"
)

// LedgerEntry is one historical event affecting a product's inventory.
// Quantity is always positive; EntryDelta gives the signed contribution.
type LedgerEntry struct {
	Kind       EntryKind       `json:"kind"`
	RecordID   string          `json:"record_id"`
	Product    string          `json:"product"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	OccurredAt time.Time       `json:"occurred_at"`
}

var (
	// ErrInvalidAmount indicates a non-positive payment or return amount.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
	// ErrOverpayment indicates a payment exceeding the outstanding due amount.
	ErrOverpayment = errors.New("ledger: payment exceeds due amount")
	// ErrInsufficientInventory indicates a sale would drive inventory negative.
	ErrInsufficientInventory = errors.New("ledger: insufficient inventory")
	// ErrReturnExceedsInvoice indicates a return larger than the invoice can absorb.
	ErrReturnExceedsInvoice = errors.New("ledger: return exceeds invoice balance")
	// ErrConcurrencyExhausted indicates the operation still conflicted after the last retry.
	ErrConcurrencyExhausted = errors.New("ledger: concurrent update conflicts exhausted retries")
	// ErrVersionConflict indicates a conditional write lost a race. Internal; the coordinator retries it.
	ErrVersionConflict = errors.New("ledger: record version conflict")
	// ErrRecordCancelled indicates a mutation against a cancelled record.
	ErrRecordCancelled = errors.New("ledger: record is cancelled")
	// ErrAlreadyCompleted indicates a second completion of a production order.
	ErrAlreadyCompleted = errors.New("ledger: production order already completed")
)
