package ledger

import (
	"context"
	"time"
)

// Operation names carried on commit events.
const (
	OpRecordPayment      = "payment"
	OpProcessReturn      = "return"
	OpCompleteProduction = "production"
	OpIssueInvoice       = "invoice"
)

// CommitEvent is published after every successful coordinator commit so
// reporting layers can refresh without polling the store.
type CommitEvent struct {
	Operation string    `json:"operation"`
	RecordID  string    `json:"record_id"`
	Product   string    `json:"product,omitempty"`
	CommitAt  time.Time `json:"commit_at"`
}

// Notifier receives commit events. Implementations must not block the
// coordinator; publish failures are logged, never surfaced to callers.
type Notifier interface {
	PublishCommit(ctx context.Context, event CommitEvent) error
}
