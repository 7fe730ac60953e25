package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity is the task type for the nightly ledger integrity scan.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskOperationsCleanup prunes old idempotency records.
	TaskOperationsCleanup = "ledger:operations_cleanup"
)

// LedgerIntegrityPayload parameterises one integrity scan run.
type LedgerIntegrityPayload struct {
	RequestedAt time.Time `json:"requested_at"`
}

// NewLedgerIntegrityTask constructs the integrity scan task.
func NewLedgerIntegrityTask(payload LedgerIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}
