package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OperationStore persists client-supplied operation ids so retried requests
// are applied at most once.
type OperationStore struct {
	pool *pgxpool.Pool
}

// NewOperationStore constructs the store.
func NewOperationStore(pool *pgxpool.Pool) *OperationStore {
	return &OperationStore{pool: pool}
}

// CheckAndInsert claims an operation id. A duplicate id returns
// ErrDuplicateOperation.
func (s *OperationStore) CheckAndInsert(ctx context.Context, opID, kind string) error {
	if s == nil {
		return errors.New("operation store not initialised")
	}
	if opID == "" {
		return errors.New("operation id required")
	}
	if kind == "" {
		return errors.New("operation kind required")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO ledger_operations (op_id, kind, created_at) VALUES ($1, $2, $3)`, opID, kind, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateOperation
		}
		return err
	}
	return nil
}

// Release removes a claimed id so a failed operation can be retried.
func (s *OperationStore) Release(ctx context.Context, opID string) error {
	if s == nil {
		return nil
	}
	if opID == "" {
		return errors.New("operation id required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM ledger_operations WHERE op_id=$1`, opID)
	return err
}

// Cleanup removes entries older than retention.
func (s *OperationStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM ledger_operations WHERE created_at < $1`, cutoff)
	return err
}
