package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/forgeline-erp/forgeline-erp/internal/jobs"
	"github.com/forgeline-erp/forgeline-erp/internal/ledger"
)

// LedgerRepository is the read surface the integrity scan needs.
type LedgerRepository interface {
	ListInvoices(ctx context.Context) ([]ledger.SalesInvoice, error)
	ListPurchaseOrders(ctx context.Context) ([]ledger.PurchaseOrder, error)
	ListProducts(ctx context.Context) ([]string, error)
	ProductEvents(ctx context.Context, product string) ([]ledger.LedgerEntry, error)
}

// IntegrityChecker recomputes the global ledger invariants from stored state.
// The coordinator enforces them per transaction; this scan is the independent
// audit that catches drift from manual data fixes or bugs.
type IntegrityChecker struct {
	repo    LedgerRepository
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewIntegrityChecker constructs an IntegrityChecker. Metrics may be nil.
func NewIntegrityChecker(repo LedgerRepository, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrityChecker{repo: repo, logger: logger, metrics: metrics}
}

// Handle processes TaskLedgerIntegrity tasks.
func (c *IntegrityChecker) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := c.metrics.Track("ledger_integrity")
	violations, err := c.Run(ctx)
	if err != nil {
		return tracker.End(err)
	}
	if violations > 0 {
		return tracker.End(fmt.Errorf("jobs: ledger integrity scan found %d violations", violations))
	}
	return tracker.End(nil)
}

// Run executes the scan and returns the violation count. Record checks and
// per-product inventory checks fan out concurrently.
func (c *IntegrityChecker) Run(ctx context.Context) (int, error) {
	var (
		recordViolations    int
		inventoryViolations int
	)
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		n, err := c.checkRecords(ctx)
		recordViolations = n
		return err
	})
	eg.Go(func() error {
		n, err := c.checkInventory(ctx)
		inventoryViolations = n
		return err
	})
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	c.metrics.AddViolations("record", recordViolations)
	c.metrics.AddViolations("inventory", inventoryViolations)

	total := recordViolations + inventoryViolations
	c.logger.Info("ledger integrity scan finished",
		slog.Int("record_violations", recordViolations),
		slog.Int("inventory_violations", inventoryViolations))
	return total, nil
}

// checkRecords verifies 0 <= due <= total on every open record.
func (c *IntegrityChecker) checkRecords(ctx context.Context) (int, error) {
	violations := 0
	invoices, err := c.repo.ListInvoices(ctx)
	if err != nil {
		return 0, fmt.Errorf("jobs: list invoices: %w", err)
	}
	for _, inv := range invoices {
		if inv.Due.IsNegative() || inv.Due.GreaterThan(inv.Total) {
			violations++
			c.logger.Error("invoice due out of bounds",
				slog.String("invoice", inv.ID),
				slog.String("due", inv.Due.String()),
				slog.String("total", inv.Total.String()))
		}
	}

	orders, err := c.repo.ListPurchaseOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("jobs: list purchase orders: %w", err)
	}
	for _, po := range orders {
		if po.Due.IsNegative() || po.Due.GreaterThan(po.Amount) {
			violations++
			c.logger.Error("purchase order due out of bounds",
				slog.String("order", po.ID),
				slog.String("due", po.Due.String()),
				slog.String("amount", po.Amount.String()))
		}
	}
	return violations, nil
}

// checkInventory verifies no product's event history sums negative.
func (c *IntegrityChecker) checkInventory(ctx context.Context) (int, error) {
	products, err := c.repo.ListProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("jobs: list products: %w", err)
	}

	var (
		eg, gctx   = errgroup.WithContext(ctx)
		violations = make([]bool, len(products))
	)
	eg.SetLimit(4)
	for i, product := range products {
		i, product := i, product
		eg.Go(func() error {
			events, err := c.repo.ProductEvents(gctx, product)
			if err != nil {
				return fmt.Errorf("jobs: product events %s: %w", product, err)
			}
			if level := ledger.InventoryLevel(events); level.IsNegative() {
				violations[i] = true
				c.logger.Error("negative inventory",
					slog.String("product", product),
					slog.String("level", level.String()))
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	count := 0
	for _, v := range violations {
		if v {
			count++
		}
	}
	return count, nil
}
