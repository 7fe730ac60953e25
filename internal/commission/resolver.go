package commission

import (
	"context"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// RuleRepository lists the configured commission rules. Rules are authored
// through the management surface outside this service; this side only reads.
type RuleRepository interface {
	ListRules(ctx context.Context) ([]Rule, error)
}

// Service resolves commissions against the stored rule set.
type Service struct {
	repo   RuleRepository
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RuleRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Resolve loads the rule set and resolves the sale against it.
func (s *Service) Resolve(ctx context.Context, sale Sale) (Result, error) {
	rules, err := s.repo.ListRules(ctx)
	if err != nil {
		return Result{}, err
	}
	return Resolve(sale, rules), nil
}

// scopeRank orders matches: a product rule always beats a distributor rule,
// which always beats a tier rule.
func scopeRank(scope Scope) int {
	switch scope {
	case ScopeProduct:
		return 0
	case ScopeDistributor:
		return 1
	default:
		return 2
	}
}

func matches(rule Rule, sale Sale) bool {
	if rule.AppliesTo == "" {
		return false
	}
	switch rule.Scope {
	case ScopeProduct:
		return rule.AppliesTo == sale.Product
	case ScopeDistributor:
		return rule.AppliesTo == sale.Distributor
	case ScopeTier:
		return rule.AppliesTo == sale.DistributorTier
	default:
		return false
	}
}

// Resolve picks the single applicable rule for a sale and computes the
// commission it yields. Ties within a scope break on rule name, then id, so
// the outcome is stable across rule-set orderings.
func Resolve(sale Sale, rules []Rule) Result {
	matched := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if matches(rule, sale) {
			matched = append(matched, rule)
		}
	}
	if len(matched) == 0 {
		return Result{Amount: decimal.Zero}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if scopeRank(a.Scope) != scopeRank(b.Scope) {
			return scopeRank(a.Scope) < scopeRank(b.Scope)
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	winner := matched[0]
	return Result{Rule: &winner, Amount: commissionAmount(winner, sale)}
}

func commissionAmount(rule Rule, sale Sale) decimal.Decimal {
	switch rule.Type {
	case TypePercentage:
		return sale.LineTotal().Mul(rule.Rate).Div(oneHundred)
	case TypeFixed:
		// Flat amount per matched sale line, independent of quantity.
		return rule.Rate
	default:
		return decimal.Zero
	}
}
