package commission

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const listRulesSQL = `
SELECT id, name, scope, applies_to, rule_type, rate::text
FROM commission_rules
ORDER BY name, id`

// Repository reads commission rules from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRules returns all configured rules.
func (r *Repository) ListRules(ctx context.Context) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, listRulesSQL)
	if err != nil {
		return nil, fmt.Errorf("commission: list rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var (
			rule Rule
			rate string
		)
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Scope, &rule.AppliesTo, &rule.Type, &rate); err != nil {
			return nil, fmt.Errorf("commission: scan rule: %w", err)
		}
		if rule.Rate, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("commission: rule %s rate: %w", rule.ID, err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
