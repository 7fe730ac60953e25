package commission

import "github.com/shopspring/decimal"

// Scope names the record kind a commission rule binds to. The binding is
// resolved when the rule is authored; resolution never probes for the name
// across record kinds.
type Scope string

const (
	ScopeProduct     Scope = "PRODUCT"
	ScopeDistributor Scope = "DISTRIBUTOR"
	ScopeTier        Scope = "TIER"
)

// RuleType distinguishes percentage rules from flat-amount rules.
type RuleType string

const (
	TypePercentage RuleType = "PERCENTAGE"
	TypeFixed      RuleType = "FIXED"
)

// Rule is one commission rule. Rate is a percentage for TypePercentage and a
// flat currency amount per matched sale line for TypeFixed.
type Rule struct {
	ID        string
	Name      string
	Scope     Scope
	AppliesTo string
	Type      RuleType
	Rate      decimal.Decimal
}

// Sale is one sold line with its distribution context.
type Sale struct {
	Product         string
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	Distributor     string
	DistributorTier string
}

// LineTotal is the sale's gross value.
func (s Sale) LineTotal() decimal.Decimal {
	return s.Quantity.Mul(s.UnitPrice)
}

// Result is a resolved commission. Rule is nil when no rule matched; the
// amount is then zero and that is a valid outcome, not an error.
type Result struct {
	Rule   *Rule
	Amount decimal.Decimal
}
