package booking

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"lensbook/models"
)

// AnyLeadTime is the MinDaysBefore of a tier's catch-all rule.
const AnyLeadTime = math.MinInt

// PolicyRule grants Percent when the cancellation happens at least
// MinDaysBefore days before the service.
type PolicyRule struct {
	MinDaysBefore int
	Percent       decimal.Decimal
}

var (
	full = decimal.NewFromInt(1)
	half = decimal.RequireFromString("0.5")
	none = decimal.Zero
)

// DefaultPolicies is the static refund schedule per tier.
// The strict tier tops out at 50% regardless of lead time.
var DefaultPolicies = map[models.PolicyTier][]PolicyRule{
	models.PolicyFlexible: {
		{MinDaysBefore: 1, Percent: full},
		{MinDaysBefore: AnyLeadTime, Percent: half},
	},
	models.PolicyModerate: {
		{MinDaysBefore: 5, Percent: full},
		{MinDaysBefore: 1, Percent: half},
		{MinDaysBefore: AnyLeadTime, Percent: none},
	},
	models.PolicyStrict: {
		{MinDaysBefore: 7, Percent: half},
		{MinDaysBefore: AnyLeadTime, Percent: none},
	},
}

// UnknownTierPercent applies to tiers without a table.
var UnknownTierPercent = half

// PolicyEngine computes cancellation refunds. It performs no I/O.
type PolicyEngine struct {
	policies map[models.PolicyTier][]PolicyRule
	fallback decimal.Decimal
}

// NewPolicyEngine builds an engine over the given tables; rules are evaluated
// from the longest lead time down.
func NewPolicyEngine(policies map[models.PolicyTier][]PolicyRule, fallback decimal.Decimal) *PolicyEngine {
	sorted := make(map[models.PolicyTier][]PolicyRule, len(policies))
	for tier, rules := range policies {
		rs := append([]PolicyRule(nil), rules...)
		sort.Slice(rs, func(i, j int) bool { return rs[i].MinDaysBefore > rs[j].MinDaysBefore })
		sorted[tier] = rs
	}
	return &PolicyEngine{policies: sorted, fallback: fallback}
}

// DefaultPolicyEngine uses DefaultPolicies and UnknownTierPercent.
func DefaultPolicyEngine() *PolicyEngine {
	return NewPolicyEngine(DefaultPolicies, UnknownTierPercent)
}

// RefundPercent returns the refundable fraction in [0,1].
func (e *PolicyEngine) RefundPercent(tier models.PolicyTier, daysBefore int) decimal.Decimal {
	rules, ok := e.policies[tier]
	if !ok {
		return e.fallback
	}
	for _, rule := range rules {
		if daysBefore >= rule.MinDaysBefore {
			return rule.Percent
		}
	}
	return none
}

// RefundQuote is the outcome of applying a policy at a point in time.
type RefundQuote struct {
	Tier       models.PolicyTier `json:"tier"`
	DaysBefore int               `json:"daysBefore"`
	Percent    decimal.Decimal   `json:"percent"`
	Paid       models.Money      `json:"paid"`
	Amount     models.Money      `json:"amount"`
}

// Quote computes the refund owed for cancelling at now a service scheduled at
// serviceAt on which paid has been collected.
func (e *PolicyEngine) Quote(tier models.PolicyTier, serviceAt, now time.Time, paid models.Money) RefundQuote {
	days := DaysBeforeService(serviceAt, now)
	percent := e.RefundPercent(tier, days)
	return RefundQuote{
		Tier:       tier,
		DaysBefore: days,
		Percent:    percent,
		Paid:       paid,
		Amount:     RefundAmount(paid, percent),
	}
}

// DaysBeforeService is ceil((serviceAt - now) / 24h).
func DaysBeforeService(serviceAt, now time.Time) int {
	days := serviceAt.Sub(now).Hours() / 24
	return int(math.Ceil(days))
}

// RefundAmount is paid × percent clamped to [0, paid].
func RefundAmount(paid models.Money, percent decimal.Decimal) models.Money {
	if paid <= 0 {
		return 0
	}
	amount := paid.MulRate(percent)
	if amount < 0 {
		return 0
	}
	return models.MinMoney(paid, amount)
}
