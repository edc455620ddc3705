package domain

import (
	"fmt"
	"math"
	"sort"
)

// MinorPerMajor converts rupees to paise.
const MinorPerMajor int64 = 100

// BonusRule grants Percent extra tokens when a purchase reaches ThresholdMajor.
type BonusRule struct {
	ThresholdMajor int64
	Percent        int64
}

// DefaultBonusRule is ₹500 and above earns 10%.
func DefaultBonusRule() BonusRule {
	return BonusRule{ThresholdMajor: 500, Percent: 10}
}

// Bonus returns floor(base * Percent / 100) when amountMinor reaches the
// threshold, otherwise zero.
func (r BonusRule) Bonus(amountMinor, baseTokens int64) (int64, error) {
	if amountMinor <= 0 || baseTokens <= 0 {
		return 0, ErrInvalidAmount
	}
	if r.Percent < 0 || (r.Percent > 0 && baseTokens > math.MaxInt64/r.Percent) {
		return 0, fmt.Errorf("%w: bonus overflow", ErrInvalidAmount)
	}
	if amountMinor/MinorPerMajor < r.ThresholdMajor {
		return 0, nil
	}
	return baseTokens * r.Percent / 100, nil
}

// Plan is a purchasable token bundle.
type Plan struct {
	Name        string `json:"name" mapstructure:"name"`
	DisplayName string `json:"display_name" mapstructure:"display_name"`
	AmountMinor int64  `json:"amount_minor" mapstructure:"amount_minor"`
	BaseTokens  int64  `json:"base_tokens" mapstructure:"base_tokens"`
}

// PlanCatalog resolves plans by name.
type PlanCatalog struct {
	plans map[string]Plan
}

// DefaultPlans lists the bundles sold when no override is configured.
func DefaultPlans() []Plan {
	return []Plan{
		{Name: "basic", DisplayName: "Basic", AmountMinor: 100 * MinorPerMajor, BaseTokens: 1000},
		{Name: "popular", DisplayName: "Popular", AmountMinor: 500 * MinorPerMajor, BaseTokens: 5000},
		{Name: "premium", DisplayName: "Premium", AmountMinor: 1000 * MinorPerMajor, BaseTokens: 10000},
	}
}

// NewPlanCatalog validates plans and indexes them by name.
func NewPlanCatalog(plans []Plan) (*PlanCatalog, error) {
	if len(plans) == 0 {
		plans = DefaultPlans()
	}
	index := make(map[string]Plan, len(plans))
	for _, plan := range plans {
		if plan.Name == "" {
			return nil, fmt.Errorf("plan name is required")
		}
		if plan.AmountMinor <= 0 || plan.BaseTokens <= 0 {
			return nil, fmt.Errorf("plan %q: %w", plan.Name, ErrInvalidAmount)
		}
		if _, dup := index[plan.Name]; dup {
			return nil, fmt.Errorf("plan %q defined twice", plan.Name)
		}
		index[plan.Name] = plan
	}
	return &PlanCatalog{plans: index}, nil
}

// Lookup returns the plan called name.
func (c *PlanCatalog) Lookup(name string) (Plan, error) {
	plan, ok := c.plans[name]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrUnknownPlan, name)
	}
	return plan, nil
}

// List returns the plans ordered by price.
func (c *PlanCatalog) List() []Plan {
	plans := make([]Plan, 0, len(c.plans))
	for _, plan := range c.plans {
		plans = append(plans, plan)
	}
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].AmountMinor == plans[j].AmountMinor {
			return plans[i].Name < plans[j].Name
		}
		return plans[i].AmountMinor < plans[j].AmountMinor
	})
	return plans
}
