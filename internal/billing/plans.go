// Package billing holds the plan catalog and the subscription state machine
// driven by payment provider events.
package billing

import (
	"fmt"
	"strings"

	"github.com/wangwalk/tanstack-start-dev/internal/config"
	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
)

// Interval is a billing period.
type Interval string

const (
	Monthly Interval = "monthly"
	Yearly  Interval = "yearly"
)

// Plan describes a paid tier. Amounts are in cents.
type Plan struct {
	Key           string              `json:"key"`
	Name          string              `json:"name"`
	Description   string              `json:"description"`
	MonthlyAmount int64               `json:"monthly_amount"`
	YearlyAmount  int64               `json:"yearly_amount"`
	Features      []string            `json:"features"`
	Prices        map[Interval]string `json:"-"`
}

// Amount returns the price of the plan for interval in cents.
func (p Plan) Amount(interval Interval) int64 {
	if interval == Yearly {
		return p.YearlyAmount
	}
	return p.MonthlyAmount
}

// Catalog is the static (plan, interval) to price id lookup table.
type Catalog struct {
	plans   []Plan
	byPrice map[string]string
}

// NewCatalog builds the catalog from configured price ids. Pairs without a
// price stay in the catalog so they can be listed; checkout rejects them.
func NewCatalog(cfg config.StripeConfig) *Catalog {
	return NewCatalogFromPlans([]Plan{
		{
			Key:           "pro",
			Name:          "Pro",
			Description:   "Everything you need to ship and grow.",
			MonthlyAmount: 2900,
			YearlyAmount:  29000,
			Features: []string{
				"Unlimited projects",
				"API access",
				"Priority support",
			},
			Prices: map[Interval]string{
				Monthly: cfg.PriceProMonthly,
				Yearly:  cfg.PriceProYearly,
			},
		},
	})
}

// NewCatalogFromPlans builds a catalog from an explicit plan list. The
// first plan is the default.
func NewCatalogFromPlans(plans []Plan) *Catalog {
	c := &Catalog{plans: plans, byPrice: make(map[string]string)}
	for _, p := range plans {
		for _, price := range p.Prices {
			if price != "" {
				c.byPrice[price] = p.Key
			}
		}
	}
	return c
}

// Plans lists the catalog in display order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// Plan looks up a plan by key.
func (c *Catalog) Plan(key string) (Plan, bool) {
	for _, p := range c.plans {
		if p.Key == key {
			return p, true
		}
	}
	return Plan{}, false
}

// DefaultPlan is the plan assumed when an event does not name one.
func (c *Catalog) DefaultPlan() string {
	if len(c.plans) == 0 {
		return ""
	}
	return c.plans[0].Key
}

// PlanForPrice maps a provider price id back to a plan key.
func (c *Catalog) PlanForPrice(priceID string) (string, bool) {
	key, ok := c.byPrice[priceID]
	return key, ok
}

// PriceFor resolves the provider price for a plan and interval. An unknown
// plan or interval is a validation error; a known pair without a configured
// price is a configuration error.
func (c *Catalog) PriceFor(planKey string, interval Interval) (string, error) {
	if interval != Monthly && interval != Yearly {
		return "", apierrors.NewValidationError("interval", "interval must be monthly or yearly")
	}
	plan, ok := c.Plan(planKey)
	if !ok {
		return "", apierrors.NewValidationError("plan", fmt.Sprintf("unknown plan %q", planKey))
	}
	price := plan.Prices[interval]
	if price == "" {
		return "", apierrors.NewConfigurationError(
			fmt.Sprintf("No price configured for %s/%s", plan.Key, interval))
	}
	return price, nil
}

// DisplayName returns the human name of a plan key, falling back to the
// capitalised key.
func (c *Catalog) DisplayName(planKey string) string {
	if p, ok := c.Plan(planKey); ok && p.Name != "" {
		return p.Name
	}
	if planKey == "" {
		return ""
	}
	return strings.ToUpper(planKey[:1]) + planKey[1:]
}
