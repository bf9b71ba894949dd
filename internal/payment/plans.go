// Package payment creates Razorpay orders for the Pro plan and turns signed
// Razorpay webhooks into ledger upgrades.
package payment

import (
	"errors"
	"sort"
)

// ErrUnknownPlan is returned for a plan id that is not in the catalog.
var ErrUnknownPlan = errors.New("payment: unknown plan")

// PlanProMonthly is the only paid plan.
const PlanProMonthly = "pro_monthly"

// Plan is a purchasable upgrade. Amount is in the currency's smallest unit.
type Plan struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Catalog holds the plans offered to clients.
type Catalog struct {
	plans map[string]Plan
}

// NewCatalog builds the catalog with the Pro plan priced as configured.
func NewCatalog(proAmount int64, currency string) *Catalog {
	return &Catalog{plans: map[string]Plan{
		PlanProMonthly: {
			ID:       PlanProMonthly,
			Name:     "Pro (monthly)",
			Amount:   proAmount,
			Currency: currency,
		},
	}}
}

// Lookup returns the plan with the given id. An empty id selects the Pro plan.
func (c *Catalog) Lookup(id string) (Plan, error) {
	if id == "" {
		id = PlanProMonthly
	}
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return p, nil
}

// List returns all plans ordered by id.
func (c *Catalog) List() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
