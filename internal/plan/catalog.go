// Package plan holds the static plan catalog: tier quotas, provider price
// references, and trial constants.
package plan

import (
	"errors"
	"strings"

	"github.com/paperstreamhq/paperstream/internal/config"
)

// ID identifies a plan tier.
type ID string

const (
	Starter    ID = "starter"
	Pro        ID = "pro"
	Enterprise ID = "enterprise"
)

var ErrUnknownPlan = errors.New("unknown_plan")

// Plan is one catalog row.
type Plan struct {
	ID           ID
	PriceID      string
	MonthlyQuota int
}

// Catalog is an immutable lookup over the configured plan tiers.
type Catalog struct {
	plans      map[ID]Plan
	byPrice    map[string]ID
	trialDays  int
	trialQuota int
}

func NewCatalog(settings config.PlanSettings) Catalog {
	plans := map[ID]Plan{
		Starter:    {ID: Starter, PriceID: settings.Starter.PriceID, MonthlyQuota: settings.Starter.MonthlyQuota},
		Pro:        {ID: Pro, PriceID: settings.Pro.PriceID, MonthlyQuota: settings.Pro.MonthlyQuota},
		Enterprise: {ID: Enterprise, PriceID: settings.Enterprise.PriceID, MonthlyQuota: settings.Enterprise.MonthlyQuota},
	}

	byPrice := make(map[string]ID, len(plans))
	for id, p := range plans {
		if strings.TrimSpace(p.PriceID) != "" {
			byPrice[p.PriceID] = id
		}
	}

	return Catalog{
		plans:      plans,
		byPrice:    byPrice,
		trialDays:  settings.TrialDays,
		trialQuota: settings.TrialQuota,
	}
}

// Resolve returns the catalog row for a plan id.
func (c Catalog) Resolve(id ID) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return p, nil
}

// ParseID validates a raw plan identifier.
func ParseID(raw string) (ID, error) {
	switch ID(strings.ToLower(strings.TrimSpace(raw))) {
	case Starter:
		return Starter, nil
	case Pro:
		return Pro, nil
	case Enterprise:
		return Enterprise, nil
	default:
		return "", ErrUnknownPlan
	}
}

// ByPriceID maps a provider price reference back to a plan id. Unknown
// prices return false; callers must not guess.
func (c Catalog) ByPriceID(priceID string) (ID, bool) {
	id, ok := c.byPrice[strings.TrimSpace(priceID)]
	return id, ok
}

func (c Catalog) TrialDays() int  { return c.trialDays }
func (c Catalog) TrialQuota() int { return c.trialQuota }

// Rank orders tiers for upgrade/downgrade guards. Higher is bigger.
func Rank(id ID) int {
	switch id {
	case Starter:
		return 1
	case Pro:
		return 2
	case Enterprise:
		return 3
	default:
		return 0
	}
}
