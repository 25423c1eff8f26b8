package plans

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Plan is one subscription tier. A nil MonthlyUnits means the tier has no
// monthly ceiling. OverageRate is the per-unit price charged past the
// allowance, when the tier supports overage at all.
type Plan struct {
	ID           string
	MonthlyUnits *int64
	OverageRate  *decimal.Decimal
	SLATier      string
}

// Unbounded reports whether the plan enforces no monthly ceiling.
func (p Plan) Unbounded() bool {
	return p.MonthlyUnits == nil
}

// Catalog is the static plan lookup. It is immutable after construction;
// unknown identifiers resolve to the free tier rather than failing.
type Catalog struct {
	plans    map[string]Plan
	fallback Plan
}

const FreePlanID = "free"

// DefaultCatalog returns the built-in tiers.
func DefaultCatalog() *Catalog {
	overage := func(raw string) *decimal.Decimal {
		d := decimal.RequireFromString(raw)
		return &d
	}
	return newCatalog([]Plan{
		{ID: FreePlanID, MonthlyUnits: units(400), SLATier: "community"},
		{ID: "starter", MonthlyUnits: units(5_000), OverageRate: overage("0.01"), SLATier: "standard"},
		{ID: "pro", MonthlyUnits: units(25_000), OverageRate: overage("0.008"), SLATier: "standard"},
		{ID: "business", MonthlyUnits: units(100_000), OverageRate: overage("0.005"), SLATier: "priority"},
		{ID: "enterprise", SLATier: "dedicated"},
	})
}

func units(n int64) *int64 {
	return &n
}

func newCatalog(list []Plan) *Catalog {
	c := &Catalog{plans: make(map[string]Plan, len(list))}
	for _, p := range list {
		c.plans[p.ID] = p
	}
	c.fallback = c.plans[FreePlanID]
	return c
}

// Resolve maps a plan identifier to its definition. Blank or unknown
// identifiers fall back to the free tier.
func (c *Catalog) Resolve(id string) Plan {
	normalized := strings.ToLower(strings.TrimSpace(id))
	if p, ok := c.plans[normalized]; ok {
		return p
	}
	return c.fallback
}

// Has reports whether the catalog defines the plan identifier.
func (c *Catalog) Has(id string) bool {
	_, ok := c.plans[strings.ToLower(strings.TrimSpace(id))]
	return ok
}

// IDs returns the defined plan identifiers, sorted.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.plans))
	for id := range c.plans {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Plans returns all tiers, for diagnostics.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	return out
}

// IsActiveStatus reports whether a subscription status grants the
// subscribed plan. Anything else falls back to the free tier.
func IsActiveStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return true
	}
	return false
}

type planFile struct {
	Plans []planEntry `yaml:"plans"`
}

type planEntry struct {
	ID           string  `yaml:"id"`
	MonthlyUnits *int64  `yaml:"monthly_units"` // absent = unbounded
	OverageRate  string  `yaml:"overage_rate"`
	SLATier      string  `yaml:"sla_tier"`
}

// LoadCatalog reads a YAML plan catalog. Environment variables in the
// format ${VAR} are expanded before parsing. The file must define a
// "free" tier since it is the fallback for unknown plans.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plans: read catalog: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var file planFile
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("plans: parse catalog: %w", err)
	}
	if len(file.Plans) == 0 {
		return nil, fmt.Errorf("plans: catalog defines no plans")
	}

	list := make([]Plan, 0, len(file.Plans))
	seenFree := false
	for _, entry := range file.Plans {
		id := strings.ToLower(strings.TrimSpace(entry.ID))
		if id == "" {
			return nil, fmt.Errorf("plans: catalog entry missing id")
		}
		if id == FreePlanID {
			seenFree = true
		}
		p := Plan{ID: id, MonthlyUnits: entry.MonthlyUnits, SLATier: entry.SLATier}
		if entry.OverageRate != "" {
			rate, err := decimal.NewFromString(entry.OverageRate)
			if err != nil {
				return nil, fmt.Errorf("plans: invalid overage rate for %q: %w", id, err)
			}
			p.OverageRate = &rate
		}
		list = append(list, p)
	}
	if !seenFree {
		return nil, fmt.Errorf("plans: catalog must define a %q tier", FreePlanID)
	}

	return newCatalog(list), nil
}
