// Package catalog holds the static table of purchasable trending plans.
// The table is fixed at process start and identical across instances;
// nothing is persisted.
package catalog

import "sort"

type Plan struct {
	ID          string
	DisplayName string
	PriceUSD    int64
}

type Catalog struct {
	plans map[string]Plan
	order []string
}

// Default returns the built-in plan table.
func Default() *Catalog {
	return New([]Plan{
		{ID: "slot1", DisplayName: "🥇 Trending Spot #1", PriceUSD: 1500},
		{ID: "slot2", DisplayName: "🥈 Trending Spot #2", PriceUSD: 1000},
		{ID: "fast", DisplayName: "⚡ Fast-Track Listing", PriceUSD: 500},
	})
}

func New(plans []Plan) *Catalog {
	c := &Catalog{plans: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		if _, dup := c.plans[p.ID]; dup {
			continue
		}
		c.plans[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c
}

// Lookup returns the plan for id. A miss is a user-facing soft error for the
// caller; plan ids arrive from externally-sourced callback data.
func (c *Catalog) Lookup(id string) (Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// List returns all plans in insertion order, most expensive first on ties of
// insertion (the menu shows premium slots on top).
func (c *Catalog) List() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PriceUSD > out[j].PriceUSD })
	return out
}
