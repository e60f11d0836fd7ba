package workload

import (
	"fmt"
	"math/rand"
	"sort"
)

// CatalogSpec configures the item identifier space and which identifiers are in stock.
//
// When AvailableIDs is empty, Available identifiers are drawn without
// replacement from [MinID, MaxID].
type CatalogSpec struct {
	MinID        int   `yaml:"min_id" validate:"gte=0"`
	MaxID        int   `yaml:"max_id" validate:"gtefield=MinID"`
	Available    int   `yaml:"available" validate:"gte=0"`
	AvailableIDs []int `yaml:"available_ids,omitempty"`
}

// Catalog is the read-only item universe of a run.
// Safe for concurrent reads once built.
type Catalog struct {
	minID, maxID int
	available    map[int]struct{}
}

// NewCatalog builds a Catalog, drawing the available set from rng when needed.
func NewCatalog(spec CatalogSpec, rng *rand.Rand) (*Catalog, error) {
	if spec.MaxID < spec.MinID {
		return nil, fmt.Errorf("catalog max_id %d < min_id %d", spec.MaxID, spec.MinID)
	}
	c := &Catalog{
		minID:     spec.MinID,
		maxID:     spec.MaxID,
		available: make(map[int]struct{}),
	}
	if len(spec.AvailableIDs) > 0 {
		for _, id := range spec.AvailableIDs {
			c.available[id] = struct{}{}
		}
		return c, nil
	}
	span := spec.MaxID - spec.MinID + 1
	if spec.Available > span {
		return nil, fmt.Errorf("catalog cannot hold %d available ids in a range of %d", spec.Available, span)
	}
	for _, off := range rng.Perm(span)[:spec.Available] {
		c.available[spec.MinID+off] = struct{}{}
	}
	return c, nil
}

// Contains reports whether id is in stock.
func (c *Catalog) Contains(id int) bool {
	_, ok := c.available[id]
	return ok
}

// Missing returns the sorted, de-duplicated identifiers of items that are not in stock.
// Returns nil when every item is available.
func (c *Catalog) Missing(items []int) []int {
	var missing []int
	seen := make(map[int]bool)
	for _, id := range items {
		if c.Contains(id) || seen[id] {
			continue
		}
		seen[id] = true
		missing = append(missing, id)
	}
	sort.Ints(missing)
	return missing
}

// Size returns the number of available identifiers.
func (c *Catalog) Size() int {
	return len(c.available)
}

// AvailableIDs returns the in-stock identifiers in ascending order.
func (c *Catalog) AvailableIDs() []int {
	ids := make([]int, 0, len(c.available))
	for id := range c.available {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// SampleItems draws n identifiers uniformly from the catalog's id range.
// Duplicates are allowed, as in a real basket.
func (c *Catalog) SampleItems(rng *rand.Rand, n int) []int {
	items := make([]int, n)
	span := c.maxID - c.minID + 1
	for i := range items {
		items[i] = c.minID + rng.Intn(span)
	}
	return items
}

// IntRange is an inclusive integer range sampled uniformly.
type IntRange struct {
	Min int `yaml:"min" validate:"gte=1"`
	Max int `yaml:"max" validate:"gtefield=Min"`
}

// Sample draws a value in [Min, Max].
func (r IntRange) Sample(rng *rand.Rand) int {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rng.Intn(r.Max-r.Min+1)
}
