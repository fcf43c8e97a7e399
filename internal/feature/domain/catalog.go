package domain

import "sort"

// Catalog is an immutable snapshot of every feature definition, active or not.
type Catalog struct {
	ordered     []FeatureDefinition
	byCode      map[string]int
	byDimension map[string]int
}

func NewCatalog(defs []FeatureDefinition) *Catalog {
	ordered := make([]FeatureDefinition, len(defs))
	copy(ordered, defs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].DisplayOrder != ordered[j].DisplayOrder {
			return ordered[i].DisplayOrder < ordered[j].DisplayOrder
		}
		return ordered[i].Code < ordered[j].Code
	})

	c := &Catalog{
		ordered:     ordered,
		byCode:      make(map[string]int, len(ordered)),
		byDimension: make(map[string]int),
	}
	for i, def := range ordered {
		c.byCode[def.Code] = i
		if dim := def.MeteredDimension(); dim != "" {
			c.byDimension[dim] = i
		}
	}
	return c
}

func (c *Catalog) Get(code string) (FeatureDefinition, bool) {
	if c == nil {
		return FeatureDefinition{}, false
	}
	i, ok := c.byCode[code]
	if !ok {
		return FeatureDefinition{}, false
	}
	return c.ordered[i], true
}

func (c *Catalog) ByDimension(dimension string) (FeatureDefinition, bool) {
	if c == nil {
		return FeatureDefinition{}, false
	}
	i, ok := c.byDimension[dimension]
	if !ok {
		return FeatureDefinition{}, false
	}
	return c.ordered[i], true
}

// All returns definitions ordered by display order then code.
func (c *Catalog) All() []FeatureDefinition {
	if c == nil {
		return nil
	}
	out := make([]FeatureDefinition, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Assignable checks that value may be assigned to code by a plan or override.
func (c *Catalog) Assignable(code string, value Value) (FeatureDefinition, error) {
	def, ok := c.Get(code)
	if !ok || !def.IsActive {
		return FeatureDefinition{}, ErrUnknownFeature
	}
	if !value.Matches(def.Type) {
		return FeatureDefinition{}, ErrTypeMismatch
	}
	if err := value.Validate(); err != nil {
		return FeatureDefinition{}, err
	}
	return def, nil
}
