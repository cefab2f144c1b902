package tags

import "sort"

// Counter tallies how many users carry each tag.
type Counter struct {
	counts map[string]int
	order  []string // first-seen order, used to break count ties
}

// NewCounter returns an empty Counter.
func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int)}
}

// Add counts every distinct tag in set once.
func (c *Counter) Add(set []string) {
	for _, t := range Normalize(set) {
		if _, ok := c.counts[t]; !ok {
			c.order = append(c.order, t)
		}
		c.counts[t]++
	}
}

// Count returns the tally for tag.
func (c *Counter) Count(tag string) int {
	return c.counts[tag]
}

// Top returns up to limit tags ordered by descending count, skipping any tag
// in exclude. Equal counts keep first-seen order.
func (c *Counter) Top(limit int, exclude []string) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, t := range exclude {
		skip[t] = struct{}{}
	}

	ranked := make([]string, 0, len(c.order))
	for _, t := range c.order {
		if _, ok := skip[t]; ok {
			continue
		}
		ranked = append(ranked, t)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return c.counts[ranked[i]] > c.counts[ranked[j]]
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
