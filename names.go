package loft

import "fmt"

// NameContext mints fresh symbol names for one compilation unit. Each
// unit owns exactly one context and threads it through every constructor
// that needs a new symbol, so two units never contend for a shared
// counter and generated names are deterministic per unit.
type NameContext struct {
	counters map[string]int
}

// NewNameContext returns an empty naming context.
func NewNameContext() *NameContext {
	return &NameContext{counters: make(map[string]int)}
}

// Fresh returns a name of the form prefix$N, unique within this context.
func (c *NameContext) Fresh(prefix string) string {
	n := c.counters[prefix]
	c.counters[prefix] = n + 1
	return fmt.Sprintf("%s$%d", prefix, n)
}

// Reserve marks a user-chosen name as taken so Fresh never collides
// with it. Callers guarantee uniqueness of the names they register, so
// re-reserving is a no-op rather than an error.
func (c *NameContext) Reserve(name string) {
	if _, taken := c.counters[name]; taken {
		return
	}
	c.counters[name] = 1
}
