package trader

import "sync"

// CooldownLedger suspends buys of a product for a number of seconds.
type CooldownLedger struct {
	mu        sync.Mutex
	remaining map[string]int
}

func NewCooldownLedger() *CooldownLedger {
	return &CooldownLedger{remaining: make(map[string]int)}
}

// Start suspends buys of product for seconds, replacing any running cooldown.
func (c *CooldownLedger) Start(product string, seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining[product] = seconds
}

// Active reports whether product is cooling down.
func (c *CooldownLedger) Active(product string) bool {
	return c.Remaining(product) > 0
}

// Remaining returns the seconds left before product may buy again.
func (c *CooldownLedger) Remaining(product string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining[product]
}

// Tick decrements every running cooldown by one second.
func (c *CooldownLedger) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for p, s := range c.remaining {
		if s <= 1 {
			delete(c.remaining, p)
			continue
		}
		c.remaining[p] = s - 1
	}
}
