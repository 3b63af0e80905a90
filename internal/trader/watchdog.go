package trader

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrFeedSilent is returned when a product's feed stopped sending heartbeats.
var ErrFeedSilent = errors.New("price feed silent")

// Watchdog counts the seconds since the last heartbeat of every product.
type Watchdog struct {
	mu        sync.Mutex
	misses    map[string]int
	threshold int
}

// NewWatchdog creates a watchdog for products that trips once a product has
// been silent for more than threshold ticks.
func NewWatchdog(products []string, threshold int) *Watchdog {
	misses := make(map[string]int, len(products))
	for _, p := range products {
		misses[p] = 0
	}
	return &Watchdog{misses: misses, threshold: threshold}
}

// Reset records a heartbeat for product.
func (w *Watchdog) Reset(product string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.misses[product]; ok {
		w.misses[product] = 0
	}
}

// Tick advances every counter by one second. It returns an error wrapping
// ErrFeedSilent naming the silent products once any counter exceeds the
// threshold.
func (w *Watchdog) Tick() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var silent []string
	for p := range w.misses {
		w.misses[p]++
		if w.misses[p] > w.threshold {
			silent = append(silent, p)
		}
	}
	if len(silent) == 0 {
		return nil
	}
	sort.Strings(silent)
	return fmt.Errorf("%w: no heartbeat for %d seconds from %v", ErrFeedSilent, w.threshold, silent)
}

// Misses returns the seconds since product's last heartbeat.
func (w *Watchdog) Misses(product string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.misses[product]
}
