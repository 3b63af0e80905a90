// Package percent holds the rate adjustment helpers used by the trading
// thresholds. Percentages are expressed in whole units, so 1.5 means 1.5%.
package percent

// Add returns value increased by percent.
func Add(value, percent float64) float64 {
	return value * (percent/100 + 1)
}

// Sub returns value decreased by percent.
func Sub(value, percent float64) float64 {
	return value - value*percent/100
}
