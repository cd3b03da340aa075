package math

import gomath "math"

// Maximum calculates the maximum value among two integers
func Maximum(a int, b int) int {
	if a > b {
		return a
	}
	return b
}

// Percentage returns 100*part/whole, 0 when whole is 0
func Percentage(part int, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return 100 * float64(part) / float64(whole)
}

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	return gomath.Min(gomath.Max(v, lo), hi)
}

// Round rounds v to the given number of decimals
func Round(v float64, decimals int) float64 {
	p := gomath.Pow(10, float64(decimals))
	return gomath.Round(v*p) / p
}
