package surveillance

import "math"

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStdDev uses the n-1 denominator. It is undefined below two values.
func sampleStdDev(xs []float64, m float64) (float64, bool) {
	if len(xs) < 2 {
		return 0, false
	}
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1)), true
}

// slopeByIndex fits ys against x = 0..n-1 by ordinary least squares.
func slopeByIndex(ys []float64) (float64, bool) {
	n := len(ys)
	if n < 2 {
		return 0, false
	}
	xBar := float64(n-1) / 2
	yBar := mean(ys)

	var num, den float64
	for i, y := range ys {
		dx := float64(i) - xBar
		num += dx * (y - yBar)
		den += dx * dx
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
