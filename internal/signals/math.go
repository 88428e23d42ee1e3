package signals

import "math"

// clamp restricts a value to a range
func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// clamp01 restricts a value to [0, 1]
func clamp01(value float64) float64 {
	return clamp(value, 0, 1)
}

// round rounds to specified decimal places
func round(value float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(value*mult) / mult
}

// avg calculates the average of all values
func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// pctChange calculates the fractional change from old to new
func pctChange(old, newVal float64) float64 {
	if old == 0 {
		return 0
	}
	return (newVal - old) / old
}
