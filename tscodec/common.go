package tscodec

import "math"

func floatBits(v float64) uint64 {
	return math.Float64bits(v)
}

func floatFromBits(v uint64) float64 {
	return math.Float64frombits(v)
}
