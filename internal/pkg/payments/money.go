package payments

import "math"

// The core works in major units (lei). The gateway wire format and all
// refund arithmetic use minor units (bani) so that float drift can never
// change a financial comparison.

func minorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func majorUnits(amount int64) float64 {
	return float64(amount) / 100
}
