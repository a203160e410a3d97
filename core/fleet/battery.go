package fleet

import "errors"

const (
	// EmptyBattery and FullBattery bound the battery level.
	EmptyBattery = 0.0
	FullBattery  = 10.0
	// LowBatteryThreshold triggers a charging request (below 20 %).
	LowBatteryThreshold = 2.0
)

// ErrInvalidBatteryLevel is returned for NaN or infinite levels.
var ErrInvalidBatteryLevel = errors.New("invalid battery level")

// ClampBattery saturates x into [EmptyBattery, FullBattery].
func ClampBattery(x float64) float64 {
	if x < EmptyBattery {
		return EmptyBattery
	}
	if x > FullBattery {
		return FullBattery
	}
	return x
}
