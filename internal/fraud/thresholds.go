package fraud

import (
	"math/big"
	"time"

	"github.com/mbd888/giftguard/internal/amount"
)

// Thresholds holds every tuning constant used by the pipeline. Amounts are
// in base units.
type Thresholds struct {
	// Velocity: VelocityCount or more transactions inside VelocityWindow.
	VelocityWindow time.Duration
	VelocityCount  int

	// Amount tiers.
	LargeAmount       *big.Int // "very large", also the user large-transaction cutoff (>=)
	MediumLargeAmount *big.Int // "large" (>)
	ElevatedAmount    *big.Int // lowest scored tier (>)
	RoundUnit         *big.Int

	// Off-hours is [OffHoursStart:00, OffHoursEnd:00) in Location.
	OffHoursStart int
	OffHoursEnd   int
	Location      *time.Location

	OutlierZ float64

	// User rule triggers.
	RoundRatioTrigger    float64
	OffHoursRatioTrigger float64
	LowDiversityMinTx    int
	LowDiversityMaxPeers int

	// Sender flag trigger for habitual off-hours activity.
	SenderOffHoursFlagRatio float64

	// Overall rule triggers.
	HighRatePerHour      float64
	ConcentrationTrigger float64
}

// DefaultThresholds returns the production tuning. Hour-of-day checks use
// the process's local zone.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VelocityWindow:          300 * time.Second,
		VelocityCount:           3,
		LargeAmount:             amount.MustParse("1000000000"),
		MediumLargeAmount:       amount.MustParse("500000000"),
		ElevatedAmount:          amount.MustParse("100000000"),
		RoundUnit:               amount.MustParse("1000000"),
		OffHoursStart:           22,
		OffHoursEnd:             6,
		Location:                time.Local,
		OutlierZ:                3,
		RoundRatioTrigger:       0.5,
		OffHoursRatioTrigger:    0.3,
		LowDiversityMinTx:       5,
		LowDiversityMaxPeers:    2,
		SenderOffHoursFlagRatio: 0.5,
		HighRatePerHour:         10,
		ConcentrationTrigger:    0.8,
	}
}

// WithLocation returns a copy of th that evaluates hours in loc.
func (th Thresholds) WithLocation(loc *time.Location) Thresholds {
	th.Location = loc
	return th
}

// isOffHours reports whether the ms timestamp falls in the off-hours window.
// A window with start > end wraps past midnight.
func (th Thresholds) isOffHours(ms int64) bool {
	loc := th.Location
	if loc == nil {
		loc = time.Local
	}
	hour := time.UnixMilli(ms).In(loc).Hour()
	if th.OffHoursStart > th.OffHoursEnd {
		return hour >= th.OffHoursStart || hour < th.OffHoursEnd
	}
	return hour >= th.OffHoursStart && hour < th.OffHoursEnd
}

func (th Thresholds) isRound(a *big.Int) bool {
	return amount.IsMultipleOf(a, th.RoundUnit)
}
