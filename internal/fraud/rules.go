package fraud

import (
	"fmt"
	"math"
)

// rule is one additive scoring rule. Rules are evaluated in list order and
// every rule that applies contributes; none short-circuits the others.
type rule[F any] struct {
	key          string
	applies      func(f *F) bool
	contribution func(f *F) float64
	reason       func(f *F) string
}

// evaluate sums the triggered contributions, clamps to 100 and collects
// reasons in rule order.
func evaluate[F any](rules []rule[F], f *F) (float64, Reasons) {
	var score float64
	reasons := Reasons{}
	for _, r := range rules {
		if !r.applies(f) {
			continue
		}
		score += r.contribution(f)
		reasons = append(reasons, Reason{Key: r.key, Text: r.reason(f)})
	}
	return clampScore(score), reasons
}

func clampScore(s float64) float64 {
	return math.Max(0, math.Min(s, 100))
}

func percent(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// ---------------------------------------------------------------------------
// User rules
// ---------------------------------------------------------------------------

func userRules(th Thresholds) []rule[UserFeatures] {
	return []rule[UserFeatures]{
		{
			key:          "high_velocity",
			applies:      func(f *UserFeatures) bool { return f.HighVelocityPeriods > 0 },
			contribution: func(f *UserFeatures) float64 { return math.Min(float64(f.HighVelocityPeriods)*10, 25) },
			reason:       func(f *UserFeatures) string { return fmt.Sprintf("%d rapid transaction periods", f.HighVelocityPeriods) },
		},
		{
			key:          "amount_outliers",
			applies:      func(f *UserFeatures) bool { return f.AmountOutliers > 0 },
			contribution: func(f *UserFeatures) float64 { return math.Min(float64(f.AmountOutliers)*5, 20) },
			reason: func(f *UserFeatures) string {
				return fmt.Sprintf("%d transactions with unusual amounts", f.AmountOutliers)
			},
		},
		{
			key:          "round_amounts",
			applies:      func(f *UserFeatures) bool { return f.RoundAmountRatio > th.RoundRatioTrigger },
			contribution: func(f *UserFeatures) float64 { return f.RoundAmountRatio * 15 },
			reason: func(f *UserFeatures) string {
				return percent(f.RoundAmountRatio) + " of amounts are round numbers"
			},
		},
		{
			// ratio uses the user's total transaction count as denominator
			key:     "large_transactions",
			applies: func(f *UserFeatures) bool { return f.LargeTransactionCount > 0 },
			contribution: func(f *UserFeatures) float64 {
				return math.Min(float64(f.LargeTransactionCount)/float64(f.TransactionCount)*20, 20)
			},
			reason: func(f *UserFeatures) string {
				return fmt.Sprintf("%d very large transactions", f.LargeTransactionCount)
			},
		},
		{
			key:          "off_hours",
			applies:      func(f *UserFeatures) bool { return f.OffHoursRatio > th.OffHoursRatioTrigger },
			contribution: func(f *UserFeatures) float64 { return f.OffHoursRatio * 15 },
			reason: func(f *UserFeatures) string {
				return percent(f.OffHoursRatio) + " of transactions during off hours"
			},
		},
		{
			key:          "circular_transactions",
			applies:      func(f *UserFeatures) bool { return f.CircularTransactions },
			contribution: func(*UserFeatures) float64 { return 10 },
			reason:       func(*UserFeatures) string { return "Potential circular transaction patterns detected" },
		},
		{
			key: "low_diversity",
			applies: func(f *UserFeatures) bool {
				return f.TransactionCount > th.LowDiversityMinTx && f.UniqueCounterparties <= th.LowDiversityMaxPeers
			},
			contribution: func(*UserFeatures) float64 { return 5 },
			reason: func(f *UserFeatures) string {
				return fmt.Sprintf("Only %d unique counterparties", f.UniqueCounterparties)
			},
		},
	}
}

// ScoreUser scores a feature vector. Zero transactions score 0 with no reasons.
func ScoreUser(f UserFeatures, th Thresholds) (float64, Reasons) {
	if f.TransactionCount == 0 {
		return 0, Reasons{}
	}
	return evaluate(userRules(th), &f)
}

// ---------------------------------------------------------------------------
// Overall rules
// ---------------------------------------------------------------------------

func overallRules(th Thresholds) []rule[OverallFeatures] {
	return []rule[OverallFeatures]{
		{
			key:     "high_rate",
			applies: func(f *OverallFeatures) bool { return f.TransactionRate > th.HighRatePerHour },
			contribution: func(f *OverallFeatures) float64 {
				return math.Min((f.TransactionRate-th.HighRatePerHour)*2, 20)
			},
			reason: func(f *OverallFeatures) string {
				return fmt.Sprintf("High transaction rate: %.1f per hour", f.TransactionRate)
			},
		},
		{
			key:          "concentration",
			applies:      func(f *OverallFeatures) bool { return f.VolumeConcentration > th.ConcentrationTrigger },
			contribution: func(f *OverallFeatures) float64 { return f.VolumeConcentration * 15 },
			reason: func(f *OverallFeatures) string {
				return "High volume concentration: " + percent(f.VolumeConcentration)
			},
		},
	}
}

// ScoreOverall scores the snapshot-level features.
func ScoreOverall(f OverallFeatures, th Thresholds) (float64, Reasons) {
	if f.TotalTransactions == 0 {
		return 0, Reasons{}
	}
	return evaluate(overallRules(th), &f)
}
