package fraud

import (
	"fmt"
	"math/big"

	"github.com/mbd888/giftguard/internal/amount"
)

// Pattern texts that don't carry a count.
const PatternRiskyProportion = "High proportion of risky transactions detected"

// highRiskShare is the share of HIGH transactions above which the
// proportion warning is raised.
const highRiskShare = 0.3

// Analyze runs the full pipeline over txs. The only error is a malformed
// amount. GasUsed and BlockNumber are left zero; see Decorate.
func Analyze(txs []RawTransaction, th Thresholds) (*AnalysisData, error) {
	entries, err := parseAll(txs)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return emptyAnalysis(), nil
	}

	result := detect(entries, th)

	data := &AnalysisData{
		Transactions:         make([]*Transaction, 0, len(entries)),
		TotalTransactions:    len(entries),
		FraudDetectionResult: result,
	}
	volume := new(big.Int)
	for _, e := range entries {
		var sender *UserRiskData
		if e.tx.SenderID != "" {
			sender = result.Users[e.tx.SenderID]
		}
		risk := scoreTransaction(e, sender, th)
		data.Transactions = append(data.Transactions, toTransaction(e, risk))
		volume.Add(volume, e.amt)

		switch risk.Level {
		case LevelHigh:
			data.HighRiskCount++
		case LevelMedium:
			data.MediumRiskCount++
		case LevelLow:
			data.LowRiskCount++
		default:
			data.MinimalRiskCount++
		}
	}
	data.TotalVolume = amount.ToDisplay(volume)
	data.SuspiciousPatterns = suspiciousPatterns(data, result)
	return data, nil
}

// Detect scores every participant and the snapshot as a whole without
// building the per-transaction view.
func Detect(txs []RawTransaction, th Thresholds) (*FraudDetectionResult, error) {
	entries, err := parseAll(txs)
	if err != nil {
		return nil, err
	}
	return detect(entries, th), nil
}

func detect(entries []entry, th Thresholds) *FraudDetectionResult {
	users := make(map[string]*UserRiskData)
	for _, id := range participants(entries) {
		f := extractFeatures(entries, id, th)
		if f.TransactionCount == 0 {
			continue
		}
		score, reasons := ScoreUser(f, th)
		users[id] = &UserRiskData{
			UserID:     id,
			FraudScore: score,
			RiskLevel:  LevelFor(score),
			Reasons:    reasons,
			Features:   f,
		}
	}

	of := computeOverall(entries)
	score, reasons := ScoreOverall(of, th)
	return &FraudDetectionResult{
		Users: users,
		Overall: OverallRisk{
			FraudScore: score,
			RiskLevel:  LevelFor(score),
			Reasons:    reasons,
			Features:   of,
		},
	}
}

// participants lists every non-empty sender, receiver and owner id in
// order of first appearance.
func participants(entries []entry) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, e := range entries {
		for _, id := range []string{e.tx.SenderID, e.tx.ReceiverID, e.tx.Owner} {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

func suspiciousPatterns(data *AnalysisData, result *FraudDetectionResult) []string {
	patterns := append([]string{}, result.Overall.Reasons.Texts()...)

	var highRiskUsers, rapidUsers, circularUsers int
	for _, u := range result.Users {
		if u.RiskLevel == LevelHigh {
			highRiskUsers++
		}
		if u.Features.HighVelocityPeriods > 0 {
			rapidUsers++
		}
		if u.Features.CircularTransactions {
			circularUsers++
		}
	}

	if highRiskUsers > 0 {
		patterns = append(patterns, fmt.Sprintf("%d high-risk users detected", highRiskUsers))
	}
	if float64(data.HighRiskCount) > float64(data.TotalTransactions)*highRiskShare {
		patterns = append(patterns, PatternRiskyProportion)
	}
	if rapidUsers > 0 {
		patterns = append(patterns, fmt.Sprintf("%d users with rapid transaction patterns", rapidUsers))
	}
	if circularUsers > 0 {
		patterns = append(patterns, fmt.Sprintf("%d users with circular transaction patterns", circularUsers))
	}
	return patterns
}

func emptyAnalysis() *AnalysisData {
	return &AnalysisData{
		Transactions:       []*Transaction{},
		SuspiciousPatterns: []string{},
		FraudDetectionResult: &FraudDetectionResult{
			Users: map[string]*UserRiskData{},
			Overall: OverallRisk{
				RiskLevel: LevelMinimal,
				Reasons:   Reasons{},
			},
		},
	}
}
