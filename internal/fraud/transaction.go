package fraud

import (
	"math"
	"math/big"

	"github.com/mbd888/giftguard/internal/amount"
)

// Transaction flag texts.
const (
	FlagVeryLarge         = "Very large amount"
	FlagLarge             = "Large amount"
	FlagIncomplete        = "Incomplete transaction"
	FlagSuspiciousTopUp   = "Suspicious top-up"
	FlagOffHours          = "Off-hours transaction"
	FlagSenderVelocity    = "User has rapid transaction patterns"
	FlagSenderCircular    = "User involved in circular transactions"
	FlagSenderOutliers    = "User has unusual transaction amounts"
	FlagSenderOffHours    = "User frequently transacts off-hours"
	FlagSenderFewCounters = "User has limited counterparties"
)

// maxSenderInfluence caps how much the sender's own score can add.
const maxSenderInfluence = 25

// TransactionRisk is the score, level and flags of one transaction.
type TransactionRisk struct {
	Score float64
	Level RiskLevel
	Flags []string
}

// ScoreTransaction scores tx on its own attributes plus, when sender is
// non-nil, the sender's precomputed risk.
func ScoreTransaction(tx RawTransaction, sender *UserRiskData, th Thresholds) (TransactionRisk, error) {
	entries, err := parseAll([]RawTransaction{tx})
	if err != nil {
		return TransactionRisk{}, err
	}
	return scoreTransaction(entries[0], sender, th), nil
}

func scoreTransaction(e entry, sender *UserRiskData, th Thresholds) TransactionRisk {
	score := amountTierPoints(e.amt, th)
	if th.isRound(e.amt) {
		score += 10
	}
	if e.tx.Status != StatusCompleted {
		score += 30
	}
	score += typePoints(e.tx.Type, e.amt, th)
	offHours := th.isOffHours(e.tx.CreatedAt)
	if offHours {
		score += 15
	}
	if sender != nil {
		score += math.Min(sender.FraudScore*0.3, maxSenderInfluence)
	}
	score = clampScore(score)

	return TransactionRisk{
		Score: score,
		Level: LevelFor(score),
		Flags: transactionFlags(e, offHours, sender, th),
	}
}

func amountTierPoints(a *big.Int, th Thresholds) float64 {
	switch {
	case a.Cmp(th.LargeAmount) >= 0:
		return 40
	case a.Cmp(th.MediumLargeAmount) > 0:
		return 25
	case a.Cmp(th.ElevatedAmount) > 0:
		return 15
	default:
		return 0
	}
}

func typePoints(t TxType, a *big.Int, th Thresholds) float64 {
	switch t {
	case TypeTopUp:
		if a.Cmp(th.MediumLargeAmount) > 0 {
			return 20
		}
		return 10
	case TypeGiftGive:
		if a.Cmp(th.LargeAmount) > 0 {
			return 15
		}
		return 5
	case TypeFee:
		return 5
	case TypeGiftReceive:
		return 3
	default:
		return 0
	}
}

func transactionFlags(e entry, offHours bool, sender *UserRiskData, th Thresholds) []string {
	flags := []string{}
	switch {
	case e.amt.Cmp(th.LargeAmount) >= 0:
		flags = append(flags, FlagVeryLarge)
	case e.amt.Cmp(th.MediumLargeAmount) > 0:
		flags = append(flags, FlagLarge)
	}
	if e.tx.Status != StatusCompleted {
		flags = append(flags, FlagIncomplete)
	}
	if e.tx.Type == TypeTopUp && e.amt.Cmp(th.MediumLargeAmount) > 0 {
		flags = append(flags, FlagSuspiciousTopUp)
	}
	if offHours {
		flags = append(flags, FlagOffHours)
	}
	if sender == nil {
		return flags
	}

	sf := sender.Features
	if sf.HighVelocityPeriods > 0 {
		flags = append(flags, FlagSenderVelocity)
	}
	if sf.CircularTransactions {
		flags = append(flags, FlagSenderCircular)
	}
	if sf.AmountOutliers > 0 {
		flags = append(flags, FlagSenderOutliers)
	}
	if sf.OffHoursRatio > th.SenderOffHoursFlagRatio {
		flags = append(flags, FlagSenderOffHours)
	}
	if sf.UniqueCounterparties <= th.LowDiversityMaxPeers && sf.TransactionCount > th.LowDiversityMinTx {
		flags = append(flags, FlagSenderFewCounters)
	}
	return flags
}

// toTransaction builds the display record for e.
func toTransaction(e entry, risk TransactionRisk) *Transaction {
	return &Transaction{
		ID:         e.tx.ID,
		From:       e.tx.SenderID,
		To:         e.tx.ReceiverID,
		Owner:      e.tx.Owner,
		Amount:     amount.ToDisplay(e.amt),
		RawAmount:  e.amt.String(),
		Timestamp:  e.tx.CreatedAt,
		RiskScore:  risk.Score,
		RiskLevel:  risk.Level,
		FraudFlags: risk.Flags,
		Type:       e.tx.Type,
		Status:     e.tx.Status,
		TxHash:     e.tx.TxHash,
	}
}
