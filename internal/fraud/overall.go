package fraud

import (
	"math"
	"math/big"

	"github.com/mbd888/giftguard/internal/amount"
)

// minSpanHours keeps the transaction rate finite for bursts that share a
// timestamp.
const minSpanHours = 0.01

// ComputeOverall derives the snapshot-level features. An empty snapshot
// yields all zeros.
func ComputeOverall(txs []RawTransaction) (OverallFeatures, error) {
	entries, err := parseAll(txs)
	if err != nil {
		return OverallFeatures{}, err
	}
	return computeOverall(entries), nil
}

func computeOverall(entries []entry) OverallFeatures {
	n := len(entries)
	if n == 0 {
		return OverallFeatures{}
	}

	users := make(map[string]struct{})
	total := new(big.Int)
	bySender := make(map[string]*big.Int)
	minT, maxT := entries[0].tx.CreatedAt, entries[0].tx.CreatedAt
	for _, e := range entries {
		for _, id := range []string{e.tx.SenderID, e.tx.ReceiverID, e.tx.Owner} {
			if id != "" {
				users[id] = struct{}{}
			}
		}
		total.Add(total, e.amt)
		minT = min(minT, e.tx.CreatedAt)
		maxT = max(maxT, e.tx.CreatedAt)

		key := e.tx.SenderID
		if key == "" {
			key = e.tx.Owner
		}
		if key == "" {
			continue
		}
		if bySender[key] == nil {
			bySender[key] = new(big.Int)
		}
		bySender[key].Add(bySender[key], e.amt)
	}

	f := OverallFeatures{
		TotalTransactions: n,
		UniqueUsers:       len(users),
		TotalVolume:       amount.Float(total),
		TimeSpanHours:     float64(maxT-minT) / float64(60*60*1000),
	}
	f.AvgTransactionSize = f.TotalVolume / float64(n)
	f.TransactionRate = float64(n) / math.Max(f.TimeSpanHours, minSpanHours)

	if total.Sign() > 0 {
		var top *big.Int
		for _, v := range bySender {
			if top == nil || v.Cmp(top) > 0 {
				top = v
			}
		}
		if top != nil {
			f.VolumeConcentration, _ = new(big.Rat).SetFrac(top, total).Float64()
		}
	}
	return f
}
