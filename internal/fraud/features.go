package fraud

import (
	"cmp"
	"fmt"
	"math"
	"math/big"
	"slices"
	"sort"

	"github.com/mbd888/giftguard/internal/amount"
)

// entry is a RawTransaction with its amount already parsed.
type entry struct {
	tx    *RawTransaction
	amt   *big.Int
	value float64
}

// parseAll parses every amount up front so a malformed record fails the
// whole run before any scoring happens.
func parseAll(txs []RawTransaction) ([]entry, error) {
	out := make([]entry, len(txs))
	for i := range txs {
		a, err := amount.Parse(txs[i].Amount)
		if err != nil {
			return nil, fmt.Errorf("fraud: transaction %s: %w", txs[i].ID, err)
		}
		out[i] = entry{tx: &txs[i], amt: a, value: amount.Float(a)}
	}
	return out, nil
}

// involves reports whether userID appears in any role on e.
func (e entry) involves(userID string) bool {
	return e.tx.SenderID == userID || e.tx.ReceiverID == userID || e.tx.Owner == userID
}

// ExtractFeatures computes userID's feature vector over txs. A user with no
// transactions gets the zero vector.
func ExtractFeatures(txs []RawTransaction, userID string, th Thresholds) (UserFeatures, error) {
	entries, err := parseAll(txs)
	if err != nil {
		return UserFeatures{}, err
	}
	return extractFeatures(entries, userID, th), nil
}

func extractFeatures(all []entry, userID string, th Thresholds) UserFeatures {
	var mine []entry
	for _, e := range all {
		if e.involves(userID) {
			mine = append(mine, e)
		}
	}
	n := len(mine)
	if n == 0 {
		return UserFeatures{}
	}

	slices.SortStableFunc(mine, func(a, b entry) int {
		return cmp.Compare(a.tx.CreatedAt, b.tx.CreatedAt)
	})

	f := UserFeatures{TransactionCount: n}

	total := new(big.Int)
	values := make([]float64, n)
	times := make([]int64, n)
	var round, offHours int
	for i, e := range mine {
		total.Add(total, e.amt)
		values[i] = e.value
		times[i] = e.tx.CreatedAt
		if th.isRound(e.amt) {
			round++
		}
		if e.amt.Cmp(th.LargeAmount) >= 0 {
			f.LargeTransactionCount++
		}
		if th.isOffHours(e.tx.CreatedAt) {
			offHours++
		}
	}

	f.TotalAmount = amount.Float(total)
	f.AvgAmount = f.TotalAmount / float64(n)
	f.RoundAmountRatio = float64(round) / float64(n)
	f.OffHoursRatio = float64(offHours) / float64(n)
	f.HighVelocityPeriods = velocityPeriods(times, th)

	mean, std := meanStd(values)
	f.AmountStdDev = std
	if std > 0 {
		for _, v := range values {
			if math.Abs(v-mean)/std > th.OutlierZ {
				f.AmountOutliers++
			}
		}
	}

	senders := make(map[string]struct{})
	receivers := make(map[string]struct{})
	for _, e := range mine {
		if e.tx.SenderID != "" {
			senders[e.tx.SenderID] = struct{}{}
		}
		if e.tx.ReceiverID != "" {
			receivers[e.tx.ReceiverID] = struct{}{}
		}
	}
	// minus one for the user themself
	f.UniqueCounterparties = len(senders) + len(receivers) - 1
	for id := range senders {
		if _, ok := receivers[id]; ok {
			f.CircularTransactions = true
			break
		}
	}

	f.MedianAmount = median(values)
	f.AvgSecondsBetween, f.MinSecondsBetween = gaps(times)
	f.UniqueTypes, f.TypeEntropy = typeMix(mine)
	return f
}

// velocityPeriods counts start indices i (all but the last transaction) whose
// window [t_i, t_i+window] holds at least VelocityCount transactions.
// Overlapping windows each count. times must be sorted ascending.
func velocityPeriods(times []int64, th Thresholds) int {
	window := th.VelocityWindow.Milliseconds()
	periods := 0
	for i := 0; i < len(times)-1; i++ {
		lo := sort.Search(len(times), func(j int) bool { return times[j] >= times[i] })
		hi := sort.Search(len(times), func(j int) bool { return times[j] > times[i]+window })
		if hi-lo >= th.VelocityCount {
			periods++
		}
	}
	return periods
}

// meanStd returns the mean and population standard deviation.
func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// gaps returns the average and minimum seconds between consecutive
// timestamps. Fewer than two timestamps yields zeros.
func gaps(times []int64) (avg, minGap float64) {
	if len(times) < 2 {
		return 0, 0
	}
	var sum float64
	minGap = math.Inf(1)
	for i := 1; i < len(times); i++ {
		d := float64(times[i]-times[i-1]) / 1000
		sum += d
		minGap = math.Min(minGap, d)
	}
	return sum / float64(len(times)-1), minGap
}

// typeMix returns the number of distinct types and their Shannon entropy in bits.
func typeMix(entries []entry) (int, float64) {
	counts := make(map[TxType]int)
	for _, e := range entries {
		counts[e.tx.Type]++
	}
	total := len(entries)
	if total <= 1 {
		return len(counts), 0
	}
	// fixed order keeps the float sum reproducible
	types := make([]TxType, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	slices.Sort(types)
	var h float64
	for _, t := range types {
		p := float64(counts[t]) / float64(total)
		h -= p * math.Log2(p)
	}
	return len(counts), h
}
