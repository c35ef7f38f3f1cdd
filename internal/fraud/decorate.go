package fraud

import "math/rand/v2"

// Display ranges for the synthetic chain fields.
const (
	gasUsedBase     = 21000
	gasUsedSpread   = 200000
	blockNumberBase = 18950000
	blockSpread     = 1000000
)

// Decorate fills the presentation-only GasUsed and BlockNumber fields from
// rng. Scores, levels and flags are left untouched.
func Decorate(data *AnalysisData, rng *rand.Rand) {
	if data == nil || rng == nil {
		return
	}
	for _, tx := range data.Transactions {
		tx.GasUsed = gasUsedBase + rng.Int64N(gasUsedSpread)
		tx.BlockNumber = blockNumberBase + rng.Int64N(blockSpread)
	}
}
