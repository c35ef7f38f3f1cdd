package fraud

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFor_Boundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  RiskLevel
	}{
		{100, LevelHigh},
		{70, LevelHigh},
		{69.999, LevelMedium},
		{40, LevelMedium},
		{39.999, LevelLow},
		{20, LevelLow},
		{19.999, LevelMinimal},
		{0, LevelMinimal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.score), "score %v", tt.score)
	}
}

func TestScoreUser_ZeroTransactions(t *testing.T) {
	score, reasons := ScoreUser(UserFeatures{HighVelocityPeriods: 5, CircularTransactions: true}, utc())
	assert.Equal(t, 0.0, score)
	assert.Empty(t, reasons)
}

func TestScoreUser_Caps(t *testing.T) {
	f := UserFeatures{
		TransactionCount:      10,
		HighVelocityPeriods:   100,
		AmountOutliers:        100,
		RoundAmountRatio:      1,
		LargeTransactionCount: 10,
		OffHoursRatio:         1,
		UniqueCounterparties:  1,
		CircularTransactions:  true,
	}

	score, reasons := ScoreUser(f, utc())
	// 25 + 20 + 15 + 20 + 15 + 10 + 5
	assert.Equal(t, 100.0, score)
	require.Len(t, reasons, 7)

	keys := make([]string, len(reasons))
	for i, r := range reasons {
		keys[i] = r.Key
	}
	assert.Equal(t, []string{
		"high_velocity", "amount_outliers", "round_amounts", "large_transactions",
		"off_hours", "circular_transactions", "low_diversity",
	}, keys)
	assert.Equal(t, "100.0% of transactions during off hours", reasons[4].Text)
	assert.Equal(t, "Only 1 unique counterparties", reasons[6].Text)
}

func TestScoreUser_Triggers(t *testing.T) {
	base := UserFeatures{TransactionCount: 6, UniqueCounterparties: 3}

	tests := []struct {
		name   string
		mutate func(f *UserFeatures)
		want   float64
		key    string
	}{
		{"velocity single", func(f *UserFeatures) { f.HighVelocityPeriods = 1 }, 10, "high_velocity"},
		{"velocity capped", func(f *UserFeatures) { f.HighVelocityPeriods = 3 }, 25, "high_velocity"},
		{"outliers", func(f *UserFeatures) { f.AmountOutliers = 2 }, 10, "amount_outliers"},
		{"outliers capped", func(f *UserFeatures) { f.AmountOutliers = 9 }, 20, "amount_outliers"},
		{"round at trigger", func(f *UserFeatures) { f.RoundAmountRatio = 0.5 }, 0, ""},
		{"round above trigger", func(f *UserFeatures) { f.RoundAmountRatio = 0.6 }, 9, "round_amounts"},
		{"large ratio", func(f *UserFeatures) { f.LargeTransactionCount = 3 }, 10, "large_transactions"},
		{"off hours at trigger", func(f *UserFeatures) { f.OffHoursRatio = 0.3 }, 0, ""},
		{"off hours above trigger", func(f *UserFeatures) { f.OffHoursRatio = 0.4 }, 6, "off_hours"},
		{"circular", func(f *UserFeatures) { f.CircularTransactions = true }, 10, "circular_transactions"},
		{"low diversity", func(f *UserFeatures) { f.UniqueCounterparties = 2 }, 5, "low_diversity"},
		{"low diversity needs volume", func(f *UserFeatures) { f.UniqueCounterparties = 2; f.TransactionCount = 5 }, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := base
			tt.mutate(&f)
			score, reasons := ScoreUser(f, utc())
			assert.InDelta(t, tt.want, score, 1e-9)
			if tt.key == "" {
				assert.Empty(t, reasons)
				return
			}
			require.Len(t, reasons, 1)
			assert.Equal(t, tt.key, reasons[0].Key)
		})
	}
}

func TestScoreUser_MonotonicInEachFeature(t *testing.T) {
	base := UserFeatures{TransactionCount: 10, UniqueCounterparties: 4}

	steps := map[string]func(f *UserFeatures, i int){
		"velocity": func(f *UserFeatures, i int) { f.HighVelocityPeriods = i },
		"outliers": func(f *UserFeatures, i int) { f.AmountOutliers = i },
		"round":    func(f *UserFeatures, i int) { f.RoundAmountRatio = float64(i) / 10 },
		"large":    func(f *UserFeatures, i int) { f.LargeTransactionCount = i },
		"offHours": func(f *UserFeatures, i int) { f.OffHoursRatio = float64(i) / 10 },
	}

	for name, step := range steps {
		t.Run(name, func(t *testing.T) {
			prev := -1.0
			for i := 0; i <= 10; i++ {
				f := base
				step(&f, i)
				score, _ := ScoreUser(f, utc())
				assert.GreaterOrEqual(t, score, prev, "step %d", i)
				assert.GreaterOrEqual(t, score, 0.0)
				assert.LessOrEqual(t, score, 100.0)
				prev = score
			}
		})
	}
}

func TestScoreOverall(t *testing.T) {
	tests := []struct {
		name    string
		f       OverallFeatures
		want    float64
		reasons []string
	}{
		{
			name: "quiet",
			f:    OverallFeatures{TotalTransactions: 5, TransactionRate: 10, VolumeConcentration: 0.8},
			want: 0,
		},
		{
			name:    "busy",
			f:       OverallFeatures{TotalTransactions: 5, TransactionRate: 15},
			want:    10,
			reasons: []string{"High transaction rate: 15.0 per hour"},
		},
		{
			name:    "rate capped",
			f:       OverallFeatures{TotalTransactions: 5, TransactionRate: 500},
			want:    20,
			reasons: []string{"High transaction rate: 500.0 per hour"},
		},
		{
			name:    "concentrated",
			f:       OverallFeatures{TotalTransactions: 5, TransactionRate: 1, VolumeConcentration: 1},
			want:    15,
			reasons: []string{"High volume concentration: 100.0%"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, reasons := ScoreOverall(tt.f, utc())
			assert.InDelta(t, tt.want, score, 1e-9)
			if len(tt.reasons) == 0 {
				assert.Empty(t, reasons)
			} else {
				assert.Equal(t, tt.reasons, reasons.Texts())
			}
		})
	}
}

func TestReasons_JSONKeepsRuleOrder(t *testing.T) {
	r := Reasons{
		{Key: "high_velocity", Text: "2 rapid transaction periods"},
		{Key: "amount_outliers", Text: "1 transactions with unusual amounts"},
	}

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"high_velocity":"2 rapid transaction periods","amount_outliers":"1 transactions with unusual amounts"}`, string(b))

	var back Reasons
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, r, back)

	b, err = json.Marshal(Reasons{})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))
}
