// Package fraud implements the ledger risk analysis pipeline.
//
// A run takes a snapshot of raw ledger transactions and produces:
//  1. A feature vector per participant (sender, receiver or owner)
//  2. A 0-100 fraud score per participant, with ordered reasons
//  3. A 0-100 risk score and flag list per transaction
//  4. An aggregate summary with tier counts and suspicious patterns
//
// Every stage is a pure function of its input and a Thresholds value.
// Nothing here performs I/O or keeps state between runs.
package fraud

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Status is the settlement state of a ledger transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// TxType is the kind of ledger movement.
type TxType string

const (
	TypeGiftGive    TxType = "gift-give"
	TypeGiftReceive TxType = "gift-receive"
	TypeFee         TxType = "fee"
	TypeTopUp       TxType = "top-up"
	TypeCashOut     TxType = "cash-out"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	switch t {
	case TypeGiftGive, TypeGiftReceive, TypeFee, TypeTopUp, TypeCashOut:
		return true
	}
	return false
}

// RawTransaction is a ledger record as supplied to the pipeline.
// Amount is an integer decimal string in base units.
type RawTransaction struct {
	ID           string `json:"_id"`
	Amount       string `json:"amount"`
	CreatedAt    int64  `json:"createdAt"` // ms since epoch
	SenderID     string `json:"senderId,omitempty"`
	ReceiverID   string `json:"receiverId,omitempty"`
	Owner        string `json:"owner,omitempty"`
	Status       Status `json:"status"`
	Type         TxType `json:"type"`
	TxHash       string `json:"txHash,omitempty"`
	GiftID       string `json:"giftId,omitempty"`
	LivestreamID string `json:"livestreamId,omitempty"`
}

// RiskLevel buckets a 0-100 score.
type RiskLevel string

const (
	LevelHigh    RiskLevel = "HIGH"
	LevelMedium  RiskLevel = "MEDIUM"
	LevelLow     RiskLevel = "LOW"
	LevelMinimal RiskLevel = "MINIMAL"
)

// LevelFor maps a score to its risk level. Lower bounds are inclusive.
func LevelFor(score float64) RiskLevel {
	switch {
	case score >= 70:
		return LevelHigh
	case score >= 40:
		return LevelMedium
	case score >= 20:
		return LevelLow
	default:
		return LevelMinimal
	}
}

// Reason is one triggered rule and its explanation.
type Reason struct {
	Key  string
	Text string
}

// Reasons keeps rule explanations in evaluation order. It encodes as a
// JSON object whose keys appear in that order.
type Reasons []Reason

// Get returns the text for key.
func (r Reasons) Get(key string) (string, bool) {
	for _, reason := range r {
		if reason.Key == key {
			return reason.Text, true
		}
	}
	return "", false
}

// Texts returns the explanation strings in order.
func (r Reasons) Texts() []string {
	out := make([]string, len(r))
	for i, reason := range r {
		out[i] = reason.Text
	}
	return out
}

func (r Reasons) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, reason := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(reason.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(reason.Text)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Reasons) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*r = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("reasons: expected object, got %v", tok)
	}
	out := Reasons{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("reasons: expected key, got %v", kt)
		}
		var text string
		if err := dec.Decode(&text); err != nil {
			return fmt.Errorf("reasons: value for %q: %w", key, err)
		}
		out = append(out, Reason{Key: key, Text: text})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = out
	return nil
}

// UserFeatures is the per-participant feature vector. The fields after
// AmountOutliers are informational and never scored.
type UserFeatures struct {
	TransactionCount      int     `json:"transactionCount"`
	TotalAmount           float64 `json:"totalAmount"`
	AvgAmount             float64 `json:"avgAmount"`
	HighVelocityPeriods   int     `json:"highVelocityPeriods"`
	RoundAmountRatio      float64 `json:"roundAmountRatio"`
	LargeTransactionCount int     `json:"largeTransactionCount"`
	OffHoursRatio         float64 `json:"offHoursRatio"`
	UniqueCounterparties  int     `json:"uniqueCounterparties"`
	CircularTransactions  bool    `json:"circularTransactions"`
	AmountOutliers        int     `json:"amountOutliers"`

	MedianAmount      float64 `json:"medianAmount"`
	AmountStdDev      float64 `json:"amountStdDev"`
	AvgSecondsBetween float64 `json:"avgSecondsBetween"`
	MinSecondsBetween float64 `json:"minSecondsBetween"`
	UniqueTypes       int     `json:"uniqueTypes"`
	TypeEntropy       float64 `json:"typeEntropy"`
}

// UserRiskData is the scored result for one participant.
type UserRiskData struct {
	UserID     string       `json:"userId"`
	FraudScore float64      `json:"fraudScore"`
	RiskLevel  RiskLevel    `json:"riskLevel"`
	Reasons    Reasons      `json:"reasons"`
	Features   UserFeatures `json:"features"`
}

// OverallFeatures describes the whole snapshot. Volumes are in base units.
type OverallFeatures struct {
	TotalTransactions   int     `json:"totalTransactions"`
	UniqueUsers         int     `json:"uniqueUsers"`
	TotalVolume         float64 `json:"totalVolume"`
	AvgTransactionSize  float64 `json:"avgTransactionSize"`
	TimeSpanHours       float64 `json:"timeSpanHours"`
	TransactionRate     float64 `json:"transactionRate"`
	VolumeConcentration float64 `json:"volumeConcentration"`
}

// OverallRisk is the snapshot-level score.
type OverallRisk struct {
	FraudScore float64         `json:"fraudScore"`
	RiskLevel  RiskLevel       `json:"riskLevel"`
	Reasons    Reasons         `json:"reasons"`
	Features   OverallFeatures `json:"features"`
}

// FraudDetectionResult holds every participant's result plus the overall one.
type FraudDetectionResult struct {
	Users   map[string]*UserRiskData `json:"users"`
	Overall OverallRisk              `json:"overall"`
}

// Transaction is the scored, display-ready form of a RawTransaction.
// Amount is in display units. GasUsed and BlockNumber are only set by
// Decorate.
type Transaction struct {
	ID          string    `json:"id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Owner       string    `json:"owner,omitempty"`
	Amount      float64   `json:"amount"`
	RawAmount   string    `json:"rawAmount"`
	Timestamp   int64     `json:"timestamp"`
	RiskScore   float64   `json:"riskScore"`
	RiskLevel   RiskLevel `json:"riskLevel"`
	FraudFlags  []string  `json:"fraudFlags"`
	GasUsed     int64     `json:"gasUsed"`
	BlockNumber int64     `json:"blockNumber"`
	Type        TxType    `json:"type"`
	Status      Status    `json:"status"`
	TxHash      string    `json:"txHash,omitempty"`
}

// AnalysisData is the final result of a run.
type AnalysisData struct {
	Transactions         []*Transaction        `json:"transactions"`
	TotalTransactions    int                   `json:"totalTransactions"`
	HighRiskCount        int                   `json:"highRiskCount"`
	MediumRiskCount      int                   `json:"mediumRiskCount"`
	LowRiskCount         int                   `json:"lowRiskCount"`
	MinimalRiskCount     int                   `json:"minimalRiskCount"`
	TotalVolume          float64               `json:"totalVolume"`
	SuspiciousPatterns   []string              `json:"suspiciousPatterns"`
	FraudDetectionResult *FraudDetectionResult `json:"fraudDetectionResult"`
}
