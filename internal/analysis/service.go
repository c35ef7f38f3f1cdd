// Package analysis runs the fraud pipeline against ledger snapshots on
// behalf of analysis sessions and ad-hoc admin uploads.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/mbd888/giftguard/internal/fraud"
	"github.com/mbd888/giftguard/internal/logging"
	"github.com/mbd888/giftguard/internal/metrics"
	"github.com/mbd888/giftguard/internal/realtime"
	"github.com/mbd888/giftguard/internal/sessions"
	"github.com/mbd888/giftguard/internal/traces"
)

// ErrTooManyTransactions is returned when a caller-supplied list exceeds the
// per-run cap.
var ErrTooManyTransactions = errors.New("analysis: too many transactions")

// SessionValidator resolves analysis tokens.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*sessions.Session, error)
}

// Source supplies ledger snapshots, newest limit records in chronological order.
type Source interface {
	Snapshot(ctx context.Context, limit int) ([]fraud.RawTransaction, error)
}

// EventPublisher receives a summary of every completed run.
type EventPublisher interface {
	PublishAnalysis(summary realtime.AnalysisSummary)
}

// Service wires sessions, the ledger and the fraud core together.
type Service struct {
	sessions   SessionValidator
	source     Source
	thresholds fraud.Thresholds
	maxTx      int
	logger     *slog.Logger
	events     EventPublisher
	newRand    func() *rand.Rand
}

// NewService creates an analysis service. maxTx bounds every run.
func NewService(sv SessionValidator, src Source, th fraud.Thresholds, maxTx int, logger *slog.Logger) *Service {
	return &Service{
		sessions:   sv,
		source:     src,
		thresholds: th,
		maxTx:      maxTx,
		logger:     logger,
		newRand:    timeSeeded,
	}
}

// WithEvents attaches a publisher for analysis_completed events.
func (s *Service) WithEvents(p EventPublisher) *Service {
	s.events = p
	return s
}

func timeSeeded() *rand.Rand {
	now := uint64(time.Now().UnixNano())
	return rand.New(rand.NewPCG(now, now>>32|1))
}

// RunForToken validates token and analyses the newest maxTx ledger records.
func (s *Service) RunForToken(ctx context.Context, token string) (*fraud.AnalysisData, error) {
	sess, err := s.sessions.Validate(ctx, token)
	if err != nil {
		metrics.AnalysisRunsTotal.WithLabelValues("unauthorized").Inc()
		return nil, err
	}
	ctx = logging.WithSessionID(ctx, sess.ID)

	txs, err := s.source.Snapshot(ctx, s.maxTx)
	if err != nil {
		metrics.AnalysisRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("analysis: load snapshot: %w", err)
	}
	return s.run(ctx, sess, txs)
}

// RunSnapshot analyses a caller-supplied list without a session.
func (s *Service) RunSnapshot(ctx context.Context, txs []fraud.RawTransaction) (*fraud.AnalysisData, error) {
	if len(txs) > s.maxTx {
		metrics.AnalysisRunsTotal.WithLabelValues("too_large").Inc()
		return nil, fmt.Errorf("%w: %d exceeds limit of %d", ErrTooManyTransactions, len(txs), s.maxTx)
	}
	return s.run(ctx, nil, txs)
}

func (s *Service) run(ctx context.Context, sess *sessions.Session, txs []fraud.RawTransaction) (*fraud.AnalysisData, error) {
	ctx, span := traces.StartSpan(ctx, "analysis.run", traces.TransactionCount(len(txs)))
	defer span.End()
	if sess != nil {
		span.SetAttributes(traces.SessionID(sess.ID))
	}

	start := time.Now()
	data, err := fraud.Analyze(txs, s.thresholds)
	if err != nil {
		metrics.AnalysisRunsTotal.WithLabelValues("invalid_input").Inc()
		traces.Fail(span, err)
		return nil, err
	}
	fraud.Decorate(data, s.newRand())
	elapsed := time.Since(start)

	overall := data.FraudDetectionResult.Overall
	metrics.ObserveAnalysis(elapsed, map[string]int{
		string(fraud.LevelHigh):    data.HighRiskCount,
		string(fraud.LevelMedium):  data.MediumRiskCount,
		string(fraud.LevelLow):     data.LowRiskCount,
		string(fraud.LevelMinimal): data.MinimalRiskCount,
	})
	span.SetAttributes(
		traces.UserCount(len(data.FraudDetectionResult.Users)),
		traces.RiskLevel(string(overall.RiskLevel)),
		traces.HighRiskCount(data.HighRiskCount),
	)

	logging.L(logging.WithLogger(ctx, s.logger)).Info("fraud analysis completed",
		"transactions", data.TotalTransactions,
		"users", len(data.FraudDetectionResult.Users),
		"high_risk", data.HighRiskCount,
		"overall_score", overall.FraudScore,
		"overall_level", overall.RiskLevel,
		"patterns", len(data.SuspiciousPatterns),
		"duration_ms", elapsed.Milliseconds(),
	)

	if s.events != nil {
		s.events.PublishAnalysis(summarize(sess, data))
	}
	return data, nil
}

func summarize(sess *sessions.Session, data *fraud.AnalysisData) realtime.AnalysisSummary {
	overall := data.FraudDetectionResult.Overall
	sum := realtime.AnalysisSummary{
		Total:        data.TotalTransactions,
		High:         data.HighRiskCount,
		Medium:       data.MediumRiskCount,
		Low:          data.LowRiskCount,
		Minimal:      data.MinimalRiskCount,
		OverallScore: int(overall.FraudScore),
		OverallLevel: string(overall.RiskLevel),
		PatternCount: len(data.SuspiciousPatterns),
	}
	if sess != nil {
		sum.SessionID = sess.ID
		sum.Owner = sess.Owner
	}
	return sum
}
