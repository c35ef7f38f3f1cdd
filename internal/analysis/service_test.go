package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/giftguard/internal/amount"
	"github.com/mbd888/giftguard/internal/fraud"
	"github.com/mbd888/giftguard/internal/ledger"
	"github.com/mbd888/giftguard/internal/realtime"
	"github.com/mbd888/giftguard/internal/sessions"
)

const goodToken = "9b2f6c1e-4a57-4d1b-9c3e-2f7a8b6d5e40"

type fakeSessions struct {
	err error
}

func (f fakeSessions) Validate(_ context.Context, token string) (*sessions.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	if token != goodToken {
		return nil, sessions.ErrSessionNotFound
	}
	return &sessions.Session{ID: "as_test", Owner: "ops", Token: token, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type failingSource struct{}

func (failingSource) Snapshot(context.Context, int) ([]fraud.RawTransaction, error) {
	return nil, errors.New("connection refused")
}

type recordingPublisher struct {
	mu        sync.Mutex
	summaries []realtime.AnalysisSummary
}

func (p *recordingPublisher) PublishAnalysis(s realtime.AnalysisSummary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries = append(p.summaries, s)
}

func utc() fraud.Thresholds {
	return fraud.DefaultThresholds().WithLocation(time.UTC)
}

func gift(i int, sender, receiver, amt string) fraud.RawTransaction {
	return fraud.RawTransaction{
		ID:         fmt.Sprintf("t%02d", i),
		Amount:     amt,
		CreatedAt:  time.Date(2024, 3, 15, 14, 0, i, 0, time.UTC).UnixMilli(),
		SenderID:   sender,
		ReceiverID: receiver,
		Owner:      sender,
		Status:     fraud.StatusCompleted,
		Type:       fraud.TypeGiftGive,
	}
}

func newTestService(t *testing.T, maxTx int, records ...fraud.RawTransaction) (*Service, *recordingPublisher) {
	t.Helper()

	l := ledger.New(ledger.NewMemoryStore())
	for _, r := range records {
		_, err := l.Record(context.Background(), r)
		require.NoError(t, err)
	}

	pub := &recordingPublisher{}
	svc := NewService(fakeSessions{}, l, utc(), maxTx, slog.New(slog.NewTextHandler(io.Discard, nil))).WithEvents(pub)
	svc.newRand = func() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }
	return svc, pub
}

func TestRunForToken_AnalysesNewestWindow(t *testing.T) {
	var recs []fraud.RawTransaction
	for i := 1; i <= 5; i++ {
		recs = append(recs, gift(i, "alice", "bob", "1000000"))
	}
	svc, pub := newTestService(t, 3, recs...)

	data, err := svc.RunForToken(context.Background(), goodToken)
	require.NoError(t, err)
	assert.Equal(t, 3, data.TotalTransactions)

	ids := make([]string, 0, len(data.Transactions))
	for _, tx := range data.Transactions {
		ids = append(ids, tx.ID)
		assert.GreaterOrEqual(t, tx.GasUsed, int64(21000))
		assert.GreaterOrEqual(t, tx.BlockNumber, int64(18950000))
	}
	assert.Equal(t, []string{"t03", "t04", "t05"}, ids)

	require.Len(t, pub.summaries, 1)
	assert.Equal(t, "as_test", pub.summaries[0].SessionID)
	assert.Equal(t, "ops", pub.summaries[0].Owner)
	assert.Equal(t, 3, pub.summaries[0].Total)
}

func TestRunForToken_SessionErrors(t *testing.T) {
	svc, pub := newTestService(t, 10)

	_, err := svc.RunForToken(context.Background(), "d8a1c1de-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, sessions.ErrSessionNotFound)

	svc.sessions = fakeSessions{err: sessions.ErrSessionExpired}
	_, err = svc.RunForToken(context.Background(), goodToken)
	assert.ErrorIs(t, err, sessions.ErrSessionExpired)

	assert.Empty(t, pub.summaries)
}

func TestRunForToken_SourceFailure(t *testing.T) {
	svc, _ := newTestService(t, 10)
	svc.source = failingSource{}

	_, err := svc.RunForToken(context.Background(), goodToken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRunForToken_EmptyLedger(t *testing.T) {
	svc, _ := newTestService(t, 10)

	data, err := svc.RunForToken(context.Background(), goodToken)
	require.NoError(t, err)
	assert.Equal(t, 0, data.TotalTransactions)
	assert.Empty(t, data.Transactions)
	assert.Empty(t, data.SuspiciousPatterns)
	assert.Equal(t, float64(0), data.FraudDetectionResult.Overall.FraudScore)
}

func TestRunSnapshot_RejectsOversizeInput(t *testing.T) {
	svc, pub := newTestService(t, 2)

	txs := []fraud.RawTransaction{
		gift(1, "a", "b", "1"), gift(2, "a", "b", "1"), gift(3, "a", "b", "1"),
	}
	_, err := svc.RunSnapshot(context.Background(), txs)
	assert.ErrorIs(t, err, ErrTooManyTransactions)
	assert.Empty(t, pub.summaries)

	data, err := svc.RunSnapshot(context.Background(), txs[:2])
	require.NoError(t, err)
	assert.Equal(t, 2, data.TotalTransactions)
	require.Len(t, pub.summaries, 1)
	assert.Empty(t, pub.summaries[0].SessionID)
}

func TestRunSnapshot_InvalidAmount(t *testing.T) {
	svc, pub := newTestService(t, 10)

	_, err := svc.RunSnapshot(context.Background(), []fraud.RawTransaction{gift(1, "a", "b", "12.5")})
	assert.ErrorIs(t, err, amount.ErrInvalidAmount)
	assert.Empty(t, pub.summaries)
}

func TestRunSnapshot_AmountTooLargeForFloat(t *testing.T) {
	svc, pub := newTestService(t, 10)

	huge := "1" + strings.Repeat("0", 400)
	_, err := svc.RunSnapshot(context.Background(), []fraud.RawTransaction{gift(1, "a", "b", huge)})
	assert.ErrorIs(t, err, amount.ErrInvalidAmount)
	assert.Empty(t, pub.summaries)
}

func TestRun_LogsSummaryLine(t *testing.T) {
	var buf bytes.Buffer
	svc, _ := newTestService(t, 10)
	svc.logger = slog.New(slog.NewJSONHandler(&buf, nil))

	txs := []fraud.RawTransaction{gift(1, "alice", "bob", "1000000"), gift(2, "carol", "bob", "2000000")}
	data, err := svc.RunSnapshot(context.Background(), txs)
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "fraud analysis completed", line["msg"])
	assert.Equal(t, float64(2), line["transactions"])
	assert.Equal(t, float64(3), line["users"])
	assert.Equal(t, string(data.FraudDetectionResult.Overall.RiskLevel), line["overall_level"])
	assert.NotEmpty(t, line["overall_level"])
}

func TestRunSnapshot_DecorationIsSeeded(t *testing.T) {
	svc, _ := newTestService(t, 10)
	txs := []fraud.RawTransaction{gift(1, "a", "b", "5000000"), gift(2, "b", "a", "7000000")}

	first, err := svc.RunSnapshot(context.Background(), txs)
	require.NoError(t, err)
	second, err := svc.RunSnapshot(context.Background(), txs)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRunSnapshot_ConcurrentRunsAreIndependent(t *testing.T) {
	svc, _ := newTestService(t, 100)

	var txs []fraud.RawTransaction
	for i := 1; i <= 30; i++ {
		txs = append(txs, gift(i, fmt.Sprintf("u%d", i%4), fmt.Sprintf("u%d", (i+1)%4), "1000000"))
	}

	want, err := svc.RunSnapshot(context.Background(), txs)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.RunSnapshot(context.Background(), txs)
			if err != nil {
				errs <- err
				return
			}
			if got.FraudDetectionResult.Overall.FraudScore != want.FraudDetectionResult.Overall.FraudScore ||
				got.HighRiskCount != want.HighRiskCount {
				errs <- errors.New("concurrent run diverged")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
