package sessions

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/giftguard/internal/idgen"
	"github.com/mbd888/giftguard/internal/realtime"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.SessionCreated
}

func (p *recordingPublisher) PublishSession(ev realtime.SessionCreated) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService() (*Service, *clock, *recordingPublisher) {
	clk := &clock{t: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
	pub := &recordingPublisher{}
	svc := NewService(NewMemoryStore(), time.Hour).WithEvents(pub)
	svc.now = clk.now
	return svc, clk, pub
}

func TestCreate_IssuesToken(t *testing.T) {
	svc, clk, pub := newTestService()

	sess, err := svc.Create(context.Background(), "  ops-team ")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sess.ID, idgen.PrefixSession))
	assert.True(t, idgen.ValidToken(sess.Token))
	assert.Equal(t, "ops-team", sess.Owner)
	assert.Equal(t, clk.t.Add(time.Hour), sess.ExpiresAt)

	require.Len(t, pub.events, 1)
	assert.Equal(t, sess.ID, pub.events[0].SessionID)
	assert.Equal(t, sess.ExpiresAt.UnixMilli(), pub.events[0].ExpiresAt)
}

func TestCreate_RequiresOwner(t *testing.T) {
	svc, _, pub := newTestService()

	_, err := svc.Create(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidOwner)
	_, err = svc.Create(context.Background(), strings.Repeat("x", 200))
	assert.ErrorIs(t, err, ErrInvalidOwner)
	assert.Empty(t, pub.events)
}

func TestValidate(t *testing.T) {
	svc, clk, _ := newTestService()
	ctx := context.Background()

	sess, err := svc.Create(ctx, "ops")
	require.NoError(t, err)

	got, err := svc.Validate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	_, err = svc.Validate(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.Validate(ctx, idgen.Token())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	clk.advance(time.Hour)
	_, err = svc.Validate(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestPurgeExpired(t *testing.T) {
	svc, clk, _ := newTestService()
	ctx := context.Background()

	old, err := svc.Create(ctx, "ops")
	require.NoError(t, err)
	clk.advance(30 * time.Minute)
	fresh, err := svc.Create(ctx, "ops")
	require.NoError(t, err)
	clk.advance(45 * time.Minute)

	n, err := svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = svc.Validate(ctx, old.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.Validate(ctx, fresh.Token)
	assert.NoError(t, err)
}

func TestTimer_Purge(t *testing.T) {
	svc, clk, _ := newTestService()
	ctx := context.Background()

	sess, err := svc.Create(ctx, "ops")
	require.NoError(t, err)
	clk.advance(2 * time.Hour)

	tm := NewTimer(svc, time.Hour, testLogger())
	tm.purge(ctx)

	_, err = svc.store.GetByToken(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestTimer_Stop(t *testing.T) {
	svc, _, _ := newTestService()
	tm := NewTimer(svc, time.Millisecond, testLogger())

	done := make(chan struct{})
	go func() {
		tm.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		tm.Stop()
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
