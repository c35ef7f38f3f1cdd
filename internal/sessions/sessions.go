// Package sessions issues short-lived tokens that scope read access to
// fraud analysis results.
package sessions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mbd888/giftguard/internal/idgen"
	"github.com/mbd888/giftguard/internal/metrics"
	"github.com/mbd888/giftguard/internal/realtime"
	"github.com/mbd888/giftguard/internal/validation"
)

var (
	ErrSessionNotFound = errors.New("sessions: session not found")
	ErrSessionExpired  = errors.New("sessions: session expired")
	ErrInvalidOwner    = errors.New("sessions: owner is required")
)

// Session grants its token holder analysis access until ExpiresAt.
type Session struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Expired reports whether the session is no longer usable at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, s *Session) error
	GetByToken(ctx context.Context, token string) (*Session, error)
	// DeleteExpired removes sessions that expired at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// EventPublisher receives session_created notifications.
type EventPublisher interface {
	PublishSession(ev realtime.SessionCreated)
}

// Service issues and validates analysis sessions.
type Service struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	events EventPublisher
}

// NewService creates a session service whose tokens live for ttl.
func NewService(store Store, ttl time.Duration) *Service {
	return &Service{store: store, ttl: ttl, now: time.Now}
}

// WithEvents attaches a publisher for session_created events.
func (s *Service) WithEvents(p EventPublisher) *Service {
	s.events = p
	return s
}

// Create issues a new session for owner.
func (s *Service) Create(ctx context.Context, owner string) (*Session, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" || len(owner) > validation.MaxIDLength {
		return nil, ErrInvalidOwner
	}

	now := s.now()
	sess := &Session{
		ID:        idgen.WithPrefix(idgen.PrefixSession),
		Owner:     owner,
		Token:     idgen.Token(),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}

	metrics.SessionsCreatedTotal.Inc()
	if s.events != nil {
		s.events.PublishSession(realtime.SessionCreated{
			SessionID: sess.ID,
			Owner:     sess.Owner,
			ExpiresAt: sess.ExpiresAt.UnixMilli(),
		})
	}
	return sess, nil
}

// Validate resolves token to a live session.
func (s *Service) Validate(ctx context.Context, token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if !idgen.ValidToken(token) {
		return nil, ErrSessionNotFound
	}
	sess, err := s.store.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.now()) {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// PurgeExpired deletes every expired session.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	metrics.SessionsExpiredTotal.Add(float64(n))
	return n, nil
}
