package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Service is the identity provider backing the session provider.
type Service struct {
	repo   Repository
	store  *RedisStore
	events *Broadcaster
	ttl    time.Duration
	now    func() time.Time
}

// NewService constructs a new Service.
func NewService(repo Repository, store *RedisStore, events *Broadcaster, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Service{repo: repo, store: store, events: events, ttl: ttl, now: time.Now}
}

// SignIn validates credentials and opens a session.
func (s *Service) SignIn(ctx context.Context, creds Credentials) (Session, error) {
	user, err := s.repo.FindByEmail(ctx, strings.TrimSpace(creds.Email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !user.IsActive {
		return Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	sess := Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Email:     user.Email,
		RoleClaim: user.Role,
		Metadata:  user.Permissions,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repo.CreateSession(ctx, sess.ID, user.ID, sess.ExpiresAt, creds.IP, creds.UserAgent); err != nil {
		return Session{}, fmt.Errorf("identity: register session: %w", err)
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := s.events.Publish(ctx, Event{Kind: EventUpdated, SessionID: sess.ID, Session: &sess}); err != nil {
		return sess, fmt.Errorf("identity: publish sign-in: %w", err)
	}
	return sess, nil
}

// SignOut closes a session everywhere.
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	var errs []error
	if err := s.store.Delete(ctx, sessionID); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	if err := s.repo.DeleteSession(ctx, sessionID); err != nil {
		errs = append(errs, fmt.Errorf("identity: delete session: %w", err))
	}
	if err := s.events.Publish(ctx, Event{Kind: EventRevoked, SessionID: sessionID}); err != nil {
		errs = append(errs, fmt.Errorf("identity: publish sign-out: %w", err))
	}
	return errors.Join(errs...)
}

// CurrentSession returns the live session or nil when it does not exist or has expired.
func (s *Service) CurrentSession(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if sess == nil || sess.Expired(s.now()) {
		return nil, nil
	}
	return sess, nil
}

// OnSessionChange registers a session change handler.
func (s *Service) OnSessionChange(handler func(Event)) func() {
	return s.events.OnSessionChange(handler)
}

// ExpireSessions deletes expired sessions and announces their expiry. It returns the number expired.
func (s *Service) ExpireSessions(ctx context.Context) (int, error) {
	ids, err := s.repo.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("identity: sweep sessions: %w", err)
	}
	for _, id := range ids {
		if err := s.store.Delete(ctx, id); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if err := s.events.Publish(ctx, Event{Kind: EventExpired, SessionID: id}); err != nil {
			return 0, fmt.Errorf("identity: publish expiry: %w", err)
		}
	}
	return len(ids), nil
}
