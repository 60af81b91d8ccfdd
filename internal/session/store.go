// Package session owns the authenticated identity and its durable copy.
// Every other network call obtains its bearer token through Store.Token.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/ragctl/internal/apiclient"
	"github.com/dharsanguruparan/ragctl/internal/events"
	"github.com/dharsanguruparan/ragctl/internal/logging"
	"github.com/dharsanguruparan/ragctl/internal/model"
	"github.com/dharsanguruparan/ragctl/internal/storage"
)

var (
	// ErrNotAuthenticated is returned when an operation needs a token and
	// no session is present.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrMissingCredentials is returned before any request when the
	// username or password is blank.
	ErrMissingCredentials = errors.New("username and password are required")
	// ErrLoginInProgress is returned when Login is called while another
	// login is in flight.
	ErrLoginInProgress = errors.New("login already in progress")
)

// Authenticator is the slice of the API client the store needs.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
	Register(ctx context.Context, username, password string) (string, error)
}

// Store holds the current session. The zero session means signed out.
type Store struct {
	auth      Authenticator
	persist   storage.Store
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.RWMutex
	session   model.Session
	loggingIn bool
	lastError string
	onLogout  []func()
}

// Option customizes a Store.
type Option func(*Store)

// WithPublisher sends session snapshots to p on every change.
func WithPublisher(p events.Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = logging.OrNop(l) }
}

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore constructs a signed-out Store.
func NewStore(auth Authenticator, persist storage.Store, opts ...Option) *Store {
	s := &Store{
		auth:      auth,
		persist:   persist,
		publisher: events.Nop{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("session")
	return s
}

// Snapshot is the published view of the store.
type Snapshot struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
	Pending       bool   `json:"pending"`
	Error         string `json:"error,omitempty"`
}

// Snapshot reports the current state without the token.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Authenticated: s.session.Present(),
		Username:      s.session.Username,
		Pending:       s.loggingIn,
		Error:         s.lastError,
	}
}

func (s *Store) publish() {
	s.publisher.Publish(events.TopicSession, s.Snapshot())
}

// Current returns the session and whether one is present.
func (s *Store) Current() (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.session.Present()
}

// Token returns the bearer token or ErrNotAuthenticated.
func (s *Store) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.session.Present() {
		return "", ErrNotAuthenticated
	}
	return s.session.Token, nil
}

// OnLogout registers fn to run after every logout, in registration order.
func (s *Store) OnLogout(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLogout = append(s.onLogout, fn)
}

// Login exchanges credentials for a token. On success the token and the
// submitted username become the session and are persisted. On failure no
// session is created and the returned error carries the user-facing
// message.
func (s *Store) Login(ctx context.Context, username, password string) (model.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		s.setError(ErrMissingCredentials.Error())
		return model.Session{}, ErrMissingCredentials
	}

	s.mu.Lock()
	if s.loggingIn {
		s.mu.Unlock()
		return model.Session{}, ErrLoginInProgress
	}
	s.loggingIn = true
	s.lastError = ""
	s.mu.Unlock()
	s.publish()

	token, err := s.auth.Login(ctx, username, password)

	s.mu.Lock()
	s.loggingIn = false
	if err != nil {
		msg := apiclient.UserMessage(err, apiclient.FallbackLogin)
		s.lastError = msg
		s.mu.Unlock()
		s.logger.Info("login failed", zap.String("username", username), zap.Error(err))
		s.publish()
		return model.Session{}, &Error{Message: msg, Err: err}
	}
	s.session = model.Session{Username: username, Token: token}
	sess := s.session
	s.mu.Unlock()

	if err := s.persist.Set(ctx, model.Record{Token: token, Username: username}); err != nil {
		// The in-memory session is still valid; only the next launch loses it.
		s.logger.Warn("persist session", zap.Error(err))
	}
	s.logger.Info("logged in", zap.String("username", username))
	s.publish()
	return sess, nil
}

// Register creates an account. It never creates a session.
func (s *Store) Register(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", ErrMissingCredentials
	}
	msg, err := s.auth.Register(ctx, username, password)
	if err != nil {
		return "", &Error{Message: apiclient.UserMessage(err, apiclient.FallbackRegister), Err: err}
	}
	s.logger.Info("registered", zap.String("username", username))
	return msg, nil
}

// Logout clears the in-memory session and the persisted record, then runs
// the logout listeners. It is safe to call when already signed out.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	wasPresent := s.session.Present()
	s.session = model.Session{}
	s.lastError = ""
	listeners := append([]func(){}, s.onLogout...)
	s.mu.Unlock()

	err := s.persist.Clear(ctx)
	if err != nil {
		s.logger.Warn("clear persisted session", zap.Error(err))
	}
	for _, fn := range listeners {
		fn()
	}
	if wasPresent {
		s.logger.Info("logged out")
	}
	s.publish()
	return err
}

// Restore pre-populates the session from the persisted record. A record
// whose token has already expired is cleared instead.
func (s *Store) Restore(ctx context.Context) (model.Session, bool) {
	rec, err := s.persist.Get(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("read persisted session", zap.Error(err))
		}
		return model.Session{}, false
	}
	if rec.Token == "" {
		return model.Session{}, false
	}
	if claims, ok := ParseClaims(rec.Token); ok && claims.Expired(s.now()) {
		s.logger.Info("persisted session expired", zap.Time("expired_at", claims.ExpiresAt))
		if err := s.persist.Clear(ctx); err != nil {
			s.logger.Warn("clear expired session", zap.Error(err))
		}
		return model.Session{}, false
	}

	s.mu.Lock()
	s.session = model.Session{Username: rec.Username, Token: rec.Token}
	sess := s.session
	s.mu.Unlock()
	s.publish()
	return sess, true
}

func (s *Store) setError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
	s.publish()
}

// Error is a failed login or registration. Message is safe to show.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }
