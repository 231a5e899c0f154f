// Package auth registers accounts, checks passwords, and manages login
// sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/papertrade/finance/internal/metrics"
	"github.com/papertrade/finance/internal/model"
	"github.com/papertrade/finance/internal/store"
)

var (
	// ErrInvalidInput is returned for a missing username or password, or a
	// confirmation that does not match.
	ErrInvalidInput = errors.New("auth: invalid input")

	// ErrUsernameTaken is returned when registering an existing username.
	ErrUsernameTaken = errors.New("auth: username already exists")

	// ErrBadCredentials is returned when the username or password is wrong.
	ErrBadCredentials = errors.New("auth: invalid username and/or password")

	// ErrUnauthenticated is returned for a missing, unknown or expired session.
	ErrUnauthenticated = errors.New("auth: not logged in")
)

// Session is an authenticated login.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Sessions stores session tokens.
type Sessions interface {
	Save(ctx context.Context, s *Session) error
	// Lookup returns the user id for token, or ErrUnauthenticated.
	Lookup(ctx context.Context, token string) (string, error)
	Delete(ctx context.Context, token string) error
}

// Service registers and authenticates users.
type Service struct {
	store        store.Store
	sessions     Sessions
	startingCash decimal.Decimal
	ttl          time.Duration
	cost         int
	now          func() time.Time
}

// NewService creates an auth service. New accounts receive startingCash.
func NewService(st store.Store, sessions Sessions, startingCash decimal.Decimal, ttl time.Duration) *Service {
	return &Service{
		store:        st,
		sessions:     sessions,
		startingCash: startingCash,
		ttl:          ttl,
		cost:         bcrypt.DefaultCost,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Register creates an account and logs it in. Surrounding whitespace is
// stripped from every field.
func (s *Service) Register(ctx context.Context, username, password, confirmation string) (*model.Account, *Session, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	confirmation = strings.TrimSpace(confirmation)
	switch {
	case username == "":
		return nil, nil, fmt.Errorf("%w: must provide username", ErrInvalidInput)
	case password == "":
		return nil, nil, fmt.Errorf("%w: must provide password", ErrInvalidInput)
	case confirmation == "":
		return nil, nil, fmt.Errorf("%w: must confirm password", ErrInvalidInput)
	case password != confirmation:
		return nil, nil, fmt.Errorf("%w: passwords do not match", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		// bcrypt rejects passwords longer than 72 bytes.
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	acct := &model.Account{
		UserID:       uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
		Cash:         s.startingCash,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			return nil, nil, fmt.Errorf("%w: %s", ErrUsernameTaken, username)
		}
		return nil, nil, fmt.Errorf("create account: %w", err)
	}
	metrics.Registrations.Inc()
	slog.Info("account registered", "user", acct.UserID, "username", username)

	sess, err := s.startSession(ctx, acct.UserID)
	if err != nil {
		return nil, nil, err
	}
	return acct, sess, nil
}

// Login checks the password and starts a new session.
func (s *Service) Login(ctx context.Context, username, password string) (*model.Account, *Session, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" {
		return nil, nil, fmt.Errorf("%w: must provide username", ErrInvalidInput)
	}
	if password == "" {
		return nil, nil, fmt.Errorf("%w: must provide password", ErrInvalidInput)
	}

	acct, err := s.store.GetAccountByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrBadCredentials
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get account: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return nil, nil, ErrBadCredentials
	}

	sess, err := s.startSession(ctx, acct.UserID)
	if err != nil {
		return nil, nil, err
	}
	return acct, sess, nil
}

// Logout ends the session. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.Delete(ctx, token)
}

// Authenticate resolves a session token to a user id.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthenticated
	}
	return s.sessions.Lookup(ctx, token)
}

func (s *Service) startSession(ctx context.Context, userID string) (*Session, error) {
	sess := &Session{
		Token:     uuid.New().String(),
		UserID:    userID,
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return sess, nil
}
