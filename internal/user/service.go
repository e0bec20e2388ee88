// ABOUTME: Account management: registration, login, and default user bootstrap
// ABOUTME: Passwords hashed with bcrypt; successful logins are issued JWTs

package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/liniyuanaws/OpenGallery/internal/auth"
	"github.com/liniyuanaws/OpenGallery/internal/store"
)

var (
	// ErrInvalidCredentials covers unknown users, wrong passwords and
	// deactivated accounts without distinguishing them to the caller.
	ErrInvalidCredentials = errors.New("invalid username or password")

	usernamePattern = regexp.MustCompile(`^[a-z0-9_-]{3,30}$`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

const minPasswordLength = 6

// Service manages user accounts on top of the store.
type Service struct {
	store  store.Store
	issuer *auth.TokenIssuer
	logger *slog.Logger
}

// NewService builds the account service.
func NewService(s store.Store, issuer *auth.TokenIssuer) *Service {
	return &Service{
		store:  s,
		issuer: issuer,
		logger: slog.Default().With("component", "user"),
	}
}

// Register creates a new account. Usernames are lowercased before
// validation and storage.
func (s *Service) Register(ctx context.Context, username, email, password string) (*store.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	email = strings.TrimSpace(email)

	if !usernamePattern.MatchString(username) {
		return nil, fmt.Errorf("%w: username must be 3-30 characters of a-z, 0-9, _ or -", store.ErrValidation)
	}
	if !emailPattern.MatchString(email) {
		return nil, fmt.Errorf("%w: invalid email address", store.ErrValidation)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", store.ErrValidation, minPasswordLength)
	}

	// The store only enforces username uniqueness; emails get checked here
	// so both backends reject duplicates the same way.
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("%w: email already registered", store.ErrDuplicateUser)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	u := &store.User{
		Username:     username,
		UserID:       newUserID(),
		Email:        email,
		PasswordHash: string(hash),
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info("registered user", "username", username, "user_id", u.UserID)
	return u, nil
}

// Authenticate checks credentials and returns a signed token plus the
// account. All failure modes collapse to ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (string, *store.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))

	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if !u.Active {
		return "", nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.issuer.Issue(auth.Identity{
		UserID:   u.UserID,
		Username: u.Username,
		Email:    u.Email,
		Provider: "jwt",
	})
	if err != nil {
		return "", nil, err
	}

	if err := s.store.UpdateLastLogin(ctx, username, time.Now().UTC()); err != nil {
		// Login still succeeds; the timestamp is informational.
		s.logger.Warn("recording last login failed", "username", username, "error", err)
	}

	return token, u, nil
}

// ChangePassword verifies the current password before storing a new hash.
func (s *Service) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	username = strings.ToLower(strings.TrimSpace(username))

	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", store.ErrValidation, minPasswordLength)
	}

	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)) != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, username, string(hash)); err != nil {
		return err
	}

	s.logger.Info("changed password", "username", username)
	return nil
}

// Deactivate disables an account. Existing tokens expire on their own; new
// logins are refused immediately.
func (s *Service) Deactivate(ctx context.Context, username string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if err := s.store.DeactivateUser(ctx, username); err != nil {
		return err
	}
	s.logger.Info("deactivated user", "username", username)
	return nil
}

// List returns all accounts, newest first.
func (s *Service) List(ctx context.Context) ([]*store.User, error) {
	return s.store.ListUsers(ctx)
}

// DefaultAccount seeds a well-known account at startup.
type DefaultAccount struct {
	Username string
	Email    string
	Password string
}

// EnsureDefaultUsers creates any missing default accounts. A concurrent
// process creating the same account is not an error; the store's duplicate
// check makes the bootstrap race-safe.
func (s *Service) EnsureDefaultUsers(ctx context.Context, accounts []DefaultAccount) error {
	for _, acct := range accounts {
		hash, err := bcrypt.GenerateFromPassword([]byte(acct.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing default password: %w", err)
		}

		err = s.store.CreateUser(ctx, &store.User{
			Username:     acct.Username,
			UserID:       newUserID(),
			Email:        acct.Email,
			PasswordHash: string(hash),
			Active:       true,
			CreatedAt:    time.Now().UTC(),
		})
		switch {
		case err == nil:
			s.logger.Info("created default user", "username", acct.Username)
		case errors.Is(err, store.ErrDuplicateUser):
			s.logger.Debug("default user already exists", "username", acct.Username)
		default:
			return fmt.Errorf("creating default user %s: %w", acct.Username, err)
		}
	}
	return nil
}

func newUserID() string {
	return "user_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}
