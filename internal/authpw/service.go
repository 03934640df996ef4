// Package authpw provides username/password authentication over the users
// document, including the mandatory password-change flow and reset codes.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"geoportal/api/internal/userstore"
	"geoportal/api/internal/util"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 8

// resetCodeTTL bounds how long a forgot-password code stays valid.
const resetCodeTTL = 15 * time.Minute

var (
	// ErrInvalidCredentials deliberately covers both unknown user and wrong
	// password so callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrPasswordMismatch   = errors.New("new passwords do not match")
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
	ErrInvalidResetCode   = errors.New("invalid or expired reset code")
)

// UsersStore is the persistence contract, satisfied by userstore.Store.
type UsersStore interface {
	Load(ctx context.Context) (userstore.Document, string, error)
	Save(ctx context.Context, doc userstore.Document, message, sha string) (string, error)
}

type Service struct {
	users UsersStore
	now   func() time.Time
}

func NewService(users UsersStore) *Service {
	return &Service{users: users, now: time.Now}
}

type SignInRequest struct {
	Username string
	Password string
}

type SignInResponse struct {
	Username    string
	DisplayName string
	MustChange  bool
}

// SignIn verifies the bcrypt hash for the user. It fails closed: a missing
// users document, an unknown user and a wrong password all produce the same
// generic error.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (*SignInResponse, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}

	doc, _, err := s.users.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}

	rec, ok := doc.Users[username]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	displayName := rec.Name
	if displayName == "" {
		displayName = username
	}
	return &SignInResponse{
		Username:    username,
		DisplayName: displayName,
		MustChange:  rec.MustChange,
	}, nil
}

type ChangePasswordRequest struct {
	Username        string
	CurrentPassword string
	NewPassword     string
	RepeatPassword  string
}

// ChangePassword replaces the stored hash and clears must_change. All policy
// checks run before any write, so a rejected request never touches the store.
func (s *Service) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	if req.NewPassword != req.RepeatPassword {
		return ErrPasswordMismatch
	}
	if len(req.NewPassword) < minPasswordLen {
		return ErrPasswordTooShort
	}

	doc, sha, err := s.users.Load(ctx)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	rec, ok := doc.Users[req.Username]
	if !ok {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	rec.PasswordHash = string(hash)
	rec.MustChange = false
	rec.Reset = nil
	doc.Users[req.Username] = rec

	message := fmt.Sprintf("Password change for %s", req.Username)
	if _, err := s.users.Save(ctx, doc, message, sha); err != nil {
		return fmt.Errorf("save users: %w", err)
	}
	return nil
}

// RequestPasswordReset stores a short numeric code with a 15-minute expiry on
// the user record. An unknown username returns an empty code and no error, so
// the HTTP layer can answer uniformly.
func (s *Service) RequestPasswordReset(ctx context.Context, username string) (string, error) {
	doc, sha, err := s.users.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load users: %w", err)
	}
	rec, ok := doc.Users[username]
	if !ok {
		return "", nil
	}

	code := util.NewResetCode()
	rec.Reset = &userstore.Reset{
		Code:      code,
		ExpiresAt: s.now().UTC().Add(resetCodeTTL),
	}
	doc.Users[username] = rec

	message := fmt.Sprintf("Password reset requested for %s", username)
	if _, err := s.users.Save(ctx, doc, message, sha); err != nil {
		return "", fmt.Errorf("save users: %w", err)
	}
	return code, nil
}

type ResetPasswordRequest struct {
	Username    string
	Code        string
	NewPassword string
}

// ResetPassword consumes a pending reset code: on success the hash is
// replaced, must_change cleared and the code removed, so it cannot be reused.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if req.Code == "" {
		return ErrInvalidResetCode
	}
	if len(req.NewPassword) < minPasswordLen {
		return ErrPasswordTooShort
	}

	doc, sha, err := s.users.Load(ctx)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	rec, ok := doc.Users[req.Username]
	if !ok || rec.Reset == nil {
		return ErrInvalidResetCode
	}
	if rec.Reset.Code != req.Code || s.now().UTC().After(rec.Reset.ExpiresAt) {
		return ErrInvalidResetCode
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	rec.PasswordHash = string(hash)
	rec.MustChange = false
	rec.Reset = nil
	doc.Users[req.Username] = rec

	message := fmt.Sprintf("Password reset for %s", req.Username)
	if _, err := s.users.Save(ctx, doc, message, sha); err != nil {
		return fmt.Errorf("save users: %w", err)
	}
	return nil
}

// HashPassword is used by provisioning tooling to seed users.json entries.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
