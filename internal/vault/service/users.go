package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/securevault/internal/vault/domain"
	"github.com/aussiebroadwan/securevault/internal/vault/store"
	"github.com/aussiebroadwan/securevault/pkg/cryptox"
	"github.com/aussiebroadwan/securevault/pkg/idx"
)

const (
	minPasswordLength = 8
	maxUsernameLength = 64
)

type UserService struct {
	Store store.Store
}

// Register creates a regular account.
func (s *UserService) Register(ctx context.Context, username, password string) (domain.User, error) {
	ctx, span := startSpan(ctx, "UserService.Register")
	user, err := s.register(ctx, username, password)
	endSpan(span, err)
	return user, err
}

func (s *UserService) register(ctx context.Context, username, password string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(username) > maxUsernameLength {
		return domain.User{}, fmt.Errorf("%w: username must be 1-%d characters", ErrInvalidRequest, maxUsernameLength)
	}
	if len(password) < minPasswordLength {
		return domain.User{}, ErrWeakPassword
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:           idx.New().String(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.Users().CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, ErrUsernameTaken
		}
		return domain.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByID fetches a user by id.
func (s *UserService) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	return s.Store.Users().GetUserByID(ctx, userID)
}

// ChangePassword replaces the password and clears any forced reset.
func (s *UserService) ChangePassword(ctx context.Context, userID, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return ErrWeakPassword
	}
	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.Store.Users().UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// RequirePasswordReset flags the account so the next login must set a new
// password before anything else.
func (s *UserService) RequirePasswordReset(ctx context.Context, userID string) error {
	return s.Store.Users().SetForceReset(ctx, userID, true)
}
