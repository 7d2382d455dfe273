package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/securevault/internal/vault/store"
	"github.com/aussiebroadwan/securevault/pkg/cryptox"
)

// CredentialStore is what the login flow needs from the account system.
// FindByUsername returns store.ErrNotFound for unknown users.
type CredentialStore interface {
	FindByUsername(ctx context.Context, username string) (userID, passwordHash string, err error)
	VerifyPassword(hash, plaintext string) bool
	RequiresForcedReset(ctx context.Context, userID string) (bool, error)
}

// UserCredentials implements CredentialStore over the users table.
type UserCredentials struct {
	Store store.Store
}

func (c *UserCredentials) FindByUsername(ctx context.Context, username string) (string, string, error) {
	u, err := c.Store.Users().GetUserByUsername(ctx, username)
	if err != nil {
		return "", "", err
	}
	return u.ID, u.PasswordHash, nil
}

func (c *UserCredentials) VerifyPassword(hash, plaintext string) bool {
	return cryptox.VerifyPassword(plaintext, hash) == nil
}

func (c *UserCredentials) RequiresForcedReset(ctx context.Context, userID string) (bool, error) {
	u, err := c.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.ForceReset, nil
}

// checkPassword resolves username and verifies password. Unknown users are
// checked against a dummy hash so they cost the same as a wrong password.
func checkPassword(ctx context.Context, creds CredentialStore, username, password string) (string, error) {
	userID, hash, err := creds.FindByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		creds.VerifyPassword(cryptox.DummyHash(), password)
		return "", ErrInvalidCredential
	}
	if err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if !creds.VerifyPassword(hash, password) {
		return "", ErrInvalidCredential
	}
	return userID, nil
}
