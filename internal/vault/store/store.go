package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/securevault/internal/vault/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict is returned when a conditional write matched no row.
	ErrConflict = errors.New("store: conflict")
)

// Store is the root data access interface. Concrete drivers implement it and
// expose sub-repositories so a transaction can only ever be opened from the
// root, never from inside another transaction.
type Store interface {
	Users() Users
	TOTPFactors() TOTPFactors
	BackupCodes() BackupCodes
	Passkeys() Passkeys
	PendingLogins() PendingLogins
	Challenges() Challenges

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)

	// CreateUser returns ErrAlreadyExists when the username is taken.
	CreateUser(ctx context.Context, u domain.User) error

	// UpdatePasswordHash sets the hash, clears force_reset and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error

	SetForceReset(ctx context.Context, userID string, force bool) error
}

type TOTPFactors interface {
	// CreateTOTPFactor returns ErrAlreadyExists if the user already has one.
	CreateTOTPFactor(ctx context.Context, f domain.TOTPFactor) error

	GetTOTPFactor(ctx context.Context, userID string) (domain.TOTPFactor, error)

	// DeleteTOTPFactor cascades to the user's backup codes.
	DeleteTOTPFactor(ctx context.Context, userID string) error
}

// BackupCodes stores fingerprints of one-time recovery codes, one row each.
type BackupCodes interface {
	CreateBackupCode(ctx context.Context, userID, codeHash string) error

	// ConsumeBackupCode deletes the matching code and reports whether a row
	// was removed. Two concurrent callers can never both see true.
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)

	DeleteAllBackupCodes(ctx context.Context, userID string) error
	CountBackupCodes(ctx context.Context, userID string) (int, error)
}

type Passkeys interface {
	// CreatePasskey returns ErrAlreadyExists if the credential id is
	// registered to anyone.
	CreatePasskey(ctx context.Context, c domain.PasskeyCredential) error

	GetPasskey(ctx context.Context, credentialID string) (domain.PasskeyCredential, error)
	ListPasskeysByUser(ctx context.Context, userID string) ([]domain.PasskeyCredential, error)
	CountPasskeysByUser(ctx context.Context, userID string) (int, error)

	// AdvanceSignCount stores newCount only if it still satisfies the
	// counter rule against the stored value (strictly greater, or both
	// zero). Returns ErrConflict when no row was updated.
	AdvanceSignCount(ctx context.Context, credentialID string, newCount uint32, usedAt time.Time) error

	// DeletePasskey removes a credential owned by userID.
	DeletePasskey(ctx context.Context, userID, credentialID string) error
}

type PendingLogins interface {
	// PutPendingLogin replaces whatever is pending for the session.
	PutPendingLogin(ctx context.Context, p domain.PendingLogin) error

	GetPendingLogin(ctx context.Context, sessionID string) (domain.PendingLogin, error)

	// TakePendingLogin atomically reads and removes the pending login.
	TakePendingLogin(ctx context.Context, sessionID string) (domain.PendingLogin, error)

	DeletePendingLogin(ctx context.Context, sessionID string) error
	DeleteExpiredPendingLogins(ctx context.Context, now time.Time) (int64, error)
}

// Challenges holds ceremony challenges. It is also implemented outside the
// sql drivers (see drivers/redis), so it is kept free of Tx concerns.
type Challenges interface {
	PutChallenge(ctx context.Context, c domain.Challenge) error
	GetChallenge(ctx context.Context, id string) (domain.Challenge, error)

	// TakeChallenge atomically reads and removes the challenge, so only one
	// caller can ever receive it.
	TakeChallenge(ctx context.Context, id string) (domain.Challenge, error)

	DeleteChallenge(ctx context.Context, id string) error
	DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error)
}
