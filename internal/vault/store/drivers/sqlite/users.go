package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/securevault/internal/vault/domain"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `id, username, password_hash, is_admin, force_reset, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var (
		u                    domain.User
		admin, force         int
		createdAt, updatedAt int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &admin, &force, &createdAt, &updatedAt); err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.IsAdmin = admin == 1
	u.ForceReset = force == 1
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *usersRepo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, boolToInt(u.IsAdmin), boolToInt(u.ForceReset),
		toMillis(u.CreatedAt), toMillis(u.CreatedAt),
	)
	return mapConstraint(err)
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	return requireOneRow(r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, force_reset = 0, updated_at = ? WHERE id = ?`,
		newHash, toMillis(time.Now()), userID,
	))
}

func (r *usersRepo) SetForceReset(ctx context.Context, userID string, force bool) error {
	return requireOneRow(r.db.ExecContext(ctx,
		`UPDATE users SET force_reset = ?, updated_at = ? WHERE id = ?`,
		boolToInt(force), toMillis(time.Now()), userID,
	))
}
