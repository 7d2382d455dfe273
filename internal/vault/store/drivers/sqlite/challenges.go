package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/securevault/internal/vault/domain"
)

type challengesRepo struct {
	db dbtx
}

const challengeColumns = `id, value, purpose, user_id, payload, created_at, expires_at`

func scanChallenge(row interface{ Scan(...any) error }) (domain.Challenge, error) {
	var (
		c                    domain.Challenge
		purpose              string
		createdAt, expiresAt int64
	)
	if err := row.Scan(&c.ID, &c.Value, &purpose, &c.UserID, &c.Payload, &createdAt, &expiresAt); err != nil {
		return domain.Challenge{}, mapNotFound(err)
	}
	c.Purpose = domain.ChallengePurpose(purpose)
	c.CreatedAt = fromMillis(createdAt)
	c.ExpiresAt = fromMillis(expiresAt)
	return c, nil
}

// PutChallenge upserts so a deterministic id (the TOTP enrolment buffer)
// can be overwritten by a fresh enrolment.
func (r *challengesRepo) PutChallenge(ctx context.Context, c domain.Challenge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO challenges (`+challengeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			value = excluded.value,
			purpose = excluded.purpose,
			user_id = excluded.user_id,
			payload = excluded.payload,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		c.ID, c.Value, string(c.Purpose), c.UserID, c.Payload, toMillis(c.CreatedAt), toMillis(c.ExpiresAt),
	)
	return err
}

func (r *challengesRepo) GetChallenge(ctx context.Context, id string) (domain.Challenge, error) {
	return scanChallenge(r.db.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = ?`, id))
}

func (r *challengesRepo) TakeChallenge(ctx context.Context, id string) (domain.Challenge, error) {
	return scanChallenge(r.db.QueryRowContext(ctx, `DELETE FROM challenges WHERE id = ? RETURNING `+challengeColumns, id))
}

func (r *challengesRepo) DeleteChallenge(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM challenges WHERE id = ?`, id)
	return err
}

func (r *challengesRepo) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM challenges WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
