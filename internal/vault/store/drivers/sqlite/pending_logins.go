package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/securevault/internal/vault/domain"
)

type pendingLoginsRepo struct {
	db dbtx
}

const pendingLoginColumns = `session_id, id, user_id, stage, created_at, expires_at`

func scanPendingLogin(row interface{ Scan(...any) error }) (domain.PendingLogin, error) {
	var (
		p                    domain.PendingLogin
		stage                string
		createdAt, expiresAt int64
	)
	if err := row.Scan(&p.SessionID, &p.ID, &p.UserID, &stage, &createdAt, &expiresAt); err != nil {
		return domain.PendingLogin{}, mapNotFound(err)
	}
	p.Stage = domain.LoginStage(stage)
	p.CreatedAt = fromMillis(createdAt)
	p.ExpiresAt = fromMillis(expiresAt)
	return p, nil
}

func (r *pendingLoginsRepo) PutPendingLogin(ctx context.Context, p domain.PendingLogin) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_logins (`+pendingLoginColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			id = excluded.id,
			user_id = excluded.user_id,
			stage = excluded.stage,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		p.SessionID, p.ID, p.UserID, string(p.Stage), toMillis(p.CreatedAt), toMillis(p.ExpiresAt),
	)
	return err
}

func (r *pendingLoginsRepo) GetPendingLogin(ctx context.Context, sessionID string) (domain.PendingLogin, error) {
	return scanPendingLogin(r.db.QueryRowContext(ctx,
		`SELECT `+pendingLoginColumns+` FROM pending_logins WHERE session_id = ?`, sessionID))
}

func (r *pendingLoginsRepo) TakePendingLogin(ctx context.Context, sessionID string) (domain.PendingLogin, error) {
	return scanPendingLogin(r.db.QueryRowContext(ctx,
		`DELETE FROM pending_logins WHERE session_id = ? RETURNING `+pendingLoginColumns, sessionID))
}

func (r *pendingLoginsRepo) DeletePendingLogin(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_logins WHERE session_id = ?`, sessionID)
	return err
}

func (r *pendingLoginsRepo) DeleteExpiredPendingLogins(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pending_logins WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
