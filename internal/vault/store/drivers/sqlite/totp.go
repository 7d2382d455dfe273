package sqlite

import (
	"context"

	"github.com/aussiebroadwan/securevault/internal/vault/domain"
)

type totpFactorsRepo struct {
	db dbtx
}

func (r *totpFactorsRepo) CreateTOTPFactor(ctx context.Context, f domain.TOTPFactor) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO totp_factors (user_id, secret, enabled, created_at) VALUES (?, ?, ?, ?)`,
		f.UserID, f.Secret, boolToInt(f.Enabled), toMillis(f.CreatedAt),
	)
	return mapConstraint(err)
}

func (r *totpFactorsRepo) GetTOTPFactor(ctx context.Context, userID string) (domain.TOTPFactor, error) {
	var (
		f         domain.TOTPFactor
		enabled   int
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, secret, enabled, created_at FROM totp_factors WHERE user_id = ?`, userID,
	).Scan(&f.UserID, &f.Secret, &enabled, &createdAt)
	if err != nil {
		return domain.TOTPFactor{}, mapNotFound(err)
	}
	f.Enabled = enabled == 1
	f.CreatedAt = fromMillis(createdAt)
	return f, nil
}

func (r *totpFactorsRepo) DeleteTOTPFactor(ctx context.Context, userID string) error {
	return requireOneRow(r.db.ExecContext(ctx, `DELETE FROM totp_factors WHERE user_id = ?`, userID))
}

type backupCodesRepo struct {
	db dbtx
}

func (r *backupCodesRepo) CreateBackupCode(ctx context.Context, userID, codeHash string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO backup_codes (user_id, code_hash) VALUES (?, ?)`, userID, codeHash,
	)
	return mapConstraint(err)
}

func (r *backupCodesRepo) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE user_id = ? AND code_hash = ?`, userID, codeHash,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *backupCodesRepo) DeleteAllBackupCodes(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM backup_codes WHERE user_id = ?`, userID)
	return err
}

func (r *backupCodesRepo) CountBackupCodes(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM backup_codes WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}
