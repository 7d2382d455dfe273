package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/aussiebroadwan/securevault/internal/vault/domain"
	"github.com/aussiebroadwan/securevault/internal/vault/store"
)

type passkeysRepo struct {
	db dbtx
}

const passkeyColumns = `credential_id, user_id, public_key, sign_count, label, attestation_type,
	transports, aaguid, credential_json, created_at, last_used_at`

func scanPasskey(row interface{ Scan(...any) error }) (domain.PasskeyCredential, error) {
	var (
		c          domain.PasskeyCredential
		signCount  int64
		transports string
		createdAt  int64
		lastUsedAt sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.UserID, &c.PublicKey, &signCount, &c.Label, &c.AttestationType,
		&transports, &c.AAGUID, &c.CredentialJSON, &createdAt, &lastUsedAt)
	if err != nil {
		return domain.PasskeyCredential{}, mapNotFound(err)
	}
	c.SignCount = uint32(signCount)
	if transports != "" {
		c.Transports = strings.Split(transports, " ")
	}
	c.CreatedAt = fromMillis(createdAt)
	c.LastUsedAt = fromNullMillis(lastUsedAt)
	return c, nil
}

func (r *passkeysRepo) CreatePasskey(ctx context.Context, c domain.PasskeyCredential) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO passkey_credentials (`+passkeyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		c.ID, c.UserID, c.PublicKey, int64(c.SignCount), c.Label, c.AttestationType,
		strings.Join(c.Transports, " "), c.AAGUID, c.CredentialJSON, toMillis(c.CreatedAt),
	)
	return mapConstraint(err)
}

func (r *passkeysRepo) GetPasskey(ctx context.Context, credentialID string) (domain.PasskeyCredential, error) {
	return scanPasskey(r.db.QueryRowContext(ctx,
		`SELECT `+passkeyColumns+` FROM passkey_credentials WHERE credential_id = ?`, credentialID))
}

func (r *passkeysRepo) ListPasskeysByUser(ctx context.Context, userID string) ([]domain.PasskeyCredential, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+passkeyColumns+` FROM passkey_credentials WHERE user_id = ? ORDER BY created_at, credential_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PasskeyCredential
	for rows.Next() {
		c, err := scanPasskey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *passkeysRepo) CountPasskeysByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passkey_credentials WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

func (r *passkeysRepo) AdvanceSignCount(ctx context.Context, credentialID string, newCount uint32, usedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE passkey_credentials
		   SET sign_count = ?, last_used_at = ?
		 WHERE credential_id = ?
		   AND (sign_count < ? OR (sign_count = 0 AND ? = 0))`,
		int64(newCount), toMillis(usedAt), credentialID, int64(newCount), int64(newCount),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

func (r *passkeysRepo) DeletePasskey(ctx context.Context, userID, credentialID string) error {
	return requireOneRow(r.db.ExecContext(ctx,
		`DELETE FROM passkey_credentials WHERE credential_id = ? AND user_id = ?`, credentialID, userID))
}
