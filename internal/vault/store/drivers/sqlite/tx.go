package sqlite

import (
	"context"
	"database/sql"

	"github.com/aussiebroadwan/securevault/internal/vault/store"
)

type txStore struct {
	tx *sql.Tx
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

func (t *txStore) Close() error { return nil } // caller commits or rolls back; the DB stays open

func (t *txStore) Ping(ctx context.Context) error { return nil }

// Nested transactions are not supported.
func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	return nil, sql.ErrTxDone
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return sql.ErrTxDone
}

func (t *txStore) Users() store.Users                 { return &usersRepo{db: t.tx} }
func (t *txStore) TOTPFactors() store.TOTPFactors     { return &totpFactorsRepo{db: t.tx} }
func (t *txStore) BackupCodes() store.BackupCodes     { return &backupCodesRepo{db: t.tx} }
func (t *txStore) Passkeys() store.Passkeys           { return &passkeysRepo{db: t.tx} }
func (t *txStore) PendingLogins() store.PendingLogins { return &pendingLoginsRepo{db: t.tx} }
func (t *txStore) Challenges() store.Challenges       { return &challengesRepo{db: t.tx} }

func (t *txStore) ApplyMigrations() error { return nil } // applied before any tx is opened

var _ store.Tx = (*txStore)(nil)
