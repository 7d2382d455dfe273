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
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod     = 30
	totpSkew       = 1  // one step either side, a 90 second window
	totpSecretSize = 20 // bytes, 160 bits

	backupCodeCount  = 10
	backupCodeLength = 10 // 50 bits over CodeAlphabet

	DefaultEnrollmentTTL = 10 * time.Minute
)

var totpValidateOpts = totp.ValidateOpts{
	Period:    totpPeriod,
	Skew:      totpSkew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TOTPEngine manages TOTP enrolment, verification and backup codes. The
// unconfirmed secret lives in the challenge store, never in the factor
// table, so an abandoned enrolment leaves nothing behind.
type TOTPEngine struct {
	Store         store.Store
	Challenges    *ChallengeManager
	Credentials   CredentialStore
	Issuer        string
	EnrollmentTTL time.Duration
	Audit         AuditSink
	Now           func() time.Time
}

func (e *TOTPEngine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func enrollmentID(userID string) string {
	return "totp-enrollment:" + userID
}

// Enroll generates a fresh secret for user. Enrolling again before
// confirmation replaces the previous secret.
func (e *TOTPEngine) Enroll(ctx context.Context, user domain.User) (domain.TOTPEnrollment, error) {
	ctx, span := startSpan(ctx, "TOTPEngine.Enroll")
	enrollment, err := e.enroll(ctx, user)
	endSpan(span, err)
	return enrollment, err
}

func (e *TOTPEngine) enroll(ctx context.Context, user domain.User) (domain.TOTPEnrollment, error) {
	if _, err := e.Store.TOTPFactors().GetTOTPFactor(ctx, user.ID); err == nil {
		return domain.TOTPEnrollment{}, ErrTOTPAlreadyEnabled
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.TOTPEnrollment{}, fmt.Errorf("failed to load TOTP factor: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.Issuer,
		AccountName: user.Username,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return domain.TOTPEnrollment{}, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	ttl := e.EnrollmentTTL
	if ttl <= 0 {
		ttl = DefaultEnrollmentTTL
	}
	buffered, err := e.Challenges.put(ctx, enrollmentID(user.ID), domain.PurposeTOTPEnrollment, user.ID, key.Secret(), nil, ttl)
	if err != nil {
		return domain.TOTPEnrollment{}, err
	}

	return domain.TOTPEnrollment{
		Secret:      key.Secret(),
		URI:         key.URL(),
		Issuer:      e.Issuer,
		AccountName: user.Username,
		ExpiresAt:   buffered.ExpiresAt,
	}, nil
}

// ConfirmEnrollment checks code against the buffered secret and, on
// success, enables TOTP and returns ten backup codes. The plaintext codes
// are never retrievable again.
func (e *TOTPEngine) ConfirmEnrollment(ctx context.Context, userID, code string) ([]string, error) {
	ctx, span := startSpan(ctx, "TOTPEngine.ConfirmEnrollment")
	codes, err := e.confirmEnrollment(ctx, userID, code)
	endSpan(span, err)
	return codes, err
}

func (e *TOTPEngine) confirmEnrollment(ctx context.Context, userID, code string) ([]string, error) {
	pending, err := e.Challenges.peek(ctx, enrollmentID(userID), domain.PurposeTOTPEnrollment)
	if errors.Is(err, ErrChallengeNotFound) || errors.Is(err, ErrChallengeExpired) {
		return nil, ErrNoPendingEnrollment
	}
	if err != nil {
		return nil, err
	}

	if !e.validate(code, pending.Value) {
		return nil, ErrInvalidCode
	}

	codes, hashes, err := generateBackupCodes()
	if err != nil {
		return nil, err
	}

	err = e.Store.WithTx(ctx, func(tx store.Tx) error {
		err := tx.TOTPFactors().CreateTOTPFactor(ctx, domain.TOTPFactor{
			UserID:    userID,
			Secret:    pending.Value,
			Enabled:   true,
			CreatedAt: e.now(),
		})
		if errors.Is(err, store.ErrAlreadyExists) {
			return ErrTOTPAlreadyEnabled
		}
		if err != nil {
			return fmt.Errorf("failed to store TOTP factor: %w", err)
		}
		return storeBackupCodes(ctx, tx, userID, hashes)
	})
	if err != nil {
		return nil, err
	}

	if err := e.Challenges.discard(ctx, enrollmentID(userID)); err != nil {
		return nil, fmt.Errorf("failed to clear enrollment: %w", err)
	}
	return codes, nil
}

// Verify checks a code against the user's enabled factor. It never mutates
// state.
func (e *TOTPEngine) Verify(ctx context.Context, userID, code string) error {
	ctx, span := startSpan(ctx, "TOTPEngine.Verify")
	err := e.verify(ctx, userID, code)
	endSpan(span, err)
	return err
}

func (e *TOTPEngine) verify(ctx context.Context, userID, code string) error {
	factor, err := e.Store.TOTPFactors().GetTOTPFactor(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidCode
	}
	if err != nil {
		return fmt.Errorf("failed to load TOTP factor: %w", err)
	}
	if !factor.Enabled || !e.validate(code, factor.Secret) {
		return ErrInvalidCode
	}
	return nil
}

func (e *TOTPEngine) validate(code, secret string) bool {
	code = strings.ReplaceAll(strings.TrimSpace(code), " ", "")
	if len(code) != otp.DigitsSix.Length() {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, e.now(), totpValidateOpts)
	return err == nil && ok
}

// VerifyBackupCode redeems a backup code. Redemption is a single delete, so
// of any number of concurrent attempts with the same code exactly one wins.
func (e *TOTPEngine) VerifyBackupCode(ctx context.Context, userID, code string) error {
	ctx, span := startSpan(ctx, "TOTPEngine.VerifyBackupCode")
	err := e.verifyBackupCode(ctx, userID, code)
	endSpan(span, err)
	return err
}

func (e *TOTPEngine) verifyBackupCode(ctx context.Context, userID, code string) error {
	normalized := cryptox.NormalizeCode(code)
	if len(normalized) != backupCodeLength {
		return ErrInvalidBackupCode
	}

	ok, err := e.Store.BackupCodes().ConsumeBackupCode(ctx, userID, cryptox.FingerprintToken(normalized))
	if err != nil {
		return fmt.Errorf("failed to redeem backup code: %w", err)
	}
	if !ok {
		return ErrInvalidBackupCode
	}

	emit(ctx, e.Audit, AuditEvent{Type: AuditBackupCodeUsed, UserID: userID})
	return nil
}

// Disable removes the factor and all backup codes after re-checking the
// account password.
func (e *TOTPEngine) Disable(ctx context.Context, userID, password string) error {
	ctx, span := startSpan(ctx, "TOTPEngine.Disable")
	err := e.disable(ctx, userID, password)
	endSpan(span, err)
	return err
}

func (e *TOTPEngine) disable(ctx context.Context, userID, password string) error {
	user, err := e.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if !e.Credentials.VerifyPassword(user.PasswordHash, password) {
		return ErrInvalidCredential
	}

	err = e.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete backup codes: %w", err)
		}
		if err := tx.TOTPFactors().DeleteTOTPFactor(ctx, userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrTOTPNotEnabled
			}
			return fmt.Errorf("failed to delete TOTP factor: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	emit(ctx, e.Audit, AuditEvent{Type: AuditTOTPDisabled, UserID: userID})
	return nil
}

// RegenerateBackupCodes replaces every backup code after a valid TOTP code.
func (e *TOTPEngine) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	ctx, span := startSpan(ctx, "TOTPEngine.RegenerateBackupCodes")
	codes, err := e.regenerateBackupCodes(ctx, userID, code)
	endSpan(span, err)
	return codes, err
}

func (e *TOTPEngine) regenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	if err := e.verify(ctx, userID, code); err != nil {
		return nil, err
	}

	codes, hashes, err := generateBackupCodes()
	if err != nil {
		return nil, err
	}

	err = e.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete backup codes: %w", err)
		}
		return storeBackupCodes(ctx, tx, userID, hashes)
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// Status reports whether TOTP is on and how many backup codes are left.
func (e *TOTPEngine) Status(ctx context.Context, userID string) (domain.TOTPStatus, error) {
	factor, err := e.Store.TOTPFactors().GetTOTPFactor(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.TOTPStatus{}, nil
	}
	if err != nil {
		return domain.TOTPStatus{}, fmt.Errorf("failed to load TOTP factor: %w", err)
	}

	remaining, err := e.Store.BackupCodes().CountBackupCodes(ctx, userID)
	if err != nil {
		return domain.TOTPStatus{}, fmt.Errorf("failed to count backup codes: %w", err)
	}
	return domain.TOTPStatus{
		Enabled:              factor.Enabled,
		EnabledAt:            factor.CreatedAt,
		BackupCodesRemaining: remaining,
	}, nil
}

// Enabled reports whether the user has a confirmed factor.
func (e *TOTPEngine) Enabled(ctx context.Context, userID string) (bool, error) {
	status, err := e.Status(ctx, userID)
	return status.Enabled, err
}

// generateBackupCodes returns display codes (XXXXX-XXXXX) and the
// fingerprints of their normalised form.
func generateBackupCodes() ([]string, []string, error) {
	codes := make([]string, backupCodeCount)
	hashes := make([]string, backupCodeCount)
	for i := range backupCodeCount {
		raw, err := cryptox.GenerateCode(backupCodeLength)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		codes[i] = raw[:backupCodeLength/2] + "-" + raw[backupCodeLength/2:]
		hashes[i] = cryptox.FingerprintToken(raw)
	}
	return codes, hashes, nil
}

func storeBackupCodes(ctx context.Context, tx store.Tx, userID string, hashes []string) error {
	for _, h := range hashes {
		if err := tx.BackupCodes().CreateBackupCode(ctx, userID, h); err != nil {
			return fmt.Errorf("failed to store backup code: %w", err)
		}
	}
	return nil
}
