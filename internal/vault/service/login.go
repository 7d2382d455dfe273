package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/securevault/internal/vault/domain"
	"github.com/aussiebroadwan/securevault/internal/vault/store"
	"github.com/aussiebroadwan/securevault/pkg/idx"
	"github.com/aussiebroadwan/securevault/pkg/jwtx"
)

const DefaultPendingLoginTTL = 5 * time.Minute

type LoginState string

const (
	StateAuthenticated        LoginState = "authenticated"
	StateAwaitingSecondFactor LoginState = "awaiting_second_factor"
	StateForcedResetRequired  LoginState = "password_reset_required"
)

// Second factor methods.
const (
	MethodTOTP       = "totp"
	MethodBackupCode = "backup_code"
	MethodPasskey    = "passkey"
)

// SessionContext identifies the caller. SessionID is the browser session
// the pending login is keyed on.
type SessionContext struct {
	SessionID string
	IP        string
	UserAgent string
}

// LoginResult is the outcome of a login step. Session is set only when
// State is StateAuthenticated.
type LoginResult struct {
	State     LoginState
	PendingID string
	Methods   []string
	ExpiresAt time.Time
	Session   *domain.AuthSession
}

// SecondFactorProof carries one of: a TOTP code, a backup code, or a
// passkey assertion for a previously begun ceremony.
type SecondFactorProof struct {
	Method     string
	Code       string
	CeremonyID string
	Response   []byte
}

// LoginOrchestrator drives the login state machine. All per-caller state is
// in the pending_logins table keyed by session id, so concurrent logins on
// different sessions never interact.
type LoginOrchestrator struct {
	Store       store.Store
	Credentials CredentialStore
	Users       *UserService
	TOTP        *TOTPEngine
	Passkeys    *PasskeyEngine
	Sessions    *SessionIssuer
	PendingTTL  time.Duration
	Now         func() time.Time
}

func (o *LoginOrchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// AttemptLogin verifies the password and decides what, if anything, must
// follow. Unknown users and wrong passwords both yield ErrInvalidCredential.
func (o *LoginOrchestrator) AttemptLogin(ctx context.Context, sc SessionContext, username, password string) (LoginResult, error) {
	ctx, span := startSpan(ctx, "LoginOrchestrator.AttemptLogin")
	res, err := o.attemptLogin(ctx, sc, username, password)
	endSpan(span, err)
	return res, err
}

func (o *LoginOrchestrator) attemptLogin(ctx context.Context, sc SessionContext, username, password string) (LoginResult, error) {
	if sc.SessionID == "" {
		return LoginResult{}, ErrInvalidRequest
	}

	userID, err := checkPassword(ctx, o.Credentials, username, password)
	if err != nil {
		return LoginResult{}, err
	}

	// A new password attempt supersedes whatever was pending.
	if err := o.Store.PendingLogins().DeletePendingLogin(ctx, sc.SessionID); err != nil {
		return LoginResult{}, fmt.Errorf("failed to clear pending login: %w", err)
	}

	forced, err := o.Credentials.RequiresForcedReset(ctx, userID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to check password reset: %w", err)
	}
	if forced {
		pending, err := o.putPending(ctx, sc, userID, domain.StagePasswordReset)
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{State: StateForcedResetRequired, PendingID: pending.ID, ExpiresAt: pending.ExpiresAt}, nil
	}

	return o.evaluateSecondFactor(ctx, sc, userID, []string{jwtx.AMRPassword})
}

// CompletePasswordReset sets the new password for a login that was stopped
// by a forced reset, then continues exactly as AttemptLogin would.
func (o *LoginOrchestrator) CompletePasswordReset(ctx context.Context, sc SessionContext, newPassword string) (LoginResult, error) {
	ctx, span := startSpan(ctx, "LoginOrchestrator.CompletePasswordReset")
	res, err := o.completePasswordReset(ctx, sc, newPassword)
	endSpan(span, err)
	return res, err
}

func (o *LoginOrchestrator) completePasswordReset(ctx context.Context, sc SessionContext, newPassword string) (LoginResult, error) {
	if len(newPassword) < minPasswordLength {
		return LoginResult{}, ErrWeakPassword
	}

	pending, err := o.claimPending(ctx, sc, domain.StagePasswordReset)
	if err != nil {
		return LoginResult{}, err
	}

	if err := o.Users.ChangePassword(ctx, pending.UserID, newPassword); err != nil {
		return LoginResult{}, err
	}

	return o.evaluateSecondFactor(ctx, sc, pending.UserID, []string{jwtx.AMRPassword})
}

// ResolveSecondFactor completes a pending login with proof. The pending
// login is consumed before the proof is checked, so it resolves at most
// once and a failed proof sends the caller back to AttemptLogin.
func (o *LoginOrchestrator) ResolveSecondFactor(ctx context.Context, sc SessionContext, proof SecondFactorProof) (LoginResult, error) {
	ctx, span := startSpan(ctx, "LoginOrchestrator.ResolveSecondFactor")
	res, err := o.resolveSecondFactor(ctx, sc, proof)
	endSpan(span, err)
	return res, err
}

func (o *LoginOrchestrator) resolveSecondFactor(ctx context.Context, sc SessionContext, proof SecondFactorProof) (LoginResult, error) {
	switch proof.Method {
	case MethodTOTP, MethodBackupCode, MethodPasskey:
	default:
		return LoginResult{}, fmt.Errorf("%w: unknown second factor method %q", ErrInvalidRequest, proof.Method)
	}

	pending, err := o.claimPending(ctx, sc, domain.StageSecondFactor)
	if err != nil {
		return LoginResult{}, err
	}

	var amr string
	switch proof.Method {
	case MethodTOTP:
		err = o.TOTP.Verify(ctx, pending.UserID, proof.Code)
		amr = jwtx.AMROTP
	case MethodBackupCode:
		err = o.TOTP.VerifyBackupCode(ctx, pending.UserID, proof.Code)
		amr = jwtx.AMRBackupCode
	case MethodPasskey:
		_, err = o.Passkeys.CompleteAuthenticationFor(ctx, pending.UserID, proof.CeremonyID, proof.Response)
		amr = jwtx.AMRPasskey
	}
	if err != nil {
		return LoginResult{}, err
	}

	return o.authenticated(ctx, sc, pending.UserID, []string{jwtx.AMRPassword, amr, jwtx.AMRMFA})
}

// LoginWithPasskey logs in with a passkey alone. The forced reset gate
// still applies.
func (o *LoginOrchestrator) LoginWithPasskey(ctx context.Context, sc SessionContext, ceremonyID string, response []byte) (LoginResult, error) {
	ctx, span := startSpan(ctx, "LoginOrchestrator.LoginWithPasskey")
	res, err := o.loginWithPasskey(ctx, sc, ceremonyID, response)
	endSpan(span, err)
	return res, err
}

func (o *LoginOrchestrator) loginWithPasskey(ctx context.Context, sc SessionContext, ceremonyID string, response []byte) (LoginResult, error) {
	if sc.SessionID == "" {
		return LoginResult{}, ErrInvalidRequest
	}

	assertion, err := o.Passkeys.CompleteAuthentication(ctx, ceremonyID, response)
	if err != nil {
		return LoginResult{}, err
	}

	if err := o.Store.PendingLogins().DeletePendingLogin(ctx, sc.SessionID); err != nil {
		return LoginResult{}, fmt.Errorf("failed to clear pending login: %w", err)
	}

	forced, err := o.Credentials.RequiresForcedReset(ctx, assertion.UserID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to check password reset: %w", err)
	}
	if forced {
		pending, err := o.putPending(ctx, sc, assertion.UserID, domain.StagePasswordReset)
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{State: StateForcedResetRequired, PendingID: pending.ID, ExpiresAt: pending.ExpiresAt}, nil
	}

	return o.authenticated(ctx, sc, assertion.UserID, []string{jwtx.AMRPasskey})
}

// FinishPasskey routes a passkey assertion: it resolves a pending second
// factor when the session has one, otherwise it is a passwordless login.
func (o *LoginOrchestrator) FinishPasskey(ctx context.Context, sc SessionContext, ceremonyID string, response []byte) (LoginResult, error) {
	pending, err := o.Store.PendingLogins().GetPendingLogin(ctx, sc.SessionID)
	if err == nil && pending.Stage == domain.StageSecondFactor && !pending.Expired(o.now()) {
		return o.ResolveSecondFactor(ctx, sc, SecondFactorProof{
			Method:     MethodPasskey,
			CeremonyID: ceremonyID,
			Response:   response,
		})
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return LoginResult{}, fmt.Errorf("failed to load pending login: %w", err)
	}
	return o.LoginWithPasskey(ctx, sc, ceremonyID, response)
}

// Logout discards any pending login for the session.
func (o *LoginOrchestrator) Logout(ctx context.Context, sc SessionContext) error {
	if sc.SessionID == "" {
		return nil
	}
	return o.Store.PendingLogins().DeletePendingLogin(ctx, sc.SessionID)
}

// Authenticate reports whether token is a valid session.
func (o *LoginOrchestrator) Authenticate(token string) (jwtx.Claims, error) {
	return o.Sessions.Authenticate(token)
}

// Methods lists the second factors the user can present.
func (o *LoginOrchestrator) Methods(ctx context.Context, userID string) ([]string, error) {
	var methods []string

	totpEnabled, err := o.TOTP.Enabled(ctx, userID)
	if err != nil {
		return nil, err
	}
	if totpEnabled {
		methods = append(methods, MethodTOTP, MethodBackupCode)
	}

	passkeys, err := o.Passkeys.CountCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count passkeys: %w", err)
	}
	if passkeys > 0 {
		methods = append(methods, MethodPasskey)
	}
	return methods, nil
}

func (o *LoginOrchestrator) evaluateSecondFactor(ctx context.Context, sc SessionContext, userID string, amr []string) (LoginResult, error) {
	methods, err := o.Methods(ctx, userID)
	if err != nil {
		return LoginResult{}, err
	}
	if len(methods) == 0 {
		return o.authenticated(ctx, sc, userID, amr)
	}

	pending, err := o.putPending(ctx, sc, userID, domain.StageSecondFactor)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{
		State:     StateAwaitingSecondFactor,
		PendingID: pending.ID,
		Methods:   methods,
		ExpiresAt: pending.ExpiresAt,
	}, nil
}

func (o *LoginOrchestrator) authenticated(ctx context.Context, sc SessionContext, userID string, amr []string) (LoginResult, error) {
	user, err := o.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to load user: %w", err)
	}
	session, err := o.Sessions.Issue(user, sc.SessionID, amr)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{State: StateAuthenticated, Session: &session, ExpiresAt: session.ExpiresAt}, nil
}

func (o *LoginOrchestrator) putPending(ctx context.Context, sc SessionContext, userID string, stage domain.LoginStage) (domain.PendingLogin, error) {
	ttl := o.PendingTTL
	if ttl <= 0 {
		ttl = DefaultPendingLoginTTL
	}
	now := o.now()
	pending := domain.PendingLogin{
		ID:        idx.NewAt(now).String(),
		SessionID: sc.SessionID,
		UserID:    userID,
		Stage:     stage,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := o.Store.PendingLogins().PutPendingLogin(ctx, pending); err != nil {
		return domain.PendingLogin{}, fmt.Errorf("failed to store pending login: %w", err)
	}
	return pending, nil
}

// claimPending atomically takes the session's pending login if it is at
// stage and unexpired. A pending login at another stage is left alone.
func (o *LoginOrchestrator) claimPending(ctx context.Context, sc SessionContext, stage domain.LoginStage) (domain.PendingLogin, error) {
	if sc.SessionID == "" {
		return domain.PendingLogin{}, ErrNoPendingLogin
	}

	pending, err := o.Store.PendingLogins().GetPendingLogin(ctx, sc.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.PendingLogin{}, ErrNoPendingLogin
	}
	if err != nil {
		return domain.PendingLogin{}, fmt.Errorf("failed to load pending login: %w", err)
	}
	if pending.Stage != stage {
		return domain.PendingLogin{}, ErrNoPendingLogin
	}

	pending, err = o.Store.PendingLogins().TakePendingLogin(ctx, sc.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.PendingLogin{}, ErrNoPendingLogin
	}
	if err != nil {
		return domain.PendingLogin{}, fmt.Errorf("failed to take pending login: %w", err)
	}
	if pending.Stage != stage || pending.Expired(o.now()) {
		return domain.PendingLogin{}, ErrNoPendingLogin
	}
	return pending, nil
}
