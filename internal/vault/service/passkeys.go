package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/securevault/internal/vault/domain"
	"github.com/aussiebroadwan/securevault/internal/vault/store"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"
)

const DefaultCeremonyTimeout = 5 * time.Minute

// PasskeyConfig describes the relying party.
type PasskeyConfig struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	Timeout       time.Duration
}

// RegistrationCeremony is returned to the client to start navigator.credentials.create.
type RegistrationCeremony struct {
	ID        string                       `json:"ceremony_id"`
	Options   *protocol.CredentialCreation `json:"options"`
	ExpiresAt time.Time                    `json:"expires_at"`
}

// AuthenticationCeremony is returned to the client to start navigator.credentials.get.
type AuthenticationCeremony struct {
	ID        string                        `json:"ceremony_id"`
	Options   *protocol.CredentialAssertion `json:"options"`
	ExpiresAt time.Time                     `json:"expires_at"`
}

// PasskeyAssertion is a verified authentication.
type PasskeyAssertion struct {
	UserID       string
	CredentialID string
	SignCount    uint32
}

type passkeyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type passkeyParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultPasskeyParser struct{}

func (defaultPasskeyParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultPasskeyParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// PasskeyEngine runs WebAuthn registration and authentication ceremonies.
type PasskeyEngine struct {
	Store      store.Store
	Challenges *ChallengeManager
	Audit      AuditSink
	Now        func() time.Time

	webauthn passkeyProvider
	parser   passkeyParser
}

func NewPasskeyEngine(cfg PasskeyConfig, st store.Store, challenges *ChallengeManager, audit AuditSink) (*PasskeyEngine, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultCeremonyTimeout
	}

	w, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
		Timeouts: webauthn.TimeoutsConfig{
			Login:        webauthn.TimeoutConfig{Enforce: true, Timeout: timeout, TimeoutUVD: timeout},
			Registration: webauthn.TimeoutConfig{Enforce: true, Timeout: timeout, TimeoutUVD: timeout},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure webauthn: %w", err)
	}

	return &PasskeyEngine{
		Store:      st,
		Challenges: challenges,
		Audit:      audit,
		webauthn:   w,
		parser:     defaultPasskeyParser{},
	}, nil
}

func (e *PasskeyEngine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// BeginRegistration starts a registration ceremony for user, excluding the
// credentials they already own.
func (e *PasskeyEngine) BeginRegistration(ctx context.Context, user domain.User) (RegistrationCeremony, error) {
	ctx, span := startSpan(ctx, "PasskeyEngine.BeginRegistration")
	ceremony, err := e.beginRegistration(ctx, user)
	endSpan(span, err)
	return ceremony, err
}

func (e *PasskeyEngine) beginRegistration(ctx context.Context, user domain.User) (RegistrationCeremony, error) {
	pu, err := e.loadPasskeyUser(ctx, user)
	if err != nil {
		return RegistrationCeremony{}, err
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			ResidentKey:             protocol.ResidentKeyRequirementPreferred,
			UserVerification:        protocol.VerificationPreferred,
		}),
		webauthn.WithCredentialParameters([]protocol.CredentialParameter{
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgPS256},
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgEdDSA},
		}),
	}
	if len(pu.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(pu.credentials).CredentialDescriptors()))
	}

	creation, session, err := e.webauthn.BeginRegistration(pu, options...)
	if err != nil {
		return RegistrationCeremony{}, fmt.Errorf("failed to begin registration: %w", err)
	}

	c, err := e.issueCeremony(ctx, domain.PurposeRegistration, user.ID, session)
	if err != nil {
		return RegistrationCeremony{}, err
	}
	return RegistrationCeremony{ID: c.ID, Options: creation, ExpiresAt: c.ExpiresAt}, nil
}

// CompleteRegistration verifies the attestation for a ceremony started by
// userID and stores the new credential. An empty label gets a dated default.
func (e *PasskeyEngine) CompleteRegistration(ctx context.Context, userID, ceremonyID, label string, response []byte) (domain.PasskeyCredential, error) {
	ctx, span := startSpan(ctx, "PasskeyEngine.CompleteRegistration")
	cred, err := e.completeRegistration(ctx, userID, ceremonyID, label, response)
	endSpan(span, err)
	return cred, err
}

func (e *PasskeyEngine) completeRegistration(ctx context.Context, userID, ceremonyID, label string, response []byte) (domain.PasskeyCredential, error) {
	challenge, err := e.Challenges.Consume(ctx, ceremonyID, domain.PurposeRegistration)
	if err != nil {
		return domain.PasskeyCredential{}, err
	}
	if challenge.UserID != userID {
		return domain.PasskeyCredential{}, ErrChallengeNotFound
	}
	session, err := decodeSession(challenge)
	if err != nil {
		return domain.PasskeyCredential{}, err
	}

	user, err := e.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return domain.PasskeyCredential{}, fmt.Errorf("failed to load user: %w", err)
	}
	pu, err := e.loadPasskeyUser(ctx, user)
	if err != nil {
		return domain.PasskeyCredential{}, err
	}

	var created *webauthn.Credential
	err = guard(func() error {
		parsed, err := e.parser.ParseCredentialCreationResponseBytes(response)
		if err != nil {
			return err
		}
		created, err = e.webauthn.CreateCredential(pu, session, parsed)
		return err
	})
	if err != nil || created == nil {
		e.auditAttestation(ctx, userID, "", err)
		return domain.PasskeyCredential{}, ErrAttestationInvalid
	}

	credentialJSON, err := json.Marshal(created)
	if err != nil {
		return domain.PasskeyCredential{}, fmt.Errorf("failed to encode credential: %w", err)
	}

	now := e.now()
	if label == "" {
		label = "Passkey " + now.Format("2006-01-02 15:04")
	}
	transports := make([]string, 0, len(created.Transport))
	for _, t := range created.Transport {
		transports = append(transports, string(t))
	}

	cred := domain.PasskeyCredential{
		ID:              encodeCredentialID(created.ID),
		UserID:          userID,
		PublicKey:       created.PublicKey,
		SignCount:       created.Authenticator.SignCount,
		Label:           label,
		AttestationType: created.AttestationType,
		Transports:      transports,
		AAGUID:          created.Authenticator.AAGUID,
		CredentialJSON:  credentialJSON,
		CreatedAt:       now,
	}
	if err := e.Store.Passkeys().CreatePasskey(ctx, cred); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.PasskeyCredential{}, ErrDuplicateCredential
		}
		return domain.PasskeyCredential{}, fmt.Errorf("failed to store passkey: %w", err)
	}
	return cred, nil
}

// BeginAuthentication starts a discoverable (usernameless) login ceremony.
func (e *PasskeyEngine) BeginAuthentication(ctx context.Context) (AuthenticationCeremony, error) {
	ctx, span := startSpan(ctx, "PasskeyEngine.BeginAuthentication")
	ceremony, err := e.beginAuthentication(ctx)
	endSpan(span, err)
	return ceremony, err
}

func (e *PasskeyEngine) beginAuthentication(ctx context.Context) (AuthenticationCeremony, error) {
	assertion, session, err := e.webauthn.BeginDiscoverableLogin(webauthn.WithUserVerification(protocol.VerificationPreferred))
	if err != nil {
		return AuthenticationCeremony{}, fmt.Errorf("failed to begin login: %w", err)
	}

	c, err := e.issueCeremony(ctx, domain.PurposeAuthentication, "", session)
	if err != nil {
		return AuthenticationCeremony{}, err
	}
	return AuthenticationCeremony{ID: c.ID, Options: assertion, ExpiresAt: c.ExpiresAt}, nil
}

// CompleteAuthentication verifies an assertion and advances the stored
// signature counter. A counter that does not advance is treated as a cloned
// authenticator and rejected without touching stored state.
func (e *PasskeyEngine) CompleteAuthentication(ctx context.Context, ceremonyID string, response []byte) (PasskeyAssertion, error) {
	ctx, span := startSpan(ctx, "PasskeyEngine.CompleteAuthentication")
	assertion, err := e.completeAuthentication(ctx, "", ceremonyID, response)
	endSpan(span, err)
	return assertion, err
}

// CompleteAuthenticationFor is CompleteAuthentication for a credential that
// must belong to userID. A foreign credential fails with
// ErrInvalidCredential before its counter is touched.
func (e *PasskeyEngine) CompleteAuthenticationFor(ctx context.Context, userID, ceremonyID string, response []byte) (PasskeyAssertion, error) {
	ctx, span := startSpan(ctx, "PasskeyEngine.CompleteAuthenticationFor")
	assertion, err := e.completeAuthentication(ctx, userID, ceremonyID, response)
	endSpan(span, err)
	return assertion, err
}

func (e *PasskeyEngine) completeAuthentication(ctx context.Context, ownerID, ceremonyID string, response []byte) (PasskeyAssertion, error) {
	challenge, err := e.Challenges.Consume(ctx, ceremonyID, domain.PurposeAuthentication)
	if err != nil {
		return PasskeyAssertion{}, err
	}
	session, err := decodeSession(challenge)
	if err != nil {
		return PasskeyAssertion{}, err
	}

	var parsed *protocol.ParsedCredentialAssertionData
	err = guard(func() error {
		parsed, err = e.parser.ParseCredentialRequestResponseBytes(response)
		return err
	})
	if err != nil || parsed == nil {
		e.auditAttestation(ctx, "", "", err)
		return PasskeyAssertion{}, ErrAttestationInvalid
	}

	credentialID := encodeCredentialID(parsed.RawID)
	stored, err := e.Store.Passkeys().GetPasskey(ctx, credentialID)
	if errors.Is(err, store.ErrNotFound) {
		return PasskeyAssertion{}, ErrUnknownCredential
	}
	if err != nil {
		return PasskeyAssertion{}, fmt.Errorf("failed to load passkey: %w", err)
	}
	if ownerID != "" && stored.UserID != ownerID {
		return PasskeyAssertion{}, ErrInvalidCredential
	}

	err = guard(func() error {
		_, _, err := e.webauthn.ValidatePasskeyLogin(e.userHandler(ctx, stored), session, parsed)
		return err
	})
	if err != nil {
		e.auditAttestation(ctx, stored.UserID, credentialID, err)
		return PasskeyAssertion{}, ErrAttestationInvalid
	}

	reported := parsed.Response.AuthenticatorData.Counter
	if !counterAdvances(stored.SignCount, reported) {
		e.auditReplay(ctx, stored, reported)
		return PasskeyAssertion{}, ErrReplayDetected
	}

	if err := e.Store.Passkeys().AdvanceSignCount(ctx, credentialID, reported, e.now()); err != nil {
		if errors.Is(err, store.ErrConflict) {
			e.auditReplay(ctx, stored, reported)
			return PasskeyAssertion{}, ErrReplayDetected
		}
		return PasskeyAssertion{}, fmt.Errorf("failed to update sign count: %w", err)
	}

	return PasskeyAssertion{UserID: stored.UserID, CredentialID: credentialID, SignCount: reported}, nil
}

// counterAdvances applies the signature counter rule. Authenticators that
// never implement a counter report zero forever and are accepted.
func counterAdvances(stored, reported uint32) bool {
	return reported > stored || (reported == 0 && stored == 0)
}

// ListCredentials returns the user's passkeys, oldest first.
func (e *PasskeyEngine) ListCredentials(ctx context.Context, userID string) ([]domain.PasskeyCredential, error) {
	return e.Store.Passkeys().ListPasskeysByUser(ctx, userID)
}

func (e *PasskeyEngine) CountCredentials(ctx context.Context, userID string) (int, error) {
	return e.Store.Passkeys().CountPasskeysByUser(ctx, userID)
}

// RevokeCredential deletes one of the user's passkeys.
func (e *PasskeyEngine) RevokeCredential(ctx context.Context, userID, credentialID string) error {
	err := e.Store.Passkeys().DeletePasskey(ctx, userID, credentialID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUnknownCredential
	}
	return err
}

func (e *PasskeyEngine) issueCeremony(ctx context.Context, purpose domain.ChallengePurpose, userID string, session *webauthn.SessionData) (domain.Challenge, error) {
	if session == nil {
		return domain.Challenge{}, errors.New("webauthn returned no session data")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("failed to encode session: %w", err)
	}
	return e.Challenges.Issue(ctx, purpose, userID, session.Challenge, payload)
}

func (e *PasskeyEngine) userHandler(ctx context.Context, stored domain.PasskeyCredential) webauthn.DiscoverableUserHandler {
	return func(_, userHandle []byte) (webauthn.User, error) {
		if string(userHandle) != stored.UserID {
			return nil, errors.New("user handle does not own credential")
		}
		user, err := e.Store.Users().GetUserByID(ctx, stored.UserID)
		if err != nil {
			return nil, err
		}
		return e.loadPasskeyUser(ctx, user)
	}
}

func (e *PasskeyEngine) loadPasskeyUser(ctx context.Context, user domain.User) (*passkeyUser, error) {
	records, err := e.Store.Passkeys().ListPasskeysByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list passkeys: %w", err)
	}

	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal(record.CredentialJSON, &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.ID, err)
		}
		// The column is authoritative; the JSON snapshot is from registration.
		credential.Authenticator.SignCount = record.SignCount
		credentials = append(credentials, credential)
	}
	return &passkeyUser{user: user, credentials: credentials}, nil
}

func (e *PasskeyEngine) auditAttestation(ctx context.Context, userID, credentialID string, err error) {
	event := AuditEvent{Type: AuditAttestationFailed, UserID: userID, CredentialID: credentialID}
	if err != nil {
		event.Error = err.Error()
	}
	emit(ctx, e.Audit, event)
}

func (e *PasskeyEngine) auditReplay(ctx context.Context, stored domain.PasskeyCredential, reported uint32) {
	emit(ctx, e.Audit, AuditEvent{
		Type:         AuditReplayDetected,
		UserID:       stored.UserID,
		CredentialID: stored.ID,
		Error:        fmt.Sprintf("stored counter %d, reported %d", stored.SignCount, reported),
	})
}

func decodeSession(c domain.Challenge) (webauthn.SessionData, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(c.Payload, &session); err != nil {
		return webauthn.SessionData{}, fmt.Errorf("decode ceremony session: %w", err)
	}
	return session, nil
}

// guard turns a panic inside the webauthn library into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("webauthn panic: %v", r)
		}
	}()
	return fn()
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

type passkeyUser struct {
	user        domain.User
	credentials []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte                         { return []byte(u.user.ID) }
func (u *passkeyUser) WebAuthnName() string                       { return u.user.Username }
func (u *passkeyUser) WebAuthnDisplayName() string                { return u.user.Username }
func (u *passkeyUser) WebAuthnIcon() string                       { return "" }
func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }
