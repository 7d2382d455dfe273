package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/securevault/internal/vault/domain"
	"github.com/aussiebroadwan/securevault/internal/vault/store/drivers/sqlite"
	"github.com/aussiebroadwan/securevault/pkg/cryptox"
	"github.com/aussiebroadwan/securevault/pkg/jwtx"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/require"
)

const testIssuer = "SecureVault"

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "service-pepper")
	if err != nil {
		panic(err)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))

	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingAudit struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (r *recordingAudit) Emit(_ context.Context, event AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingAudit) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fakePasskeyProvider struct {
	mu                   sync.Mutex
	seq                  int
	credential           *webauthn.Credential
	createErr            error
	loginErr             error
	beginRegistrationErr error
	beginLoginErr        error
	lastCreation         *protocol.CredentialCreation
}

func (f *fakePasskeyProvider) nextChallenge() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("challenge-%d", f.seq)
}

func (f *fakePasskeyProvider) BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	if f.beginRegistrationErr != nil {
		return nil, nil, f.beginRegistrationErr
	}
	creation := &protocol.CredentialCreation{}
	for _, opt := range opts {
		opt(&creation.Response)
	}
	f.mu.Lock()
	f.lastCreation = creation
	f.mu.Unlock()
	return creation, &webauthn.SessionData{Challenge: f.nextChallenge(), UserID: user.WebAuthnID()}, nil
}

func (f *fakePasskeyProvider) CreateCredential(_ webauthn.User, _ webauthn.SessionData, _ *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.credential, nil
}

func (f *fakePasskeyProvider) BeginDiscoverableLogin(_ ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	if f.beginLoginErr != nil {
		return nil, nil, f.beginLoginErr
	}
	return &protocol.CredentialAssertion{}, &webauthn.SessionData{Challenge: f.nextChallenge()}, nil
}

func (f *fakePasskeyProvider) ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, _ webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error) {
	if f.loginErr != nil {
		return nil, nil, f.loginErr
	}
	user, err := handler(response.RawID, response.Response.UserHandle)
	if err != nil {
		return nil, nil, err
	}
	for _, c := range user.WebAuthnCredentials() {
		if bytes.Equal(c.ID, response.RawID) {
			return user, &c, nil
		}
	}
	return nil, nil, errors.New("credential not owned by user")
}

type fakePasskeyParser struct {
	mu        sync.Mutex
	creation  *protocol.ParsedCredentialCreationData
	assertion *protocol.ParsedCredentialAssertionData
	err       error
	panics    bool
}

func (f *fakePasskeyParser) ParseCredentialCreationResponseBytes([]byte) (*protocol.ParsedCredentialCreationData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("malformed attestation")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.creation == nil {
		return &protocol.ParsedCredentialCreationData{}, nil
	}
	return f.creation, nil
}

func (f *fakePasskeyParser) ParseCredentialRequestResponseBytes([]byte) (*protocol.ParsedCredentialAssertionData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("malformed assertion")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.assertion, nil
}

func (f *fakePasskeyParser) setAssertion(rawID []byte, userID string, counter uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assertion = &protocol.ParsedCredentialAssertionData{
		ParsedPublicKeyCredential: protocol.ParsedPublicKeyCredential{RawID: rawID},
		Response: protocol.ParsedAssertionResponse{
			UserHandle:        []byte(userID),
			AuthenticatorData: protocol.AuthenticatorData{Counter: counter},
		},
	}
}

type harness struct {
	store      *sqlite.Store
	clock      *fakeClock
	audit      *recordingAudit
	provider   *fakePasskeyProvider
	parser     *fakePasskeyParser
	challenges *ChallengeManager
	users      *UserService
	totp       *TOTPEngine
	passkeys   *PasskeyEngine
	sessions   *SessionIssuer
	login      *LoginOrchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := sqlite.NewStore(sqlite.DSN(filepath.Join(t.TempDir(), "vault.db")))
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	keyPEM, err := cryptox.GenerateEd25519Key()
	require.NoError(t, err)
	signer, err := jwtx.NewSignerEdDSA("test", keyPEM)
	require.NoError(t, err)
	keys := jwtx.NewKeySet()
	require.NoError(t, keys.Add("test", signer.(*jwtx.EdDSASigner).PublicKey()))

	h := &harness{
		store:    st,
		clock:    newFakeClock(time.Now().UTC()),
		audit:    &recordingAudit{},
		provider: &fakePasskeyProvider{},
		parser:   &fakePasskeyParser{},
	}
	creds := &UserCredentials{Store: st}

	h.challenges = &ChallengeManager{Store: st.Challenges(), Now: h.clock.Now}
	h.users = &UserService{Store: st}
	h.totp = &TOTPEngine{
		Store:       st,
		Challenges:  h.challenges,
		Credentials: creds,
		Issuer:      testIssuer,
		Audit:       h.audit,
		Now:         h.clock.Now,
	}
	h.passkeys = &PasskeyEngine{
		Store:      st,
		Challenges: h.challenges,
		Audit:      h.audit,
		Now:        h.clock.Now,
		webauthn:   h.provider,
		parser:     h.parser,
	}
	h.sessions = &SessionIssuer{
		Signer:   signer,
		Verifier: jwtx.NewVerifierEdDSA(keys, testIssuer),
		Issuer:   testIssuer,
		TTL:      time.Hour,
		Now:      h.clock.Now,
	}
	h.login = &LoginOrchestrator{
		Store:       st,
		Credentials: creds,
		Users:       h.users,
		TOTP:        h.totp,
		Passkeys:    h.passkeys,
		Sessions:    h.sessions,
		Now:         h.clock.Now,
	}
	return h
}

func (h *harness) register(t *testing.T, username, password string) domain.User {
	t.Helper()

	u, err := h.users.Register(context.Background(), username, password)
	require.NoError(t, err)
	return u
}

// enableTOTP enrols and confirms TOTP for user, returning the secret and
// backup codes.
func (h *harness) enableTOTP(t *testing.T, user domain.User) (string, []string) {
	t.Helper()
	ctx := context.Background()

	enrollment, err := h.totp.Enroll(ctx, user)
	require.NoError(t, err)

	codes, err := h.totp.ConfirmEnrollment(ctx, user.ID, h.code(t, enrollment.Secret, 0))
	require.NoError(t, err)
	return enrollment.Secret, codes
}

// code returns the TOTP code for secret at the harness clock plus offset.
func (h *harness) code(t *testing.T, secret string, offset time.Duration) string {
	t.Helper()

	c, err := totpCodeAt(secret, h.clock.Now().Add(offset))
	require.NoError(t, err)
	return c
}

// registerPasskey runs a full registration ceremony for a credential with
// the given raw id and initial counter.
func (h *harness) registerPasskey(t *testing.T, user domain.User, rawID []byte, signCount uint32) domain.PasskeyCredential {
	t.Helper()
	ctx := context.Background()

	ceremony, err := h.passkeys.BeginRegistration(ctx, user)
	require.NoError(t, err)

	h.provider.credential = &webauthn.Credential{
		ID:              rawID,
		PublicKey:       []byte("public-key"),
		AttestationType: "none",
		Transport:       []protocol.AuthenticatorTransport{protocol.Internal},
		Authenticator:   webauthn.Authenticator{AAGUID: make([]byte, 16), SignCount: signCount},
	}
	cred, err := h.passkeys.CompleteRegistration(ctx, user.ID, ceremony.ID, "", []byte(`{}`))
	require.NoError(t, err)
	return cred
}
