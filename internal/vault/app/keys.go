package app

import (
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/securevault/pkg/cryptox"
	"github.com/aussiebroadwan/securevault/pkg/jwtx"
)

// SessionKeys bundles everything derived from the session signing key.
type SessionKeys struct {
	Signer   jwtx.Signer
	KeySet   *jwtx.KeySet
	Verifier jwtx.Verifier
}

// InitSessionKeys loads the Ed25519 session key from cfg.SessionKeyFile,
// generating it on first start, so session tokens survive restarts.
func InitSessionKeys(cfg Config, logger *slog.Logger) (SessionKeys, error) {
	keyPEM, err := cryptox.LoadOrGenerateEd25519Key(cfg.SessionKeyFile)
	if err != nil {
		return SessionKeys{}, fmt.Errorf("failed to load session key: %w", err)
	}

	signer, err := jwtx.NewSignerEdDSA("", keyPEM)
	if err != nil {
		return SessionKeys{}, fmt.Errorf("failed to create session signer: %w", err)
	}
	if err := signer.Validate(); err != nil {
		return SessionKeys{}, fmt.Errorf("session signer invalid: %w", err)
	}

	kid := signer.KID()
	keys := jwtx.NewKeySet()
	if err := keys.Add(kid, signer.(*jwtx.EdDSASigner).PublicKey()); err != nil {
		return SessionKeys{}, fmt.Errorf("failed to register session key: %w", err)
	}

	logger.Info("session signing key loaded", "alg", signer.Alg(), "kid", kid, "path", cfg.SessionKeyFile)

	return SessionKeys{
		Signer:   signer,
		KeySet:   keys,
		Verifier: jwtx.NewVerifierEdDSA(keys, cfg.Issuer),
	}, nil
}
