package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Issuer         string        `env:"VAULT_ISSUER"           envDefault:"SecureVault"`
	DatabaseFile   string        `env:"VAULT_DATABASE_FILE"    envDefault:"vault.db"`
	PepperFile     string        `env:"VAULT_PEPPER_FILE"      envDefault:"pepper"`
	SessionKeyFile string        `env:"VAULT_SESSION_KEY_FILE" envDefault:"session.pem"`
	SessionTTL     time.Duration `env:"VAULT_SESSION_TTL"      envDefault:"12h"`
	SecureCookies  bool          `env:"VAULT_SECURE_COOKIES"   envDefault:"false"`

	PendingLoginTTL time.Duration `env:"VAULT_PENDING_LOGIN_TTL" envDefault:"5m"`
	ChallengeTTL    time.Duration `env:"VAULT_CHALLENGE_TTL"     envDefault:"5m"`
	EnrollmentTTL   time.Duration `env:"VAULT_ENROLLMENT_TTL"    envDefault:"10m"`

	// ChallengeStore is "sqlite" or "redis".
	ChallengeStore string `env:"VAULT_CHALLENGE_STORE" envDefault:"sqlite"`
	RedisAddr      string `env:"VAULT_REDIS_ADDR"      envDefault:"localhost:6379"`

	RPID          string   `env:"VAULT_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPDisplayName string   `env:"VAULT_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"SecureVault"`
	RPOrigins     []string `env:"VAULT_WEBAUTHN_RP_ORIGINS"      envDefault:"http://localhost:8080" envSeparator:","`

	Env                  string        `env:"ENV"                   envDefault:"dev"`
	LogLevel             string        `env:"LOG_LEVEL"             envDefault:"info"`
	LogFormat            string        `env:"LOG_FORMAT"            envDefault:"json"`
	Port                 int           `env:"PORT"                  envDefault:"8080"`
	ShutdownGracePeriod  time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`
	HousekeepingInterval time.Duration `env:"HOUSEKEEPING_INTERVAL" envDefault:"1h"`
	OTELEndpoint         string        `env:"OTEL_ENDPOINT"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.ChallengeStore {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("VAULT_CHALLENGE_STORE must be sqlite or redis, got %q", c.ChallengeStore)
	}
	if len(c.RPOrigins) == 0 {
		return fmt.Errorf("VAULT_WEBAUTHN_RP_ORIGINS must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	for name, d := range map[string]time.Duration{
		"VAULT_SESSION_TTL":       c.SessionTTL,
		"VAULT_PENDING_LOGIN_TTL": c.PendingLoginTTL,
		"VAULT_CHALLENGE_TTL":     c.ChallengeTTL,
		"VAULT_ENROLLMENT_TTL":    c.EnrollmentTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
