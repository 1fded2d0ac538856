// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; signs operator tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; validates operator tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim on operator tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim on operator tokens.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTTTL is the operator token lifetime (e.g. "1h").
	JWTTTL string `mapstructure:"JWT_TTL"`
	// BcryptCost is the bcrypt cost factor (4-31) for token PIN hashes; default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// ChallengeTTL is the push challenge time-to-live (e.g. "2m"). Polling an
	// older challenge reports a terminal not-confirmed outcome.
	ChallengeTTL string `mapstructure:"CHALLENGE_TTL"`
	// EnrollKeyBits is the RSA key size generated at push enrollment; default 4096.
	EnrollKeyBits int `mapstructure:"ENROLL_KEY_BITS"`
	// RegistrationURLBase is the externally reachable base URL devices use for
	// enrollment step 2 and confirmation callbacks (e.g. https://mfa.example.com).
	RegistrationURLBase string `mapstructure:"REGISTRATION_URL_BASE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_ISSUER", "credsrv-auth")
	v.SetDefault("JWT_AUDIENCE", "credsrv-api")
	v.SetDefault("JWT_TTL", "1h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("CHALLENGE_TTL", "2m")
	v.SetDefault("ENROLL_KEY_BITS", 4096)
	v.SetDefault("REGISTRATION_URL_BASE", "")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if cfg.EnrollKeyBits != 0 && cfg.EnrollKeyBits < 2048 {
		return nil, errors.New("config: ENROLL_KEY_BITS must be at least 2048")
	}

	return &cfg, nil
}

// OperatorTokenTTL parses JWTTTL as a time.Duration. Returns 1h if unset or invalid.
func (c *Config) OperatorTokenTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// PushChallengeTTL parses ChallengeTTL as a time.Duration. Returns 2m if unset or invalid.
func (c *Config) PushChallengeTTL() time.Duration {
	d, err := time.ParseDuration(c.ChallengeTTL)
	if err != nil || d <= 0 {
		return 2 * time.Minute
	}
	return d
}
