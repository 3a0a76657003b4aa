package identity

import (
	"log/slog"
	"os"
	"strings"
)

// DefaultExemptPrefixes lists path prefixes that skip token extraction and
// audit recording: schema docs, health probes and static assets.
var DefaultExemptPrefixes = []string{
	"/admin/",
	"/api/docs/",
	"/api/schema/",
	"/api/redoc/",
	"/health/",
	"/favicon.ico",
}

// Config controls bearer token verification.
type Config struct {
	// PublicKeyPath is the path to the PEM-encoded RSA public key used to
	// verify token signatures. Required outside of tests.
	PublicKeyPath string

	// Algorithm is the expected signing algorithm. Default "RS256".
	Algorithm string

	// Issuer is the expected iss claim. If empty, issuer is not validated.
	Issuer string

	// Audience is the expected aud claim. If empty, audience is not validated.
	Audience string

	// ExemptPrefixes are path prefixes that bypass extraction entirely.
	ExemptPrefixes []string

	// Logger for diagnostics. If nil, uses slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Algorithm:      "RS256",
		ExemptPrefixes: DefaultExemptPrefixes,
	}
}

// ConfigFromEnv loads config from environment variables:
// PUBLIC_KEY_PATH, JWT_ALGORITHM, JWT_ISSUER, JWT_AUDIENCE.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if v := os.Getenv("PUBLIC_KEY_PATH"); v != "" {
		cfg.PublicKeyPath = v
	}
	if v := os.Getenv("JWT_ALGORITHM"); v != "" {
		cfg.Algorithm = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.Issuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.Audience = v
	}
	return cfg
}

// IsExempt reports whether the given request path bypasses extraction,
// permission checks and audit recording.
func (c *Config) IsExempt(path string) bool {
	prefixes := c.ExemptPrefixes
	if prefixes == nil {
		prefixes = DefaultExemptPrefixes
	}
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) || path == strings.TrimSuffix(p, "/") {
			return true
		}
	}
	return false
}
