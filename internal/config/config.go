// Package config reads the deployment configuration from the
// environment. Parsing and cross-field checks happen here so a bad
// deployment fails at startup, not on the first request.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	auth "github.com/fedgraph/fedgraph/internal/auth"
)

// Config is the environment-derived deployment configuration.
type Config struct {
	// TrustedIssuers are the token issuers the gateway accepts, parsed
	// from the TRUSTED_ISSUERS JSON list.
	TrustedIssuers []auth.Issuer

	// DefaultSecret verifies HMAC tokens whose issuer is not in
	// TrustedIssuers. JWT_SECRET_VERIFY, falling back to JWT_SECRET.
	DefaultSecret string

	// DigestPublicKeyPEM verifies signed query digest tokens.
	DigestPublicKeyPEM string

	// WhitelistedClients are client ids exempt from digest checks.
	WhitelistedClients []string

	RequireAuth          bool
	RequireSignedQueries bool
}

// trustedIssuer is the wire shape of one TRUSTED_ISSUERS entry.
type trustedIssuer struct {
	Iss       string          `json:"iss"`
	URL       string          `json:"url,omitempty"`
	PublicKey string          `json:"publicKey,omitempty"`
	Secret    string          `json:"secret,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// FromEnv builds the configuration from process environment variables.
func FromEnv() (*Config, error) {
	return fromGetenv(os.Getenv)
}

func fromGetenv(getenv func(string) string) (*Config, error) {
	cfg := &Config{}

	if raw := getenv("TRUSTED_ISSUERS"); raw != "" {
		var entries []trustedIssuer
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("TRUSTED_ISSUERS: invalid JSON: %w", err)
		}
		for i, e := range entries {
			if e.Iss == "" {
				return nil, fmt.Errorf("TRUSTED_ISSUERS[%d]: missing iss", i)
			}
			issuer := auth.Issuer{
				Iss:          e.Iss,
				URL:          e.URL,
				PublicKeyPEM: e.PublicKey,
				Secret:       e.Secret,
			}
			if len(e.Config) > 0 {
				var v any
				if err := json.Unmarshal(e.Config, &v); err != nil {
					return nil, fmt.Errorf("TRUSTED_ISSUERS[%d]: invalid config: %w", i, err)
				}
				issuer.Config = v
			}
			cfg.TrustedIssuers = append(cfg.TrustedIssuers, issuer)
		}
	}

	cfg.DefaultSecret = getenv("JWT_SECRET_VERIFY")
	if cfg.DefaultSecret == "" {
		cfg.DefaultSecret = getenv("JWT_SECRET")
	}

	cfg.DigestPublicKeyPEM = getenv("JWT_QUERY_DIGEST_PUBLIC_KEY")

	if raw := getenv("CLIENT_ID_WHITELIST"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.WhitelistedClients = append(cfg.WhitelistedClients, id)
			}
		}
	}

	var err error
	if cfg.RequireAuth, err = parseBool(getenv("REQUIRE_AUTH")); err != nil {
		return nil, fmt.Errorf("REQUIRE_AUTH: %w", err)
	}
	if cfg.RequireSignedQueries, err = parseBool(getenv("REQUIRE_SIGNED_QUERIES")); err != nil {
		return nil, fmt.Errorf("REQUIRE_SIGNED_QUERIES: %w", err)
	}

	if cfg.RequireAuth && len(cfg.TrustedIssuers) == 0 && cfg.DefaultSecret == "" {
		return nil, fmt.Errorf("REQUIRE_AUTH is set but neither TRUSTED_ISSUERS nor JWT_SECRET_VERIFY is configured")
	}
	if cfg.RequireSignedQueries && cfg.DigestPublicKeyPEM == "" {
		return nil, fmt.Errorf("REQUIRE_SIGNED_QUERIES is set but JWT_QUERY_DIGEST_PUBLIC_KEY is not configured")
	}
	return cfg, nil
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", s)
	}
	return v, nil
}
