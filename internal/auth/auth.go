// Package auth resolves bearer tokens to verified claims against a
// configured set of trusted issuers.
package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fedgraph/fedgraph/internal/cache"
	"github.com/fedgraph/fedgraph/internal/eventbus"
	"github.com/fedgraph/fedgraph/internal/events"
)

// Claims is the verified identity attached to a request.
type Claims struct {
	Subject  string
	Issuer   string
	ClientID string
	// Extra holds the full claim set for validation hooks and resolvers.
	Extra map[string]any
}

// Issuer describes one trusted token issuer. Exactly one of Secret,
// PublicKeyPEM or URL selects the key source: a shared HMAC secret, a
// static PEM public key, or a remote JWKS endpoint.
type Issuer struct {
	Iss          string
	Secret       string
	PublicKeyPEM string
	URL          string
	// Config is opaque deployment data handed to the config processor.
	Config any
}

// ConfigProcessor post-processes an issuer's opaque config at startup,
// e.g. precomputing a revocation-check URL. The returned value replaces
// Issuer.Config.
type ConfigProcessor func(issuer *Issuer) (any, error)

// Validator runs after signature verification and may reject an otherwise
// valid token.
type Validator func(ctx context.Context, issuer *Issuer, claims *Claims) error

// ConfigError reports an unusable trust configuration at startup.
type ConfigError struct {
	Issuer string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Issuer == "" {
		return "auth: " + e.Reason
	}
	return fmt.Sprintf("auth: issuer %q: %s", e.Issuer, e.Reason)
}

var (
	// ErrNoToken reports an absent bearer token.
	ErrNoToken = errors.New("auth: no bearer token")
	// ErrUnverified reports a token that failed verification.
	ErrUnverified = errors.New("auth: token verification failed")
)

type issuerEntry struct {
	issuer *Issuer
	// key is the parsed static key. Nil when the issuer uses a remote
	// key set.
	key     any
	methods []string
	keySet  *keySet
}

// Verifier resolves bearer tokens to Claims.
type Verifier struct {
	issuers    map[string]*issuerEntry
	defaultKey any
	validator  Validator
	cache      *cache.Loader[*Claims]
}

// Option configures a Verifier.
type Option func(*verifierOptions)

type verifierOptions struct {
	issuers     []Issuer
	defaultKey  []byte
	processor   ConfigProcessor
	validator   Validator
	freshWindow time.Duration
	httpClient  *http.Client
	now         func() time.Time
}

// WithIssuers sets the trusted issuer list.
func WithIssuers(issuers ...Issuer) Option {
	return func(o *verifierOptions) { o.issuers = append(o.issuers, issuers...) }
}

// WithDefaultKey sets an HMAC fallback key used for tokens whose issuer
// is not on the trust list.
func WithDefaultKey(key []byte) Option {
	return func(o *verifierOptions) { o.defaultKey = key }
}

// WithConfigProcessor installs the per-issuer config post-processor.
func WithConfigProcessor(p ConfigProcessor) Option {
	return func(o *verifierOptions) { o.processor = p }
}

// WithValidator installs a post-signature validation hook.
func WithValidator(v Validator) Option {
	return func(o *verifierOptions) { o.validator = v }
}

// WithFreshWindow sets how long a verification result is reused without
// re-verifying. Default 10s.
func WithFreshWindow(d time.Duration) Option {
	return func(o *verifierOptions) { o.freshWindow = d }
}

// WithHTTPClient sets the client used for remote key set fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(o *verifierOptions) { o.httpClient = c }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(o *verifierOptions) { o.now = now }
}

// NewVerifier builds a Verifier from the given options. Unusable issuer
// configuration (bad PEM, no key source) fails here, not at request time.
func NewVerifier(opts ...Option) (*Verifier, error) {
	o := verifierOptions{
		freshWindow: 10 * time.Second,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		now:         time.Now,
	}
	for _, f := range opts {
		f(&o)
	}

	v := &Verifier{
		issuers:   make(map[string]*issuerEntry),
		validator: o.validator,
	}
	if len(o.defaultKey) > 0 {
		v.defaultKey = []byte(o.defaultKey)
	}

	for i := range o.issuers {
		iss := o.issuers[i]
		if iss.Iss == "" {
			return nil, &ConfigError{Reason: "issuer with empty iss"}
		}
		if _, dup := v.issuers[iss.Iss]; dup {
			return nil, &ConfigError{Issuer: iss.Iss, Reason: "duplicate issuer"}
		}
		if o.processor != nil {
			cfg, err := o.processor(&iss)
			if err != nil {
				return nil, &ConfigError{Issuer: iss.Iss, Reason: err.Error()}
			}
			iss.Config = cfg
		}
		entry, err := buildIssuerEntry(&iss, o.httpClient)
		if err != nil {
			return nil, err
		}
		v.issuers[iss.Iss] = entry
	}

	// Verification results are reused for a short window so bursts of
	// requests carrying the same token skip repeated signature checks
	// and validation hooks. No stale serving: past the window the token
	// is verified again.
	v.cache = cache.NewLoader(
		func(ctx context.Context, token string) (*Claims, error) {
			return v.verify(ctx, token)
		},
		cache.WithFreshFor(o.freshWindow),
		cache.WithStaleFor(o.freshWindow),
		cache.WithClock(o.now),
	)
	return v, nil
}

func buildIssuerEntry(iss *Issuer, client *http.Client) (*issuerEntry, error) {
	entry := &issuerEntry{issuer: iss}
	switch {
	case iss.Secret != "":
		entry.key = []byte(iss.Secret)
		entry.methods = []string{"HS256", "HS384", "HS512"}
	case iss.PublicKeyPEM != "":
		key, err := parsePublicKeyPEM([]byte(iss.PublicKeyPEM))
		if err != nil {
			return nil, &ConfigError{Issuer: iss.Iss, Reason: err.Error()}
		}
		entry.key = key
		entry.methods = methodsForKey(key)
	case iss.URL != "":
		entry.keySet = newKeySet(iss.URL, client)
		entry.methods = []string{"RS256", "RS384", "RS512"}
	default:
		return nil, &ConfigError{Issuer: iss.Iss, Reason: "no key source (secret, publicKey or url)"}
	}
	return entry, nil
}

// Verify resolves token to Claims. A recently verified token is served
// from cache; failures are never cached.
func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	return v.cache.Get(ctx, token)
}

func (v *Verifier) verify(ctx context.Context, token string) (*Claims, error) {
	issName, err := peekIssuer(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnverified, err)
	}

	entry := v.issuers[issName]
	var key any
	var methods []string
	switch {
	case entry != nil && entry.keySet != nil:
		kid := peekKid(token)
		key, err = entry.keySet.get(ctx, kid)
		if err != nil {
			return nil, fmt.Errorf("%w: remote key set: %s", ErrUnverified, err)
		}
		methods = entry.methods
	case entry != nil:
		key = entry.key
		methods = entry.methods
	case v.defaultKey != nil:
		key = v.defaultKey
		methods = []string{"HS256", "HS384", "HS512"}
	default:
		eventbus.Publish(ctx, events.IssuerUnknown{Issuer: issName})
		return nil, fmt.Errorf("%w: unknown issuer %q", ErrUnverified, issName)
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods(methods))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnverified, err)
	}

	claims := claimsFrom(parsed.Claims.(jwt.MapClaims))
	if v.validator != nil {
		var issuer *Issuer
		if entry != nil {
			issuer = entry.issuer
		}
		if err := v.validator(ctx, issuer, claims); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnverified, err)
		}
	}
	return claims, nil
}

func claimsFrom(m jwt.MapClaims) *Claims {
	c := &Claims{Extra: make(map[string]any, len(m))}
	for k, val := range m {
		c.Extra[k] = val
	}
	if s, ok := m["sub"].(string); ok {
		c.Subject = s
	}
	if s, ok := m["iss"].(string); ok {
		c.Issuer = s
	}
	if s, ok := m["client_id"].(string); ok {
		c.ClientID = s
	}
	return c
}

// peekIssuer reads the iss claim without verifying the signature. The
// issuer decides which key verifies the token, so it has to be read
// first; nothing else is trusted from this parse.
func peekIssuer(token string) (string, error) {
	var claims jwt.MapClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", err
	}
	iss, _ := claims["iss"].(string)
	return iss, nil
}

func peekKid(token string) string {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	kid, _ := parsed.Header["kid"].(string)
	return kid
}

func parsePublicKeyPEM(pemBytes []byte) (any, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block in public key")
	}
	if block.Type == "CERTIFICATE" {
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		return cert.PublicKey, nil
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		if rsaKey, rsaErr := x509.ParsePKCS1PublicKey(block.Bytes); rsaErr == nil {
			return rsaKey, nil
		}
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return key, nil
}

func methodsForKey(key any) []string {
	switch key.(type) {
	case *rsa.PublicKey:
		return []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}
	case *ecdsa.PublicKey:
		return []string{"ES256", "ES384", "ES512"}
	case ed25519.PublicKey:
		return []string{"EdDSA"}
	default:
		return []string{"RS256"}
	}
}
