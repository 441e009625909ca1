package authly

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// DefaultJWKSCacheTTL is used when JWKSCacheTTL is zero and caching is enabled.
const DefaultJWKSCacheTTL = 10 * time.Minute

// supportedAlgs is the fixed set of accepted signature algorithms.
// Keys are fetched as RSA public keys, so only RSA PKCS#1 v1.5 is accepted.
var supportedAlgs = []string{"RS256"}

// Config configures a Gate. It is passed by value at construction; nothing
// in this package reads configuration from globals.
type Config struct {
	// Domain is the identity provider's domain, e.g. "tenant.us.auth0.com".
	// It determines the issuer "https://<domain>/" and the key set URL
	// "https://<domain>/.well-known/jwks.json".
	Domain string
	// Audience is the required "aud" value.
	Audience string
	// AllowedAlgs defaults to ["RS256"].
	AllowedAlgs []string

	// Issuer and JWKSURL override the values derived from Domain.
	Issuer  string
	JWKSURL string

	// JWKSCacheTTL bounds how long a fetched key set is reused.
	JWKSCacheTTL time.Duration
	// DisableJWKSCache fetches the key set on every verification.
	DisableJWKSCache bool
	// ClockSkew is the leeway applied to exp. Zero by default.
	ClockSkew time.Duration

	Policy PolicyConfig
}

// PolicyConfig enables an optional Lua script evaluated after the
// permission check.
type PolicyConfig struct {
	Enabled bool
	Script  string
	Timeout time.Duration
}

func (c *Config) setDefaults() {
	c.Domain = strings.TrimSuffix(strings.TrimPrefix(c.Domain, "https://"), "/")
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = slices.Clone(supportedAlgs)
	}
	if c.Issuer == "" && c.Domain != "" {
		c.Issuer = "https://" + c.Domain + "/"
	}
	if c.JWKSURL == "" && c.Domain != "" {
		c.JWKSURL = "https://" + c.Domain + "/.well-known/jwks.json"
	}
	if c.JWKSCacheTTL == 0 {
		c.JWKSCacheTTL = DefaultJWKSCacheTTL
	}
}

// Validate reports configuration errors. It expects defaults to be applied.
func (c Config) Validate() error {
	if c.Issuer == "" || c.JWKSURL == "" {
		return fmt.Errorf("%w: domain is required", ErrInvalidConfig)
	}
	if c.Audience == "" {
		return fmt.Errorf("%w: audience is required", ErrInvalidConfig)
	}
	for _, alg := range c.AllowedAlgs {
		if !slices.Contains(supportedAlgs, alg) {
			return fmt.Errorf("%w: %w: %s", ErrInvalidConfig, ErrUnsupportedAlg, alg)
		}
	}
	if c.JWKSCacheTTL < 0 || c.ClockSkew < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	if c.Policy.Enabled && strings.TrimSpace(c.Policy.Script) == "" {
		return fmt.Errorf("%w: policy enabled without script", ErrInvalidConfig)
	}
	return nil
}

// WithDefaults returns a copy of c with defaults applied.
func (c Config) WithDefaults() Config {
	c.setDefaults()
	return c
}
