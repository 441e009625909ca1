package authlyconfig

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/keksclan/coffeeshop/authly"
)

// Environment variables read by FromEnv.
const (
	EnvDomain       = "AUTH0_DOMAIN"
	EnvAudience     = "API_AUDIENCE"
	EnvAlgorithms   = "AUTH_ALGORITHMS"
	EnvJWKSCacheTTL = "AUTH_JWKS_CACHE_TTL"
	EnvClockSkew    = "AUTH_CLOCK_SKEW"
	EnvPolicyScript = "AUTH_POLICY_SCRIPT"
)

type envLoader struct{}

// FromEnv creates a Loader reading the AUTH0_DOMAIN family of variables.
// Durations use time.ParseDuration syntax; AUTH_JWKS_CACHE_TTL=0 disables
// the key set cache. AUTH_POLICY_SCRIPT names a Lua policy file.
func FromEnv() Loader {
	return envLoader{}
}

func (envLoader) Load(_ context.Context) (*authly.Config, error) {
	cfg := authly.Config{
		Domain:   os.Getenv(EnvDomain),
		Audience: os.Getenv(EnvAudience),
	}
	if v := os.Getenv(EnvAlgorithms); v != "" {
		for _, alg := range strings.Split(v, ",") {
			if alg = strings.TrimSpace(alg); alg != "" {
				cfg.AllowedAlgs = append(cfg.AllowedAlgs, alg)
			}
		}
	}
	if v, ok := os.LookupEnv(EnvJWKSCacheTTL); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvJWKSCacheTTL, err)
		}
		cfg.JWKSCacheTTL = d
		cfg.DisableJWKSCache = d == 0
	}
	if v := os.Getenv(EnvClockSkew); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvClockSkew, err)
		}
		cfg.ClockSkew = d
	}
	if path := os.Getenv(EnvPolicyScript); path != "" {
		script, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy script: %w", err)
		}
		cfg.Policy = authly.PolicyConfig{Enabled: true, Script: string(script)}
	}
	return finish(cfg)
}
