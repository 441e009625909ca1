// Package authlyconfig loads an authly.Config from Go values, JSON, YAML or
// Lua files, or the process environment. Every loader applies defaults and
// validates before returning.
package authlyconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keksclan/coffeeshop/authly"
	"gopkg.in/yaml.v3"
)

// Loader loads an authly.Config from a source.
type Loader interface {
	Load(ctx context.Context) (*authly.Config, error)
}

// goLoader returns a static config.
type goLoader struct {
	cfg authly.Config
}

// FromGo creates a Loader that returns the provided config directly.
func FromGo(cfg authly.Config) Loader {
	return &goLoader{cfg: cfg}
}

func (l *goLoader) Load(_ context.Context) (*authly.Config, error) {
	return finish(l.cfg)
}

// FromFile picks a loader by file extension: .json, .yaml/.yml or .lua.
func FromFile(path string) (Loader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FromJSONFile(path), nil
	case ".yaml", ".yml":
		return FromYAMLFile(path), nil
	case ".lua":
		return FromLuaFile(path), nil
	default:
		return nil, fmt.Errorf("unsupported config file extension: %s", path)
	}
}

// fileConfig is the on-disk shape shared by the JSON and YAML loaders.
type fileConfig struct {
	Domain           string     `json:"domain" yaml:"domain"`
	Audience         string     `json:"audience" yaml:"audience"`
	AllowedAlgs      []string   `json:"allowed_algs" yaml:"allowed_algs"`
	Issuer           string     `json:"issuer" yaml:"issuer"`
	JWKSURL          string     `json:"jwks_url" yaml:"jwks_url"`
	JWKSCacheTTLSec  int        `json:"jwks_cache_ttl_sec" yaml:"jwks_cache_ttl_sec"`
	DisableJWKSCache bool       `json:"disable_jwks_cache" yaml:"disable_jwks_cache"`
	ClockSkewSec     int        `json:"clock_skew_sec" yaml:"clock_skew_sec"`
	Policy           filePolicy `json:"policy" yaml:"policy"`
}

type filePolicy struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Script    string `json:"script" yaml:"script"`
	TimeoutMs int    `json:"timeout_ms" yaml:"timeout_ms"`
}

func (fc fileConfig) toConfig() authly.Config {
	return authly.Config{
		Domain:           fc.Domain,
		Audience:         fc.Audience,
		AllowedAlgs:      fc.AllowedAlgs,
		Issuer:           fc.Issuer,
		JWKSURL:          fc.JWKSURL,
		JWKSCacheTTL:     time.Duration(fc.JWKSCacheTTLSec) * time.Second,
		DisableJWKSCache: fc.DisableJWKSCache,
		ClockSkew:        time.Duration(fc.ClockSkewSec) * time.Second,
		Policy: authly.PolicyConfig{
			Enabled: fc.Policy.Enabled,
			Script:  fc.Policy.Script,
			Timeout: time.Duration(fc.Policy.TimeoutMs) * time.Millisecond,
		},
	}
}

type jsonLoader struct {
	path string
}

// FromJSONFile creates a Loader that reads config from a JSON file.
func FromJSONFile(path string) Loader {
	return &jsonLoader{path: path}
}

func (l *jsonLoader) Load(_ context.Context) (*authly.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read json config: %w", err)
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	return finish(fc.toConfig())
}

type yamlLoader struct {
	path string
}

// FromYAMLFile creates a Loader that reads config from a YAML file.
func FromYAMLFile(path string) Loader {
	return &yamlLoader{path: path}
}

func (l *yamlLoader) Load(_ context.Context) (*authly.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read yaml config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}
	return finish(fc.toConfig())
}

func finish(cfg authly.Config) (*authly.Config, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}
