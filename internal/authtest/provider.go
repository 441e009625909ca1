// Package authtest runs a fake identity provider for tests: an httptest
// server publishing one RSA key and helpers that mint tokens signed by it.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/keksclan/coffeeshop/authly"
	jwxjwk "github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	Audience = "coffee-shop"
	KeyID    = "test-key"
	JWKSPath = "/.well-known/jwks.json"
)

type Provider struct {
	Key    *rsa.PrivateKey
	Server *httptest.Server
	Issuer string

	hits atomic.Int32
}

// NewProvider starts a key set server that is closed with the test.
func NewProvider(t testing.TB) *Provider {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen rsa: %v", err)
	}
	k, err := jwxjwk.FromRaw(&priv.PublicKey)
	if err != nil {
		t.Fatalf("jwk from raw: %v", err)
	}
	_ = k.Set(jwxjwk.KeyIDKey, KeyID)
	_ = k.Set(jwxjwk.KeyUsageKey, "sig")
	set := jwxjwk.NewSet()
	_ = set.AddKey(k)
	body, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}

	p := &Provider{Key: priv}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.hits.Add(1)
		if r.URL.Path != JWKSPath {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(p.Server.Close)
	p.Issuer = p.Server.URL + "/"
	return p
}

// Hits reports how many requests the key set server received.
func (p *Provider) Hits() int { return int(p.hits.Load()) }

// Config returns a Gate configuration pointing at the fake provider with
// key-set caching disabled.
func (p *Provider) Config() authly.Config {
	return authly.Config{
		Domain:           "tenant.example.com",
		Audience:         Audience,
		Issuer:           p.Issuer,
		JWKSURL:          p.Server.URL + JWKSPath,
		DisableJWKSCache: true,
	}
}

func (p *Provider) Gate(t testing.TB, opts ...authly.Option) *authly.Gate {
	t.Helper()
	g, err := authly.New(p.Config(), opts...)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	t.Cleanup(g.Close)
	return g
}

// Token mints a valid token granting permissions.
func (p *Provider) Token(t testing.TB, permissions ...string) string {
	t.Helper()
	if permissions == nil {
		permissions = []string{}
	}
	return p.Sign(t, jwt.MapClaims{"permissions": permissions})
}

// Sign mints a token with the standard claims filled in; extra overrides them.
func (p *Provider) Sign(t testing.TB, extra jwt.MapClaims) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": p.Issuer,
		"aud": Audience,
		"sub": "auth0|barista",
		"exp": time.Now().Add(10 * time.Minute).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = KeyID
	s, err := tok.SignedString(p.Key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

// Bearer formats an Authorization header value.
func Bearer(token string) string { return "Bearer " + token }
