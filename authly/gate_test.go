package authly_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/keksclan/coffeeshop/authly"
	"github.com/keksclan/coffeeshop/internal/cache"
	jwxjwk "github.com/lestrrat-go/jwx/v2/jwk"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testAudience = "coffee-shop"
	testKid      = "kid1"
)

type provider struct {
	priv   *rsa.PrivateKey
	srv    *httptest.Server
	hits   atomic.Int32
	issuer string
}

func makeJWKS(t *testing.T, pub *rsa.PublicKey, kid string) []byte {
	t.Helper()
	set := jwxjwk.NewSet()
	k, err := jwxjwk.FromRaw(pub)
	if err != nil {
		t.Fatalf("jwk: %v", err)
	}
	_ = k.Set(jwxjwk.KeyIDKey, kid)
	_ = k.Set(jwxjwk.KeyUsageKey, "sig")
	_ = k.Set(jwxjwk.AlgorithmKey, "RS256")
	_ = set.AddKey(k)
	b, _ := json.Marshal(set)
	return b
}

// startProvider serves a key set containing one RSA key under testKid.
func startProvider(t *testing.T) *provider {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen rsa: %v", err)
	}
	p := &provider{priv: priv}
	body := makeJWKS(t, &priv.PublicKey, testKid)
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.hits.Add(1)
		if r.URL.Path != "/.well-known/jwks.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	t.Cleanup(p.srv.Close)
	p.issuer = p.srv.URL + "/"
	return p
}

func (p *provider) config() authly.Config {
	return authly.Config{
		Domain:           "tenant.example.com",
		Audience:         testAudience,
		Issuer:           p.issuer,
		JWKSURL:          p.srv.URL + "/.well-known/jwks.json",
		DisableJWKSCache: true,
	}
}

func signJWT(t *testing.T, priv *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func (p *provider) token(t *testing.T, extra jwt.MapClaims) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": p.issuer,
		"aud": testAudience,
		"sub": "auth0|barista",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	return signJWT(t, p.priv, testKid, claims)
}

func bearer(tok string) authly.HeaderMap {
	return authly.HeaderMap{authly.HeaderAuthorization: "Bearer " + tok}
}

func newGate(t *testing.T, cfg authly.Config, opts ...authly.Option) *authly.Gate {
	t.Helper()
	g, err := authly.New(cfg, opts...)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	t.Cleanup(g.Close)
	return g
}

func TestGateRejections(t *testing.T) {
	p := startProvider(t)
	g := newGate(t, p.config())
	stranger, _ := rsa.GenerateKey(rand.Reader, 2048)

	tests := []struct {
		name       string
		src        authly.HeaderSource
		permission string
		want       *authly.AuthError
		status     int
	}{
		{
			name:       "missing header",
			src:        authly.HeaderMap{},
			permission: "post:drinks",
			want:       authly.ErrMissingHeader,
			status:     http.StatusUnauthorized,
		},
		{
			name:   "basic scheme",
			src:    authly.HeaderMap{authly.HeaderAuthorization: "Basic abc"},
			want:   authly.ErrMalformedHeader,
			status: http.StatusUnauthorized,
		},
		{
			name:   "token without kid",
			src:    bearer(signJWT(t, p.priv, "", jwt.MapClaims{"iss": p.issuer, "aud": testAudience})),
			want:   authly.ErrInvalidHeader,
			status: http.StatusUnauthorized,
		},
		{
			name:   "signed by key absent from key set",
			src:    bearer(signJWT(t, stranger, "other-kid", jwt.MapClaims{"iss": p.issuer, "aud": testAudience})),
			want:   authly.ErrNoMatchingKey,
			status: http.StatusForbidden,
		},
		{
			name:   "expired",
			src:    bearer(p.token(t, jwt.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()})),
			want:   authly.ErrTokenExpired,
			status: http.StatusUnauthorized,
		},
		{
			name:   "wrong audience",
			src:    bearer(p.token(t, jwt.MapClaims{"aud": "espresso-bar"})),
			want:   authly.ErrInvalidClaims,
			status: http.StatusUnauthorized,
		},
		{
			name:   "wrong issuer",
			src:    bearer(p.token(t, jwt.MapClaims{"iss": "https://tenant.example.com/"})),
			want:   authly.ErrInvalidClaims,
			status: http.StatusUnauthorized,
		},
		{
			name:   "tampered signature",
			src:    bearer(signJWT(t, stranger, testKid, jwt.MapClaims{"iss": p.issuer, "aud": testAudience})),
			want:   authly.ErrUnparseableToken,
			status: http.StatusBadRequest,
		},
		{
			name:       "no permissions claim",
			src:        bearer(p.token(t, nil)),
			permission: "post:drinks",
			want:       authly.ErrMissingPermissionsClaim,
			status:     http.StatusBadRequest,
		},
		{
			name:       "permission absent",
			src:        bearer(p.token(t, jwt.MapClaims{"permissions": []string{"get:drinks-detail"}})),
			permission: "post:drinks",
			want:       authly.ErrPermissionDenied,
			status:     http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := 0
			guarded := g.Guard(tt.permission, func(context.Context, authly.Claims) error {
				called++
				return nil
			})
			err := guarded(context.Background(), tt.src)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			ae, ok := authly.AsAuthError(err)
			if !ok {
				t.Fatalf("expected *AuthError, got %T", err)
			}
			if ae.StatusCode() != tt.status {
				t.Errorf("status = %d, want %d", ae.StatusCode(), tt.status)
			}
			if called != 0 {
				t.Fatalf("protected operation invoked %d times on rejection", called)
			}
		})
	}
}

func TestGateInvokesOperationOnceWithClaims(t *testing.T) {
	p := startProvider(t)
	g := newGate(t, p.config())
	tok := p.token(t, jwt.MapClaims{"permissions": []string{"get:drinks-detail", "post:drinks"}})

	calls := 0
	var got authly.Claims
	err := g.Guard("post:drinks", func(_ context.Context, c authly.Claims) error {
		calls++
		got = c
		return nil
	})(context.Background(), bearer(tok))
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
	if got.Subject() != "auth0|barista" {
		t.Errorf("unexpected subject %q", got.Subject())
	}
	perms, _ := got.Permissions()
	if !reflect.DeepEqual(perms, []string{"get:drinks-detail", "post:drinks"}) {
		t.Errorf("unexpected permissions %v", perms)
	}
}

func TestGatePublicOperationSkipsPermissionCheck(t *testing.T) {
	p := startProvider(t)
	g := newGate(t, p.config())

	claims, err := g.Authorize(context.Background(), bearer(p.token(t, nil)), "")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, ok := claims.Permissions(); ok {
		t.Fatal("test token should carry no permissions claim")
	}
}

func TestGateRoundTrip(t *testing.T) {
	p := startProvider(t)
	g := newGate(t, p.config())
	exp := time.Now().Add(time.Hour).Unix()
	tok := signJWT(t, p.priv, testKid, jwt.MapClaims{
		"aud":         testAudience,
		"iss":         p.issuer,
		"exp":         exp,
		"permissions": []string{"patch:drinks"},
	})

	claims, err := g.Authorize(context.Background(), bearer(tok), "patch:drinks")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	want := authly.Claims{
		"aud":         testAudience,
		"iss":         p.issuer,
		"exp":         float64(exp),
		"permissions": []any{"patch:drinks"},
	}
	if !reflect.DeepEqual(claims, want) {
		t.Fatalf("claims mismatch:\n got %#v\nwant %#v", claims, want)
	}
}

func TestGateExpiryBoundary(t *testing.T) {
	p := startProvider(t)
	now := time.Unix(1_900_000_000, 0)
	g := newGate(t, p.config(), authly.WithClock(func() time.Time { return now }))

	for _, exp := range []int64{now.Unix(), now.Unix() - 30} {
		tok := p.token(t, jwt.MapClaims{"exp": exp, "aud": "not-us"})
		_, err := g.Authorize(context.Background(), bearer(tok), "")
		if !errors.Is(err, authly.ErrTokenExpired) {
			t.Fatalf("exp=%d: expected TokenExpired, got %v", exp, err)
		}
	}
}

func TestGateKeySetUnavailable(t *testing.T) {
	p := startProvider(t)
	cfg := p.config()
	cfg.JWKSURL = p.srv.URL + "/gone"
	core, logs := observer.New(zap.InfoLevel)
	g := newGate(t, cfg, authly.WithLogger(zap.New(core)))

	_, err := g.Authorize(context.Background(), bearer(p.token(t, nil)), "")
	if !errors.Is(err, authly.ErrKeySetUnavailable) {
		t.Fatalf("expected KeySetUnavailable, got %v", err)
	}
	ae, _ := authly.AsAuthError(err)
	if ae.StatusCode() != http.StatusServiceUnavailable {
		t.Errorf("status = %d", ae.StatusCode())
	}
	entries := logs.FilterMessage("authorization rejected").All()
	if len(entries) != 1 || entries[0].Level != zap.WarnLevel {
		t.Fatalf("expected one warn log entry, got %v", entries)
	}
	if entries[0].ContextMap()["code"] != "jwks_unavailable" {
		t.Errorf("unexpected log fields %v", entries[0].ContextMap())
	}
}

func TestGateFetchesKeySetPerRequestWhenCacheDisabled(t *testing.T) {
	p := startProvider(t)
	g := newGate(t, p.config())
	tok := p.token(t, nil)
	for i := 0; i < 3; i++ {
		if _, err := g.Authorize(context.Background(), bearer(tok), ""); err != nil {
			t.Fatalf("authorize: %v", err)
		}
	}
	if got := p.hits.Load(); got != 3 {
		t.Fatalf("expected 3 key set fetches, got %d", got)
	}
}

func TestGateCachesKeySet(t *testing.T) {
	p := startProvider(t)
	cfg := p.config()
	cfg.DisableJWKSCache = false
	cfg.JWKSCacheTTL = time.Minute
	g := newGate(t, cfg)
	tok := p.token(t, nil)
	for i := 0; i < 3; i++ {
		if _, err := g.Authorize(context.Background(), bearer(tok), ""); err != nil {
			t.Fatalf("authorize: %v", err)
		}
	}
	if got := p.hits.Load(); got != 1 {
		t.Fatalf("expected 1 key set fetch, got %d", got)
	}
}

func TestGateCloseLeavesSuppliedCacheOpen(t *testing.T) {
	p := startProvider(t)
	cfg := p.config()
	cfg.DisableJWKSCache = false
	cfg.JWKSCacheTTL = time.Minute

	owned, err := authly.New(cfg)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	owned.Close()
	owned.Close()

	shared, err := cache.NewKeySetCache(4)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	defer shared.Close()
	g, err := authly.New(cfg, authly.WithCache(shared))
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	if _, err := g.Authorize(context.Background(), bearer(p.token(t, nil)), ""); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	g.Close()

	shared.Set("jwks:other", "x", 1, time.Minute)
	shared.Wait()
	if _, ok := shared.Get("jwks:other"); !ok {
		t.Fatal("supplied cache was closed by the gate")
	}
}

func TestGateLuaPolicy(t *testing.T) {
	p := startProvider(t)
	cfg := p.config()
	cfg.Policy = authly.PolicyConfig{
		Enabled: true,
		Script:  `if permission == "delete:drinks" and get("org") ~= "hq" then reject("delete is restricted to hq") end`,
	}
	g := newGate(t, cfg)

	tok := p.token(t, jwt.MapClaims{"permissions": []string{"delete:drinks"}, "org": "branch"})
	_, err := g.Authorize(context.Background(), bearer(tok), "delete:drinks")
	if !errors.Is(err, authly.ErrPermissionDenied) || !errors.Is(err, authly.ErrPolicyRejection) {
		t.Fatalf("expected policy rejection, got %v", err)
	}

	tok = p.token(t, jwt.MapClaims{"permissions": []string{"delete:drinks"}, "org": "hq"})
	if _, err := g.Authorize(context.Background(), bearer(tok), "delete:drinks"); err != nil {
		t.Fatalf("expected hq delete to pass, got %v", err)
	}
}

func TestGateRecordsSpans(t *testing.T) {
	p := startProvider(t)
	sr := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(sr))
	g := newGate(t, p.config(), authly.WithTracerProvider(tp))

	_, _ = g.Authorize(context.Background(), authly.HeaderMap{}, "post:drinks")

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "authly.Authorize" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	var outcome string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "authly.outcome" {
			outcome = kv.Value.AsString()
		}
	}
	if outcome != "MissingHeader" {
		t.Errorf("outcome = %q", outcome)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	for name, cfg := range map[string]authly.Config{
		"no domain":       {Audience: testAudience},
		"no audience":     {Domain: "tenant.example.com"},
		"unsupported alg": {Domain: "tenant.example.com", Audience: testAudience, AllowedAlgs: []string{"HS256"}},
		"empty policy":    {Domain: "tenant.example.com", Audience: testAudience, Policy: authly.PolicyConfig{Enabled: true}},
		"bad policy":      {Domain: "tenant.example.com", Audience: testAudience, Policy: authly.PolicyConfig{Enabled: true, Script: "if then"}},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := authly.New(cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestConfigDerivesEndpointsFromDomain(t *testing.T) {
	cfg := authly.Config{Domain: "https://tenant.us.auth0.com/", Audience: testAudience}.WithDefaults()
	if cfg.Issuer != "https://tenant.us.auth0.com/" {
		t.Errorf("issuer = %q", cfg.Issuer)
	}
	if cfg.JWKSURL != "https://tenant.us.auth0.com/.well-known/jwks.json" {
		t.Errorf("jwks url = %q", cfg.JWKSURL)
	}
	if !reflect.DeepEqual(cfg.AllowedAlgs, []string{"RS256"}) {
		t.Errorf("algs = %v", cfg.AllowedAlgs)
	}
	if cfg.JWKSCacheTTL != authly.DefaultJWKSCacheTTL {
		t.Errorf("ttl = %v", cfg.JWKSCacheTTL)
	}
}
