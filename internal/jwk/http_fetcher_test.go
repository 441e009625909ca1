package jwk

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	lestrratjwk "github.com/lestrrat-go/jwx/v2/jwk"
)

func rsaJWK(t *testing.T, pub *rsa.PublicKey, kid string) map[string]any {
	t.Helper()
	return map[string]any{
		"kty": "RSA",
		"kid": kid,
		"use": "sig",
		"alg": "RS256",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func TestHTTPFetcher(t *testing.T) {
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	pubKey := &privKey.PublicKey

	key, _ := lestrratjwk.FromRaw(pubKey)
	_ = key.Set(lestrratjwk.KeyIDKey, "test-key-1")
	_ = key.Set(lestrratjwk.KeyUsageKey, "sig")
	set := lestrratjwk.NewSet()
	_ = set.AddKey(key)
	jwksJSON, _ := json.Marshal(set)

	dupJSON, _ := json.Marshal(map[string]any{"keys": []any{
		rsaJWK(t, &otherKey.PublicKey, "dup"),
		rsaJWK(t, pubKey, "dup"),
	}})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/jwks.json":
			w.Header().Set("Content-Type", "application/json")
			w.Write(jwksJSON)
		case "/dup":
			w.Header().Set("Content-Type", "application/json")
			w.Write(dupJSON)
		case "/invalid":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"keys": "not-an-array"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f := NewHTTPFetcher(server.Client())

	t.Run("parses records", func(t *testing.T) {
		ks, err := f.Fetch(ctx, server.URL+"/.well-known/jwks.json")
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if ks.Len() != 1 {
			t.Fatalf("expected 1 record, got %d", ks.Len())
		}
		rec := ks.Records[0]
		if rec.KeyType != "RSA" || rec.KeyID != "test-key-1" || rec.Use != "sig" {
			t.Errorf("unexpected record metadata: %+v", rec)
		}
		wantN := base64.RawURLEncoding.EncodeToString(pubKey.N.Bytes())
		if rec.N != wantN {
			t.Errorf("modulus mismatch")
		}
		if rec.E != "AQAB" {
			t.Errorf("expected exponent AQAB, got %q", rec.E)
		}
		got, ok := rec.PublicKey.(*rsa.PublicKey)
		if !ok {
			t.Fatalf("expected *rsa.PublicKey, got %T", rec.PublicKey)
		}
		if !got.Equal(pubKey) {
			t.Error("public key mismatch")
		}
	})

	t.Run("duplicate kid keeps document order", func(t *testing.T) {
		ks, err := f.Fetch(ctx, server.URL+"/dup")
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		rec, ok := ks.Lookup("dup")
		if !ok {
			t.Fatal("expected match")
		}
		if !rec.PublicKey.(*rsa.PublicKey).Equal(pubKey) {
			t.Error("expected the last published key to be selected")
		}
	})

	t.Run("invalid JWKS JSON", func(t *testing.T) {
		_, err := f.Fetch(ctx, server.URL+"/invalid")
		if !errors.Is(err, ErrInvalidJWKS) || !errors.Is(err, ErrFetchFailed) {
			t.Errorf("expected ErrInvalidJWKS wrapped in ErrFetchFailed, got %v", err)
		}
	})

	t.Run("non-200 status", func(t *testing.T) {
		_, err := f.Fetch(ctx, server.URL+"/missing")
		if !errors.Is(err, ErrFetchFailed) {
			t.Errorf("expected ErrFetchFailed, got %v", err)
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		url := dead.URL
		dead.Close()
		_, err := NewHTTPFetcher(nil).Fetch(ctx, url)
		if !errors.Is(err, ErrFetchFailed) {
			t.Errorf("expected ErrFetchFailed, got %v", err)
		}
	})
}
