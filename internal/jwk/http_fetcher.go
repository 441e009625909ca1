package jwk

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// maxJWKSResponseSize limits the size of JWKS HTTP responses to prevent memory bombs.
const maxJWKSResponseSize = 1 << 20 // 1 MB

// HTTPFetcher downloads and parses a JWKS document. It holds no state between calls.
type HTTPFetcher struct {
	httpc *http.Client
}

func NewHTTPFetcher(c *http.Client) *HTTPFetcher {
	if c == nil {
		c = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPFetcher{httpc: c}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, jwksURL string) (*KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: do request: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	set, err := jwk.ParseReader(io.LimitReader(resp.Body, maxJWKSResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ErrFetchFailed, ErrInvalidJWKS, err)
	}
	return toKeySet(set)
}

// toKeySet converts a parsed jwx set into records, keeping document order.
func toKeySet(set jwk.Set) (*KeySet, error) {
	ks := &KeySet{Records: make([]Record, 0, set.Len())}
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		rec := Record{
			KeyType: key.KeyType().String(),
			KeyID:   key.KeyID(),
			Use:     key.KeyUsage(),
		}
		if rk, ok := key.(jwk.RSAPublicKey); ok {
			rec.N = base64.RawURLEncoding.EncodeToString(rk.N())
			rec.E = base64.RawURLEncoding.EncodeToString(rk.E())
		}

		var raw any
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("%w: %w: kid=%s: %v", ErrFetchFailed, ErrInvalidJWKS, rec.KeyID, err)
		}
		switch pk := raw.(type) {
		case *rsa.PublicKey:
			rec.PublicKey = pk
		case *ecdsa.PublicKey:
			rec.PublicKey = pk
		}
		ks.Records = append(ks.Records, rec)
	}
	return ks, nil
}
