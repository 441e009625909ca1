package jwk

import (
	"context"
	"crypto"
	"errors"
)

var (
	ErrKeyNotFound        = errors.New("key not found")
	ErrFetchFailed        = errors.New("jwks fetch failed")
	ErrInvalidJWKS        = errors.New("invalid JWKS")
	ErrUnsupportedKeyType = errors.New("unsupported key type")
)

// Fetcher retrieves the signing-key set published at a JWKS URL.
type Fetcher interface {
	Fetch(ctx context.Context, jwksURL string) (*KeySet, error)
}

// Record is a single published signing key.
type Record struct {
	KeyType string
	KeyID   string
	Use     string
	// N and E are the base64url RSA parameters as published. Empty for non-RSA keys.
	N string
	E string

	PublicKey crypto.PublicKey
}

// KeySet is the ordered list of records from one fetch.
// Key identifiers are not required to be unique.
type KeySet struct {
	Records []Record
}

// Lookup returns the record whose KeyID equals kid. The whole set is scanned
// and the last matching record wins. An empty kid matches nothing.
func (s *KeySet) Lookup(kid string) (Record, bool) {
	var (
		match Record
		found bool
	)
	if s == nil || kid == "" {
		return match, false
	}
	for _, r := range s.Records {
		if r.KeyID == kid {
			match = r
			found = true
		}
	}
	return match, found
}

// Len reports the number of records in the set.
func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}
