package jwt

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/keksclan/coffeeshop/internal/jwk"
)

// Validation failures. Every error returned by Validate wraps exactly one of these.
var (
	ErrMissingKid        = errors.New("token header has no kid")
	ErrNoMatchingKey     = errors.New("no key matches token kid")
	ErrKeySetUnavailable = errors.New("key set unavailable")
	ErrTokenExpired      = errors.New("token expired")
	ErrInvalidClaims     = errors.New("invalid claims")
	ErrUnparseable       = errors.New("unable to parse token")
)

// KeyResolver finds the verification key for a kid in the set published at jwksURL.
type KeyResolver interface {
	Lookup(ctx context.Context, jwksURL, kid string) (jwk.Record, error)
}

type Config struct {
	JWKSURL     string
	Issuer      string
	Audience    string
	AllowedAlgs []string
	// ClockSkew is the leeway applied to exp. Zero means a token whose exp
	// equals the current second is already expired.
	ClockSkew time.Duration
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Validator verifies compact-serialized JWS tokens against a remote key set.
// It is safe for concurrent use.
type Validator struct {
	cfg  Config
	keys KeyResolver
	// parserOpts is computed once and reused for every Validate call.
	parserOpts []jwt.ParserOption
	unverified *jwt.Parser
}

func New(cfg Config, keys KeyResolver) (*Validator, error) {
	if keys == nil {
		return nil, errors.New("key resolver is required")
	}
	if cfg.JWKSURL == "" {
		return nil, errors.New("jwks url is required")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("issuer and audience are required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{jwt.SigningMethodRS256.Alg()}
	}
	v := &Validator{cfg: cfg, keys: keys}
	v.parserOpts = []jwt.ParserOption{
		jwt.WithValidMethods(cfg.AllowedAlgs),
		jwt.WithAudience(cfg.Audience),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.ClockSkew),
	}
	if cfg.Now != nil {
		v.parserOpts = append(v.parserOpts, jwt.WithTimeFunc(cfg.Now))
	}
	v.unverified = jwt.NewParser()
	return v, nil
}

// Validate returns the decoded claims of tokenStr once its signature,
// audience, issuer and expiry have been checked.
func (v *Validator) Validate(ctx context.Context, tokenStr string) (map[string]any, error) {
	kid, err := v.headerKid(tokenStr)
	if err != nil {
		return nil, err
	}

	rec, err := v.keys.Lookup(ctx, v.cfg.JWKSURL, kid)
	switch {
	case errors.Is(err, jwk.ErrKeyNotFound):
		return nil, fmt.Errorf("%w: %v", ErrNoMatchingKey, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		pub, ok := rec.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: kid=%s kty=%s", jwk.ErrUnsupportedKeyType, rec.KeyID, rec.KeyType)
		}
		return pub, nil
	}, v.parserOpts...)
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type %T", ErrUnparseable, token.Claims)
	}
	return claims, nil
}

// headerKid decodes the token without verifying it and returns the kid
// header. Only a missing field is a header error.
func (v *Validator) headerKid(tokenStr string) (string, error) {
	token, _, err := v.unverified.ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	raw, ok := token.Header["kid"]
	if !ok {
		return "", ErrMissingKid
	}
	// an empty or non-string kid is present but matches no key
	kid, _ := raw.(string)
	return kid, nil
}

// classify maps a golang-jwt parse error onto the validation failures.
// Expiry is checked before the generic claims error because golang-jwt
// reports an expired token as both.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidClaims):
		return fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
}
