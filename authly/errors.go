package authly

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies why an authorization attempt was rejected.
type Kind int

const (
	KindMissingHeader Kind = iota + 1
	KindMalformedHeader
	KindInvalidHeader
	KindNoMatchingKey
	KindTokenExpired
	KindInvalidClaims
	KindUnparseableToken
	KindMissingPermissionsClaim
	KindPermissionDenied
	KindKeySetUnavailable
)

type kindInfo struct {
	name        string
	code        string
	description string
	status      int
}

var kinds = map[Kind]kindInfo{
	KindMissingHeader:           {"MissingHeader", "authorization_header_missing", "Authorization header is expected.", http.StatusUnauthorized},
	KindMalformedHeader:         {"MalformedHeader", "invalid_header", "Authorization malformed.", http.StatusUnauthorized},
	KindInvalidHeader:           {"InvalidHeader", "invalid_token_header", "Token header is missing the key id.", http.StatusUnauthorized},
	KindNoMatchingKey:           {"NoMatchingKey", "no_matching_key", "Unable to find the appropriate key.", http.StatusForbidden},
	KindTokenExpired:            {"TokenExpired", "token_expired", "Token expired.", http.StatusUnauthorized},
	KindInvalidClaims:           {"InvalidClaims", "invalid_claims", "Incorrect claims. Please, check the audience and issuer.", http.StatusUnauthorized},
	KindUnparseableToken:        {"UnparseableToken", "unparseable_token", "Unable to parse authentication token.", http.StatusBadRequest},
	KindMissingPermissionsClaim: {"MissingPermissionsClaim", "permissions_missing", "Permissions not included in JWT.", http.StatusBadRequest},
	KindPermissionDenied:        {"PermissionDenied", "unauthorized", "Permission not found.", http.StatusForbidden},
	KindKeySetUnavailable:       {"KeySetUnavailable", "jwks_unavailable", "Unable to fetch signing keys.", http.StatusServiceUnavailable},
}

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// AuthError is the typed failure of the authorization pipeline. It carries a
// machine-readable code, a description safe to return to clients and the
// HTTP status the boundary must use. AuthError values are never mutated.
type AuthError struct {
	kind  Kind
	cause error
}

func newError(kind Kind, cause error) *AuthError {
	return &AuthError{kind: kind, cause: cause}
}

// Sentinels for errors.Is. Matching compares kinds only, so a sentinel
// matches every AuthError of the same kind regardless of cause.
var (
	ErrMissingHeader           = newError(KindMissingHeader, nil)
	ErrMalformedHeader         = newError(KindMalformedHeader, nil)
	ErrInvalidHeader           = newError(KindInvalidHeader, nil)
	ErrNoMatchingKey           = newError(KindNoMatchingKey, nil)
	ErrTokenExpired            = newError(KindTokenExpired, nil)
	ErrInvalidClaims           = newError(KindInvalidClaims, nil)
	ErrUnparseableToken        = newError(KindUnparseableToken, nil)
	ErrMissingPermissionsClaim = newError(KindMissingPermissionsClaim, nil)
	ErrPermissionDenied        = newError(KindPermissionDenied, nil)
	ErrKeySetUnavailable       = newError(KindKeySetUnavailable, nil)
)

func (e *AuthError) Kind() Kind { return e.kind }

func (e *AuthError) Code() string { return kinds[e.kind].code }

func (e *AuthError) Description() string { return kinds[e.kind].description }

func (e *AuthError) StatusCode() int {
	if s := kinds[e.kind].status; s != 0 {
		return s
	}
	return http.StatusInternalServerError
}

func (e *AuthError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code(), e.Description(), e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code(), e.Description())
}

func (e *AuthError) Unwrap() error { return e.cause }

func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.kind == e.kind
}

// AsAuthError extracts the AuthError from err's chain.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

var (
	ErrUnsupportedAlg  = errors.New("unsupported signing algorithm")
	ErrInvalidConfig   = errors.New("invalid authly config")
	ErrPolicyRejection = errors.New("claims policy rejected token")
)
