package authly

import "strings"

// HeaderAuthorization is the request header carrying the bearer token.
const HeaderAuthorization = "Authorization"

// HeaderSource abstracts reading request metadata from a transport.
// Get reports whether the key was present at all, which is distinct from
// a present but empty value.
type HeaderSource interface {
	Get(key string) (string, bool)
}

// HeaderMap is a HeaderSource over a plain map with case-sensitive keys.
type HeaderMap map[string]string

func (m HeaderMap) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// TokenFromHeader extracts the bearer token from an Authorization header
// value. The value must split on single spaces into exactly two parts, the
// first being "bearer" in any case. The token is returned verbatim.
func TokenFromHeader(value string, present bool) (string, error) {
	if !present {
		return "", ErrMissingHeader
	}
	parts := strings.Split(value, " ")
	if len(parts) != 2 {
		return "", ErrMalformedHeader
	}
	if !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMalformedHeader
	}
	return parts[1], nil
}

// TokenFromSource reads the Authorization header from src and extracts the token.
func TokenFromSource(src HeaderSource) (string, error) {
	if src == nil {
		return "", ErrMissingHeader
	}
	v, ok := src.Get(HeaderAuthorization)
	return TokenFromHeader(v, ok)
}
