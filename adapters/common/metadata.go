// Package common holds the pieces shared by the transport adapters: header
// sources over transport-specific request types and the JSON body written
// for rejected requests.
//
// Concurrency: All exported types and functions are safe for concurrent use.
package common

import (
	"net/http"

	"github.com/keksclan/coffeeshop/authly"
	"github.com/valyala/fasthttp"
)

// ErrorBody is the JSON body returned for every rejected request.
type ErrorBody struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Internal is reported for errors that did not originate in the gate.
var Internal = ErrorBody{Code: "internal_error", Description: "Internal server error."}

// ErrorResponse returns the status and body a boundary writes for err.
func ErrorResponse(err error) (int, ErrorBody) {
	ae, ok := authly.AsAuthError(err)
	if !ok {
		return http.StatusInternalServerError, Internal
	}
	return ae.StatusCode(), ErrorBody{Code: ae.Code(), Description: ae.Description()}
}

// RequestHeaders adapts fasthttp request headers, which fiber shares.
// Lookup is case-insensitive; a header sent with an empty value is present.
func RequestHeaders(h *fasthttp.RequestHeader) authly.HeaderSource {
	return requestHeaders{h: h}
}

type requestHeaders struct {
	h *fasthttp.RequestHeader
}

func (r requestHeaders) Get(key string) (string, bool) {
	vals := r.h.PeekAll(key)
	if len(vals) == 0 {
		return "", false
	}
	return string(vals[0]), true
}

// HTTPHeaders adapts net/http headers.
func HTTPHeaders(h http.Header) authly.HeaderSource {
	return httpHeaders(h)
}

type httpHeaders http.Header

func (h httpHeaders) Get(key string) (string, bool) {
	vals := http.Header(h).Values(key)
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}
