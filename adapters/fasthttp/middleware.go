// Package authlyfasthttp gates raw fasthttp handlers behind an authly.Gate.
//
// On success the decoded claims are stored in the request's user values
// under ClaimsUserValueKey. On failure the AuthError is written as
// {"code", "description"} with its status.
//
// Concurrency: All exported functions are safe for concurrent use.
package authlyfasthttp

import (
	"encoding/json"

	"github.com/keksclan/coffeeshop/adapters/common"
	"github.com/keksclan/coffeeshop/authly"
	"github.com/valyala/fasthttp"
)

// ClaimsUserValueKey is the user value key holding authly.Claims.
const ClaimsUserValueKey = "authly.claims"

// Handler is a request handler that receives the caller's claims.
type Handler func(ctx *fasthttp.RequestCtx, claims authly.Claims)

// Guard wraps next so it runs only for requests holding permission.
// An empty permission only requires a valid token.
func Guard(gate *authly.Gate, permission string, next Handler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		claims, err := gate.Authorize(ctx, common.RequestHeaders(&ctx.Request.Header), permission)
		if err != nil {
			WriteError(ctx, err)
			return
		}
		ctx.SetUserValue(ClaimsUserValueKey, claims)
		next(ctx, claims.Clone())
	}
}

// Middleware is Guard for handlers that read claims via ClaimsFromCtx.
func Middleware(gate *authly.Gate, permission string, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return Guard(gate, permission, func(ctx *fasthttp.RequestCtx, _ authly.Claims) {
		next(ctx)
	})
}

// ClaimsFromCtx returns the claims stored by Guard.
func ClaimsFromCtx(ctx *fasthttp.RequestCtx) authly.Claims {
	v, _ := ctx.UserValue(ClaimsUserValueKey).(authly.Claims)
	return v
}

// WriteError writes the boundary body for err.
func WriteError(ctx *fasthttp.RequestCtx, err error) {
	status, body := common.ErrorResponse(err)
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	b, _ := json.Marshal(body)
	ctx.SetBody(b)
}
