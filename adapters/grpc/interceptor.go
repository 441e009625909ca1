// Package authlygrpc gates gRPC methods behind an authly.Gate.
//
// Each full method name maps to the permission it requires. Methods listed
// as public skip authorization; every other method needs at least a valid
// token. Rejections are returned as gRPC status errors whose code follows
// the HTTP status of the AuthError and whose message carries its code and
// description.
//
// Concurrency: All exported functions are safe for concurrent use.
package authlygrpc

import (
	"context"
	"net/http"

	"github.com/keksclan/coffeeshop/authly"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey struct{}

// ClaimsFromContext returns the claims stored by the interceptors.
func ClaimsFromContext(ctx context.Context) authly.Claims {
	v, _ := ctx.Value(contextKey{}).(authly.Claims)
	return v
}

// Option configures the interceptors.
type Option func(*options)

type options struct {
	public map[string]bool
}

// WithPublicMethods lists full method names that skip authorization.
func WithPublicMethods(methods ...string) Option {
	return func(o *options) {
		for _, m := range methods {
			o.public[m] = true
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{public: map[string]bool{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// UnaryServerInterceptor authorizes unary calls. permissions maps full
// method names ("/pkg.Service/Method") to the permission they require.
func UnaryServerInterceptor(gate *authly.Gate, permissions map[string]string, opts ...Option) grpc.UnaryServerInterceptor {
	o := buildOptions(opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if o.public[info.FullMethod] {
			return handler(ctx, req)
		}
		newCtx, err := authorize(ctx, gate, permissions[info.FullMethod])
		if err != nil {
			return nil, err
		}
		return handler(newCtx, req)
	}
}

// StreamServerInterceptor is UnaryServerInterceptor for streaming calls.
func StreamServerInterceptor(gate *authly.Gate, permissions map[string]string, opts ...Option) grpc.StreamServerInterceptor {
	o := buildOptions(opts)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if o.public[info.FullMethod] {
			return handler(srv, ss)
		}
		newCtx, err := authorize(ss.Context(), gate, permissions[info.FullMethod])
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: newCtx})
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }

type metadataSource metadata.MD

// Get reads the first value of key; gRPC metadata keys are lower-case.
func (m metadataSource) Get(key string) (string, bool) {
	vals := metadata.MD(m).Get(key)
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

func authorize(ctx context.Context, gate *authly.Gate, permission string) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	claims, err := gate.Authorize(ctx, metadataSource(md), permission)
	if err != nil {
		return ctx, StatusError(err)
	}
	return context.WithValue(ctx, contextKey{}, claims), nil
}

// StatusError converts an AuthError into a gRPC status error.
func StatusError(err error) error {
	ae, ok := authly.AsAuthError(err)
	if !ok {
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(grpcCode(ae.StatusCode()), ae.Code()+": "+ae.Description())
}

func grpcCode(httpStatus int) codes.Code {
	switch httpStatus {
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusServiceUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
