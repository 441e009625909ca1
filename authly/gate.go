// Package authly guards operations behind bearer tokens issued by an
// external identity provider.
//
// A Gate extracts the token from the Authorization header, verifies its RS256
// signature against the provider's published key set, validates audience,
// issuer and expiry, and checks the required permission string. Every
// failure is an *AuthError carrying the code, description and HTTP status
// the boundary must return.
//
// Concurrency: a Gate is safe for concurrent use.
package authly

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	icache "github.com/keksclan/coffeeshop/internal/cache"
	"github.com/keksclan/coffeeshop/internal/jwk"
	"github.com/keksclan/coffeeshop/internal/luaengine"
	"github.com/keksclan/coffeeshop/internal/oauth/jwt"
)

const tracerName = "github.com/keksclan/coffeeshop/authly"

// Operation is a protected operation. It receives the decoded claims of
// the caller so it may apply further data-level checks.
type Operation func(ctx context.Context, claims Claims) error

// Guarded is an Operation wrapped by Gate.Guard.
type Guarded func(ctx context.Context, src HeaderSource) error

type Gate struct {
	cfg            Config
	httpc          *http.Client
	cache          Cache
	logger         *zap.Logger
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	now            func() time.Time

	keys      *jwk.Manager
	validator *jwt.Validator
	policy    *luaengine.CompiledPolicy

	// ownedCache is the default cache created by New; Close releases it.
	ownedCache *icache.RistrettoCache
	closeOnce  sync.Once
}

// New creates a Gate from cfg. Defaults are applied before validation.
func New(cfg Config, opts ...Option) (*Gate, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Gate{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	if g.httpc == nil {
		g.httpc = &http.Client{Timeout: 10 * time.Second}
	}
	if g.tracerProvider == nil {
		g.tracerProvider = otel.GetTracerProvider()
	}
	g.tracer = g.tracerProvider.Tracer(tracerName)

	ttl := cfg.JWKSCacheTTL
	if cfg.DisableJWKSCache {
		ttl = 0
	}
	if ttl > 0 && g.cache == nil {
		rc, err := icache.NewKeySetCache(16)
		if err != nil {
			return nil, err
		}
		g.cache = rc
		g.ownedCache = rc
	}
	g.keys = jwk.NewManager(jwk.NewHTTPFetcher(g.httpc), g.cache, ttl)

	v, err := jwt.New(jwt.Config{
		JWKSURL:     cfg.JWKSURL,
		Issuer:      cfg.Issuer,
		Audience:    cfg.Audience,
		AllowedAlgs: cfg.AllowedAlgs,
		ClockSkew:   cfg.ClockSkew,
		Now:         g.now,
	}, g.keys)
	if err != nil {
		return nil, fmt.Errorf("init jwt validator: %w", err)
	}
	g.validator = v

	if cfg.Policy.Enabled {
		cp, err := luaengine.Compile(cfg.Policy.Script, cfg.Policy.Timeout)
		if err != nil {
			return nil, fmt.Errorf("compile lua policy: %w", err)
		}
		g.policy = cp
	}
	return g, nil
}

// Close stops the background goroutines of the default key-set cache.
// A cache supplied through WithCache is left to its owner. Close is
// idempotent.
func (g *Gate) Close() {
	g.closeOnce.Do(func() {
		if g.ownedCache != nil {
			g.ownedCache.Close()
		}
	})
}

// Config returns the effective configuration.
func (g *Gate) Config() Config { return g.cfg }

// Verify checks token's signature and standard claims and returns the
// decoded claim set.
func (g *Gate) Verify(ctx context.Context, token string) (Claims, error) {
	claims, err := g.validator.Validate(ctx, token)
	if err != nil {
		return nil, toAuthError(err)
	}
	return Claims(claims), nil
}

// Authorize runs the full pipeline for one request: token extraction,
// verification and, when permission is non-empty, the permission check.
func (g *Gate) Authorize(ctx context.Context, src HeaderSource, permission string) (Claims, error) {
	ctx, span := g.tracer.Start(ctx, "authly.Authorize",
		trace.WithAttributes(attribute.String("authly.permission", permission)))
	defer span.End()

	claims, err := g.authorize(ctx, src, permission)
	if err != nil {
		ae := toAuthError(err)
		span.SetAttributes(attribute.String("authly.outcome", ae.Kind().String()))
		span.SetStatus(codes.Error, ae.Code())
		g.logRejection(permission, ae)
		return nil, ae
	}
	span.SetAttributes(attribute.String("authly.outcome", "authorized"))
	return claims, nil
}

func (g *Gate) authorize(ctx context.Context, src HeaderSource, permission string) (Claims, error) {
	token, err := TokenFromSource(src)
	if err != nil {
		return nil, err
	}
	claims, err := g.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	if permission != "" {
		if err := CheckPermissions(permission, claims); err != nil {
			return nil, err
		}
	}
	if g.policy != nil {
		perms, _ := claims.Permissions()
		if err := g.policy.Evaluate(ctx, claims, permission, perms); err != nil {
			return nil, newError(KindPermissionDenied, fmt.Errorf("%w: %w", ErrPolicyRejection, err))
		}
	}
	return claims, nil
}

// Guard wraps op so that it only runs once Authorize succeeds for
// permission. An empty permission only requires a valid token. On
// rejection op is not invoked and the *AuthError is returned.
func (g *Gate) Guard(permission string, op Operation) Guarded {
	return func(ctx context.Context, src HeaderSource) error {
		claims, err := g.Authorize(ctx, src, permission)
		if err != nil {
			return err
		}
		return op(ctx, claims.Clone())
	}
}

func (g *Gate) logRejection(permission string, ae *AuthError) {
	fields := []zap.Field{
		zap.String("kind", ae.Kind().String()),
		zap.String("code", ae.Code()),
		zap.Int("status", ae.StatusCode()),
		zap.String("permission", permission),
	}
	if cause := ae.Unwrap(); cause != nil {
		fields = append(fields, zap.NamedError("cause", cause))
	}
	if ae.Kind() == KindKeySetUnavailable {
		g.logger.Warn("authorization rejected", fields...)
		return
	}
	g.logger.Info("authorization rejected", fields...)
}

// toAuthError maps validator failures onto AuthError kinds.
func toAuthError(err error) *AuthError {
	if ae, ok := AsAuthError(err); ok {
		return ae
	}
	switch {
	case errors.Is(err, jwt.ErrMissingKid):
		return newError(KindInvalidHeader, err)
	case errors.Is(err, jwt.ErrKeySetUnavailable):
		return newError(KindKeySetUnavailable, err)
	case errors.Is(err, jwt.ErrNoMatchingKey):
		return newError(KindNoMatchingKey, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return newError(KindTokenExpired, err)
	case errors.Is(err, jwt.ErrInvalidClaims):
		return newError(KindInvalidClaims, err)
	default:
		return newError(KindUnparseableToken, err)
	}
}
