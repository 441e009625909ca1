package authly

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Cache stores fetched key sets between verifications.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, cost int64, ttl time.Duration) bool
	Del(key string)
}

type Option func(*Gate)

// WithHTTPClient sets the client used to fetch the key set.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gate) {
		g.httpc = c
	}
}

// WithCache replaces the default in-process key-set cache.
func WithCache(c Cache) Option {
	return func(g *Gate) {
		g.cache = c
	}
}

// WithLogger sets the logger used for rejections. Tokens are never logged.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithTracerProvider sets the provider for Authorize spans. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gate) {
		g.tracerProvider = tp
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}
