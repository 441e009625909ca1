// Command drinks-server serves the coffee shop menu API.
//
// Auth settings come from AUTH_CONFIG (a JSON, YAML or Lua file) or from
// AUTH0_DOMAIN / API_AUDIENCE and friends. Drinks live in PostgreSQL when
// DATABASE_URL is set and in memory otherwise.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	authlygrpc "github.com/keksclan/coffeeshop/adapters/grpc"
	"github.com/keksclan/coffeeshop/authly"
	"github.com/keksclan/coffeeshop/authlyconfig"
	"github.com/keksclan/coffeeshop/internal/api"
	"github.com/keksclan/coffeeshop/internal/config"
	"github.com/keksclan/coffeeshop/internal/drinks"
	"github.com/keksclan/coffeeshop/internal/drinks/postgres"
	"github.com/keksclan/coffeeshop/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "drinks-server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gate, err := newGate(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer gate.Close()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.SeedSampleDrink {
		if err := drinks.Seed(ctx, store); err != nil {
			return err
		}
	}

	if cfg.GRPCAddr != "" {
		srv, err := serveGRPC(cfg.GRPCAddr, gate, logger)
		if err != nil {
			return err
		}
		defer srv.GracefulStop()
	}

	app := api.New(store, gate, logger)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		errCh <- app.Listen(cfg.HTTPAddr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	return app.ShutdownWithTimeout(cfg.ShutdownTimeout)
}

func newGate(ctx context.Context, cfg config.Config, logger *zap.Logger) (*authly.Gate, error) {
	loader := authlyconfig.FromEnv()
	if cfg.AuthConfigFile != "" {
		l, err := authlyconfig.FromFile(cfg.AuthConfigFile)
		if err != nil {
			return nil, err
		}
		loader = l
	}
	authCfg, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	logger.Info("auth configured",
		zap.String("issuer", authCfg.Issuer),
		zap.String("audience", authCfg.Audience),
		zap.Bool("jwks_cache", !authCfg.DisableJWKSCache),
		zap.Bool("policy", authCfg.Policy.Enabled))
	return authly.New(*authCfg, authly.WithLogger(logger.Named("authly")))
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (drinks.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, drinks are kept in memory")
		return drinks.NewMemoryStore(), func() {}, nil
	}
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	store := postgres.New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

// serveGRPC exposes the standard health service. Check is public; Watch
// needs a valid token.
func serveGRPC(addr string, gate *authly.Gate, logger *zap.Logger) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen: %w", err)
	}
	public := authlygrpc.WithPublicMethods(healthpb.Health_Check_FullMethodName)
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(authlygrpc.UnaryServerInterceptor(gate, nil, public)),
		grpc.StreamInterceptor(authlygrpc.StreamServerInterceptor(gate, nil, public)),
	)
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go func() {
		logger.Info("grpc listening", zap.String("addr", addr))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc server", zap.Error(err))
		}
	}()
	return srv, nil
}
