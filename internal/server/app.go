// Package server wires the auth service together: storage, token issuer,
// HTTP transport and the gRPC health endpoint, and runs them until the
// process is signalled.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/tunekeeper/internal/dbx"
	"github.com/dmitrijs2005/tunekeeper/internal/logging"
	"github.com/dmitrijs2005/tunekeeper/internal/server/auth"
	"github.com/dmitrijs2005/tunekeeper/internal/server/config"
	"github.com/dmitrijs2005/tunekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/tunekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tunekeeper/internal/server/rest"
	"github.com/dmitrijs2005/tunekeeper/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/tunekeeper/internal/server/grpc"
)

type runner interface {
	Run(ctx context.Context) error
}

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	redis   *redis.Client
	servers []runner
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stdout, c.LogLevel, c.LogFormat)

	db, err := dbx.Open(ctx, "pgx", c.DatabaseDSN, dbx.DefaultRetryConfig)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}

	var opts []repomanager.Option
	if c.RegistryBackend == config.RegistryRedis {
		client, err := openRedis(ctx, c.RedisURL)
		if err != nil {
			app.close(ctx)
			return nil, fmt.Errorf("redis init error: %w", err)
		}
		app.redis = client
		opts = append(opts, repomanager.WithRedisRegistry(client))
	}

	rm := repomanager.NewPostgresRepositoryManager(opts...)
	if err := rm.RunMigrations(ctx, db); err != nil {
		app.close(ctx)
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	issuer, err := auth.NewIssuer(c.AccessSecret, c.RefreshSecret, c.AccessTokenValidityDuration, c.RefreshTokenValidityDuration)
	if err != nil {
		app.close(ctx)
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc := services.NewAuthService(db, rm, issuer, auth.NewBcryptHasher(c.BcryptCost),
		services.WithLogger(logger.With("module", "auth_service")),
		services.WithMetrics(m),
		services.WithRefreshRotation(c.RotateRefreshTokens),
	)

	h := rest.NewHandler(svc, db, logger.With("module", "http_handler"), c.CookieSecure)
	router := rest.Routes(h, rest.RouterOptions{
		AllowedOrigins: c.AllowedOrigins,
		Logger:         logger.With("module", "http"),
		Metrics:        m,
		Gatherer:       reg,
	})
	app.servers = append(app.servers, rest.NewHTTPServer(c.EndpointAddrHTTP, router, logger))

	if c.EndpointAddrGRPC != "" {
		app.servers = append(app.servers, gs.NewHealthServer(c.EndpointAddrGRPC, logger, db, 10*time.Second))
	}

	return app, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Run serves until SIGINT/SIGTERM/SIGQUIT or the first server failure, then
// releases storage handles.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app.logger.Info(ctx, "Starting app...")

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range app.servers {
		g.Go(func() error { return s.Run(gctx) })
	}
	err := g.Wait()

	app.close(ctx)
	app.logger.Info(ctx, "App stopped")
	return err
}

func (app *App) close(ctx context.Context) {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Warn(ctx, "redis close failed", "error", err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(ctx, "db close failed", "error", err)
	}
}
