package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	apiv1 "github.com/beam-cloud/conceptstore/pkg/api/v1"
	"github.com/beam-cloud/conceptstore/pkg/auth"
	"github.com/beam-cloud/conceptstore/pkg/clients"
	"github.com/beam-cloud/conceptstore/pkg/common"
	"github.com/beam-cloud/conceptstore/pkg/content"
	"github.com/beam-cloud/conceptstore/pkg/gateway/services"
	"github.com/beam-cloud/conceptstore/pkg/metrics"
	"github.com/beam-cloud/conceptstore/pkg/oauth"
	"github.com/beam-cloud/conceptstore/pkg/repository"
	"github.com/beam-cloud/conceptstore/pkg/secrets"
	"github.com/beam-cloud/conceptstore/pkg/types"
)

const requestBodyLimit = "2M"

type Gateway struct {
	Config      types.AppConfig
	RedisClient *common.RedisClient
	BackendRepo *repository.PostgresBackend
	httpServer  *http.Server
	echo        *echo.Echo
	ctx         context.Context
	cancelFunc  context.CancelFunc

	baseRouteGroup *echo.Group
	rootRouteGroup *echo.Group

	metrics        *metrics.Metrics
	eventBus       *common.EventBus
	githubClient   *content.GitHubClient
	conceptService *services.ConceptService
	githubOAuth    *oauth.GitHubOAuth
	stateManager   *oauth.StateManager
	userResolver   *auth.UserResolver
}

func NewGateway() (*Gateway, error) {
	configManager, err := common.NewConfigManager[types.AppConfig]()
	if err != nil {
		return nil, err
	}
	config := configManager.GetConfig()

	// Setup logging
	if config.PrettyLogs {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	var redisClient *common.RedisClient
	var backendRepo *repository.PostgresBackend

	if config.Database.Redis.IsConfigured() {
		redisClient, err = common.NewRedisClient(config.Database.Redis, common.WithClientName("ConceptstoreGateway"))
		if err != nil {
			return nil, err
		}
	} else {
		log.Info().Msg("redis not configured - locks and oauth state are process-local")
	}

	// Postgres is optional; rebuild history falls back to memory
	if config.Database.Postgres.Host != "" {
		backendRepo, err = repository.NewPostgresBackend(context.Background(), config.Database.Postgres)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to postgres, rebuild history will not persist")
		} else if err := backendRepo.RunMigrations(context.Background()); err != nil {
			log.Warn().Err(err).Msg("failed to run postgres migrations, rebuild history will not persist")
			backendRepo.Close()
			backendRepo = nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	gateway := &Gateway{
		Config:       config,
		RedisClient:  redisClient,
		BackendRepo:  backendRepo,
		ctx:          ctx,
		cancelFunc:   cancel,
		githubClient: content.NewGitHubClient(config.GitHub),
	}

	if config.Metrics.Enabled {
		gateway.metrics = metrics.NewMetrics()
	}

	return gateway, nil
}

func (g *Gateway) locker() common.Locker {
	if g.RedisClient != nil {
		return common.NewRedisLock(g.RedisClient)
	}
	return common.NewLocalLock()
}

// contentOpener selects the backend concept objects and indexes live in
func (g *Gateway) contentOpener(locker common.Locker) (content.Opener, error) {
	switch g.Config.Content.Backend {
	case "", types.ContentBackendGitHub:
		return g.githubClient, nil
	case types.ContentBackendS3:
		client, err := clients.NewS3Client(g.ctx, g.Config.Content.S3)
		if err != nil {
			return nil, err
		}
		return content.NewS3Opener(client, g.Config.Content.S3, locker), nil
	case types.ContentBackendMemory:
		log.Warn().Msg("memory content backend - objects are lost on restart")
		return content.NewMemoryOpener(), nil
	default:
		return nil, fmt.Errorf("unknown content backend: %s", g.Config.Content.Backend)
	}
}

func (g *Gateway) initHTTP() error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Pre(middleware.RemoveTrailingSlash())

	// Configure logging middleware
	if g.Config.Gateway.HTTP.EnablePrettyLogs {
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Format: "${time_rfc3339} ${id} ${method} ${uri} ${status} ${latency_human}\n",
		}))
	}

	// CORS
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: g.Config.Gateway.HTTP.CORS.AllowedOrigins,
		AllowHeaders: g.Config.Gateway.HTTP.CORS.AllowedHeaders,
		AllowMethods: g.Config.Gateway.HTTP.CORS.AllowedMethods,
	}))

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.BodyLimit(requestBodyLimit))

	if g.metrics != nil {
		e.Use(apiv1.MetricsMiddleware(g.metrics))
	}

	g.echo = e
	g.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", g.Config.Gateway.HTTP.Host, g.Config.Gateway.HTTP.Port),
		Handler: e,
	}

	g.baseRouteGroup = e.Group(apiv1.HttpServerBaseRoute)
	g.rootRouteGroup = e.Group(apiv1.HttpServerRootRoute)

	apiv1.NewHealthGroup(g.baseRouteGroup.Group("/health"), g.RedisClient, g.BackendRepo)

	if g.metrics != nil {
		g.rootRouteGroup.GET("/metrics", echo.WrapHandler(g.metrics.Handler()))
	}

	return nil
}

func (g *Gateway) registerServices() error {
	locker := g.locker()

	opener, err := g.contentOpener(locker)
	if err != nil {
		return fmt.Errorf("failed to create content backend: %w", err)
	}

	var rebuildRepo repository.RebuildRepository
	if g.BackendRepo != nil {
		rebuildRepo = g.BackendRepo
	} else {
		rebuildRepo = repository.NewRebuildMemoryRepository()
	}

	g.conceptService = services.NewConceptService(opener, g.Config.Index,
		services.WithLocker(locker),
		services.WithRebuildRepository(rebuildRepo),
		services.WithMetrics(g.metrics),
	)

	var stateRepo repository.StateRepository
	if g.RedisClient != nil {
		stateRepo = repository.NewStateRedisRepository(g.RedisClient)
	} else {
		stateRepo = repository.NewStateMemoryRepository()
	}

	secretStore, err := secrets.NewStore(g.ctx, g.Config)
	if err != nil {
		return fmt.Errorf("failed to create secrets store: %w", err)
	}

	g.githubOAuth = oauth.NewGitHubOAuth(g.Config.GitHub.OAuth, secretStore)
	g.stateManager = oauth.NewStateManager(g.Config.Auth.SessionKey, g.Config.Auth.StateTTL, stateRepo)
	g.userResolver = auth.NewUserResolver(g.githubClient, g.Config.Auth)

	g.eventBus = common.NewEventBus(g.ctx, g.RedisClient)
	g.userResolver.Subscribe(g.eventBus)
	go g.eventBus.Start()

	api := g.baseRouteGroup.Group("", auth.HTTPMiddleware(g.userResolver))

	apiv1.NewAuthGroup(api.Group("/auth"), g.githubOAuth, g.stateManager)
	apiv1.NewConceptsGroup(api.Group("/repos/:owner/:repo", auth.RequireAuthMiddleware()), g.conceptService)
	apiv1.NewFilesGroup(api.Group("/files", auth.RequireAuthMiddleware()), g.conceptService)

	log.Info().
		Str("content_backend", g.Config.Content.Backend).
		Str("secrets_backend", g.Config.Secrets.Backend).
		Bool("redis", g.RedisClient != nil).
		Bool("postgres", g.BackendRepo != nil).
		Bool("metrics", g.metrics != nil).
		Msg("concept API registered")

	return nil
}

// StartAsync starts the gateway server without blocking
func (g *Gateway) StartAsync() error {
	if err := g.initHTTP(); err != nil {
		return fmt.Errorf("failed to initialize http server: %w", err)
	}

	if err := g.registerServices(); err != nil {
		return fmt.Errorf("failed to register services: %w", err)
	}

	go func() {
		lis, err := net.Listen("tcp", g.httpServer.Addr)
		if err != nil {
			log.Error().Err(err).Msg("failed to listen on http")
			return
		}

		if err := g.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	log.Info().
		Str("host", g.Config.Gateway.HTTP.Host).
		Int("port", g.Config.Gateway.HTTP.Port).
		Msg("gateway http server running")

	return nil
}

// Start is the gateway entry point
func (g *Gateway) Start() error {
	if err := g.StartAsync(); err != nil {
		return err
	}

	terminationSignal := make(chan os.Signal, 1)
	signal.Notify(terminationSignal, os.Interrupt, syscall.SIGTERM)
	<-terminationSignal

	log.Info().Msg("termination signal received. shutting down...")
	g.Shutdown()

	return nil
}

// Shutdown gracefully shuts down the gateway
func (g *Gateway) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), g.Config.Gateway.ShutdownTimeout)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)

	if g.httpServer != nil {
		eg.Go(func() error {
			return g.httpServer.Shutdown(ctx)
		})
	}

	if g.BackendRepo != nil {
		eg.Go(func() error {
			return g.BackendRepo.Close()
		})
	}

	if g.RedisClient != nil {
		eg.Go(func() error {
			return g.RedisClient.Close()
		})
	}

	g.cancelFunc()

	if err := eg.Wait(); err != nil {
		log.Error().Err(err).Msg("failed to shutdown gateway gracefully")
	}

	log.Info().Msg("gateway stopped")
}
