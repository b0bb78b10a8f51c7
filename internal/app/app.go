// Package app wires configuration, infrastructure and modules into the
// HTTP server and its background workers.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taskhub/server/internal/infra/events"
	"github.com/taskhub/server/internal/module/access"
	"github.com/taskhub/server/internal/module/auth"
	"github.com/taskhub/server/internal/module/badge"
	"github.com/taskhub/server/internal/module/invitation"
	"github.com/taskhub/server/internal/module/notification"
	"github.com/taskhub/server/internal/module/project"
	"github.com/taskhub/server/internal/module/realtime"
	"github.com/taskhub/server/internal/module/sharelink"
	"github.com/taskhub/server/internal/module/system"
	"github.com/taskhub/server/internal/module/user"
	"github.com/taskhub/server/internal/shared/cache"
	"github.com/taskhub/server/internal/shared/config"
	"github.com/taskhub/server/internal/shared/database"
	"github.com/taskhub/server/internal/shared/logger"
	"github.com/taskhub/server/internal/shared/metrics"
	"github.com/taskhub/server/internal/shared/middleware"
	"github.com/taskhub/server/internal/store"
	"github.com/taskhub/server/internal/store/memory"
	"github.com/taskhub/server/internal/store/postgres"
)

// Deps are infrastructure handles built outside the app. Zero fields are
// built from configuration.
type Deps struct {
	Logger *zap.Logger
	Store  store.Store
	Redis  redis.UniversalClient
}

// App is the assembled server.
type App struct {
	config   *config.Config
	logger   *zap.Logger
	store    store.Store
	redis    redis.UniversalClient
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	router   *gin.Engine

	bus         *events.Bus
	hub         *realtime.Hub
	relay       *realtime.RedisRelay
	maintenance *system.MaintenanceFlag
	emails      notification.EmailQueue
	worker      *notification.Worker
	jwt         *auth.JWTManager

	userService         *user.Service
	projectService      *project.Service
	invitationService   *invitation.Service
	linkService         *sharelink.Service
	notificationService *notification.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the app from configuration.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	return NewWithDeps(ctx, cfg, Deps{})
}

// NewWithDeps builds the app, using deps where given.
func NewWithDeps(ctx context.Context, cfg *config.Config, deps Deps) (*App, error) {
	app := &App{config: cfg, logger: deps.Logger, store: deps.Store, redis: deps.Redis}
	if app.logger == nil {
		app.logger = logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	}

	if err := app.initInfra(ctx); err != nil {
		app.Stop()
		return nil, err
	}
	app.initModules()
	app.router = app.setupRouter()
	return app, nil
}

func (a *App) initInfra(ctx context.Context) error {
	if a.store == nil {
		st, err := OpenStore(ctx, &a.config.Database, a.logger)
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		a.store = st
	}

	if a.redis == nil && a.config.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, &a.config.Redis)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		a.redis = client
	}

	a.registry = ProvideRegistry()
	a.metrics = ProvideMetrics(a.registry)
	return nil
}

// OpenStore opens the store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg *config.DatabaseConfig, log *zap.Logger) (store.Store, error) {
	if cfg.Driver == config.DriverMemory {
		return memory.New(), nil
	}
	db, err := database.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	st := postgres.New(db)
	if cfg.AutoMigrate {
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return st, nil
}

// initModules calls the providers in the order InitializeDependencies
// resolves them.
func (a *App) initModules() {
	cfg := a.config
	resolver := access.NewResolver()

	a.jwt = ProvideJWT(cfg)
	a.bus = events.NewBus(a.logger)
	a.hub = ProvideHub(cfg, resolver, a.store, a.bus, a.metrics, a.logger)
	a.relay = ProvideRelay(cfg, a.redis, a.hub, a.logger)
	a.maintenance = ProvideMaintenance(cfg, a.store, a.redis, a.logger)

	a.emails = ProvideEmailQueue(cfg, a.redis)
	a.worker = ProvideWorker(cfg, a.redis, a.metrics, a.logger)
	uow := ProvideUnitOfWork(cfg, a.store, a.bus, a.hub, a.emails, a.metrics, a.logger)

	a.userService = ProvideUserService(cfg, a.store, a.logger)
	a.projectService = project.NewService(uow, resolver)
	a.invitationService = invitation.NewService(uow, resolver, a.metrics)
	a.linkService = sharelink.NewService(uow, resolver, a.metrics, a.logger)
	a.notificationService = ProvideNotificationService(a.store, a.hub)
}

// Worker returns the email worker, or nil when email is disabled.
func (a *App) Worker() *notification.Worker {
	return a.worker
}

func (a *App) setupRouter() *gin.Engine {
	if a.config.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.CORS(a.config.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(a.metrics))

	r.GET("/health", a.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	v1.Use(middleware.Auth(a.jwt, a.userService, a.logger))
	v1.Use(middleware.Maintenance(a.maintenance))

	user.NewHandler(a.userService, a.logger).RegisterRoutes(v1)
	project.NewHandler(a.projectService, a.logger).RegisterRoutes(v1)
	invitation.NewHandler(a.invitationService, a.logger).RegisterRoutes(v1)
	links := sharelink.NewHandler(a.linkService, a.logger)
	if rl := a.config.RateLimit; rl.Enabled && a.redis != nil {
		links.WithGuards(middleware.RateLimitByUser(cache.NewRateLimiter(a.redis), "links", rl.Limit, rl.Window, a.logger))
	}
	links.RegisterRoutes(v1)
	notification.NewHandler(a.notificationService, a.logger).RegisterRoutes(v1)
	badge.NewHandler(a.notificationService, a.invitationService, a.logger).RegisterRoutes(v1)
	realtime.NewHandler(a.hub, realtime.HandlerConfig{
		Connection: realtime.ConnectionConfig{
			SendBuffer:   a.config.Realtime.SendBuffer,
			PingInterval: a.config.Realtime.PingInterval,
			WriteTimeout: a.config.Realtime.WriteTimeout,
		},
		MaxMessageSize: a.config.Realtime.MaxMessageSize,
		AllowedOrigins: a.config.CORS.AllowedOrigins,
	}, a.logger).RegisterRoutes(v1)

	admin := v1.Group("/admin", middleware.RequireAdmin())
	system.NewHandler(a.maintenance, a.logger).RegisterRoutes(admin)
	user.NewAdminHandler(a.userService, a.logger).RegisterRoutes(admin)

	return r
}

func (a *App) health(c *gin.Context) {
	status := gin.H{"status": "ok", "sessions": a.hub.SessionCount()}
	if a.redis != nil {
		if err := a.redis.Ping(c.Request.Context()).Err(); err != nil {
			a.logger.Warn("health check: redis unreachable", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
	}
	c.JSON(http.StatusOK, status)
}

// Start launches the hub, the relay, the maintenance subscriber, the link
// sweeper and, when configured, the in-process email worker.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	a.hub.Start()
	if a.relay != nil {
		if err := a.relay.Start(ctx); err != nil {
			return fmt.Errorf("start realtime relay: %w", err)
		}
	}
	if err := a.maintenance.Start(ctx); err != nil {
		return fmt.Errorf("start maintenance subscriber: %w", err)
	}

	sweeper := sharelink.NewSweeper(a.linkService, a.config.System.LinkSweepInterval, a.logger)
	a.goRun(func() { sweeper.Run(ctx) })

	if a.worker != nil && a.config.Notification.RunWorker {
		a.goRun(func() {
			if err := a.worker.Run(ctx); err != nil {
				a.logger.Error("email worker stopped", zap.Error(err))
			}
		})
	}
	return nil
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Store returns the persistence layer.
func (a *App) Store() store.Store {
	return a.store
}

// Links returns the share link service.
func (a *App) Links() *sharelink.Service {
	return a.linkService
}

// JWT returns the token manager.
func (a *App) JWT() *auth.JWTManager {
	return a.jwt
}

// Logger returns the app logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Stop shuts background work down and releases connections.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	if a.relay != nil {
		_ = a.relay.Close()
	}
	if a.maintenance != nil {
		_ = a.maintenance.Close()
	}
	if a.hub != nil {
		a.hub.Stop()
	}
	if a.emails != nil {
		_ = a.emails.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
