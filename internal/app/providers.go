package app

import (
	"github.com/google/wire"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	// Infrastructure
	"github.com/taskhub/server/internal/infra/events"
	"github.com/taskhub/server/internal/shared/config"
	"github.com/taskhub/server/internal/shared/metrics"
	"github.com/taskhub/server/internal/store"

	// Modules
	"github.com/taskhub/server/internal/module/access"
	"github.com/taskhub/server/internal/module/auth"
	"github.com/taskhub/server/internal/module/invitation"
	"github.com/taskhub/server/internal/module/notification"
	"github.com/taskhub/server/internal/module/project"
	"github.com/taskhub/server/internal/module/realtime"
	"github.com/taskhub/server/internal/module/sharelink"
	"github.com/taskhub/server/internal/module/system"
	"github.com/taskhub/server/internal/module/user"
)

// ===== Infrastructure Providers =====

// InfraSet provides process wide infrastructure.
var InfraSet = wire.NewSet(
	ProvideRegistry,
	ProvideMetrics,
	ProvideJWT,
	access.NewResolver,
	events.NewBus,
)

// ProvideRegistry creates the Prometheus registry with runtime collectors.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates the app metrics on reg.
func ProvideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New("taskhub", reg)
}

// ProvideJWT creates the token manager.
func ProvideJWT(cfg *config.Config) *auth.JWTManager {
	return auth.NewJWTManager(&auth.JWTConfig{Secret: cfg.Auth.JWTSecret, Issuer: cfg.Auth.Issuer})
}

// ===== Realtime Providers =====

// RealtimeSet provides the hub and its cross-instance relay.
var RealtimeSet = wire.NewSet(
	ProvideHub,
	ProvideRelay,
)

// ProvideHub creates the hub and subscribes its projector to the bus.
func ProvideHub(cfg *config.Config, resolver *access.Resolver, st store.Store, bus *events.Bus, m *metrics.Metrics, log *zap.Logger) *realtime.Hub {
	hub := realtime.NewHub(realtime.HubConfig{QueueSize: cfg.Realtime.QueueSize}, resolver, st, m, log)
	bus.Register(realtime.NewProjector(hub))
	return hub
}

// ProvideRelay creates the Redis relay, or nil when it is disabled.
func ProvideRelay(cfg *config.Config, client redis.UniversalClient, hub *realtime.Hub, log *zap.Logger) *realtime.RedisRelay {
	if client == nil || !cfg.Realtime.RelayEnabled {
		return nil
	}
	return realtime.NewRedisRelay(client, cfg.Realtime.RelayChannel, hub, log)
}

// ===== System Providers =====

// SystemSet provides the maintenance flag.
var SystemSet = wire.NewSet(
	ProvideMaintenance,
)

// ProvideMaintenance creates the cached maintenance flag.
func ProvideMaintenance(cfg *config.Config, st store.Store, client redis.UniversalClient, log *zap.Logger) *system.MaintenanceFlag {
	return system.NewMaintenanceFlag(st.Settings(), client, system.MaintenanceConfig{
		TTL:               cfg.System.MaintenanceTTL,
		InvalidateChannel: cfg.System.InvalidateChannel,
	}, log)
}

// ===== Notification Providers =====

// NotificationSet provides the unit of work, the email pipeline and the
// notification service.
var NotificationSet = wire.NewSet(
	ProvideEmailQueue,
	ProvideWorker,
	ProvideUnitOfWork,
	ProvideNotificationService,
)

func asynqOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func emailQueued(cfg *config.Config, client redis.UniversalClient) bool {
	return cfg.Notification.EmailEnabled && client != nil
}

// ProvideEmailQueue creates the asynq queue, or a no-op queue when email
// is disabled or Redis is absent.
func ProvideEmailQueue(cfg *config.Config, client redis.UniversalClient) notification.EmailQueue {
	if !emailQueued(cfg, client) {
		return notification.NoopQueue{}
	}
	n := cfg.Notification
	return notification.NewAsynqQueue(asynqOpt(cfg), n.Queue, n.MaxRetry)
}

// ProvideWorker creates the email worker, or nil when nothing is queued.
func ProvideWorker(cfg *config.Config, client redis.UniversalClient, m *metrics.Metrics, log *zap.Logger) *notification.Worker {
	if !emailQueued(cfg, client) {
		return nil
	}
	n := cfg.Notification
	sender := notification.NewBreakerSender(notification.NewLogSender(log), n.BreakerTimeout, log)
	return notification.NewWorker(asynqOpt(cfg), notification.WorkerConfig{
		Queue:       n.Queue,
		Concurrency: n.Concurrency,
		From:        n.FromAddress,
	}, sender, m, log)
}

// ProvideUnitOfWork creates the transaction runner every mutating service
// shares.
func ProvideUnitOfWork(cfg *config.Config, st store.Store, bus *events.Bus, hub *realtime.Hub, emails notification.EmailQueue, m *metrics.Metrics, log *zap.Logger) *notification.UnitOfWork {
	dispatcher := notification.NewDispatcher(cfg.Notification.EmailEnabled)
	return notification.NewUnitOfWork(st, dispatcher, bus, hub, emails, m, log)
}

// ProvideNotificationService creates the inbox service.
func ProvideNotificationService(st store.Store, hub *realtime.Hub) *notification.Service {
	return notification.NewService(st, hub)
}

// ===== Domain Providers =====

// UserSet provides the user service.
var UserSet = wire.NewSet(
	ProvideUserService,
)

// ProvideUserService creates the user service.
func ProvideUserService(cfg *config.Config, st store.Store, log *zap.Logger) *user.Service {
	return user.NewService(st, cfg.Auth.AdminEmails, log)
}

// ProjectSet provides the project, todo and share service.
var ProjectSet = wire.NewSet(
	project.NewService,
)

// InvitationSet provides the invitation service.
var InvitationSet = wire.NewSet(
	invitation.NewService,
)

// ShareLinkSet provides the share link service.
var ShareLinkSet = wire.NewSet(
	sharelink.NewService,
)

// AppSet is the master provider set.
var AppSet = wire.NewSet(
	InfraSet,
	RealtimeSet,
	SystemSet,
	NotificationSet,
	UserSet,
	ProjectSet,
	InvitationSet,
	ShareLinkSet,
)
