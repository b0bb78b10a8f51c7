//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
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

// Dependencies holds everything built from the infrastructure handles.
type Dependencies struct {
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	JWT      *auth.JWTManager
	Resolver *access.Resolver
	Bus      *events.Bus

	Hub         *realtime.Hub
	Relay       *realtime.RedisRelay
	Maintenance *system.MaintenanceFlag

	Emails              notification.EmailQueue
	Worker              *notification.Worker
	UnitOfWork          *notification.UnitOfWork
	NotificationService *notification.Service

	UserService       *user.Service
	ProjectService    *project.Service
	InvitationService *invitation.Service
	LinkService       *sharelink.Service
}

// InitializeDependencies creates all dependencies using Wire.
func InitializeDependencies(cfg *config.Config, st store.Store, client redis.UniversalClient, log *zap.Logger) (*Dependencies, error) {
	wire.Build(
		AppSet,
		wire.Struct(new(Dependencies), "*"),
	)
	return nil, nil
}
