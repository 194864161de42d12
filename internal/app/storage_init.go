package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/credits/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/credits/internal/health"
	"github.com/vladislavdragonenkov/credits/internal/storage/memory"
	"github.com/vladislavdragonenkov/credits/internal/storage/postgres"
)

// runtimeDependencies: хранилища, выбранные драйвером.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	products        domain.ProductRepository
	profiles        domain.ProfileRepository
	outboxRepo      domain.OutboxRepository
	deliveryRepo    domain.DeliveryRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

// initRuntimeDependencies открывает хранилище по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		return &runtimeDependencies{
			repo:            memory.NewOrderRepository(),
			products:        memory.NewProductRepository(),
			profiles:        memory.NewProfileRepository(),
			outboxRepo:      memory.NewOutboxRepository(),
			deliveryRepo:    memory.NewDeliveryRepository(),
		}, nil
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires %s_POSTGRES_DSN", envPrefix)
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres schema is up to date")
		}
		return &runtimeDependencies{
			repo:            postgres.NewOrderRepository(store),
			products:        postgres.NewProductRepository(store),
			profiles:        postgres.NewProfileRepository(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			deliveryRepo:    postgres.NewDeliveryRepository(store),
			storageChecker: healthcheck.NewFuncChecker("storage", func() error {
				return store.Ping(context.Background())
			}),
			closeFn: store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.StorageDriver)
	}
}

// newOutboxBacklogChecker переводит readiness в unhealthy, когда очередь outbox
// превышает maxPending.
func newOutboxBacklogChecker(repo domain.OutboxRepository, maxPending int) healthcheck.Checker {
	return healthcheck.NewFuncChecker("outbox", func() error {
		stats, err := repo.Stats()
		if err != nil {
			return err
		}
		if maxPending > 0 && stats.PendingCount > maxPending {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, maxPending)
		}
		return nil
	})
}
