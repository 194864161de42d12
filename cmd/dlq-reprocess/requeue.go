package main

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/credits/internal/storage/postgres"
)

// failedRequeuer: outbox со счётчиком failed-событий и их возвратом в pending.
type failedRequeuer interface {
	FailedCount() (int, error)
	RequeueFailed(limit int) (int, error)
}

func openOutbox(ctx context.Context, dsn string) (failedRequeuer, func() error, error) {
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres store: %w", err)
	}
	return postgres.NewOutboxRepository(store), store.Close, nil
}

// requeueFailed возвращает failed-события outbox в pending; relay сервиса опубликует их заново.
func requeueFailed(repo failedRequeuer, cfg config, logger *log.Entry) (int, error) {
	failed, err := repo.FailedCount()
	if err != nil {
		return 0, fmt.Errorf("count failed outbox events: %w", err)
	}

	logger = logger.WithFields(log.Fields{"failed": failed, "limit": cfg.limit, "mode": cfg.runMode()})
	if !cfg.execute || failed == 0 {
		logger.WithField("candidates", min(failed, cfg.limit)).Info("outbox requeue planned")
		return 0, nil
	}

	requeued, err := repo.RequeueFailed(cfg.limit)
	if err != nil {
		return 0, fmt.Errorf("requeue failed outbox events: %w", err)
	}
	logger.WithField("requeued", requeued).Info("outbox requeue finished")
	return requeued, nil
}
