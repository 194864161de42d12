// Command dlq-reprocess возвращает в работу события, застрявшие в DLQ:
// записи Kafka-топика DLQ или failed-строки outbox в Postgres. Без -execute ничего не меняет.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// connectors открывают внешние системы; тесты подменяют их.
type connectors struct {
	kafka  func(cfg config, logger *log.Entry) (*kafkaSession, error)
	outbox func(ctx context.Context, dsn string) (failedRequeuer, func() error, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	entry := logger.WithField("component", "dlq-reprocess")

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stderr, entry, connectors{kafka: dialKafka, outbox: openOutbox}); err != nil {
		entry.WithError(err).Error("dlq reprocess failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, getenv func(string) string, stderr io.Writer, logger *log.Entry, conn connectors) error {
	cfg, err := parseConfig(args, getenv, stderr)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cfg.mode == modeOutbox {
		repo, closeFn, err := conn.outbox(ctx, cfg.dsn)
		if err != nil {
			return err
		}
		defer func() { _ = closeFn() }()
		_, err = requeueFailed(repo, cfg, logger)
		return err
	}

	logger = logger.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"event_type":   cfg.eventType,
		"limit":        cfg.limit,
		"mode":         cfg.runMode(),
	})
	session, err := conn.kafka(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	total, err := newReplayer(cfg, session, logger).run(ctx)
	logger.WithFields(total.fields()).Info("dlq replay finished")
	return err
}
