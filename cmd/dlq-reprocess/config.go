package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/credits/internal/messaging/kafka"
)

const (
	modeKafka  = "kafka"
	modeOutbox = "outbox"

	envBrokers = "CREDITS_KAFKA_BROKERS"
	envDSN     = "CREDITS_POSTGRES_DSN"
)

type config struct {
	mode        string
	brokers     []string
	sourceTopic string
	targetTopic string
	eventType   string
	dsn         string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// parseConfig читает флаги; брокеры и DSN без флага берутся из окружения.
func parseConfig(args []string, getenv func(string) string, stderr io.Writer) (config, error) {
	var (
		cfg     config
		brokers string
	)
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.mode, "mode", modeKafka, "kafka: replay the DLQ topic | outbox: requeue failed outbox rows")
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (default from "+envBrokers+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to scan")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicCreditsEvents, "topic for records that do not name their origin")
	fs.StringVar(&cfg.eventType, "event-type", "", "replay only this event type")
	fs.StringVar(&cfg.dsn, "dsn", "", "Postgres DSN for outbox mode (default from "+envDSN+")")
	fs.IntVar(&cfg.limit, "limit", 100, "max records to scan or rows to requeue")
	fs.BoolVar(&cfg.execute, "execute", false, "apply changes; without it the run is a dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the newest records of each partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", 2*time.Second, "stop reading a partition after this much silence")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg.mode = strings.ToLower(strings.TrimSpace(cfg.mode))
	cfg.eventType = strings.TrimSpace(cfg.eventType)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	cfg.dsn = strings.TrimSpace(cfg.dsn)
	if cfg.dsn == "" {
		cfg.dsn = strings.TrimSpace(getenv(envDSN))
	}
	if strings.TrimSpace(brokers) == "" {
		brokers = getenv(envBrokers)
	}
	cfg.brokers = splitBrokers(brokers)

	return cfg, cfg.validate()
}

func (c config) validate() error {
	if c.limit <= 0 {
		return errors.New("limit must be positive")
	}
	switch c.mode {
	case modeOutbox:
		if c.dsn == "" {
			return fmt.Errorf("outbox mode needs a postgres dsn (-dsn or %s)", envDSN)
		}
		return nil
	case modeKafka:
	default:
		return fmt.Errorf("unsupported mode %q (kafka|outbox)", c.mode)
	}

	switch {
	case len(c.brokers) == 0:
		return fmt.Errorf("kafka mode needs brokers (-brokers or %s)", envBrokers)
	case c.sourceTopic == "":
		return errors.New("source-topic is required")
	case c.targetTopic == "":
		return errors.New("target-topic is required")
	case c.idleTimeout <= 0:
		return errors.New("idle-timeout must be positive")
	}
	return nil
}

func (c config) runMode() string {
	if c.execute {
		return "execute"
	}
	return "dry-run"
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, part := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(part); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
