package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/credits/internal/messaging/kafka"
)

const kafkaClientID = "credits-service"

// kafkaRuntime: producer событий начислений и consumer витрины.
// Без брокеров оба nil: сервис живёт на вебхуках, outbox уходит в лог.
type kafkaRuntime struct {
	producer *kafka.Producer
	consumer *kafka.Consumer
	logger   *log.Entry
}

// connectKafka поднимает producer; ошибка подключения не фатальна для сервиса,
// вызывающий решает сам, продолжать ли без Kafka.
func connectKafka(cfg Config, logger *log.Entry) (*kafkaRuntime, error) {
	rt := &kafkaRuntime{logger: logger.WithField("component", "kafka")}
	brokers := cfg.BrokerList()
	if len(brokers) == 0 {
		rt.logger.Info("kafka brokers not configured, storefront events arrive by webhook only")
		return rt, nil
	}

	producer, err := kafka.NewProducer(brokers, kafkaClientID)
	if err != nil {
		return rt, fmt.Errorf("connect kafka producer: %w", err)
	}
	rt.producer = producer
	rt.logger.WithField("brokers", brokers).Info("kafka producer connected")
	return rt, nil
}

// subscribeStorefront запускает consumer витрины. Повторы идут через producer,
// после исчерпания попыток сообщение уходит в DLQ.
func (k *kafkaRuntime) subscribeStorefront(ctx context.Context, cfg Config, handler *kafka.StorefrontHandler) error {
	if k.producer == nil {
		return nil
	}
	consumer, err := kafka.NewConsumer(
		cfg.BrokerList(),
		cfg.KafkaGroupID,
		[]string{cfg.KafkaStorefrontTopic},
		handler.Handle,
		kafka.WithRetryProducer(k.producer),
		kafka.WithMaxRetries(cfg.KafkaMaxRetries),
		kafka.WithDLQTopic(cfg.KafkaDLQTopic),
		kafka.WithConsumerLogger(k.logger.WithField("component", "kafka-consumer")),
	)
	if err != nil {
		return fmt.Errorf("create storefront consumer: %w", err)
	}
	if err := consumer.Start(ctx); err != nil {
		_ = consumer.Stop()
		return fmt.Errorf("start storefront consumer: %w", err)
	}
	k.consumer = consumer
	k.logger.WithFields(log.Fields{
		"group": cfg.KafkaGroupID,
		"topic": cfg.KafkaStorefrontTopic,
		"dlq":   cfg.KafkaDLQTopic,
	}).Info("storefront consumer subscribed")
	return nil
}

// stopIngestion останавливает consumer раньше outbox relay, чтобы новые события не порождали записей.
func (k *kafkaRuntime) stopIngestion() {
	if k == nil || k.consumer == nil {
		return
	}
	if err := k.consumer.Stop(); err != nil {
		k.logger.WithError(err).Warn("storefront consumer stopped with error")
	}
	k.consumer = nil
}

func (k *kafkaRuntime) close() {
	if k == nil {
		return
	}
	k.stopIngestion()
	if k.producer == nil {
		return
	}
	if err := k.producer.Close(); err != nil {
		k.logger.WithError(err).Warn("kafka producer closed with error")
		return
	}
	k.producer = nil
	k.logger.Info("kafka producer closed")
}
