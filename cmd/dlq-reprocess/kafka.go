package main

import (
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/credits/internal/messaging/kafka"
)

type offsetReader interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

// partitionSource реализуют sarama.Consumer и его мок.
type partitionSource interface {
	Partitions(topic string) ([]int32, error)
	ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error)
}

// replayPublisher реализует kafka.Producer.
type replayPublisher interface {
	PublishRaw(topic, key string, value []byte, headers map[string]string) error
}

// kafkaSession: соединения одного прогона; publisher есть только в режиме execute.
type kafkaSession struct {
	offsets   offsetReader
	source    partitionSource
	publisher replayPublisher
	closers   []func() error
}

// Close закрывает соединения в обратном порядке открытия.
func (s *kafkaSession) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func dialKafka(cfg config, logger *log.Entry) (*kafkaSession, error) {
	client, err := sarama.NewClient(cfg.brokers, kafka.NewSaramaConsumerConfig(replaySource, true))
	if err != nil {
		return nil, fmt.Errorf("connect to kafka: %w", err)
	}
	session := &kafkaSession{offsets: client, closers: []func() error{client.Close}}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("create dlq consumer: %w", err)
	}
	session.source = consumer
	session.closers = append(session.closers, consumer.Close)

	if cfg.execute {
		syncProducer, err := sarama.NewSyncProducer(cfg.brokers, kafka.NewSaramaProducerConfig(replaySource))
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("create replay producer: %w", err)
		}
		producer := kafka.NewProducerFromSync(syncProducer, logger.WithField("component", "kafka-producer"))
		session.publisher = producer
		session.closers = append(session.closers, producer.Close)
	}
	return session, nil
}
