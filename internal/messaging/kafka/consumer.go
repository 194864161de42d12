package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const defaultMaxRetries = 3

// ErrPermanent помечает ошибку, повтор которой бессмыслен (битое сообщение).
// Такие сообщения сразу уходят в DLQ.
var ErrPermanent = errors.New("permanent message error")

// Permanent оборачивает ошибку как неповторяемую.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// MessageHandler обрабатывает сообщение из Kafka
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithRetryProducer задаёт producer для повторной публикации и DLQ.
func WithRetryProducer(producer *Producer) ConsumerOption {
	return func(c *Consumer) {
		c.producer = producer
	}
}

// WithMaxRetries задаёт число повторов до отправки в DLQ.
func WithMaxRetries(maxRetries int) ConsumerOption {
	return func(c *Consumer) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
	}
}

// WithConsumerLogger задаёт логгер.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDLQTopic переопределяет топик DLQ.
func WithDLQTopic(topic string) ConsumerOption {
	return func(c *Consumer) {
		if topic != "" {
			c.dlqTopic = topic
		}
	}
}

// Consumer читает события витрины из consumer group. Неудачные сообщения
// публикуются повторно с увеличенным x-retry-count, после исчерпания попыток
// уходят в DLQ.
type Consumer struct {
	consumer   sarama.ConsumerGroup
	topics     []string
	handler    MessageHandler
	logger     *log.Entry
	wg         sync.WaitGroup
	producer   *Producer
	dlqTopic   string
	maxRetries int
}

// NewSaramaConsumerConfig возвращает конфигурацию consumer group.
func NewSaramaConsumerConfig(clientID string, fromOldest bool) *sarama.Config {
	if clientID == "" {
		clientID = defaultClientID
	}
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	if fromOldest {
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	config.Consumer.Return.Errors = true
	return config
}

// NewConsumer создает consumer group по списку брокеров.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, NewSaramaConsumerConfig("", true))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return NewConsumerFromGroup(group, topics, handler, opts...), nil
}

// NewConsumerFromGroup оборачивает готовую consumer group.
func NewConsumerFromGroup(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		consumer:   group,
		topics:     topics,
		handler:    handler,
		logger:     log.WithField("component", "kafka-consumer"),
		dlqTopic:   TopicDeadLetterQueue,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume должен вызываться в цикле, так как при rebalance он завершается
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из partition
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.handleMessageWithRetry(session.Context(), message); err != nil {
				// Сообщение не маркируется и будет перечитано после rebalance.
				c.logger.WithError(err).WithFields(fields).Error("message processing failed")
				continue
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessageWithRetry обрабатывает сообщение; nil означает, что offset можно коммитить.
func (c *Consumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	err := c.handler(ctx, message)
	if err == nil {
		return nil
	}
	if c.producer == nil {
		return err
	}

	retryCount := getRetryCount(message)
	fields := log.Fields{
		"topic":       message.Topic,
		"retry_count": retryCount,
		"max_retries": c.maxRetries,
	}

	if !errors.Is(err, ErrPermanent) && retryCount < c.maxRetries {
		if pubErr := c.republish(message, retryCount+1, err); pubErr != nil {
			c.logger.WithError(pubErr).WithFields(fields).Error("failed to republish message for retry")
			return fmt.Errorf("republish for retry: %w", pubErr)
		}
		c.logger.WithError(err).WithFields(fields).Warn("message processing failed, republished for retry")
		return nil
	}

	if dlqErr := c.sendToDLQ(message, retryCount, err); dlqErr != nil {
		c.logger.WithError(dlqErr).WithFields(fields).Error("failed to send message to DLQ")
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.logger.WithError(err).WithFields(fields).Info("message sent to DLQ")
	return nil
}

func (c *Consumer) republish(message *sarama.ConsumerMessage, retryCount int, processingErr error) error {
	headers := copyHeaders(message)
	headers[HeaderRetryCount] = strconv.Itoa(retryCount)
	headers[HeaderErrorMessage] = processingErr.Error()
	if _, ok := headers[HeaderOriginalTopic]; !ok {
		headers[HeaderOriginalTopic] = message.Topic
	}
	return c.producer.PublishRaw(message.Topic, string(message.Key), message.Value, headers)
}

// DeadLetterRecord: тело записи DLQ после исчерпания повторов; его же разбирает dlq-reprocess.
type DeadLetterRecord struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// sendToDLQ отправляет failed message в Dead Letter Queue
func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, retryCount int, processingErr error) error {
	record := DeadLetterRecord{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      processingErr.Error(),
		FailedAt:          time.Now().UTC().Format(time.RFC3339),
		RetryCount:        retryCount,
	}

	headers := copyHeaders(message)
	headers[HeaderOriginalTopic] = message.Topic
	headers[HeaderErrorMessage] = record.ErrorMessage
	headers[HeaderFailedAt] = record.FailedAt
	headers[HeaderRetryCount] = strconv.Itoa(retryCount)

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}
	return c.producer.PublishRaw(c.dlqTopic, record.OriginalKey, payload, headers)
}

// getRetryCount извлекает retry count из headers сообщения
func getRetryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == HeaderRetryCount {
			count, err := strconv.Atoi(string(header.Value))
			if err == nil {
				return count
			}
		}
	}
	return 0
}

func copyHeaders(message *sarama.ConsumerMessage) map[string]string {
	headers := make(map[string]string, len(message.Headers)+4)
	for _, header := range message.Headers {
		if header == nil {
			continue
		}
		headers[string(header.Key)] = string(header.Value)
	}
	return headers
}
