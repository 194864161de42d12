package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/credits/internal/domain"
	"github.com/vladislavdragonenkov/credits/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/credits/internal/service/outbox"
)

const (
	replaySource       = "credits-dlq-reprocess"
	headerReplayedAt   = "x-replayed-at"
	headerReplaySource = "x-replay-source"
)

// errForeignRecord: запись в DLQ-топике оставил не consumer витрины и не outbox relay.
var errForeignRecord = errors.New("record is not a credits dead letter")

// Заголовки попыток не переносятся: повтор начинает счёт заново.
var attemptHeaders = map[string]bool{
	kafka.HeaderRetryCount:    true,
	kafka.HeaderErrorMessage:  true,
	kafka.HeaderFailedAt:      true,
	kafka.HeaderOriginalTopic: true,
}

// replayRecord: исходное событие, готовое к повторной публикации.
type replayRecord struct {
	topic     string
	key       string
	value     []byte
	eventType string
	headers   map[string]string
}

func (r replayRecord) matches(eventType string) bool {
	return eventType == "" || strings.EqualFold(r.eventType, eventType)
}

// replayHeaders: перенесённые заголовки плюс отметка о повторе.
func (r replayRecord) replayHeaders(at time.Time) map[string]string {
	headers := make(map[string]string, len(r.headers)+2)
	for k, v := range r.headers {
		headers[k] = v
	}
	headers[headerReplayedAt] = at.UTC().Format(time.RFC3339)
	headers[headerReplaySource] = replaySource
	return headers
}

// decodeDeadLetter восстанавливает исходное событие из записи DLQ.
func decodeDeadLetter(msg *sarama.ConsumerMessage, fallbackTopic string, now time.Time) (replayRecord, error) {
	if rec, ok := decodeStorefrontDeadLetter(msg, fallbackTopic); ok {
		return rec, nil
	}
	return decodeOutboxDeadLetter(msg.Value, fallbackTopic, now)
}

// decodeStorefrontDeadLetter: событие витрины, на котором consumer исчерпал повторы.
func decodeStorefrontDeadLetter(msg *sarama.ConsumerMessage, fallbackTopic string) (replayRecord, bool) {
	var record kafka.DeadLetterRecord
	if err := json.Unmarshal(msg.Value, &record); err != nil || record.OriginalValue == "" {
		return replayRecord{}, false
	}

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		if h != nil && !attemptHeaders[string(h.Key)] {
			headers[string(h.Key)] = string(h.Value)
		}
	}
	eventType := headers[kafka.HeaderEventType]
	if eventType == "" {
		if event, err := kafka.ParseStorefrontEvent([]byte(record.OriginalValue)); err == nil {
			eventType = string(event.EventType)
		}
	}
	topic := strings.TrimSpace(record.OriginalTopic)
	if topic == "" {
		topic = fallbackTopic
	}

	return replayRecord{
		topic:     topic,
		key:       record.OriginalKey,
		value:     []byte(record.OriginalValue),
		eventType: eventType,
		headers:   headers,
	}, true
}

// decodeOutboxDeadLetter: событие начисления, которое relay не смог опубликовать.
// Повтор получает свежий published_at и уходит в fallbackTopic с ключом заказа.
func decodeOutboxDeadLetter(value []byte, fallbackTopic string, now time.Time) (replayRecord, error) {
	var envelope kafka.OutboxEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return replayRecord{}, errForeignRecord
	}
	var letter outbox.DeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return replayRecord{}, fmt.Errorf("decode outbox dead letter %s: %w", envelope.ID, err)
	}
	if letter.OutboxID == "" && letter.PublishError == "" {
		return replayRecord{}, errForeignRecord
	}
	if len(letter.Payload) == 0 {
		return replayRecord{}, fmt.Errorf("outbox dead letter %s has no original event", letter.OutboxID)
	}

	original := kafka.NewOutboxEnvelope(domain.OutboxMessage{
		ID:            fallback(letter.OutboxID, envelope.ID),
		AggregateType: fallback(letter.AggregateType, envelope.AggregateType),
		AggregateID:   fallback(letter.AggregateID, envelope.AggregateID),
		EventType:     fallback(letter.EventType, envelope.EventType),
		Payload:       letter.Payload,
	}, now)
	encoded, err := json.Marshal(original)
	if err != nil {
		return replayRecord{}, fmt.Errorf("encode replay of %s: %w", original.ID, err)
	}

	return replayRecord{
		topic:     fallbackTopic,
		key:       original.PartitionKey(),
		value:     encoded,
		eventType: original.EventType,
		headers:   map[string]string{kafka.HeaderEventType: original.EventType},
	}, nil
}

func fallback(value, otherwise string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return otherwise
}
