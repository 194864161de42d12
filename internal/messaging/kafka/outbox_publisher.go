package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

// HeaderEventType дублирует тип события в заголовке для фильтрации без разбора тела.
const HeaderEventType = "x-event-type"

var errPublisherNotReady = errors.New("kafka outbox publisher is not initialized")

// OutboxEnvelope: тело сообщения в credits.events и в outbox DLQ.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewOutboxEnvelope оборачивает событие outbox для публикации в момент at.
func NewOutboxEnvelope(msg domain.OutboxMessage, at time.Time) OutboxEnvelope {
	return OutboxEnvelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   at.UTC(),
	}
}

// PartitionKey: события одного заказа попадают в одну партицию.
func (e OutboxEnvelope) PartitionKey() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// OutboxTopicPublisher публикует события начислений в один topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт паблишер outbox; пустой topic означает credits.events.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicCreditsEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic, now: time.Now}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotReady
	}

	envelope := NewOutboxEnvelope(event, p.now())
	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode outbox envelope %s: %w", event.ID, err)
	}
	return p.producer.PublishRaw(p.topic, envelope.PartitionKey(), value, map[string]string{HeaderEventType: event.EventType})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
