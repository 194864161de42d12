package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	rec := newRecordingProducer(t)
	rec.ExpectSendMessageAndSucceed()

	publisher := NewOutboxPublisher(rec.producer(), "")
	publishedAt := time.Date(2026, 6, 1, 12, 30, 0, 0, time.UTC)
	publisher.now = func() time.Time { return publishedAt }

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "501",
		EventType:     "CreditsAwarded",
		Payload:       []byte(`{"order_id":501,"credits":"25"}`),
	})
	require.NoError(t, err)
	require.NoError(t, rec.Close())

	require.Len(t, rec.sent, 1)
	msg := rec.sent[0]
	assert.Equal(t, TopicCreditsEvents, msg.Topic)
	assert.Equal(t, "CreditsAwarded", headerValue(msg, HeaderEventType))

	key, err := msg.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "501", string(key))

	var envelope OutboxEnvelope
	require.NoError(t, json.Unmarshal(encodedValue(t, msg), &envelope))
	assert.Equal(t, "outbox-1", envelope.ID)
	assert.Equal(t, "order", envelope.AggregateType)
	assert.True(t, envelope.PublishedAt.Equal(publishedAt))
	assert.JSONEq(t, `{"order_id":501,"credits":"25"}`, string(envelope.Payload))
}

func TestOutboxPublisher_KeyFallsBackToID(t *testing.T) {
	t.Parallel()

	rec := newRecordingProducer(t)
	rec.ExpectSendMessageAndSucceed()

	require.NoError(t, NewOutboxPublisher(rec.producer(), "custom.topic").Publish(domain.OutboxMessage{
		ID:        "outbox-2",
		EventType: "OrderAutoCompleted",
		Payload:   []byte(`{}`),
	}))
	require.NoError(t, rec.Close())

	require.Len(t, rec.sent, 1)
	assert.Equal(t, "custom.topic", rec.sent[0].Topic)
	key, err := rec.sent[0].Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "outbox-2", string(key))
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-outbox-publisher-test"),
	}
	publisher := NewOutboxPublisher(producer, TopicCreditsEvents)

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-3",
		AggregateType: "order",
		AggregateID:   "502",
		EventType:     "CreditsAwarded",
		Payload:       []byte(`{}`),
	})
	require.Error(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicCreditsEvents)
	assert.ErrorIs(t, publisher.Publish(domain.OutboxMessage{ID: "outbox-4"}), errPublisherNotReady)

	var missing *OutboxTopicPublisher
	assert.ErrorIs(t, missing.Publish(domain.OutboxMessage{ID: "outbox-5"}), errPublisherNotReady)
}

func TestOutboxEnvelope_PartitionKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "501", OutboxEnvelope{ID: "outbox-1", AggregateID: "501"}.PartitionKey())
	assert.Equal(t, "outbox-1", OutboxEnvelope{ID: "outbox-1"}.PartitionKey())
}
