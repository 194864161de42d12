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

func TestNotificationSender_SendMessage(t *testing.T) {
	rec := newRecordingProducer(t)
	rec.ExpectSendMessageAndSucceed()

	sender := NewNotificationSender(rec.producer(), "")
	sender.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	require.True(t, sender.Configured())
	require.NoError(t, sender.SendMessage("5511912345678", "Olá, Ana!"))
	require.NoError(t, rec.Close())

	require.Len(t, rec.sent, 1)
	msg := rec.sent[0]
	assert.Equal(t, TopicNotifications, msg.Topic)

	key, err := msg.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "5511912345678", string(key))

	var decoded NotificationMessage
	require.NoError(t, json.Unmarshal(encodedValue(t, msg), &decoded))
	assert.Equal(t, "Olá, Ana!", decoded.Text)
	assert.True(t, decoded.SentAt.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))
}

func TestNotificationSender_DeliveryError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sender := NewNotificationSender(&Producer{producer: mockProducer, logger: log.WithField("test", "notify")}, "chat.out")
	err := sender.SendMessage("5511912345678", "x")
	assert.ErrorIs(t, err, domain.ErrMessageDelivery)
	require.NoError(t, mockProducer.Close())
}

func TestNotificationSender_NotConfigured(t *testing.T) {
	sender := NewNotificationSender(nil, "")
	assert.False(t, sender.Configured())
	assert.ErrorIs(t, sender.SendMessage("1", "x"), domain.ErrSenderNotConfigured)
}
