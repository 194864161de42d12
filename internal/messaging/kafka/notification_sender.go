package kafka

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

// NotificationSender публикует сообщения в топик, который читает чат-шлюз.
type NotificationSender struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewNotificationSender создаёт отправителя; пустой topic заменяется на TopicNotifications.
func NewNotificationSender(producer *Producer, topic string) *NotificationSender {
	if topic == "" {
		topic = TopicNotifications
	}
	return &NotificationSender{producer: producer, topic: topic, now: time.Now}
}

func (s *NotificationSender) Configured() bool {
	return s != nil && s.producer != nil
}

// SendMessage ключует сообщение номером, чтобы сообщения одному получателю шли по порядку.
func (s *NotificationSender) SendMessage(phone, text string) error {
	if !s.Configured() {
		return domain.ErrSenderNotConfigured
	}
	msg := NotificationMessage{Phone: phone, Text: text, SentAt: s.now().UTC()}
	if err := s.producer.PublishEvent(s.topic, phone, msg); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMessageDelivery, err)
	}
	return nil
}

var _ domain.MessageSender = (*NotificationSender)(nil)
