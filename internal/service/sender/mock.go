package sender

import (
	"sync"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

// Message: отправленное через MockSender сообщение.
type Message struct {
	Phone string
	Text  string
}

// MockSender: конфигурируемая заглушка MessageSender, запоминает отправленные сообщения.
type MockSender struct {
	mu sync.Mutex

	SendErr   error
	SendCalls int
	sent      []Message
}

// NewMockSender возвращает mock с успешным сценарием по умолчанию.
func NewMockSender() *MockSender {
	return &MockSender{}
}

func (m *MockSender) Configured() bool { return true }

// SendMessage возвращает настроенную ошибку и считает вызовы.
func (m *MockSender) SendMessage(phone, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SendCalls++
	if m.SendErr != nil {
		return m.SendErr
	}
	m.sent = append(m.sent, Message{Phone: phone, Text: text})
	return nil
}

// Sent возвращает копию успешно отправленных сообщений.
func (m *MockSender) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

var _ domain.MessageSender = (*MockSender)(nil)
