package sender

import "github.com/vladislavdragonenkov/credits/internal/domain"

// NotConfigured: транспорт сообщений не подключён, уведомления не отправляются.
type NotConfigured struct{}

func (NotConfigured) Configured() bool { return false }

func (NotConfigured) SendMessage(string, string) error { return domain.ErrSenderNotConfigured }

var _ domain.MessageSender = NotConfigured{}
