package app

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/credits/internal/domain"
	"github.com/vladislavdragonenkov/credits/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/credits/internal/metrics"
	"github.com/vladislavdragonenkov/credits/internal/phone"
	"github.com/vladislavdragonenkov/credits/internal/service/credits"
	"github.com/vladislavdragonenkov/credits/internal/service/notify"
	"github.com/vladislavdragonenkov/credits/internal/service/sender"
	"github.com/vladislavdragonenkov/credits/internal/service/wallet"
)

// Dependencies: собранные коллабораторы начислений.
type Dependencies struct {
	Wallet      domain.Wallet
	Sender      domain.MessageSender
	Notifier    *notify.Dispatcher
	Coordinator *credits.Coordinator
	Logger      *log.Entry
}

// NewDependencies выбирает кошелёк и транспорт сообщений по конфигурации и
// собирает координатор поверх хранилищ. producer нужен только драйверу
// сообщений kafka и может быть nil.
func NewDependencies(cfg Config, storage *runtimeDependencies, producer *kafka.Producer, m *metrics.CreditMetrics, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	walletSvc, err := newWallet(cfg, logger)
	if err != nil {
		return nil, err
	}
	messageSender, err := newSender(cfg, producer, logger)
	if err != nil {
		return nil, err
	}
	formatter, err := notify.NewFormatter(cfg.NotifyStyle)
	if err != nil {
		return nil, err
	}

	lookup := notify.NewPhoneLookup(storage.profiles, cfg.PhoneField, cfg.FallbackKeys(), phone.NewNormalizer(cfg.PhoneCountryCode))
	dispatcher := notify.NewDispatcher(
		messageSender,
		walletSvc,
		lookup,
		formatter,
		notify.Config{AdminUserID: cfg.AdminUserID},
		logger.WithField("component", "notify"),
		m,
	)

	coordinator := credits.NewCoordinator(credits.Collaborators{
		Orders:   storage.repo,
		Products: storage.products,
		Wallet:   walletSvc,
		Notifier: dispatcher,
		Outbox:   storage.outboxRepo,
	},
		credits.WithLogger(logger.WithField("component", "credits")),
		credits.WithMetrics(m),
		credits.WithRetryDelay(cfg.CoordinatorRetryDelay),
	)

	return &Dependencies{
		Wallet:      walletSvc,
		Sender:      messageSender,
		Notifier:    dispatcher,
		Coordinator: coordinator,
		Logger:      logger,
	}, nil
}

func newWallet(cfg Config, logger *log.Entry) (domain.Wallet, error) {
	switch cfg.WalletDriver {
	case "", WalletDriverNone:
		return wallet.NotConfigured{}, nil
	case WalletDriverMock:
		logger.Warn("using in-memory wallet ledger")
		return wallet.NewMockService(), nil
	case WalletDriverHTTP:
		client := wallet.NewHTTPClient(wallet.HTTPConfig{
			BaseURL:        cfg.WalletURL,
			ConsumerKey:    cfg.WalletConsumerKey,
			ConsumerSecret: cfg.WalletConsumerSecret,
			Timeout:        cfg.WalletTimeout,
		}, nil, logger.WithField("component", "wallet-http"))
		if cfg.WalletBreakerFailures == 0 {
			return client, nil
		}
		return wallet.NewBreaker(client, cfg.WalletBreakerFailures, cfg.WalletBreakerReset,
			logger.WithField("component", "wallet-breaker")), nil
	default:
		return nil, fmt.Errorf("unsupported wallet driver: %q", cfg.WalletDriver)
	}
}

func newSender(cfg Config, producer *kafka.Producer, logger *log.Entry) (domain.MessageSender, error) {
	switch cfg.SenderDriver {
	case "", SenderDriverNone:
		return sender.NotConfigured{}, nil
	case SenderDriverMock:
		logger.Warn("using recording message sender")
		return sender.NewMockSender(), nil
	case SenderDriverGateway:
		return sender.NewGatewaySender(sender.GatewayConfig{
			URL:     cfg.SenderURL,
			Secret:  cfg.SenderSecret,
			Timeout: cfg.SenderTimeout,
		}, nil, logger.WithField("component", "sender-gateway")), nil
	case SenderDriverKafka:
		if producer == nil {
			logger.Warn("kafka sender selected without kafka producer, notifications are disabled")
		}
		return kafka.NewNotificationSender(producer, cfg.KafkaNotificationsTopic), nil
	default:
		return nil, fmt.Errorf("unsupported sender driver: %q", cfg.SenderDriver)
	}
}
