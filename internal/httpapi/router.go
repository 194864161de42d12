package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultDeliveryTTL    = 24 * time.Hour
	maxBodyBytes          = 1 << 20
)

// Lifecycle: триггеры жизненного цикла заказа.
type Lifecycle interface {
	HandlePaymentCompleted(orderID int64)
	HandleOrderCompleted(orderID int64)
}

// ProductCredits: правило сохранения поля кредитов товара.
type ProductCredits interface {
	SaveCreditsField(productID int64, submitted string) error
}

// Dependencies: всё, что нужно HTTP-поверхности. Nil-поля отключают соответствующие маршруты.
type Dependencies struct {
	Lifecycle      Lifecycle
	ProductCredits ProductCredits
	Products       domain.ProductRepository
	Deliveries     domain.DeliveryRepository
	// MissingDependencies возвращает список неподключённых зависимостей для баннера.
	MissingDependencies func() []string
}

type routerConfig struct {
	logger        *log.Entry
	webhookSecret string
	adminSecret   string
	deliveryTTL   time.Duration
	timeout       time.Duration
	now           func() time.Time
}

// Option настраивает роутер.
type Option func(*routerConfig)

// WithLogger задаёт логгер запросов.
func WithLogger(logger *log.Entry) Option {
	return func(cfg *routerConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithWebhookSecret включает проверку подписи X-Signature.
func WithWebhookSecret(secret string) Option {
	return func(cfg *routerConfig) {
		cfg.webhookSecret = secret
	}
}

// WithAdminSecret задаёт HS256-секрет токенов администратора для /admin.
func WithAdminSecret(secret string) Option {
	return func(cfg *routerConfig) {
		cfg.adminSecret = secret
	}
}

// WithDeliveryTTL задаёт срок хранения ключей X-Delivery-ID.
func WithDeliveryTTL(ttl time.Duration) Option {
	return func(cfg *routerConfig) {
		if ttl > 0 {
			cfg.deliveryTTL = ttl
		}
	}
}

// WithRequestTimeout задаёт таймаут обработки запроса.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(cfg *routerConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(cfg *routerConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// NewRouter собирает chi-роутер с группами /webhooks и /admin.
func NewRouter(deps Dependencies, opts ...Option) chi.Router {
	cfg := routerConfig{
		logger:      log.WithField("component", "http"),
		deliveryTTL: defaultDeliveryTTL,
		timeout:     defaultRequestTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.timeout))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route_not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	webhooks := &webhookHandlers{lifecycle: deps.Lifecycle, logger: cfg.logger}
	r.Route("/webhooks", func(wr chi.Router) {
		wr.Use(limitBody(maxBodyBytes))
		wr.Use(requireSignature(cfg.webhookSecret))
		wr.Use(deduplicateDeliveries(deps.Deliveries, cfg.deliveryTTL, cfg.now, cfg.logger))
		wr.Post("/payment-completed", webhooks.paymentCompleted)
		wr.Post("/order-completed", webhooks.orderCompleted)
	})

	admin := &adminHandlers{
		credits:  deps.ProductCredits,
		products: deps.Products,
		missing:  deps.MissingDependencies,
		logger:   cfg.logger,
	}
	r.Route("/admin", func(ar chi.Router) {
		ar.Use(requireAdmin(cfg.adminSecret, cfg.now))
		ar.Get("/products/{id}/credits-field", admin.creditsField)
		ar.Post("/products/{id}/credits", admin.saveCredits)
		ar.Get("/notices", admin.notices)
	})

	return r
}
