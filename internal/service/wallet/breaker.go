package wallet

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

// BreakerState: состояние предохранителя.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerOption настраивает Breaker.
type BreakerOption func(*Breaker)

// WithBreakerClock подменяет часы; нужен тестам.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// Breaker размыкает вызовы кошелька после maxFailures сбоев подряд и пропускает
// одну пробную попытку через resetTimeout. Отказ ledger'а (ErrWalletRejected)
// сбоем не считается.
type Breaker struct {
	inner        domain.Wallet
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time
	logger       *log.Entry

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       BreakerState
}

// NewBreaker оборачивает кошелёк предохранителем.
func NewBreaker(inner domain.Wallet, maxFailures int, resetTimeout time.Duration, logger *log.Entry, opts ...BreakerOption) *Breaker {
	if logger == nil {
		logger = log.New().WithField("component", "wallet-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 1
	}
	b := &Breaker{
		inner:        inner,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		logger:       logger,
		state:        BreakerClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Configured() bool {
	return b.inner.Configured()
}

func (b *Breaker) Credit(req domain.CreditRequest) error {
	return b.execute("credit", func() error {
		return b.inner.Credit(req)
	})
}

func (b *Breaker) Balance(customerID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := b.execute("balance", func() error {
		var err error
		balance, err = b.inner.Balance(customerID)
		return err
	})
	return balance, err
}

// State возвращает текущее состояние.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) execute(operation string, fn func() error) error {
	if err := b.allow(operation); err != nil {
		return err
	}
	err := fn()
	b.record(operation, err)
	return err
}

func (b *Breaker) allow(operation string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) < b.resetTimeout {
			return domain.ErrWalletUnavailable
		}
		b.state = BreakerHalfOpen
		b.logger.WithField("operation", operation).Info("wallet breaker half-open")
	case BreakerHalfOpen:
		// пробный вызов уже в полёте
		return domain.ErrWalletUnavailable
	}
	return nil
}

func (b *Breaker) record(operation string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || errors.Is(err, domain.ErrWalletRejected) || errors.Is(err, domain.ErrWalletNotConfigured) {
		if b.state == BreakerHalfOpen {
			b.logger.WithField("operation", operation).Info("wallet breaker closed")
		}
		b.state = BreakerClosed
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = b.now()
	if b.state == BreakerHalfOpen || b.failures >= b.maxFailures {
		if b.state != BreakerOpen {
			b.logger.WithFields(log.Fields{
				"operation": operation,
				"failures":  b.failures,
			}).WithError(err).Warn("wallet breaker opened")
		}
		b.state = BreakerOpen
	}
}

var _ domain.Wallet = (*Breaker)(nil)
