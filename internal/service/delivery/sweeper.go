// Package delivery обслуживает журнал доставок вебхуков витрины.
package delivery

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/credits/internal/metrics"
)

const (
	defaultSweepInterval = 10 * time.Minute
	defaultSweepBatch    = 500
	// defaultMaxBatches ограничивает один проход, остаток дождётся следующего тика.
	defaultMaxBatches = 20
)

// ExpiredDeleter: часть журнала доставок, нужная очистке.
type ExpiredDeleter interface {
	DeleteExpired(before time.Time, limit int) (int, error)
}

// Option настраивает Sweeper.
type Option func(*Sweeper)

func WithLogger(logger *log.Entry) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithBatchSize задаёт число доставок, удаляемых одним запросом.
func WithBatchSize(size int) Option {
	return func(s *Sweeper) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithMaxBatches ограничивает число запросов за один проход.
func WithMaxBatches(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.maxBatches = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMetrics(m *metrics.DeliveryMetrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// Sweeper периодически вычищает истёкшие доставки.
// Повтор вебхука после очистки обрабатывается заново, повторное
// начисление отсекает флаг заказа.
type Sweeper struct {
	log        ExpiredDeleter
	logger     *log.Entry
	metrics    *metrics.DeliveryMetrics
	interval   time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

// SweepResult: итог одного прохода.
type SweepResult struct {
	Deleted int
	Batches int
	// Truncated: проход упёрся в лимит порций, истёкшие доставки ещё остались.
	Truncated bool
}

func NewSweeper(deliveries ExpiredDeleter, opts ...Option) *Sweeper {
	s := &Sweeper{
		log:        deliveries,
		logger:     log.WithField("component", "delivery-sweeper"),
		interval:   defaultSweepInterval,
		batchSize:  defaultSweepBatch,
		maxBatches: defaultMaxBatches,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run проходит журнал сразу и затем по таймеру до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.log == nil {
		s.logger.Warn("delivery sweeper disabled: no delivery log")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	res, err := s.Sweep(ctx, s.now())
	if errors.Is(err, context.Canceled) {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordSweep(res.Deleted, err)
	}

	entry := s.logger.WithFields(log.Fields{"deleted": res.Deleted, "batches": res.Batches})
	switch {
	case err != nil:
		entry.WithError(err).Warn("delivery sweep failed")
	case res.Truncated:
		entry.Info("delivery sweep hit batch limit, rest waits for next run")
	case res.Deleted > 0:
		entry.Debug("expired deliveries removed")
	}
}

// Sweep удаляет доставки, истёкшие к before, порциями до maxBatches.
func (s *Sweeper) Sweep(ctx context.Context, before time.Time) (SweepResult, error) {
	var res SweepResult
	if before.IsZero() {
		before = s.now()
	}

	for res.Batches < s.maxBatches {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		n, err := s.log.DeleteExpired(before, s.batchSize)
		if err != nil {
			return res, err
		}
		res.Batches++
		res.Deleted += n
		if s.metrics != nil {
			s.metrics.AddDeleted(n)
		}
		if n < s.batchSize {
			return res, nil
		}
	}

	res.Truncated = true
	return res, nil
}
