// Package outbox переносит события начислений из transactional outbox в брокер.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/credits/internal/domain"
	"github.com/vladislavdragonenkov/credits/internal/metrics"
)

const (
	defaultPollInterval  = time.Second
	defaultBatchSize     = 100
	defaultMaxAttempts   = 3
	defaultRetryDelay    = 50 * time.Millisecond
	defaultMaxRetryDelay = 5 * time.Second
)

// Option настраивает Relay.
type Option func(*Relay)

func WithLogger(logger *log.Entry) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDeadLetters задаёт паблишер для событий, исчерпавших попытки.
func WithDeadLetters(publisher domain.OutboxPublisher) Option {
	return func(r *Relay) { r.deadLetters = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(r *Relay) {
		if interval > 0 {
			r.pollInterval = interval
		}
	}
}

func WithBatchSize(size int) Option {
	return func(r *Relay) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации до dead letter.
func WithMaxAttempts(attempts int) Option {
	return func(r *Relay) {
		if attempts > 0 {
			r.maxAttempts = attempts
		}
	}
}

// WithRetryDelay задаёт задержку перед второй попыткой; дальше она удваивается.
// Ноль отключает паузы между попытками.
func WithRetryDelay(delay time.Duration) Option {
	return func(r *Relay) {
		if delay >= 0 {
			r.retryDelay = delay
		}
	}
}

// WithMaxRetryDelay ограничивает рост задержки между попытками.
func WithMaxRetryDelay(delay time.Duration) Option {
	return func(r *Relay) {
		if delay > 0 {
			r.maxRetryDelay = delay
		}
	}
}

func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(r *Relay) {
		if m != nil {
			r.metrics = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

// Relay публикует события OrderAutoCompleted и CreditsAwarded в порядке постановки.
// Событие, не ушедшее за maxAttempts попыток, уходит в dead letter и помечается failed,
// чтобы не блокировать очередь.
type Relay struct {
	outbox        domain.OutboxRepository
	broker        domain.OutboxPublisher
	deadLetters   domain.OutboxPublisher
	logger        *log.Entry
	metrics       *metrics.OutboxMetrics
	pollInterval  time.Duration
	batchSize     int
	maxAttempts   int
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	now           func() time.Time
}

// FlushResult: итог одного прохода по очереди.
type FlushResult struct {
	Pulled       int
	Sent         int
	DeadLettered int
}

func NewRelay(repo domain.OutboxRepository, broker domain.OutboxPublisher, opts ...Option) *Relay {
	r := &Relay{
		outbox:        repo,
		broker:        broker,
		logger:        log.WithField("component", "outbox-relay"),
		pollInterval:  defaultPollInterval,
		batchSize:     defaultBatchSize,
		maxAttempts:   defaultMaxAttempts,
		retryDelay:    defaultRetryDelay,
		maxRetryDelay: defaultMaxRetryDelay,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
	}
	return r
}

func (r *Relay) enabled() bool {
	return r.outbox != nil && r.broker != nil
}

// Run опрашивает outbox до отмены ctx.
func (r *Relay) Run(ctx context.Context) {
	if !r.enabled() {
		r.logger.Warn("outbox relay disabled: outbox or broker is not configured")
		return
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.WithError(err).Warn("outbox flush failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Flush публикует одну порцию pending-событий.
func (r *Relay) Flush(ctx context.Context) (FlushResult, error) {
	var res FlushResult
	if !r.enabled() {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	pending, err := r.outbox.PullPending(r.batchSize)
	if err != nil {
		return res, fmt.Errorf("pull pending outbox events: %w", err)
	}
	res.Pulled = len(pending)

	for _, msg := range pending {
		if err := ctx.Err(); err != nil {
			r.observeBacklog()
			return res, err
		}

		attempts, err := r.publish(ctx, msg)
		entry := r.logger.WithFields(log.Fields{
			"outbox_id":  msg.ID,
			"event_type": msg.EventType,
			"order_id":   msg.AggregateID,
		})
		switch {
		case err == nil:
			res.Sent++
			if markErr := r.outbox.MarkSent(msg.ID); markErr != nil {
				entry.WithError(markErr).Warn("event published but not marked sent, it will be published again")
			}
		case ctx.Err() != nil:
			// Остановка посреди ретраев: событие остаётся pending.
			r.observeBacklog()
			return res, ctx.Err()
		default:
			res.DeadLettered++
			entry.WithError(err).WithField("attempts", attempts).Error("credit event moved to dead letter")
			r.deadLetter(entry, msg, attempts, err)
		}
	}

	r.observeBacklog()
	return res, nil
}

// Drain публикует очередь до опустошения, отмены ctx или maxBatches порций.
// Вызывается при остановке, чтобы события начислений не ждали следующего запуска.
func (r *Relay) Drain(ctx context.Context, maxBatches int) FlushResult {
	var total FlushResult
	for i := 0; i < maxBatches; i++ {
		res, err := r.Flush(ctx)
		total.Pulled += res.Pulled
		total.Sent += res.Sent
		total.DeadLettered += res.DeadLettered
		if err != nil || res.Pulled < r.batchSize {
			break
		}
	}
	if total.Pulled > 0 {
		r.logger.WithFields(log.Fields{"sent": total.Sent, "dead_lettered": total.DeadLettered}).Info("outbox drained")
	}
	return total
}

func (r *Relay) publish(ctx context.Context, msg domain.OutboxMessage) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, retryDelay(r.retryDelay, r.maxRetryDelay, attempt-1)); err != nil {
				return attempt - 1, err
			}
		}
		if lastErr = r.broker.Publish(msg); lastErr == nil {
			r.metrics.RecordPublish(msg.EventType, metrics.PublishSent)
			return attempt, nil
		}
		r.metrics.RecordPublish(msg.EventType, metrics.PublishRetry)
	}
	return r.maxAttempts, fmt.Errorf("publish %s after %d attempts: %w", msg.EventType, r.maxAttempts, lastErr)
}

func (r *Relay) deadLetter(entry *log.Entry, msg domain.OutboxMessage, attempts int, cause error) {
	result := metrics.PublishDeadLettered
	if r.deadLetters != nil {
		letter, err := newDeadLetter(msg, attempts, cause, r.now()).Message()
		if err == nil {
			err = r.deadLetters.Publish(letter)
		}
		if err != nil {
			result = metrics.PublishDeadLetterFailed
			entry.WithError(err).Warn("dead letter publish failed")
		}
	}
	r.metrics.RecordPublish(msg.EventType, result)

	if err := r.outbox.MarkFailed(msg.ID); err != nil {
		entry.WithError(err).Warn("failed to mark outbox event failed")
	}
}

func (r *Relay) observeBacklog() {
	stats, err := r.outbox.Stats()
	if err != nil {
		r.logger.WithError(err).Warn("failed to read outbox backlog")
		return
	}
	var age time.Duration
	if !stats.OldestPendingAt.IsZero() {
		age = r.now().Sub(stats.OldestPendingAt)
	}
	r.metrics.SetBacklog(stats.PendingCount, age)
}

// retryDelay удваивает base для каждой следующей попытки, не превышая limit.
func retryDelay(base, limit time.Duration, retry int) time.Duration {
	if base <= 0 || retry <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < retry; i++ {
		if delay >= limit/2 {
			return limit
		}
		delay *= 2
	}
	if delay > limit {
		return limit
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
