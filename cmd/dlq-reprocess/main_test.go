package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/credits/internal/domain"
	"github.com/vladislavdragonenkov/credits/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/credits/internal/service/outbox"
)

const dlqTopic = "credits.dlq"

var replayTime = time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func nullLogger() (*log.Entry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	return logger.WithField("component", "dlq-reprocess"), hook
}

// offsetTable: oldest/newest смещения по разделам.
type offsetTable struct {
	ranges map[int32][2]int64
	err    error
}

func (o offsetTable) GetOffset(_ string, partition int32, at int64) (int64, error) {
	if o.err != nil {
		return 0, o.err
	}
	r := o.ranges[partition]
	if at == sarama.OffsetOldest {
		return r[0], nil
	}
	return r[1], nil
}

type published struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type recordingPublisher struct {
	sent []published
	err  error
}

func (p *recordingPublisher) PublishRaw(topic, key string, value []byte, headers map[string]string) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{topic: topic, key: key, value: value, headers: headers})
	return nil
}

func storefrontDeadLetter(t *testing.T, key, original string, headers ...*sarama.RecordHeader) *sarama.ConsumerMessage {
	t.Helper()
	raw, err := json.Marshal(kafka.DeadLetterRecord{
		OriginalTopic: kafka.TopicStorefrontEvents,
		OriginalKey:   key,
		OriginalValue: original,
		ErrorMessage:  "wallet unavailable",
		RetryCount:    3,
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Value: raw, Headers: headers}
}

func outboxDeadLetter(t *testing.T, letter outbox.DeadLetter) *sarama.ConsumerMessage {
	t.Helper()
	inner, err := letter.Message()
	require.NoError(t, err)
	raw, err := json.Marshal(kafka.NewOutboxEnvelope(inner, replayTime.Add(-time.Hour)))
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Value: raw}
}

func awardedLetter() outbox.DeadLetter {
	return outbox.DeadLetter{
		OutboxID:      "outbox-1",
		AggregateType: "order",
		AggregateID:   "501",
		EventType:     domain.EventCreditsAwarded,
		Payload:       json.RawMessage(`{"order_id":501,"credits":"25"}`),
		PublishError:  "kafka: client has run out of available brokers",
		Attempts:      3,
		FailedAt:      replayTime.Add(-time.Hour),
	}
}

func TestParseConfig_Kafka(t *testing.T) {
	cfg, err := parseConfig([]string{
		"-source-topic=credits.dlq",
		"-target-topic=storefront.events",
		"-event-type=CreditsAwarded",
		"-limit=10",
		"-execute",
		"-from-newest",
		"-idle-timeout=3s",
	}, env(map[string]string{envBrokers: " broker-1:9092, ,broker-2:9092 "}), io.Discard)
	require.NoError(t, err)

	assert.Equal(t, modeKafka, cfg.mode)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.brokers)
	assert.Equal(t, "CreditsAwarded", cfg.eventType)
	assert.Equal(t, 10, cfg.limit)
	assert.True(t, cfg.execute)
	assert.True(t, cfg.fromNewest)
	assert.Equal(t, 3*time.Second, cfg.idleTimeout)
	assert.Equal(t, "execute", cfg.runMode())
}

func TestParseConfig_FlagBrokersWinOverEnv(t *testing.T) {
	cfg, err := parseConfig([]string{"-brokers=flag:9092"}, env(map[string]string{envBrokers: "env:9092"}), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, []string{"flag:9092"}, cfg.brokers)
	assert.Equal(t, "dry-run", cfg.runMode())
}

func TestParseConfig_Outbox(t *testing.T) {
	cfg, err := parseConfig([]string{"-mode=OUTBOX"}, env(map[string]string{envDSN: "postgres://credits"}), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, modeOutbox, cfg.mode)
	assert.Equal(t, "postgres://credits", cfg.dsn)
	assert.Empty(t, cfg.brokers)
}

func TestParseConfig_Rejects(t *testing.T) {
	brokers := env(map[string]string{envBrokers: "broker:9092"})
	tests := []struct {
		name   string
		args   []string
		getenv func(string) string
		want   string
	}{
		{name: "no brokers", args: nil, getenv: env(nil), want: "kafka mode needs brokers"},
		{name: "empty source topic", args: []string{"-source-topic= "}, getenv: brokers, want: "source-topic is required"},
		{name: "empty target topic", args: []string{"-target-topic="}, getenv: brokers, want: "target-topic is required"},
		{name: "zero limit", args: []string{"-limit=0"}, getenv: brokers, want: "limit must be positive"},
		{name: "zero idle timeout", args: []string{"-idle-timeout=0s"}, getenv: brokers, want: "idle-timeout must be positive"},
		{name: "unknown mode", args: []string{"-mode=s3"}, getenv: brokers, want: "unsupported mode"},
		{name: "outbox without dsn", args: []string{"-mode=outbox"}, getenv: env(nil), want: "needs a postgres dsn"},
		{name: "unknown flag", args: []string{"-topic=x"}, getenv: brokers, want: "flag provided but not defined"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseConfig(tc.args, tc.getenv, io.Discard)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestDecodeDeadLetter_StorefrontRecord(t *testing.T) {
	msg := storefrontDeadLetter(t, "1001", `{"event_type":"order.status_completed","order_id":1001}`,
		&sarama.RecordHeader{Key: []byte("x-request-id"), Value: []byte("req-1")},
		&sarama.RecordHeader{Key: []byte(kafka.HeaderRetryCount), Value: []byte("3")},
		&sarama.RecordHeader{Key: []byte(kafka.HeaderErrorMessage), Value: []byte("wallet unavailable")},
		&sarama.RecordHeader{Key: []byte(kafka.HeaderFailedAt), Value: []byte("2026-01-01T00:00:00Z")},
		&sarama.RecordHeader{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte(kafka.TopicStorefrontEvents)},
		nil,
	)

	rec, err := decodeDeadLetter(msg, kafka.TopicCreditsEvents, replayTime)
	require.NoError(t, err)
	assert.Equal(t, kafka.TopicStorefrontEvents, rec.topic)
	assert.Equal(t, "1001", rec.key)
	assert.Equal(t, string(kafka.EventTypeOrderCompleted), rec.eventType)
	assert.JSONEq(t, `{"event_type":"order.status_completed","order_id":1001}`, string(rec.value))
	assert.Equal(t, map[string]string{"x-request-id": "req-1"}, rec.headers)

	headers := rec.replayHeaders(replayTime)
	assert.Equal(t, "req-1", headers["x-request-id"])
	assert.Equal(t, "2026-06-02T09:00:00Z", headers[headerReplayedAt])
	assert.Equal(t, replaySource, headers[headerReplaySource])
	assert.NotContains(t, rec.headers, headerReplayedAt, "replay headers must not leak into the record")
}

func TestDecodeDeadLetter_EventTypeHeaderWins(t *testing.T) {
	msg := storefrontDeadLetter(t, "77", `{}`,
		&sarama.RecordHeader{Key: []byte(kafka.HeaderEventType), Value: []byte("product.upserted")})

	rec, err := decodeDeadLetter(msg, kafka.TopicCreditsEvents, replayTime)
	require.NoError(t, err)
	assert.Equal(t, "product.upserted", rec.eventType)
	assert.True(t, rec.matches("PRODUCT.UPSERTED"))
	assert.False(t, rec.matches("customer.upserted"))
	assert.True(t, rec.matches(""))
}

func TestDecodeDeadLetter_StorefrontWithoutOriginalTopic(t *testing.T) {
	raw, err := json.Marshal(kafka.DeadLetterRecord{OriginalKey: "5", OriginalValue: `{"event_type":"order.upserted"}`})
	require.NoError(t, err)

	rec, err := decodeDeadLetter(&sarama.ConsumerMessage{Value: raw}, kafka.TopicStorefrontEvents, replayTime)
	require.NoError(t, err)
	assert.Equal(t, kafka.TopicStorefrontEvents, rec.topic)
}

func TestDecodeDeadLetter_OutboxRecord(t *testing.T) {
	rec, err := decodeDeadLetter(outboxDeadLetter(t, awardedLetter()), kafka.TopicCreditsEvents, replayTime)
	require.NoError(t, err)

	assert.Equal(t, kafka.TopicCreditsEvents, rec.topic)
	assert.Equal(t, "501", rec.key)
	assert.Equal(t, domain.EventCreditsAwarded, rec.eventType)
	assert.Equal(t, domain.EventCreditsAwarded, rec.headers[kafka.HeaderEventType])

	var original kafka.OutboxEnvelope
	require.NoError(t, json.Unmarshal(rec.value, &original))
	assert.Equal(t, "outbox-1", original.ID)
	assert.Equal(t, "order", original.AggregateType)
	assert.JSONEq(t, `{"order_id":501,"credits":"25"}`, string(original.Payload))
	assert.True(t, original.PublishedAt.Equal(replayTime))
}

func TestDecodeDeadLetter_OutboxRecordWithoutOriginalEvent(t *testing.T) {
	letter := awardedLetter()
	letter.Payload = nil

	_, err := decodeDeadLetter(outboxDeadLetter(t, letter), kafka.TopicCreditsEvents, replayTime)
	require.ErrorContains(t, err, "has no original event")
	assert.NotErrorIs(t, err, errForeignRecord)
}

func TestDecodeDeadLetter_ForeignRecords(t *testing.T) {
	regular, err := json.Marshal(kafka.NewOutboxEnvelope(domain.OutboxMessage{
		ID: "evt-9", AggregateID: "9", EventType: domain.EventCreditsAwarded, Payload: []byte(`{"order_id":9}`),
	}, replayTime))
	require.NoError(t, err)

	for name, value := range map[string][]byte{
		"not json":             []byte("plain text"),
		"unrelated json":       []byte(`{"foo":"bar"}`),
		"regular credit event": regular,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := decodeDeadLetter(&sarama.ConsumerMessage{Value: value}, kafka.TopicCreditsEvents, replayTime)
			assert.ErrorIs(t, err, errForeignRecord)
		})
	}
}

func TestReadWindow(t *testing.T) {
	tests := []struct {
		name               string
		oldest, newest     int64
		limit              int
		fromNewest         bool
		wantStart, wantEnd int64
		wantOK             bool
	}{
		{name: "empty partition", oldest: 5, newest: 5, limit: 10},
		{name: "from oldest", oldest: 2, newest: 9, limit: 3, wantStart: 2, wantEnd: 9, wantOK: true},
		{name: "newest tail", oldest: 0, newest: 50, limit: 10, fromNewest: true, wantStart: 40, wantEnd: 50, wantOK: true},
		{name: "tail longer than partition", oldest: 4, newest: 6, limit: 10, fromNewest: true, wantStart: 4, wantEnd: 6, wantOK: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			start, end, ok := readWindow(tc.oldest, tc.newest, tc.limit, tc.fromNewest)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantStart, start)
			assert.Equal(t, tc.wantEnd, end)
		})
	}
}

type replayFixture struct {
	consumer  *mocks.Consumer
	publisher *recordingPublisher
	hook      *test.Hook
	replayer  *replayer
}

func newReplayFixture(t *testing.T, cfg config, partitions map[int32][2]int64) *replayFixture {
	t.Helper()

	consumer := mocks.NewConsumer(t, nil)
	ids := make([]int32, 0, len(partitions))
	for id := range partitions {
		ids = append(ids, id)
	}
	consumer.SetTopicMetadata(map[string][]int32{dlqTopic: ids})

	publisher := &recordingPublisher{}
	logger, hook := nullLogger()
	cfg.sourceTopic = dlqTopic
	if cfg.targetTopic == "" {
		cfg.targetTopic = kafka.TopicCreditsEvents
	}
	if cfg.limit == 0 {
		cfg.limit = 100
	}
	if cfg.idleTimeout == 0 {
		cfg.idleTimeout = 50 * time.Millisecond
	}

	r := newReplayer(cfg, &kafkaSession{
		offsets:   offsetTable{ranges: partitions},
		source:    consumer,
		publisher: publisher,
	}, logger)
	r.now = func() time.Time { return replayTime }
	return &replayFixture{consumer: consumer, publisher: publisher, hook: hook, replayer: r}
}

func TestReplayer_DryRunPublishesNothing(t *testing.T) {
	f := newReplayFixture(t, config{}, map[int32][2]int64{0: {0, 2}})
	f.consumer.ExpectConsumePartition(dlqTopic, 0, 0).
		YieldMessage(storefrontDeadLetter(t, "1001", `{"event_type":"order.status_completed"}`)).
		YieldMessage(outboxDeadLetter(t, awardedLetter()))

	got, err := f.replayer.run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, summary{scanned: 2, replayed: 2}, got)
	assert.Empty(t, f.publisher.sent)
	candidates := 0
	for _, entry := range f.hook.AllEntries() {
		if entry.Message == "replay candidate" {
			candidates++
		}
	}
	assert.Equal(t, 2, candidates)
}

func TestReplayer_ExecuteRepublishes(t *testing.T) {
	f := newReplayFixture(t, config{execute: true}, map[int32][2]int64{0: {0, 3}})
	f.consumer.ExpectConsumePartition(dlqTopic, 0, 0).
		YieldMessage(storefrontDeadLetter(t, "1001", `{"event_type":"order.status_completed"}`)).
		YieldMessage(&sarama.ConsumerMessage{Value: []byte(`{"foo":"bar"}`)}).
		YieldMessage(outboxDeadLetter(t, awardedLetter()))

	got, err := f.replayer.run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, summary{scanned: 3, replayed: 2, skipped: 1}, got)
	require.Len(t, f.publisher.sent, 2)
	assert.Equal(t, kafka.TopicStorefrontEvents, f.publisher.sent[0].topic)
	assert.Equal(t, "1001", f.publisher.sent[0].key)
	assert.Equal(t, replaySource, f.publisher.sent[0].headers[headerReplaySource])
	assert.Equal(t, kafka.TopicCreditsEvents, f.publisher.sent[1].topic)
	assert.Equal(t, "501", f.publisher.sent[1].key)
}

func TestReplayer_EventTypeFilter(t *testing.T) {
	f := newReplayFixture(t, config{execute: true, eventType: domain.EventCreditsAwarded}, map[int32][2]int64{0: {0, 2}})
	f.consumer.ExpectConsumePartition(dlqTopic, 0, 0).
		YieldMessage(storefrontDeadLetter(t, "1001", `{"event_type":"order.status_completed"}`)).
		YieldMessage(outboxDeadLetter(t, awardedLetter()))

	got, err := f.replayer.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, summary{scanned: 2, replayed: 1, skipped: 1}, got)
	require.Len(t, f.publisher.sent, 1)
	assert.Equal(t, "501", f.publisher.sent[0].key)
}

func TestReplayer_LimitSpansPartitionsInOrder(t *testing.T) {
	f := newReplayFixture(t, config{execute: true, limit: 3}, map[int32][2]int64{2: {0, 2}, 0: {0, 2}, 1: {0, 0}})
	f.consumer.ExpectConsumePartition(dlqTopic, 0, 0).
		YieldMessage(storefrontDeadLetter(t, "1", `{"event_type":"order.upserted"}`)).
		YieldMessage(storefrontDeadLetter(t, "2", `{"event_type":"order.upserted"}`))
	f.consumer.ExpectConsumePartition(dlqTopic, 2, 0).
		YieldMessage(storefrontDeadLetter(t, "3", `{"event_type":"order.upserted"}`)).
		YieldMessage(storefrontDeadLetter(t, "4", `{"event_type":"order.upserted"}`))

	got, err := f.replayer.run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, got.scanned)
	keys := make([]string, 0, len(f.publisher.sent))
	for _, p := range f.publisher.sent {
		keys = append(keys, p.key)
	}
	assert.Equal(t, []string{"1", "2", "3"}, keys)
}

func TestReplayer_FromNewestStartsAtTail(t *testing.T) {
	f := newReplayFixture(t, config{limit: 2, fromNewest: true}, map[int32][2]int64{0: {0, 10}})
	pc := f.consumer.ExpectConsumePartition(dlqTopic, 0, 8)
	for i := 0; i < 2; i++ {
		pc.YieldMessage(storefrontDeadLetter(t, "tail", `{"event_type":"order.upserted"}`))
	}

	got, err := f.replayer.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, got.scanned)
}

func TestReplayer_StopsAtStartupEndOffset(t *testing.T) {
	f := newReplayFixture(t, config{execute: true}, map[int32][2]int64{0: {0, 1}})
	f.consumer.ExpectConsumePartition(dlqTopic, 0, 0).
		YieldMessage(storefrontDeadLetter(t, "1", `{"event_type":"order.upserted"}`)).
		YieldMessage(storefrontDeadLetter(t, "late", `{"event_type":"order.upserted"}`))

	got, err := f.replayer.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, got.scanned)
	require.Len(t, f.publisher.sent, 1)
	assert.Equal(t, "1", f.publisher.sent[0].key)
}

func TestReplayer_IdlePartitionEndsScan(t *testing.T) {
	f := newReplayFixture(t, config{idleTimeout: 20 * time.Millisecond}, map[int32][2]int64{0: {0, 5}})
	f.consumer.ExpectConsumePartition(dlqTopic, 0, 0).
		YieldMessage(storefrontDeadLetter(t, "1", `{"event_type":"order.upserted"}`))

	got, err := f.replayer.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, got.scanned)

	var warned bool
	for _, entry := range f.hook.AllEntries() {
		warned = warned || entry.Message == "partition went quiet before its end offset"
	}
	assert.True(t, warned)
}

func TestReplayer_Failures(t *testing.T) {
	t.Run("publish error stops the run", func(t *testing.T) {
		f := newReplayFixture(t, config{execute: true}, map[int32][2]int64{0: {0, 2}})
		f.publisher.err = errors.New("broker down")
		f.consumer.ExpectConsumePartition(dlqTopic, 0, 0).
			YieldMessage(storefrontDeadLetter(t, "1", `{"event_type":"order.upserted"}`))

		got, err := f.replayer.run(context.Background())
		require.ErrorContains(t, err, "broker down")
		assert.Equal(t, summary{scanned: 1}, got)
	})

	t.Run("consumer error", func(t *testing.T) {
		f := newReplayFixture(t, config{}, map[int32][2]int64{0: {0, 2}})
		f.consumer.ExpectConsumePartition(dlqTopic, 0, 0).YieldError(errors.New("leader gone"))

		_, err := f.replayer.run(context.Background())
		assert.ErrorContains(t, err, "read partition 0")
	})

	t.Run("offset error", func(t *testing.T) {
		f := newReplayFixture(t, config{}, map[int32][2]int64{0: {0, 2}})
		f.replayer.offsets = offsetTable{err: errors.New("no leader")}

		_, err := f.replayer.run(context.Background())
		assert.ErrorContains(t, err, "oldest offset of partition 0")
	})

	t.Run("unknown topic", func(t *testing.T) {
		f := newReplayFixture(t, config{}, nil)
		f.replayer.cfg.sourceTopic = "missing"

		_, err := f.replayer.run(context.Background())
		assert.ErrorIs(t, err, sarama.ErrUnknownTopicOrPartition)
	})

	t.Run("execute without producer", func(t *testing.T) {
		f := newReplayFixture(t, config{execute: true}, nil)
		f.replayer.publisher = nil

		_, err := f.replayer.run(context.Background())
		assert.ErrorContains(t, err, "needs a replay producer")
	})

	t.Run("cancelled context", func(t *testing.T) {
		f := newReplayFixture(t, config{idleTimeout: time.Second}, map[int32][2]int64{0: {0, 2}})
		f.consumer.ExpectConsumePartition(dlqTopic, 0, 0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := f.replayer.run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

type failedOutbox struct {
	failed   int
	requeued []int
	err      error
}

func (f *failedOutbox) FailedCount() (int, error) { return f.failed, f.err }

func (f *failedOutbox) RequeueFailed(limit int) (int, error) {
	f.requeued = append(f.requeued, limit)
	return min(limit, f.failed), nil
}

func TestRequeueFailed(t *testing.T) {
	logger, hook := nullLogger()

	repo := &failedOutbox{failed: 7}
	n, err := requeueFailed(repo, config{limit: 5}, logger)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, repo.requeued, "dry-run leaves the outbox untouched")
	assert.Equal(t, 5, hook.LastEntry().Data["candidates"])

	n, err = requeueFailed(repo, config{limit: 5, execute: true}, logger)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []int{5}, repo.requeued)

	empty := &failedOutbox{}
	_, err = requeueFailed(empty, config{limit: 5, execute: true}, logger)
	require.NoError(t, err)
	assert.Empty(t, empty.requeued)

	_, err = requeueFailed(&failedOutbox{err: errors.New("db down")}, config{limit: 5}, logger)
	assert.ErrorContains(t, err, "count failed outbox events")
}

func TestRun_Outbox(t *testing.T) {
	logger, _ := nullLogger()
	repo := &failedOutbox{failed: 2}
	var closed bool

	err := run(context.Background(), []string{"-mode=outbox", "-execute"}, env(map[string]string{envDSN: "postgres://x"}), io.Discard, logger, connectors{
		outbox: func(_ context.Context, dsn string) (failedRequeuer, func() error, error) {
			assert.Equal(t, "postgres://x", dsn)
			return repo, func() error { closed = true; return nil }, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{100}, repo.requeued)
	assert.True(t, closed)
}

func TestRun_KafkaClosesSession(t *testing.T) {
	logger, hook := nullLogger()
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{dlqTopic: {0}})
	consumer.ExpectConsumePartition(dlqTopic, 0, 0).
		YieldMessage(storefrontDeadLetter(t, "1", `{"event_type":"order.upserted"}`))

	var closed []string
	session := &kafkaSession{
		offsets: offsetTable{ranges: map[int32][2]int64{0: {0, 1}}},
		source:  consumer,
		closers: []func() error{
			func() error { closed = append(closed, "client"); return nil },
			func() error { closed = append(closed, "consumer"); return consumer.Close() },
		},
	}

	err := run(context.Background(), []string{"-brokers=broker:9092", "-idle-timeout=50ms"}, env(nil), io.Discard, logger, connectors{
		kafka: func(cfg config, _ *log.Entry) (*kafkaSession, error) {
			assert.Equal(t, []string{"broker:9092"}, cfg.brokers)
			return session, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"consumer", "client"}, closed)
	assert.Equal(t, "dlq replay finished", hook.LastEntry().Message)
	assert.Equal(t, 1, hook.LastEntry().Data["replayed"])
}

func TestRun_Errors(t *testing.T) {
	logger, _ := nullLogger()
	var stderr bytes.Buffer

	err := run(context.Background(), []string{"-limit=-1"}, env(nil), &stderr, logger, connectors{})
	assert.ErrorContains(t, err, "invalid flags")

	err = run(context.Background(), []string{"-brokers=b:9092"}, env(nil), &stderr, logger, connectors{
		kafka: func(config, *log.Entry) (*kafkaSession, error) { return nil, errors.New("dial failed") },
	})
	assert.ErrorContains(t, err, "dial failed")

	err = run(context.Background(), []string{"-mode=outbox", "-dsn=postgres://x"}, env(nil), &stderr, logger, connectors{
		outbox: func(context.Context, string) (failedRequeuer, func() error, error) { return nil, nil, errors.New("no db") },
	})
	assert.ErrorContains(t, err, "no db")
}

func TestKafkaSession_CloseJoinsErrors(t *testing.T) {
	session := &kafkaSession{closers: []func() error{
		func() error { return errors.New("client") },
		func() error { return nil },
		func() error { return errors.New("producer") },
	}}
	err := session.Close()
	assert.ErrorContains(t, err, "client")
	assert.ErrorContains(t, err, "producer")
}
