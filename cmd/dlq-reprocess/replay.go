package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

type summary struct {
	scanned  int
	replayed int
	skipped  int
}

func (s summary) plus(o summary) summary {
	return summary{scanned: s.scanned + o.scanned, replayed: s.replayed + o.replayed, skipped: s.skipped + o.skipped}
}

func (s summary) fields() log.Fields {
	return log.Fields{"scanned": s.scanned, "replayed": s.replayed, "skipped": s.skipped}
}

// replayer публикует записи DLQ-топика обратно в исходные топики.
type replayer struct {
	cfg       config
	offsets   offsetReader
	source    partitionSource
	publisher replayPublisher
	logger    *log.Entry
	now       func() time.Time
}

func newReplayer(cfg config, session *kafkaSession, logger *log.Entry) *replayer {
	return &replayer{
		cfg:       cfg,
		offsets:   session.offsets,
		source:    session.source,
		publisher: session.publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// run обходит разделы по возрастанию номера, пока не исчерпан общий limit.
func (r *replayer) run(ctx context.Context) (summary, error) {
	var total summary
	if r.cfg.execute && r.publisher == nil {
		return total, errors.New("execute mode needs a replay producer")
	}

	partitions, err := r.source.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		left := r.cfg.limit - total.scanned
		if left <= 0 {
			break
		}
		got, err := r.scanPartition(ctx, partition, left)
		total = total.plus(got)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// readWindow: полуинтервал [start, end) смещений раздела на момент старта.
// Записи, пришедшие позже, не читаются, иначе повтор может встретить собственный вывод.
func readWindow(oldest, newest int64, limit int, fromNewest bool) (start, end int64, ok bool) {
	if newest <= oldest {
		return 0, 0, false
	}
	start = oldest
	if fromNewest {
		start = max(newest-int64(limit), oldest)
	}
	return start, newest, true
}

func (r *replayer) scanPartition(ctx context.Context, partition int32, limit int) (summary, error) {
	var s summary
	oldest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return s, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return s, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	start, end, ok := readWindow(oldest, newest, limit, r.cfg.fromNewest)
	if !ok {
		return s, nil
	}

	pc, err := r.source.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return s, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for s.scanned < limit {
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-idle.C:
			r.logger.WithField("partition", partition).Warn("partition went quiet before its end offset")
			return s, nil
		case cerr, open := <-pc.Errors():
			if !open {
				return s, nil
			}
			return s, fmt.Errorf("read partition %d: %w", partition, cerr)
		case msg, open := <-pc.Messages():
			if !open || msg.Offset >= end {
				return s, nil
			}
			idle.Reset(r.cfg.idleTimeout)

			s.scanned++
			replayed, err := r.handle(msg)
			if err != nil {
				return s, err
			}
			if replayed {
				s.replayed++
			} else {
				s.skipped++
			}
			if msg.Offset+1 >= end {
				return s, nil
			}
		}
	}
	return s, nil
}

// handle решает судьбу одной записи; ошибка означает сбой публикации и останавливает прогон.
func (r *replayer) handle(msg *sarama.ConsumerMessage) (bool, error) {
	logger := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	rec, err := decodeDeadLetter(msg, r.cfg.targetTopic, r.now())
	switch {
	case errors.Is(err, errForeignRecord):
		logger.Debug("skip foreign record")
		return false, nil
	case err != nil:
		logger.WithError(err).Warn("skip undecodable dead letter")
		return false, nil
	case !rec.matches(r.cfg.eventType):
		return false, nil
	}

	logger = logger.WithFields(log.Fields{"target_topic": rec.topic, "key": rec.key, "event_type": rec.eventType})
	if !r.cfg.execute {
		logger.Info("replay candidate")
		return true, nil
	}
	if err := r.publisher.PublishRaw(rec.topic, rec.key, rec.value, rec.replayHeaders(r.now())); err != nil {
		return false, fmt.Errorf("replay partition %d offset %d: %w", msg.Partition, msg.Offset, err)
	}
	logger.Debug("record replayed")
	return true, nil
}
