package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// reader is the part of *kafka.Reader the consumer drives.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader reader
	log    *zap.SugaredLogger
	// redelivery spaces out attempts on a record whose handler keeps failing
	// with a retryable error.
	redelivery func() backoff.BackOff
}

func NewConsumer(brokers []string, topic, groupID string, log *zap.SugaredLogger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(r, log)
}

func newConsumer(r reader, log *zap.SugaredLogger) *Consumer {
	return &Consumer{reader: r, log: log, redelivery: defaultRedelivery}
}

func defaultRedelivery() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Start reads until ctx is done, handing every record to handle. A record is
// committed once handle succeeds or fails permanently. Retryable failures
// hold the partition and redeliver the same record until it goes through or
// ctx ends; an uncommitted record is read again after a restart.
func (c *Consumer) Start(ctx context.Context, handle func(ctx context.Context, key string, value []byte) error) {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			c.log.Warnw("kafka read error", "err", err)
			time.Sleep(time.Second)
			continue
		}

		err = backoff.Retry(func() error {
			err := handle(ctx, string(m.Key), m.Value)
			if err != nil && !domain.Retryable(err) {
				return backoff.Permanent(err)
			}
			if err != nil {
				c.log.Warnw("kafka record failed, redelivering", "partition", m.Partition, "offset", m.Offset, "err", err)
			}
			return err
		}, backoff.WithContext(c.redelivery(), ctx))
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.log.Warnw("kafka record rejected", "topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "err", err)
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Warnw("kafka commit failed", "offset", m.Offset, "err", err)
		}
	}
}

func (c *Consumer) Close(ctx context.Context) error {
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
