package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus broadcasts change events over a Redis pub/sub channel.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	log     *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRedisBus(rdb *redis.Client, channel string, log *zap.SugaredLogger) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBus{rdb: rdb, channel: channel, log: log, ctx: ctx, cancel: cancel}
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBus) Subscribe(handler func(Event)) error {
	pubsub := b.rdb.Subscribe(b.ctx, b.channel)
	// wait for the subscription confirmation so early publishes are not lost
	if _, err := pubsub.Receive(b.ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	ch := pubsub.Channel()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer pubsub.Close()
		for {
			select {
			case <-b.ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					b.log.Warnw("redis subscription closed", "channel", b.channel)
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.Debugw("dropping malformed bus event", "err", err)
					continue
				}
				handler(ev)
			}
		}
	}()
	return nil
}

// Close stops the subscriber goroutines. The client is owned by the caller.
func (b *RedisBus) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}
