package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBus broadcasts change events on a NATS subject.
type NATSBus struct {
	nc      *nats.Conn
	subject string
	log     *zap.SugaredLogger

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewNATSBus(url, subject string, log *zap.SugaredLogger) (*NATSBus, error) {
	nc, err := nats.Connect(url, nats.Name("order-messaging"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	return &NATSBus{nc: nc, subject: subject, log: log}, nil
}

func (b *NATSBus) Publish(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.nc.Publish(b.subject, payload)
}

func (b *NATSBus) Subscribe(handler func(Event)) error {
	sub, err := b.nc.Subscribe(b.subject, func(m *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			b.log.Debugw("dropping malformed bus event", "err", err)
			return
		}
		handler(ev)
	})
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return b.nc.Flush()
}

func (b *NATSBus) Close() error {
	b.mu.Lock()
	for _, s := range b.subs {
		_ = s.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()
	return b.nc.Drain()
}
