package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/fathima-sithara/order-messaging/internal/repository"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testChannel = "order-messaging.test"

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return Event{}
	}
}

func collect(t *testing.T, b Bus) <-chan Event {
	t.Helper()
	ch := make(chan Event, 16)
	require.NoError(t, b.Subscribe(func(ev Event) { ch <- ev }))
	return ch
}

// exerciseBus runs the same checks against two instances sharing a backend.
// raw publishes a payload on the channel without going through a Bus.
func exerciseBus(t *testing.T, a, b Bus, raw func(payload []byte)) {
	t.Helper()
	ctx := context.Background()
	fromA := collect(t, a)
	fromB := collect(t, b)

	ev := Event{Instance: "inst-a", Key: conv}
	require.NoError(t, a.Publish(ctx, ev))
	assert.Equal(t, ev, receive(t, fromA), "publishers see their own events")
	assert.Equal(t, ev, receive(t, fromB))

	valid, err := json.Marshal(Event{Instance: "inst-x", Key: conv})
	require.NoError(t, err)
	raw([]byte("{not json"))
	raw(valid)
	assert.Equal(t, "inst-x", receive(t, fromB).Instance, "malformed payloads are skipped")
	assert.Equal(t, "inst-x", receive(t, fromA).Instance)

	require.NoError(t, b.Close())
	require.NoError(t, a.Publish(ctx, Event{Instance: "inst-a", Key: conv}))
	receive(t, fromA)
	select {
	case ev := <-fromB:
		t.Fatalf("closed bus delivered %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisBus(t *testing.T) {
	mr := miniredis.RunT(t)
	newBus := func() *RedisBus {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		return NewRedisBus(rdb, testChannel, zap.NewNop().Sugar())
	}
	a, b := newBus(), newBus()
	t.Cleanup(func() { _ = a.Close() })

	exerciseBus(t, a, b, func(payload []byte) {
		mr.Publish(testChannel, string(payload))
	})
}

func runNATS(t *testing.T) string {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second), "nats server not ready")
	t.Cleanup(ns.Shutdown)
	return ns.ClientURL()
}

func TestNATSBus(t *testing.T) {
	url := runNATS(t)
	log := zap.NewNop().Sugar()
	a, err := NewNATSBus(url, testChannel, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := NewNATSBus(url, testChannel, log)
	require.NoError(t, err)

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	exerciseBus(t, a, b, func(payload []byte) {
		require.NoError(t, nc.Publish(testChannel, payload))
		require.NoError(t, nc.Flush())
	})
}

func TestDispatcher_CrossInstanceOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	store := repository.NewMemoryStore()
	newInstance := func() *Dispatcher {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		bus := NewRedisBus(rdb, testChannel, zap.NewNop().Sugar())
		t.Cleanup(func() {
			_ = bus.Close()
			_ = rdb.Close()
		})
		return newDispatcher(t, store, bus)
	}
	a, b := newInstance(), newInstance()

	sub, err := b.Subscribe(context.Background(), conv)
	require.NoError(t, err)
	waitLen(t, sub, 0)

	appendMsg(t, store, "r1", domain.RoleClient, time.Now())
	a.Notify(context.Background(), conv)

	u := waitLen(t, sub, 1)
	assert.Equal(t, "r1", u.Messages[0].ID)
}
