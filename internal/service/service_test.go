package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fathima-sithara/order-messaging/internal/auth"
	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/fathima-sithara/order-messaging/internal/media"
	"github.com/fathima-sithara/order-messaging/internal/orders"
	"github.com/fathima-sithara/order-messaging/internal/profiles"
	"github.com/fathima-sithara/order-messaging/internal/realtime"
	"github.com/fathima-sithara/order-messaging/internal/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	client   = auth.Identity{UserID: "c1", Role: domain.RoleClient}
	stranger = auth.Identity{UserID: "c2", Role: domain.RoleClient}
	courierA = auth.Identity{UserID: "kA", Role: domain.RoleCourier}
	courierB = auth.Identity{UserID: "kB", Role: domain.RoleCourier}
)

type fakeObjects struct {
	mu   sync.Mutex
	puts []string
	fail bool
}

func (f *fakeObjects) Put(_ context.Context, key, _ string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("bucket unavailable")
	}
	f.puts = append(f.puts, key)
	return f.BaseURL() + "/" + key, nil
}

func (f *fakeObjects) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.puts {
		if k == key {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeObjects) BaseURL() string { return "https://cdn.test" }

func (f *fakeObjects) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

type fakeEvents struct {
	mu     sync.Mutex
	keys   []string
	events []Event
}

func (f *fakeEvents) PublishMessage(_ context.Context, key string, v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	f.events = append(f.events, v.(Event))
	return nil
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeProfiles map[string]profiles.Profile

func (f fakeProfiles) Resolve(_ context.Context, id string) (profiles.Profile, error) {
	if p, ok := f[id]; ok {
		return p, nil
	}
	return profiles.Profile{}, errors.New("user service down")
}

type downDirectory struct{}

func (downDirectory) Owner(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

// flakyStore fails the next n appends.
type flakyStore struct {
	repository.MessageStore
	failures atomic.Int32
}

func (s *flakyStore) Append(ctx context.Context, m *domain.Message) (*domain.Message, bool, error) {
	if s.failures.Add(-1) >= 0 {
		return nil, false, errors.New("write concern timeout")
	}
	return s.MessageStore.Append(ctx, m)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

// Now advances one second per call.
func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	store   *flakyStore
	orders  *orders.Static
	objects *fakeObjects
	events  *fakeEvents
	disp    *realtime.Dispatcher
	cmd     *CommandService
	query   *QueryService
	deps    Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop().Sugar()
	f := &fixture{
		store:   &flakyStore{MessageStore: repository.NewMemoryStore()},
		orders:  orders.NewStatic(map[string]string{"o1": "c1"}),
		objects: &fakeObjects{},
		events:  &fakeEvents{},
	}
	disp, err := realtime.NewDispatcher(f.store, log, realtime.Options{})
	require.NoError(t, err)
	t.Cleanup(disp.Close)
	f.disp = disp

	clock := &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)}
	f.deps = Deps{
		Store:      f.store,
		Orders:     f.orders,
		Uploader:   media.NewUploader(f.objects, media.Config{MaxBytes: 10 << 20}, nil, log),
		Dispatcher: disp,
		Profiles:   fakeProfiles{"kA": {ID: "kA", DisplayName: "Alice Courier", AvatarURL: "https://img/a.png"}},
		Events:     f.events,
		Log:        log,
		Clock:      clock.Now,
	}
	f.cmd = NewCommandService(f.deps)
	f.query = NewQueryService(f.deps)
	return f
}

func (f *fixture) send(t *testing.T, from auth.Identity, to, body string) *domain.Message {
	t.Helper()
	m, err := f.cmd.SendMessage(context.Background(), SendCommand{
		OrderID: "o1", Sender: from, CounterpartyID: to, Body: body,
	})
	require.NoError(t, err)
	return m
}

func waitUpdate(t *testing.T, sub *realtime.Subscription, match func(realtime.Update) bool) realtime.Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-sub.Updates():
			require.True(t, ok, "subscription closed")
			if match(u) {
				return u
			}
		case <-deadline:
			t.Fatal("no matching update")
		}
	}
}

func waitList(t *testing.T, ch <-chan ListUpdate, match func(ListUpdate) bool) ListUpdate {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			require.True(t, ok, "list watch closed")
			if match(u) {
				return u
			}
		case <-deadline:
			t.Fatal("no matching list update")
		}
	}
}
