package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/fathima-sithara/order-messaging/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Loader reads the full ordered history of a conversation.
type Loader interface {
	ListByConversation(ctx context.Context, key domain.ConversationKey) ([]*domain.Message, error)
}

var ErrClosed = errors.New("dispatcher closed")

// Dispatcher fans conversation changes out to open subscriptions.
//
// Each conversation with subscribers has one room goroutine. Every snapshot
// for that conversation is loaded and delivered by that goroutine, so all of
// its subscribers see snapshots in the same order.
type Dispatcher struct {
	loader      Loader
	bus         Bus
	metrics     *metrics.Metrics
	log         *zap.SugaredLogger
	instanceID  string
	loadTimeout time.Duration

	mu       sync.Mutex
	closed   bool
	rooms    map[domain.ConversationKey]*room
	watchers map[domain.OrderKey]map[*OrderWatch]struct{}
}

type room struct {
	key     domain.ConversationKey
	wake    chan struct{}
	done    chan struct{}
	changed bool
	active  map[*Subscription]struct{}
	pending map[*Subscription]struct{}
}

type Options struct {
	Bus         Bus
	Metrics     *metrics.Metrics
	LoadTimeout time.Duration
}

func NewDispatcher(loader Loader, log *zap.SugaredLogger, opts Options) (*Dispatcher, error) {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 5 * time.Second
	}
	d := &Dispatcher{
		loader:      loader,
		bus:         opts.Bus,
		metrics:     opts.Metrics,
		log:         log,
		instanceID:  uuid.NewString(),
		loadTimeout: opts.LoadTimeout,
		rooms:       make(map[domain.ConversationKey]*room),
		watchers:    make(map[domain.OrderKey]map[*OrderWatch]struct{}),
	}
	if d.bus != nil {
		if err := d.bus.Subscribe(d.handleRemote); err != nil {
			return nil, fmt.Errorf("bus subscribe: %w", err)
		}
	}
	return d, nil
}

func (d *Dispatcher) InstanceID() string { return d.instanceID }

// Subscribe opens a subscription and blocks until its first snapshot is
// queued or the load failed.
func (d *Dispatcher) Subscribe(ctx context.Context, key domain.ConversationKey) (*Subscription, error) {
	sub := newSubscription(d, key)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", domain.ErrSubscription, ErrClosed)
	}
	r, ok := d.rooms[key]
	if !ok {
		r = &room{
			key:     key,
			wake:    make(chan struct{}, 1),
			done:    make(chan struct{}),
			active:  make(map[*Subscription]struct{}),
			pending: make(map[*Subscription]struct{}),
		}
		d.rooms[key] = r
		go d.run(r)
	}
	r.pending[sub] = struct{}{}
	signal(r.wake)
	d.mu.Unlock()
	d.metrics.SubscriptionOpened()

	select {
	case <-sub.ready:
	case <-ctx.Done():
		sub.Close()
		return nil, ctx.Err()
	}
	if sub.State() == Error {
		u := <-sub.updates
		return nil, u.Err
	}
	return sub, nil
}

// Notify reports that a conversation changed locally: its subscribers get a
// fresh snapshot, order watchers are woken and other instances are told.
func (d *Dispatcher) Notify(ctx context.Context, key domain.ConversationKey) {
	d.signalLocal(key)
	if d.bus == nil {
		return
	}
	if err := d.bus.Publish(ctx, Event{Instance: d.instanceID, Key: key}); err != nil {
		d.log.Warnw("bus publish failed", "conversation", key.String(), "err", err)
		return
	}
	d.metrics.BusEvent("out")
}

func (d *Dispatcher) handleRemote(ev Event) {
	if ev.Instance == d.instanceID {
		return
	}
	d.metrics.BusEvent("in")
	d.signalLocal(ev.Key)
}

func (d *Dispatcher) signalLocal(key domain.ConversationKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.rooms[key]; ok {
		r.changed = true
		signal(r.wake)
	}
	for w := range d.watchers[key.Order()] {
		signal(w.c)
	}
}

func (d *Dispatcher) run(r *room) {
	for {
		select {
		case <-r.done:
			return
		case <-r.wake:
		}

		d.mu.Lock()
		changed := r.changed
		r.changed = false
		pending := r.pending
		r.pending = make(map[*Subscription]struct{})
		for s := range pending {
			r.active[s] = struct{}{}
		}
		targets := make([]*Subscription, 0, len(r.active))
		for s := range r.active {
			if _, isNew := pending[s]; changed || isNew {
				targets = append(targets, s)
			}
		}
		d.mu.Unlock()

		if len(targets) == 0 {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), d.loadTimeout)
		msgs, err := d.loader.ListByConversation(ctx, r.key)
		cancel()
		if err != nil {
			d.log.Errorw("snapshot load failed", "conversation", r.key.String(), "err", err)
			d.failRoom(r, fmt.Errorf("%w: %v", domain.ErrSubscription, err))
			continue
		}
		for _, s := range targets {
			s.deliver(cloneAll(msgs))
		}
	}
}

// failRoom moves every subscriber of the room to Error.
func (d *Dispatcher) failRoom(r *room, err error) {
	d.mu.Lock()
	subs := make([]*Subscription, 0, len(r.active)+len(r.pending))
	for s := range r.active {
		subs = append(subs, s)
	}
	for s := range r.pending {
		subs = append(subs, s)
	}
	d.mu.Unlock()

	for _, s := range subs {
		d.remove(s)
		s.finish(Update{State: Error, Err: err})
	}
}

func (d *Dispatcher) remove(s *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rooms[s.key]
	if !ok {
		return
	}
	_, a := r.active[s]
	_, p := r.pending[s]
	if !a && !p {
		return
	}
	delete(r.active, s)
	delete(r.pending, s)
	d.metrics.SubscriptionClosed()
	if len(r.active) == 0 && len(r.pending) == 0 {
		close(r.done)
		delete(d.rooms, s.key)
	}
}

// Subscribers returns the number of open subscriptions for key.
func (d *Dispatcher) Subscribers(key domain.ConversationKey) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rooms[key]
	if !ok {
		return 0
	}
	return len(r.active) + len(r.pending)
}

// Close unsubscribes everyone and stops all rooms. The bus is owned by the caller.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	var subs []*Subscription
	for _, r := range d.rooms {
		for s := range r.active {
			subs = append(subs, s)
		}
		for s := range r.pending {
			subs = append(subs, s)
		}
	}
	var watches []*OrderWatch
	for _, set := range d.watchers {
		for w := range set {
			watches = append(watches, w)
		}
	}
	d.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	for _, w := range watches {
		w.Close()
	}
}

func signal(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

func cloneAll(msgs []*domain.Message) []*domain.Message {
	out := make([]*domain.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
