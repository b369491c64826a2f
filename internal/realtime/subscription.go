package realtime

import (
	"sync"

	"github.com/fathima-sithara/order-messaging/internal/domain"
)

type State int

const (
	Subscribing State = iota
	Active
	Error
	Unsubscribed
)

func (s State) String() string {
	switch s {
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	case Error:
		return "error"
	case Unsubscribed:
		return "unsubscribed"
	}
	return "unknown"
}

// Update is one push to a subscriber: always the complete ordered history.
type Update struct {
	Key      domain.ConversationKey
	State    State
	Messages []*domain.Message
	Err      error
}

// Subscription is one open conversation view.
//
// The updates channel holds at most one pending Update; a newer snapshot
// replaces an unread older one. The channel is closed when the subscription
// reaches Error or Unsubscribed.
type Subscription struct {
	key     domain.ConversationKey
	d       *Dispatcher
	updates chan Update
	ready   chan struct{}

	mu        sync.Mutex
	state     State
	readyOnce sync.Once
}

func newSubscription(d *Dispatcher, key domain.ConversationKey) *Subscription {
	return &Subscription{
		key:     key,
		d:       d,
		updates: make(chan Update, 1),
		ready:   make(chan struct{}),
		state:   Subscribing,
	}
}

func (s *Subscription) Key() domain.ConversationKey { return s.key }

func (s *Subscription) Updates() <-chan Update { return s.updates }

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close cancels the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	if s.finish(Update{State: Unsubscribed}) {
		s.d.remove(s)
	}
}

func (s *Subscription) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// deliver queues a snapshot, replacing any update the reader has not taken.
func (s *Subscription) deliver(msgs []*domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Error || s.state == Unsubscribed {
		return
	}
	s.state = Active
	s.replace(Update{Key: s.key, State: Active, Messages: msgs})
	s.markReady()
}

// finish moves the subscription to a terminal state and closes the channel.
// The terminal update stays readable before the close is observed, except for
// Unsubscribed where nothing further is delivered.
func (s *Subscription) finish(u Update) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Error || s.state == Unsubscribed {
		return false
	}
	s.state = u.State
	u.Key = s.key
	if u.State == Error {
		s.replace(u)
	} else {
		select {
		case <-s.updates:
		default:
		}
	}
	close(s.updates)
	s.markReady()
	return true
}

func (s *Subscription) replace(u Update) {
	select {
	case <-s.updates:
	default:
	}
	s.updates <- u
}
