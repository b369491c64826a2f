package realtime

import (
	"sync"

	"github.com/fathima-sithara/order-messaging/internal/domain"
)

// OrderWatch is woken whenever any conversation under one order changes.
// Wakes coalesce: several changes before the reader drains C arrive as one.
type OrderWatch struct {
	key  domain.OrderKey
	d    *Dispatcher
	c    chan struct{}
	once sync.Once
	done chan struct{}
}

func (d *Dispatcher) WatchOrder(key domain.OrderKey) (*OrderWatch, error) {
	w := &OrderWatch{key: key, d: d, c: make(chan struct{}, 1), done: make(chan struct{})}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	set, ok := d.watchers[key]
	if !ok {
		set = make(map[*OrderWatch]struct{})
		d.watchers[key] = set
	}
	set[w] = struct{}{}
	return w, nil
}

func (w *OrderWatch) C() <-chan struct{} { return w.c }

// Done is closed once the watch is closed.
func (w *OrderWatch) Done() <-chan struct{} { return w.done }

func (w *OrderWatch) Close() {
	w.once.Do(func() {
		w.d.mu.Lock()
		if set, ok := w.d.watchers[w.key]; ok {
			delete(set, w)
			if len(set) == 0 {
				delete(w.d.watchers, w.key)
			}
		}
		w.d.mu.Unlock()
		close(w.done)
	})
}
