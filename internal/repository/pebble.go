package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/fathima-sithara/order-messaging/internal/domain"
)

// Key layout:
//
//	m/{order}/{client}/{courier}/{ts:020d}-{seq:020d} -> message JSON
//	id/{id}                                          -> message key
//	cx/{order}/{client}/{courier}                    -> empty (courier index)
//	meta/seq                                         -> last assigned seq
//
// Id segments are path-escaped so "/" never appears inside a segment.
var seqKey = []byte("meta/seq")

// PebbleStore is the embedded single-node backend (`store.driver: pebble`).
type PebbleStore struct {
	db *pebble.DB

	// mu serialises writers; readers go straight to pebble.
	mu  sync.Mutex
	seq int64
}

func OpenPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	s := &PebbleStore{db: db}

	v, closer, err := db.Get(seqKey)
	switch {
	case err == nil:
		s.seq, err = strconv.ParseInt(string(v), 10, 64)
		_ = closer.Close()
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("corrupt seq counter: %w", err)
		}
	case errors.Is(err, pebble.ErrNotFound):
	default:
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func esc(s string) string { return url.PathEscape(s) }

func padInt(n int64) string { return fmt.Sprintf("%020d", n) }

func convPrefix(k domain.ConversationKey) string {
	return "m/" + esc(k.OrderID) + "/" + esc(k.ClientID) + "/" + esc(k.CourierID) + "/"
}

func msgKey(m *domain.Message) []byte {
	return []byte(convPrefix(m.Key()) + padInt(m.CreatedAt.UnixNano()) + "-" + padInt(m.Seq))
}

func idKey(id string) []byte { return []byte("id/" + esc(id)) }

func courierIdxPrefix(k domain.OrderKey) string {
	return "cx/" + esc(k.OrderID) + "/" + esc(k.ClientID) + "/"
}

// prefixBounds returns [prefix, next-prefix) for a prefix ending in "/".
func prefixBounds(prefix string) *pebble.IterOptions {
	upper := []byte(prefix)
	upper[len(upper)-1]++
	return &pebble.IterOptions{LowerBound: []byte(prefix), UpperBound: upper}
}

func (s *PebbleStore) get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, nil
}

func (s *PebbleStore) byID(id string) (*domain.Message, error) {
	key, err := s.get(idKey(id))
	if err != nil {
		return nil, err
	}
	raw, err := s.get(key)
	if err != nil {
		return nil, err
	}
	var m domain.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PebbleStore) Get(ctx context.Context, id string) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.byID(id)
}

func (s *PebbleStore) Append(ctx context.Context, m *domain.Message) (*domain.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.byID(m.ID)
	switch {
	case err == nil:
		if cur.Key() != m.Key() {
			return nil, false, ErrIDConflict
		}
		return cur, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	stored := m.Clone()
	stored.Seq = s.seq + 1
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, false, err
	}
	key := msgKey(stored)

	b := s.db.NewBatch()
	defer b.Close()
	_ = b.Set(key, raw, nil)
	_ = b.Set(idKey(stored.ID), key, nil)
	_ = b.Set([]byte(courierIdxPrefix(stored.Key().Order())+esc(stored.CourierID)), []byte{}, nil)
	_ = b.Set(seqKey, []byte(strconv.FormatInt(stored.Seq, 10)), nil)
	if err := b.Commit(pebble.Sync); err != nil {
		return nil, false, err
	}
	s.seq = stored.Seq
	return stored, true, nil
}

// scan walks a conversation in key order, which is (CreatedAt, Seq) order.
func (s *PebbleStore) scan(key domain.ConversationKey, fn func(k []byte, m *domain.Message) error) error {
	iter, err := s.db.NewIter(prefixBounds(convPrefix(key)))
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		var m domain.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		if err := fn(append([]byte(nil), iter.Key()...), &m); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *PebbleStore) ListByConversation(ctx context.Context, key domain.ConversationKey) ([]*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []*domain.Message{}
	err := s.scan(key, func(_ []byte, m *domain.Message) error {
		out = append(out, m)
		return nil
	})
	return out, err
}

func (s *PebbleStore) LastMessage(ctx context.Context, key domain.ConversationKey) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	iter, err := s.db.NewIter(prefixBounds(convPrefix(key)))
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	var m domain.Message
	if err := json.Unmarshal(iter.Value(), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PebbleStore) ListCouriers(ctx context.Context, key domain.OrderKey) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := courierIdxPrefix(key)
	iter, err := s.db.NewIter(prefixBounds(prefix))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := []string{}
	for iter.First(); iter.Valid(); iter.Next() {
		id, err := url.PathUnescape(strings.TrimPrefix(string(iter.Key()), prefix))
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, iter.Error()
}

func (s *PebbleStore) MarkRead(ctx context.Context, key domain.ConversationKey, viewer domain.Role, viewerID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	// read-modify-write of whole records: without the lock a client and a
	// courier marking concurrently could overwrite each other's flag
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()
	var n int64
	err := s.scan(key, func(k []byte, m *domain.Message) error {
		if !m.MarkReadFor(viewer, viewerID) {
			return nil
		}
		raw, err := json.Marshal(m)
		if err != nil {
			return err
		}
		n++
		return b.Set(k, raw, nil)
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PebbleStore) CountUnread(ctx context.Context, key domain.ConversationKey, viewer domain.Role, viewerID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	err := s.scan(key, func(_ []byte, m *domain.Message) error {
		if m.UnreadFor(viewer, viewerID) {
			n++
		}
		return nil
	})
	return n, err
}

func (s *PebbleStore) Close(context.Context) error {
	return s.db.Close()
}
