package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/fathima-sithara/order-messaging/internal/domain"
)

// MemoryStore keeps the log in process. Used by tests and `store.driver: memory`.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      int64
	byID     map[string]*domain.Message
	convs    map[domain.ConversationKey][]*domain.Message
	couriers map[domain.OrderKey]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*domain.Message),
		convs:    make(map[domain.ConversationKey][]*domain.Message),
		couriers: make(map[domain.OrderKey]map[string]struct{}),
	}
}

func (s *MemoryStore) Append(ctx context.Context, m *domain.Message) (*domain.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.byID[m.ID]; ok {
		if cur.Key() != m.Key() {
			return nil, false, ErrIDConflict
		}
		return cur.Clone(), false, nil
	}

	s.seq++
	stored := m.Clone()
	stored.Seq = s.seq

	key := stored.Key()
	list := append(s.convs[key], stored)
	// appends arrive almost always in order; only walk back when they don't
	for i := len(list) - 1; i > 0 && list[i].Before(list[i-1]); i-- {
		list[i], list[i-1] = list[i-1], list[i]
	}
	s.convs[key] = list
	s.byID[stored.ID] = stored

	ordKey := key.Order()
	if s.couriers[ordKey] == nil {
		s.couriers[ordKey] = make(map[string]struct{})
	}
	s.couriers[ordKey][key.CourierID] = struct{}{}

	return stored.Clone(), true, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

func (s *MemoryStore) ListByConversation(ctx context.Context, key domain.ConversationKey) ([]*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.convs[key]
	out := make([]*domain.Message, 0, len(list))
	for _, m := range list {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *MemoryStore) LastMessage(ctx context.Context, key domain.ConversationKey) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.convs[key]
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[len(list)-1].Clone(), nil
}

func (s *MemoryStore) ListCouriers(ctx context.Context, key domain.OrderKey) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.couriers[key]))
	for id := range s.couriers[key] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, key domain.ConversationKey, viewer domain.Role, viewerID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.convs[key] {
		if m.MarkReadFor(viewer, viewerID) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountUnread(ctx context.Context, key domain.ConversationKey, viewer domain.Role, viewerID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, m := range s.convs[key] {
		if m.UnreadFor(viewer, viewerID) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }
