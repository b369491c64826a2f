package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	convA = domain.ConversationKey{OrderID: "o1", ClientID: "c1", CourierID: "k1"}
	convB = domain.ConversationKey{OrderID: "o1", ClientID: "c1", CourierID: "k2"}
	base  = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

func msg(id string, key domain.ConversationKey, role domain.Role, body string, at time.Time) *domain.Message {
	sender := key.ParticipantOf(role)
	return &domain.Message{
		ID: id, OrderID: key.OrderID, ClientID: key.ClientID, CourierID: key.CourierID,
		SenderID: sender, SenderRole: role, Body: body, CreatedAt: at,
	}
}

func bodies(ms []*domain.Message) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Body)
	}
	return out
}

type storeFactory func(t *testing.T) MessageStore

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) MessageStore { return NewMemoryStore() },
		"pebble": func(t *testing.T) MessageStore {
			s, err := OpenPebbleStore(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close(context.Background()) })
			return s
		},
	}
}

func TestStore_AppendAssignsSeqAndOrders(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			first, _, err := s.Append(ctx, msg("m1", convA, domain.RoleClient, "Hello", base))
			require.NoError(t, err)
			second, _, err := s.Append(ctx, msg("m2", convA, domain.RoleCourier, "Hi", base))
			require.NoError(t, err)
			assert.Less(t, first.Seq, second.Seq)

			// earlier timestamp appended last still sorts first
			_, _, err = s.Append(ctx, msg("m0", convA, domain.RoleClient, "early", base.Add(-time.Second)))
			require.NoError(t, err)

			list, err := s.ListByConversation(ctx, convA)
			require.NoError(t, err)
			assert.Equal(t, []string{"early", "Hello", "Hi"}, bodies(list))

			last, err := s.LastMessage(ctx, convA)
			require.NoError(t, err)
			assert.Equal(t, "m2", last.ID)
		})
	}
}

func TestStore_GetByID(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			_, err := s.Get(ctx, "m1")
			assert.ErrorIs(t, err, ErrNotFound)

			stored, _, err := s.Append(ctx, msg("m1", convB, domain.RoleCourier, "On my way", base))
			require.NoError(t, err)

			got, err := s.Get(ctx, "m1")
			require.NoError(t, err)
			assert.Equal(t, convB, got.Key())
			assert.Equal(t, "On my way", got.Body)
			assert.Equal(t, stored.Seq, got.Seq)
		})
	}
}

func TestStore_AppendIsIdempotentOnID(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			a, created, err := s.Append(ctx, msg("dup", convA, domain.RoleClient, "once", base))
			require.NoError(t, err)
			assert.True(t, created)
			b, created, err := s.Append(ctx, msg("dup", convA, domain.RoleClient, "twice", base.Add(time.Minute)))
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, a.Seq, b.Seq)
			assert.Equal(t, "once", b.Body)

			list, err := s.ListByConversation(ctx, convA)
			require.NoError(t, err)
			assert.Len(t, list, 1)

			_, _, err = s.Append(ctx, msg("dup", convB, domain.RoleClient, "elsewhere", base))
			assert.ErrorIs(t, err, ErrIDConflict)
		})
	}
}

func TestStore_PartitionsByCourier(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			_, _, _ = s.Append(ctx, msg("1", convA, domain.RoleClient, "Hello", base))
			_, _, _ = s.Append(ctx, msg("2", convA, domain.RoleCourier, "Hi", base.Add(time.Second)))
			_, _, _ = s.Append(ctx, msg("3", convB, domain.RoleCourier, "I can help", base.Add(2*time.Second)))
			other := domain.ConversationKey{OrderID: "o2", ClientID: "c1", CourierID: "k9"}
			_, _, _ = s.Append(ctx, msg("4", other, domain.RoleCourier, "other order", base))

			couriers, err := s.ListCouriers(ctx, convA.Order())
			require.NoError(t, err)
			assert.Equal(t, []string{"k1", "k2"}, couriers)

			a, _ := s.ListByConversation(ctx, convA)
			b, _ := s.ListByConversation(ctx, convB)
			assert.Equal(t, []string{"Hello", "Hi"}, bodies(a))
			assert.Equal(t, []string{"I can help"}, bodies(b))

			none, err := s.ListCouriers(ctx, domain.OrderKey{OrderID: "o3", ClientID: "c1"})
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStore_MarkReadSkipsOwnMessagesAndIsIdempotent(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			_, _, _ = s.Append(ctx, msg("1", convA, domain.RoleClient, "Hello", base))
			_, _, _ = s.Append(ctx, msg("2", convA, domain.RoleCourier, "Hi", base.Add(time.Second)))
			_, _, _ = s.Append(ctx, msg("3", convA, domain.RoleCourier, "there?", base.Add(2*time.Second)))

			n, err := s.CountUnread(ctx, convA, domain.RoleClient, "c1")
			require.NoError(t, err)
			assert.EqualValues(t, 2, n)

			changed, err := s.MarkRead(ctx, convA, domain.RoleClient, "c1")
			require.NoError(t, err)
			assert.EqualValues(t, 2, changed)

			changed, err = s.MarkRead(ctx, convA, domain.RoleClient, "c1")
			require.NoError(t, err)
			assert.Zero(t, changed)

			list, _ := s.ListByConversation(ctx, convA)
			assert.False(t, list[0].ReadByClient, "client's own message must not be marked")
			assert.True(t, list[1].ReadByClient)
			assert.True(t, list[2].ReadByClient)
			assert.False(t, list[1].ReadByCourier)

			n, _ = s.CountUnread(ctx, convA, domain.RoleCourier, "k1")
			assert.EqualValues(t, 1, n)
		})
	}
}

func TestStore_ConcurrentMarksConverge(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			for i := 0; i < 10; i++ {
				role := domain.RoleClient
				if i%2 == 1 {
					role = domain.RoleCourier
				}
				_, _, err := s.Append(ctx, msg(fmt.Sprint(i), convA, role, "x", base.Add(time.Duration(i)*time.Millisecond)))
				require.NoError(t, err)
			}

			var wg sync.WaitGroup
			for i := 0; i < 4; i++ {
				wg.Add(2)
				go func() { defer wg.Done(); _, _ = s.MarkRead(ctx, convA, domain.RoleClient, "c1") }()
				go func() { defer wg.Done(); _, _ = s.MarkRead(ctx, convA, domain.RoleCourier, "k1") }()
			}
			wg.Wait()

			c, _ := s.CountUnread(ctx, convA, domain.RoleClient, "c1")
			k, _ := s.CountUnread(ctx, convA, domain.RoleCourier, "k1")
			assert.Zero(t, c)
			assert.Zero(t, k)
		})
	}
}

func TestStore_LastMessageEmpty(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			_, err := newStore(t).LastMessage(context.Background(), convA)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_CancelledContext(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, _, err := newStore(t).Append(ctx, msg("1", convA, domain.RoleClient, "x", base))
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestPebbleStore_ReopenKeepsSeqAndData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenPebbleStore(dir)
	require.NoError(t, err)
	first, _, err := s.Append(ctx, msg("1", convA, domain.RoleClient, "before", base))
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	s, err = OpenPebbleStore(dir)
	require.NoError(t, err)
	defer s.Close(ctx)

	second, _, err := s.Append(ctx, msg("2", convA, domain.RoleCourier, "after", base))
	require.NoError(t, err)
	assert.Greater(t, second.Seq, first.Seq)

	list, err := s.ListByConversation(ctx, convA)
	require.NoError(t, err)
	assert.Equal(t, []string{"before", "after"}, bodies(list))
}

func TestPebbleStore_EscapesSeparators(t *testing.T) {
	ctx := context.Background()
	s, err := OpenPebbleStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close(ctx)

	slashy := domain.ConversationKey{OrderID: "o/1", ClientID: "c1", CourierID: "k/1"}
	plain := domain.ConversationKey{OrderID: "o", ClientID: "1", CourierID: "k1"}
	_, _, err = s.Append(ctx, msg("a", slashy, domain.RoleCourier, "slashy", base))
	require.NoError(t, err)
	_, _, err = s.Append(ctx, msg("b", plain, domain.RoleCourier, "plain", base))
	require.NoError(t, err)

	list, _ := s.ListByConversation(ctx, slashy)
	assert.Equal(t, []string{"slashy"}, bodies(list))

	couriers, err := s.ListCouriers(ctx, slashy.Order())
	require.NoError(t, err)
	assert.Equal(t, []string{"k/1"}, couriers)
}
