package repository

import (
	"context"
	"testing"

	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func messageDoc(m *domain.Message) bson.D {
	return bson.D{
		{Key: "_id", Value: m.ID},
		{Key: "order_id", Value: m.OrderID},
		{Key: "client_id", Value: m.ClientID},
		{Key: "courier_id", Value: m.CourierID},
		{Key: "sender_id", Value: m.SenderID},
		{Key: "sender_role", Value: string(m.SenderRole)},
		{Key: "body", Value: m.Body},
		{Key: "created_at", Value: m.CreatedAt},
		{Key: "seq", Value: m.Seq},
		{Key: "read_by_client", Value: m.ReadByClient},
		{Key: "read_by_courier", Value: m.ReadByCourier},
	}
}

func counterReply(seq int64) bson.D {
	return mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{{Key: "_id", Value: seqCounterID}, {Key: "seq", Value: seq}}})
}

func TestUnreadFilter(t *testing.T) {
	f := unreadFilter(convA, domain.RoleCourier, "k1")

	assert.Equal(t, "o1", f["order_id"])
	assert.Equal(t, "c1", f["client_id"])
	assert.Equal(t, "k1", f["courier_id"])
	assert.Equal(t, bson.M{"$ne": "k1"}, f["sender_id"])
	assert.Equal(t, bson.M{"$ne": domain.RoleCourier}, f["sender_role"])
	assert.Equal(t, false, f["read_by_courier"])
	assert.NotContains(t, f, "read_by_client")

	assert.Equal(t, false, unreadFilter(convA, domain.RoleClient, "c1")["read_by_client"])
}

func TestMongoRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("append inserts", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.DB)
		m := msg("m1", convA, domain.RoleClient, "Hello", base)
		inserted := m.Clone()
		inserted.Seq = 5
		mt.AddMockResponses(counterReply(5), mtest.CreateSuccessResponse(bson.E{Key: "value", Value: messageDoc(inserted)}))

		stored, created, err := repo.Append(context.Background(), m)
		require.NoError(mt, err)
		assert.True(mt, created)
		assert.EqualValues(mt, 5, stored.Seq)
		assert.Equal(mt, "Hello", stored.Body)
	})

	mt.Run("append returns the earlier write", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.DB)
		earlier := msg("m1", convA, domain.RoleClient, "Hello", base)
		earlier.Seq = 2
		mt.AddMockResponses(counterReply(9), mtest.CreateSuccessResponse(bson.E{Key: "value", Value: messageDoc(earlier)}))

		stored, created, err := repo.Append(context.Background(), msg("m1", convA, domain.RoleClient, "Hello", base))
		require.NoError(mt, err)
		assert.False(mt, created)
		assert.EqualValues(mt, 2, stored.Seq)
	})

	mt.Run("append id used in another conversation", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.DB)
		other := msg("m1", convB, domain.RoleCourier, "Hi", base)
		other.Seq = 1
		mt.AddMockResponses(counterReply(4), mtest.CreateSuccessResponse(bson.E{Key: "value", Value: messageDoc(other)}))

		_, _, err := repo.Append(context.Background(), msg("m1", convA, domain.RoleClient, "Hello", base))
		assert.ErrorIs(mt, err, ErrIDConflict)
	})

	mt.Run("append counter failure", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 91, Name: "ShutdownInProgress", Message: "shutting down"}))

		_, _, err := repo.Append(context.Background(), msg("m1", convA, domain.RoleClient, "Hello", base))
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), "next seq")
	})

	mt.Run("get", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.DB)
		m := msg("m1", convB, domain.RoleCourier, "On my way", base)
		m.Seq = 3
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "db.messages", mtest.FirstBatch, messageDoc(m)),
			mtest.CreateCursorResponse(0, "db.messages", mtest.FirstBatch),
		)

		got, err := repo.Get(context.Background(), "m1")
		require.NoError(mt, err)
		assert.Equal(mt, convB, got.Key())
		assert.EqualValues(mt, 3, got.Seq)

		_, err = repo.Get(context.Background(), "missing")
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("list and last message", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.DB)
		a := msg("m1", convA, domain.RoleClient, "Hello", base)
		b := msg("m2", convA, domain.RoleCourier, "Hi", base)
		a.Seq, b.Seq = 1, 2
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "db.messages", mtest.FirstBatch, messageDoc(a), messageDoc(b)),
			mtest.CreateCursorResponse(0, "db.messages", mtest.FirstBatch),
		)

		list, err := repo.ListByConversation(context.Background(), convA)
		require.NoError(mt, err)
		assert.Equal(mt, []string{"Hello", "Hi"}, bodies(list))

		_, err = repo.LastMessage(context.Background(), convB)
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("list couriers sorted", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "values", Value: bson.A{"k2", "k1", "k3"}}))

		ids, err := repo.ListCouriers(context.Background(), convA.Order())
		require.NoError(mt, err)
		assert.Equal(mt, []string{"k1", "k2", "k3"}, ids)
	})

	mt.Run("mark read reports modified documents", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.DB)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 3}, bson.E{Key: "nModified", Value: 2}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
		)

		n, err := repo.MarkRead(context.Background(), convA, domain.RoleClient, "c1")
		require.NoError(mt, err)
		assert.EqualValues(mt, 2, n)

		n, err = repo.MarkRead(context.Background(), convA, domain.RoleClient, "c1")
		require.NoError(mt, err)
		assert.Zero(mt, n)
	})

	mt.Run("count unread", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "db.messages", mtest.FirstBatch, bson.D{{Key: "n", Value: int32(4)}}))

		n, err := repo.CountUnread(context.Background(), convA, domain.RoleCourier, "k1")
		require.NoError(mt, err)
		assert.EqualValues(mt, 4, n)
	})
}
