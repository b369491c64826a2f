package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fathima-sithara/order-messaging/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const seqCounterID = "messages"

func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return client, nil
}

type MongoRepository struct {
	msgColl *mongo.Collection
	seqColl *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	r := &MongoRepository{
		msgColl: db.Collection("messages"),
		seqColl: db.Collection("counters"),
	}
	_, _ = r.msgColl.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "order_id", Value: 1},
				{Key: "client_id", Value: 1},
				{Key: "courier_id", Value: 1},
				{Key: "created_at", Value: 1},
				{Key: "seq", Value: 1},
			},
			Options: options.Index().SetName("conversation_order_idx"),
		},
	})
	return r
}

func conversationFilter(key domain.ConversationKey) bson.M {
	return bson.M{
		"order_id":   key.OrderID,
		"client_id":  key.ClientID,
		"courier_id": key.CourierID,
	}
}

func readFlagField(viewer domain.Role) string {
	if viewer == domain.RoleClient {
		return "read_by_client"
	}
	return "read_by_courier"
}

// unreadFilter selects the messages of a conversation the viewer did not author
// and has not read yet.
func unreadFilter(key domain.ConversationKey, viewer domain.Role, viewerID string) bson.M {
	f := conversationFilter(key)
	f["sender_id"] = bson.M{"$ne": viewerID}
	f["sender_role"] = bson.M{"$ne": viewer}
	f[readFlagField(viewer)] = false
	return f
}

var conversationSort = bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}}

func (r *MongoRepository) nextSeq(ctx context.Context) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := r.seqColl.FindOneAndUpdate(
		ctx,
		bson.M{"_id": seqCounterID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func (r *MongoRepository) Append(ctx context.Context, m *domain.Message) (*domain.Message, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	seq, err := r.nextSeq(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("next seq: %w", err)
	}
	doc := m.Clone()
	doc.Seq = seq

	var stored domain.Message
	err = r.msgColl.FindOneAndUpdate(
		ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$setOnInsert": doc},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&stored)
	if err != nil {
		return nil, false, err
	}
	if stored.Key() != doc.Key() {
		return nil, false, ErrIDConflict
	}
	return &stored, stored.Seq == doc.Seq, nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var m domain.Message
	if err := r.msgColl.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *MongoRepository) ListByConversation(ctx context.Context, key domain.ConversationKey) ([]*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cur, err := r.msgColl.Find(ctx, conversationFilter(key), options.Find().SetSort(conversationSort))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []*domain.Message{}
	for cur.Next(ctx) {
		var m domain.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, cur.Err()
}

func (r *MongoRepository) LastMessage(ctx context.Context, key domain.ConversationKey) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "seq", Value: -1}})
	var m domain.Message
	if err := r.msgColl.FindOne(ctx, conversationFilter(key), opts).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *MongoRepository) ListCouriers(ctx context.Context, key domain.OrderKey) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	vals, err := r.msgColl.Distinct(ctx, "courier_id", bson.M{"order_id": key.OrderID, "client_id": key.ClientID})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

// MarkRead is a single UpdateMany guarded by the flag being false, so a retry
// after a partial failure only touches what is still unread.
func (r *MongoRepository) MarkRead(ctx context.Context, key domain.ConversationKey, viewer domain.Role, viewerID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := r.msgColl.UpdateMany(
		ctx,
		unreadFilter(key, viewer, viewerID),
		bson.M{"$set": bson.M{readFlagField(viewer): true}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MongoRepository) CountUnread(ctx context.Context, key domain.ConversationKey, viewer domain.Role, viewerID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.msgColl.CountDocuments(ctx, unreadFilter(key, viewer, viewerID))
}

// Close is a no-op: the client is shared with the order directory and is
// disconnected by main.
func (r *MongoRepository) Close(context.Context) error { return nil }
