package orders

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/fathima-sithara/order-messaging/internal/httpclient"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Directory answers which client owns an order. Unknown orders yield
// domain.ErrNotFound.
type Directory interface {
	Owner(ctx context.Context, orderID string) (string, error)
}

// MongoDirectory reads the order collection owned by the order service.
type MongoDirectory struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func NewMongoDirectory(db *mongo.Database, collection string, timeout time.Duration) *MongoDirectory {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &MongoDirectory{coll: db.Collection(collection), timeout: timeout}
}

func (d *MongoDirectory) Owner(ctx context.Context, orderID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var doc struct {
		ClientID string `bson:"client_id"`
	}
	opts := options.FindOne().SetProjection(bson.M{"client_id": 1})
	if err := d.coll.FindOne(ctx, bson.M{"_id": orderID}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
		}
		return "", err
	}
	if doc.ClientID == "" {
		return "", fmt.Errorf("order %s has no client: %w", orderID, domain.ErrNotFound)
	}
	return doc.ClientID, nil
}

// HTTPDirectory asks the order service: GET {base}/api/v1/orders/{id}.
type HTTPDirectory struct {
	client  *httpclient.Client
	baseURL string
}

func NewHTTPDirectory(client *httpclient.Client, baseURL string) *HTTPDirectory {
	return &HTTPDirectory{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type orderRecord struct {
	ClientID string `json:"client_id"`
}

func (d *HTTPDirectory) Owner(ctx context.Context, orderID string) (string, error) {
	var body struct {
		orderRecord
		Data *orderRecord `json:"data"`
	}
	err := d.client.GetJSON(ctx, d.baseURL+"/api/v1/orders/"+url.PathEscape(orderID), &body)
	if err != nil {
		if errors.Is(err, httpclient.ErrNotFound) {
			return "", fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
		}
		return "", err
	}
	owner := body.ClientID
	if body.Data != nil && body.Data.ClientID != "" {
		owner = body.Data.ClientID
	}
	if owner == "" {
		return "", fmt.Errorf("order %s has no client: %w", orderID, domain.ErrNotFound)
	}
	return owner, nil
}

// Static is an in-memory Directory.
type Static struct {
	mu     sync.RWMutex
	owners map[string]string
}

func NewStatic(owners map[string]string) *Static {
	s := &Static{owners: make(map[string]string, len(owners))}
	for k, v := range owners {
		s.owners[k] = v
	}
	return s
}

func (s *Static) Set(orderID, clientID string) {
	s.mu.Lock()
	s.owners[orderID] = clientID
	s.mu.Unlock()
}

func (s *Static) Owner(_ context.Context, orderID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.owners[orderID]
	if !ok {
		return "", fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	return owner, nil
}
