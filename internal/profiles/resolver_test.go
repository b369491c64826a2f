package profiles

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fathima-sithara/order-messaging/internal/httpclient"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/users/k1":
			_, _ = w.Write([]byte(`{"status":"ok","data":{"id":"k1","name":"Kim","avatar_url":"https://img/k1.png"}}`))
		case "/api/v1/users/k2":
			_, _ = w.Write([]byte(`{"id":"k2","username":"kay"}`))
		case "/api/v1/users/k3":
			_, _ = w.Write([]byte(`{"id":"k3"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := httpclient.NewClient(httpclient.Config{Name: "profiles", RetryMaxElapsed: 100 * time.Millisecond}, zap.NewNop().Sugar())
	r := NewHTTPResolver(client, srv.URL)

	p, err := r.Resolve(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, Profile{ID: "k1", DisplayName: "Kim", AvatarURL: "https://img/k1.png"}, p)

	p, err = r.Resolve(context.Background(), "k2")
	require.NoError(t, err)
	assert.Equal(t, "kay", p.DisplayName)

	_, err = r.Resolve(context.Background(), "k3")
	assert.Error(t, err)

	_, err = r.Resolve(context.Background(), "nobody")
	assert.ErrorIs(t, err, httpclient.ErrNotFound)
}

type countingResolver struct {
	calls int
	err   error
}

func (c *countingResolver) Resolve(_ context.Context, id string) (Profile, error) {
	c.calls++
	if c.err != nil {
		return Profile{}, c.err
	}
	return Profile{ID: id, DisplayName: "name-" + id}, nil
}

func TestCachedResolver_RedisDownFallsThrough(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	next := &countingResolver{}
	c := NewCachedResolver(next, rdb, time.Minute, zap.NewNop().Sugar())

	p, err := c.Resolve(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "name-k1", p.DisplayName)
	assert.Equal(t, 1, next.calls)

	next.err = errors.New("user service down")
	_, err = c.Resolve(context.Background(), "k1")
	assert.Error(t, err)
}

func TestFallback(t *testing.T) {
	assert.Equal(t, Profile{ID: "k9", DisplayName: "k9"}, Fallback("k9"))
}
