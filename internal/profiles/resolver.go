package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/fathima-sithara/order-messaging/internal/httpclient"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Resolver looks up presentation data for a user id.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (Profile, error)
}

// Fallback is what a view shows when the profile cannot be resolved.
func Fallback(userID string) Profile {
	return Profile{ID: userID, DisplayName: userID}
}

// HTTPResolver calls the user service: GET {base}/api/v1/users/{id}.
type HTTPResolver struct {
	client  *httpclient.Client
	baseURL string
}

func NewHTTPResolver(client *httpclient.Client, baseURL string) *HTTPResolver {
	return &HTTPResolver{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type userRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

func (r *HTTPResolver) Resolve(ctx context.Context, userID string) (Profile, error) {
	var body struct {
		userRecord
		Data *userRecord `json:"data"`
	}
	if err := r.client.GetJSON(ctx, r.baseURL+"/api/v1/users/"+url.PathEscape(userID), &body); err != nil {
		return Profile{}, err
	}
	u := body.userRecord
	if body.Data != nil {
		u = *body.Data
	}
	p := Profile{ID: userID, DisplayName: u.Name, AvatarURL: u.AvatarURL}
	if p.DisplayName == "" {
		p.DisplayName = u.Username
	}
	if p.DisplayName == "" {
		return Profile{}, errors.New("profile has no name")
	}
	return p, nil
}

// CachedResolver keeps resolved profiles in Redis. Cache errors fall through
// to the wrapped resolver.
type CachedResolver struct {
	next   Resolver
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	log    *zap.SugaredLogger
}

func NewCachedResolver(next Resolver, rdb *redis.Client, ttl time.Duration, log *zap.SugaredLogger) *CachedResolver {
	return &CachedResolver{next: next, rdb: rdb, ttl: ttl, prefix: "profile:", log: log}
}

func (c *CachedResolver) Resolve(ctx context.Context, userID string) (Profile, error) {
	key := c.prefix + userID
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p Profile
		if json.Unmarshal(raw, &p) == nil && p.DisplayName != "" {
			return p, nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.Debugw("profile cache get failed", "user_id", userID, "err", err)
	}

	p, err := c.next.Resolve(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	if b, err := json.Marshal(p); err == nil {
		if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
			c.log.Debugw("profile cache set failed", "user_id", userID, "err", err)
		}
	}
	return p, nil
}
