package api

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/fathima-sithara/order-messaging/internal/auth"
	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/fathima-sithara/order-messaging/internal/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TokenValidator is satisfied by auth.JWTValidator.
type TokenValidator interface {
	Validate(token string) (auth.Identity, error)
}

// JWTAuth requires a bearer token. WebSocket upgrades may pass it as ?token=
// since browsers cannot set headers on them.
func JWTAuth(jv TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := ""
		if hdr := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(hdr, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(hdr, "Bearer "))
		}
		if token == "" && websocket.IsWebSocketUpgrade(c) {
			token = c.Query("token")
		}
		if token == "" {
			return utils.JSONFailure(c, fiber.StatusUnauthorized, "unauthenticated", "missing auth", false, nil)
		}
		id, err := jv.Validate(token)
		if err != nil {
			return utils.JSONFailure(c, fiber.StatusUnauthorized, "unauthenticated", "invalid token", false, nil)
		}
		c.Locals("user_id", id.UserID)
		c.Locals("role", string(id.Role))
		return c.Next()
	}
}

// identity reads what JWTAuth stored on the request.
func identity(c *fiber.Ctx) auth.Identity {
	uid, _ := c.Locals("user_id").(string)
	role, _ := c.Locals("role").(string)
	return auth.Identity{UserID: uid, Role: domain.Role(role)}
}

// UserRateLimiter keeps one token bucket per authenticated user, falling back
// to the client IP.
type UserRateLimiter struct {
	visitors sync.Map
	rps      rate.Limit
	burst    int
	log      *zap.SugaredLogger
	done     chan struct{}
	once     sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

// NewUserRateLimiter allows perMinute requests per key; zero or less disables limiting.
func NewUserRateLimiter(perMinute int, log *zap.SugaredLogger) *UserRateLimiter {
	rps := rate.Inf
	if perMinute > 0 {
		rps = rate.Limit(float64(perMinute) / 60.0)
	}
	l := &UserRateLimiter{
		rps:   rps,
		burst: 10,
		log:   log,
		done:  make(chan struct{}),
	}
	go l.cleanupVisitors()
	return l
}

func (l *UserRateLimiter) getLimiter(key string) *rate.Limiter {
	v, _ := l.visitors.LoadOrStore(key, &visitor{limiter: rate.NewLimiter(l.rps, l.burst)})
	vi := v.(*visitor)
	vi.mu.Lock()
	vi.lastSeen = time.Now()
	vi.mu.Unlock()
	return vi.limiter
}

func (l *UserRateLimiter) cleanupVisitors() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
		}
		cutoff := time.Now().Add(-5 * time.Minute)
		l.visitors.Range(func(k, v interface{}) bool {
			vi := v.(*visitor)
			vi.mu.Lock()
			stale := vi.lastSeen.Before(cutoff)
			vi.mu.Unlock()
			if stale {
				l.visitors.Delete(k)
			}
			return true
		})
	}
}

func (l *UserRateLimiter) Close() {
	l.once.Do(func() { close(l.done) })
}

func (l *UserRateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, _ := c.Locals("user_id").(string)
		if key == "" {
			key = clientIP(c)
		}
		if !l.getLimiter(key).Allow() {
			l.log.Warnw("rate limit exceeded", "key", key, "path", c.Path())
			return utils.JSONFailure(c, fiber.StatusTooManyRequests, "rate_limited", "rate limit exceeded", true, nil)
		}
		return c.Next()
	}
}

func clientIP(c *fiber.Ctx) string {
	ip := c.IP()
	if ip == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}
