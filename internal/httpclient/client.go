package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("resource not found")

type Config struct {
	Name            string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	// MaxFailures consecutive failures open the breaker for OpenTimeout.
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Client is a JSON GET client with retries behind a circuit breaker.
type Client struct {
	http *http.Client
	conf Config
	cb   *gobreaker.CircuitBreaker
}

func NewClient(conf Config, log *zap.SugaredLogger) *Client {
	if conf.Timeout <= 0 {
		conf.Timeout = 2 * time.Second
	}
	if conf.RetryMaxElapsed <= 0 {
		conf.RetryMaxElapsed = 2 * time.Second
	}
	if conf.MaxIdleConns <= 0 {
		conf.MaxIdleConns = 32
	}
	if conf.IdleConnTimeout <= 0 {
		conf.IdleConnTimeout = 90 * time.Second
	}
	if conf.MaxFailures == 0 {
		conf.MaxFailures = 5
	}
	if conf.OpenTimeout <= 0 {
		conf.OpenTimeout = 30 * time.Second
	}
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    conf.MaxIdleConns,
		IdleConnTimeout: conf.IdleConnTimeout,
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        conf.Name,
		MaxRequests: 1,
		Timeout:     conf.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= conf.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &Client{
		http: &http.Client{Transport: tr, Timeout: conf.Timeout},
		conf: conf,
		cb:   cb,
	}
}

// GetJSON fetches url and decodes the body into out. 5xx and transport
// errors are retried with exponential backoff; 404 maps to ErrNotFound.
func (c *Client) GetJSON(ctx context.Context, url string, out interface{}) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.getWithRetry(ctx, url, out)
	})
	return err
}

func (c *Client) getWithRetry(ctx context.Context, url string, out interface{}) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrNotFound)
		case resp.StatusCode >= 500:
			_, _ = io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("upstream status %d", resp.StatusCode)
		case resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("upstream status %d", resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = c.conf.RetryMaxElapsed
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

// State exposes the breaker state for health reporting.
func (c *Client) State() string { return c.cb.State().String() }
