package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
	"github.com/ChaneHaDa/stock-batch-server/pkg/redis"
)

const (
	defaultTimeout  = 30 * time.Second
	errorBodyLimit  = 512
	defaultRetries  = 3
	defaultBackoff  = time.Second
	defaultMaxDelay = 10 * time.Second
)

// limiter is satisfied by *rate.Limiter and by sharedLimit
type limiter interface {
	Wait(ctx context.Context) error
}

// sharedLimit binds a Redis window so every instance shares one quota
type sharedLimit struct {
	rl  *redis.RateLimiter
	cfg redis.RateLimitConfig
}

func (s sharedLimit) Wait(ctx context.Context) error { return s.rl.Wait(ctx, s.cfg) }

// RetryPolicy is exponential backoff capped at MaxDelay. MaxRetries 0
// disables retries.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Client is the outbound HTTP client for external price APIs. Every attempt,
// retries included, first takes a slot from the configured limiter.
// ⭐ SSOT: 모든 외부 HTTP 요청은 이 클라이언트를 통해서만 수행
type Client struct {
	hc      *http.Client
	logger  *logger.Logger
	retry   RetryPolicy
	limiter limiter
}

// New returns a client with a 30s timeout and 3 retries
// ⭐ SSOT: http.Client 인스턴스는 여기서만 생성
func New(log *logger.Logger) *Client {
	return &Client{
		hc:     &http.Client{Timeout: defaultTimeout},
		logger: log.WithField("module", "httputil"),
		retry: RetryPolicy{
			MaxRetries:   defaultRetries,
			InitialDelay: defaultBackoff,
			MaxDelay:     defaultMaxDelay,
		},
	}
}

func (c *Client) WithTimeout(d time.Duration) *Client {
	c.hc.Timeout = d
	return c
}

func (c *Client) WithRetry(maxRetries int, initialDelay time.Duration) *Client {
	c.retry.MaxRetries = maxRetries
	c.retry.InitialDelay = initialDelay
	return c
}

// WithLocalLimit installs an in-process token bucket of rps requests per second
func (c *Client) WithLocalLimit(rps int) *Client {
	if rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}
	return c
}

// WithRateLimiter replaces any local bucket with a Redis-backed shared window
func (c *Client) WithRateLimiter(rl *redis.RateLimiter, cfg redis.RateLimitConfig) *Client {
	c.limiter = sharedLimit{rl: rl, cfg: cfg}
	return c
}

// Get issues a GET with rate limiting and retries. The caller closes the body.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build GET request: %w", err)
	}
	return c.do(req)
}

// GetJSON decodes a 2xx JSON body into dest; other statuses yield *StatusError
func (c *Client) GetJSON(ctx context.Context, url string, dest interface{}) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	start := time.Now()
	log := c.logger.WithFields(map[string]interface{}{
		"method": req.Method,
		"url":    logURL(req.URL),
	})

	delay := c.retry.InitialDelay
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := c.hc.Do(req)
		retryable := err != nil || IsRetryableError(resp.StatusCode)
		if !retryable || attempt >= c.retry.MaxRetries || ctx.Err() != nil {
			if err != nil {
				log.WithFields(map[string]interface{}{
					"attempts": attempt + 1,
					"duration": time.Since(start).String(),
					"error":    err.Error(),
				}).Error("HTTP request failed")
				return nil, err
			}
			log.WithFields(map[string]interface{}{
				"status_code": resp.StatusCode,
				"attempts":    attempt + 1,
				"duration":    time.Since(start).String(),
			}).Debug("HTTP request completed")
			return resp, nil
		}

		wait := delay
		if resp != nil {
			if ra, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
				wait = ra
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		if wait > c.retry.MaxDelay {
			wait = c.retry.MaxDelay
		}

		log.WithFields(map[string]interface{}{
			"attempt": attempt + 1,
			"delay":   wait.String(),
		}).Warn("Retrying HTTP request")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}

		delay *= 2
		if delay > c.retry.MaxDelay {
			delay = c.retry.MaxDelay
		}
	}
}

// IsRetryableError reports whether a status is worth another attempt (5xx, 429)
func IsRetryableError(statusCode int) bool {
	return statusCode >= 500 || statusCode == http.StatusTooManyRequests
}

// retryAfter parses the delta-seconds form of Retry-After
func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// logURL drops the query string; API keys travel there
func logURL(u *neturl.URL) string {
	c := *u
	c.RawQuery = ""
	c.User = nil
	return c.String()
}
