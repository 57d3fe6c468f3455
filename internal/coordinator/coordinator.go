// Package coordinator makes every outbound ledger store call safe under
// bursty, duplicate, slow, or flaky conditions.
//
// One Coordinator instance owns all cross-request state: the in-flight
// deduplication group, the TTL response cache, the per-key dispatch
// timestamps, and the concurrency semaphore. Construct it once per
// process and share the handle; mutation happens only on dispatch and in
// guaranteed-cleanup paths, so a crashed request can never leave a key
// permanently blocked.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/hisab-network/hisab/internal/domain"
	"github.com/hisab-network/hisab/internal/infra/observability"
	"golang.org/x/sync/singleflight"
)

// ─── Requests and Responses ─────────────────────────────────────────────────

// Request is one logical call against the ledger store.
type Request struct {
	Method   string
	Endpoint string
	Body     []byte

	// Read marks the call cacheable; its response may be served from and
	// stored into the TTL cache.
	Read bool

	// ThrottleKey serializes calls sharing the key with a minimum
	// inter-request interval (typically the party name). Empty disables
	// throttling for this call.
	ThrottleKey string

	// Invalidate lists cache-key prefixes dropped after a successful
	// write (for example, everything cached for one party).
	Invalidate []string
}

// Key is the logical identity of the request: concurrent calls with equal
// keys share one network round trip.
func (r *Request) Key() string {
	body := strings.TrimSpace(string(r.Body))
	return r.Method + " " + r.Endpoint + " " + body
}

// Response is a raw ledger store reply. Deduplicated callers share one
// Response value and must treat it as read-only.
type Response struct {
	Status     int
	Body       []byte
	RetryAfter time.Duration // server hint on 429, zero when absent
}

// Transport performs one actual network round trip. Transport errors
// (connection refused, timeout) are returned as Go errors; HTTP-level
// failures come back as a Response with a non-2xx status.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

// ─── Status Errors ──────────────────────────────────────────────────────────

// StatusError is a non-2xx reply, carrying the HTTP status and the
// business code parsed from the body when present.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ledger store: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("ledger store: status %d", e.Status)
}

// Unwrap maps the business code back to its domain sentinel, so callers
// can use errors.Is against domain errors.
func (e *StatusError) Unwrap() error { return domain.ErrorForCode(e.Code) }

// IsStatus reports whether err is a StatusError with the given status.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}

// ─── Configuration ──────────────────────────────────────────────────────────

// Config tunes the coordinator. Zero values take defaults.
type Config struct {
	MaxInFlight int           // concurrency cap (default 3)
	MaxAttempts int           // total tries per call (default 4)
	BaseBackoff time.Duration // first retry delay (default 200ms)
	MaxBackoff  time.Duration // backoff ceiling (default 10s)
	CacheTTL    time.Duration // read cache lifetime (default 15s)
	MinInterval time.Duration // per-throttle-key spacing (default 300ms)
	CallTimeout time.Duration // hard per-attempt wall clock (default 10s)

	// OnAuthFailure runs once per 401 so the owner can invalidate
	// credentials. The 401 is surfaced, never retried.
	OnAuthFailure func()
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxInFlight <= 0 {
		out.MaxInFlight = 3
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 4
	}
	if out.BaseBackoff <= 0 {
		out.BaseBackoff = 200 * time.Millisecond
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = 10 * time.Second
	}
	if out.CacheTTL <= 0 {
		out.CacheTTL = 15 * time.Second
	}
	if out.MinInterval <= 0 {
		out.MinInterval = 300 * time.Millisecond
	}
	if out.CallTimeout <= 0 {
		out.CallTimeout = 10 * time.Second
	}
	return out
}

// ─── Coordinator ────────────────────────────────────────────────────────────

type cachedResponse struct {
	resp    *Response
	expires time.Time
}

// Coordinator deduplicates, throttles, retries, caches, and classifies
// calls against the ledger store.
type Coordinator struct {
	cfg       Config
	transport Transport
	metrics   *observability.Metrics
	breaker   *gobreaker.CircuitBreaker
	flight    singleflight.Group
	sem       chan struct{}

	mu           sync.Mutex
	cache        map[string]cachedResponse
	lastDispatch map[string]time.Time

	now func() time.Time
}

// New creates a coordinator around the given transport. metrics may be
// nil (no-op instrumentation).
func New(cfg Config, transport Transport, metrics *observability.Metrics) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		cfg:       cfg,
		transport: transport,
		metrics:   metrics,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "ledger-store",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 8
			},
		}),
		sem:          make(chan struct{}, cfg.MaxInFlight),
		cache:        make(map[string]cachedResponse),
		lastDispatch: make(map[string]time.Time),
		now:          time.Now,
	}
}

// Do executes one logical request. Identical concurrent requests resolve
// from a single network call; reads may come from the TTL cache; writes
// invalidate their declared cache prefixes before returning.
func (c *Coordinator) Do(ctx context.Context, req *Request) (*Response, error) {
	key := req.Key()

	if req.Read {
		if resp := c.cacheGet(key); resp != nil {
			c.count(func(m *observability.Metrics) { m.CacheHitsTotal.Inc() })
			return resp, nil
		}
		c.count(func(m *observability.Metrics) { m.CacheMissesTotal.Inc() })
	}

	start := c.now()
	v, err, shared := c.flight.Do(key, func() (interface{}, error) {
		return c.dispatch(ctx, req)
	})
	if shared {
		c.count(func(m *observability.Metrics) { m.DedupHitsTotal.Inc() })
	}
	c.count(func(m *observability.Metrics) {
		m.RequestDuration.Observe(c.now().Sub(start).Seconds())
	})
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}

// dispatch runs the full slot-acquire / throttle / retry pipeline for one
// deduplicated request.
func (c *Coordinator) dispatch(ctx context.Context, req *Request) (*Response, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	c.count(func(m *observability.Metrics) { m.InFlight.Inc() })
	defer func() {
		<-c.sem
		c.count(func(m *observability.Metrics) { m.InFlight.Dec() })
	}()

	if err := c.throttle(ctx, req.ThrottleKey); err != nil {
		return nil, err
	}

	resp, err := c.attemptLoop(ctx, req)
	if err != nil {
		return nil, err
	}

	key := req.Key()
	if req.Read {
		c.cachePut(key, resp)
	} else {
		c.invalidate(req.Invalidate)
	}
	c.count(func(m *observability.Metrics) { m.RequestsTotal.WithLabelValues("ok").Inc() })
	return resp, nil
}

// attemptLoop retries transient failures with exponential backoff and
// full jitter, honoring Retry-After on 429s. Business failures return
// immediately.
func (c *Coordinator) attemptLoop(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			c.count(func(m *observability.Metrics) { m.RetriesTotal.Inc() })
		}

		resp, err := c.roundTrip(ctx, req)
		switch {
		case err == nil && resp.Status/100 == 2:
			return resp, nil

		case err == nil && resp.Status == 429:
			c.count(func(m *observability.Metrics) { m.RateLimitedTotal.Inc() })
			delay := resp.RetryAfter
			if delay <= 0 {
				delay = exponential(c.cfg.BaseBackoff, attempt)
			} else {
				// Repeated 429s back off beyond the server hint.
				delay += fullJitter(exponential(c.cfg.BaseBackoff, attempt))
			}
			lastErr = fmt.Errorf("attempt %d: %w", attempt+1, domain.ErrRateLimited)
			if err := c.waitRetry(ctx, delay); err != nil {
				return nil, err
			}

		case err == nil && resp.Status == 401:
			if c.cfg.OnAuthFailure != nil {
				c.cfg.OnAuthFailure()
			}
			c.count(func(m *observability.Metrics) { m.RequestsTotal.WithLabelValues("business_error").Inc() })
			return nil, fmt.Errorf("%w: %w", domain.ErrUnauthorized, statusError(resp))

		case err == nil && resp.Status >= 500:
			lastErr = statusError(resp)
			if err := c.waitRetry(ctx, c.retryDelay(attempt)); err != nil {
				return nil, err
			}

		case err == nil:
			// Remaining 4xx are business failures: structured, not retried.
			c.count(func(m *observability.Metrics) { m.RequestsTotal.WithLabelValues("business_error").Inc() })
			return nil, statusError(resp)

		case errors.Is(err, context.DeadlineExceeded):
			lastErr = fmt.Errorf("%w: %v", domain.ErrCallTimeout, err)
			if err := c.waitRetry(ctx, c.retryDelay(attempt)); err != nil {
				return nil, err
			}

		case errors.Is(err, context.Canceled):
			return nil, err

		default:
			// Network-level failure: transient.
			lastErr = err
			if err := c.waitRetry(ctx, c.retryDelay(attempt)); err != nil {
				return nil, err
			}
		}
	}

	c.count(func(m *observability.Metrics) { m.RequestsTotal.WithLabelValues("transport_error").Inc() })
	return nil, fmt.Errorf("%w: retries exhausted: %w", domain.ErrStoreUnavailable, lastErr)
}

// roundTrip performs a single attempt under the per-call timeout and the
// circuit breaker. Only transport-level failures count against the
// breaker; business replies are successes as far as it is concerned.
func (c *Coordinator) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	v, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.transport.RoundTrip(attemptCtx, req)
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if err != nil {
		// Attribute the attempt timeout explicitly.
		if attemptCtx.Err() != nil && ctx.Err() == nil {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	return v.(*Response), nil
}

func (c *Coordinator) retryDelay(attempt int) time.Duration {
	delay := exponential(c.cfg.BaseBackoff, attempt)
	if delay > c.cfg.MaxBackoff {
		delay = c.cfg.MaxBackoff
	}
	return fullJitter(delay)
}

func (c *Coordinator) waitRetry(ctx context.Context, delay time.Duration) error {
	if err := sleepContext(ctx, delay); err != nil {
		return fmt.Errorf("retry wait: %w", err)
	}
	return nil
}

// ─── Throttling ─────────────────────────────────────────────────────────────

// throttle defers (never drops) a call until the minimum inter-request
// interval for its key has elapsed. The slot is reserved under the lock,
// so rapid repeated calls for one party are serialized with even spacing.
func (c *Coordinator) throttle(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	c.mu.Lock()
	now := c.now()
	next := c.lastDispatch[key].Add(c.cfg.MinInterval)
	if next.Before(now) {
		next = now
	}
	c.lastDispatch[key] = next
	c.mu.Unlock()

	return sleepContext(ctx, next.Sub(now))
}

// ─── Response Cache ─────────────────────────────────────────────────────────

func (c *Coordinator) cacheGet(key string) *Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key]
	if !ok || c.now().After(entry.expires) {
		delete(c.cache, key)
		return nil
	}
	return entry.resp
}

func (c *Coordinator) cachePut(key string, resp *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cachedResponse{resp: resp, expires: c.now().Add(c.cfg.CacheTTL)}
}

// invalidate drops every cached response whose key starts with one of the
// given prefixes. Runs before the write's response is returned, so a
// follow-up read cannot observe pre-write state from the cache.
func (c *Coordinator) invalidate(prefixes []string) {
	if len(prefixes) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.cache {
		for _, p := range prefixes {
			if strings.HasPrefix(key, p) {
				delete(c.cache, key)
				break
			}
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (c *Coordinator) count(fn func(*observability.Metrics)) {
	if c.metrics != nil {
		fn(c.metrics)
	}
}

// statusError builds a StatusError from a non-2xx response, parsing the
// standard {"code": ..., "error": ...} body when present.
func statusError(resp *Response) *StatusError {
	se := &StatusError{Status: resp.Status}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		se.Code = body.Code
		se.Message = body.Message
	}
	return se
}
