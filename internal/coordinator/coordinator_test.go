package coordinator

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hisab-network/hisab/internal/domain"
)

// ─── Scripted Transport ─────────────────────────────────────────────────────

type step struct {
	resp *Response
	err  error
}

// scriptTransport replays a fixed sequence of outcomes, repeating the
// last one once exhausted.
type scriptTransport struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (s *scriptTransport) RoundTrip(_ context.Context, _ *Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	return s.steps[i].resp, s.steps[i].err
}

func (s *scriptTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func ok(body string) step {
	return step{resp: &Response{Status: http.StatusOK, Body: []byte(body)}}
}

func status(code int, body string) step {
	return step{resp: &Response{Status: code, Body: []byte(body)}}
}

func fastConfig() Config {
	return Config{
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		MinInterval: time.Millisecond,
	}
}

// ─── Retry Classification ───────────────────────────────────────────────────

func TestDoSuccess(t *testing.T) {
	tr := &scriptTransport{steps: []step{ok(`{"hello":1}`)}}
	c := New(fastConfig(), tr, nil)

	resp, err := c.Do(context.Background(), &Request{Method: "GET", Endpoint: "/x"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Status != http.StatusOK || string(resp.Body) != `{"hello":1}` {
		t.Errorf("resp = %+v", resp)
	}
	if tr.callCount() != 1 {
		t.Errorf("calls = %d, want 1", tr.callCount())
	}
}

func TestRetryOnServerError(t *testing.T) {
	tr := &scriptTransport{steps: []step{
		status(http.StatusInternalServerError, ""),
		status(http.StatusBadGateway, ""),
		ok("{}"),
	}}
	c := New(fastConfig(), tr, nil)

	resp, err := c.Do(context.Background(), &Request{Method: "GET", Endpoint: "/x"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.Status)
	}
	if tr.callCount() != 3 {
		t.Errorf("calls = %d, want 3", tr.callCount())
	}
}

func TestRetriesExhausted(t *testing.T) {
	tr := &scriptTransport{steps: []step{status(http.StatusInternalServerError, "")}}
	cfg := fastConfig()
	cfg.MaxAttempts = 3
	c := New(cfg, tr, nil)

	_, err := c.Do(context.Background(), &Request{Method: "GET", Endpoint: "/x"})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("Do() error = %v, want ErrStoreUnavailable", err)
	}
	if tr.callCount() != 3 {
		t.Errorf("calls = %d, want exactly MaxAttempts", tr.callCount())
	}
}

func TestRateLimitHonorsRetryAfter(t *testing.T) {
	tr := &scriptTransport{steps: []step{
		{resp: &Response{Status: http.StatusTooManyRequests, RetryAfter: 2 * time.Millisecond}},
		ok("{}"),
	}}
	c := New(fastConfig(), tr, nil)

	start := time.Now()
	resp, err := c.Do(context.Background(), &Request{Method: "GET", Endpoint: "/x"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("status = %d", resp.Status)
	}
	if elapsed := time.Since(start); elapsed < 2*time.Millisecond {
		t.Errorf("returned after %v, should have waited at least the Retry-After hint", elapsed)
	}
	if tr.callCount() != 2 {
		t.Errorf("calls = %d, want 2", tr.callCount())
	}
}

func TestRateLimitExhaustionNamesRateLimiting(t *testing.T) {
	tr := &scriptTransport{steps: []step{status(http.StatusTooManyRequests, "")}}
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	c := New(cfg, tr, nil)

	_, err := c.Do(context.Background(), &Request{Method: "GET", Endpoint: "/x"})
	if !errors.Is(err, domain.ErrStoreUnavailable) || !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("Do() error = %v, want both ErrStoreUnavailable and ErrRateLimited", err)
	}
}

func TestBusinessErrorNoRetry(t *testing.T) {
	tr := &scriptTransport{steps: []step{
		status(http.StatusUnprocessableEntity, `{"code":"BALANCE_MISMATCH","error":"diverged"}`),
	}}
	c := New(fastConfig(), tr, nil)

	_, err := c.Do(context.Background(), &Request{Method: "PATCH", Endpoint: "/x"})
	if !errors.Is(err, domain.ErrBalanceMismatch) {
		t.Fatalf("Do() error = %v, want ErrBalanceMismatch", err)
	}
	if !IsStatus(err, http.StatusUnprocessableEntity) {
		t.Errorf("IsStatus(422) = false for %v", err)
	}
	if tr.callCount() != 1 {
		t.Errorf("calls = %d, business failures must not retry", tr.callCount())
	}
}

func TestUnauthorizedInvalidatesCredentials(t *testing.T) {
	tr := &scriptTransport{steps: []step{status(http.StatusUnauthorized, "")}}
	var invalidated atomic.Bool
	cfg := fastConfig()
	cfg.OnAuthFailure = func() { invalidated.Store(true) }
	c := New(cfg, tr, nil)

	_, err := c.Do(context.Background(), &Request{Method: "GET", Endpoint: "/x"})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("Do() error = %v, want ErrUnauthorized", err)
	}
	if !invalidated.Load() {
		t.Error("OnAuthFailure was not called")
	}
	if tr.callCount() != 1 {
		t.Errorf("calls = %d, a 401 must not retry", tr.callCount())
	}
}

func TestNetworkErrorRetries(t *testing.T) {
	tr := &scriptTransport{steps: []step{
		{err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}},
		ok("{}"),
	}}
	c := New(fastConfig(), tr, nil)

	resp, err := c.Do(context.Background(), &Request{Method: "GET", Endpoint: "/x"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Status != http.StatusOK || tr.callCount() != 2 {
		t.Errorf("status=%d calls=%d, want 200/2", resp.Status, tr.callCount())
	}
}

// cancelingTransport fails its first call and cancels the caller's
// context, so the retry wait must abort.
type cancelingTransport struct {
	cancel context.CancelFunc
	calls  atomic.Int32
}

func (c *cancelingTransport) RoundTrip(_ context.Context, _ *Request) (*Response, error) {
	c.calls.Add(1)
	c.cancel()
	return &Response{Status: http.StatusInternalServerError}, nil
}

func TestCanceledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := &cancelingTransport{cancel: cancel}
	c := New(fastConfig(), tr, nil)

	_, err := c.Do(ctx, &Request{Method: "GET", Endpoint: "/x"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if got := tr.calls.Load(); got != 1 {
		t.Errorf("calls = %d, cancellation during the retry wait must stop the loop", got)
	}
}

// ─── Call Timeout ───────────────────────────────────────────────────────────

// blockingTransport parks until its context expires.
type blockingTransport struct {
	calls atomic.Int32
}

func (b *blockingTransport) RoundTrip(ctx context.Context, _ *Request) (*Response, error) {
	b.calls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCallTimeoutClassified(t *testing.T) {
	tr := &blockingTransport{}
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	cfg.CallTimeout = 5 * time.Millisecond
	c := New(cfg, tr, nil)

	_, err := c.Do(context.Background(), &Request{Method: "GET", Endpoint: "/slow"})
	if !errors.Is(err, domain.ErrStoreUnavailable) || !errors.Is(err, domain.ErrCallTimeout) {
		t.Fatalf("Do() error = %v, want ErrStoreUnavailable wrapping ErrCallTimeout", err)
	}
	if got := tr.calls.Load(); got != 2 {
		t.Errorf("calls = %d, timeouts should retry up to MaxAttempts", got)
	}
}

// ─── Deduplication ──────────────────────────────────────────────────────────

// slowTransport answers after a fixed delay, counting calls.
type slowTransport struct {
	delay time.Duration
	calls atomic.Int32
}

func (s *slowTransport) RoundTrip(ctx context.Context, _ *Request) (*Response, error) {
	s.calls.Add(1)
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Response{Status: http.StatusOK, Body: []byte("{}")}, nil
}

func TestIdenticalConcurrentRequestsShareOneCall(t *testing.T) {
	tr := &slowTransport{delay: 50 * time.Millisecond}
	c := New(fastConfig(), tr, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.Do(context.Background(), &Request{Method: "GET", Endpoint: "/dup"})
			if err != nil || resp.Status != http.StatusOK {
				t.Errorf("Do() = %v, %v", resp, err)
			}
		}()
	}
	wg.Wait()

	if got := tr.calls.Load(); got != 1 {
		t.Errorf("transport calls = %d, want 1 for identical concurrent requests", got)
	}
}

func TestDifferentKeysAreNotDeduplicated(t *testing.T) {
	a := &Request{Method: "GET", Endpoint: "/x"}
	b := &Request{Method: "GET", Endpoint: "/x", Body: []byte(`{"n":1}`)}
	if a.Key() == b.Key() {
		t.Error("different bodies must produce different keys")
	}
	c := &Request{Method: "POST", Endpoint: "/x"}
	if a.Key() == c.Key() {
		t.Error("different methods must produce different keys")
	}
}

// ─── Concurrency Cap ────────────────────────────────────────────────────────

// gaugeTransport tracks the highest number of simultaneous round trips.
type gaugeTransport struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (g *gaugeTransport) RoundTrip(ctx context.Context, _ *Request) (*Response, error) {
	g.mu.Lock()
	g.current++
	if g.current > g.peak {
		g.peak = g.current
	}
	g.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	g.mu.Lock()
	g.current--
	g.mu.Unlock()
	return &Response{Status: http.StatusOK}, nil
}

func TestMaxInFlightCapsConcurrency(t *testing.T) {
	tr := &gaugeTransport{}
	cfg := fastConfig()
	cfg.MaxInFlight = 2
	c := New(cfg, tr, nil)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		endpoint := "/item/" + string(rune('a'+i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Do(context.Background(), &Request{Method: "GET", Endpoint: endpoint}); err != nil {
				t.Errorf("Do() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if tr.peak > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", tr.peak)
	}
}

// ─── Caching and Invalidation ───────────────────────────────────────────────

func TestReadCacheHit(t *testing.T) {
	tr := &scriptTransport{steps: []step{ok(`[1]`)}}
	c := New(fastConfig(), tr, nil)
	req := &Request{Method: "GET", Endpoint: "/v1/parties/alice/ledger", Read: true}

	for i := 0; i < 3; i++ {
		resp, err := c.Do(context.Background(), req)
		if err != nil || string(resp.Body) != `[1]` {
			t.Fatalf("Do() = %v, %v", resp, err)
		}
	}
	if tr.callCount() != 1 {
		t.Errorf("calls = %d, repeated reads inside the TTL must hit the cache", tr.callCount())
	}
}

func TestReadCacheExpires(t *testing.T) {
	tr := &scriptTransport{steps: []step{ok(`[1]`)}}
	cfg := fastConfig()
	cfg.CacheTTL = 5 * time.Millisecond
	c := New(cfg, tr, nil)
	req := &Request{Method: "GET", Endpoint: "/v1/parties/alice/ledger", Read: true}

	if _, err := c.Do(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := c.Do(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if tr.callCount() != 2 {
		t.Errorf("calls = %d, expired entries must refetch", tr.callCount())
	}
}

func TestWriteInvalidatesCachePrefix(t *testing.T) {
	tr := &scriptTransport{steps: []step{ok(`[1]`)}}
	c := New(fastConfig(), tr, nil)

	read := &Request{Method: "GET", Endpoint: "/v1/parties/alice/ledger", Read: true}
	if _, err := c.Do(context.Background(), read); err != nil {
		t.Fatal(err)
	}

	write := &Request{
		Method:     "POST",
		Endpoint:   "/v1/entries",
		Body:       []byte(`{"party_name":"alice"}`),
		Invalidate: []string{"GET /v1/parties/alice"},
	}
	if _, err := c.Do(context.Background(), write); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Do(context.Background(), read); err != nil {
		t.Fatal(err)
	}
	if tr.callCount() != 3 {
		t.Errorf("calls = %d, the write must invalidate alice's cached reads", tr.callCount())
	}
}

func TestWriteWithoutInvalidationKeepsOtherCaches(t *testing.T) {
	tr := &scriptTransport{steps: []step{ok(`[1]`)}}
	c := New(fastConfig(), tr, nil)

	read := &Request{Method: "GET", Endpoint: "/v1/parties/bob/ledger", Read: true}
	if _, err := c.Do(context.Background(), read); err != nil {
		t.Fatal(err)
	}

	write := &Request{
		Method:     "POST",
		Endpoint:   "/v1/entries",
		Body:       []byte(`{"party_name":"alice"}`),
		Invalidate: []string{"GET /v1/parties/alice"},
	}
	if _, err := c.Do(context.Background(), write); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Do(context.Background(), read); err != nil {
		t.Fatal(err)
	}
	if tr.callCount() != 2 {
		t.Errorf("calls = %d, bob's cache must survive alice's write", tr.callCount())
	}
}

// ─── Throttling ─────────────────────────────────────────────────────────────

func TestThrottleSpacesRepeatedCalls(t *testing.T) {
	tr := &scriptTransport{steps: []step{ok("{}")}}
	cfg := fastConfig()
	cfg.MinInterval = 30 * time.Millisecond
	c := New(cfg, tr, nil)

	start := time.Now()
	for i := 0; i < 3; i++ {
		req := &Request{Method: "POST", Endpoint: "/v1/entries", Body: []byte{byte('0' + i)}, ThrottleKey: "alice"}
		if _, err := c.Do(context.Background(), req); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("3 throttled calls finished in %v, want at least 2 intervals", elapsed)
	}
	if tr.callCount() != 3 {
		t.Errorf("calls = %d, throttling defers, never drops", tr.callCount())
	}
}

func TestStatusErrorUnwrap(t *testing.T) {
	se := &StatusError{Status: 409, Code: domain.CodeOldRecordProtected, Message: "settled"}
	if !errors.Is(se, domain.ErrOldRecordProtected) {
		t.Error("StatusError should unwrap to its domain sentinel")
	}
	plain := &StatusError{Status: 500}
	if plain.Error() == "" {
		t.Error("codeless StatusError should still describe itself")
	}
}
