// Package client is the engine-side view of the ledger store: an HTTP
// implementation of domain.Store routed through the request coordinator
// (dedup, throttle, retry, cache), plus the optimistic ledger view that
// keeps the local display correct while calls are in flight.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/hisab-network/hisab/internal/coordinator"
	"github.com/hisab-network/hisab/internal/domain"
	"github.com/hisab-network/hisab/internal/infra/observability"
)

// Ensure Client implements the store contract.
var _ domain.Store = (*Client)(nil)

// Client talks to a ledger store server over HTTP.
type Client struct {
	coord   *coordinator.Coordinator
	metrics *observability.Metrics

	mu    sync.Mutex
	token string
}

// New creates a client for the store at baseURL. metrics may be nil.
func New(baseURL string, cfg coordinator.Config, metrics *observability.Metrics, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c := &Client{metrics: metrics}
	transport := &httpTransport{
		base:   baseURL,
		client: httpClient,
		token:  c.currentToken,
	}
	if cfg.OnAuthFailure == nil {
		cfg.OnAuthFailure = c.clearToken
	}
	c.coord = coordinator.New(cfg, transport, metrics)
	return c
}

// SetToken installs the bearer credential used on every call. A 401 from
// the store clears it; the failure is surfaced, not retried.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) clearToken() { c.SetToken("") }

func (c *Client) count(fn func(*observability.Metrics)) {
	if c.metrics != nil {
		fn(c.metrics)
	}
}

// ─── Store Operations ───────────────────────────────────────────────────────

// UpsertParty creates or updates a party. Party management is outside
// the engine core; this exists for seeding and administration.
func (c *Client) UpsertParty(ctx context.Context, p *domain.Party) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode party: %w", err)
	}
	_, err = c.coord.Do(ctx, &coordinator.Request{
		Method:     http.MethodPost,
		Endpoint:   "/v1/parties",
		Body:       body,
		Invalidate: []string{"GET " + partyPath(p.Name)},
	})
	if err != nil {
		return fmt.Errorf("upsert party %q: %w", p.Name, err)
	}
	return nil
}

func partyPath(name string) string {
	return "/v1/parties/" + url.PathEscape(name)
}

// GetParty resolves a party by name.
func (c *Client) GetParty(ctx context.Context, name string) (*domain.Party, error) {
	resp, err := c.coord.Do(ctx, &coordinator.Request{
		Method:   http.MethodGet,
		Endpoint: partyPath(name),
		Read:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("get party %q: %w", name, err)
	}
	var p domain.Party
	if err := json.Unmarshal(resp.Body, &p); err != nil {
		return nil, fmt.Errorf("decode party: %w", err)
	}
	return &p, nil
}

// GetPartyLedger loads all entries for one party, throttled and cached
// per party so rapid repeated loads collapse into few network calls.
func (c *Client) GetPartyLedger(ctx context.Context, partyName string) ([]domain.LedgerEntry, error) {
	resp, err := c.coord.Do(ctx, &coordinator.Request{
		Method:      http.MethodGet,
		Endpoint:    partyPath(partyName) + "/ledger",
		Read:        true,
		ThrottleKey: domain.NormalizeName(partyName),
	})
	if err != nil {
		return nil, fmt.Errorf("get ledger %q: %w", partyName, err)
	}
	var entries []domain.LedgerEntry
	if err := json.Unmarshal(resp.Body, &entries); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	return entries, nil
}

// CreateEntry posts one entry and invalidates the owning party's cached
// reads before returning.
func (c *Client) CreateEntry(ctx context.Context, entry *domain.LedgerEntry) (*domain.LedgerEntry, error) {
	body, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	resp, err := c.coord.Do(ctx, &coordinator.Request{
		Method:      http.MethodPost,
		Endpoint:    "/v1/entries",
		Body:        body,
		ThrottleKey: domain.NormalizeName(entry.PartyName),
		Invalidate:  []string{"GET " + partyPath(entry.PartyName)},
	})
	if err != nil {
		return nil, fmt.Errorf("create entry: %w", err)
	}
	var created domain.LedgerEntry
	if err := json.Unmarshal(resp.Body, &created); err != nil {
		return nil, fmt.Errorf("decode created entry: %w", err)
	}
	c.count(func(m *observability.Metrics) { m.EntriesPosted.Inc() })
	return &created, nil
}

// UpdateEntry applies a partial update. Settled entries fail with
// ErrOldRecordProtected; a diverged balance fails with
// ErrBalanceMismatch, and the caller should refresh from the server.
func (c *Client) UpdateEntry(ctx context.Context, id string, patch domain.EntryPatch) (*domain.LedgerEntry, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}
	resp, err := c.coord.Do(ctx, &coordinator.Request{
		Method:     http.MethodPatch,
		Endpoint:   "/v1/entries/" + url.PathEscape(id),
		Body:       body,
		Invalidate: []string{"GET /v1/parties/"},
	})
	if err != nil {
		return nil, fmt.Errorf("update entry %s: %w", id, err)
	}
	var updated domain.LedgerEntry
	if err := json.Unmarshal(resp.Body, &updated); err != nil {
		return nil, fmt.Errorf("decode updated entry: %w", err)
	}
	return &updated, nil
}

// DeleteEntry removes an entry, cascading to its transfer group. A 404
// from the store means the entry is already gone: that is a success
// no-op, not an error.
func (c *Client) DeleteEntry(ctx context.Context, id string) (*domain.DeleteResult, error) {
	resp, err := c.coord.Do(ctx, &coordinator.Request{
		Method:     http.MethodDelete,
		Endpoint:   "/v1/entries/" + url.PathEscape(id),
		Invalidate: []string{"GET /v1/parties/"},
	})
	if coordinator.IsStatus(err, http.StatusNotFound) {
		return &domain.DeleteResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete entry %s: %w", id, err)
	}

	var out struct {
		domain.DeleteResult
		Code string `json:"code,omitempty"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode delete result: %w", err)
	}
	if out.Code == domain.CodeCascadeDeleteFailed {
		// The primary row is gone; related rows need manual follow-up.
		return &out.DeleteResult, domain.ErrCascadeDeleteFailed
	}
	return &out.DeleteResult, nil
}

// Settle runs Monday Final for the named parties.
func (c *Client) Settle(ctx context.Context, partyNames []string) (*domain.SettleResult, error) {
	body, err := json.Marshal(map[string][]string{"parties": partyNames})
	if err != nil {
		return nil, fmt.Errorf("encode settle request: %w", err)
	}
	resp, err := c.coord.Do(ctx, &coordinator.Request{
		Method:     http.MethodPost,
		Endpoint:   "/v1/settlements",
		Body:       body,
		Invalidate: []string{"GET /v1/parties/"},
	})
	if err != nil {
		return nil, fmt.Errorf("settle: %w", err)
	}
	var out domain.SettleResult
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode settle result: %w", err)
	}
	c.count(func(m *observability.Metrics) { m.SettlementsTotal.WithLabelValues("settle").Inc() })
	return &out, nil
}

// ListSettlements fetches settlement records, optionally for one party.
func (c *Client) ListSettlements(ctx context.Context, partyName string) ([]domain.SettlementRecord, error) {
	endpoint := "/v1/settlements"
	if partyName != "" {
		endpoint += "?party=" + url.QueryEscape(partyName)
	}
	resp, err := c.coord.Do(ctx, &coordinator.Request{
		Method:   http.MethodGet,
		Endpoint: endpoint,
		Read:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	var out []domain.SettlementRecord
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode settlements: %w", err)
	}
	return out, nil
}

// DeleteSettlement reverses one Monday Final record.
func (c *Client) DeleteSettlement(ctx context.Context, settlementID string) (*domain.UnsettleResult, error) {
	resp, err := c.coord.Do(ctx, &coordinator.Request{
		Method:     http.MethodDelete,
		Endpoint:   "/v1/settlements/" + url.PathEscape(settlementID),
		Invalidate: []string{"GET /v1/parties/"},
	})
	if err != nil {
		return nil, fmt.Errorf("delete settlement %s: %w", settlementID, err)
	}
	var out domain.UnsettleResult
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode unsettle result: %w", err)
	}
	c.count(func(m *observability.Metrics) { m.SettlementsTotal.WithLabelValues("unsettle").Inc() })
	return &out, nil
}

// ─── HTTP Transport ─────────────────────────────────────────────────────────

// httpTransport performs the raw round trips for the coordinator.
type httpTransport struct {
	base   string
	client *http.Client
	token  func() string
}

func (t *httpTransport) RoundTrip(ctx context.Context, req *coordinator.Request) (*coordinator.Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, t.base+req.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if tok := t.token(); tok != "" {
		httpReq.Header.Set("Authorization", "Bearer "+tok)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &coordinator.Response{
		Status:     httpResp.StatusCode,
		Body:       data,
		RetryAfter: parseRetryAfter(httpResp.Header.Get("Retry-After")),
	}, nil
}

// parseRetryAfter handles the delay-seconds form of the header; the
// HTTP-date form is rare enough to ignore here.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
