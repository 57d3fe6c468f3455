package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hisab-network/hisab/internal/coordinator"
	"github.com/hisab-network/hisab/internal/domain"
)

func fastConfig() coordinator.Config {
	return coordinator.Config{
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		MinInterval: time.Millisecond,
		CallTimeout: 2 * time.Second,
	}
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return New(ts.URL, fastConfig(), nil, nil)
}

func TestGetParty(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/parties/Alice" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(domain.Party{Name: "Alice", Status: domain.PartyActive})
	}))

	p, err := c.GetParty(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("GetParty() error = %v", err)
	}
	if p.Name != "Alice" {
		t.Errorf("party = %+v", p)
	}
}

func TestGetPartyLedger(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]domain.LedgerEntry{
			{ID: "1", PartyName: "Alice", Txn: domain.TxnCredit, Credit: 100},
		})
	}))

	entries, err := c.GetPartyLedger(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("GetPartyLedger() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Credit != 100 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestCreateEntrySendsBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e domain.LedgerEntry
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if e.PartyName != "Alice" || e.Credit != 100 {
			t.Errorf("request entry = %+v", e)
		}
		e.ID = "server-1"
		e.Seq = 1
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(e)
	}))

	created, err := c.CreateEntry(context.Background(), &domain.LedgerEntry{
		PartyName: "Alice", Txn: domain.TxnCredit, Credit: 100,
	})
	if err != nil {
		t.Fatalf("CreateEntry() error = %v", err)
	}
	if created.ID != "server-1" || created.Seq != 1 {
		t.Errorf("created = %+v", created)
	}
}

func TestDeleteEntryNotFoundIsNoOp(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"code": domain.CodeEntryNotFound, "error": "gone"})
	}))

	res, err := c.DeleteEntry(context.Background(), "already-gone")
	if err != nil {
		t.Fatalf("DeleteEntry() error = %v, a 404 delete is success", err)
	}
	if res == nil || res.DeletedCount != 0 {
		t.Errorf("result = %+v, want empty no-op result", res)
	}
}

func TestDeleteEntryCascadeFailure(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"deleted_count":         1,
			"related_deleted_count": 0,
			"code":                  domain.CodeCascadeDeleteFailed,
		})
	}))

	res, err := c.DeleteEntry(context.Background(), "e1")
	if !errors.Is(err, domain.ErrCascadeDeleteFailed) {
		t.Fatalf("DeleteEntry() error = %v, want ErrCascadeDeleteFailed", err)
	}
	if res == nil || res.DeletedCount != 1 {
		t.Errorf("result = %+v, the primary deletion still counts", res)
	}
}

func TestBusinessErrorMapping(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{
			"code": domain.CodeOldRecordProtected, "error": "settled",
		})
	}))

	remarks := "x"
	_, err := c.UpdateEntry(context.Background(), "e1", domain.EntryPatch{Remarks: &remarks})
	if !errors.Is(err, domain.ErrOldRecordProtected) {
		t.Errorf("UpdateEntry() error = %v, want ErrOldRecordProtected", err)
	}
}

func TestUnauthorizedClearsToken(t *testing.T) {
	var sawAuth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	c.SetToken("stale-token")

	_, err := c.GetParty(context.Background(), "Alice")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("GetParty() error = %v, want ErrUnauthorized", err)
	}
	if sawAuth != "Bearer stale-token" {
		t.Errorf("Authorization = %q, want the configured bearer token", sawAuth)
	}
	if c.currentToken() != "" {
		t.Error("a 401 must clear the stored credential")
	}
}

func TestSettle(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string][]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(req["parties"]) != 2 {
			t.Errorf("parties = %v", req["parties"])
		}
		json.NewEncoder(w).Encode(domain.SettleResult{UpdatedCount: 3})
	}))

	res, err := c.Settle(context.Background(), []string{"Alice", "Bob"})
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if res.UpdatedCount != 3 {
		t.Errorf("UpdatedCount = %d, want 3", res.UpdatedCount)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"0", 0},
		{"-1", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
