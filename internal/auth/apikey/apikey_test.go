package apikey

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/ratelimit"
)

type fakeKeys struct {
	keys    map[string]*KeyInfo
	created []string
	fail    error
}

func (f *fakeKeys) Validate(_ context.Context, raw string) (*KeyInfo, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	info, ok := f.keys[raw]
	if !ok {
		return nil, ErrInvalidKey
	}
	if info.Expired(time.Now()) {
		return nil, ErrExpiredKey
	}
	return info, nil
}

func (f *fakeKeys) CreateKey(_ context.Context, name string, rateLimit int, expiresAt *time.Time) (string, error) {
	if name == "" {
		return "", apperrors.ErrInvalidInput
	}
	f.created = append(f.created, name)
	return "raw-" + name, nil
}

func (f *fakeKeys) ListKeys(context.Context) ([]KeyInfo, error) {
	out := make([]KeyInfo, 0, len(f.keys))
	for _, k := range f.keys {
		out = append(out, *k)
	}
	return out, nil
}

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if info := FromContext(r.Context()); info != nil {
		w.Header().Set("X-Key-Name", info.Name)
	}
	w.WriteHeader(http.StatusOK)
})

func TestAuthenticate(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	keys := &fakeKeys{keys: map[string]*KeyInfo{
		"good": {ID: "1", Name: "reports"},
		"old":  {ID: "2", Name: "legacy", ExpiresAt: &past},
	}}
	h := Authenticate(keys)(ok)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		status int
		who    string
	}{
		{"bearer", "/api/v1/search", map[string]string{"Authorization": "Bearer good"}, http.StatusOK, "reports"},
		{"header", "/api/v1/search", map[string]string{"X-API-Key": "good"}, http.StatusOK, "reports"},
		{"query", "/api/v1/search?api_key=good", nil, http.StatusOK, "reports"},
		{"missing", "/api/v1/search", nil, http.StatusUnauthorized, ""},
		{"unknown", "/api/v1/search", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized, ""},
		{"expired", "/api/v1/search", map[string]string{"X-API-Key": "old"}, http.StatusUnauthorized, ""},
		{"health exempt", "/health/ready", nil, http.StatusOK, ""},
		{"metrics exempt", "/metrics", nil, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Errorf("status = %d, want %d", rr.Code, tt.status)
			}
			if got := rr.Header().Get("X-Key-Name"); got != tt.who {
				t.Errorf("key name = %q, want %q", got, tt.who)
			}
		})
	}
}

func TestAuthenticateBackendError(t *testing.T) {
	h := Authenticate(&fakeKeys{fail: errors.New("db down")})(ok)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	req.Header.Set("X-API-Key", "any")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusInternalServerError || strings.Contains(rr.Body.String(), "db down") {
		t.Errorf("status = %d body = %s", rr.Code, rr.Body)
	}
}

func TestKeyRateLimit(t *testing.T) {
	keys := &fakeKeys{keys: map[string]*KeyInfo{
		"tight": {ID: "1", RateLimit: 2},
		"open":  {ID: "2"},
	}}
	h := Authenticate(keys)(KeyRateLimit(ratelimit.New(100, time.Hour))(ok))
	send := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
		req.Header.Set("X-API-Key", key)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	for i := range 2 {
		if code := send("tight"); code != http.StatusOK {
			t.Fatalf("request %d = %d", i, code)
		}
	}
	if code := send("tight"); code != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", code)
	}
	for range 5 {
		if code := send("open"); code != http.StatusOK {
			t.Fatalf("unlimited key got %d", code)
		}
	}
}

func TestAdminHandler(t *testing.T) {
	keys := &fakeKeys{keys: map[string]*KeyInfo{"k": {ID: "1", Name: "existing"}}}
	h := NewAdminHandler(keys)

	rr := httptest.NewRecorder()
	h.CreateKey(rr, httptest.NewRequest(http.MethodPost, "/api/v1/admin/keys",
		strings.NewReader(`{"name":"etl","rate_limit":50,"expires_in":"24h"}`)))
	var created map[string]any
	json.NewDecoder(rr.Body).Decode(&created)
	if rr.Code != http.StatusCreated || created["key"] != "raw-etl" || created["expires_at"] == nil {
		t.Errorf("create = %d %v", rr.Code, created)
	}

	for _, body := range []string{`{"name":""}`, `{"name":"x","expires_in":"soon"}`, `{"name":"x","rate_limit":-1}`, `nope`} {
		rr = httptest.NewRecorder()
		h.CreateKey(rr, httptest.NewRequest(http.MethodPost, "/api/v1/admin/keys", strings.NewReader(body)))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("create %s = %d, want 400", body, rr.Code)
		}
	}

	rr = httptest.NewRecorder()
	h.ListKeys(rr, httptest.NewRequest(http.MethodGet, "/api/v1/admin/keys", nil))
	var list []KeyInfo
	json.NewDecoder(rr.Body).Decode(&list)
	if len(list) != 1 || list[0].Name != "existing" {
		t.Errorf("list = %+v", list)
	}
}

func TestHashKey(t *testing.T) {
	if HashKey("a") == HashKey("b") || len(HashKey("a")) != 64 {
		t.Error("unexpected digest")
	}
	raw, err := generateRawKey()
	if err != nil || len(raw) != 64 {
		t.Errorf("raw key %q: %v", raw, err)
	}
	if !errors.Is(ErrExpiredKey, apperrors.ErrUnauthorized) {
		t.Error("expired key should be unauthorized")
	}
}
