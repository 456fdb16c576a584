package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	return true, nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func adminPost(path, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	return req
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	return payload.Error.Code
}

func TestIdempotencyTTLSelection(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   time.Duration
		ok     bool
	}{
		{"charge", http.MethodPost, "/api/admin/v1/wallet/agreements/agr_1/charges", 7 * 24 * time.Hour, true},
		{"draft agreement", http.MethodPost, "/api/admin/v1/wallet/agreements", 24 * time.Hour, true},
		{"replace distribution", http.MethodPost, "/api/admin/v1/distributions/replace", 24 * time.Hour, true},
		{"run job", http.MethodPost, "/api/admin/v1/jobs/providera-claims", 24 * time.Hour, true},
		{"job without name", http.MethodPost, "/api/admin/v1/jobs/", 0, false},
		{"candidates read", http.MethodGet, "/api/admin/v1/providerb/amendment-candidates", 0, false},
		{"public register", http.MethodPost, "/api/v1/distributions", 0, false},
	}

	for _, tt := range tests {
		ttl, ok := idempotencyTTL(tt.method, tt.path)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.name, tt.ok, ok)
		}
		if ok && ttl != tt.want {
			t.Fatalf("%s: expected ttl=%v got %v", tt.name, tt.want, ttl)
		}
	}
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	handlerCalled := false
	handler := Idempotency(newFakeStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, adminPost("/api/admin/v1/distributions/replace", "", `{}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if handlerCalled {
		t.Fatalf("handler should not run without idempotency key")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, adminPost("/api/admin/v1/distributions/replace", strings.Repeat("k", 129), `{}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized key got %d", rec.Code)
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	var calls int
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, adminPost("/api/admin/v1/distributions/replace", "abc", `{"foo":"bar"}`))
	if first.Code != http.StatusAccepted {
		t.Fatalf("expected first response 202 got %d", first.Code)
	}
	if first.Header().Get(HeaderIdempotentReplay) != "" {
		t.Fatalf("first response must not be marked as a replay")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, adminPost("/api/admin/v1/distributions/replace", "abc", `{"foo":"bar"}`))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected replay status 202 got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected content-type header preserved")
	}
	if rec.Header().Get(HeaderIdempotentReplay) != "true" {
		t.Fatalf("expected replay marker")
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Fatalf("expected stored body got %s", rec.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}
	for key := range store.data {
		if strings.HasSuffix(key, ":inflight") {
			t.Fatalf("in-flight reservation left behind: %s", key)
		}
	}
}

func TestIdempotencyDetectsBodyChange(t *testing.T) {
	handler := Idempotency(newFakeStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), adminPost("/api/admin/v1/distributions/replace", "xyz", `{"foo":"bar"}`))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, adminPost("/api/admin/v1/distributions/replace", "xyz", `{"foo":"diff"}`))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected error code %s got %s", pkgerrors.CodeIdempotency, code)
	}
}

func TestIdempotencyRejectsConcurrentRetry(t *testing.T) {
	store := newFakeStore()
	var inner *httptest.ResponseRecorder
	var handler http.Handler
	handler = Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the retry lands while the charge is still being created
		if inner == nil {
			inner = httptest.NewRecorder()
			handler.ServeHTTP(inner, adminPost(r.URL.Path, "charge-1", `{"amount":"200"}`))
		}
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, adminPost("/api/admin/v1/wallet/agreements/agr_1/charges", "charge-1", `{"amount":"200"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}
	if inner.Code != http.StatusConflict {
		t.Fatalf("expected concurrent retry to conflict, got %d", inner.Code)
	}
	if code := errorCode(t, inner); code != string(pkgerrors.CodeConflict) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestIdempotencySkipsServerErrors(t *testing.T) {
	store := newFakeStore()
	var calls int
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), adminPost("/api/admin/v1/jobs/providera-claims", "retry-me", `{}`))
	}
	if calls != 2 {
		t.Fatalf("expected failed request to be retried, handler ran %d times", calls)
	}
	if len(store.data) != 0 {
		t.Fatalf("expected nothing persisted, got %v", store.data)
	}
}

func TestIdempotencyScopesBySubject(t *testing.T) {
	var calls int
	handler := Idempotency(newFakeStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for _, subject := range []string{"ops-a", "ops-b"} {
		req := adminPost("/api/admin/v1/wallet/agreements", "same", `{"amount":"100"}`)
		req = req.WithContext(WithActor(req.Context(), subject, "admin"))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected both operators to execute, got %d", calls)
	}
}

func TestIdempotencyIgnoresOtherRoutes(t *testing.T) {
	var calls int
	handler := Idempotency(newFakeStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/providerb/amendment-candidates", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if calls != 1 || rec.Code != http.StatusOK {
		t.Fatalf("expected passthrough, calls=%d code=%d", calls, rec.Code)
	}
}
