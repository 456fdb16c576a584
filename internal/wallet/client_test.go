package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/giroflow-backend/internal/cache"
	"github.com/angelmondragon/giroflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

var testWalletConfig = config.WalletConfig{
	ClientID:             "client",
	ClientSecret:         "secret",
	SubscriptionKey:      "sub",
	MerchantSerialNumber: "123456",
}

func newTestClient(t *testing.T, clock cache.Clock, rt roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient(testWalletConfig,
		WithBaseURL("http://wallet.test/"),
		WithHTTPClient(&http.Client{Transport: rt}),
		WithClock(clock),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(config.WalletConfig{ClientID: "only-id"}); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestClientCachesTokenUntilNearExpiry(t *testing.T) {
	clock := &stepClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	expiresOn := clock.Now().Add(time.Hour).Unix()
	tokenCalls := 0

	client := newTestClient(t, clock, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/accesstoken/get" {
			tokenCalls++
			if req.Header.Get("client_id") != "client" || req.Header.Get("client_secret") != "secret" {
				t.Fatalf("token request missing credentials")
			}
			return jsonResponse(http.StatusOK, `{"access_token":"tok`+strconv.Itoa(tokenCalls)+`","expires_on":"`+strconv.FormatInt(expiresOn, 10)+`"}`), nil
		}
		want := "Bearer tok" + strconv.Itoa(tokenCalls)
		if got := req.Header.Get("Authorization"); got != want {
			t.Fatalf("authorization %q, want %q", got, want)
		}
		if req.Header.Get("Merchant-Serial-Number") != "123456" {
			t.Fatalf("merchant serial header missing")
		}
		return jsonResponse(http.StatusOK, `{"id":"agr_1","status":"ACTIVE","price":25000}`), nil
	})

	ctx := context.Background()
	for range 2 {
		agreement, err := client.GetAgreement(ctx, "agr_1")
		if err != nil {
			t.Fatalf("get agreement: %v", err)
		}
		if agreement.Price != 25000 || agreement.Status != "ACTIVE" {
			t.Fatalf("unexpected agreement %+v", agreement)
		}
	}
	if tokenCalls != 1 {
		t.Fatalf("expected one token fetch, got %d", tokenCalls)
	}

	// inside the ten minute buffer the token is refreshed
	clock.Advance(51 * time.Minute)
	if _, err := client.GetAgreement(ctx, "agr_1"); err != nil {
		t.Fatalf("get agreement: %v", err)
	}
	if tokenCalls != 2 {
		t.Fatalf("expected token refresh, got %d fetches", tokenCalls)
	}
}

func TestClientCreateChargeSendsIdempotencyKey(t *testing.T) {
	clock := &stepClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	var captured *http.Request
	var payload ChargeRequest

	client := newTestClient(t, clock, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/accesstoken/get" {
			return jsonResponse(http.StatusOK, `{"access_token":"tok","expires_on":"`+strconv.FormatInt(clock.Now().Add(time.Hour).Unix(), 10)+`"}`), nil
		}
		captured = req
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"chargeId":"chr_9"}`), nil
	})

	id, err := client.CreateCharge(context.Background(), "agr_1", ChargeRequest{
		Amount:    30000,
		Currency:  "NOK",
		Due:       "2024-03-04",
		RetryDays: 5,
	}, "1709251200000-agr_1")
	if err != nil {
		t.Fatalf("create charge: %v", err)
	}
	if id != "chr_9" {
		t.Fatalf("unexpected charge id %q", id)
	}
	if captured.Method != http.MethodPost || captured.URL.Path != "/recurring/v2/agreements/agr_1/charges" {
		t.Fatalf("unexpected request %s %s", captured.Method, captured.URL.Path)
	}
	if got := captured.Header.Get(headerIdempotencyKey); got != "1709251200000-agr_1" {
		t.Fatalf("unexpected idempotency key %q", got)
	}
	if payload.Amount != 30000 || payload.Due != "2024-03-04" || payload.RetryDays != 5 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestClientMapsErrorStatus(t *testing.T) {
	clock := &stepClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	client := newTestClient(t, clock, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/accesstoken/get" {
			return jsonResponse(http.StatusOK, `{"access_token":"tok","expires_on":"`+strconv.FormatInt(clock.Now().Add(time.Hour).Unix(), 10)+`"}`), nil
		}
		return jsonResponse(http.StatusLocked, `{"message":"already captured"}`), nil
	})

	err := client.CaptureOrder(context.Background(), "order-1", 10000)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !pkgerrors.Is(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if StatusCode(err) != http.StatusLocked {
		t.Fatalf("unexpected status %d", StatusCode(err))
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !strings.Contains(apiErr.Body, "already captured") {
		t.Fatalf("expected api error body, got %v", err)
	}
	if StatusCode(nil) != 0 {
		t.Fatalf("nil error should have no status")
	}
}

func TestOrderDetailsFinal(t *testing.T) {
	details := OrderDetails{TransactionLogHistory: []TransactionLogItem{
		{Operation: "INITIATE", OperationSuccess: true},
		{Operation: "RESERVE", OperationSuccess: true, Amount: 5000},
	}}
	if details.Final() {
		t.Fatalf("reserved order is not final")
	}
	if item := details.Find("RESERVE"); item == nil || item.Amount != 5000 {
		t.Fatalf("expected reserve item, got %+v", item)
	}
	details.TransactionLogHistory = append(details.TransactionLogHistory, TransactionLogItem{Operation: "CAPTURE", OperationSuccess: true})
	if !details.Final() {
		t.Fatalf("captured order is final")
	}
}
