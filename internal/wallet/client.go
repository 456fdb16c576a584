package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/giroflow-backend/internal/cache"
	"github.com/angelmondragon/giroflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
)

const (
	defaultBaseURL       = "https://api.vipps.no"
	responseBodyLimit    = 2048
	tokenCacheKey        = "access_token"
	tokenExpiryBuffer    = 10 * time.Minute
	headerIdempotencyKey = "Idempotency-Key"
)

// API is the slice of the wallet platform the engine drives.
type API interface {
	DraftAgreement(ctx context.Context, req DraftRequest) (DraftResponse, error)
	GetAgreement(ctx context.Context, agreementID string) (RemoteAgreement, error)
	ListAgreements(ctx context.Context, status string) ([]RemoteAgreement, error)
	UpdateAgreement(ctx context.Context, agreementID string, patch AgreementPatch) error
	CreateCharge(ctx context.Context, agreementID string, req ChargeRequest, idempotencyKey string) (string, error)
	GetCharge(ctx context.Context, agreementID, chargeID string) (RemoteCharge, error)
	ListCharges(ctx context.Context, agreementID string) ([]RemoteCharge, error)
	CaptureCharge(ctx context.Context, agreementID, chargeID, idempotencyKey string) error
	CancelCharge(ctx context.Context, agreementID, chargeID string) error
	RefundCharge(ctx context.Context, agreementID, chargeID string, amountMinor int64, idempotencyKey string) error
	InitiateOrder(ctx context.Context, req OrderRequest) (string, error)
	GetOrderDetails(ctx context.Context, orderID string) (OrderDetails, error)
	CaptureOrder(ctx context.Context, orderID string, amountMinor int64) error
}

type InitialCharge struct {
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Description     string `json:"description"`
	TransactionType string `json:"transactionType"`
}

// DraftRequest creates a monthly agreement awaiting the donor's approval.
type DraftRequest struct {
	Currency             string         `json:"currency"`
	Interval             string         `json:"interval"`
	IntervalCount        int            `json:"intervalCount"`
	IsApp                bool           `json:"isApp"`
	MerchantRedirectURL  string         `json:"merchantRedirectUrl"`
	MerchantAgreementURL string         `json:"merchantAgreementUrl"`
	Price                int64          `json:"price"`
	ProductName          string         `json:"productName"`
	ProductDescription   string         `json:"productDescription"`
	InitialCharge        *InitialCharge `json:"initialCharge,omitempty"`
}

type DraftResponse struct {
	AgreementResource string `json:"agreementResource"`
	AgreementID       string `json:"agreementId"`
	ConfirmationURL   string `json:"vippsConfirmationUrl"`
	ChargeID          string `json:"chargeId"`
}

// RemoteAgreement is the platform's view of an agreement. Price is in øre.
type RemoteAgreement struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	Price              int64  `json:"price"`
	Currency           string `json:"currency"`
	ProductName        string `json:"productName"`
	ProductDescription string `json:"productDescription"`
}

// AgreementPatch updates price or status; nil fields are left alone.
type AgreementPatch struct {
	Price  *int64  `json:"price,omitempty"`
	Status *string `json:"status,omitempty"`
}

type ChargeRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	Due         string `json:"due"`
	RetryDays   int    `json:"retryDays"`
}

// RemoteCharge is one charge on an agreement. Due is yyyy-mm-dd.
type RemoteCharge struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Due            string `json:"due"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amountRefunded"`
	Type           string `json:"type"`
	FailureReason  string `json:"failureReason,omitempty"`
}

// DueDate parses Due; the platform sends a bare date or a full timestamp.
func (c RemoteCharge) DueDate() (time.Time, error) {
	if d, err := time.Parse(time.DateOnly, c.Due); err == nil {
		return d, nil
	}
	return time.Parse(time.RFC3339, c.Due)
}

// OrderRequest starts a one-off payment.
type OrderRequest struct {
	OrderID         string
	AmountMinor     int64
	Text            string
	CallbackPrefix  string
	FallbackURL     string
	AuthToken       string
	SkipLandingPage bool
}

type TransactionLogItem struct {
	Amount           int64     `json:"amount"`
	TransactionText  string    `json:"transactionText"`
	TransactionID    string    `json:"transactionId"`
	TimeStamp        time.Time `json:"timeStamp"`
	Operation        string    `json:"operation"`
	OperationSuccess bool      `json:"operationSuccess"`
}

type OrderDetails struct {
	OrderID               string               `json:"orderId"`
	TransactionLogHistory []TransactionLogItem `json:"transactionLogHistory"`
}

// Find returns the first successful log item for operation.
func (d OrderDetails) Find(operation string) *TransactionLogItem {
	for i := range d.TransactionLogHistory {
		item := d.TransactionLogHistory[i]
		if item.Operation == operation && item.OperationSuccess {
			return &item
		}
	}
	return nil
}

// Final reports whether no further action can happen on the order.
func (d OrderDetails) Final() bool {
	for _, op := range []string{"CAPTURE", "CANCEL", "FAILED", "REJECTED", "SALE"} {
		if d.Find(op) != nil {
			return true
		}
	}
	return false
}

// APIError is a non-2xx answer from the platform.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wallet api status %d: %s", e.StatusCode, e.Body)
}

// StatusCode extracts the HTTP status from an error returned by Client, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

type accessToken struct {
	Type  string
	Value string
}

// Client talks to the wallet's recurring and ecom APIs.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cfg        config.WalletConfig
	tokens     *cache.TTL[string, accessToken]
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = strings.TrimRight(trimmed, "/")
		}
	}
}

// WithClock drives token expiry from clock instead of the wall clock.
func WithClock(clock cache.Clock) Option {
	return func(c *Client) {
		c.tokens = cache.NewTTL[string, accessToken](0, clock)
	}
}

func NewClient(cfg config.WalletConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet client credentials are required")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    defaultBaseURL,
		cfg:        cfg,
		tokens:     cache.NewTTL[string, accessToken](0, nil),
	}
	if cfg.BaseURL != "" {
		client.baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// token returns a cached bearer token, fetching a new one when the cached
// token is within ten minutes of expiry.
func (c *Client) token(ctx context.Context) (accessToken, error) {
	if tok, ok := c.tokens.Get(tokenCacheKey); ok {
		return tok, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/accesstoken/get", nil)
	if err != nil {
		return accessToken{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build token request")
	}
	req.Header.Set("client_id", c.cfg.ClientID)
	req.Header.Set("client_secret", c.cfg.ClientSecret)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.SubscriptionKey)

	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresOn   string `json:"expires_on"`
	}
	if err := c.send(req, &body); err != nil {
		return accessToken{}, err
	}
	expiresOn, err := strconv.ParseInt(body.ExpiresOn, 10, 64)
	if err != nil {
		return accessToken{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "parse token expiry")
	}
	tok := accessToken{Type: body.TokenType, Value: body.AccessToken}
	if tok.Type == "" {
		tok.Type = "Bearer"
	}
	c.tokens.SetUntil(tokenCacheKey, tok, time.Unix(expiresOn, 0).Add(-tokenExpiryBuffer))
	return tok, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, idempotencyKey string, out any) error {
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal wallet request")
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build wallet request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", tok.Type+" "+tok.Value)
	req.Header.Set("Merchant-Serial-Number", c.cfg.MerchantSerialNumber)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.SubscriptionKey)
	if idempotencyKey != "" {
		req.Header.Set(headerIdempotencyKey, idempotencyKey)
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s %s", req.Method, req.URL.Path))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, apiErr, fmt.Sprintf("%s %s failed", req.Method, req.URL.Path)).
			WithDetails(map[string]any{"status": resp.StatusCode})
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode wallet response")
	}
	return nil
}

func (c *Client) DraftAgreement(ctx context.Context, req DraftRequest) (DraftResponse, error) {
	var out DraftResponse
	err := c.do(ctx, http.MethodPost, "/recurring/v2/agreements", req, "", &out)
	return out, err
}

func (c *Client) GetAgreement(ctx context.Context, agreementID string) (RemoteAgreement, error) {
	var out RemoteAgreement
	err := c.do(ctx, http.MethodGet, "/recurring/v2/agreements/"+url.PathEscape(agreementID), nil, "", &out)
	return out, err
}

// ListAgreements returns agreements in one status; the platform cannot list all statuses at once.
func (c *Client) ListAgreements(ctx context.Context, status string) ([]RemoteAgreement, error) {
	var out []RemoteAgreement
	err := c.do(ctx, http.MethodGet, "/recurring/v2/agreements?status="+url.QueryEscape(status), nil, "", &out)
	return out, err
}

func (c *Client) UpdateAgreement(ctx context.Context, agreementID string, patch AgreementPatch) error {
	return c.do(ctx, http.MethodPatch, "/recurring/v2/agreements/"+url.PathEscape(agreementID), patch, "", nil)
}

func (c *Client) CreateCharge(ctx context.Context, agreementID string, req ChargeRequest, idempotencyKey string) (string, error) {
	var out struct {
		ChargeID string `json:"chargeId"`
	}
	err := c.do(ctx, http.MethodPost, chargesPath(agreementID), req, idempotencyKey, &out)
	return out.ChargeID, err
}

func (c *Client) GetCharge(ctx context.Context, agreementID, chargeID string) (RemoteCharge, error) {
	var out RemoteCharge
	err := c.do(ctx, http.MethodGet, chargesPath(agreementID)+"/"+url.PathEscape(chargeID), nil, "", &out)
	return out, err
}

func (c *Client) ListCharges(ctx context.Context, agreementID string) ([]RemoteCharge, error) {
	var out []RemoteCharge
	err := c.do(ctx, http.MethodGet, chargesPath(agreementID), nil, "", &out)
	return out, err
}

func (c *Client) CaptureCharge(ctx context.Context, agreementID, chargeID, idempotencyKey string) error {
	return c.do(ctx, http.MethodPost, chargesPath(agreementID)+"/"+url.PathEscape(chargeID)+"/capture", nil, idempotencyKey, nil)
}

func (c *Client) CancelCharge(ctx context.Context, agreementID, chargeID string) error {
	return c.do(ctx, http.MethodDelete, chargesPath(agreementID)+"/"+url.PathEscape(chargeID), nil, "", nil)
}

func (c *Client) RefundCharge(ctx context.Context, agreementID, chargeID string, amountMinor int64, idempotencyKey string) error {
	body := map[string]any{"amount": amountMinor, "description": "Donasjonen din blir nå refundert"}
	return c.do(ctx, http.MethodPost, chargesPath(agreementID)+"/"+url.PathEscape(chargeID)+"/refund", body, idempotencyKey, nil)
}

// InitiateOrder starts a one-off payment and returns the URL the donor is sent to.
func (c *Client) InitiateOrder(ctx context.Context, req OrderRequest) (string, error) {
	payload := map[string]any{
		"customerInfo": map[string]any{},
		"merchantInfo": map[string]any{
			"authToken":            req.AuthToken,
			"callbackPrefix":       req.CallbackPrefix,
			"fallBack":             req.FallbackURL,
			"isApp":                false,
			"merchantSerialNumber": c.cfg.MerchantSerialNumber,
			"paymentType":          "eComm Regular Payment",
		},
		"transaction": map[string]any{
			"amount":          req.AmountMinor,
			"orderId":         req.OrderID,
			"transactionText": req.Text,
			"skipLandingPage": req.SkipLandingPage,
		},
	}
	var out struct {
		URL string `json:"url"`
	}
	err := c.do(ctx, http.MethodPost, "/ecomm/v2/payments", payload, "", &out)
	return out.URL, err
}

func (c *Client) GetOrderDetails(ctx context.Context, orderID string) (OrderDetails, error) {
	var out OrderDetails
	err := c.do(ctx, http.MethodGet, "/ecomm/v2/payments/"+url.PathEscape(orderID)+"/details", nil, "", &out)
	return out, err
}

func (c *Client) CaptureOrder(ctx context.Context, orderID string, amountMinor int64) error {
	payload := map[string]any{
		"merchantInfo": map[string]any{"merchantSerialNumber": c.cfg.MerchantSerialNumber},
		"transaction":  map[string]any{"amount": amountMinor, "transactionText": transactionText},
	}
	return c.do(ctx, http.MethodPost, "/ecomm/v2/payments/"+url.PathEscape(orderID)+"/capture", payload, "", nil)
}

func chargesPath(agreementID string) string {
	return "/recurring/v2/agreements/" + url.PathEscape(agreementID) + "/charges"
}
