package inflation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/giroflow-backend/internal/cache"
	"github.com/angelmondragon/giroflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
)

const (
	defaultIndexURL     = "https://www.ssb.no/priser-og-prisindekser/konsumpriser/statistikk/konsumprisindeksen/_/service/mimir/kpi"
	defaultMaxAttempts  = 12
	defaultIndexTimeout = 10 * time.Second
	defaultIndexTTL     = 24 * time.Hour
	indexBodyLimit      = 2048
)

// PriceIndex answers how much consumer prices changed between two months.
type PriceIndex interface {
	Inflation(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
}

// IndexClient reads the national consumer price index calculator.
type IndexClient struct {
	httpClient  *http.Client
	baseURL     string
	maxAttempts int
	cache       *cache.TTL[string, decimal.Decimal]
}

// IndexOption configures optional client behavior.
type IndexOption func(*IndexClient)

func WithIndexHTTPClient(client *http.Client) IndexOption {
	return func(c *IndexClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithIndexBaseURL(baseURL string) IndexOption {
	return func(c *IndexClient) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithIndexCache shares a cache between clients, or injects one with a test clock.
func WithIndexCache(ttl *cache.TTL[string, decimal.Decimal]) IndexOption {
	return func(c *IndexClient) {
		if ttl != nil {
			c.cache = ttl
		}
	}
}

func NewIndexClient(cfg config.PriceIndexConfig, opts ...IndexOption) *IndexClient {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultIndexTimeout
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultIndexTTL
	}
	c := &IndexClient{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     defaultIndexURL,
		maxAttempts: defaultMaxAttempts,
		cache:       cache.NewTTL[string, decimal.Decimal](ttl, nil),
	}
	if cfg.BaseURL != "" {
		c.baseURL = cfg.BaseURL
	}
	if cfg.MaxAttempts > 0 {
		c.maxAttempts = cfg.MaxAttempts
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Inflation returns the relative price change from the month of from up to
// the latest published month before to. Unpublished months come back as NaN,
// so the end month walks backwards until a value appears. Results are cached
// per starting month.
func (c *IndexClient) Inflation(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	key := from.Format("2006-01")
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	end := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		end = end.AddDate(0, -1, 0)
		change, ok, err := c.fetch(ctx, from, end)
		if err != nil {
			if ctx.Err() != nil {
				return decimal.Zero, ctx.Err()
			}
			lastErr = err
			continue
		}
		if ok {
			c.cache.Set(key, change)
			return change, nil
		}
	}
	err := pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("no price index data from %s after %d attempts", key, c.maxAttempts))
	if lastErr != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, lastErr, err.Message())
	}
	return decimal.Zero, err
}

func (c *IndexClient) fetch(ctx context.Context, from, end time.Time) (decimal.Decimal, bool, error) {
	q := url.Values{}
	q.Set("startValue", "100")
	q.Set("startYear", fmt.Sprintf("%d", from.Year()))
	q.Set("startMonth", fmt.Sprintf("%02d", int(from.Month())))
	q.Set("endYear", fmt.Sprintf("%d", end.Year()))
	q.Set("endMonth", fmt.Sprintf("%02d", int(end.Month())))
	q.Set("language", "nb")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build price index request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "price index request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, indexBodyLimit))
		return decimal.Zero, false, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("price index status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var body struct {
		Change json.RawMessage `json:"change"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, false, pkgerrors.Wrap(pkgerrors.CodeProtocolParse, err, "decode price index response")
	}
	return parseChange(body.Change)
}

// parseChange accepts a JSON number or a numeric string. NaN and a missing
// field mean the month is not published yet.
func parseChange(raw json.RawMessage) (decimal.Decimal, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, false, nil
	}
	text := strings.Trim(string(raw), `"`)
	if strings.EqualFold(text, "NaN") {
		return decimal.Zero, false, nil
	}
	change, err := decimal.NewFromString(strings.ReplaceAll(text, ",", "."))
	if err != nil {
		return decimal.Zero, false, pkgerrors.Wrap(pkgerrors.CodeProtocolParse, err, "parse price index change")
	}
	return change, true, nil
}
