package inflation

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/giroflow-backend/internal/cache"
	"github.com/angelmondragon/giroflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func indexResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func TestIndexClientWalksEndMonthBack(t *testing.T) {
	var ends []string
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		q := req.URL.Query()
		if q.Get("startValue") != "100" || q.Get("language") != "nb" {
			t.Fatalf("unexpected query %s", req.URL.RawQuery)
		}
		if q.Get("startYear") != "2023" || q.Get("startMonth") != "02" {
			t.Fatalf("unexpected start %s-%s", q.Get("startYear"), q.Get("startMonth"))
		}
		end := q.Get("endYear") + "-" + q.Get("endMonth")
		ends = append(ends, end)
		if end == "2024-02" {
			return indexResponse(`{"change":"NaN"}`), nil
		}
		return indexResponse(`{"startValue":100,"endValue":106.1,"change":0.061}`), nil
	})

	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	ttl := cache.NewTTL[string, decimal.Decimal](time.Hour, cache.ClockFunc(func() time.Time { return now }))
	client := NewIndexClient(config.PriceIndexConfig{},
		WithIndexBaseURL("http://index.test/kpi"),
		WithIndexHTTPClient(&http.Client{Transport: rt}),
		WithIndexCache(ttl),
	)

	from := time.Date(2023, 2, 10, 0, 0, 0, 0, time.UTC)
	change, err := client.Inflation(context.Background(), from, now)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.061").Equal(change))
	assert.Equal(t, []string{"2024-02", "2024-01"}, ends)

	// cached per starting month
	again, err := client.Inflation(context.Background(), from.AddDate(0, 0, 5), now)
	require.NoError(t, err)
	assert.True(t, change.Equal(again))
	assert.Len(t, ends, 2)
}

func TestIndexClientGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls++
		return indexResponse(`{"change":"NaN"}`), nil
	})
	client := NewIndexClient(config.PriceIndexConfig{MaxAttempts: 3},
		WithIndexBaseURL("http://index.test/kpi"),
		WithIndexHTTPClient(&http.Client{Transport: rt}),
	)

	_, err := client.Inflation(context.Background(), time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))
	assert.Equal(t, 3, calls)
}

func TestParseChange(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{`0.052`, "0.052", true},
		{`"0,052"`, "0.052", true},
		{`"NaN"`, "", false},
		{`null`, "", false},
		{``, "", false},
	}
	for _, tc := range cases {
		got, ok, err := parseChange([]byte(tc.raw))
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.ok, ok, tc.raw)
		if tc.ok {
			assert.True(t, decimal.RequireFromString(tc.want).Equal(got), tc.raw)
		}
	}

	_, _, err := parseChange([]byte(`"abc"`))
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeProtocolParse))
}
