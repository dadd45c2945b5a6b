package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"chargehive/internal/apperr"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFeed(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetPriceCachesWithinTTL(t *testing.T) {
	var calls int32
	srv := newFeed(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"flow":{"usd":0.75}}`))
	})

	oracle := NewOracle(srv.URL, "flow", time.Minute, time.Second)
	ctx := context.Background()

	first, err := oracle.GetPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0.75", first.String())

	// Second lookup within the freshness window must not hit upstream.
	second, err := oracle.GetPrice(ctx)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetPriceServesStaleOnUpstreamFailure(t *testing.T) {
	var fail atomic.Bool
	srv := newFeed(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"flow":{"usd":0.75}}`))
	})

	oracle := NewOracle(srv.URL, "flow", time.Nanosecond, time.Second)
	ctx := context.Background()

	_, err := oracle.GetPrice(ctx)
	require.NoError(t, err)

	fail.Store(true)
	time.Sleep(time.Millisecond) // let the cache go stale

	got, err := oracle.GetPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0.75", got.String())
}

func TestGetPriceFailsWithoutCache(t *testing.T) {
	srv := newFeed(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	oracle := NewOracle(srv.URL, "flow", time.Minute, time.Second)
	_, err := oracle.GetPrice(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
}

func TestForceRefreshBypassesCache(t *testing.T) {
	var calls int32
	srv := newFeed(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"flow":{"usd":1.25}}`))
	})

	oracle := NewOracle(srv.URL, "flow", time.Hour, time.Second)
	ctx := context.Background()

	_, err := oracle.GetPrice(ctx)
	require.NoError(t, err)

	_, err = oracle.ForceRefresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestConvert(t *testing.T) {
	// $20.00 at $0.50/token buys exactly 40 tokens.
	tokens, err := Convert(decimal.RequireFromString("20.00"), decimal.RequireFromString("0.50"))
	require.NoError(t, err)
	assert.Equal(t, "40.00000000", tokens.StringFixed(8))
}

func TestConvertRoundTrip(t *testing.T) {
	fiat := decimal.RequireFromString("19.99")
	price := decimal.RequireFromString("0.73")

	tokens, err := Convert(fiat, price)
	require.NoError(t, err)

	back := tokens.Mul(price)
	diff := back.Sub(fiat).Abs()
	assert.True(t, diff.LessThanOrEqual(decimal.New(1, -8)),
		"round-trip drifted by %s", diff.String())
}

func TestConvertRejectsNonPositivePrice(t *testing.T) {
	for _, p := range []string{"0", "-1"} {
		_, err := Convert(decimal.RequireFromString("10"), decimal.RequireFromString(p))
		require.Error(t, err)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	}
}
