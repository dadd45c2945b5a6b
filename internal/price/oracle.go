package price

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"chargehive/internal/apperr"
	"chargehive/internal/util"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// TokenDecimals is the on-chain fixed-point precision of the settlement
// token (UFix64 carries 8 decimal places).
const TokenDecimals = 8

// Oracle fetches and caches the fiat price of the settlement token.
// The cached value is shared across requests behind a mutex; staleness
// is tolerated when the upstream feed is down.
type Oracle struct {
	feedURL    string
	assetID    string
	ttl        time.Duration
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.Mutex
	value       decimal.Decimal
	lastUpdated time.Time
}

// NewOracle creates a price oracle against an HTTP price feed returning
// {"<asset>": {"usd": <number>}}.
func NewOracle(feedURL, assetID string, ttl, timeout time.Duration) *Oracle {
	return &Oracle{
		feedURL:    feedURL,
		assetID:    assetID,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.GetLogger(),
	}
}

// GetPrice returns the current unit price of the settlement token in
// USD. Served from cache while fresh; on upstream failure a stale cache
// value is returned in degraded mode.
func (o *Oracle) GetPrice(ctx context.Context) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cacheFresh() {
		util.PriceCacheHitsTotal.Inc()
		return o.value, nil
	}

	util.PriceCacheMissesTotal.Inc()
	price, err := o.fetch(ctx)
	if err != nil {
		if !o.lastUpdated.IsZero() {
			util.PriceStaleServedTotal.Inc()
			o.logger.Warn("Price feed unavailable, serving stale cached price",
				zap.String("price", o.value.String()),
				zap.Duration("age", time.Since(o.lastUpdated)),
				zap.Error(err))
			return o.value, nil
		}
		return decimal.Zero, apperr.Wrap(apperr.KindUpstream, "token price unavailable", err)
	}

	o.value = price
	o.lastUpdated = time.Now()
	o.logger.Info("Token price updated", zap.String("price", price.String()))
	return price, nil
}

// ForceRefresh invalidates the cache and re-fetches unconditionally.
func (o *Oracle) ForceRefresh(ctx context.Context) (decimal.Decimal, error) {
	o.mu.Lock()
	o.value = decimal.Zero
	o.lastUpdated = time.Time{}
	o.mu.Unlock()
	return o.GetPrice(ctx)
}

func (o *Oracle) cacheFresh() bool {
	return !o.lastUpdated.IsZero() && time.Since(o.lastUpdated) < o.ttl
}

func (o *Oracle) fetch(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.feedURL, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build price request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read price response: %w", err)
	}

	usd := gjson.GetBytes(body, o.assetID+".usd")
	if !usd.Exists() || usd.Float() <= 0 {
		return decimal.Zero, fmt.Errorf("price feed returned no usable price for %s", o.assetID)
	}

	return decimal.NewFromFloat(usd.Float()), nil
}

// Convert computes the token amount equivalent to fiatAmount at the
// given unit price, rounded to the token's on-chain precision.
func Convert(fiatAmount, price decimal.Decimal) (decimal.Decimal, error) {
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, apperr.New(apperr.KindValidation, "token price must be greater than zero")
	}
	return fiatAmount.DivRound(price, TokenDecimals), nil
}
