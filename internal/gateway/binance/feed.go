// Package binance implements market.Feed over the Binance USDT-margined
// futures REST API via the go-binance SDK.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"carve/internal/market"

	"github.com/adshao/go-binance/v2/futures"
)

const maxHistoryLimit = 1500

type Config struct {
	RESTBaseURL  string        `mapstructure:"rest_base_url"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
	ProxyEnabled bool          `mapstructure:"proxy_enabled"`
	ProxyURL     string        `mapstructure:"proxy_url"`
	// Interval is the kline interval used for history lookups, e.g. "1m".
	Interval string `mapstructure:"interval"`
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.RESTBaseURL) == "" {
		c.RESTBaseURL = "https://fapi.binance.com"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if strings.TrimSpace(c.Interval) == "" {
		c.Interval = "1m"
	}
	return c
}

// Feed fetches quotes and bars from the futures REST endpoints. Read-only:
// the client carries no credentials.
type Feed struct {
	cfg    Config
	client *futures.Client
}

func New(cfg Config) (*Feed, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = strings.TrimSpace(final.RESTBaseURL)
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Feed{cfg: final, client: client}, nil
}

var _ market.Feed = (*Feed)(nil)

// Latest returns the most recent closed-or-forming kline as a quote, so a
// single call carries price, volume and the high/low of the current period.
func (f *Feed) Latest(ctx context.Context, symbol string) (market.Quote, error) {
	clean, err := cleanSymbol(symbol)
	if err != nil {
		return market.Quote{}, err
	}
	kls, err := f.client.NewKlinesService().
		Symbol(clean).
		Interval(f.cfg.Interval).
		Limit(1).
		Do(ctx)
	if err != nil {
		return market.Quote{}, fmt.Errorf("binance klines %s: %w", clean, err)
	}
	if len(kls) == 0 || kls[len(kls)-1] == nil {
		return market.Quote{}, fmt.Errorf("binance klines %s: empty response", clean)
	}
	kl := kls[len(kls)-1]
	price := parseFloat(kl.Close)
	if price <= 0 {
		return market.Quote{}, fmt.Errorf("binance klines %s: non-positive close %q", clean, kl.Close)
	}
	return market.Quote{
		Symbol:    symbol,
		Price:     price,
		Volume:    parseFloat(kl.Volume),
		High:      parseFloat(kl.High),
		Low:       parseFloat(kl.Low),
		Close:     price,
		UpdatedAt: time.UnixMilli(kl.CloseTime).UTC(),
	}, nil
}

// History returns up to lookback klines, oldest first.
func (f *Feed) History(ctx context.Context, symbol string, lookback int) ([]market.Bar, error) {
	clean, err := cleanSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if lookback <= 0 {
		lookback = 100
	}
	if lookback > maxHistoryLimit {
		lookback = maxHistoryLimit
	}
	kls, err := f.client.NewKlinesService().
		Symbol(clean).
		Interval(f.cfg.Interval).
		Limit(lookback).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s: %w", clean, err)
	}
	out := make([]market.Bar, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Bar{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	return out, nil
}

// cleanSymbol strips separators: Binance wants "ETHUSDT", not "ETH/USDT".
func cleanSymbol(symbol string) (string, error) {
	clean := strings.ToUpper(strings.TrimSpace(symbol))
	clean = strings.NewReplacer("/", "", "-", "", "_", "").Replace(clean)
	if clean == "" {
		return "", fmt.Errorf("symbol is required")
	}
	return clean, nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
