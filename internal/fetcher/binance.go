package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trade-alert-engine/internal/logging"
	"trade-alert-engine/internal/version"
)

const (
	binanceKlinesPath = "/api/v3/klines"
	binanceMaxLimit   = 1000
)

// BinanceOptions parameterise the klines fetcher.
type BinanceOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Binance reads the two most recent klines of a symbol from the REST API.
type Binance struct {
	opts    BinanceOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewBinance constructs a klines fetcher.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}

	return &Binance{
		opts:    opts,
		logger:  logging.Component(logger, "binance_fetcher"),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchCandle returns the forming candle with the close of the one before it.
func (b *Binance) FetchCandle(ctx context.Context, symbol, timeframe string) (Candle, error) {
	klines, err := b.fetchKlines(ctx, symbol, timeframe, 2)
	if err != nil {
		return Candle{}, err
	}
	if len(klines) < 2 {
		return Candle{}, fmt.Errorf("%s %s returned %d klines: %w", symbol, timeframe, len(klines), ErrUnavailable)
	}

	prev, cur := klines[len(klines)-2], klines[len(klines)-1]
	candle := Candle{
		Open:          cur.open.InexactFloat64(),
		High:          cur.high.InexactFloat64(),
		Low:           cur.low.InexactFloat64(),
		Close:         cur.close.InexactFloat64(),
		PreviousClose: prev.close.InexactFloat64(),
		Timestamp:     time.UnixMilli(cur.openTime).UTC(),
	}
	if !candle.Valid() {
		return Candle{}, fmt.Errorf("%s %s returned zero close: %w", symbol, timeframe, ErrUnavailable)
	}

	b.logger.Debug().Str("symbol", symbol).Str("timeframe", timeframe).
		Str("close", cur.close.String()).Msg("kline fetched")
	return candle, nil
}

// FetchCloses returns up to n closes of symbol, oldest first.
func (b *Binance) FetchCloses(ctx context.Context, symbol, timeframe string, n int) ([]float64, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > binanceMaxLimit {
		n = binanceMaxLimit
	}
	klines, err := b.fetchKlines(ctx, symbol, timeframe, n)
	if err != nil {
		return nil, err
	}
	closes := make([]float64, 0, len(klines))
	for _, k := range klines {
		closes = append(closes, k.close.InexactFloat64())
	}
	return closes, nil
}

func (b *Binance) fetchKlines(ctx context.Context, symbol, timeframe string, limit int) ([]kline, error) {
	if symbol == "" || timeframe == "" {
		return nil, fmt.Errorf("symbol and timeframe required: %w", ErrUnavailable)
	}

	query := url.Values{}
	query.Set("symbol", strings.ToUpper(symbol))
	query.Set("interval", timeframe)
	query.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+binanceKlinesPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", version.UserAgent())
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	klines := make([]kline, 0, len(raw))
	for _, fields := range raw {
		k, err := decodeKline(fields)
		if err != nil {
			return nil, err
		}
		klines = append(klines, k)
	}
	return klines, nil
}

type kline struct {
	openTime int64
	open     decimal.Decimal
	high     decimal.Decimal
	low      decimal.Decimal
	close    decimal.Decimal
}

// decodeKline reads [openTime, "open", "high", "low", "close", ...].
func decodeKline(fields []json.RawMessage) (kline, error) {
	if len(fields) < 5 {
		return kline{}, fmt.Errorf("kline has %d fields, want at least 5", len(fields))
	}

	var k kline
	if err := json.Unmarshal(fields[0], &k.openTime); err != nil {
		return kline{}, fmt.Errorf("parse kline open time: %w", err)
	}

	targets := []*decimal.Decimal{&k.open, &k.high, &k.low, &k.close}
	for i, target := range targets {
		var raw string
		if err := json.Unmarshal(fields[i+1], &raw); err != nil {
			return kline{}, fmt.Errorf("parse kline field %d: %w", i+1, err)
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return kline{}, fmt.Errorf("parse kline field %d: %w", i+1, err)
		}
		*target = d
	}
	return k, nil
}

type errorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Msg != "" {
		return fmt.Errorf("binance api error (%d/%d): %s", status, apiErr.Code, apiErr.Msg)
	}
	if len(payload) > 0 {
		return fmt.Errorf("binance api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("binance api error (%d)", status)
}

var (
	_ PriceFetcher   = (*Binance)(nil)
	_ HistoryFetcher = (*Binance)(nil)
)
