package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBinanceFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != binanceKlinesPath {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Fatalf("symbol should be upper-cased, got %s", got)
		}
		if got := r.URL.Query().Get("interval"); got != "5m" {
			t.Fatalf("interval not forwarded, got %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]any{
			[]any{1700000000000, "99.0", "101.0", "98.5", "100.0", "12.3"},
			[]any{1700000300000, "100.0", "103.0", "99.5", "102.0", "8.1"},
		})
	}))
	defer srv.Close()

	b := NewBinance(BinanceOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	candle, err := b.FetchCandle(context.Background(), "btcusdt", "5m")
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if candle.Close != 102 || candle.PreviousClose != 100 {
		t.Fatalf("want close 102 prev 100, got %+v", candle)
	}
	if candle.High != 103 || candle.Low != 99.5 || candle.Open != 100 {
		t.Fatalf("ohlc not decoded: %+v", candle)
	}
	if !candle.Timestamp.Equal(time.UnixMilli(1700000300000).UTC()) {
		t.Fatalf("timestamp should come from the forming candle, got %s", candle.Timestamp)
	}
}

func TestBinanceFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": -1121, "msg": "Invalid symbol."})
	}))
	defer srv.Close()

	b := NewBinance(BinanceOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := b.FetchCandle(context.Background(), "NOPE", "1m"); err == nil {
		t.Fatal("HTTP 400 should return an error")
	}
}

func TestBinanceFetchTooFewKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]any{
			[]any{1700000000000, "99.0", "101.0", "98.5", "100.0", "12.3"},
		})
	}))
	defer srv.Close()

	b := NewBinance(BinanceOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := b.FetchCandle(context.Background(), "BTCUSDT", "1m")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("a single kline has no previous close, want ErrUnavailable, got %v", err)
	}
}

func TestChainlinkMissingConfig(t *testing.T) {
	c := NewChainlink(ChainlinkOptions{}, noopLogger())
	if _, err := c.FetchCandle(context.Background(), "ETHUSD", "1m"); err == nil {
		t.Fatal("missing rpc url should fail")
	}

	c = NewChainlink(ChainlinkOptions{RPCURL: "http://localhost", Feeds: map[string]string{"BTCUSD": "0xabc"}}, noopLogger())
	if _, err := c.FetchCandle(context.Background(), "ETHUSD", "1m"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("unknown symbol should be unavailable, got %v", err)
	}
	if _, err := c.FetchCandle(context.Background(), "btcusd", "1m"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("malformed feed address should be unavailable, got %v", err)
	}
}

func TestDemoWalkIsBounded(t *testing.T) {
	d := NewDemo(42)
	prevClose := 0.0
	for i := 0; i < 200; i++ {
		candle, err := d.FetchCandle(context.Background(), "demo", "1m")
		if err != nil {
			t.Fatalf("demo feed should not fail: %v", err)
		}
		if i > 0 && candle.PreviousClose != prevClose {
			t.Fatalf("step %d: previous close %f should equal last close %f", i, candle.PreviousClose, prevClose)
		}
		if math.Abs(candle.Close-candle.PreviousClose) > 1 {
			t.Fatalf("step %d moved more than 1: %+v", i, candle)
		}
		if candle.High < candle.Close || candle.Low > candle.Close {
			t.Fatalf("step %d: close outside high/low: %+v", i, candle)
		}
		prevClose = candle.Close
	}
}

func TestDemoRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDemo(1).FetchCandle(ctx, "demo", "1m"); err == nil {
		t.Fatal("cancelled context should fail")
	}
}

func TestStaticRejectsEmptyCandle(t *testing.T) {
	s := &Static{}
	if _, err := s.FetchCandle(context.Background(), "X", "1m"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("empty candle should be unavailable, got %v", err)
	}
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestBinanceFetchCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "3" {
			t.Errorf("limit not forwarded, got %s", got)
		}
		_ = json.NewEncoder(w).Encode([]any{
			[]any{1700000000000, "99.0", "101.0", "98.5", "100.0", "1"},
			[]any{1700000060000, "100.0", "103.0", "99.5", "102.0", "1"},
			[]any{1700000120000, "102.0", "104.0", "101.5", "101.5", "1"},
		})
	}))
	defer srv.Close()

	b := NewBinance(BinanceOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	closes, err := b.FetchCloses(context.Background(), "BTCUSDT", "1m", 3)
	if err != nil {
		t.Fatalf("fetch closes: %v", err)
	}
	want := []float64{100, 102, 101.5}
	if len(closes) != len(want) {
		t.Fatalf("want %v, got %v", want, closes)
	}
	for i := range want {
		if closes[i] != want[i] {
			t.Fatalf("want %v, got %v", want, closes)
		}
	}
}

func TestDemoFetchClosesContinuesWalk(t *testing.T) {
	d := NewDemo(7)
	closes, err := d.FetchCloses(context.Background(), "ETH", "1m", 30)
	if err != nil {
		t.Fatalf("fetch closes: %v", err)
	}
	if len(closes) != 30 {
		t.Fatalf("want 30 closes, got %d", len(closes))
	}
	candle, err := d.FetchCandle(context.Background(), "ETH", "1m")
	if err != nil {
		t.Fatalf("fetch candle: %v", err)
	}
	if candle.PreviousClose != closes[len(closes)-1] {
		t.Fatalf("next candle should continue from the last close, got %f want %f", candle.PreviousClose, closes[len(closes)-1])
	}
}
