package oracle

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cuihairu/croupier-economy/internal/ports"
)

var fixedNow = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

func clock() time.Time { return fixedNow }

func TestAdapterReturnsFreshPrice(t *testing.T) {
	src := NewStaticSource()
	want := ports.Price{Price: 200000, Conf: 50, Expo: -2, PublishTime: fixedNow.Add(-10 * time.Second)}
	src.Set(ETHUSDFeedID, want)
	a := NewAdapter(src, WithClock(clock))
	got, err := a.GetPrice(context.Background(), ETHUSDFeedID)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if s := FormatUSD(got); s != "2000.00" {
		t.Fatalf("format: %s", s)
	}
}

func TestAdapterUnknownFeed(t *testing.T) {
	a := NewAdapter(NewStaticSource(), WithClock(clock))
	_, err := a.GetPrice(context.Background(), common.HexToHash("0x01"))
	if !errors.Is(err, ports.ErrOracle) {
		t.Fatalf("expected oracle error, got %v", err)
	}
}

func TestAdapterRejectsStale(t *testing.T) {
	src := NewStaticSource()
	src.Set(ETHUSDFeedID, ports.Price{Price: 200000, Expo: -2, PublishTime: fixedNow.Add(-61 * time.Second)})
	a := NewAdapter(src, WithClock(clock))
	if _, err := a.GetPrice(context.Background(), ETHUSDFeedID); !errors.Is(err, ports.ErrOracle) {
		t.Fatalf("expected stale price error, got %v", err)
	}
	// a wider window accepts the same reading
	a = NewAdapter(src, WithClock(clock), WithMaxAge(2*time.Minute))
	if _, err := a.GetPrice(context.Background(), ETHUSDFeedID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAdapterRejectsNonPositiveAndWideConfidence(t *testing.T) {
	src := NewStaticSource()
	a := NewAdapter(src, WithClock(clock), WithMaxConfBps(100))
	src.Set(ETHUSDFeedID, ports.Price{Price: 0, Expo: -2, PublishTime: fixedNow})
	if _, err := a.GetPrice(context.Background(), ETHUSDFeedID); !errors.Is(err, ports.ErrOracle) {
		t.Fatalf("expected invalid price error, got %v", err)
	}
	// conf 1% of price is allowed, 1.01% is not
	src.Set(ETHUSDFeedID, ports.Price{Price: 200000, Conf: 2000, Expo: -2, PublishTime: fixedNow})
	if _, err := a.GetPrice(context.Background(), ETHUSDFeedID); err != nil {
		t.Fatalf("conf at limit: %v", err)
	}
	src.Set(ETHUSDFeedID, ports.Price{Price: 200000, Conf: 2001, Expo: -2, PublishTime: fixedNow})
	if _, err := a.GetPrice(context.Background(), ETHUSDFeedID); !errors.Is(err, ports.ErrOracle) {
		t.Fatalf("expected confidence error, got %v", err)
	}
}

func TestAdapterRejectsOutOfRangeExponent(t *testing.T) {
	src := NewStaticSource()
	a := NewAdapter(src, WithClock(clock))
	for _, expo := range []int32{-19, 19, -10_000_000, math.MinInt32} {
		src.Set(ETHUSDFeedID, ports.Price{Price: 200000, Expo: expo, PublishTime: fixedNow})
		if _, err := a.GetPrice(context.Background(), ETHUSDFeedID); !errors.Is(err, ports.ErrOracle) {
			t.Fatalf("expo %d: expected oracle error, got %v", expo, err)
		}
	}
	src.Set(ETHUSDFeedID, ports.Price{Price: 200000, Expo: -ports.MaxExpo, PublishTime: fixedNow})
	if _, err := a.GetPrice(context.Background(), ETHUSDFeedID); err != nil {
		t.Fatalf("expo at bound: %v", err)
	}
}

func TestIsFeedID(t *testing.T) {
	cases := map[string]bool{
		ETHUSDFeedID.Hex(): true,
		"0X" + strings.ToUpper(strings.TrimPrefix(ETHUSDFeedID.Hex(), "0x")): true,
		strings.TrimPrefix(ETHUSDFeedID.Hex(), "0x"): false,
		"0x1234": false,
		"0x" + strings.Repeat("zz", 32): false,
		"": false,
	}
	for in, want := range cases {
		if got := IsFeedID(in); got != want {
			t.Fatalf("IsFeedID(%q) = %v, want %v", in, got, want)
		}
	}
}

type failingSource struct{}

func (failingSource) Latest(context.Context, common.Hash) (ports.Price, error) {
	return ports.Price{}, errors.New("connection refused")
}

func TestAdapterWrapsSourceFailures(t *testing.T) {
	a := NewAdapter(failingSource{}, WithClock(clock))
	_, err := a.GetPrice(context.Background(), ETHUSDFeedID)
	if !errors.Is(err, ports.ErrOracle) || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected wrapped oracle error, got %v", err)
	}
}

func TestFileSourceLoadAndLive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prices.yaml")
	body := "feeds:\n" +
		"  - id: \"0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace\"\n" +
		"    price: 250000\n" +
		"    conf: 10\n" +
		"    expo: -2\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewFileSource(path)
	s.now = clock
	if err := s.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	p, err := s.Latest(context.Background(), ETHUSDFeedID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if p.Price != 250000 || p.Expo != -2 || !p.PublishTime.Equal(fixedNow) {
		t.Fatalf("unexpected reading %+v", p)
	}
	if _, err := s.Latest(context.Background(), common.HexToHash("0x02")); !errors.Is(err, ports.ErrOracle) {
		t.Fatalf("expected unknown feed, got %v", err)
	}
}

func TestFileSourceRejectsBadID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.yaml")
	if err := os.WriteFile(path, []byte("feeds:\n  - id: \"0x1234\"\n    price: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := NewFileSource(path).Load(); err == nil {
		t.Fatalf("expected invalid feed id error")
	}
}

func TestHermesSource(t *testing.T) {
	id := strings.TrimPrefix(ETHUSDFeedID.Hex(), "0x")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/updates/price/latest" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("ids[]") != id {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"parsed":[{"id":"` + id + `","price":{"price":"312345678901","conf":"123456","expo":-8,"publish_time":1767366245}}]}`))
	}))
	defer srv.Close()

	s := NewHermesSource(srv.URL, time.Second)
	p, err := s.Latest(context.Background(), ETHUSDFeedID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if p.Price != 312345678901 || p.Conf != 123456 || p.Expo != -8 || p.PublishTime.Unix() != 1767366245 {
		t.Fatalf("unexpected reading %+v", p)
	}
	if FormatUSD(p) != "3123.46" {
		t.Fatalf("format: %s", FormatUSD(p))
	}
	if _, err := s.Latest(context.Background(), common.HexToHash("0x03")); !errors.Is(err, ports.ErrOracle) {
		t.Fatalf("expected unknown feed, got %v", err)
	}
}

func TestParsePriceFieldsMalformed(t *testing.T) {
	_, err := parsePriceFields(map[string]string{"price": "abc", "expo": "-2", "publish_time": "1"})
	if !errors.Is(err, ports.ErrOracle) {
		t.Fatalf("expected oracle error, got %v", err)
	}
}
