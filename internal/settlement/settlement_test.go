package settlement

import (
	"context"
	"errors"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cuihairu/croupier-economy/internal/auth/rbac"
	"github.com/cuihairu/croupier-economy/internal/fee"
	"github.com/cuihairu/croupier-economy/internal/oracle"
	"github.com/cuihairu/croupier-economy/internal/ports"
	"github.com/cuihairu/croupier-economy/internal/registry"
	"github.com/cuihairu/croupier-economy/internal/repo/memory"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	buyer    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	platform = common.HexToAddress("0x742626ce3c271b8d09e61a5ecf1f59c4b23b9f39")
	escrow   = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	now      = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func mustInt(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad int %q", s)
	}
	return v
}

func TestRequiredAmount(t *testing.T) {
	cases := []struct {
		name     string
		cents    uint64
		price    int64
		expo     int32
		decimals uint8
		want     string
	}{
		{"five dollars at 2000", 500, 200000, -2, 18, "2500000000000000"},
		{"positive exponent", 500, 2, 3, 18, "2500000000000000"},
		{"pyth scale", 1500, 200000000000, -8, 18, "7500000000000000"},
		{"rounds up", 100, 3, 0, 18, "333333333333333334"},
		{"tiny rounds to one", 1, 3, 0, 0, "1"},
		{"exact stays exact", 300, 3, 0, 0, "1"},
	}
	for _, c := range cases {
		got, err := RequiredAmount(c.cents, ports.Price{Price: c.price, Expo: c.expo}, c.decimals)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if got.String() != c.want {
			t.Fatalf("%s: got %s want %s", c.name, got, c.want)
		}
	}
	if _, err := RequiredAmount(500, ports.Price{Price: 0, Expo: -2}, 18); !errors.Is(err, ports.ErrOracle) {
		t.Fatalf("zero price: %v", err)
	}
}

func TestRequiredAmountExponentBound(t *testing.T) {
	for _, expo := range []int32{-19, 19, -50_000_000, math.MinInt32, math.MaxInt32} {
		start := time.Now()
		_, err := RequiredAmount(500, ports.Price{Price: 200000, Expo: expo}, 18)
		if !errors.Is(err, ports.ErrOracle) {
			t.Fatalf("expo %d: expected oracle error, got %v", expo, err)
		}
		if d := time.Since(start); d > time.Second {
			t.Fatalf("expo %d: took %s", expo, d)
		}
	}
	for _, expo := range []int32{-ports.MaxExpo, ports.MaxExpo} {
		if _, err := RequiredAmount(500, ports.Price{Price: 1, Expo: expo}, 18); err != nil {
			t.Fatalf("expo %d at bound: %v", expo, err)
		}
	}
}

type fixture struct {
	store *memory.Store
	src   *oracle.StaticSource
	reg   *registry.Registry
	s     *Settlement
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	pol, err := rbac.NewOwnerPolicy()
	if err != nil {
		t.Fatal(err)
	}
	clock := func() time.Time { return now }
	reg := registry.New(st.Games(), st.Events(), pol, clock)
	src := oracle.NewStaticSource()
	src.Set(oracle.ETHUSDFeedID, ports.Price{Price: 200000, Conf: 10, Expo: -2, PublishTime: now.Add(-5 * time.Second)})
	adapter := oracle.NewAdapter(src, oracle.WithClock(clock))
	fees, err := fee.New(fee.DefaultBps)
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{FeedID: oracle.ETHUSDFeedID, Escrow: escrow, PlatformWallet: platform, Decimals: 18}
	s := New(cfg, reg, adapter, fees, st.Ledger(), st.Events(), clock)
	ctx := context.Background()
	if _, _, err := reg.Register(ctx, owner, "QmTestHash", 500, "tx-reg"); err != nil {
		t.Fatal(err)
	}
	if err := st.Ledger().Credit(ctx, buyer, mustInt(t, "10000000000000000000")); err != nil {
		t.Fatal(err)
	}
	return &fixture{store: st, src: src, reg: reg, s: s}
}

func (f *fixture) balance(t *testing.T, a common.Address) string {
	t.Helper()
	b, err := f.store.Ledger().Balance(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	return b.String()
}

// purchase runs inside a unit of work, the way the engine does.
func (f *fixture) purchase(paid *big.Int) (*Receipt, error) {
	var rc *Receipt
	err := f.store.Do(context.Background(), func(ctx context.Context) error {
		var err error
		rc, err = f.s.Purchase(ctx, buyer, 1, paid, "tx-buy")
		return err
	})
	return rc, err
}

func TestPurchase(t *testing.T) {
	f := newFixture(t)
	rc, err := f.purchase(mustInt(t, "2500000000000000"))
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if rc.Required.String() != "2500000000000000" || rc.Fee.String() != "62500000000000" || rc.Net.String() != "2437500000000000" {
		t.Fatalf("unexpected receipt %+v", rc)
	}
	if new(big.Int).Add(rc.Fee, rc.Net).Cmp(rc.Required) != 0 {
		t.Fatalf("fee + net != required")
	}
	if rc.Excess.Sign() != 0 {
		t.Fatalf("excess = %s", rc.Excess)
	}
	if got := f.balance(t, platform); got != "62500000000000" {
		t.Fatalf("platform balance %s", got)
	}
	if got := f.balance(t, owner); got != "2437500000000000" {
		t.Fatalf("owner balance %s", got)
	}
	if got := f.balance(t, buyer); got != "9997500000000000000" {
		t.Fatalf("buyer balance %s", got)
	}
	if got := f.balance(t, escrow); got != "0" {
		t.Fatalf("escrow balance %s", got)
	}
	g, _ := f.reg.Get(context.Background(), 1)
	if g.TotalSales != 1 {
		t.Fatalf("total sales = %d", g.TotalSales)
	}
	ev := rc.Event
	if ev.Kind != ports.EventGamePurchased || ev.Buyer != buyer || ev.AmountPaid.String() != "2500000000000000" || ev.Fee.String() != "62500000000000" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestPurchaseExcessStaysInEscrow(t *testing.T) {
	f := newFixture(t)
	rc, err := f.purchase(mustInt(t, "3000000000000000"))
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if rc.Excess.String() != "500000000000000" {
		t.Fatalf("excess = %s", rc.Excess)
	}
	if got := f.balance(t, escrow); got != "500000000000000" {
		t.Fatalf("escrow balance %s", got)
	}
	if got := f.balance(t, owner); got != "2437500000000000" {
		t.Fatalf("owner balance %s", got)
	}
	if rc.Event.AmountPaid.String() != "3000000000000000" {
		t.Fatalf("event amount paid %s", rc.Event.AmountPaid)
	}
}

func TestPurchaseInsufficientPayment(t *testing.T) {
	f := newFixture(t)
	_, err := f.purchase(mustInt(t, "2499999999999999"))
	if !errors.Is(err, ports.ErrInsufficientPayment) {
		t.Fatalf("expected insufficient payment, got %v", err)
	}
	if got := f.balance(t, buyer); got != "10000000000000000000" {
		t.Fatalf("buyer balance moved: %s", got)
	}
	if g, _ := f.reg.Get(context.Background(), 1); g.TotalSales != 0 {
		t.Fatalf("total sales = %d", g.TotalSales)
	}
}

func TestPurchaseInactiveGame(t *testing.T) {
	f := newFixture(t)
	if _, err := f.reg.Deactivate(context.Background(), owner, 1, "tx"); err != nil {
		t.Fatal(err)
	}
	_, err := f.purchase(mustInt(t, "2500000000000000"))
	if !errors.Is(err, ports.ErrInactiveGame) || err.Error() != "Game not active" {
		t.Fatalf("expected Game not active, got %v", err)
	}
}

func TestPurchaseUnknownGame(t *testing.T) {
	f := newFixture(t)
	_, err := f.s.Purchase(context.Background(), buyer, 42, big.NewInt(1), "tx")
	if !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPurchaseOracleFailure(t *testing.T) {
	f := newFixture(t)
	f.src.Set(oracle.ETHUSDFeedID, ports.Price{Price: 200000, Expo: -2, PublishTime: now.Add(-2 * time.Minute)})
	if _, err := f.purchase(mustInt(t, "2500000000000000")); !errors.Is(err, ports.ErrOracle) {
		t.Fatalf("expected oracle error for stale price, got %v", err)
	}
	f.src.Remove(oracle.ETHUSDFeedID)
	if _, err := f.purchase(mustInt(t, "2500000000000000")); !errors.Is(err, ports.ErrOracle) {
		t.Fatalf("expected oracle error for unknown feed, got %v", err)
	}
}

func TestPurchaseTransferFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	if err := f.store.RejectFunds(owner, true); err != nil {
		t.Fatalf("reject: %v", err)
	}
	_, err := f.purchase(mustInt(t, "2500000000000000"))
	if !errors.Is(err, ports.ErrTransfer) {
		t.Fatalf("expected transfer error, got %v", err)
	}
	for addr, want := range map[common.Address]string{
		buyer: "10000000000000000000", platform: "0", owner: "0", escrow: "0",
	} {
		if got := f.balance(t, addr); got != want {
			t.Fatalf("balance of %s = %s, want %s", addr.Hex(), got, want)
		}
	}
	if g, _ := f.reg.Get(context.Background(), 1); g.TotalSales != 0 {
		t.Fatalf("total sales = %d", g.TotalSales)
	}
	evs, _ := f.store.Events().List(context.Background(), 0, 0)
	if len(evs) != 1 {
		t.Fatalf("events = %d, want only the registration", len(evs))
	}
}

func TestPurchaseBuyerWithoutFunds(t *testing.T) {
	f := newFixture(t)
	poor := common.HexToAddress("0x0000000000000000000000000000000000000c0c")
	err := f.store.Do(context.Background(), func(ctx context.Context) error {
		_, err := f.s.Purchase(ctx, poor, 1, mustInt(t, "2500000000000000"), "tx")
		return err
	})
	if !errors.Is(err, ports.ErrTransfer) {
		t.Fatalf("expected transfer error, got %v", err)
	}
}

func TestQuote(t *testing.T) {
	f := newFixture(t)
	q, err := f.s.Quote(context.Background(), 1)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Required.String() != "2500000000000000" || q.Fee.String() != "62500000000000" || q.Price.Price != 200000 {
		t.Fatalf("unexpected quote %+v", q)
	}
	if got := f.balance(t, buyer); got != "10000000000000000000" {
		t.Fatalf("quote moved funds: %s", got)
	}
}

func TestRepeatedPurchases(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		if _, err := f.purchase(mustInt(t, "2500000000000000")); err != nil {
			t.Fatalf("purchase %d: %v", i, err)
		}
	}
	if g, _ := f.reg.Get(context.Background(), 1); g.TotalSales != 3 {
		t.Fatalf("total sales = %d", g.TotalSales)
	}
	if got := f.balance(t, platform); got != "187500000000000" {
		t.Fatalf("platform balance %s", got)
	}
}
