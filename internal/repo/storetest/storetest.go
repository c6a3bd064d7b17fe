// Package storetest holds behaviour checks shared by every ports.Store implementation.
package storetest

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cuihairu/croupier-economy/internal/ports"
)

// Rejecter is implemented by stores that can simulate recipients refusing funds.
type Rejecter interface {
	RejectFunds(addr common.Address, reject bool) error
}

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func game(id uint64, owner common.Address) *ports.Game {
	return &ports.Game{ID: id, Owner: owner, MetadataHash: "QmHash", BasePriceUSD: 500, CreatedAt: time.Now().UTC().Truncate(time.Second), IsActive: true}
}

// Run executes the shared checks against stores built by newStore.
func Run(t *testing.T, newStore func(t *testing.T) ports.Store) {
	t.Run("GamesCounterAndOwnerIndex", func(t *testing.T) { testGames(t, newStore(t)) })
	t.Run("InsertRequiresNextID", func(t *testing.T) { testInsertNextID(t, newStore(t)) })
	t.Run("Ledger", func(t *testing.T) { testLedger(t, newStore(t)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, newStore(t)) })
	t.Run("UnitOfWorkRollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("RejectFunds", func(t *testing.T) { testReject(t, newStore(t)) })
}

func testGames(t *testing.T, s ports.Store) {
	ctx := context.Background()
	gr := s.Games()
	if n, err := gr.Counter(ctx); err != nil || n != 0 {
		t.Fatalf("fresh counter = %d, %v", n, err)
	}
	for i, owner := range []common.Address{alice, bob, alice} {
		if err := gr.Insert(ctx, game(uint64(i+1), owner)); err != nil {
			t.Fatalf("insert %d: %v", i+1, err)
		}
	}
	if n, _ := gr.Counter(ctx); n != 3 {
		t.Fatalf("counter = %d, want 3", n)
	}
	ids, err := gr.ListByOwner(ctx, alice)
	if err != nil || len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Fatalf("alice games = %v, %v", ids, err)
	}
	none, err := gr.ListByOwner(ctx, common.HexToAddress("0x1234"))
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("unknown owner games = %#v, %v", none, err)
	}
	if err := gr.SetActive(ctx, 2, false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if err := gr.IncrementSales(ctx, 2); err != nil {
		t.Fatalf("increment: %v", err)
	}
	g, err := gr.Get(ctx, 2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if g.Owner != bob || g.IsActive || g.TotalSales != 1 || g.MetadataHash != "QmHash" || g.BasePriceUSD != 500 {
		t.Fatalf("unexpected game %+v", g)
	}
	// deactivation keeps the owner index intact
	if ids, _ := gr.ListByOwner(ctx, bob); len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("bob games = %v", ids)
	}
	if _, err := gr.Get(ctx, 99); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := gr.SetActive(ctx, 99, true); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected not found on set active, got %v", err)
	}
	if err := gr.IncrementSales(ctx, 99); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected not found on increment, got %v", err)
	}
}

func testInsertNextID(t *testing.T, s ports.Store) {
	ctx := context.Background()
	if err := s.Games().Insert(ctx, game(2, alice)); err == nil {
		t.Fatalf("expected gap insert to fail")
	}
	if err := s.Games().Insert(ctx, game(1, alice)); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if err := s.Games().Insert(ctx, game(1, alice)); err == nil {
		t.Fatalf("expected duplicate insert to fail")
	}
}

func testLedger(t *testing.T, s ports.Store) {
	ctx := context.Background()
	l := s.Ledger()
	if b, err := l.Balance(ctx, alice); err != nil || b.Sign() != 0 {
		t.Fatalf("fresh balance = %v, %v", b, err)
	}
	big1e18, _ := new(big.Int).SetString("1000000000000000000", 10)
	if err := l.Credit(ctx, alice, big1e18); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := l.Transfer(ctx, alice, bob, big.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	a, _ := l.Balance(ctx, alice)
	b, _ := l.Balance(ctx, bob)
	if a.String() != "999999999999999600" || b.Int64() != 400 {
		t.Fatalf("balances alice=%s bob=%s", a, b)
	}
	if err := l.Transfer(ctx, bob, alice, big.NewInt(401)); err == nil {
		t.Fatalf("expected insufficient balance")
	}
	if err := l.Credit(ctx, alice, big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative credit to fail")
	}
}

func testEvents(t *testing.T, s ports.Store) {
	ctx := context.Background()
	evs := []*ports.Event{
		{TxID: "t1", Kind: ports.EventGameRegistered, GameID: 1, Owner: alice, MetadataHash: "Qm1", BasePriceUSD: 500, Time: time.Now().UTC()},
		{TxID: "t2", Kind: ports.EventGameStatusChanged, GameID: 1, IsActive: false, Time: time.Now().UTC()},
		{TxID: "t3", Kind: ports.EventGamePurchased, GameID: 1, Buyer: bob, AmountPaid: big.NewInt(100), Fee: big.NewInt(2), Net: big.NewInt(98), Time: time.Now().UTC()},
	}
	for i, ev := range evs {
		if err := s.Events().Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
		if ev.Seq != uint64(i+1) {
			t.Fatalf("seq = %d, want %d", ev.Seq, i+1)
		}
	}
	all, err := s.Events().List(ctx, 0, 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("list = %d, %v", len(all), err)
	}
	if all[0].Owner != alice || all[0].MetadataHash != "Qm1" {
		t.Fatalf("registered event = %+v", all[0])
	}
	if all[2].Buyer != bob || all[2].Fee.Int64() != 2 || all[2].Net.Int64() != 98 || all[2].AmountPaid.Int64() != 100 {
		t.Fatalf("purchased event = %+v", all[2])
	}
	page, _ := s.Events().List(ctx, 1, 1)
	if len(page) != 1 || page[0].Seq != 2 || page[0].TxID != "t2" {
		t.Fatalf("page = %+v", page)
	}
}

func testRollback(t *testing.T, s ports.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.Do(ctx, func(ctx context.Context) error {
		if err := s.Games().Insert(ctx, game(1, alice)); err != nil {
			return err
		}
		if err := s.Ledger().Credit(ctx, alice, big.NewInt(10)); err != nil {
			return err
		}
		if err := s.Events().Append(ctx, &ports.Event{Kind: ports.EventGameRegistered, GameID: 1, Time: time.Now().UTC()}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n, _ := s.Games().Counter(ctx); n != 0 {
		t.Fatalf("counter after rollback = %d", n)
	}
	if ids, _ := s.Games().ListByOwner(ctx, alice); len(ids) != 0 {
		t.Fatalf("owner index after rollback = %v", ids)
	}
	if b, _ := s.Ledger().Balance(ctx, alice); b.Sign() != 0 {
		t.Fatalf("balance after rollback = %s", b)
	}
	if evs, _ := s.Events().List(ctx, 0, 0); len(evs) != 0 {
		t.Fatalf("events after rollback = %d", len(evs))
	}

	// commit path
	if err := s.Do(ctx, func(ctx context.Context) error {
		return s.Games().Insert(ctx, game(1, alice))
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if n, _ := s.Games().Counter(ctx); n != 1 {
		t.Fatalf("counter after commit = %d", n)
	}
}

func testReject(t *testing.T, s ports.Store) {
	r, ok := s.(Rejecter)
	if !ok {
		t.Skip("store cannot simulate rejecting recipients")
	}
	ctx := context.Background()
	_ = s.Ledger().Credit(ctx, alice, big.NewInt(10))
	if err := r.RejectFunds(bob, true); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := s.Ledger().Transfer(ctx, alice, bob, big.NewInt(1)); err == nil {
		t.Fatalf("expected rejecting recipient to fail")
	}
	if err := r.RejectFunds(bob, false); err != nil {
		t.Fatalf("unreject: %v", err)
	}
	if err := s.Ledger().Transfer(ctx, alice, bob, big.NewInt(1)); err != nil {
		t.Fatalf("transfer after unreject: %v", err)
	}
}
