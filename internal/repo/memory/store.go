// Package memory is an in-process ports.Store. Transactions snapshot the whole
// state and restore it when the unit of work fails.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cuihairu/croupier-economy/internal/ports"
)

type state struct {
	counter  uint64
	games    map[uint64]*ports.Game
	owners   map[common.Address][]uint64
	balances map[common.Address]*big.Int
	events   []*ports.Event
}

func newState() *state {
	return &state{
		games:    map[uint64]*ports.Game{},
		owners:   map[common.Address][]uint64{},
		balances: map[common.Address]*big.Int{},
	}
}

func (s *state) clone() *state {
	c := &state{
		counter:  s.counter,
		games:    make(map[uint64]*ports.Game, len(s.games)),
		owners:   make(map[common.Address][]uint64, len(s.owners)),
		balances: make(map[common.Address]*big.Int, len(s.balances)),
		events:   make([]*ports.Event, len(s.events)),
	}
	for id, g := range s.games {
		c.games[id] = g.Clone()
	}
	for o, ids := range s.owners {
		c.owners[o] = append([]uint64(nil), ids...)
	}
	for a, b := range s.balances {
		c.balances[a] = new(big.Int).Set(b)
	}
	copy(c.events, s.events) // events are immutable once appended
	return c
}

type txKey struct{}

// Store implements ports.Store in memory.
type Store struct {
	txMu sync.Mutex // one unit of work at a time
	mu   sync.RWMutex
	st   *state
	// recipients that refuse incoming transfers
	rejects map[common.Address]bool
}

var _ ports.Store = (*Store)(nil)

func New() *Store { return &Store{st: newState(), rejects: map[common.Address]bool{}} }

func (s *Store) Games() ports.GamesRepository { return (*gamesRepo)(s) }
func (s *Store) Ledger() ports.Ledger         { return (*ledger)(s) }
func (s *Store) Events() ports.EventLog       { return (*eventLog)(s) }

// Do runs fn under a snapshot; any error restores the snapshot. Nested calls join the outer unit.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.RLock()
	snap := s.st.clone()
	s.mu.RUnlock()
	defer func() {
		if r := recover(); r != nil {
			s.restore(snap)
			panic(r)
		}
		if err != nil {
			s.restore(snap)
		}
	}()
	return fn(context.WithValue(ctx, txKey{}, true))
}

func (s *Store) restore(snap *state) {
	s.mu.Lock()
	s.st = snap
	s.mu.Unlock()
}

// RejectFunds makes transfers to addr fail, like a contract without a payable fallback.
func (s *Store) RejectFunds(addr common.Address, reject bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reject {
		s.rejects[addr] = true
	} else {
		delete(s.rejects, addr)
	}
	return nil
}

type gamesRepo Store

func (r *gamesRepo) Counter(context.Context) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.st.counter, nil
}

func (r *gamesRepo) Insert(_ context.Context, g *ports.Game) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g.ID != r.st.counter+1 {
		return fmt.Errorf("insert game %d: next id is %d", g.ID, r.st.counter+1)
	}
	r.st.games[g.ID] = g.Clone()
	r.st.owners[g.Owner] = append(r.st.owners[g.Owner], g.ID)
	r.st.counter = g.ID
	return nil
}

func (r *gamesRepo) Get(_ context.Context, id uint64) (*ports.Game, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.st.games[id]
	if !ok {
		return nil, ports.NewError(ports.KindNotFound, "Game %d not found", id)
	}
	return g.Clone(), nil
}

func (r *gamesRepo) SetActive(_ context.Context, id uint64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.st.games[id]
	if !ok {
		return ports.NewError(ports.KindNotFound, "Game %d not found", id)
	}
	g.IsActive = active
	return nil
}

func (r *gamesRepo) IncrementSales(_ context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.st.games[id]
	if !ok {
		return ports.NewError(ports.KindNotFound, "Game %d not found", id)
	}
	g.TotalSales++
	return nil
}

func (r *gamesRepo) ListByOwner(_ context.Context, owner common.Address) ([]uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]uint64{}, r.st.owners[owner]...), nil
}

type ledger Store

func (l *ledger) Balance(_ context.Context, addr common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.st.balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (l *ledger) Credit(_ context.Context, addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("credit: invalid amount %v", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.add(addr, amount)
	return nil
}

func (l *ledger) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("transfer: invalid amount %v", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rejects[to] {
		return fmt.Errorf("transfer: recipient %s rejects funds", to.Hex())
	}
	bal := l.st.balances[from]
	if bal == nil {
		bal = new(big.Int)
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("transfer: insufficient balance of %s: have %s, need %s", from.Hex(), bal, amount)
	}
	l.st.balances[from] = new(big.Int).Sub(bal, amount)
	l.add(to, amount)
	return nil
}

func (l *ledger) add(addr common.Address, amount *big.Int) {
	cur := l.st.balances[addr]
	if cur == nil {
		cur = new(big.Int)
	}
	l.st.balances[addr] = new(big.Int).Add(cur, amount)
}

type eventLog Store

func (e *eventLog) Append(_ context.Context, ev *ports.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ev.Seq = uint64(len(e.st.events)) + 1
	e.st.events = append(e.st.events, ev.Clone())
	return nil
}

func (e *eventLog) List(_ context.Context, afterSeq uint64, limit int) ([]*ports.Event, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := []*ports.Event{}
	for i := afterSeq; i < uint64(len(e.st.events)); i++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, e.st.events[i].Clone())
	}
	return out, nil
}
