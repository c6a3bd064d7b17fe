// Package registry owns the game catalog: id allocation, the owner index and
// the owner-controlled active flag.
package registry

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cuihairu/croupier-economy/internal/auth/rbac"
	"github.com/cuihairu/croupier-economy/internal/ports"
)

// Authorizer decides whether caller may perform act on a game owned by owner.
type Authorizer interface {
	CanManage(caller, owner common.Address, act string) bool
}

type Registry struct {
	games  ports.GamesRepository
	events ports.EventLog
	authz  Authorizer
	now    func() time.Time
}

func New(games ports.GamesRepository, events ports.EventLog, authz Authorizer, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{games: games, events: events, authz: authz, now: now}
}

// Register validates input, allocates the next id and records the game under owner.
// Callers must run it inside a unit of work.
func (r *Registry) Register(ctx context.Context, owner common.Address, metadataHash string, basePriceUSD uint64, txID string) (*ports.Game, *ports.Event, error) {
	if basePriceUSD == 0 {
		return nil, nil, ports.NewError(ports.KindValidation, "Price must be greater than 0")
	}
	if metadataHash == "" {
		return nil, nil, ports.NewError(ports.KindValidation, "Metadata hash required")
	}
	cur, err := r.games.Counter(ctx)
	if err != nil {
		return nil, nil, err
	}
	now := r.now().UTC()
	g := &ports.Game{
		ID:           cur + 1,
		Owner:        owner,
		MetadataHash: metadataHash,
		BasePriceUSD: basePriceUSD,
		CreatedAt:    now,
		IsActive:     true,
	}
	if err := r.games.Insert(ctx, g); err != nil {
		return nil, nil, err
	}
	ev := &ports.Event{
		TxID: txID, Kind: ports.EventGameRegistered, GameID: g.ID, Time: now,
		Owner: owner, MetadataHash: metadataHash, BasePriceUSD: basePriceUSD,
	}
	if err := r.events.Append(ctx, ev); err != nil {
		return nil, nil, err
	}
	return g.Clone(), ev, nil
}

// Deactivate hides a game from purchase. A redundant call is a no-op and returns a nil event.
func (r *Registry) Deactivate(ctx context.Context, caller common.Address, id uint64, txID string) (*ports.Event, error) {
	return r.setActive(ctx, caller, id, false, rbac.ActDeactivate, txID)
}

// Reactivate makes a deactivated game purchasable again. A redundant call is a no-op.
func (r *Registry) Reactivate(ctx context.Context, caller common.Address, id uint64, txID string) (*ports.Event, error) {
	return r.setActive(ctx, caller, id, true, rbac.ActReactivate, txID)
}

func (r *Registry) setActive(ctx context.Context, caller common.Address, id uint64, active bool, act, txID string) (*ports.Event, error) {
	g, err := r.games.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.authz.CanManage(caller, g.Owner, act) {
		return nil, ports.NewError(ports.KindAuthorization, "Not game owner")
	}
	if g.IsActive == active {
		return nil, nil
	}
	if err := r.games.SetActive(ctx, id, active); err != nil {
		return nil, err
	}
	ev := &ports.Event{TxID: txID, Kind: ports.EventGameStatusChanged, GameID: id, IsActive: active, Time: r.now().UTC()}
	if err := r.events.Append(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Get returns a snapshot of the game.
func (r *Registry) Get(ctx context.Context, id uint64) (*ports.Game, error) {
	return r.games.Get(ctx, id)
}

// OwnerGames lists ids registered by owner, oldest first. Unknown owners get an empty slice.
func (r *Registry) OwnerGames(ctx context.Context, owner common.Address) ([]uint64, error) {
	ids, err := r.games.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []uint64{}
	}
	return ids, nil
}

// Counter is the number of games ever registered, including inactive ones.
func (r *Registry) Counter(ctx context.Context) (uint64, error) {
	return r.games.Counter(ctx)
}

// RecordSale bumps the sales counter; only settlement calls it.
func (r *Registry) RecordSale(ctx context.Context, id uint64) error {
	return r.games.IncrementSales(ctx, id)
}
