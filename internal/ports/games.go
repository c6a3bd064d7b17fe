package ports

import (
    "context"
    "math/big"
    "time"

    "github.com/ethereum/go-ethereum/common"
)

// Game is the domain DTO used by services/handlers. It mirrors the DB model but avoids GORM tags.
type Game struct {
    ID           uint64
    Owner        common.Address
    MetadataHash string
    BasePriceUSD uint64 // cents
    CreatedAt    time.Time
    IsActive     bool
    TotalSales   uint64
}

// Clone returns a detached copy so callers never share the stored record.
func (g *Game) Clone() *Game {
    if g == nil { return nil }
    c := *g
    return &c
}

// GamesRepository defines persistence for the game table, the id counter and the owner index.
type GamesRepository interface {
    // Counter returns the number of games ever registered (the last allocated id).
    Counter(ctx context.Context) (uint64, error)
    // Insert stores g and advances the counter. g.ID must equal Counter()+1.
    Insert(ctx context.Context, g *Game) error
    // Get returns ErrNotFound when the id was never allocated.
    Get(ctx context.Context, id uint64) (*Game, error)
    SetActive(ctx context.Context, id uint64, active bool) error
    IncrementSales(ctx context.Context, id uint64) error
    // ListByOwner returns ids in registration order; never nil.
    ListByOwner(ctx context.Context, owner common.Address) ([]uint64, error)
}

// Ledger holds settlement-asset balances in minor units.
type Ledger interface {
    Balance(ctx context.Context, addr common.Address) (*big.Int, error)
    Credit(ctx context.Context, addr common.Address, amount *big.Int) error
    Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
}

// EventLog is the append-only audit log of committed state changes.
type EventLog interface {
    // Append assigns ev.Seq.
    Append(ctx context.Context, ev *Event) error
    List(ctx context.Context, afterSeq uint64, limit int) ([]*Event, error)
}

// UnitOfWork runs fn atomically: every write made through the store inside fn
// is committed together or not at all.
type UnitOfWork interface {
    Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store bundles the repositories that share one transactional boundary.
type Store interface {
    UnitOfWork
    Games() GamesRepository
    Ledger() Ledger
    Events() EventLog
}
