package economy

import (
    "time"

    "gorm.io/datatypes"
)

// Game is the DB model for a registered game. IDs are allocated by the engine, not the database.
type Game struct {
    ID           uint64 `gorm:"primaryKey;autoIncrement:false"`
    Owner        string `gorm:"size:42;not null;index:idx_games_owner"`
    MetadataHash string `gorm:"type:text;not null"`
    BasePriceUSD uint64 `gorm:"not null"`
    IsActive     bool
    TotalSales   uint64
    CreatedAt    time.Time
    UpdatedAt    time.Time
}

// Counter holds named monotonic counters (currently only "games").
type Counter struct {
    Name  string `gorm:"primaryKey;size:32"`
    Value uint64
}

func (Counter) TableName() string { return "economy_counters" }

// Account is a settlement-asset balance. Balance is a base-10 integer string (minor units).
type Account struct {
    Address      string `gorm:"primaryKey;size:42"`
    Balance      string `gorm:"type:text;not null"`
    RejectsFunds bool
    UpdatedAt    time.Time
}

// Event is one row of the append-only audit log; Data is the full JSON event.
type Event struct {
    Seq       uint64 `gorm:"primaryKey;autoIncrement"`
    TxID      string `gorm:"size:64;index"`
    Kind      string `gorm:"size:32;index"`
    Topic     string `gorm:"size:66"`
    GameID    uint64 `gorm:"index"`
    Data      datatypes.JSON
    CreatedAt time.Time
}

func (Event) TableName() string { return "economy_events" }

const gamesCounter = "games"
