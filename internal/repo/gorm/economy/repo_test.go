package economy

import (
    "testing"

    "github.com/ethereum/go-ethereum/common"
    "github.com/glebarez/sqlite"
    "gorm.io/gorm"
    "gorm.io/gorm/logger"

    "github.com/cuihairu/croupier-economy/internal/ports"
    "github.com/cuihairu/croupier-economy/internal/repo/storetest"
)

// newTestDB returns a sqlite in-memory DB pinned to one connection.
func newTestDB(t *testing.T) *gorm.DB {
    t.Helper()
    db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
    if err != nil { t.Fatalf("open sqlite: %v", err) }
    sqlDB, err := db.DB()
    if err != nil { t.Fatalf("sql db: %v", err) }
    sqlDB.SetMaxOpenConns(1)
    t.Cleanup(func() { _ = sqlDB.Close() })
    if err := AutoMigrate(db); err != nil { t.Fatalf("migrate: %v", err) }
    return db
}

func TestStore(t *testing.T) {
    storetest.Run(t, func(t *testing.T) ports.Store { return NewStore(newTestDB(t)) })
}

func TestRejectFundsReportsWriteFailure(t *testing.T) {
    db := newTestDB(t)
    s := NewStore(db)
    sqlDB, err := db.DB()
    if err != nil { t.Fatalf("sql db: %v", err) }
    _ = sqlDB.Close()
    if err := s.RejectFunds(common.HexToAddress("0xb0b"), true); err == nil {
        t.Fatalf("expected error from closed db")
    }
}
