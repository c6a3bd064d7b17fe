package economy

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "math/big"
    "strings"

    "github.com/ethereum/go-ethereum/common"
    "gorm.io/gorm"
    "gorm.io/gorm/clause"

    "github.com/cuihairu/croupier-economy/internal/ports"
)

// Store provides GORM-based persistence for games, balances and events behind ports.Store.
type Store struct{ db *gorm.DB }

var _ ports.Store = (*Store)(nil)

func AutoMigrate(db *gorm.DB) error {
    return db.AutoMigrate(&Game{}, &Counter{}, &Account{}, &Event{})
}
func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

type txKey struct{}

// conn returns the transaction bound to ctx, if any.
func (s *Store) conn(ctx context.Context) *gorm.DB {
    if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok { return tx }
    return s.db.WithContext(ctx)
}

// Do runs fn in a database transaction. Nested calls join the outer transaction.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context) error) error {
    if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok { return fn(ctx) }
    return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
        return fn(context.WithValue(ctx, txKey{}, tx))
    })
}

func (s *Store) Games() ports.GamesRepository { return (*gamesRepo)(s) }
func (s *Store) Ledger() ports.Ledger         { return (*ledger)(s) }
func (s *Store) Events() ports.EventLog       { return (*eventLog)(s) }

// RejectFunds flags addr so that transfers to it fail.
func (s *Store) RejectFunds(addr common.Address, reject bool) error {
    acc := Account{Address: addr.Hex(), Balance: "0", RejectsFunds: reject}
    err := s.db.Clauses(clause.OnConflict{
        Columns:   []clause.Column{{Name: "address"}},
        DoUpdates: clause.AssignmentColumns([]string{"rejects_funds"}),
    }).Create(&acc).Error
    if err != nil { return fmt.Errorf("reject funds %s: %w", addr.Hex(), err) }
    return nil
}

// ---- games ----

type gamesRepo Store

func (r *gamesRepo) conn(ctx context.Context) *gorm.DB { return (*Store)(r).conn(ctx) }

func (r *gamesRepo) Counter(ctx context.Context) (uint64, error) {
    var c Counter
    err := r.conn(ctx).Where("name = ?", gamesCounter).First(&c).Error
    if errors.Is(err, gorm.ErrRecordNotFound) { return 0, nil }
    if err != nil { return 0, err }
    return c.Value, nil
}

func (r *gamesRepo) Insert(ctx context.Context, g *ports.Game) error {
    cur, err := r.Counter(ctx)
    if err != nil { return err }
    if g.ID != cur+1 {
        return fmt.Errorf("insert game %d: next id is %d", g.ID, cur+1)
    }
    db := r.conn(ctx)
    m := &Game{
        ID: g.ID, Owner: g.Owner.Hex(), MetadataHash: g.MetadataHash, BasePriceUSD: g.BasePriceUSD,
        IsActive: g.IsActive, TotalSales: g.TotalSales, CreatedAt: g.CreatedAt,
    }
    if err := db.Create(m).Error; err != nil { return err }
    return db.Clauses(clause.OnConflict{
        Columns:   []clause.Column{{Name: "name"}},
        DoUpdates: clause.AssignmentColumns([]string{"value"}),
    }).Create(&Counter{Name: gamesCounter, Value: g.ID}).Error
}

func (r *gamesRepo) Get(ctx context.Context, id uint64) (*ports.Game, error) {
    var m Game
    err := r.conn(ctx).First(&m, id).Error
    if errors.Is(err, gorm.ErrRecordNotFound) {
        return nil, ports.NewError(ports.KindNotFound, "Game %d not found", id)
    }
    if err != nil { return nil, err }
    return toDomain(&m), nil
}

func (r *gamesRepo) SetActive(ctx context.Context, id uint64, active bool) error {
    res := r.conn(ctx).Model(&Game{}).Where("id = ?", id).Update("is_active", active)
    if res.Error != nil { return res.Error }
    if res.RowsAffected == 0 {
        return ports.NewError(ports.KindNotFound, "Game %d not found", id)
    }
    return nil
}

func (r *gamesRepo) IncrementSales(ctx context.Context, id uint64) error {
    res := r.conn(ctx).Model(&Game{}).Where("id = ?", id).Update("total_sales", gorm.Expr("total_sales + ?", 1))
    if res.Error != nil { return res.Error }
    if res.RowsAffected == 0 {
        return ports.NewError(ports.KindNotFound, "Game %d not found", id)
    }
    return nil
}

func (r *gamesRepo) ListByOwner(ctx context.Context, owner common.Address) ([]uint64, error) {
    out := []uint64{}
    if err := r.conn(ctx).Model(&Game{}).Where("owner = ?", owner.Hex()).Order("id ASC").Pluck("id", &out).Error; err != nil {
        return nil, err
    }
    return out, nil
}

func toDomain(m *Game) *ports.Game {
    if m == nil { return nil }
    return &ports.Game{
        ID:           m.ID,
        Owner:        common.HexToAddress(m.Owner),
        MetadataHash: m.MetadataHash,
        BasePriceUSD: m.BasePriceUSD,
        CreatedAt:    m.CreatedAt,
        IsActive:     m.IsActive,
        TotalSales:   m.TotalSales,
    }
}

// ---- ledger ----

type ledger Store

func (l *ledger) conn(ctx context.Context) *gorm.DB { return (*Store)(l).conn(ctx) }

func (l *ledger) account(ctx context.Context, addr common.Address) (*Account, *big.Int, error) {
    var acc Account
    err := l.conn(ctx).Where("address = ?", addr.Hex()).First(&acc).Error
    if errors.Is(err, gorm.ErrRecordNotFound) {
        return &Account{Address: addr.Hex(), Balance: "0"}, new(big.Int), nil
    }
    if err != nil { return nil, nil, err }
    bal, ok := new(big.Int).SetString(strings.TrimSpace(acc.Balance), 10)
    if !ok { return nil, nil, fmt.Errorf("account %s: corrupt balance %q", acc.Address, acc.Balance) }
    return &acc, bal, nil
}

func (l *ledger) save(ctx context.Context, acc *Account, bal *big.Int) error {
    acc.Balance = bal.String()
    return l.conn(ctx).Save(acc).Error
}

func (l *ledger) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
    _, bal, err := l.account(ctx, addr)
    return bal, err
}

func (l *ledger) Credit(ctx context.Context, addr common.Address, amount *big.Int) error {
    if amount == nil || amount.Sign() < 0 {
        return fmt.Errorf("credit: invalid amount %v", amount)
    }
    acc, bal, err := l.account(ctx, addr)
    if err != nil { return err }
    return l.save(ctx, acc, bal.Add(bal, amount))
}

func (l *ledger) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
    if amount == nil || amount.Sign() < 0 {
        return fmt.Errorf("transfer: invalid amount %v", amount)
    }
    dst, dstBal, err := l.account(ctx, to)
    if err != nil { return err }
    if dst.RejectsFunds {
        return fmt.Errorf("transfer: recipient %s rejects funds", to.Hex())
    }
    src, srcBal, err := l.account(ctx, from)
    if err != nil { return err }
    if srcBal.Cmp(amount) < 0 {
        return fmt.Errorf("transfer: insufficient balance of %s: have %s, need %s", from.Hex(), srcBal, amount)
    }
    if from == to { return nil }
    if err := l.save(ctx, src, srcBal.Sub(srcBal, amount)); err != nil { return err }
    return l.save(ctx, dst, dstBal.Add(dstBal, amount))
}

// ---- events ----

type eventLog Store

func (e *eventLog) conn(ctx context.Context) *gorm.DB { return (*Store)(e).conn(ctx) }

func (e *eventLog) Append(ctx context.Context, ev *ports.Event) error {
    data, err := json.Marshal(ev)
    if err != nil { return err }
    m := &Event{TxID: ev.TxID, Kind: string(ev.Kind), Topic: ev.Kind.Topic().Hex(), GameID: ev.GameID, Data: data, CreatedAt: ev.Time}
    if err := e.conn(ctx).Create(m).Error; err != nil { return err }
    ev.Seq = m.Seq
    return nil
}

func (e *eventLog) List(ctx context.Context, afterSeq uint64, limit int) ([]*ports.Event, error) {
    q := e.conn(ctx).Where("seq > ?", afterSeq).Order("seq ASC")
    if limit > 0 { q = q.Limit(limit) }
    var rows []*Event
    if err := q.Find(&rows).Error; err != nil { return nil, err }
    out := make([]*ports.Event, 0, len(rows))
    for _, m := range rows {
        var ev ports.Event
        if err := json.Unmarshal(m.Data, &ev); err != nil {
            return nil, fmt.Errorf("event %d: %w", m.Seq, err)
        }
        ev.Seq = m.Seq
        out = append(out, &ev)
    }
    return out, nil
}
