package httpserver

import (
    "encoding/json"
    "io"
    "math/big"
    "net/http"
    "strconv"
    "time"

    "github.com/ethereum/go-ethereum/common"
    "github.com/gin-gonic/gin"
    "github.com/xeipuuv/gojsonschema"

    "github.com/cuihairu/croupier-economy/internal/oracle"
    "github.com/cuihairu/croupier-economy/internal/ports"
    "github.com/cuihairu/croupier-economy/internal/settlement"
)

const maxBody = 64 << 10

type gameView struct {
    ID           uint64 `json:"id"`
    Owner        string `json:"owner"`
    MetadataHash string `json:"metadata_hash"`
    BasePriceUSD uint64 `json:"base_price_usd"`
    CreatedAt    string `json:"created_at"`
    IsActive     bool   `json:"is_active"`
    TotalSales   uint64 `json:"total_sales"`
}

func toGameView(g *ports.Game) gameView {
    return gameView{
        ID: g.ID, Owner: g.Owner.Hex(), MetadataHash: g.MetadataHash, BasePriceUSD: g.BasePriceUSD,
        CreatedAt: g.CreatedAt.UTC().Format(time.RFC3339), IsActive: g.IsActive, TotalSales: g.TotalSales,
    }
}

type priceView struct {
    Price       int64  `json:"price"`
    Conf        uint64 `json:"conf"`
    Expo        int32  `json:"expo"`
    PublishTime string `json:"publish_time"`
    USD         string `json:"usd"`
}

type quoteView struct {
    GameID   uint64    `json:"game_id"`
    Required string    `json:"required"`
    Fee      string    `json:"fee"`
    Net      string    `json:"net"`
    Price    priceView `json:"price"`
}

func toQuoteView(q *settlement.Quote) quoteView {
    return quoteView{
        GameID: q.GameID, Required: q.Required.String(), Fee: q.Fee.String(), Net: q.Net.String(),
        Price: priceView{
            Price: q.Price.Price, Conf: q.Price.Conf, Expo: q.Price.Expo,
            PublishTime: q.Price.PublishTime.UTC().Format(time.RFC3339), USD: oracle.FormatUSD(q.Price),
        },
    }
}

// amounts render as decimal strings so clients never lose precision
type eventView struct {
    Seq          uint64  `json:"seq"`
    TxID         string  `json:"tx_id"`
    Kind         string  `json:"kind"`
    Topic        string  `json:"topic"`
    GameID       uint64  `json:"game_id"`
    Time         string  `json:"time"`
    Owner        string  `json:"owner,omitempty"`
    MetadataHash string  `json:"metadata_hash,omitempty"`
    BasePriceUSD uint64  `json:"base_price_usd,omitempty"`
    Buyer        string  `json:"buyer,omitempty"`
    AmountPaid   string  `json:"amount_paid,omitempty"`
    Fee          string  `json:"fee,omitempty"`
    Net          string  `json:"net,omitempty"`
    IsActive     *bool   `json:"is_active,omitempty"`
}

func toEventView(ev *ports.Event) eventView {
    v := eventView{Seq: ev.Seq, TxID: ev.TxID, Kind: string(ev.Kind), Topic: ev.Kind.Topic().Hex(), GameID: ev.GameID, Time: ev.Time.UTC().Format(time.RFC3339Nano)}
    switch ev.Kind {
    case ports.EventGameRegistered:
        v.Owner, v.MetadataHash, v.BasePriceUSD = ev.Owner.Hex(), ev.MetadataHash, ev.BasePriceUSD
    case ports.EventGamePurchased:
        v.Buyer = ev.Buyer.Hex()
        v.AmountPaid, v.Fee, v.Net = bigString(ev.AmountPaid), bigString(ev.Fee), bigString(ev.Net)
    case ports.EventGameStatusChanged:
        active := ev.IsActive
        v.IsActive = &active
    }
    return v
}

func bigString(v *big.Int) string {
    if v == nil { return "0" }
    return v.String()
}

func (s *Server) addEconomyRoutes(r *gin.Engine) {
    r.GET("/api/config", func(c *gin.Context) {
        c.JSON(http.StatusOK, gin.H{
            "address":          s.engine.Address().Hex(),
            "oracle_address":   s.engine.OracleAddress().Hex(),
            "platform_wallet":  s.engine.PlatformWallet().Hex(),
            "platform_fee_bps": s.engine.PlatformFee(),
            "price_feed_id":    s.engine.PriceFeedID().Hex(),
            "decimals":         s.engine.Decimals(),
            "max_price_age_s":  int64(s.engine.MaxPriceAge() / time.Second),
        })
    })
    r.GET("/api/stats", func(c *gin.Context) {
        n, err := s.engine.GameCounter(c.Request.Context())
        if err != nil { s.respondEngineError(c, err); return }
        c.JSON(http.StatusOK, gin.H{"game_counter": n})
    })
    r.GET("/api/games/:id", func(c *gin.Context) {
        id, ok := s.gameID(c)
        if !ok { return }
        g, err := s.engine.GetGame(c.Request.Context(), id)
        if err != nil { s.respondEngineError(c, err); return }
        c.JSON(http.StatusOK, toGameView(g))
    })
    r.GET("/api/games/:id/quote", func(c *gin.Context) {
        id, ok := s.gameID(c)
        if !ok { return }
        q, err := s.engine.Quote(c.Request.Context(), id)
        if err != nil { s.respondEngineError(c, err); return }
        c.JSON(http.StatusOK, toQuoteView(q))
    })
    r.GET("/api/owners/:address/games", func(c *gin.Context) {
        addr, ok := s.address(c)
        if !ok { return }
        ids, err := s.engine.OwnerGames(c.Request.Context(), addr)
        if err != nil { s.respondEngineError(c, err); return }
        c.JSON(http.StatusOK, gin.H{"owner": addr.Hex(), "game_ids": ids})
    })
    r.GET("/api/balances/:address", func(c *gin.Context) {
        addr, ok := s.address(c)
        if !ok { return }
        bal, err := s.engine.Balance(c.Request.Context(), addr)
        if err != nil { s.respondEngineError(c, err); return }
        c.JSON(http.StatusOK, gin.H{"address": addr.Hex(), "balance": bal.String()})
    })
    r.GET("/api/events", func(c *gin.Context) {
        after, err := strconv.ParseUint(c.DefaultQuery("after", "0"), 10, 64)
        if err != nil { s.respondError(c, http.StatusBadRequest, "bad_request", "invalid after"); return }
        limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
        if err != nil || limit <= 0 || limit > 1000 { s.respondError(c, http.StatusBadRequest, "bad_request", "limit must be 1..1000"); return }
        evs, err := s.engine.Events(c.Request.Context(), after, limit)
        if err != nil { s.respondEngineError(c, err); return }
        out := make([]eventView, 0, len(evs))
        for _, ev := range evs {
            out = append(out, toEventView(ev))
        }
        c.JSON(http.StatusOK, gin.H{"events": out})
    })

    r.POST("/api/games", func(c *gin.Context) {
        caller, ok := s.require(c)
        if !ok { return }
        var in struct {
            MetadataHash string `json:"metadata_hash"`
            BasePriceUSD uint64 `json:"base_price_usd"`
        }
        if !s.bindBody(c, registerGameSchema, &in) { return }
        g, err := s.engine.RegisterGame(c.Request.Context(), caller, in.MetadataHash, in.BasePriceUSD)
        if err != nil { s.respondEngineError(c, err); return }
        c.JSON(http.StatusCreated, toGameView(g))
    })
    r.POST("/api/games/:id/deactivate", func(c *gin.Context) { s.toggle(c, false) })
    r.POST("/api/games/:id/reactivate", func(c *gin.Context) { s.toggle(c, true) })
    r.POST("/api/games/:id/purchase", func(c *gin.Context) {
        buyer, ok := s.require(c)
        if !ok { return }
        id, ok := s.gameID(c)
        if !ok { return }
        var in struct {
            AmountPaid string `json:"amount_paid"`
        }
        if !s.bindBody(c, purchaseSchema, &in) { return }
        paid, ok := new(big.Int).SetString(in.AmountPaid, 10)
        if !ok { s.respondError(c, http.StatusBadRequest, "bad_request", "invalid amount_paid"); return }
        rc, err := s.engine.Purchase(c.Request.Context(), buyer, id, paid)
        if err != nil { s.respondEngineError(c, err); return }
        c.JSON(http.StatusOK, gin.H{
            "tx_id":    rc.TxID,
            "game_id":  rc.GameID,
            "buyer":    rc.Buyer.Hex(),
            "owner":    rc.Owner.Hex(),
            "paid":     rc.Paid.String(),
            "required": rc.Required.String(),
            "fee":      rc.Fee.String(),
            "net":      rc.Net.String(),
            "excess":   rc.Excess.String(),
            "event":    toEventView(rc.Event),
        })
    })
}

func (s *Server) toggle(c *gin.Context, active bool) {
    caller, ok := s.require(c)
    if !ok { return }
    id, ok := s.gameID(c)
    if !ok { return }
    var err error
    if active {
        err = s.engine.ReactivateGame(c.Request.Context(), caller, id)
    } else {
        err = s.engine.DeactivateGame(c.Request.Context(), caller, id)
    }
    if err != nil { s.respondEngineError(c, err); return }
    g, err := s.engine.GetGame(c.Request.Context(), id)
    if err != nil { s.respondEngineError(c, err); return }
    c.JSON(http.StatusOK, toGameView(g))
}

func (s *Server) gameID(c *gin.Context) (uint64, bool) {
    id, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || id == 0 {
        s.respondError(c, http.StatusBadRequest, "bad_request", "invalid game id")
        return 0, false
    }
    return id, true
}

func (s *Server) address(c *gin.Context) (common.Address, bool) {
    raw := c.Param("address")
    if !common.IsHexAddress(raw) {
        s.respondError(c, http.StatusBadRequest, "bad_request", "invalid address")
        return common.Address{}, false
    }
    return common.HexToAddress(raw), true
}

// bindBody validates the request body against schema before decoding it into out.
func (s *Server) bindBody(c *gin.Context, schema *gojsonschema.Schema, out any) bool {
    body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
    if err != nil {
        s.respondError(c, http.StatusBadRequest, "bad_request", "read body failed")
        return false
    }
    if !json.Valid(body) {
        s.respondError(c, http.StatusBadRequest, "bad_request", "invalid payload")
        return false
    }
    if err := validateBody(schema, body); err != nil {
        s.respondError(c, http.StatusBadRequest, "bad_request", err.Error())
        return false
    }
    if err := json.Unmarshal(body, out); err != nil {
        s.respondError(c, http.StatusBadRequest, "bad_request", "invalid payload")
        return false
    }
    return true
}
