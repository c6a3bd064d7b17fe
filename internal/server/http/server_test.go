package httpserver

import (
    "bytes"
    "context"
    "encoding/json"
    "math/big"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/ethereum/go-ethereum/common"
    "github.com/gin-gonic/gin"

    "github.com/cuihairu/croupier-economy/internal/auth/token"
    "github.com/cuihairu/croupier-economy/internal/economy"
    "github.com/cuihairu/croupier-economy/internal/oracle"
    "github.com/cuihairu/croupier-economy/internal/ports"
    "github.com/cuihairu/croupier-economy/internal/repo/memory"
)

var (
    owner = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
    buyer = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type fixture struct {
    r      *gin.Engine
    src    *oracle.StaticSource
    engine *economy.Engine
    tokens *token.Manager
}

func newFixture(t *testing.T) *fixture {
    t.Helper()
    gin.SetMode(gin.TestMode)
    cfg := economy.DefaultConfig()
    cfg.Address = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
    cfg.OracleAddress = common.HexToAddress("0x4305FB66699C3B2702D4d05CF36551390A4c69C6")
    cfg.PlatformWallet = common.HexToAddress("0x742626ce3c271b8d09e61a5ecf1f59c4b23b9f39")
    src := oracle.NewStaticSource()
    src.Set(oracle.ETHUSDFeedID, ports.Price{Price: 200000, Expo: -2, PublishTime: time.Now()})
    e, err := economy.New(cfg, memory.New(), src)
    if err != nil { t.Fatalf("engine: %v", err) }
    tm := token.NewManager("test-secret")
    s, err := NewServer(e, tm)
    if err != nil { t.Fatalf("server: %v", err) }
    return &fixture{r: s.ginEngine(), src: src, engine: e, tokens: tm}
}

func (f *fixture) do(t *testing.T, method, path string, who *common.Address, body any) (*httptest.ResponseRecorder, map[string]any) {
    t.Helper()
    var buf bytes.Buffer
    if body != nil {
        if s, ok := body.(string); ok {
            buf.WriteString(s)
        } else if err := json.NewEncoder(&buf).Encode(body); err != nil {
            t.Fatal(err)
        }
    }
    req := httptest.NewRequest(method, path, &buf)
    req.Header.Set("Content-Type", "application/json")
    if who != nil {
        tok, err := f.tokens.Sign(*who, time.Hour)
        if err != nil { t.Fatal(err) }
        req.Header.Set("Authorization", "Bearer "+tok)
    }
    w := httptest.NewRecorder()
    f.r.ServeHTTP(w, req)
    out := map[string]any{}
    _ = json.Unmarshal(w.Body.Bytes(), &out)
    return w, out
}

func TestHealthAndConfig(t *testing.T) {
    f := newFixture(t)
    w, _ := f.do(t, http.MethodGet, "/healthz", nil, nil)
    if w.Code != http.StatusOK { t.Fatalf("healthz %d", w.Code) }
    if w.Header().Get("X-Request-ID") == "" { t.Fatalf("missing request id") }
    w, body := f.do(t, http.MethodGet, "/api/config", nil, nil)
    if w.Code != http.StatusOK || body["platform_fee_bps"] != float64(250) {
        t.Fatalf("config %d %v", w.Code, body)
    }
    if body["price_feed_id"] != oracle.ETHUSDFeedID.Hex() { t.Fatalf("feed id %v", body["price_feed_id"]) }
}

func TestRegisterRequiresAuth(t *testing.T) {
    f := newFixture(t)
    w, body := f.do(t, http.MethodPost, "/api/games", nil, map[string]any{"metadata_hash": "Qm", "base_price_usd": 500})
    if w.Code != http.StatusUnauthorized || body["code"] != "unauthorized" {
        t.Fatalf("expected 401, got %d %v", w.Code, body)
    }
    if body["request_id"] == "" { t.Fatalf("missing request_id in error body") }
}

func TestRegisterValidation(t *testing.T) {
    f := newFixture(t)
    w, body := f.do(t, http.MethodPost, "/api/games", &owner, map[string]any{"metadata_hash": "Qm", "base_price_usd": 0})
    if w.Code != http.StatusBadRequest || body["message"] != "Price must be greater than 0" {
        t.Fatalf("zero price: %d %v", w.Code, body)
    }
    w, body = f.do(t, http.MethodPost, "/api/games", &owner, map[string]any{"metadata_hash": "", "base_price_usd": 500})
    if w.Code != http.StatusBadRequest || body["message"] != "Metadata hash required" {
        t.Fatalf("empty hash: %d %v", w.Code, body)
    }
    w, _ = f.do(t, http.MethodPost, "/api/games", &owner, map[string]any{"base_price_usd": -1})
    if w.Code != http.StatusBadRequest { t.Fatalf("schema violation: %d", w.Code) }
    w, _ = f.do(t, http.MethodPost, "/api/games", &owner, "{not json")
    if w.Code != http.StatusBadRequest { t.Fatalf("bad json: %d", w.Code) }
}

func TestGameFlow(t *testing.T) {
    f := newFixture(t)
    w, body := f.do(t, http.MethodPost, "/api/games", &owner, map[string]any{"metadata_hash": "QmTestHash123", "base_price_usd": 500})
    if w.Code != http.StatusCreated || body["id"] != float64(1) || body["owner"] != owner.Hex() {
        t.Fatalf("register: %d %v", w.Code, body)
    }

    w, body = f.do(t, http.MethodGet, "/api/games/1/quote", nil, nil)
    if w.Code != http.StatusOK || body["required"] != "2500000000000000" || body["fee"] != "62500000000000" {
        t.Fatalf("quote: %d %v", w.Code, body)
    }

    w, _ = f.do(t, http.MethodPost, "/api/games/1/deactivate", &buyer, nil)
    if w.Code != http.StatusForbidden { t.Fatalf("non-owner deactivate: %d", w.Code) }
    w, body = f.do(t, http.MethodPost, "/api/games/1/deactivate", &owner, nil)
    if w.Code != http.StatusOK || body["is_active"] != false { t.Fatalf("deactivate: %d %v", w.Code, body) }

    w, _ = f.do(t, http.MethodPost, "/api/games/1/purchase", &buyer, map[string]any{"amount_paid": "2500000000000000"})
    if w.Code != http.StatusConflict { t.Fatalf("inactive purchase: %d", w.Code) }
    w, _ = f.do(t, http.MethodPost, "/api/games/1/reactivate", &owner, nil)
    if w.Code != http.StatusOK { t.Fatalf("reactivate: %d", w.Code) }

    // buyer has no funds yet
    w, _ = f.do(t, http.MethodPost, "/api/games/1/purchase", &buyer, map[string]any{"amount_paid": "2500000000000000"})
    if w.Code != http.StatusConflict { t.Fatalf("unfunded purchase: %d", w.Code) }

    if err := f.engine.Fund(context.Background(), buyer, mustBig("1000000000000000000")); err != nil { t.Fatal(err) }
    w, _ = f.do(t, http.MethodPost, "/api/games/1/purchase", &buyer, map[string]any{"amount_paid": "1"})
    if w.Code != http.StatusPaymentRequired { t.Fatalf("insufficient: %d", w.Code) }
    w, body = f.do(t, http.MethodPost, "/api/games/1/purchase", &buyer, map[string]any{"amount_paid": "2500000000000000"})
    if w.Code != http.StatusOK || body["net"] != "2437500000000000" || body["excess"] != "0" {
        t.Fatalf("purchase: %d %v", w.Code, body)
    }

    w, body = f.do(t, http.MethodGet, "/api/games/1", nil, nil)
    if w.Code != http.StatusOK || body["total_sales"] != float64(1) { t.Fatalf("game: %d %v", w.Code, body) }
    w, body = f.do(t, http.MethodGet, "/api/balances/"+owner.Hex(), nil, nil)
    if w.Code != http.StatusOK || body["balance"] != "2437500000000000" { t.Fatalf("balance: %d %v", w.Code, body) }
    w, body = f.do(t, http.MethodGet, "/api/owners/"+owner.Hex()+"/games", nil, nil)
    if ids, _ := body["game_ids"].([]any); w.Code != http.StatusOK || len(ids) != 1 { t.Fatalf("owner games: %d %v", w.Code, body) }
    w, body = f.do(t, http.MethodGet, "/api/stats", nil, nil)
    if body["game_counter"] != float64(1) { t.Fatalf("stats: %v", body) }

    w, body = f.do(t, http.MethodGet, "/api/events?after=0&limit=10", nil, nil)
    evs, _ := body["events"].([]any)
    if w.Code != http.StatusOK || len(evs) != 4 { t.Fatalf("events: %d %v", w.Code, body) }
    last := evs[3].(map[string]any)
    if last["kind"] != "GamePurchased" || last["fee"] != "62500000000000" { t.Fatalf("last event %v", last) }
}

func TestNotFoundAndBadParams(t *testing.T) {
    f := newFixture(t)
    if w, _ := f.do(t, http.MethodGet, "/api/games/99", nil, nil); w.Code != http.StatusNotFound { t.Fatalf("missing game: %d", w.Code) }
    if w, _ := f.do(t, http.MethodGet, "/api/games/abc", nil, nil); w.Code != http.StatusBadRequest { t.Fatalf("bad id: %d", w.Code) }
    if w, _ := f.do(t, http.MethodGet, "/api/balances/nope", nil, nil); w.Code != http.StatusBadRequest { t.Fatalf("bad address: %d", w.Code) }
    if w, _ := f.do(t, http.MethodGet, "/api/events?limit=0", nil, nil); w.Code != http.StatusBadRequest { t.Fatalf("bad limit: %d", w.Code) }
    if w, _ := f.do(t, http.MethodGet, "/nowhere", nil, nil); w.Code != http.StatusNotFound { t.Fatalf("no route: %d", w.Code) }
}

func TestOracleUnavailable(t *testing.T) {
    f := newFixture(t)
    if w, _ := f.do(t, http.MethodPost, "/api/games", &owner, map[string]any{"metadata_hash": "Qm", "base_price_usd": 500}); w.Code != http.StatusCreated {
        t.Fatalf("register: %d", w.Code)
    }
    f.src.Remove(oracle.ETHUSDFeedID)
    w, body := f.do(t, http.MethodGet, "/api/games/1/quote", nil, nil)
    if w.Code != http.StatusServiceUnavailable || body["code"] != "oracle" { t.Fatalf("quote: %d %v", w.Code, body) }
}

func mustBig(s string) *big.Int {
    v, ok := new(big.Int).SetString(s, 10)
    if !ok { panic(s) }
    return v
}
