package httpserver

import (
    "context"
    "crypto/rand"
    "crypto/tls"
    "encoding/hex"
    "errors"
    "fmt"
    "log"
    "log/slog"
    "net/http"
    "os"
    "strings"
    "time"

    "github.com/ethereum/go-ethereum/common"
    "github.com/gin-gonic/gin"
    "go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

    "github.com/cuihairu/croupier-economy/internal/auth/token"
    "github.com/cuihairu/croupier-economy/internal/economy"
    "github.com/cuihairu/croupier-economy/internal/ports"
)

// Server exposes the economy engine over HTTP.
type Server struct {
    engine  *economy.Engine
    tokens  *token.Manager
    httpSrv *http.Server
}

func NewServer(engine *economy.Engine, tokens *token.Manager) (*Server, error) {
    if engine == nil { return nil, errors.New("httpserver: engine required") }
    return &Server{engine: engine, tokens: tokens}, nil
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
    return otelhttp.NewHandler(s.ginEngine(), "economy-http")
}

func (s *Server) ginEngine() *gin.Engine {
    r := gin.New()
    r.Use(s.ginReqID(), s.ginCORS(), s.ginLogger(), gin.Recovery())
    r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
    s.addEconomyRoutes(r)
    r.NoRoute(func(c *gin.Context) { s.respondError(c, http.StatusNotFound, "not_found", "not found") })
    return r
}

func (s *Server) ListenAndServe(addr string) error {
    return s.ListenAndServeTLS(addr, nil)
}

// ListenAndServeTLS serves HTTPS when tlsCfg is non-nil, plain HTTP otherwise.
func (s *Server) ListenAndServeTLS(addr string, tlsCfg *tls.Config) error {
    s.httpSrv = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second, TLSConfig: tlsCfg}
    var err error
    if tlsCfg != nil {
        log.Printf("[http] economy api listening on %s (tls)", addr)
        err = s.httpSrv.ListenAndServeTLS("", "")
    } else {
        log.Printf("[http] economy api listening on %s", addr)
        err = s.httpSrv.ListenAndServe()
    }
    if err == http.ErrServerClosed {
        return nil
    }
    return err
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
    if s.httpSrv != nil {
        return s.httpSrv.Shutdown(ctx)
    }
    return nil
}

// ginReqID injects/propagates an X-Request-ID for traceability.
func (s *Server) ginReqID() gin.HandlerFunc {
    return func(c *gin.Context) {
        rid := c.Request.Header.Get("X-Request-ID")
        if strings.TrimSpace(rid) == "" {
            b := make([]byte, 16)
            if _, err := rand.Read(b); err == nil {
                rid = hex.EncodeToString(b)
            } else {
                rid = fmt.Sprintf("%d", time.Now().UnixNano())
            }
        }
        c.Set("reqid", rid)
        c.Writer.Header().Set("X-Request-ID", rid)
        c.Next()
    }
}

// ginCORS reads its allowlist from CORS_ALLOW_ORIGINS; wildcard by default for dev.
func (s *Server) ginCORS() gin.HandlerFunc {
    return func(c *gin.Context) {
        w := c.Writer
        allowOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOW_ORIGINS"))
        origin := c.Request.Header.Get("Origin")
        if allowOrigins == "" || allowOrigins == "*" {
            w.Header().Set("Access-Control-Allow-Origin", "*")
        } else if origin != "" {
            for _, o := range strings.Split(allowOrigins, ",") {
                if strings.TrimSpace(o) == origin {
                    w.Header().Set("Access-Control-Allow-Origin", origin)
                    w.Header().Add("Vary", "Origin")
                    break
                }
            }
        }
        w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
        w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
        if c.Request.Method == http.MethodOptions {
            c.Status(http.StatusNoContent)
            c.Abort()
            return
        }
        c.Next()
    }
}

func (s *Server) ginLogger() gin.HandlerFunc {
    return func(c *gin.Context) {
        start := time.Now()
        c.Next()
        dur := time.Since(start)
        lvl := slog.LevelInfo
        st := c.Writer.Status()
        if st >= 500 {
            lvl = slog.LevelError
        } else if st >= 400 {
            lvl = slog.LevelWarn
        }
        rid, _ := c.Get("reqid")
        caller, _ := c.Get("caller")
        slog.Log(c, lvl, "http",
            "method", c.Request.Method,
            "path", c.Request.URL.Path,
            "status", st,
            "bytes", c.Writer.Size(),
            "remote", c.ClientIP(),
            "caller", caller,
            "reqid", rid,
            "dur_ms", dur.Milliseconds(),
        )
    }
}

// respondError sends a unified JSON error body.
func (s *Server) respondError(c *gin.Context, status int, code, message string) {
    type errBody struct {
        Code      string `json:"code"`
        Message   string `json:"message"`
        RequestID string `json:"request_id,omitempty"`
    }
    rid, _ := c.Get("reqid")
    c.AbortWithStatusJSON(status, errBody{Code: code, Message: message, RequestID: fmt.Sprint(rid)})
}

// respondEngineError maps an engine error kind onto an HTTP status.
func (s *Server) respondEngineError(c *gin.Context, err error) {
    kind := ports.KindOf(err)
    switch kind {
    case ports.KindValidation:
        s.respondError(c, http.StatusBadRequest, string(kind), err.Error())
    case ports.KindNotFound:
        s.respondError(c, http.StatusNotFound, string(kind), err.Error())
    case ports.KindAuthorization:
        s.respondError(c, http.StatusForbidden, string(kind), err.Error())
    case ports.KindInactiveGame, ports.KindTransfer:
        s.respondError(c, http.StatusConflict, string(kind), err.Error())
    case ports.KindInsufficientPayment:
        s.respondError(c, http.StatusPaymentRequired, string(kind), err.Error())
    case ports.KindOracle:
        s.respondError(c, http.StatusServiceUnavailable, string(kind), err.Error())
    default:
        slog.Error("engine failure", "path", c.Request.URL.Path, "error", err)
        s.respondError(c, http.StatusInternalServerError, "internal_error", "internal error")
    }
}

// require authenticates the bearer token and returns the caller address.
func (s *Server) require(c *gin.Context) (common.Address, bool) {
    addr, ok := s.auth(c.Request)
    if !ok {
        s.respondError(c, http.StatusUnauthorized, "unauthorized", "unauthorized")
        return common.Address{}, false
    }
    c.Set("caller", addr.Hex())
    return addr, true
}

// auth extracts the caller address from Authorization: Bearer <token>
func (s *Server) auth(r *http.Request) (common.Address, bool) {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(authz, "Bearer ") && s.tokens != nil {
        addr, err := s.tokens.Verify(strings.TrimPrefix(authz, "Bearer "))
        if err == nil {
            return addr, true
        }
    }
    return common.Address{}, false
}
