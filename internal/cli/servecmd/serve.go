package servecmd

import (
    "context"
    "crypto/tls"
    "fmt"
    "log"
    "log/slog"
    "os/signal"
    "strings"
    "syscall"
    "time"

    gethcommon "github.com/ethereum/go-ethereum/common"
    "github.com/spf13/cobra"
    "github.com/spf13/viper"

    auditchain "github.com/cuihairu/croupier-economy/internal/audit/chain"
    "github.com/cuihairu/croupier-economy/internal/auth/token"
    common "github.com/cuihairu/croupier-economy/internal/cli/common"
    "github.com/cuihairu/croupier-economy/internal/db"
    "github.com/cuihairu/croupier-economy/internal/economy"
    "github.com/cuihairu/croupier-economy/internal/eventbus"
    "github.com/cuihairu/croupier-economy/internal/oracle"
    "github.com/cuihairu/croupier-economy/internal/ports"
    "github.com/cuihairu/croupier-economy/internal/repo/memory"
    gormeconomy "github.com/cuihairu/croupier-economy/internal/repo/gorm/economy"
    httpserver "github.com/cuihairu/croupier-economy/internal/server/http"
    "github.com/cuihairu/croupier-economy/internal/telemetry"
    "github.com/cuihairu/croupier-economy/internal/tlsutil"
)

// New returns the `economy serve` command.
func New() *cobra.Command {
    var cfgFile, profile string
    cmd := &cobra.Command{
        Use:   "serve",
        Short: "Run the marketplace economy HTTP API",
        RunE: func(cmd *cobra.Command, args []string) error {
            v, err := common.Load(cfgFile, profile)
            if err != nil { return fmt.Errorf("load config: %w", err) }
            if cfgFile != "" { log.Printf("[config] using %s (profile=%q)", cfgFile, profile) }
            common.SetupLogger(v)
            if err := common.ValidateEconomyConfig(v, false); err != nil { return fmt.Errorf("config invalid: %w", err) }
            if msg := common.SecretWarning(v); msg != "" { slog.Warn("[security] " + msg) }

            ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
            defer stop()
            return run(ctx, v)
        },
    }
    cmd.Flags().StringVar(&cfgFile, "config", "", "config file (yaml)")
    cmd.Flags().StringVar(&profile, "profile", "", "profile overlay: sepolia|localhost|mainnet")
    return cmd
}

func run(ctx context.Context, v *viper.Viper) error {
    cfg, err := common.EngineConfig(v)
    if err != nil { return err }

    var opts []economy.Option
    tcfg, err := common.TelemetryConfig(v)
    if err != nil { return err }
    if tcfg.EnableMetrics || tcfg.EnableTracing {
        prov, err := telemetry.NewProvider(ctx, tcfg)
        if err != nil { return fmt.Errorf("telemetry: %w", err) }
        defer func() {
            sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
            defer cancel()
            if err := prov.Shutdown(sctx); err != nil { slog.Warn("telemetry shutdown", "error", err) }
        }()
        if prov.Metrics != nil { opts = append(opts, economy.WithMetrics(prov.Metrics.WithDecimals(cfg.Decimals))) }
    }

    store, err := openStore(v)
    if err != nil { return err }

    prices, closePrices, err := openPrices(ctx, v, cfg)
    if err != nil { return err }
    defer closePrices()

    pubs, err := openPublishers(v)
    if err != nil { return err }
    opts = append(opts, economy.WithPublishers(pubs...), economy.WithLogger(slog.Default()))

    eng, err := economy.New(cfg, store, prices, opts...)
    if err != nil {
        closeAll(pubs)
        return fmt.Errorf("engine: %w", err)
    }
    defer eng.Close()

    if err := applyGenesis(ctx, v, eng); err != nil { return err }

    srv, err := httpserver.NewServer(eng, token.NewManager(v.GetString("jwt_secret")))
    if err != nil { return err }
    var tlsCfg *tls.Config
    if cert := v.GetString("tls.cert"); cert != "" {
        if tlsCfg, err = tlsutil.ServerConfig(cert, v.GetString("tls.key"), v.GetString("tls.client_ca")); err != nil {
            return fmt.Errorf("load TLS: %w", err)
        }
    }
    errCh := make(chan error, 1)
    go func() { errCh <- srv.ListenAndServeTLS(v.GetString("http_addr"), tlsCfg) }()

    select {
    case err := <-errCh:
        return err
    case <-ctx.Done():
    }
    log.Printf("[shutdown] draining http")
    sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    return srv.Shutdown(sctx)
}

func openStore(v *viper.Viper) (ports.Store, error) {
    switch strings.ToLower(v.GetString("store.driver")) {
    case "gorm", "sql":
        gdb, err := db.Open(v.GetString("store.dsn"))
        if err != nil { return nil, fmt.Errorf("open db: %w", err) }
        if err := gormeconomy.AutoMigrate(gdb); err != nil { return nil, fmt.Errorf("migrate: %w", err) }
        log.Printf("[store] gorm store ready")
        return gormeconomy.NewStore(gdb), nil
    default:
        log.Printf("[store] in-memory store (state is lost on exit)")
        return memory.New(), nil
    }
}

// openPrices builds the configured price source. The returned func releases it.
func openPrices(ctx context.Context, v *viper.Viper, cfg economy.Config) (ports.PriceSource, func(), error) {
    noop := func() {}
    switch src := strings.ToLower(v.GetString("oracle.source")); src {
    case "file":
        fs := oracle.NewFileSource(v.GetString("oracle.file"))
        if err := fs.Load(); err != nil { return nil, noop, fmt.Errorf("oracle file: %w", err) }
        if err := fs.Watch(ctx); err != nil { return nil, noop, fmt.Errorf("oracle file watch: %w", err) }
        return fs, noop, nil
    case "redis":
        rs, err := oracle.NewRedisSource(v.GetString("oracle.redis_url"), v.GetString("oracle.redis_prefix"))
        if err != nil { return nil, noop, fmt.Errorf("oracle redis: %w", err) }
        return rs, func() { _ = rs.Close() }, nil
    case "hermes":
        return oracle.NewHermesSource(v.GetString("oracle.hermes_url"), v.GetDuration("oracle.hermes_timeout")), noop, nil
    case "static":
        ss := oracle.NewStaticSource()
        p := ports.Price{
            Price: v.GetInt64("oracle.static.price"),
            Conf:  uint64(v.GetInt64("oracle.static.conf")),
            Expo:  v.GetInt32("oracle.static.expo"),
        }
        go keepFresh(ctx, ss, cfg.PriceFeedID, p, refreshEvery(cfg.MaxPriceAge))
        return ss, noop, nil
    default:
        return nil, noop, fmt.Errorf("oracle.source: unsupported %q", src)
    }
}

func refreshEvery(maxAge time.Duration) time.Duration {
    if maxAge <= 0 { maxAge = oracle.DefaultMaxAge }
    return maxAge / 2
}

// keepFresh republishes a fixed reading so it never goes stale.
func keepFresh(ctx context.Context, ss *oracle.StaticSource, feed gethcommon.Hash, p ports.Price, every time.Duration) {
    p.PublishTime = time.Now()
    ss.Set(feed, p)
    t := time.NewTicker(every)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case now := <-t.C:
            p.PublishTime = now
            ss.Set(feed, p)
        }
    }
}

func openPublishers(v *viper.Viper) ([]ports.EventPublisher, error) {
    var pubs []ports.EventPublisher
    if path := v.GetString("audit.file"); path != "" {
        w, err := auditchain.NewWriter(path)
        if err != nil { return nil, fmt.Errorf("audit: %w", err) }
        log.Printf("[audit] hash chain at %s", path)
        pubs = append(pubs, w)
    }
    bcfg, err := common.EventBusConfig(v)
    if err != nil {
        closeAll(pubs)
        return nil, err
    }
    bus, err := eventbus.New(bcfg)
    if err != nil {
        closeAll(pubs)
        return nil, fmt.Errorf("eventbus: %w", err)
    }
    return append(pubs, bus), nil
}

func closeAll(pubs []ports.EventPublisher) {
    for _, p := range pubs { _ = p.Close() }
}

// applyGenesis credits the configured balances on an empty ledger only, so a
// restart over a persistent store does not mint twice.
func applyGenesis(ctx context.Context, v *viper.Viper, eng *economy.Engine) error {
    entries, err := common.Genesis(v)
    if err != nil || len(entries) == 0 { return err }
    for _, g := range entries {
        bal, err := eng.Balance(ctx, g.Address)
        if err != nil { return fmt.Errorf("genesis: %w", err) }
        if bal.Sign() != 0 {
            log.Printf("[genesis] %s already funded, skipping", g.Address.Hex())
            continue
        }
        if err := eng.Fund(ctx, g.Address, g.Amount); err != nil { return fmt.Errorf("genesis %s: %w", g.Address.Hex(), err) }
        log.Printf("[genesis] credited %s with %s", g.Address.Hex(), g.Amount)
    }
    return nil
}
