package main

import (
    "fmt"
    "log"
    "os"
    "time"

    gethcommon "github.com/ethereum/go-ethereum/common"
    "github.com/spf13/cobra"

    "github.com/cuihairu/croupier-economy/internal/auth/token"
    common "github.com/cuihairu/croupier-economy/internal/cli/common"
    servecmd "github.com/cuihairu/croupier-economy/internal/cli/servecmd"
)

func main() {
    root := &cobra.Command{Use: "economy", Short: "Game marketplace economy engine"}

    root.AddCommand(servecmd.New())
    root.AddCommand(tokenCmd())

    // completion
    comp := &cobra.Command{Use: "completion [bash|zsh|fish|powershell]", Short: "Generate shell completion"}
    comp.Run = func(cmd *cobra.Command, args []string) {
        if len(args) == 0 { log.Fatalf("specify a shell: bash|zsh|fish|powershell") }
        sh := args[0]
        switch sh {
        case "bash": root.GenBashCompletion(os.Stdout)
        case "zsh": root.GenZshCompletion(os.Stdout)
        case "fish": root.GenFishCompletion(os.Stdout, true)
        case "powershell": root.GenPowerShellCompletionWithDesc(os.Stdout)
        default: log.Fatalf("unknown shell: %s", sh)
        }
    }
    root.AddCommand(comp)

    root.AddCommand(configCmd())

    if err := root.Execute(); err != nil { log.Fatal(err) }
}

// tokenCmd issues a bearer token for an address (dev only).
func tokenCmd() *cobra.Command {
    var addr, secret string
    var ttl time.Duration
    cmd := &cobra.Command{
        Use:   "token",
        Short: "Issue an API bearer token for an address (DEV ONLY)",
        RunE: func(cmd *cobra.Command, args []string) error {
            if !gethcommon.IsHexAddress(addr) { return fmt.Errorf("--address: %q is not an address", addr) }
            if secret == "" { secret = os.Getenv(common.EnvPrefix + "_JWT_SECRET") }
            tok, err := token.NewManager(secret).Sign(gethcommon.HexToAddress(addr), ttl)
            if err != nil { return err }
            fmt.Println(tok)
            return nil
        },
    }
    cmd.Flags().StringVar(&addr, "address", "", "caller address (0x...)")
    cmd.Flags().StringVar(&secret, "secret", "", "HS256 secret (default $ECONOMY_JWT_SECRET)")
    cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
    return cmd
}

func configCmd() *cobra.Command {
    cfg := &cobra.Command{Use: "config", Short: "Config utilities"}
    test := &cobra.Command{Use: "test", Short: "Validate and print effective engine config"}
    var cfgFile, profile string
    var strict bool
    test.Flags().StringVar(&cfgFile, "config", "", "config file path")
    test.Flags().StringVar(&profile, "profile", "", "optional profile overlay")
    test.Flags().BoolVar(&strict, "strict", true, "require production settings (secret, files)")
    test.RunE = func(cmd *cobra.Command, args []string) error {
        if cfgFile == "" { return fmt.Errorf("--config required") }
        v, err := common.Load(cfgFile, profile)
        if err != nil { return err }
        if err := common.ValidateEconomyConfig(v, strict); err != nil { return err }
        ec, _ := common.EngineConfig(v)
        fmt.Printf("engine=%s oracle=%s wallet=%s feed=%s fee_bps=%d decimals=%d\n",
            ec.Address.Hex(), ec.OracleAddress.Hex(), ec.PlatformWallet.Hex(), ec.PriceFeedID.Hex(), ec.PlatformFeeBps, ec.Decimals)
        fmt.Println("economy config OK")
        return nil
    }
    cfg.AddCommand(test)
    return cfg
}
