package common

import (
    "context"
    "io"
    "log"
    "log/slog"
    "os"
    "strings"
    "sync/atomic"

    "github.com/spf13/viper"
    lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// SetupLoggerWithFile configures both std log and slog default logger.
// format: console|json; level: debug|info|warn|error.
// If filePath != "", logs write to a rotating file.
func SetupLoggerWithFile(level, format, filePath string, maxSizeMB, maxBackups, maxAgeDays int, compress bool) {
    var w io.Writer = os.Stderr
    if strings.TrimSpace(filePath) != "" {
        w = &lumberjack.Logger{Filename: filePath, MaxSize: maxSizeMB, MaxBackups: maxBackups, MaxAge: maxAgeDays, Compress: compress}
    }
    opts := &slog.HandlerOptions{Level: ParseLevel(level)}
    var h slog.Handler
    if strings.ToLower(format) == "json" {
        h = slog.NewJSONHandler(w, opts)
    } else {
        h = slog.NewTextHandler(w, opts)
    }
    h = &countHandler{next: h}
    slog.SetDefault(slog.New(h))
    // std log bridge to same writer (keep std flags minimal when json)
    if strings.ToLower(format) == "json" {
        log.SetFlags(0)
    } else {
        log.SetFlags(log.LstdFlags | log.Lmicroseconds)
    }
    log.SetOutput(w)
}

// SetupLogger applies the log.* keys of v.
func SetupLogger(v *viper.Viper) {
    SetupLoggerWithFile(
        v.GetString("log.level"),
        v.GetString("log.format"),
        v.GetString("log.file"),
        v.GetInt("log.max_size"),
        v.GetInt("log.max_backups"),
        v.GetInt("log.max_age"),
        v.GetBool("log.compress"),
    )
}

func ParseLevel(level string) slog.Level {
    switch strings.ToLower(strings.TrimSpace(level)) {
    case "debug": return slog.LevelDebug
    case "warn", "warning": return slog.LevelWarn
    case "error": return slog.LevelError
    }
    return slog.LevelInfo
}

// --------- counters for log levels ----------

var cntDebug, cntInfo, cntWarn, cntError atomic.Int64

type countHandler struct{ next slog.Handler }

func (c *countHandler) Enabled(ctx context.Context, lvl slog.Level) bool { return c.next.Enabled(ctx, lvl) }
func (c *countHandler) Handle(ctx context.Context, rec slog.Record) error {
    switch {
    case rec.Level >= slog.LevelError:
        cntError.Add(1)
    case rec.Level >= slog.LevelWarn:
        cntWarn.Add(1)
    case rec.Level >= slog.LevelInfo:
        cntInfo.Add(1)
    default:
        cntDebug.Add(1)
    }
    return c.next.Handle(ctx, rec)
}
func (c *countHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return &countHandler{next: c.next.WithAttrs(attrs)} }
func (c *countHandler) WithGroup(name string) slog.Handler       { return &countHandler{next: c.next.WithGroup(name)} }

// GetLogCounters returns current log counters by level.
func GetLogCounters() map[string]int64 {
    d := cntDebug.Load(); i := cntInfo.Load(); w := cntWarn.Load(); e := cntError.Load()
    return map[string]int64{"debug": d, "info": i, "warn": w, "error": e, "total": d + i + w + e}
}

// MergeLogSection lifts flat log_level/log_format/log_file keys into log.*, so
// older single-level files keep working.
func MergeLogSection(v *viper.Viper) {
    for _, k := range []string{"level", "format", "file", "max_size", "max_backups", "max_age", "compress"} {
        if flat := "log_" + k; v.IsSet(flat) && !v.IsSet("log."+k) {
            v.Set("log."+k, v.Get(flat))
        }
    }
}
