package main

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/inoueakimitsu/cline/cache"
	"github.com/inoueakimitsu/cline/config"
	"github.com/inoueakimitsu/cline/env"
	"github.com/inoueakimitsu/cline/tui"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "cline-control",
	Short:         "Local control plane for a Cline session",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading CLINE_* variables")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (console or json)")
	rootCmd.PersistentFlags().String("log-file", "", "also append log entries to this file")
	rootCmd.PersistentFlags().String("redis-url", "", "redis url for shared state and event fan-out")
	rootCmd.PersistentFlags().String("redis-timeout", "", "per-operation redis timeout (default 5s)")
	rootCmd.PersistentFlags().String("session-id", "", "session id, shared between serve and auth-url")
	rootCmd.AddCommand(serveCmd, tokenCmd, authURLCmd, watchCmd)
}

// loadConfig reads the env file and config file, then overlays flags and
// CLINE_* variables.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	if fn, _ := cmd.Flags().GetString("env-file"); fn != "" {
		if err := env.LoadEnvFile(fn); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load(env.FlagOrEnv(cmd, "config", env.Prefix+"CONFIG", ""))
	if err != nil {
		return cfg, err
	}
	cfg.Host = env.FlagOrEnv(cmd, "host", env.Prefix+"HOST", cfg.Host)
	cfg.Token = env.FlagOrEnv(cmd, "token", env.Prefix+"TOKEN", cfg.Token)
	cfg.RedisURL = env.FlagOrEnv(cmd, "redis-url", env.Prefix+"REDIS_URL", cfg.RedisURL)
	cfg.MetricsAddr = env.FlagOrEnv(cmd, "metrics-addr", env.Prefix+"METRICS_ADDR", cfg.MetricsAddr)
	cfg.MetricsToken = env.FlagOrEnv(cmd, "metrics-token", env.Prefix+"METRICS_TOKEN", cfg.MetricsToken)
	cfg.LogFile = env.FlagOrEnv(cmd, "log-file", env.Prefix+"LOG_FILE", cfg.LogFile)
	cfg.LogLevel = env.FlagOrEnv(cmd, "log-level", env.Prefix+"LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = env.FlagOrEnv(cmd, "log-format", env.Prefix+"LOG_FORMAT", cfg.LogFormat)
	cfg.OTLPURL = env.FlagOrEnv(cmd, "otlp-url", env.Prefix+"OTLP_URL", cfg.OTLPURL)
	cfg.OTLPToken = env.FlagOrEnv(cmd, "otlp-token", env.Prefix+"OTLP_TOKEN", cfg.OTLPToken)
	if port := env.FlagOrEnv(cmd, "port", env.Prefix+"PORT", ""); port != "" {
		if cfg.Port, err = strconv.Atoi(port); err != nil {
			return cfg, config.ErrInvalidPort
		}
	}
	for _, d := range []struct {
		flag string
		dst  *config.Duration
	}{
		{"state-ttl", &cfg.StateTTL},
		{"redis-timeout", &cfg.RedisTimeout},
	} {
		raw := env.FlagOrEnv(cmd, d.flag, env.Prefix+strings.ToUpper(strings.ReplaceAll(d.flag, "-", "_")), "")
		if raw == "" {
			continue
		}
		v, err := config.ParseDuration(raw)
		if err != nil {
			return cfg, err
		}
		*d.dst = config.Duration(v)
	}
	// the logger and telemetry helpers read these flags directly
	for flag, val := range map[string]string{
		"log-level":  cfg.LogLevel,
		"log-format": cfg.LogFormat,
		"log-file":   cfg.LogFile,
		"otlp-url":   cfg.OTLPURL,
		"otlp-token": cfg.OTLPToken,
	} {
		if f := cmd.Flags().Lookup(flag); f != nil && !f.Changed && val != "" {
			_ = cmd.Flags().Set(flag, val)
		}
	}
	return cfg, cfg.Validate()
}

// redisStore returns the shared cache used by serve, auth-url and watch.
func redisStore(rdb *redis.Client, cfg config.Config) cache.Cache {
	return cache.NewRedis(rdb,
		cache.WithPrefix("cline"),
		cache.WithExpires(cfg.StateTTL.Std()),
		cache.WithQueryTimeout(cfg.RedisTimeout.Std()),
	)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		tui.ShowError("%s", err)
		os.Exit(1)
	}
}
