// Package config holds the host configuration of the control plane.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/inoueakimitsu/cline/sys"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 3000
	DefaultToken    = "cline-control-default-token"
	DefaultStateTTL = 10 * time.Minute

	DefaultRedisTimeout = 5 * time.Second
)

var (
	ErrNonLoopbackHost = sys.ErrNonLoopbackHost
	ErrInvalidPort     = errors.New("invalid port")
	ErrMissingToken    = errors.New("token is required")
)

// Duration is a time.Duration that reads human strings such as "10m" or "1d".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v, err := ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return str2duration.String(time.Duration(d)), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ParseDuration parses s, treating a bare number as seconds.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	v, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", s)
	}
	return v, nil
}

type Config struct {
	Port          int      `yaml:"port"`
	Token         string   `yaml:"token"`
	Host          string   `yaml:"host"`
	ReadTimeout   Duration `yaml:"read_timeout"`
	StateTTL      Duration `yaml:"state_ttl"`
	AuthRateLimit float64  `yaml:"auth_rate_limit"`
	AuthRateBurst int      `yaml:"auth_rate_burst"`
	RedisURL      string   `yaml:"redis_url"`
	RedisTimeout  Duration `yaml:"redis_timeout"`
	MetricsAddr   string   `yaml:"metrics_addr"`
	MetricsToken  string   `yaml:"metrics_token"`
	OTLPURL       string   `yaml:"otlp_url"`
	OTLPToken     string   `yaml:"otlp_token"`
	LogLevel      string   `yaml:"log_level"`
	LogFormat     string   `yaml:"log_format"`
	LogFile       string   `yaml:"log_file"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:          DefaultPort,
		Token:         DefaultToken,
		Host:          DefaultHost,
		StateTTL:      Duration(DefaultStateTTL),
		RedisTimeout:  Duration(DefaultRedisTimeout),
		AuthRateBurst: 5,
		LogLevel:      "info",
		LogFormat:     "console",
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	buf, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// UsesDefaultToken reports whether the placeholder token is in effect.
func (c Config) UsesDefaultToken() bool {
	return c.Token == DefaultToken
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.Wrapf(ErrInvalidPort, "%d", c.Port)
	}
	if c.Token == "" {
		return ErrMissingToken
	}
	if !sys.IsLoopbackHost(c.Host) {
		return errors.Wrapf(ErrNonLoopbackHost, "%q", c.Host)
	}
	if c.MetricsAddr != "" && !sys.IsLoopbackHost(c.MetricsAddr) {
		return errors.Wrapf(ErrNonLoopbackHost, "metrics address %q", c.MetricsAddr)
	}
	if c.ReadTimeout < 0 {
		return errors.New("read_timeout must not be negative")
	}
	if c.RedisTimeout <= 0 {
		return errors.New("redis_timeout must be positive")
	}
	if c.StateTTL <= 0 {
		return errors.New("state_ttl must be positive")
	}
	if c.AuthRateLimit < 0 {
		return errors.New("auth_rate_limit must not be negative")
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return errors.Newf("unknown log_format %q", c.LogFormat)
	}
	return nil
}
