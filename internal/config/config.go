// Package config loads the edgelink TOML file into the structs the core
// packages take. Parsing and environment lookups stay here.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/edgelink/internal/admin"
	"github.com/danmuck/edgelink/internal/gateway"
	"github.com/danmuck/edgelink/internal/logging"
	"github.com/danmuck/edgelink/internal/protocol/session"
	"github.com/danmuck/edgelink/internal/rest"
)

const EnvToken = "EDGELINK_TOKEN"

var ErrInvalidConfig = errors.New("config: invalid")

// Config is the resolved runtime configuration.
type Config struct {
	Gateway GatewaySettings
	REST    RESTSettings
	Admin   AdminSettings
	Log     LogSettings
}

type GatewaySettings struct {
	Token string
	// URL pins the gateway; empty means discovery through GET /gateway/bot.
	URL        string
	Intents    uint64
	ShardID    int
	ShardCount int
	Session    session.Config
}

type RESTSettings struct {
	BaseURL        string
	UserAgent      string
	RetryLimit     int
	RequestTimeout time.Duration
}

type AdminSettings struct {
	Enabled     bool
	Addr        string
	Name        string
	StatusToken string
	CorsOrigins []string
}

type LogSettings struct {
	Level string
}

// Default returns the configuration used for anything the file omits.
func Default() Config {
	restDefaults := rest.DefaultConfig()
	return Config{
		Gateway: GatewaySettings{
			Intents: 513,
			Session: session.DefaultConfig(),
		},
		REST: RESTSettings{
			BaseURL:        "https://discord.com/api/v10",
			UserAgent:      restDefaults.UserAgent,
			RetryLimit:     restDefaults.RetryLimit,
			RequestTimeout: restDefaults.RequestTimeout,
		},
		Admin: AdminSettings{
			Enabled: true,
			Addr:    "127.0.0.1:9400",
			Name:    "edgelink",
		},
		Log: LogSettings{Level: "info"},
	}
}

// Load reads path over Default. Only keys present in the file override
// defaults; EDGELINK_TOKEN overrides the file token.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %s", ErrInvalidConfig, undecoded[0])
	}
	if err := raw.apply(meta, &cfg); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv(EnvToken)); token != "" {
		cfg.Gateway.Token = token
	}
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Gateway.Token) == "" {
		return fmt.Errorf("%w: gateway token missing (set token or %s)", ErrInvalidConfig, EnvToken)
	}
	if strings.TrimSpace(cfg.REST.BaseURL) == "" {
		return fmt.Errorf("%w: rest base_url missing", ErrInvalidConfig)
	}
	if cfg.Gateway.ShardCount < 0 || cfg.Gateway.ShardID < 0 {
		return fmt.Errorf("%w: shard values must be non-negative", ErrInvalidConfig)
	}
	if cfg.Gateway.ShardCount > 0 && cfg.Gateway.ShardID >= cfg.Gateway.ShardCount {
		return fmt.Errorf("%w: shard_id %d out of range for shard_count %d", ErrInvalidConfig, cfg.Gateway.ShardID, cfg.Gateway.ShardCount)
	}
	if cfg.Gateway.Session.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%w: max_reconnect_attempts must be >= 0", ErrInvalidConfig)
	}
	switch session.NormalizeSecurityMode(cfg.Gateway.Session.SecurityMode) {
	case session.SecurityModeDevelopment, session.SecurityModeProduction:
	default:
		return fmt.Errorf("%w: security_mode %q", ErrInvalidConfig, cfg.Gateway.Session.SecurityMode)
	}
	if cfg.Gateway.URL != "" {
		if _, err := gateway.StaticEndpoint(cfg.Gateway.URL).GatewayURL(context.Background()); err != nil {
			return fmt.Errorf("%w: gateway url: %v", ErrInvalidConfig, err)
		}
	}
	if _, ok := logging.ParseLevel(cfg.Log.Level); !ok && cfg.Log.Level != "" {
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, cfg.Log.Level)
	}
	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.Addr) == "" {
		return fmt.Errorf("%w: admin addr missing", ErrInvalidConfig)
	}
	return nil
}

// GatewayConfig builds the gateway client config.
func (c Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		Token:      c.Gateway.Token,
		Intents:    c.Gateway.Intents,
		ShardID:    c.Gateway.ShardID,
		ShardCount: c.Gateway.ShardCount,
		Session:    c.Gateway.Session,
	}
}

// RESTConfig builds the dispatcher config.
func (c Config) RESTConfig() rest.Config {
	return rest.Config{
		BaseURL:        c.REST.BaseURL,
		Token:          c.Gateway.Token,
		UserAgent:      c.REST.UserAgent,
		RetryLimit:     c.REST.RetryLimit,
		RequestTimeout: c.REST.RequestTimeout,
	}
}

// AdminConfig builds the admin server config.
func (c Config) AdminConfig() admin.Config {
	return admin.Config{
		Addr:        c.Admin.Addr,
		Name:        c.Admin.Name,
		StatusToken: c.Admin.StatusToken,
		CorsOrigins: c.Admin.CorsOrigins,
	}
}

// LoggingConfig is the runtime logging profile at the configured level.
func (c Config) LoggingConfig() logging.Config {
	cfg := logging.RuntimeDefaults()
	if lvl, ok := logging.ParseLevel(c.Log.Level); ok {
		cfg.Level = lvl
	}
	return cfg
}
