package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/edgelink/internal/protocol/session"
	gotoml "github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors the on-disk layout. Durations are strings such as
// "1500ms" or "10s".
type fileConfig struct {
	Gateway fileGateway `toml:"gateway"`
	REST    fileREST    `toml:"rest"`
	Admin   fileAdmin   `toml:"admin"`
	Log     fileLog     `toml:"log"`
}

type fileGateway struct {
	Token                string `toml:"token"`
	URL                  string `toml:"url"`
	Intents              uint64 `toml:"intents"`
	ShardID              int    `toml:"shard_id"`
	ShardCount           int    `toml:"shard_count"`
	ConnectTimeout       string `toml:"connect_timeout"`
	HandshakeTimeout     string `toml:"handshake_timeout"`
	WriteTimeout         string `toml:"write_timeout"`
	InvalidSessionDelay  string `toml:"invalid_session_delay"`
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
	ReconnectDelay       string `toml:"reconnect_delay"`
	ReconnectMaxDelay    string `toml:"reconnect_max_delay"`
	ReconnectJitter      bool   `toml:"reconnect_jitter"`
	SendLimit            int    `toml:"send_limit"`
	SendWindow           string `toml:"send_window"`
	SecurityMode         string `toml:"security_mode"`
	CAFile               string `toml:"ca_file"`
	ServerName           string `toml:"server_name"`
	InsecureSkipVerify   bool   `toml:"insecure_skip_verify"`
}

type fileREST struct {
	BaseURL        string `toml:"base_url"`
	UserAgent      string `toml:"user_agent"`
	RetryLimit     int    `toml:"retry_limit"`
	RequestTimeout string `toml:"request_timeout"`
}

type fileAdmin struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Name        string   `toml:"name"`
	StatusToken string   `toml:"status_token"`
	CorsOrigins []string `toml:"cors_origins"`
}

type fileLog struct {
	Level string `toml:"level"`
}

func (raw fileConfig) apply(meta toml.MetaData, cfg *Config) error {
	g := raw.Gateway
	sess := &cfg.Gateway.Session

	if meta.IsDefined("gateway", "token") {
		cfg.Gateway.Token = strings.TrimSpace(g.Token)
	}
	if meta.IsDefined("gateway", "url") {
		cfg.Gateway.URL = strings.TrimSpace(g.URL)
	}
	if meta.IsDefined("gateway", "intents") {
		cfg.Gateway.Intents = g.Intents
	}
	if meta.IsDefined("gateway", "shard_id") {
		cfg.Gateway.ShardID = g.ShardID
	}
	if meta.IsDefined("gateway", "shard_count") {
		cfg.Gateway.ShardCount = g.ShardCount
	}
	if meta.IsDefined("gateway", "max_reconnect_attempts") {
		sess.MaxReconnectAttempts = g.MaxReconnectAttempts
	}
	if meta.IsDefined("gateway", "reconnect_jitter") {
		sess.Backoff.Jitter = g.ReconnectJitter
	}
	if meta.IsDefined("gateway", "send_limit") {
		sess.SendLimit = g.SendLimit
	}
	if meta.IsDefined("gateway", "security_mode") {
		sess.SecurityMode = session.SecurityMode(strings.TrimSpace(g.SecurityMode))
	}
	if meta.IsDefined("gateway", "ca_file") {
		sess.TLS.CAFile = strings.TrimSpace(g.CAFile)
	}
	if meta.IsDefined("gateway", "server_name") {
		sess.TLS.ServerName = strings.TrimSpace(g.ServerName)
	}
	if meta.IsDefined("gateway", "insecure_skip_verify") {
		sess.TLS.InsecureSkipVerify = g.InsecureSkipVerify
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", g.ConnectTimeout, &sess.ConnectTimeout},
		{"handshake_timeout", g.HandshakeTimeout, &sess.HandshakeTimeout},
		{"write_timeout", g.WriteTimeout, &sess.WriteTimeout},
		{"invalid_session_delay", g.InvalidSessionDelay, &sess.InvalidSessionDelay},
		{"reconnect_delay", g.ReconnectDelay, &sess.Backoff.InitialDelay},
		{"reconnect_max_delay", g.ReconnectMaxDelay, &sess.Backoff.MaxDelay},
		{"send_window", g.SendWindow, &sess.SendWindow},
	}
	for _, d := range durations {
		if !meta.IsDefined("gateway", d.key) {
			continue
		}
		v, err := parseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%w: gateway.%s: %v", ErrInvalidConfig, d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("rest", "base_url") {
		cfg.REST.BaseURL = strings.TrimRight(strings.TrimSpace(raw.REST.BaseURL), "/")
	}
	if meta.IsDefined("rest", "user_agent") {
		cfg.REST.UserAgent = strings.TrimSpace(raw.REST.UserAgent)
	}
	if meta.IsDefined("rest", "retry_limit") {
		cfg.REST.RetryLimit = raw.REST.RetryLimit
	}
	if meta.IsDefined("rest", "request_timeout") {
		v, err := parseDuration(raw.REST.RequestTimeout)
		if err != nil {
			return fmt.Errorf("%w: rest.request_timeout: %v", ErrInvalidConfig, err)
		}
		cfg.REST.RequestTimeout = v
	}

	if meta.IsDefined("admin", "enabled") {
		cfg.Admin.Enabled = raw.Admin.Enabled
	}
	if meta.IsDefined("admin", "addr") {
		cfg.Admin.Addr = strings.TrimSpace(raw.Admin.Addr)
	}
	if meta.IsDefined("admin", "name") {
		cfg.Admin.Name = strings.TrimSpace(raw.Admin.Name)
	}
	if meta.IsDefined("admin", "status_token") {
		cfg.Admin.StatusToken = strings.TrimSpace(raw.Admin.StatusToken)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CorsOrigins = normalizeList(raw.Admin.CorsOrigins)
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(raw.Log.Level))
	}
	return nil
}

func parseDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", d)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

const redacted = "<redacted>"

// Dump renders the effective configuration as TOML with secrets redacted.
func Dump(cfg Config) ([]byte, error) {
	sess := cfg.Gateway.Session
	out := fileConfig{
		Gateway: fileGateway{
			Token:                redact(cfg.Gateway.Token),
			URL:                  cfg.Gateway.URL,
			Intents:              cfg.Gateway.Intents,
			ShardID:              cfg.Gateway.ShardID,
			ShardCount:           cfg.Gateway.ShardCount,
			ConnectTimeout:       sess.ConnectTimeout.String(),
			HandshakeTimeout:     sess.HandshakeTimeout.String(),
			WriteTimeout:         sess.WriteTimeout.String(),
			InvalidSessionDelay:  sess.InvalidSessionDelay.String(),
			MaxReconnectAttempts: sess.MaxReconnectAttempts,
			ReconnectDelay:       sess.Backoff.InitialDelay.String(),
			ReconnectMaxDelay:    sess.Backoff.MaxDelay.String(),
			ReconnectJitter:      sess.Backoff.Jitter,
			SendLimit:            sess.SendLimit,
			SendWindow:           sess.SendWindow.String(),
			SecurityMode:         string(session.NormalizeSecurityMode(sess.SecurityMode)),
			CAFile:               sess.TLS.CAFile,
			ServerName:           sess.TLS.ServerName,
			InsecureSkipVerify:   sess.TLS.InsecureSkipVerify,
		},
		REST: fileREST{
			BaseURL:        cfg.REST.BaseURL,
			UserAgent:      cfg.REST.UserAgent,
			RetryLimit:     cfg.REST.RetryLimit,
			RequestTimeout: cfg.REST.RequestTimeout.String(),
		},
		Admin: fileAdmin{
			Enabled:     cfg.Admin.Enabled,
			Addr:        cfg.Admin.Addr,
			Name:        cfg.Admin.Name,
			StatusToken: redact(cfg.Admin.StatusToken),
			CorsOrigins: cfg.Admin.CorsOrigins,
		},
		Log: fileLog{Level: cfg.Log.Level},
	}
	data, err := gotoml.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("dump config: %w", err)
	}
	return data, nil
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return redacted
}
