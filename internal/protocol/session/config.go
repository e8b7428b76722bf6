package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig tunes certificate verification for wss endpoints.
type TLSConfig struct {
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Config defines gateway transport/session reliability defaults.
type Config struct {
	ConnectTimeout       time.Duration
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
	InvalidSessionDelay  time.Duration
	MaxReconnectAttempts int
	SendLimit            int
	SendWindow           time.Duration
	ReadLimit            int64
	Backoff              BackoffConfig
	SecurityMode         SecurityMode
	TLS                  TLSConfig
}

// DefaultConfig returns the gateway reliability defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:       10 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		InvalidSessionDelay:  2 * time.Second,
		MaxReconnectAttempts: 10,
		SendLimit:            120,
		SendWindow:           60 * time.Second,
		ReadLimit:            4 * 1024 * 1024,
		Backoff: BackoffConfig{
			InitialDelay: time.Second,
			Multiplier:   2.0,
			MaxDelay:     60 * time.Second,
			Jitter:       true,
		},
		SecurityMode: SecurityModeDevelopment,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
// MaxReconnectAttempts is left alone: zero means unbounded.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.InvalidSessionDelay <= 0 {
		c.InvalidSessionDelay = d.InvalidSessionDelay
	}
	if c.SendLimit <= 0 {
		c.SendLimit = d.SendLimit
	}
	if c.SendWindow <= 0 {
		c.SendWindow = d.SendWindow
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff.InitialDelay = d.Backoff.InitialDelay
	}
	if c.Backoff.Multiplier <= 0 {
		c.Backoff.Multiplier = d.Backoff.Multiplier
	}
	if c.Backoff.MaxDelay <= 0 {
		c.Backoff.MaxDelay = d.Backoff.MaxDelay
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}
