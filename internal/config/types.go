// Package config resolves, reads, validates, and defaults teller configuration.
package config

import (
	"time"

	"github.com/rbright/teller/internal/bankd"
)

// Config is the fully materialized runtime configuration used by teller.
type Config struct {
	Terminal TerminalConfig `mapstructure:"terminal"`
	Session  SessionConfig  `mapstructure:"session"`
	Bank     BankConfig     `mapstructure:"bank"`
	Store    StoreConfig    `mapstructure:"store"`
	Cue      CueConfig      `mapstructure:"cue"`
	Display  DisplayConfig  `mapstructure:"display"`
	Bankd    BankdConfig    `mapstructure:"bankd"`
	Log      LogConfig      `mapstructure:"log"`
}

// TerminalConfig identifies this kiosk.
type TerminalConfig struct {
	ID string `mapstructure:"id"`
	// SimulatedReader accepts `teller insert` as a card reader. Typing a card number on the
	// welcome screen always works.
	SimulatedReader bool   `mapstructure:"simulated_reader"`
	Socket          string `mapstructure:"socket"`
}

// SessionConfig controls the idle timer.
type SessionConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	WarningThreshold  time.Duration `mapstructure:"warning_threshold"`
	ActivityThrottle  time.Duration `mapstructure:"activity_throttle"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// BankConfig controls how the kiosk reaches the bank service.
type BankConfig struct {
	GRPC            string        `mapstructure:"grpc"`
	HealthURL       string        `mapstructure:"health_url"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaintenancePoll time.Duration `mapstructure:"maintenance_poll"`
}

// StoreConfig selects where the session id survives restarts.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// CueConfig controls audio cues.
type CueConfig struct {
	Enable   bool   `mapstructure:"enable"`
	KeyBeep  bool   `mapstructure:"key_beep"`
	Sink     string `mapstructure:"sink"`
	Fallback string `mapstructure:"fallback"`
}

// DisplayConfig controls the operator frame.
type DisplayConfig struct {
	NoColor bool `mapstructure:"no_color"`
	Width   int  `mapstructure:"width"`
}

// BankdConfig configures `teller serve-bank`.
type BankdConfig struct {
	GRPCListen     string               `mapstructure:"grpc_listen"`
	AdminListen    string               `mapstructure:"admin_listen"`
	SessionTTL     time.Duration        `mapstructure:"session_ttl"`
	MaxPINAttempts int                  `mapstructure:"max_pin_attempts"`
	Customers      []bankd.CustomerSeed `mapstructure:"customers"`
}

// LogConfig controls the JSONL runtime log.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Warning is a non-fatal load/validation message. Key is empty when the warning is not about one key.
type Warning struct {
	Key     string
	Message string
}
