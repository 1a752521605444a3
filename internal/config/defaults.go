package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Terminal: TerminalConfig{
			ID:              "kiosk-1",
			SimulatedReader: true,
		},
		Session: SessionConfig{
			Timeout:           2 * time.Minute,
			WarningThreshold:  30 * time.Second,
			ActivityThrottle:  time.Second,
			HeartbeatInterval: time.Minute,
		},
		Bank: BankConfig{
			GRPC:            "127.0.0.1:50061",
			HealthURL:       "http://127.0.0.1:8061/v1/health/ready",
			DialTimeout:     3 * time.Second,
			RequestTimeout:  10 * time.Second,
			MaintenancePoll: 5 * time.Second,
		},
		Store: StoreConfig{
			Backend: "file",
			Table:   "kiosk_sessions",
		},
		Cue: CueConfig{
			Enable:   true,
			KeyBeep:  true,
			Sink:     "default",
			Fallback: "default",
		},
		Display: DisplayConfig{
			Width: 44,
		},
		Bankd: BankdConfig{
			GRPCListen:     "127.0.0.1:50061",
			AdminListen:    "127.0.0.1:8061",
			SessionTTL:     5 * time.Minute,
			MaxPINAttempts: 3,
		},
		Log: LogConfig{Level: "info"},
	}
}

// setDefaults registers every key so env overrides and unknown-key detection see the full tree.
// bankd.customers has no default; an empty list means the built-in demo customers.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("terminal.id", d.Terminal.ID)
	v.SetDefault("terminal.simulated_reader", d.Terminal.SimulatedReader)
	v.SetDefault("terminal.socket", d.Terminal.Socket)

	v.SetDefault("session.timeout", d.Session.Timeout)
	v.SetDefault("session.warning_threshold", d.Session.WarningThreshold)
	v.SetDefault("session.activity_throttle", d.Session.ActivityThrottle)
	v.SetDefault("session.heartbeat_interval", d.Session.HeartbeatInterval)

	v.SetDefault("bank.grpc", d.Bank.GRPC)
	v.SetDefault("bank.health_url", d.Bank.HealthURL)
	v.SetDefault("bank.dial_timeout", d.Bank.DialTimeout)
	v.SetDefault("bank.request_timeout", d.Bank.RequestTimeout)
	v.SetDefault("bank.maintenance_poll", d.Bank.MaintenancePoll)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.table", d.Store.Table)

	v.SetDefault("cue.enable", d.Cue.Enable)
	v.SetDefault("cue.key_beep", d.Cue.KeyBeep)
	v.SetDefault("cue.sink", d.Cue.Sink)
	v.SetDefault("cue.fallback", d.Cue.Fallback)

	v.SetDefault("display.no_color", d.Display.NoColor)
	v.SetDefault("display.width", d.Display.Width)

	v.SetDefault("bankd.grpc_listen", d.Bankd.GRPCListen)
	v.SetDefault("bankd.admin_listen", d.Bankd.AdminListen)
	v.SetDefault("bankd.session_ttl", d.Bankd.SessionTTL)
	v.SetDefault("bankd.max_pin_attempts", d.Bankd.MaxPINAttempts)

	v.SetDefault("log.level", d.Log.Level)
}
