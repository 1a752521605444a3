package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Terminal.ID) == "" {
		return nil, fmt.Errorf("terminal.id must not be empty")
	}

	s := cfg.Session
	if s.Timeout <= 0 {
		return nil, fmt.Errorf("session.timeout must be > 0")
	}
	if s.WarningThreshold <= 0 || s.WarningThreshold >= s.Timeout {
		return nil, fmt.Errorf("session.warning_threshold must be > 0 and < session.timeout")
	}
	if s.ActivityThrottle < 0 {
		return nil, fmt.Errorf("session.activity_throttle must be >= 0")
	}
	if s.HeartbeatInterval < 0 {
		return nil, fmt.Errorf("session.heartbeat_interval must be >= 0")
	}

	if strings.TrimSpace(cfg.Bank.GRPC) == "" {
		return nil, fmt.Errorf("bank.grpc must not be empty")
	}
	if cfg.Bank.DialTimeout <= 0 {
		return nil, fmt.Errorf("bank.dial_timeout must be > 0")
	}
	if cfg.Bank.RequestTimeout <= 0 {
		return nil, fmt.Errorf("bank.request_timeout must be > 0")
	}
	if raw := strings.TrimSpace(cfg.Bank.HealthURL); raw == "" {
		warnings = append(warnings, Warning{Key: "bank.health_url", Message: "bank.health_url is empty; the kiosk stays on the maintenance screen until restarted"})
	} else {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("bank.health_url must be an http(s) URL")
		}
		if cfg.Bank.MaintenancePoll <= 0 {
			return nil, fmt.Errorf("bank.maintenance_poll must be > 0")
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Store.Backend)) {
	case "file":
		if cfg.Store.DSN != "" {
			warnings = append(warnings, Warning{Key: "store.dsn", Message: "store.dsn is ignored by the file backend"})
		}
	case "mysql":
		if strings.TrimSpace(cfg.Store.DSN) == "" {
			return nil, fmt.Errorf("store.dsn must not be empty when store.backend=mysql")
		}
		if strings.TrimSpace(cfg.Store.Table) == "" {
			return nil, fmt.Errorf("store.table must not be empty when store.backend=mysql")
		}
	default:
		return nil, fmt.Errorf("store.backend must be one of: file, mysql")
	}

	if cfg.Display.Width < 24 {
		return nil, fmt.Errorf("display.width must be >= 24")
	}

	if cfg.Bankd.MaxPINAttempts <= 0 {
		return nil, fmt.Errorf("bankd.max_pin_attempts must be > 0")
	}
	if cfg.Bankd.SessionTTL <= 0 {
		return nil, fmt.Errorf("bankd.session_ttl must be > 0")
	}
	if cfg.Bankd.SessionTTL < cfg.Session.HeartbeatInterval {
		warnings = append(warnings, Warning{Key: "bankd.session_ttl", Message: "bankd.session_ttl is shorter than session.heartbeat_interval; active sessions may expire between heartbeats"})
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		warnings = append(warnings, Warning{Key: "log.level", Message: fmt.Sprintf("unknown log.level %q; using info", cfg.Log.Level)})
	}

	return warnings, nil
}
